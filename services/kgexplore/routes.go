// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package kgexplore

import (
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/AleutianAI/kgexplore/services/kgexplore/telemetry"
)

// RegisterRoutes registers all explorer routes with the router.
//
// Description:
//
//	Registers all /v1/explore/* endpoints with the given Gin router group.
//	The router group should already have any required middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Status Endpoints:
//
//	GET  /v1/explore/health - Liveness
//	GET  /v1/explore/ready - 200 when every facade is Ready, else 503
//	GET  /v1/explore/facades - Facade statuses
//	GET  /v1/explore/services - Registered analysis services
//	GET  /v1/explore/events - Recent bus events, optionally by type
//
// Scheduler Endpoints:
//
//	GET  /v1/explore/runs - Tracked pipelines, oldest first
//	GET  /v1/explore/runs/:run_id - One pipeline
//	GET  /v1/explore/results/:service - Latest stored result of a service
//	POST /v1/explore/refresh - Reload the data directory (rate limited)
//
// Search Endpoints:
//
//	GET  /v1/explore/search?q=&limit= - Full-text search over labels
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	explore := rg.Group("/explore")
	{
		explore.GET("/health", handlers.HandleHealth)
		explore.GET("/ready", handlers.HandleReady)
		explore.GET("/facades", handlers.HandleFacades)
		explore.GET("/services", handlers.HandleServices)
		explore.GET("/events", handlers.HandleEvents)

		explore.GET("/runs", handlers.HandleRuns)
		explore.GET("/runs/:run_id", handlers.HandleRun)
		explore.GET("/results/:service", handlers.HandleResult)
		explore.POST("/refresh", handlers.HandleRefresh)

		explore.GET("/search", handlers.HandleSearch)
	}
}

// NewRouter builds the gin engine with recovery, tracing, request logging,
// the explorer routes, and /metrics.
func NewRouter(svc *Service) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(svc.Config().Telemetry.ServiceName))
	router.Use(requestLogger(svc.logger))

	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}

// requestLogger logs each request at debug level with its request ID.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id := getOrCreateRequestID(c)
		c.Next()
		logger.Debug("http request",
			slog.String("request_id", id),
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
