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
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/fulltext"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/results"
)

const (
	defaultSearchLimit = 10
	maxSearchLimit     = 100
	readyRetryAfter    = "5"
)

// Handlers contains the HTTP handlers for the explorer.
type Handlers struct {
	svc     *Service
	refresh *rate.Limiter
	logger  *slog.Logger
}

// NewHandlers creates handlers for svc. Refreshes are limited to the
// configured rate and burst.
func NewHandlers(svc *Service) *Handlers {
	srv := svc.Config().Server
	limit := rate.Inf
	if srv.RefreshRate > 0 {
		limit = rate.Limit(srv.RefreshRate)
	}
	burst := srv.RefreshBurst
	if burst < 1 {
		burst = 1
	}
	return &Handlers{
		svc:     svc,
		refresh: rate.NewLimiter(limit, burst),
		logger:  svc.logger.With(slog.String("component", "http")),
	}
}

// HandleHealth handles GET /v1/explore/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: ServiceVersion,
		Uptime:  h.svc.Uptime().Round(time.Second).String(),
	})
}

// HandleReady handles GET /v1/explore/ready.
//
// Returns 200 when every facade is Ready and 503 with Retry-After otherwise.
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{Ready: h.svc.Ready(), Facades: h.facades()}
	if !resp.Ready {
		c.Header("Retry-After", readyRetryAfter)
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// HandleFacades handles GET /v1/explore/facades.
func (h *Handlers) HandleFacades(c *gin.Context) {
	c.JSON(http.StatusOK, FacadesResponse{Facades: h.facades()})
}

func (h *Handlers) facades() []FacadeSummary {
	fs := h.svc.Facades()
	out := make([]FacadeSummary, 0, len(fs))
	for _, f := range fs {
		out = append(out, FacadeSummary{ID: f.ID(), Status: f.Status(), LastRunID: f.LastRunID()})
	}
	return out
}

// HandleServices handles GET /v1/explore/services.
func (h *Handlers) HandleServices(c *gin.Context) {
	reg := h.svc.Registry()
	snap := reg.Snapshot()
	resp := ServicesResponse{
		Services:      make([]ServiceSummary, 0, len(snap)),
		Unsatisfiable: reg.Unsatisfiable(),
	}
	for _, r := range snap {
		resp.Services = append(resp.Services, ServiceSummary{
			Name:         r.Descriptor.Name,
			Requirements: r.Descriptor.Requirements(),
			Capabilities: r.Descriptor.Capabilities,
		})
	}
	for name := range h.svc.Config().Disabled() {
		resp.Disabled = append(resp.Disabled, name)
	}
	slices.Sort(resp.Disabled)
	c.JSON(http.StatusOK, resp)
}

// HandleRuns handles GET /v1/explore/runs.
func (h *Handlers) HandleRuns(c *gin.Context) {
	c.JSON(http.StatusOK, RunsResponse{Runs: h.svc.Processor().Runs()})
}

// HandleRun handles GET /v1/explore/runs/:run_id.
func (h *Handlers) HandleRun(c *gin.Context) {
	runID := facade.RunID(c.Param("run_id"))
	pl, ok := h.svc.Processor().Pipeline(runID)
	if !ok {
		h.fail(c, http.StatusNotFound, "RUN_NOT_FOUND", ErrUnknownRun.Error()+": "+string(runID))
		return
	}
	c.JSON(http.StatusOK, pl.Status())
}

// HandleResult handles GET /v1/explore/results/:service.
func (h *Handlers) HandleResult(c *gin.Context) {
	service := c.Param("service")
	rec, err := h.svc.Result(c.Request.Context(), service)
	switch {
	case errors.Is(err, ErrUnknownService):
		h.fail(c, http.StatusNotFound, "SERVICE_NOT_FOUND", err.Error())
	case errors.Is(err, results.ErrNotFound):
		h.fail(c, http.StatusNotFound, "NO_RESULT", err.Error())
	case err != nil:
		h.logger.Error("result lookup failed", slog.String("service", service), slog.String("error", err.Error()))
		h.fail(c, http.StatusInternalServerError, "INTERNAL_ERROR", "result lookup failed")
	default:
		c.JSON(http.StatusOK, rec)
	}
}

// HandleRefresh handles POST /v1/explore/refresh.
//
// Reloads the data directory under a new run ID. A failed load is still
// reported with 200 and the Failed status; it is not an HTTP error.
func (h *Handlers) HandleRefresh(c *gin.Context) {
	if !h.refresh.Allow() {
		c.Header("Retry-After", "1")
		h.fail(c, http.StatusTooManyRequests, "RATE_LIMITED", "refresh rate exceeded")
		return
	}

	// a client hanging up must not abort a load half way
	runID, err := h.svc.Reload(context.WithoutCancel(c.Request.Context()))
	f, _ := h.svc.Facade(facade.Query)
	if err != nil {
		h.logger.Warn("refresh failed",
			slog.String("request_id", getOrCreateRequestID(c)),
			slog.String("run_id", string(runID)),
			slog.String("error", err.Error()))
	}
	c.JSON(http.StatusOK, RefreshResponse{RunID: runID, Status: f.Status()})
}

// HandleSearch handles GET /v1/explore/search?q=&limit=.
func (h *Handlers) HandleSearch(c *gin.Context) {
	f, _ := h.svc.Facade(facade.FullText)
	if f.Status().State != facade.StateReady {
		c.Header("Retry-After", readyRetryAfter)
		h.fail(c, http.StatusServiceUnavailable, "FACADE_NOT_READY", "full-text facade is "+f.Status().String())
		return
	}

	limit := defaultSearchLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSearchLimit {
			h.fail(c, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and "+strconv.Itoa(maxSearchLimit))
			return
		}
		limit = n
	}

	q := c.Query("q")
	hits, err := h.svc.Index().Search(c.Request.Context(), q, limit)
	switch {
	case errors.Is(err, fulltext.ErrEmptyQuery):
		h.fail(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
	case err != nil:
		h.logger.Error("search failed", slog.String("error", err.Error()))
		h.fail(c, http.StatusBadGateway, "SEARCH_FAILED", "search failed")
	default:
		c.JSON(http.StatusOK, SearchResponse{Query: q, Hits: hits})
	}
}

// HandleEvents handles GET /v1/explore/events?type=.
func (h *Handlers) HandleEvents(c *gin.Context) {
	bus := h.svc.Bus()
	if t := c.Query("type"); t != "" {
		c.JSON(http.StatusOK, EventsResponse{Events: bus.RecentByType(events.Type(t))})
		return
	}
	c.JSON(http.StatusOK, EventsResponse{Events: bus.Recent()})
}

func (h *Handlers) fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: getOrCreateRequestID(c),
		Time:      time.Now().UTC(),
	})
}

// getOrCreateRequestID returns the X-Request-ID header or a new UUID. The
// ID is echoed back in the response header.
func getOrCreateRequestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		return id.(string)
	}
	id := c.GetHeader(requestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	c.Header(requestIDHeader, id)
	return id
}

const (
	requestIDHeader = "X-Request-ID"
	requestIDKey    = "request_id"
)
