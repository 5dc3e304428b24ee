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
	"time"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
	"github.com/AleutianAI/kgexplore/services/kgexplore/pipeline"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/fulltext"
)

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// ReadyResponse is the response for GET /ready.
type ReadyResponse struct {
	Ready   bool            `json:"ready"`
	Facades []FacadeSummary `json:"facades"`
}

// FacadeSummary is one facade in /facades and /ready.
type FacadeSummary struct {
	ID        facade.ID     `json:"id"`
	Status    facade.Status `json:"status"`
	LastRunID facade.RunID  `json:"last_run_id,omitempty"`
}

// FacadesResponse is the response for GET /facades.
type FacadesResponse struct {
	Facades []FacadeSummary `json:"facades"`
}

// ServiceSummary describes one registered analysis service.
type ServiceSummary struct {
	Name         string                 `json:"name"`
	Requirements []analysis.Requirement `json:"requirements"`
	Capabilities []analysis.Requirement `json:"capabilities"`
}

// ServicesResponse is the response for GET /services.
type ServicesResponse struct {
	Services      []ServiceSummary                  `json:"services"`
	Disabled      []string                          `json:"disabled,omitempty"`
	Unsatisfiable map[string][]analysis.Requirement `json:"unsatisfiable,omitempty"`
}

// RunsResponse is the response for GET /runs.
type RunsResponse struct {
	Runs []pipeline.Status `json:"runs"`
}

// RefreshResponse is the response for POST /refresh.
type RefreshResponse struct {
	RunID  facade.RunID  `json:"run_id"`
	Status facade.Status `json:"status"`
}

// SearchResponse is the response for GET /search.
type SearchResponse struct {
	Query string         `json:"query"`
	Hits  []fulltext.Hit `json:"hits"`
}

// EventsResponse is the response for GET /events.
type EventsResponse struct {
	Events []events.Event `json:"events"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable message.
	Error string `json:"error"`

	// Code is the error code (optional).
	Code string `json:"code,omitempty"`

	// RequestID correlates the response with logs.
	RequestID string `json:"request_id,omitempty"`

	Time time.Time `json:"time"`
}
