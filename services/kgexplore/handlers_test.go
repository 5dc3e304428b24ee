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
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analytics"
	"github.com/AleutianAI/kgexplore/services/kgexplore/config"
	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
	"github.com/AleutianAI/kgexplore/services/kgexplore/pipeline"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/results"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupTestRouter(svc *Service) *gin.Engine {
	router := gin.New()
	RegisterRoutes(router.Group("/v1"), NewHandlers(svc))
	return router
}

func do(t *testing.T, router http.Handler, method, path string, out any) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if out != nil {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out), w.Body.String())
	}
	return w
}

func startedService(t *testing.T) *Service {
	t.Helper()
	svc := newTestService(t, testConfig(t, writeZoo(t)))
	require.NoError(t, svc.Start(context.Background()))
	svc.Quiesce()
	return svc
}

func TestHandlers_HandleHealth(t *testing.T) {
	router := setupTestRouter(newTestService(t, testConfig(t, writeZoo(t))))

	var resp HealthResponse
	w := do(t, router, http.MethodGet, "/v1/explore/health", &resp)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, ServiceVersion, resp.Version)
}

func TestHandlers_HandleReady(t *testing.T) {
	t.Run("not loaded", func(t *testing.T) {
		router := setupTestRouter(newTestService(t, testConfig(t, writeZoo(t))))

		var resp ReadyResponse
		w := do(t, router, http.MethodGet, "/v1/explore/ready", &resp)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, readyRetryAfter, w.Header().Get("Retry-After"))
		assert.False(t, resp.Ready)
		require.Len(t, resp.Facades, 3)
		assert.Equal(t, facade.StateInitial, resp.Facades[0].Status.State)
	})

	t.Run("loaded", func(t *testing.T) {
		router := setupTestRouter(startedService(t))

		var resp ReadyResponse
		w := do(t, router, http.MethodGet, "/v1/explore/ready", &resp)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.True(t, resp.Ready)
	})
}

func TestHandlers_HandleFacades(t *testing.T) {
	svc := startedService(t)
	router := setupTestRouter(svc)

	var resp FacadesResponse
	w := do(t, router, http.MethodGet, "/v1/explore/facades", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, resp.Facades, 3)

	q, _ := svc.Facade(facade.Query)
	for i, id := range facade.IDs() {
		assert.Equal(t, id, resp.Facades[i].ID)
		assert.Equal(t, facade.StateReady, resp.Facades[i].Status.State)
		assert.Equal(t, q.LastRunID(), resp.Facades[i].LastRunID)
	}
}

func TestHandlers_HandleServices(t *testing.T) {
	cfg := testConfig(t, writeZoo(t))
	cfg.Analyses = map[string]config.AnalysisConfig{analytics.NameClustering: {Disabled: true}}
	router := setupTestRouter(newTestService(t, cfg))

	var resp ServicesResponse
	w := do(t, router, http.MethodGet, "/v1/explore/services", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Services, 5)
	assert.Equal(t, []string{analytics.NameClustering}, resp.Disabled)
	assert.Empty(t, resp.Unsatisfiable)

	byName := make(map[string]ServiceSummary)
	for _, s := range resp.Services {
		byName[s.Name] = s
	}
	assert.Contains(t, byName[analytics.NamePageRank].Requirements, analytics.CapResourceSource)
	assert.Contains(t, byName[analytics.NameResources].Capabilities, analytics.CapResourceSource)
}

func TestHandlers_HandleRuns(t *testing.T) {
	svc := startedService(t)
	router := setupTestRouter(svc)

	var list RunsResponse
	w := do(t, router, http.MethodGet, "/v1/explore/runs", &list)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, list.Runs, 1)
	runID := list.Runs[0].RunID

	var one pipeline.Status
	w = do(t, router, http.MethodGet, "/v1/explore/runs/"+string(runID), &one)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, runID, one.RunID)
	assert.Len(t, one.Completed, 6)

	var errResp ErrorResponse
	w = do(t, router, http.MethodGet, "/v1/explore/runs/nope", &errResp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "RUN_NOT_FOUND", errResp.Code)
	assert.NotEmpty(t, errResp.RequestID)
}

func TestHandlers_HandleResult(t *testing.T) {
	svc := startedService(t)
	router := setupTestRouter(svc)

	var rec results.Record
	w := do(t, router, http.MethodGet, "/v1/explore/results/"+analytics.NameLCS, &rec)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, analytics.NameLCS, rec.Service)
	assert.NotEmpty(t, rec.Value)

	var errResp ErrorResponse
	w = do(t, router, http.MethodGet, "/v1/explore/results/unknown", &errResp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "SERVICE_NOT_FOUND", errResp.Code)
}

func TestHandlers_HandleResult_NotComputed(t *testing.T) {
	router := setupTestRouter(newTestService(t, testConfig(t, writeZoo(t))))

	var errResp ErrorResponse
	w := do(t, router, http.MethodGet, "/v1/explore/results/"+analytics.NameResources, &errResp)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NO_RESULT", errResp.Code)
}

func TestHandlers_HandleRefresh(t *testing.T) {
	cfg := testConfig(t, writeZoo(t))
	cfg.Server.RefreshRate = 0.001
	cfg.Server.RefreshBurst = 1
	svc := newTestService(t, cfg)
	router := setupTestRouter(svc)

	var resp RefreshResponse
	w := do(t, router, http.MethodPost, "/v1/explore/refresh", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, resp.RunID)
	assert.Equal(t, facade.StateReady, resp.Status.State)
	svc.Quiesce()

	_, ok := svc.Processor().Pipeline(resp.RunID)
	assert.True(t, ok)

	var errResp ErrorResponse
	w = do(t, router, http.MethodPost, "/v1/explore/refresh", &errResp)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errResp.Code)
}

func TestHandlers_HandleRefresh_ClientGone(t *testing.T) {
	svc := newTestService(t, testConfig(t, writeZoo(t)))
	router := setupTestRouter(svc)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/v1/explore/refresh", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp RefreshResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, facade.StateReady, resp.Status.State, "the load finishes without the request")
	assert.Positive(t, svc.Triples().Count())
}

func TestHandlers_HandleRefresh_LoadFailure(t *testing.T) {
	router := setupTestRouter(newTestService(t, testConfig(t, filepath.Join(t.TempDir(), "missing"))))

	var resp RefreshResponse
	w := do(t, router, http.MethodPost, "/v1/explore/refresh", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, facade.StateFailed, resp.Status.State)
}

func TestHandlers_HandleSearch(t *testing.T) {
	t.Run("not ready", func(t *testing.T) {
		router := setupTestRouter(newTestService(t, testConfig(t, writeZoo(t))))
		var errResp ErrorResponse
		w := do(t, router, http.MethodGet, "/v1/explore/search?q=dog", &errResp)
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, "FACADE_NOT_READY", errResp.Code)
	})

	router := setupTestRouter(startedService(t))

	var resp SearchResponse
	w := do(t, router, http.MethodGet, "/v1/explore/search?q=dog&limit=5", &resp)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, resp.Hits)
	ids := make([]string, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		ids = append(ids, h.ID)
	}
	assert.Contains(t, ids, "http://ex.org/Dog")

	tests := []struct {
		name string
		path string
		code string
	}{
		{"empty query", "/v1/explore/search?q=", "INVALID_QUERY"},
		{"bad limit", "/v1/explore/search?q=dog&limit=x", "INVALID_LIMIT"},
		{"limit too large", "/v1/explore/search?q=dog&limit=1000", "INVALID_LIMIT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var errResp ErrorResponse
			w := do(t, router, http.MethodGet, tt.path, &errResp)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errResp.Code)
		})
	}
}

func TestHandlers_HandleEvents(t *testing.T) {
	router := setupTestRouter(startedService(t))

	var all EventsResponse
	w := do(t, router, http.MethodGet, "/v1/explore/events", &all)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, all.Events)

	var updated EventsResponse
	do(t, router, http.MethodGet, "/v1/explore/events?type="+string(events.TypeFacadeUpdated), &updated)
	assert.Len(t, updated.Events, 3)
	for _, e := range updated.Events {
		assert.Equal(t, events.TypeFacadeUpdated, e.Type)
	}
}

func TestGetOrCreateRequestID(t *testing.T) {
	router := setupTestRouter(newTestService(t, testConfig(t, writeZoo(t))))

	req := httptest.NewRequest(http.MethodGet, "/v1/explore/runs/missing", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var errResp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &errResp))
	assert.Equal(t, "req-123", errResp.RequestID)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
}

func TestNewRouter_Metrics(t *testing.T) {
	router := NewRouter(newTestService(t, testConfig(t, writeZoo(t))))

	w := do(t, router, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/v1/explore/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))
}
