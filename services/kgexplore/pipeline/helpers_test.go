// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
)

// countingService counts Compute calls and optionally fails.
type countingService struct {
	name  string
	caps  []analysis.Requirement
	calls atomic.Int32
	fail  atomic.Bool
	order *callLog
}

func newCounting(name string, log *callLog, caps ...analysis.Requirement) *countingService {
	return &countingService{name: name, caps: caps, order: log}
}

func (s *countingService) Name() string                         { return s.name }
func (s *countingService) Capabilities() []analysis.Requirement { return s.caps }

func (s *countingService) Compute(ctx context.Context) (analysis.Result, error) {
	s.calls.Add(1)
	if s.order != nil {
		s.order.add(s.name)
	}
	if s.fail.Load() {
		return analysis.Result{}, errComputeFailed
	}
	return analysis.Result{Items: 1, Value: s.name}, nil
}

type computeError string

func (e computeError) Error() string { return string(e) }

const errComputeFailed = computeError("synthetic compute failure")

// callLog records compute order across goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// memorySink is a ResultSink that keeps results in memory.
type memorySink struct {
	mu      sync.Mutex
	results map[string]analysis.Result
	runs    map[string]facade.RunID
}

func newMemorySink() *memorySink {
	return &memorySink{results: map[string]analysis.Result{}, runs: map[string]facade.RunID{}}
}

func (s *memorySink) StoreResult(ctx context.Context, runID facade.RunID, service string, result analysis.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[service] = result
	s.runs[service] = runID
	return nil
}

func (s *memorySink) get(service string) (analysis.Result, facade.RunID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[service]
	return r, s.runs[service], ok
}

func updateEvent(id facade.ID, runID facade.RunID) facade.StatusChangeEvent {
	return facade.StatusChangeEvent{
		Facade:    id,
		Previous:  facade.Updating(),
		Current:   facade.Ready(),
		RunID:     runID,
		Timestamp: time.Now(),
	}
}

// withTimeout fails the test if fn does not return within d.
func withTimeout(t *testing.T, d time.Duration, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		fn()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("operation did not finish within %v (possible deadlock)", d)
	}
}
