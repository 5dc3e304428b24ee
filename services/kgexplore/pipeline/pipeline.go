// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline schedules analysis services as facades become ready.
//
// A Pipeline is one scheduling run, keyed by the run ID of the event that
// started it. It holds every enabled analysis with the requirements it is
// still waiting for. Each RegisterAvailability call clears requirements,
// and analyses left with none are dispatched to the worker pool. A
// successful analysis registers its own capabilities back into the same
// pipeline, which can unblock further analyses. The Processor owns the
// pipelines and feeds them from facade events.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
)

// Sentinel errors for the pipeline package.
var (
	// ErrInvalidInput is returned when a required argument is nil.
	ErrInvalidInput = errors.New("invalid input")

	// ErrComputePanic marks an analysis whose compute panicked.
	ErrComputePanic = errors.New("analysis compute panicked")
)

// ResultSink receives the result of every successful analysis.
type ResultSink interface {
	StoreResult(ctx context.Context, runID facade.RunID, service string, result analysis.Result) error
}

// AnalysisEvent is the payload of analysis completed and failed events.
type AnalysisEvent struct {
	RunID    facade.RunID  `json:"run_id"`
	Service  string        `json:"service"`
	Duration time.Duration `json:"duration"`
	Items    int           `json:"items,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// Hooks are the optional collaborators of a Pipeline.
type Hooks struct {
	// Sink stores successful results.
	Sink ResultSink

	// Publisher receives analysis completed and failed events.
	Publisher events.Publisher

	// Logger defaults to a discarding logger.
	Logger *slog.Logger

	// OnSettled is called when no entry is pending and no task is running.
	// It may be called more than once.
	OnSettled func(runID facade.RunID)

	metrics *schedulerMetrics
}

// =============================================================================
// Entry
// =============================================================================

// entry is one analysis within a run: a private copy of its descriptor and
// the requirements not yet seen in this run.
type entry struct {
	desc        analysis.Descriptor
	service     analysis.Service
	outstanding map[analysis.Requirement]struct{}
}

func newEntry(r analysis.Registered) *entry {
	desc := r.Descriptor.Clone()
	reqs := desc.Requirements()
	outstanding := make(map[analysis.Requirement]struct{}, len(reqs))
	for _, req := range reqs {
		outstanding[req] = struct{}{}
	}
	return &entry{desc: desc, service: r.Service, outstanding: outstanding}
}

func (e *entry) pending() []analysis.Requirement {
	out := make([]analysis.Requirement, 0, len(e.outstanding))
	for req := range e.outstanding {
		out = append(out, req)
	}
	slices.Sort(out)
	return out
}

// =============================================================================
// Pipeline
// =============================================================================

// Pipeline is one scheduling run.
//
// Description:
//
//	The entry list is guarded by mu, which is held only while requirement
//	sets are updated and entries partitioned. Ready entries are removed
//	under the lock and submitted after it is released, so a task that
//	completes synchronously can cascade back into RegisterAvailability
//	without deadlocking. An entry leaves the list exactly once, so it is
//	dispatched at most once per run.
//
// Thread Safety: Safe for concurrent use.
type Pipeline struct {
	runID     facade.RunID
	createdAt time.Time
	pool      Pool
	hooks     Hooks
	logger    *slog.Logger
	metrics   *schedulerMetrics

	mu         sync.Mutex
	entries    []*entry
	available  map[analysis.Requirement]struct{}
	dispatched []string
	completed  []string
	failed     map[string]string
	inFlight   int
}

// New builds a pipeline from a registry snapshot. Nothing is dispatched
// until RegisterAvailability is called.
func New(runID facade.RunID, entries []analysis.Registered, pool Pool, hooks Hooks) (*Pipeline, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: pool must not be nil", ErrInvalidInput)
	}

	logger := logging.OrNop(hooks.Logger).With(slog.String("run_id", string(runID)))
	m := hooks.metrics
	if m == nil {
		m = &schedulerMetrics{}
	}
	m.init(logger)

	p := &Pipeline{
		runID:     runID,
		createdAt: time.Now(),
		pool:      pool,
		hooks:     hooks,
		logger:    logger,
		metrics:   m,
		entries:   make([]*entry, 0, len(entries)),
		available: make(map[analysis.Requirement]struct{}),
		failed:    make(map[string]string),
	}
	for _, r := range entries {
		p.entries = append(p.entries, newEntry(r))
	}
	return p, nil
}

// RunID returns the run this pipeline schedules.
func (p *Pipeline) RunID() facade.RunID {
	return p.runID
}

// RegisterAvailability records that reqs are available in this run and
// dispatches every entry whose requirements are now all satisfied.
//
// Outputs:
//
//	[]string - Names of the entries dispatched by this call.
func (p *Pipeline) RegisterAvailability(ctx context.Context, reqs ...analysis.Requirement) []string {
	ctx, span := tracer.Start(ctx, "pipeline.RegisterAvailability",
		trace.WithAttributes(
			attribute.String("run_id", string(p.runID)),
			attribute.Int("requirements", len(reqs)),
		),
	)
	defer span.End()

	p.mu.Lock()
	for _, req := range reqs {
		p.available[req] = struct{}{}
	}
	blocked := make([]*entry, 0, len(p.entries))
	var ready []*entry
	for _, e := range p.entries {
		for _, req := range reqs {
			delete(e.outstanding, req)
		}
		if len(e.outstanding) == 0 {
			ready = append(ready, e)
		} else {
			blocked = append(blocked, e)
		}
	}
	p.entries = blocked
	names := make([]string, 0, len(ready))
	for _, e := range ready {
		names = append(names, e.desc.Name)
	}
	p.dispatched = append(p.dispatched, names...)
	p.inFlight += len(ready)
	settled := len(p.entries) == 0 && p.inFlight == 0
	p.mu.Unlock()

	span.SetAttributes(attribute.Int("dispatched", len(ready)))

	taskCtx := context.WithoutCancel(ctx)
	for _, e := range ready {
		p.logger.Debug("dispatching analysis", slog.String("service", e.desc.Name))
		p.metrics.analysisDispatched(ctx, e.desc.Name)
		p.pool.Submit(func() { p.run(taskCtx, e) })
	}

	if settled {
		p.settle()
	}
	return names
}

// run computes one entry and cascades its capabilities on success.
func (p *Pipeline) run(ctx context.Context, e *entry) {
	name := e.desc.Name
	ctx, span := tracer.Start(ctx, "analysis.Compute",
		trace.WithAttributes(
			attribute.String("service", name),
			attribute.String("run_id", string(p.runID)),
		),
	)
	defer span.End()

	p.metrics.analysisStarted(ctx, name)
	start := time.Now()
	result, err := safeCompute(ctx, e.service)
	elapsed := time.Since(start)
	p.metrics.analysisFinished(ctx, name, elapsed, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error("analysis failed",
			slog.String("service", name),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		p.publish(ctx, events.TypeAnalysisFailed, AnalysisEvent{
			RunID: p.runID, Service: name, Duration: elapsed, Error: err.Error(),
		})
		p.finish(name, err)
		return
	}

	span.SetStatus(codes.Ok, "")
	result.ComputedAt = time.Now()
	if p.hooks.Sink != nil {
		if serr := p.hooks.Sink.StoreResult(ctx, p.runID, name, result); serr != nil {
			p.logger.Warn("failed to store analysis result",
				slog.String("service", name),
				slog.String("error", serr.Error()),
			)
		}
	}

	p.logger.Info("analysis completed",
		slog.String("service", name),
		slog.Duration("duration", elapsed),
		slog.Int("items", result.Items),
	)
	p.publish(ctx, events.TypeAnalysisCompleted, AnalysisEvent{
		RunID: p.runID, Service: name, Duration: elapsed, Items: result.Items,
	})

	p.RegisterAvailability(ctx, e.desc.Capabilities...)
	p.finish(name, nil)
}

func safeCompute(ctx context.Context, s analysis.Service) (result analysis.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrComputePanic, r)
		}
	}()
	return s.Compute(ctx)
}

func (p *Pipeline) finish(name string, err error) {
	p.mu.Lock()
	p.inFlight--
	if err != nil {
		p.failed[name] = err.Error()
	} else {
		p.completed = append(p.completed, name)
	}
	settled := len(p.entries) == 0 && p.inFlight == 0
	p.mu.Unlock()

	if settled {
		p.settle()
	}
}

func (p *Pipeline) settle() {
	if p.hooks.OnSettled != nil {
		p.hooks.OnSettled(p.runID)
	}
}

func (p *Pipeline) publish(ctx context.Context, t events.Type, ev AnalysisEvent) {
	if p.hooks.Publisher != nil {
		p.hooks.Publisher.Publish(ctx, t, ev)
	}
}

// =============================================================================
// Inspection
// =============================================================================

// PendingEntry is an entry still waiting in a pipeline.
type PendingEntry struct {
	Service     string                 `json:"service"`
	Outstanding []analysis.Requirement `json:"outstanding"`
}

// Status is a point-in-time view of a pipeline.
type Status struct {
	RunID      facade.RunID           `json:"run_id"`
	CreatedAt  time.Time              `json:"created_at"`
	Available  []analysis.Requirement `json:"available"`
	Pending    []PendingEntry         `json:"pending"`
	Dispatched []string               `json:"dispatched"`
	Completed  []string               `json:"completed"`
	Failed     map[string]string      `json:"failed"`
	Running    int                    `json:"running"`
}

// Status returns a copy of the pipeline state.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	available := make([]analysis.Requirement, 0, len(p.available))
	for req := range p.available {
		available = append(available, req)
	}
	slices.Sort(available)

	pending := make([]PendingEntry, 0, len(p.entries))
	for _, e := range p.entries {
		pending = append(pending, PendingEntry{Service: e.desc.Name, Outstanding: e.pending()})
	}

	failed := make(map[string]string, len(p.failed))
	for k, v := range p.failed {
		failed[k] = v
	}

	return Status{
		RunID:      p.runID,
		CreatedAt:  p.createdAt,
		Available:  available,
		Pending:    pending,
		Dispatched: slices.Clone(p.dispatched),
		Completed:  slices.Clone(p.completed),
		Failed:     failed,
		Running:    p.inFlight,
	}
}

// Pending returns the names of entries not yet dispatched.
func (p *Pipeline) Pending() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		out = append(out, e.desc.Name)
	}
	return out
}

// Dispatched returns the names of dispatched entries in dispatch order.
func (p *Pipeline) Dispatched() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.dispatched)
}

// Drained reports whether every entry has been dispatched.
func (p *Pipeline) Drained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) == 0
}

// Settled reports whether the pipeline is drained and has no running task.
func (p *Pipeline) Settled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries) == 0 && p.inFlight == 0
}
