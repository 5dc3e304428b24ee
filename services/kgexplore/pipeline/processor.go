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
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
)

// Processor routes facade update events into per-run pipelines.
//
// Description:
//
//	The processor owns the run ID to pipeline table. On each facade update
//	it finds or creates the pipeline for the event's run ID, seeding new
//	pipelines from a registry snapshot, and registers the facade as
//	available in it. The table lock covers only the lookup and insert.
//
//	By default pipelines are kept for the life of the process. With
//	WithEvictSettled a pipeline is dropped once every entry has run, and
//	WithMaxRuns bounds the table by dropping the oldest run.
//
// Thread Safety: Safe for concurrent use.
type Processor struct {
	registry  *analysis.Registry
	pool      Pool
	sink      ResultSink
	publisher events.Publisher
	logger    *slog.Logger
	metrics   *schedulerMetrics

	evictSettled bool
	maxRuns      int

	mu        sync.Mutex
	pipelines map[facade.RunID]*Pipeline
	order     []facade.RunID

	subMu sync.Mutex
	bus   events.Subscriber
	subID string
}

// Option configures a Processor.
type Option func(*Processor)

// WithLogger sets the processor logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logging.OrNop(logger)
	}
}

// WithResultSink stores every successful analysis result.
func WithResultSink(sink ResultSink) Option {
	return func(p *Processor) {
		p.sink = sink
	}
}

// WithPublisher publishes analysis completed and failed events.
func WithPublisher(publisher events.Publisher) Option {
	return func(p *Processor) {
		p.publisher = publisher
	}
}

// WithEvictSettled drops a pipeline from the table once it has no pending
// entry and no running task.
func WithEvictSettled(enabled bool) Option {
	return func(p *Processor) {
		p.evictSettled = enabled
	}
}

// WithMaxRuns bounds the pipeline table. When a new run would exceed n, the
// oldest run is dropped. Zero means unbounded.
func WithMaxRuns(n int) Option {
	return func(p *Processor) {
		if n >= 0 {
			p.maxRuns = n
		}
	}
}

// NewProcessor creates a processor over registry, dispatching to pool.
func NewProcessor(registry *analysis.Registry, pool Pool, opts ...Option) (*Processor, error) {
	if registry == nil {
		return nil, fmt.Errorf("%w: registry must not be nil", ErrInvalidInput)
	}
	if pool == nil {
		return nil, fmt.Errorf("%w: pool must not be nil", ErrInvalidInput)
	}

	p := &Processor{
		registry:  registry,
		pool:      pool,
		logger:    logging.Nop(),
		metrics:   &schedulerMetrics{},
		pipelines: make(map[facade.RunID]*Pipeline),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With(slog.String("component", "pipeline_processor"))
	p.metrics.init(p.logger)
	return p, nil
}

// RegisterAnalysisService registers service at start-up.
//
// Description:
//
//	The flags add the corresponding facade requirements; requiredServices
//	names capabilities that must be produced earlier in the same run. The
//	service's own name, plus any roles it reports as a
//	analysis.CapabilityProvider, become its capabilities. Only the registry
//	is affected; running pipelines keep their snapshot.
func (p *Processor) RegisterAnalysisService(
	service analysis.Service,
	requiresQuery, requiresFullText, requiresTraversal bool,
	requiredServices ...string,
) error {
	return p.registry.Register(analysis.Registration{
		Service:           service,
		RequiresQuery:     requiresQuery,
		RequiresFullText:  requiresFullText,
		RequiresTraversal: requiresTraversal,
		RequiredServices:  requiredServices,
	})
}

// Register registers a fully specified analysis.
func (p *Processor) Register(reg analysis.Registration) error {
	return p.registry.Register(reg)
}

// Registry returns the registry backing the processor.
func (p *Processor) Registry() *analysis.Registry {
	return p.registry
}

// Attach subscribes the processor to facade update events on bus. Calling
// Attach again moves the subscription.
func (p *Processor) Attach(bus events.Subscriber) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if p.bus != nil {
		p.bus.Unsubscribe(p.subID)
	}
	p.bus = bus
	p.subID = bus.Subscribe(p.onEvent, events.TypeFacadeUpdated)
}

// Detach removes the bus subscription.
func (p *Processor) Detach() {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if p.bus != nil {
		p.bus.Unsubscribe(p.subID)
		p.bus = nil
		p.subID = ""
	}
}

func (p *Processor) onEvent(ctx context.Context, e *events.Event) {
	ev, ok := e.Data.(facade.StatusChangeEvent)
	if !ok {
		p.logger.Warn("ignoring facade event with unexpected payload",
			slog.String("event_id", e.ID),
			slog.String("payload_type", fmt.Sprintf("%T", e.Data)),
		)
		return
	}
	p.HandleFacadeUpdated(ctx, ev)
}

// HandleFacadeUpdated schedules the analyses unblocked by ev. Events that
// are not transitions into Ready are ignored.
//
// Outputs:
//
//	[]string - Names of analyses dispatched directly by this event.
func (p *Processor) HandleFacadeUpdated(ctx context.Context, ev facade.StatusChangeEvent) []string {
	if !ev.IsUpdate() {
		return nil
	}
	if ev.RunID == "" {
		p.logger.Warn("ignoring facade update without run id", slog.String("facade", string(ev.Facade)))
		return nil
	}

	pl, created, err := p.pipelineFor(ctx, ev.RunID)
	if err != nil {
		p.logger.Error("failed to create pipeline",
			slog.String("run_id", string(ev.RunID)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if created {
		p.logger.Info("pipeline created",
			slog.String("run_id", string(ev.RunID)),
			slog.String("trigger", string(ev.Facade)),
			slog.Int("entries", len(pl.Pending())),
		)
	}
	return pl.RegisterAvailability(ctx, analysis.FacadeRequirement(ev.Facade))
}

// pipelineFor returns the pipeline for runID, creating it atomically if
// needed.
func (p *Processor) pipelineFor(ctx context.Context, runID facade.RunID) (*Pipeline, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pl, ok := p.pipelines[runID]; ok {
		return pl, false, nil
	}

	hooks := Hooks{
		Sink:      p.sink,
		Publisher: p.publisher,
		Logger:    p.logger,
		metrics:   p.metrics,
	}
	if p.evictSettled {
		hooks.OnSettled = func(id facade.RunID) { p.Evict(id) }
	}

	pl, err := New(runID, p.registry.Snapshot(), p.pool, hooks)
	if err != nil {
		return nil, false, err
	}
	p.pipelines[runID] = pl
	p.order = append(p.order, runID)
	p.metrics.pipelineCreated(ctx)

	if p.maxRuns > 0 {
		for len(p.order) > p.maxRuns {
			oldest := p.order[0]
			p.order = p.order[1:]
			delete(p.pipelines, oldest)
			p.logger.Debug("pipeline dropped from bounded table", slog.String("run_id", string(oldest)))
		}
	}
	return pl, true, nil
}

// Pipeline returns the pipeline for runID.
func (p *Processor) Pipeline(runID facade.RunID) (*Pipeline, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.pipelines[runID]
	return pl, ok
}

// Runs returns the status of every tracked pipeline, oldest first.
func (p *Processor) Runs() []Status {
	p.mu.Lock()
	pls := make([]*Pipeline, 0, len(p.order))
	for _, id := range p.order {
		pls = append(pls, p.pipelines[id])
	}
	p.mu.Unlock()

	out := make([]Status, 0, len(pls))
	for _, pl := range pls {
		out = append(out, pl.Status())
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Evict removes runID from the table. In-flight tasks of an evicted
// pipeline still run and cascade within it.
func (p *Processor) Evict(runID facade.RunID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.pipelines[runID]; !ok {
		return false
	}
	delete(p.pipelines, runID)
	for i, id := range p.order {
		if id == runID {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	p.logger.Debug("pipeline evicted", slog.String("run_id", string(runID)))
	return true
}

// Len returns the number of tracked pipelines.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pipelines)
}
