// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package kgexplore wires the facades, the analysis scheduler, and the
// built-in analyses into one service with an HTTP surface.
package kgexplore

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/analytics"
	"github.com/AleutianAI/kgexplore/services/kgexplore/config"
	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
	"github.com/AleutianAI/kgexplore/services/kgexplore/pipeline"
	kgbadger "github.com/AleutianAI/kgexplore/services/kgexplore/storage/badger"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/fulltext"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/results"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/traversal"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/triplestore"
	"github.com/AleutianAI/kgexplore/services/kgexplore/watch"
)

// ServiceVersion is reported by the health endpoint and the CLI.
const ServiceVersion = "0.3.0"

// gcDiscardRatio is the value-log garbage ratio that triggers a rewrite.
const gcDiscardRatio = 0.5

// Service owns every component of a running explorer.
//
// Thread Safety: Safe for concurrent use after New returns.
type Service struct {
	cfg    *config.Config
	logger *slog.Logger

	bus       *events.Bus
	db        *kgbadger.DB
	triples   *triplestore.Store
	index     fulltext.Index
	graph     *traversal.View
	results   *results.Store
	suite     *analytics.Suite
	registry  *analysis.Registry
	processor *pipeline.Processor
	pool      *pipeline.WorkerPool

	query      *facade.Facade
	fullText   *facade.Facade
	traversal  *facade.Facade
	dependents []*facade.Dependent

	reloadMu  sync.Mutex
	watcher   *watch.Watcher
	startedAt time.Time
	closeOnce sync.Once
}

// New builds the service from cfg.
//
// Description:
//
//	Opens storage, creates the three facades in Initial, wires the derived
//	facades to follow the query facade, registers the built-in analyses
//	(minus disabled ones), and attaches the scheduler to the event bus.
//	Nothing is loaded until Start or Reload.
//
// Outputs:
//
//	*Service - The wired service. Close must be called.
//	error - Storage, registration, or requirement-cycle failure.
func New(cfg *config.Config, logger *slog.Logger) (*Service, error) {
	logger = logging.OrNop(logger)
	s := &Service{cfg: cfg, logger: logger, startedAt: time.Now()}

	db, err := kgbadger.Open(kgbadger.Config{
		Path:           logging.ExpandPath(cfg.Storage.Path),
		InMemory:       cfg.Storage.InMemory,
		SyncWrites:     cfg.Storage.SyncWrites,
		Logger:         logger.With(slog.String("component", "badger")),
		GCInterval:     cfg.Storage.GCInterval.Std(),
		GCDiscardRatio: gcDiscardRatio,
	})
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	s.db = db

	if err := s.build(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Service) build() error {
	var err error
	ctx := context.Background()

	s.bus = events.NewBus(events.WithLogger(s.logger))
	if s.triples, err = triplestore.New(ctx, s.db, s.logger); err != nil {
		return fmt.Errorf("open triple store: %w", err)
	}
	if s.index, err = newIndex(s.cfg.FullText, s.logger); err != nil {
		return err
	}
	s.graph = traversal.NewView(s.triples, traversal.Options{}, s.logger)
	s.results = results.New(s.db, s.logger)

	s.query = facade.New(facade.Query, s.bus, facade.WithLogger(s.logger))
	s.fullText = facade.New(facade.FullText, s.bus, facade.WithLogger(s.logger))
	s.traversal = facade.New(facade.Traversal, s.bus, facade.WithLogger(s.logger))

	s.suite = analytics.NewSuite(analytics.Deps{
		Store:  s.triples,
		Index:  s.index,
		Graph:  s.graph,
		Logger: s.logger,
	})
	if s.registry, err = NewRegistry(s.suite, s.cfg, s.logger); err != nil {
		return err
	}

	s.pool = pipeline.NewWorkerPool(s.cfg.Scheduler.Workers, s.logger)
	s.processor, err = pipeline.NewProcessor(s.registry, s.pool,
		pipeline.WithLogger(s.logger),
		pipeline.WithResultSink(s.results),
		pipeline.WithPublisher(s.bus),
		pipeline.WithEvictSettled(s.cfg.Scheduler.EvictSettled),
		pipeline.WithMaxRuns(s.cfg.Scheduler.MaxRuns),
	)
	if err != nil {
		return fmt.Errorf("create processor: %w", err)
	}
	// The processor subscribes before the dependents so a query update is
	// registered with its pipeline before derived rebuilds start.
	s.processor.Attach(s.bus)

	s.dependents = []*facade.Dependent{
		facade.Follow(s.bus, facade.Query, s.fullText, s.rebuildFullText, s.logger),
		facade.Follow(s.bus, facade.Query, s.traversal, s.graph.Rebuild, s.logger),
	}
	return nil
}

func newIndex(c config.FullTextConfig, logger *slog.Logger) (fulltext.Index, error) {
	if c.Backend != config.BackendWeaviate {
		return fulltext.NewMemoryIndex(), nil
	}
	client, err := fulltext.NewClient(c.URL)
	if err != nil {
		return nil, err
	}
	return fulltext.NewWeaviateIndex(client, c.Class, logger), nil
}

// NewRegistry registers the suite's services according to cfg and applies
// the requirement-cycle policy.
func NewRegistry(suite *analytics.Suite, cfg *config.Config, logger *slog.Logger) (*analysis.Registry, error) {
	logger = logging.OrNop(logger)
	registry := analysis.NewRegistry(logger)
	for _, reg := range suite.Registrations(cfg.Disabled()) {
		if err := registry.Register(reg); err != nil {
			return nil, fmt.Errorf("register analysis: %w", err)
		}
	}

	if err := registry.DetectCycles(); err != nil {
		if cfg.Scheduler.RejectCyclicRequirements {
			return nil, err
		}
		logger.Warn("analyses in a requirement cycle will never run", slog.String("error", err.Error()))
	}
	for name, missing := range registry.Unsatisfiable() {
		logger.Warn("analysis has requirements nothing provides",
			slog.String("service", name),
			slog.Any("missing", missing))
	}
	return registry, nil
}

func (s *Service) rebuildFullText(ctx context.Context) error {
	docs, err := fulltext.DocumentsFromStore(ctx, s.triples)
	if err != nil {
		return err
	}
	return s.index.Rebuild(ctx, docs)
}

// Start loads the data directory once and starts the watcher when enabled.
// A failed initial load leaves the query facade Failed; Start still
// succeeds so the HTTP surface can report it.
func (s *Service) Start(ctx context.Context) error {
	if w, ok := s.index.(*fulltext.WeaviateIndex); ok {
		if err := w.EnsureSchema(ctx); err != nil {
			s.logger.Warn("weaviate schema not ensured", slog.String("error", err.Error()))
		}
	}
	if _, err := s.Reload(ctx); err != nil {
		s.logger.Warn("initial load failed", slog.String("error", err.Error()))
	}
	if !s.cfg.Data.Watch {
		return nil
	}

	opts := watch.DefaultOptions()
	opts.Debounce = s.cfg.Data.Debounce.Std()
	opts.Extensions = []string{triplestore.Extension}
	opts.Logger = s.logger
	w, err := watch.New(s.cfg.Data.Dir, s.onDataChanged, &opts)
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Start(ctx); err != nil {
		s.logger.Warn("data directory not watched", slog.String("dir", s.cfg.Data.Dir), slog.String("error", err.Error()))
		w.Stop()
		return nil
	}
	s.watcher = w
	return nil
}

func (s *Service) onDataChanged(changes []watch.Change) {
	s.logger.Info("data files changed", slog.Int("files", len(changes)))
	if _, err := s.Reload(context.Background()); err != nil {
		s.logger.Warn("reload after change failed", slog.String("error", err.Error()))
	}
}

// Reload re-reads the data directory into the query facade under a new run
// ID. Derived facades and analyses follow through events.
func (s *Service) Reload(ctx context.Context) (facade.RunID, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	return s.query.Update(ctx, func(ctx context.Context) error {
		_, err := s.triples.LoadDir(ctx, s.cfg.Data.Dir)
		return err
	})
}

// Quiesce waits for derived rebuilds and analyses in flight.
func (s *Service) Quiesce() {
	for _, d := range s.dependents {
		d.Wait()
	}
	s.pool.Wait()
}

// Close stops the watcher and scheduler and closes storage.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.watcher != nil {
			s.watcher.Stop()
		}
		for _, d := range s.dependents {
			d.Close()
		}
		s.processor.Detach()
		s.pool.Close()
		if c, ok := s.index.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				s.logger.Warn("close full-text index", slog.String("error", cerr.Error()))
			}
		}
		err = s.db.Close()
	})
	return err
}

// Facades returns the facades in ID order.
func (s *Service) Facades() []*facade.Facade {
	return []*facade.Facade{s.query, s.fullText, s.traversal}
}

// Facade returns the facade with id.
func (s *Service) Facade(id facade.ID) (*facade.Facade, bool) {
	for _, f := range s.Facades() {
		if f.ID() == id {
			return f, true
		}
	}
	return nil, false
}

// Ready reports whether every facade is Ready.
func (s *Service) Ready() bool {
	for _, f := range s.Facades() {
		if f.Status().State != facade.StateReady {
			return false
		}
	}
	return true
}

func (s *Service) Bus() *events.Bus               { return s.bus }
func (s *Service) Processor() *pipeline.Processor { return s.processor }
func (s *Service) Registry() *analysis.Registry   { return s.registry }
func (s *Service) Results() *results.Store        { return s.results }
func (s *Service) Triples() *triplestore.Store    { return s.triples }
func (s *Service) Index() fulltext.Index          { return s.index }
func (s *Service) Graph() *traversal.Graph        { return s.graph.Graph() }
func (s *Service) Suite() *analytics.Suite        { return s.suite }
func (s *Service) Config() *config.Config         { return s.cfg }
func (s *Service) Uptime() time.Duration          { return time.Since(s.startedAt) }

// Result returns the latest stored result of a registered service.
func (s *Service) Result(ctx context.Context, service string) (results.Record, error) {
	if _, ok := s.registry.Lookup(service); !ok {
		return results.Record{}, fmt.Errorf("%w: %s", ErrUnknownService, service)
	}
	return s.results.Get(ctx, service)
}
