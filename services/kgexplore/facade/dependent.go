// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facade

import (
	"context"
	"log/slog"
	"sync"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
)

// RebuildFunc rebuilds a derived facade from its upstream data.
type RebuildFunc func(ctx context.Context) error

// Dependent keeps a derived facade in step with an upstream facade.
//
// Description:
//
//	Whenever the upstream facade becomes Ready, the downstream facade is
//	moved to Updating, rebuilt, then moved to Ready or Failed. All three
//	transitions reuse the upstream run ID. Rebuilds run on their own
//	goroutine, one at a time per Dependent.
//
// Thread Safety: Safe for concurrent use.
type Dependent struct {
	upstream   ID
	downstream *Facade
	rebuild    RebuildFunc
	bus        events.Subscriber
	logger     *slog.Logger

	subID  string
	mu     sync.Mutex
	runMu  sync.Mutex
	wg     sync.WaitGroup
	closed bool
}

// Follow subscribes downstream to upstream's update events on bus.
func Follow(bus events.Subscriber, upstream ID, downstream *Facade, rebuild RebuildFunc, logger *slog.Logger) *Dependent {
	d := &Dependent{
		upstream:   upstream,
		downstream: downstream,
		rebuild:    rebuild,
		bus:        bus,
		logger: logging.OrNop(logger).With(
			slog.String("upstream", string(upstream)),
			slog.String("downstream", string(downstream.ID())),
		),
	}
	d.subID = bus.Subscribe(d.onEvent, events.TypeFacadeUpdated)
	return d
}

func (d *Dependent) onEvent(ctx context.Context, e *events.Event) {
	ev, ok := e.Data.(StatusChangeEvent)
	if !ok || ev.Facade != d.upstream {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.Refresh(context.WithoutCancel(ctx), ev.RunID)
	}()
}

// Refresh rebuilds the downstream facade synchronously under runID.
func (d *Dependent) Refresh(ctx context.Context, runID RunID) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if _, err := d.downstream.UpdatePropagated(ctx, runID, d.rebuild); err != nil {
		d.logger.Warn("derived facade rebuild failed",
			slog.String("run_id", string(runID)),
			slog.String("error", err.Error()),
		)
	}
}

// Wait blocks until in-flight rebuilds finish.
func (d *Dependent) Wait() {
	d.wg.Wait()
}

// Close stops following the upstream facade and waits for in-flight
// rebuilds.
func (d *Dependent) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.bus.Unsubscribe(d.subID)
	d.wg.Wait()
}
