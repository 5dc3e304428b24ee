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
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
)

// Facade is the readiness state machine of one access facade.
//
// Description:
//
//	Status reads are lock-free. Writers are serialized; each accepted
//	change is queued under the lock and published after it is released.
//	One writer at a time drains the queue in order, so the event sequence
//	of a facade matches the order of its status changes.
//
// Thread Safety: Safe for concurrent use. A bus handler may call SetStatus
// on the facade that is publishing to it; its event is published after the
// current one.
type Facade struct {
	id        ID
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time

	mu       sync.Mutex
	outbox   []StatusChangeEvent
	draining bool
	current  atomic.Pointer[Status]
	lastRun  atomic.Pointer[RunID]
}

// Option configures a Facade.
type Option func(*Facade)

// WithLogger sets the facade logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Facade) {
		f.logger = logging.OrNop(logger)
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) {
		if now != nil {
			f.now = now
		}
	}
}

// New creates a facade in the Initial status.
//
// A nil publisher is allowed; the facade then tracks status without
// publishing.
func New(id ID, publisher events.Publisher, opts ...Option) *Facade {
	f := &Facade{
		id:        id,
		publisher: publisher,
		logger:    logging.Nop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.With(slog.String("facade", string(id)))

	initial := Initial()
	f.current.Store(&initial)
	return f
}

// ID returns the facade identity.
func (f *Facade) ID() ID {
	return f.id
}

// Status returns the current status.
func (f *Facade) Status() Status {
	return *f.current.Load()
}

// LastRunID returns the run ID of the most recent transition, or "".
func (f *Facade) LastRunID() RunID {
	if r := f.lastRun.Load(); r != nil {
		return *r
	}
	return ""
}

// SetStatus performs a spontaneous transition with a freshly minted run ID.
//
// Outputs:
//
//	bool - True if the status changed and an event was published.
//	error - Non-nil (*TransitionError) if the transition is not allowed.
func (f *Facade) SetStatus(ctx context.Context, next Status) (bool, error) {
	return f.transition(ctx, next, NewRunID())
}

// SetStatusPropagated performs a transition driven by an upstream event,
// reusing its run ID. An empty run ID is replaced by a fresh one.
func (f *Facade) SetStatusPropagated(ctx context.Context, next Status, runID RunID) (bool, error) {
	if runID == "" {
		runID = NewRunID()
	}
	return f.transition(ctx, next, runID)
}

func (f *Facade) transition(ctx context.Context, next Status, runID RunID) (bool, error) {
	f.mu.Lock()
	prev := f.Status()
	if prev == next {
		f.mu.Unlock()
		return false, nil
	}
	if !CanTransition(prev.State, next.State) {
		f.mu.Unlock()
		err := &TransitionError{Facade: f.id, From: prev, To: next}
		f.logger.Warn("rejected facade transition",
			slog.String("from", prev.String()),
			slog.String("to", next.String()),
		)
		return false, err
	}

	f.current.Store(&next)
	f.lastRun.Store(&runID)

	ev := StatusChangeEvent{
		Facade:    f.id,
		Previous:  prev,
		Current:   next,
		RunID:     runID,
		Timestamp: f.now(),
	}

	level := slog.LevelInfo
	if next.State == StateFailed {
		level = slog.LevelWarn
	}
	f.logger.Log(ctx, level, "facade status changed",
		slog.String("from", prev.String()),
		slog.String("to", next.String()),
		slog.String("run_id", string(runID)),
	)

	if f.publisher == nil {
		f.mu.Unlock()
		return true, nil
	}
	f.outbox = append(f.outbox, ev)
	drain := !f.draining
	f.draining = true
	f.mu.Unlock()

	if drain {
		f.flush(ctx)
	}
	return true, nil
}

// flush publishes queued events until the outbox is empty.
func (f *Facade) flush(ctx context.Context) {
	for {
		f.mu.Lock()
		if len(f.outbox) == 0 {
			f.draining = false
			f.mu.Unlock()
			return
		}
		ev := f.outbox[0]
		f.outbox = f.outbox[1:]
		f.mu.Unlock()

		f.publisher.Publish(ctx, events.TypeFacadeStatusChanged, ev)
		if ev.IsUpdate() {
			f.publisher.Publish(ctx, events.TypeFacadeUpdated, ev)
		}
	}
}

// Update runs one spontaneous rebuild cycle: Updating, then load, then
// Ready or Failed. All transitions share one freshly minted run ID, which is
// returned.
//
// A load error is reported only through the Failed status; Update itself
// returns it so callers can log it, but the facade stays usable.
func (f *Facade) Update(ctx context.Context, load func(ctx context.Context) error) (RunID, error) {
	return f.UpdatePropagated(ctx, NewRunID(), load)
}

// UpdatePropagated is Update with an upstream run ID.
func (f *Facade) UpdatePropagated(ctx context.Context, runID RunID, load func(ctx context.Context) error) (RunID, error) {
	if runID == "" {
		runID = NewRunID()
	}
	if _, err := f.SetStatusPropagated(ctx, Updating(), runID); err != nil {
		return runID, err
	}

	loadErr := safeLoad(ctx, load)
	next := Ready()
	if loadErr != nil {
		next = Failed(loadErr.Error())
	}
	if _, err := f.SetStatusPropagated(ctx, next, runID); err != nil {
		return runID, errors.Join(loadErr, err)
	}
	return runID, loadErr
}

// errLoadPanic marks a rebuild that panicked.
var errLoadPanic = errors.New("facade load panicked")

func safeLoad(ctx context.Context, load func(ctx context.Context) error) (err error) {
	if load == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = errLoadPanic
		}
	}()
	return load(ctx)
}
