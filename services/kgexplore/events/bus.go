// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package events

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/kgexplore/pkg/logging"
)

// subscription is one registered handler.
type subscription struct {
	id      string
	handler Handler
	types   []Type
}

// Bus broadcasts events to subscribers.
//
// Handlers run on the publishing goroutine in the order they subscribed.
// A panicking handler is recovered and logged; the remaining handlers
// still receive the event.
//
// Thread Safety: Bus is safe for concurrent use. Subscribe and Unsubscribe
// may be called from inside a handler.
type Bus struct {
	mu            sync.RWMutex
	subscriptions []*subscription
	recent        []Event
	recentSize    int
	logger        *slog.Logger
}

// BusOption configures a Bus.
type BusOption func(*Bus)

// WithRecentSize sets how many published events are retained for
// inspection. Zero disables retention.
func WithRecentSize(size int) BusOption {
	return func(b *Bus) {
		if size >= 0 {
			b.recentSize = size
		}
	}
}

// WithLogger sets the logger used for handler panics.
func WithLogger(logger *slog.Logger) BusOption {
	return func(b *Bus) {
		b.logger = logging.OrNop(logger)
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...BusOption) *Bus {
	b := &Bus{
		recentSize: 256,
		logger:     logging.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.recent = make([]Event, 0, b.recentSize)
	return b
}

// Subscribe registers handler for the given types (none = all types) and
// returns the subscription ID.
func (b *Bus) Subscribe(handler Handler, types ...Type) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscription{
		id:      uuid.NewString(),
		handler: handler,
		types:   slices.Clone(types),
	}
	b.subscriptions = append(b.subscriptions, sub)
	return sub.id
}

// Unsubscribe removes a subscription. Returns false if id is unknown.
func (b *Bus) Unsubscribe(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscriptions {
		if sub.id == id {
			b.subscriptions = slices.Delete(b.subscriptions, i, i+1)
			return true
		}
	}
	return false
}

// Publish delivers an event to every matching subscriber and returns once
// all of them have run.
func (b *Bus) Publish(ctx context.Context, eventType Type, data any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}

	b.mu.Lock()
	if b.recentSize > 0 {
		if len(b.recent) >= b.recentSize {
			b.recent = b.recent[1:]
		}
		b.recent = append(b.recent, event)
	}
	subs := slices.Clone(b.subscriptions)
	b.mu.Unlock()

	for _, sub := range subs {
		if sub.matches(event.Type) {
			b.safeInvoke(ctx, sub, &event)
		}
	}
}

func (b *Bus) safeInvoke(ctx context.Context, sub *subscription, event *Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String("event_type", string(event.Type)),
				slog.String("event_id", event.ID),
				slog.String("subscription_id", sub.id),
				slog.Any("panic", r),
			)
		}
	}()
	sub.handler(ctx, event)
}

func (s *subscription) matches(t Type) bool {
	return len(s.types) == 0 || slices.Contains(s.types, t)
}

// Recent returns retained events, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return slices.Clone(b.recent)
}

// RecentByType returns retained events of one type, oldest first.
func (b *Bus) RecentByType(eventType Type) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []Event
	for _, e := range b.recent {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions)
}
