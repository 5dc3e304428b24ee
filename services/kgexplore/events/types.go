// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package events is the in-process publish/subscribe bus that carries
// facade status changes to the analysis processor and other listeners.
//
// Delivery is synchronous: Publish invokes every matching handler on the
// caller's goroutine, in subscription order, before returning.
package events

import (
	"context"
	"time"
)

// Type identifies the kind of event.
type Type string

const (
	// TypeFacadeStatusChanged is published on every facade status change.
	TypeFacadeStatusChanged Type = "facade_status_changed"

	// TypeFacadeUpdated is published when a facade becomes Ready, whether
	// from Initial, Updating, or Failed. This is the signal that new data
	// can be analysed.
	TypeFacadeUpdated Type = "facade_updated"

	// TypeAnalysisCompleted is published after an analysis result is stored.
	TypeAnalysisCompleted Type = "analysis_completed"

	// TypeAnalysisFailed is published when an analysis returns an error.
	TypeAnalysisFailed Type = "analysis_failed"
)

// Event is a single published message.
type Event struct {
	// ID uniquely identifies this event.
	ID string `json:"id"`

	// Type is the event kind.
	Type Type `json:"type"`

	// Timestamp is when the event was published.
	Timestamp time.Time `json:"timestamp"`

	// Data is the typed payload. Facade events carry
	// facade.StatusChangeEvent.
	Data any `json:"data,omitempty"`
}

// Handler processes an event. The context is the publisher's.
type Handler func(ctx context.Context, event *Event)

// Publisher publishes events.
type Publisher interface {
	Publish(ctx context.Context, eventType Type, data any)
}

// Subscriber registers and removes handlers.
type Subscriber interface {
	Subscribe(handler Handler, types ...Type) string
	Unsubscribe(id string) bool
}
