// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package facade implements the readiness state machines of the three
// knowledge-graph access facades (query, full-text, traversal).
//
// Each Facade owns a Status and publishes a StatusChangeEvent on the event
// bus whenever the status actually changes. A transition either mints a new
// run ID (spontaneous) or reuses the run ID of the upstream event that
// caused it (propagated), so correlated work lands in one analysis run.
package facade

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Identities
// =============================================================================

// ID names a facade. Facade IDs share the requirement namespace with
// analysis capabilities, so they are reserved there.
type ID string

const (
	// Query is the queryable triple store.
	Query ID = "query"

	// FullText is the full-text index over literals.
	FullText ID = "fulltext"

	// Traversal is the property-graph traversal view.
	Traversal ID = "traversal"
)

// IDs returns the three facade identities in a fixed order.
func IDs() []ID {
	return []ID{Query, FullText, Traversal}
}

// IsFacadeID reports whether s names one of the three facades.
func IsFacadeID(s string) bool {
	switch ID(s) {
	case Query, FullText, Traversal:
		return true
	}
	return false
}

// RunID correlates a triggering change with every transition and analysis
// derived from it.
type RunID string

// NewRunID mints a fresh run ID.
func NewRunID() RunID {
	return RunID(uuid.NewString())
}

// =============================================================================
// Status
// =============================================================================

// State is the tag of a Status.
type State int

const (
	StateInitial State = iota
	StateReady
	StateUpdating
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateReady:
		return "ready"
	case StateUpdating:
		return "updating"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Status is the readiness of a facade. Reason is set only for Failed.
//
// Status values are comparable; two Failed statuses with different reasons
// are different statuses.
type Status struct {
	State  State  `json:"state"`
	Reason string `json:"reason,omitempty"`
}

// Initial is the status of a facade that has never loaded.
func Initial() Status { return Status{State: StateInitial} }

// Ready means the data behind the facade is consistent.
func Ready() Status { return Status{State: StateReady} }

// Updating means the facade is being rebuilt.
func Updating() Status { return Status{State: StateUpdating} }

// Failed means the last rebuild failed. The facade may still serve its
// last good data.
func Failed(reason string) Status { return Status{State: StateFailed, Reason: reason} }

func (s Status) String() string {
	if s.State == StateFailed && s.Reason != "" {
		return "failed(" + s.Reason + ")"
	}
	return s.State.String()
}

// MarshalText renders the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name.
func (s *State) UnmarshalText(text []byte) error {
	for st := StateInitial; st <= StateFailed; st++ {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown facade state %q", text)
}

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid facade transition")

// TransitionError describes a rejected transition.
type TransitionError struct {
	Facade ID
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("facade %s: cannot move from %s to %s", e.Facade, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// CanTransition reports whether a facade may move from one state to another.
//
// Every state except Initial is reachable from every state; Initial is only
// the starting point. Same-state moves are allowed here and filtered out as
// no-ops by the facade.
func CanTransition(from, to State) bool {
	if to == StateInitial {
		return from == StateInitial
	}
	return to >= StateReady && to <= StateFailed && from >= StateInitial && from <= StateFailed
}

// =============================================================================
// Events
// =============================================================================

// StatusChangeEvent is published on every status change.
type StatusChangeEvent struct {
	Facade    ID        `json:"facade"`
	Previous  Status    `json:"previous"`
	Current   Status    `json:"current"`
	RunID     RunID     `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
}

// IsUpdate reports whether the event marks the facade's data as newly
// consistent, i.e. a transition into Ready.
func (e StatusChangeEvent) IsUpdate() bool {
	return e.Current.State == StateReady && e.Previous != e.Current
}
