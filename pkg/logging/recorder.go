// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Entry is a captured log record with its attributes flattened.
type Entry struct {
	Time    time.Time
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// Recorder is an in-memory slog.Handler that keeps every record.
//
// Used in tests to assert on what a component logged.
//
// Thread Safety: Safe for concurrent use.
type Recorder struct {
	mu      *sync.Mutex
	entries *[]Entry
	attrs   []slog.Attr
	level   slog.Level
}

// NewRecorder returns a Recorder and a logger that writes into it.
func NewRecorder(level Level) (*Recorder, *slog.Logger) {
	r := &Recorder{
		mu:      &sync.Mutex{},
		entries: &[]Entry{},
		level:   level.toSlogLevel(),
	}
	return r, slog.New(r)
}

func (r *Recorder) Enabled(_ context.Context, level slog.Level) bool {
	return level >= r.level
}

func (r *Recorder) Handle(_ context.Context, rec slog.Record) error {
	attrs := make(map[string]any, rec.NumAttrs()+len(r.attrs))
	for _, a := range r.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	rec.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	r.mu.Lock()
	*r.entries = append(*r.entries, Entry{
		Time:    rec.Time,
		Level:   rec.Level,
		Message: rec.Message,
		Attrs:   attrs,
	})
	r.mu.Unlock()
	return nil
}

func (r *Recorder) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(r.attrs)+len(attrs))
	merged = append(merged, r.attrs...)
	merged = append(merged, attrs...)
	return &Recorder{mu: r.mu, entries: r.entries, attrs: merged, level: r.level}
}

// WithGroup is a no-op; groups are flattened.
func (r *Recorder) WithGroup(string) slog.Handler {
	return r
}

// Entries returns a copy of everything recorded so far.
func (r *Recorder) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(*r.entries))
	copy(out, *r.entries)
	return out
}

// Find returns the recorded entries with the given message.
func (r *Recorder) Find(message string) []Entry {
	var out []Entry
	for _, e := range r.Entries() {
		if e.Message == message {
			out = append(out, e)
		}
	}
	return out
}

// Count returns how many entries at level carry the given message.
func (r *Recorder) Count(level slog.Level, message string) int {
	n := 0
	for _, e := range r.Entries() {
		if e.Level == level && e.Message == message {
			n++
		}
	}
	return n
}
