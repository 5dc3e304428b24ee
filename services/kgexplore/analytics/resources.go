// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analytics

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/traversal"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/triplestore"
)

// ResourceSummary is the result value of the resources service.
type ResourceSummary struct {
	Count  int            `json:"count"`
	ByType map[string]int `json:"by_type"`
}

// Resources lists every resource that appears as a subject.
type Resources struct {
	store  *triplestore.Store
	logger *slog.Logger
	latest atomic.Pointer[[]string]
}

func NewResources(store *triplestore.Store, logger *slog.Logger) *Resources {
	return &Resources{store: store, logger: logger}
}

func (r *Resources) Name() string { return NameResources }

func (r *Resources) Capabilities() []analysis.Requirement {
	return []analysis.Requirement{CapResourceLister, CapResourceSource}
}

// Latest returns the sorted resource IDs of the last compute, or nil.
func (r *Resources) Latest() []string {
	if p := r.latest.Load(); p != nil {
		return *p
	}
	return nil
}

func (r *Resources) Compute(ctx context.Context) (analysis.Result, error) {
	ctx, span := tracer.Start(ctx, "analytics.Resources")
	defer span.End()

	seen := make(map[string]struct{})
	byType := make(map[string]int)
	err := r.store.Each(ctx, triplestore.Pattern{}, func(t triplestore.Triple) error {
		if !t.Subject.IsResource() {
			return nil
		}
		seen[traversal.NodeID(t.Subject)] = struct{}{}
		if t.Predicate.Value == triplestore.RDFType && t.Object.IsResource() {
			byType[traversal.NodeID(t.Object)]++
		}
		return nil
	})
	if err != nil {
		return analysis.Result{}, err
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	r.latest.Store(&ids)

	span.SetAttributes(attribute.Int("resource_count", len(ids)))
	r.logger.Debug("resources listed", slog.Int("count", len(ids)))

	return analysis.Result{
		Items:      len(ids),
		Value:      ResourceSummary{Count: len(ids), ByType: byType},
		ComputedAt: time.Now(),
	}, nil
}
