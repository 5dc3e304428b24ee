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
	"sync/atomic"
	"time"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
)

// SubsumerIndex answers least-common-subsumer queries over a hierarchy.
//
// Depth is 1 for a root and 1 + the shortest path to a root otherwise.
// Classes caught in a subclass cycle with no reachable root get depth 1.
type SubsumerIndex struct {
	hierarchy *Hierarchy
	ancestors map[string]map[string]struct{}
	depth     map[string]int
}

// LCSSummary is the result value of the lcs service.
type LCSSummary struct {
	Classes  int `json:"classes"`
	Roots    int `json:"roots"`
	MaxDepth int `json:"max_depth"`
}

// NewSubsumerIndex precomputes ancestor sets and depths.
func NewSubsumerIndex(h *Hierarchy) *SubsumerIndex {
	idx := &SubsumerIndex{
		hierarchy: h,
		ancestors: make(map[string]map[string]struct{}, len(h.Classes)),
		depth:     make(map[string]int, len(h.Classes)),
	}
	for _, c := range h.Classes {
		anc := map[string]struct{}{c: {}}
		depth := 0
		frontier := []string{c}
		for dist := 0; len(frontier) > 0; dist++ {
			var next []string
			for _, n := range frontier {
				if depth == 0 && len(h.Parents[n]) == 0 {
					depth = dist + 1
				}
				for _, p := range h.Parents[n] {
					if _, seen := anc[p]; !seen {
						anc[p] = struct{}{}
						next = append(next, p)
					}
				}
			}
			frontier = next
		}
		if depth == 0 {
			depth = 1
		}
		idx.ancestors[c] = anc
		idx.depth[c] = depth
	}
	return idx
}

// Depth returns the depth of class, or 0 if unknown.
func (x *SubsumerIndex) Depth(class string) int { return x.depth[class] }

// Subsumer returns the deepest class that both a and b are subclasses of
// (each class subsumes itself). Ties go to the smallest IRI.
func (x *SubsumerIndex) Subsumer(a, b string) (string, bool) {
	ancA, okA := x.ancestors[a]
	ancB, okB := x.ancestors[b]
	if !okA || !okB {
		return "", false
	}
	best, bestDepth := "", 0
	for c := range ancA {
		if _, ok := ancB[c]; !ok {
			continue
		}
		d := x.depth[c]
		if d > bestDepth || (d == bestDepth && c < best) {
			best, bestDepth = c, d
		}
	}
	return best, best != ""
}

// WuPalmer returns 2*depth(lcs) / (depth(a)+depth(b)), or 0 when a and b
// share no subsumer.
func (x *SubsumerIndex) WuPalmer(a, b string) float64 {
	lcs, ok := x.Subsumer(a, b)
	if !ok {
		return 0
	}
	return 2 * float64(x.depth[lcs]) / float64(x.depth[a]+x.depth[b])
}

// Hierarchy returns the hierarchy the index was built from.
func (x *SubsumerIndex) Hierarchy() *Hierarchy { return x.hierarchy }

// LCS builds the least-common-subsumer index from the class hierarchy.
type LCS struct {
	hierarchy *ClassHierarchy
	logger    *slog.Logger
	latest    atomic.Pointer[SubsumerIndex]
}

func NewLCS(hierarchy *ClassHierarchy, logger *slog.Logger) *LCS {
	return &LCS{hierarchy: hierarchy, logger: logger}
}

func (l *LCS) Name() string { return NameLCS }

// Latest returns the last index, or nil.
func (l *LCS) Latest() *SubsumerIndex { return l.latest.Load() }

func (l *LCS) Compute(ctx context.Context) (analysis.Result, error) {
	_, span := tracer.Start(ctx, "analytics.LCS")
	defer span.End()

	h := l.hierarchy.Latest()
	if h == nil {
		return analysis.Result{}, ErrNotReady
	}
	idx := NewSubsumerIndex(h)
	l.latest.Store(idx)

	summary := LCSSummary{Classes: len(h.Classes), Roots: len(h.Roots())}
	for _, d := range idx.depth {
		summary.MaxDepth = max(summary.MaxDepth, d)
	}
	l.logger.Debug("subsumer index built",
		slog.Int("classes", summary.Classes),
		slog.Int("max_depth", summary.MaxDepth))
	return analysis.Result{Items: summary.Classes, Value: summary, ComputedAt: time.Now()}, nil
}
