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
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/fulltext"
)

// Similarity tuning.
const (
	DefaultCandidates = 5
	DefaultMaxPairs   = 100
)

// SimilarPair is two classes whose labels match textually, scored by their
// position in the class hierarchy.
type SimilarPair struct {
	A          string  `json:"a"`
	B          string  `json:"b"`
	Subsumer   string  `json:"subsumer"`
	Similarity float64 `json:"similarity"`
	TextScore  float64 `json:"text_score"`
}

// Similarity finds candidate class pairs through the full-text facade and
// scores them with Wu-Palmer similarity.
type Similarity struct {
	lcs        *LCS
	index      fulltext.Index
	candidates int
	maxPairs   int
	logger     *slog.Logger
	latest     atomic.Pointer[[]SimilarPair]
}

func NewSimilarity(lcs *LCS, index fulltext.Index, logger *slog.Logger) *Similarity {
	return &Similarity{
		lcs:        lcs,
		index:      index,
		candidates: DefaultCandidates,
		maxPairs:   DefaultMaxPairs,
		logger:     logger,
	}
}

func (s *Similarity) Name() string { return NameSimilarity }

// Latest returns the pairs of the last compute, or nil.
func (s *Similarity) Latest() []SimilarPair {
	if p := s.latest.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Similarity) Compute(ctx context.Context) (analysis.Result, error) {
	ctx, span := tracer.Start(ctx, "analytics.Similarity")
	defer span.End()

	idx := s.lcs.Latest()
	if idx == nil {
		return analysis.Result{}, ErrNotReady
	}
	h := idx.Hierarchy()

	type key struct{ a, b string }
	pairs := make(map[key]SimilarPair)
	for _, class := range h.Classes {
		label, ok := h.Labels[class]
		if !ok {
			continue
		}
		hits, err := s.index.Search(ctx, label, s.candidates+1)
		if errors.Is(err, fulltext.ErrEmptyQuery) {
			continue
		}
		if err != nil {
			return analysis.Result{}, fmt.Errorf("search %q: %w", label, err)
		}
		for _, hit := range hits {
			if hit.ID == class || idx.Depth(hit.ID) == 0 {
				continue
			}
			k := key{class, hit.ID}
			if k.b < k.a {
				k = key{hit.ID, class}
			}
			if prev, seen := pairs[k]; seen && prev.TextScore >= hit.Score {
				continue
			}
			sub, _ := idx.Subsumer(k.a, k.b)
			pairs[k] = SimilarPair{
				A:          k.a,
				B:          k.b,
				Subsumer:   sub,
				Similarity: idx.WuPalmer(k.a, k.b),
				TextScore:  hit.Score,
			}
		}
	}

	out := make([]SimilarPair, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Similarity != out[j].Similarity {
			return out[i].Similarity > out[j].Similarity
		}
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	if len(out) > s.maxPairs {
		out = out[:s.maxPairs]
	}
	s.latest.Store(&out)

	span.SetAttributes(attribute.Int("pair_count", len(out)))
	s.logger.Debug("similarity computed", slog.Int("pairs", len(out)))
	return analysis.Result{Items: len(out), Value: out, ComputedAt: time.Now()}, nil
}
