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
	"math"
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/traversal"
)

// PageRank configuration constants.
const (
	// DefaultDampingFactor is the probability of following a link.
	DefaultDampingFactor = 0.85

	// DefaultMaxIterations bounds power iteration.
	DefaultMaxIterations = 100

	// DefaultConvergence stops iteration once the max score change is below it.
	DefaultConvergence = 1e-6

	// DefaultTopN is how many ranked nodes the result value carries.
	DefaultTopN = 25
)

// PageRankOptions configures the PageRank algorithm.
type PageRankOptions struct {
	// DampingFactor must be in [0, 1]. Default: 0.85
	DampingFactor float64

	// MaxIterations must be > 0. Default: 100
	MaxIterations int

	// Convergence must be > 0. Default: 1e-6
	Convergence float64

	// TopN must be > 0. Default: 25
	TopN int
}

// Validate applies defaults for invalid values.
func (o *PageRankOptions) Validate() {
	if o.DampingFactor < 0 || o.DampingFactor > 1 {
		o.DampingFactor = DefaultDampingFactor
	}
	if o.MaxIterations <= 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Convergence <= 0 {
		o.Convergence = DefaultConvergence
	}
	if o.TopN <= 0 {
		o.TopN = DefaultTopN
	}
}

// DefaultPageRankOptions returns sensible defaults.
func DefaultPageRankOptions() *PageRankOptions {
	return &PageRankOptions{
		DampingFactor: DefaultDampingFactor,
		MaxIterations: DefaultMaxIterations,
		Convergence:   DefaultConvergence,
		TopN:          DefaultTopN,
	}
}

// RankedNode is a node with its PageRank score and 1-indexed rank.
type RankedNode struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// PageRankResult is the output of one PageRank computation.
type PageRankResult struct {
	// Scores maps node ID to score. Scores sum to approximately 1.0.
	Scores map[string]float64 `json:"-"`

	// Top holds the highest ranked nodes.
	Top []RankedNode `json:"top"`

	Iterations int     `json:"iterations"`
	Converged  bool    `json:"converged"`
	MaxDiff    float64 `json:"max_diff"`
}

// ComputePageRank runs power iteration over g. Nodes in extra that are not
// part of g are scored as isolated nodes.
//
// Description:
//
//	Sink nodes (no outgoing edges) redistribute their score evenly across
//	all nodes so rank does not leak out of the graph.
//
// Inputs:
//
//	ctx - Context for cancellation. Cancellation returns the partial scores.
//	g - The graph to rank. Must not be nil.
//	extra - Additional node IDs to include.
//	opts - Options. Nil uses defaults.
//
// Thread Safety: Safe for concurrent use.
func ComputePageRank(ctx context.Context, g *traversal.Graph, extra []string, opts *PageRankOptions) *PageRankResult {
	ctx, span := tracer.Start(ctx, "analytics.PageRank",
		trace.WithAttributes(
			attribute.Int("node_count", g.NodeCount()),
			attribute.Int("edge_count", g.EdgeCount()),
		),
	)
	defer span.End()

	if opts == nil {
		opts = DefaultPageRankOptions()
	} else {
		o := *opts
		o.Validate()
		opts = &o
	}

	ids := g.Nodes()
	index := make(map[string]int, len(ids)+len(extra))
	nodes := make([]string, 0, len(ids)+len(extra))
	for _, id := range append(append([]string(nil), ids...), extra...) {
		if _, ok := index[id]; !ok {
			index[id] = len(nodes)
			nodes = append(nodes, id)
		}
	}

	n := len(nodes)
	if n == 0 {
		span.AddEvent("empty_graph")
		return &PageRankResult{Scores: map[string]float64{}, Top: []RankedNode{}, Converged: true}
	}

	// Incoming adjacency by index, and out-degree.
	incoming := make([][]int, n)
	outDegree := make([]int, n)
	for i, id := range nodes {
		for _, e := range g.Out(id) {
			j := index[e.To]
			incoming[j] = append(incoming[j], i)
			outDegree[i]++
		}
	}
	var sinks []int
	for i, d := range outDegree {
		if d == 0 {
			sinks = append(sinks, i)
		}
	}

	N := float64(n)
	d := opts.DampingFactor
	scores := make([]float64, n)
	next := make([]float64, n)
	for i := range scores {
		scores[i] = 1 / N
	}

	var (
		iterations int
		converged  bool
		maxDiff    float64
	)
	for iter := 0; iter < opts.MaxIterations; iter++ {
		if ctx.Err() != nil {
			span.AddEvent("cancelled", trace.WithAttributes(attribute.Int("iterations_completed", iter)))
			break
		}

		sink := 0.0
		for _, s := range sinks {
			sink += scores[s]
		}
		sink = d * sink / N

		maxDiff = 0
		for i := range nodes {
			v := (1-d)/N + sink
			for _, from := range incoming[i] {
				v += d * scores[from] / float64(outDegree[from])
			}
			next[i] = v
			if diff := math.Abs(v - scores[i]); diff > maxDiff {
				maxDiff = diff
			}
		}
		scores, next = next, scores
		iterations = iter + 1

		if maxDiff < opts.Convergence {
			converged = true
			break
		}
	}

	result := &PageRankResult{
		Scores:     make(map[string]float64, n),
		Iterations: iterations,
		Converged:  converged,
		MaxDiff:    maxDiff,
	}
	order := make([]int, n)
	for i := range nodes {
		result.Scores[nodes[i]] = scores[i]
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		if scores[order[a]] != scores[order[b]] {
			return scores[order[a]] > scores[order[b]]
		}
		return nodes[order[a]] < nodes[order[b]]
	})
	top := min(opts.TopN, n)
	result.Top = make([]RankedNode, top)
	for r := 0; r < top; r++ {
		i := order[r]
		result.Top[r] = RankedNode{ID: nodes[i], Score: scores[i], Rank: r + 1}
	}

	span.SetAttributes(
		attribute.Int("iterations", iterations),
		attribute.Bool("converged", converged),
		attribute.Float64("max_diff", maxDiff),
	)
	return result
}

// PageRank ranks resources by centrality over the traversal facade.
type PageRank struct {
	graph     *traversal.View
	resources *Resources
	opts      *PageRankOptions
	logger    *slog.Logger
	latest    atomic.Pointer[PageRankResult]
}

func NewPageRank(graph *traversal.View, resources *Resources, opts *PageRankOptions, logger *slog.Logger) *PageRank {
	if opts == nil {
		opts = DefaultPageRankOptions()
	}
	opts.Validate()
	return &PageRank{graph: graph, resources: resources, opts: opts, logger: logger}
}

func (p *PageRank) Name() string { return NamePageRank }

func (p *PageRank) Capabilities() []analysis.Requirement {
	return []analysis.Requirement{CapCentrality}
}

// Latest returns the last result, or nil.
func (p *PageRank) Latest() *PageRankResult { return p.latest.Load() }

func (p *PageRank) Compute(ctx context.Context) (analysis.Result, error) {
	var extra []string
	if p.resources != nil {
		extra = p.resources.Latest()
	}
	res := ComputePageRank(ctx, p.graph.Graph(), extra, p.opts)
	if err := ctx.Err(); err != nil {
		return analysis.Result{}, err
	}
	p.latest.Store(res)

	p.logger.Debug("PageRank completed",
		slog.Int("iterations", res.Iterations),
		slog.Bool("converged", res.Converged),
		slog.Float64("max_diff", res.MaxDiff),
		slog.Int("node_count", len(res.Scores)))

	return analysis.Result{Items: len(res.Scores), Value: res, ComputedAt: time.Now()}, nil
}
