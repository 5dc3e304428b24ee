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
	"sort"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/traversal"
)

// DefaultClusteringIterations bounds label propagation.
const DefaultClusteringIterations = 20

// Cluster is one group of densely linked nodes.
type Cluster struct {
	ID      int      `json:"id"`
	Label   string   `json:"label"`
	Members []string `json:"members"`
}

// ClusterResult is the output of label propagation.
type ClusterResult struct {
	Clusters   []Cluster `json:"clusters"`
	Iterations int       `json:"iterations"`
	Converged  bool      `json:"converged"`

	// Assignment maps node ID to cluster ID.
	Assignment map[string]int `json:"-"`
}

// ClusterOf returns the cluster ID of node.
func (r *ClusterResult) ClusterOf(node string) (int, bool) {
	id, ok := r.Assignment[node]
	return id, ok
}

// LabelPropagation groups nodes by repeatedly adopting the most common label
// among undirected neighbours. Nodes are visited in sorted order and ties go
// to the smallest label, so the result is deterministic.
func LabelPropagation(ctx context.Context, g *traversal.Graph, maxIterations int) *ClusterResult {
	ctx, span := tracer.Start(ctx, "analytics.LabelPropagation")
	defer span.End()

	if maxIterations <= 0 {
		maxIterations = DefaultClusteringIterations
	}

	nodes := g.Nodes()
	labels := make(map[string]string, len(nodes))
	neighbors := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		labels[n] = n
		neighbors[n] = g.Neighbors(n)
	}

	res := &ClusterResult{Assignment: make(map[string]int, len(nodes))}
	for iter := 0; iter < maxIterations; iter++ {
		if ctx.Err() != nil {
			break
		}
		changed := false
		for _, n := range nodes {
			if len(neighbors[n]) == 0 {
				continue
			}
			counts := make(map[string]int)
			for _, m := range neighbors[n] {
				counts[labels[m]]++
			}
			best, bestCount := labels[n], counts[labels[n]]
			for l, c := range counts {
				if c > bestCount || (c == bestCount && l < best) {
					best, bestCount = l, c
				}
			}
			if best != labels[n] {
				labels[n] = best
				changed = true
			}
		}
		res.Iterations = iter + 1
		if !changed {
			res.Converged = true
			break
		}
	}

	groups := make(map[string][]string)
	for _, n := range nodes {
		groups[labels[n]] = append(groups[labels[n]], n)
	}
	for label, members := range groups {
		res.Clusters = append(res.Clusters, Cluster{Label: label, Members: members})
	}
	sort.Slice(res.Clusters, func(i, j int) bool {
		a, b := res.Clusters[i], res.Clusters[j]
		if len(a.Members) != len(b.Members) {
			return len(a.Members) > len(b.Members)
		}
		return a.Members[0] < b.Members[0]
	})
	for i := range res.Clusters {
		res.Clusters[i].ID = i
		for _, m := range res.Clusters[i].Members {
			res.Assignment[m] = i
		}
	}
	if res.Clusters == nil {
		res.Clusters = []Cluster{}
	}

	span.SetAttributes(
		attribute.Int("cluster_count", len(res.Clusters)),
		attribute.Int("iterations", res.Iterations),
	)
	return res
}

// Clustering groups resources over the traversal facade.
type Clustering struct {
	graph         *traversal.View
	maxIterations int
	logger        *slog.Logger
	latest        atomic.Pointer[ClusterResult]
}

func NewClustering(graph *traversal.View, logger *slog.Logger) *Clustering {
	return &Clustering{graph: graph, maxIterations: DefaultClusteringIterations, logger: logger}
}

func (c *Clustering) Name() string { return NameClustering }

// Latest returns the last result, or nil.
func (c *Clustering) Latest() *ClusterResult { return c.latest.Load() }

func (c *Clustering) Compute(ctx context.Context) (analysis.Result, error) {
	res := LabelPropagation(ctx, c.graph.Graph(), c.maxIterations)
	if err := ctx.Err(); err != nil {
		return analysis.Result{}, err
	}
	c.latest.Store(res)
	c.logger.Debug("clustering completed",
		slog.Int("clusters", len(res.Clusters)),
		slog.Int("iterations", res.Iterations),
		slog.Bool("converged", res.Converged))
	return analysis.Result{Items: len(res.Clusters), Value: res, ComputedAt: time.Now()}, nil
}
