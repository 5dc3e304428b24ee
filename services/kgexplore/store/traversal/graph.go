// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package traversal is the graph-traversal facade's adjacency view over
// resource-to-resource triples.
package traversal

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/triplestore"
)

// Edge is a directed, labelled link between two resources.
type Edge struct {
	From      string `json:"from"`
	Predicate string `json:"predicate"`
	To        string `json:"to"`
}

// Graph is an immutable adjacency snapshot.
//
// Thread Safety: Safe for concurrent reads.
type Graph struct {
	nodes []string
	out   map[string][]Edge
	in    map[string][]Edge
	edges int
}

// Options controls which triples become edges.
type Options struct {
	// ExcludePredicates are predicate IRIs that never become edges.
	ExcludePredicates []string
}

// NodeID returns the graph identifier of a resource term: the IRI itself, or
// "_:label" for blank nodes.
func NodeID(t triplestore.Term) string {
	if t.Kind == triplestore.KindBlank {
		return "_:" + t.Value
	}
	return t.Value
}

// FromTriples builds a graph from triples whose subject and object are both
// resources. Duplicate edges are collapsed.
func FromTriples(triples []triplestore.Triple, opts Options) *Graph {
	b := newBuilder(opts)
	for _, t := range triples {
		b.add(t)
	}
	return b.build()
}

// Build reads every resource-valued triple from the store.
func Build(ctx context.Context, store *triplestore.Store, opts Options) (*Graph, error) {
	b := newBuilder(opts)
	err := store.Each(ctx, triplestore.Pattern{}, func(t triplestore.Triple) error {
		b.add(t)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b.build(), nil
}

type builder struct {
	exclude map[string]struct{}
	seen    map[Edge]struct{}
	nodes   map[string]struct{}
	g       *Graph
}

func newBuilder(opts Options) *builder {
	exclude := make(map[string]struct{}, len(opts.ExcludePredicates))
	for _, p := range opts.ExcludePredicates {
		exclude[p] = struct{}{}
	}
	return &builder{
		exclude: exclude,
		seen:    map[Edge]struct{}{},
		nodes:   map[string]struct{}{},
		g:       &Graph{out: map[string][]Edge{}, in: map[string][]Edge{}},
	}
}

func (b *builder) add(t triplestore.Triple) {
	if !t.Subject.IsResource() || !t.Object.IsResource() {
		return
	}
	if _, skip := b.exclude[t.Predicate.Value]; skip {
		return
	}
	e := Edge{From: NodeID(t.Subject), Predicate: t.Predicate.Value, To: NodeID(t.Object)}
	if _, dup := b.seen[e]; dup {
		return
	}
	b.seen[e] = struct{}{}
	b.nodes[e.From] = struct{}{}
	b.nodes[e.To] = struct{}{}
	b.g.out[e.From] = append(b.g.out[e.From], e)
	b.g.in[e.To] = append(b.g.in[e.To], e)
	b.g.edges++
}

func (b *builder) build() *Graph {
	b.g.nodes = make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		b.g.nodes = append(b.g.nodes, id)
	}
	slices.Sort(b.g.nodes)
	return b.g
}

// Nodes returns all node IDs in sorted order. The slice must not be modified.
func (g *Graph) Nodes() []string { return g.nodes }

func (g *Graph) NodeCount() int { return len(g.nodes) }

func (g *Graph) EdgeCount() int { return g.edges }

// Has reports whether id is a node.
func (g *Graph) Has(id string) bool {
	_, ok := slices.BinarySearch(g.nodes, id)
	return ok
}

// Out returns the outgoing edges of id.
func (g *Graph) Out(id string) []Edge { return g.out[id] }

// In returns the incoming edges of id.
func (g *Graph) In(id string) []Edge { return g.in[id] }

// Neighbors returns the distinct nodes adjacent to id in either direction,
// sorted, excluding id itself.
func (g *Graph) Neighbors(id string) []string {
	set := make(map[string]struct{})
	for _, e := range g.out[id] {
		set[e.To] = struct{}{}
	}
	for _, e := range g.in[id] {
		set[e.From] = struct{}{}
	}
	delete(set, id)

	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// View holds the current graph snapshot for the traversal facade.
//
// Thread Safety: Safe for concurrent use. Readers see either the previous or
// the new snapshot, never a partial one.
type View struct {
	store   *triplestore.Store
	opts    Options
	logger  *slog.Logger
	current atomic.Pointer[Graph]
}

// NewView creates a view over store. Until the first Rebuild it exposes an
// empty graph.
func NewView(store *triplestore.Store, opts Options, logger *slog.Logger) *View {
	v := &View{
		store:  store,
		opts:   opts,
		logger: logging.OrNop(logger).With(slog.String("component", "traversal")),
	}
	v.current.Store(FromTriples(nil, opts))
	return v
}

// Graph returns the current snapshot.
func (v *View) Graph() *Graph { return v.current.Load() }

// Rebuild reads the store and swaps in a new snapshot.
func (v *View) Rebuild(ctx context.Context) error {
	start := time.Now()
	g, err := Build(ctx, v.store, v.opts)
	if err != nil {
		return err
	}
	v.current.Store(g)
	v.logger.Debug("traversal graph rebuilt",
		slog.Int("nodes", g.NodeCount()),
		slog.Int("edges", g.EdgeCount()),
		slog.Duration("duration", time.Since(start)))
	return nil
}
