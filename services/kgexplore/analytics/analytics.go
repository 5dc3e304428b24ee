// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analytics contains the built-in analysis services.
//
// Services that consume another service's output hold a handle to it and
// read its latest output. The scheduler only dispatches a consumer after its
// producer completed in the same run, so the latest output is at least as
// fresh as the consumer's trigger.
package analytics

import (
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/fulltext"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/traversal"
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/triplestore"
)

var tracer = otel.Tracer("kgexplore.analytics")

// ErrNotReady is returned when a service runs before the output it consumes
// exists.
var ErrNotReady = errors.New("input analysis has not completed")

// Service names.
const (
	NameResources      = "resources"
	NameClassHierarchy = "class-hierarchy"
	NamePageRank       = "pagerank"
	NameClustering     = "clustering"
	NameLCS            = "lcs"
	NameSimilarity     = "similarity"
)

// Capabilities provided beyond the service names.
const (
	CapResourceLister analysis.Requirement = "resource-lister"
	CapResourceSource analysis.Requirement = "resource-source"
	CapCentrality     analysis.Requirement = "centrality"
)

// Deps are the facade drivers the built-in services read.
type Deps struct {
	Store  *triplestore.Store
	Index  fulltext.Index
	Graph  *traversal.View
	Logger *slog.Logger

	// PageRank overrides the default PageRank options.
	PageRank *PageRankOptions
}

// Suite is the set of built-in services wired to each other.
type Suite struct {
	Resources      *Resources
	ClassHierarchy *ClassHierarchy
	PageRank       *PageRank
	Clustering     *Clustering
	LCS            *LCS
	Similarity     *Similarity
}

// NewSuite constructs every built-in service.
func NewSuite(d Deps) *Suite {
	logger := logging.OrNop(d.Logger)
	s := &Suite{
		Resources:      NewResources(d.Store, logger),
		ClassHierarchy: NewClassHierarchy(d.Store, logger),
		Clustering:     NewClustering(d.Graph, logger),
	}
	s.PageRank = NewPageRank(d.Graph, s.Resources, d.PageRank, logger)
	s.LCS = NewLCS(s.ClassHierarchy, logger)
	s.Similarity = NewSimilarity(s.LCS, d.Index, logger)
	return s
}

// Registrations returns the registration of every built-in service. Names in
// disabled are registered as disabled.
func (s *Suite) Registrations(disabled map[string]bool) []analysis.Registration {
	regs := []analysis.Registration{
		{Service: s.Resources, RequiresQuery: true},
		{Service: s.ClassHierarchy, RequiresQuery: true},
		{Service: s.PageRank, RequiresTraversal: true, RequiredServices: []string{string(CapResourceSource)}},
		{Service: s.Clustering, RequiresTraversal: true},
		{Service: s.LCS, RequiredServices: []string{NameClassHierarchy}},
		{Service: s.Similarity, RequiresFullText: true, RequiredServices: []string{NameLCS}},
	}
	for i := range regs {
		regs[i].Disabled = disabled[regs[i].Service.Name()]
	}
	return regs
}
