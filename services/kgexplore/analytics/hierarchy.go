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
	"github.com/AleutianAI/kgexplore/services/kgexplore/store/triplestore"
)

// Hierarchy is the rdfs:subClassOf structure of the graph.
type Hierarchy struct {
	// Classes is every known class, sorted.
	Classes []string `json:"classes"`

	// Parents maps a class to its direct superclasses, sorted.
	Parents map[string][]string `json:"parents"`

	// Labels holds the first rdfs:label of each labelled class.
	Labels map[string]string `json:"labels,omitempty"`
}

// Roots returns the classes without superclasses.
func (h *Hierarchy) Roots() []string {
	var roots []string
	for _, c := range h.Classes {
		if len(h.Parents[c]) == 0 {
			roots = append(roots, c)
		}
	}
	return roots
}

// ClassHierarchy extracts the class hierarchy from the query facade.
type ClassHierarchy struct {
	store  *triplestore.Store
	logger *slog.Logger
	latest atomic.Pointer[Hierarchy]
}

func NewClassHierarchy(store *triplestore.Store, logger *slog.Logger) *ClassHierarchy {
	return &ClassHierarchy{store: store, logger: logger}
}

func (c *ClassHierarchy) Name() string { return NameClassHierarchy }

// Latest returns the hierarchy of the last compute, or nil.
func (c *ClassHierarchy) Latest() *Hierarchy { return c.latest.Load() }

func (c *ClassHierarchy) Compute(ctx context.Context) (analysis.Result, error) {
	ctx, span := tracer.Start(ctx, "analytics.ClassHierarchy")
	defer span.End()

	classes := make(map[string]struct{})
	parents := make(map[string][]string)

	for _, kind := range []string{triplestore.OWLClass, triplestore.RDFSClass} {
		err := c.store.Each(ctx, triplestore.Pattern{
			Predicate: triplestore.IRI(triplestore.RDFType),
			Object:    triplestore.IRI(kind),
		}, func(t triplestore.Triple) error {
			if t.Subject.Kind == triplestore.KindIRI {
				classes[t.Subject.Value] = struct{}{}
			}
			return nil
		})
		if err != nil {
			return analysis.Result{}, err
		}
	}

	err := c.store.Each(ctx, triplestore.Pattern{Predicate: triplestore.IRI(triplestore.RDFSSubClassOf)},
		func(t triplestore.Triple) error {
			if t.Subject.Kind != triplestore.KindIRI || t.Object.Kind != triplestore.KindIRI {
				return nil
			}
			sub, sup := t.Subject.Value, t.Object.Value
			classes[sub] = struct{}{}
			classes[sup] = struct{}{}
			if sub != sup {
				parents[sub] = append(parents[sub], sup)
			}
			return nil
		})
	if err != nil {
		return analysis.Result{}, err
	}

	h := &Hierarchy{
		Classes: make([]string, 0, len(classes)),
		Parents: parents,
		Labels:  make(map[string]string),
	}
	for cls := range classes {
		h.Classes = append(h.Classes, cls)
	}
	slices.Sort(h.Classes)
	for cls, ps := range parents {
		slices.Sort(ps)
		parents[cls] = slices.Compact(ps)
	}

	err = c.store.Each(ctx, triplestore.Pattern{Predicate: triplestore.IRI(triplestore.RDFSLabel)},
		func(t triplestore.Triple) error {
			if t.Object.Kind != triplestore.KindLiteral {
				return nil
			}
			if _, ok := classes[t.Subject.Value]; ok && t.Subject.Kind == triplestore.KindIRI {
				if _, has := h.Labels[t.Subject.Value]; !has {
					h.Labels[t.Subject.Value] = t.Object.Value
				}
			}
			return nil
		})
	if err != nil {
		return analysis.Result{}, err
	}

	c.latest.Store(h)
	span.SetAttributes(attribute.Int("class_count", len(h.Classes)))
	c.logger.Debug("class hierarchy extracted",
		slog.Int("classes", len(h.Classes)),
		slog.Int("roots", len(h.Roots())))

	return analysis.Result{Items: len(h.Classes), Value: h, ComputedAt: time.Now()}, nil
}
