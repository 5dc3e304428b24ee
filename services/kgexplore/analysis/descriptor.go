// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package analysis declares analysis services and the registry that holds
// their descriptors.
//
// A descriptor states what an analysis needs before it may run (facades and
// sibling capabilities) and which capabilities it provides once it has run.
// Facade IDs and capability tags share one requirement namespace.
package analysis

import (
	"context"
	"slices"
	"time"

	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
)

// Requirement is a facade ID or a capability tag.
type Requirement string

// FacadeRequirement converts a facade ID into a Requirement.
func FacadeRequirement(id facade.ID) Requirement {
	return Requirement(id)
}

// Result is the output of a single compute. Opaque to the scheduler.
type Result struct {
	// Items is the number of entries the analysis produced.
	Items int `json:"items"`

	// Value is the analysis-specific payload. It must be JSON-encodable to
	// be kept by the result store.
	Value any `json:"value,omitempty"`

	// ComputedAt is set by the scheduler when compute returns.
	ComputedAt time.Time `json:"computed_at"`
}

// Service is a unit of derived-data computation.
//
// Compute must be idempotent: runs with different run IDs may call it
// concurrently over the same data.
type Service interface {
	Name() string
	Compute(ctx context.Context) (Result, error)
}

// CapabilityProvider is implemented by services that satisfy roles beyond
// their own name.
type CapabilityProvider interface {
	Capabilities() []Requirement
}

// Descriptor is the declarative registration of one service.
type Descriptor struct {
	Name             string        `json:"name"`
	Disabled         bool          `json:"disabled"`
	RequiredFacades  []Requirement `json:"required_facades"`
	RequiredServices []Requirement `json:"required_services"`

	// Capabilities always contains Name.
	Capabilities []Requirement `json:"capabilities"`
}

// Clone returns a deep copy.
func (d Descriptor) Clone() Descriptor {
	d.RequiredFacades = slices.Clone(d.RequiredFacades)
	d.RequiredServices = slices.Clone(d.RequiredServices)
	d.Capabilities = slices.Clone(d.Capabilities)
	return d
}

// Requirements returns the union of required facades and services,
// deduplicated and sorted.
func (d Descriptor) Requirements() []Requirement {
	out := make([]Requirement, 0, len(d.RequiredFacades)+len(d.RequiredServices))
	out = append(out, d.RequiredFacades...)
	out = append(out, d.RequiredServices...)
	return normalize(out)
}

// Provides reports whether the descriptor implements capability c.
func (d Descriptor) Provides(c Requirement) bool {
	return slices.Contains(d.Capabilities, c)
}

// Registration is the input to Registry.Register.
//
// The Requires* flags are shorthands merged into Facades.
type Registration struct {
	Service  Service
	Disabled bool

	RequiresQuery     bool
	RequiresFullText  bool
	RequiresTraversal bool
	Facades           []facade.ID

	// RequiredServices names capabilities (or service names) that must be
	// available first.
	RequiredServices []string

	// Capabilities lists extra roles. The service name, and any roles the
	// service reports through CapabilityProvider, are always added.
	Capabilities []string
}

// Descriptor derives the normalized descriptor.
func (r Registration) Descriptor() Descriptor {
	name := ""
	if r.Service != nil {
		name = r.Service.Name()
	}

	var facades []Requirement
	if r.RequiresQuery {
		facades = append(facades, FacadeRequirement(facade.Query))
	}
	if r.RequiresFullText {
		facades = append(facades, FacadeRequirement(facade.FullText))
	}
	if r.RequiresTraversal {
		facades = append(facades, FacadeRequirement(facade.Traversal))
	}
	for _, id := range r.Facades {
		facades = append(facades, FacadeRequirement(id))
	}

	services := make([]Requirement, 0, len(r.RequiredServices))
	for _, s := range r.RequiredServices {
		services = append(services, Requirement(s))
	}

	caps := []Requirement{Requirement(name)}
	for _, c := range r.Capabilities {
		caps = append(caps, Requirement(c))
	}
	if p, ok := r.Service.(CapabilityProvider); ok {
		caps = append(caps, p.Capabilities()...)
	}

	return Descriptor{
		Name:             name,
		Disabled:         r.Disabled,
		RequiredFacades:  normalize(facades),
		RequiredServices: normalize(services),
		Capabilities:     normalize(caps),
	}
}

// normalize drops empty values, sorts, and deduplicates.
func normalize(in []Requirement) []Requirement {
	out := slices.DeleteFunc(slices.Clone(in), func(r Requirement) bool { return r == "" })
	slices.Sort(out)
	out = slices.Compact(out)
	if out == nil {
		out = []Requirement{}
	}
	return out
}
