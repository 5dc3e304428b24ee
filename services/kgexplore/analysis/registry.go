// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package analysis

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
)

// Registered pairs a descriptor with its service.
type Registered struct {
	Descriptor Descriptor
	Service    Service
}

// Registry holds the descriptors of every enabled analysis service.
//
// Description:
//
//	Services are registered at start-up. Re-registering a name replaces
//	the earlier entry but keeps its position. Snapshot hands out deep
//	copies, so a scheduling run can never mutate the registry.
//
// Thread Safety: Safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Registered
	order   []string
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]Registered),
		logger:  logging.OrNop(logger).With(slog.String("component", "analysis_registry")),
	}
}

// Register validates and stores a registration.
//
// Description:
//
//	Disabled registrations are skipped without error. Otherwise the
//	descriptor is derived from the flags and lists, validated, and stored
//	under the service name, replacing any earlier registration.
//
// Outputs:
//
//	error - *RegistrationError wrapping one of the package sentinels.
func (r *Registry) Register(reg Registration) error {
	desc := reg.Descriptor()
	if desc.Disabled {
		r.logger.Debug("skipping disabled analysis", slog.String("service", desc.Name))
		return nil
	}
	if reg.Service == nil {
		return &RegistrationError{Err: ErrNilService}
	}
	if err := validate(desc, reg.Facades); err != nil {
		return &RegistrationError{Name: desc.Name, Err: err}
	}

	r.mu.Lock()
	_, replaced := r.entries[desc.Name]
	r.entries[desc.Name] = Registered{Descriptor: desc, Service: reg.Service}
	if !replaced {
		r.order = append(r.order, desc.Name)
	}
	r.mu.Unlock()

	r.logger.Info("registered analysis",
		slog.String("service", desc.Name),
		slog.Any("requires", desc.Requirements()),
		slog.Any("capabilities", desc.Capabilities),
		slog.Bool("replaced", replaced),
	)
	return nil
}

func validate(d Descriptor, facades []facade.ID) error {
	if d.Name == "" {
		return ErrEmptyName
	}
	for _, id := range facades {
		if !facade.IsFacadeID(string(id)) {
			return fmt.Errorf("%w: %q", ErrUnknownFacade, id)
		}
	}
	for _, c := range d.Capabilities {
		if facade.IsFacadeID(string(c)) {
			return fmt.Errorf("%w: capability %q", ErrReservedCapability, c)
		}
	}
	for _, s := range d.RequiredServices {
		if facade.IsFacadeID(string(s)) {
			return fmt.Errorf("%w: required service %q", ErrReservedCapability, s)
		}
		if d.Provides(s) {
			return fmt.Errorf("%w: %q", ErrSelfRequirement, s)
		}
	}
	return nil
}

// Snapshot returns deep copies of every registered entry in registration
// order.
func (r *Registry) Snapshot() []Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Registered, 0, len(r.order))
	for _, name := range r.order {
		e := r.entries[name]
		out = append(out, Registered{Descriptor: e.Descriptor.Clone(), Service: e.Service})
	}
	return out
}

// Lookup returns the entry for name.
func (r *Registry) Lookup(name string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return Registered{}, false
	}
	return Registered{Descriptor: e.Descriptor.Clone(), Service: e.Service}, true
}

// Names returns registered service names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// Len returns the number of registered services.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Unsatisfiable returns, per service, the requirements that no facade and no
// registered service provides. Such services can never run.
func (r *Registry) Unsatisfiable() map[string][]Requirement {
	snap := r.Snapshot()
	provided := providers(snap)

	out := make(map[string][]Requirement)
	for _, e := range snap {
		for _, req := range e.Descriptor.RequiredServices {
			if len(provided[req]) == 0 {
				out[e.Descriptor.Name] = append(out[e.Descriptor.Name], req)
			}
		}
	}
	return out
}

// DetectCycles reports the first cycle in the requirement graph, where a
// service depends on every service that provides one of its required
// capabilities.
//
// Outputs:
//
//	error - *CycleError if a cycle exists, nil otherwise.
func (r *Registry) DetectCycles() error {
	snap := r.Snapshot()
	provided := providers(snap)

	adj := make(map[string][]string, len(snap))
	for _, e := range snap {
		var deps []string
		for _, req := range e.Descriptor.RequiredServices {
			deps = append(deps, provided[req]...)
		}
		slices.Sort(deps)
		adj[e.Descriptor.Name] = slices.Compact(deps)
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	path := make([]string, 0, len(snap))

	var dfs func(name string) error
	dfs = func(name string) error {
		visited[name] = true
		onStack[name] = true
		path = append(path, name)

		for _, dep := range adj[name] {
			if !visited[dep] {
				if err := dfs(dep); err != nil {
					return err
				}
			} else if onStack[dep] {
				start := slices.Index(path, dep)
				cycle := append(slices.Clone(path[start:]), dep)
				return &CycleError{Path: cycle}
			}
		}

		path = path[:len(path)-1]
		onStack[name] = false
		return nil
	}

	for _, e := range snap {
		if !visited[e.Descriptor.Name] {
			if err := dfs(e.Descriptor.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

// providers maps each capability to the services implementing it.
func providers(snap []Registered) map[Requirement][]string {
	out := make(map[Requirement][]string)
	for _, e := range snap {
		for _, c := range e.Descriptor.Capabilities {
			out[c] = append(out[c], e.Descriptor.Name)
		}
	}
	return out
}
