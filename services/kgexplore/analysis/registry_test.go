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
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
)

func svc(name string, caps ...Requirement) Service {
	return NewFunc(name, nil, caps...)
}

func TestRegistration_Descriptor(t *testing.T) {
	reg := Registration{
		Service:          svc("resources", "resource-source"),
		RequiresQuery:    true,
		Facades:          []facade.ID{facade.Query, facade.Traversal},
		RequiredServices: []string{"b", "a", "a", ""},
		Capabilities:     []string{"resource-lister"},
	}

	d := reg.Descriptor()
	assert.Equal(t, "resources", d.Name)
	assert.Equal(t, []Requirement{"query", "traversal"}, d.RequiredFacades, "flags and explicit facades merge without duplicates")
	assert.Equal(t, []Requirement{"a", "b"}, d.RequiredServices)
	assert.Equal(t, []Requirement{"resource-lister", "resource-source", "resources"}, d.Capabilities)
	assert.Equal(t, []Requirement{"a", "b", "query", "traversal"}, d.Requirements())
}

func TestRegistry_DisabledIsSkipped(t *testing.T) {
	r := NewRegistry(nil)

	require.NoError(t, r.Register(Registration{Service: svc("off"), Disabled: true, RequiresQuery: true}))
	require.NoError(t, r.Register(Registration{Service: svc("on"), RequiresQuery: true}))

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, "on", snap[0].Descriptor.Name)
	_, ok := r.Lookup("off")
	assert.False(t, ok, "disabled descriptors never enter the registry")

	require.NoError(t, r.Register(Registration{Disabled: true}), "a disabled entry needs no service")
	assert.Len(t, r.Snapshot(), 1)

	var regErr *RegistrationError
	require.ErrorAs(t, r.Register(Registration{}), &regErr)
	assert.ErrorIs(t, regErr, ErrNilService)
}

func TestRegistry_ReRegistrationLastWriteWins(t *testing.T) {
	r := NewRegistry(nil)
	first := svc("lcs")
	second := svc("lcs")

	require.NoError(t, r.Register(Registration{Service: svc("a")}))
	require.NoError(t, r.Register(Registration{Service: first, RequiresQuery: true}))
	require.NoError(t, r.Register(Registration{Service: second, RequiresTraversal: true}))

	assert.Equal(t, []string{"a", "lcs"}, r.Names(), "replacement keeps the original position")
	e, ok := r.Lookup("lcs")
	require.True(t, ok)
	assert.Same(t, second, e.Service)
	assert.Equal(t, []Requirement{"traversal"}, e.Descriptor.RequiredFacades)
}

func TestRegistry_SnapshotIsDeepCopy(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Registration{Service: svc("x"), RequiresQuery: true, RequiredServices: []string{"y"}}))

	snap := r.Snapshot()
	snap[0].Descriptor.RequiredFacades[0] = "mutated"
	snap[0].Descriptor.RequiredServices = append(snap[0].Descriptor.RequiredServices, "z")

	again := r.Snapshot()
	assert.Equal(t, []Requirement{"query"}, again[0].Descriptor.RequiredFacades)
	assert.Equal(t, []Requirement{"y"}, again[0].Descriptor.RequiredServices)
}

func TestRegistry_Validation(t *testing.T) {
	tests := []struct {
		name string
		reg  Registration
		want error
	}{
		{"nil service", Registration{}, ErrNilService},
		{"empty name", Registration{Service: svc("")}, ErrEmptyName},
		{"name is a facade", Registration{Service: svc("query")}, ErrReservedCapability},
		{"capability is a facade", Registration{Service: svc("a"), Capabilities: []string{"fulltext"}}, ErrReservedCapability},
		{"required service is a facade", Registration{Service: svc("a"), RequiredServices: []string{"traversal"}}, ErrReservedCapability},
		{"unknown facade", Registration{Service: svc("a"), Facades: []facade.ID{"sparql"}}, ErrUnknownFacade},
		{"requires itself", Registration{Service: svc("a"), RequiredServices: []string{"a"}}, ErrSelfRequirement},
		{"requires own capability", Registration{Service: svc("a", "role"), RequiredServices: []string{"role"}}, ErrSelfRequirement},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(nil)
			err := r.Register(tt.reg)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v, want %v", err, tt.want)

			var re *RegistrationError
			assert.ErrorAs(t, err, &re)
			assert.Equal(t, 0, r.Len())
		})
	}
}

func TestRegistry_DetectCycles(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Registration{Service: svc("a"), RequiresQuery: true, RequiredServices: []string{"c-role"}}))
	require.NoError(t, r.Register(Registration{Service: svc("b"), RequiredServices: []string{"a"}}))
	require.NoError(t, r.Register(Registration{Service: svc("c", "c-role"), RequiredServices: []string{"b"}}))

	err := r.DetectCycles()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCycleDetected)

	var ce *CycleError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, []string{"a", "c", "b", "a"}, ce.Path)
}

func TestRegistry_DetectCyclesAcyclic(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Registration{Service: svc("resources"), RequiresQuery: true}))
	require.NoError(t, r.Register(Registration{Service: svc("hierarchy"), RequiredServices: []string{"resources"}}))
	require.NoError(t, r.Register(Registration{Service: svc("lcs"), RequiredServices: []string{"hierarchy", "resources"}}))

	assert.NoError(t, r.DetectCycles())
}

func TestRegistry_Unsatisfiable(t *testing.T) {
	r := NewRegistry(nil)
	require.NoError(t, r.Register(Registration{Service: svc("a"), RequiresQuery: true}))
	require.NoError(t, r.Register(Registration{Service: svc("b"), RequiredServices: []string{"a", "ghost"}}))

	assert.Equal(t, map[string][]Requirement{"b": {"ghost"}}, r.Unsatisfiable())
}

func TestFuncService(t *testing.T) {
	s := NewFunc("x", func(ctx context.Context) (Result, error) {
		return Result{Items: 3}, nil
	}, "role")

	res, err := s.Compute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Items)
	assert.Equal(t, []Requirement{"role"}, s.Capabilities())

	empty, err := NewFunc("y", nil).Compute(context.Background())
	require.NoError(t, err)
	assert.Zero(t, empty.Items)
}
