// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package facade

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
)

func TestDependent_RebuildReusesUpstreamRunID(t *testing.T) {
	bus := events.NewBus()
	upstream := New(Query, bus)
	downstream := New(FullText, bus)
	changes := collect(bus, events.TypeFacadeStatusChanged)

	var rebuilds atomic.Int32
	dep := Follow(bus, Query, downstream, func(ctx context.Context) error {
		rebuilds.Add(1)
		return nil
	}, nil)
	defer dep.Close()

	runID, err := upstream.Update(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
	dep.Wait()

	assert.Equal(t, int32(1), rebuilds.Load())
	assert.Equal(t, Ready(), downstream.Status())

	var derived []StatusChangeEvent
	for _, ev := range changes() {
		if ev.Facade == FullText {
			derived = append(derived, ev)
		}
	}
	require.Len(t, derived, 2)
	for _, ev := range derived {
		assert.Equal(t, runID, ev.RunID, "derived transition should carry the upstream run id")
	}
}

func TestDependent_IgnoresOtherFacades(t *testing.T) {
	bus := events.NewBus()
	other := New(Traversal, bus)
	downstream := New(FullText, bus)

	var rebuilds atomic.Int32
	dep := Follow(bus, Query, downstream, func(ctx context.Context) error {
		rebuilds.Add(1)
		return nil
	}, nil)
	defer dep.Close()

	_, err := other.SetStatus(context.Background(), Ready())
	require.NoError(t, err)
	dep.Wait()

	assert.Zero(t, rebuilds.Load())
	assert.Equal(t, Initial(), downstream.Status())
}

func TestDependent_RebuildFailureMarksFailed(t *testing.T) {
	bus := events.NewBus()
	upstream := New(Query, bus)
	downstream := New(Traversal, bus)

	dep := Follow(bus, Query, downstream, func(ctx context.Context) error {
		return errors.New("adjacency build failed")
	}, nil)
	defer dep.Close()

	_, err := upstream.SetStatus(context.Background(), Ready())
	require.NoError(t, err)
	dep.Wait()

	assert.Equal(t, Failed("adjacency build failed"), downstream.Status())
}

func TestDependent_CloseStopsFollowing(t *testing.T) {
	bus := events.NewBus()
	upstream := New(Query, bus)
	downstream := New(FullText, bus)

	var rebuilds atomic.Int32
	dep := Follow(bus, Query, downstream, func(ctx context.Context) error {
		rebuilds.Add(1)
		return nil
	}, nil)
	dep.Close()
	dep.Close()

	_, err := upstream.SetStatus(context.Background(), Ready())
	require.NoError(t, err)

	assert.Zero(t, rebuilds.Load())
	assert.Equal(t, 0, bus.SubscriptionCount())
}
