// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package results

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	kgbadger "github.com/AleutianAI/kgexplore/services/kgexplore/storage/badger"
)

func openResults(t *testing.T) *Store {
	t.Helper()
	db, err := kgbadger.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := New(db, nil)
	s.now = func() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func TestStore_StoreAndGet(t *testing.T) {
	ctx := context.Background()
	s := openResults(t)
	computed := time.Date(2025, 3, 1, 11, 59, 0, 0, time.UTC)

	require.NoError(t, s.StoreResult(ctx, "run-1", "pagerank", analysis.Result{
		Items:      2,
		Value:      map[string]float64{"a": 0.5, "b": 0.5},
		ComputedAt: computed,
	}))

	rec, err := s.Get(ctx, "pagerank")
	require.NoError(t, err)
	assert.Equal(t, "pagerank", rec.Service)
	assert.Equal(t, "run-1", string(rec.RunID))
	assert.Equal(t, 2, rec.Items)
	assert.JSONEq(t, `{"a":0.5,"b":0.5}`, string(rec.Value))
	assert.True(t, computed.Equal(rec.ComputedAt))
	assert.Equal(t, 2025, rec.StoredAt.Year())
}

func TestStore_LatestWins(t *testing.T) {
	ctx := context.Background()
	s := openResults(t)

	require.NoError(t, s.StoreResult(ctx, "run-1", "resources", analysis.Result{Items: 1}))
	require.NoError(t, s.StoreResult(ctx, "run-2", "resources", analysis.Result{Items: 5}))

	rec, err := s.Get(ctx, "resources")
	require.NoError(t, err)
	assert.Equal(t, "run-2", string(rec.RunID))
	assert.Equal(t, 5, rec.Items)
}

func TestStore_GetMissing(t *testing.T) {
	_, err := openResults(t).Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_UnencodableValue(t *testing.T) {
	err := openResults(t).StoreResult(context.Background(), "run-1", "bad", analysis.Result{Value: make(chan int)})
	assert.Error(t, err)
}

func TestStore_ListAndClear(t *testing.T) {
	ctx := context.Background()
	s := openResults(t)
	for _, name := range []string{"lcs", "clustering", "pagerank"} {
		require.NoError(t, s.StoreResult(ctx, "run-1", name, analysis.Result{Items: 1, Value: []string{"x"}}))
	}

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "clustering", recs[0].Service)
	assert.Equal(t, "lcs", recs[1].Service)
	assert.Nil(t, recs[2].Value)

	require.NoError(t, s.Clear())
	recs, err = s.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)
}
