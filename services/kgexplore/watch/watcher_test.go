// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type batches struct {
	mu  sync.Mutex
	all [][]Change
}

func (b *batches) handle(changes []Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, changes)
}

func (b *batches) snapshot() [][]Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]Change(nil), b.all...)
}

func startWatcher(t *testing.T, dir string, b *batches) *Watcher {
	t.Helper()
	opts := DefaultOptions()
	opts.Debounce = 50 * time.Millisecond
	w, err := New(dir, b.handle, &opts)
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
	return w
}

func TestWatcher_ReportsDataFiles(t *testing.T) {
	dir := t.TempDir()
	b := &batches{}
	w := startWatcher(t, dir, b)
	assert.True(t, w.IsWatching())

	path := filepath.Join(dir, "graph.nt")
	require.NoError(t, os.WriteFile(path, []byte("<http://s> <http://p> <http://o> .\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	require.Eventually(t, func() bool { return len(b.snapshot()) > 0 }, 5*time.Second, 10*time.Millisecond)

	var paths []string
	for _, batch := range b.snapshot() {
		for _, c := range batch {
			paths = append(paths, c.Path)
		}
	}
	assert.Contains(t, paths, path)
	assert.NotContains(t, paths, filepath.Join(dir, "notes.txt"))
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir := t.TempDir()
	b := &batches{}
	startWatcher(t, dir, b)

	path := filepath.Join(dir, "burst.nt")
	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}

	require.Eventually(t, func() bool { return len(b.snapshot()) > 0 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)

	got := b.snapshot()
	require.Len(t, got, 1)
	assert.Len(t, got[0], 1, "changes to one path collapse")
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	b := &batches{}
	startWatcher(t, dir, b)

	sub := filepath.Join(dir, "more")
	require.NoError(t, os.Mkdir(sub, 0o755))
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "extra.nt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		for _, batch := range b.snapshot() {
			for _, c := range batch {
				if filepath.Base(c.Path) == "extra.nt" {
					return true
				}
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_MissingRoot(t *testing.T) {
	w, err := New(filepath.Join(t.TempDir(), "absent"), nil, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
}

func TestDedupe(t *testing.T) {
	in := []Change{
		{Path: "a", Op: OpCreate},
		{Path: "b", Op: OpWrite},
		{Path: "a", Op: OpWrite},
	}
	assert.Equal(t, []Change{{Path: "a", Op: OpWrite}, {Path: "b", Op: OpWrite}}, dedupe(in))
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Op(42).String())
}
