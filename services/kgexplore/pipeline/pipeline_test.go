// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/kgexplore/pkg/logging"
	"github.com/AleutianAI/kgexplore/services/kgexplore/analysis"
	"github.com/AleutianAI/kgexplore/services/kgexplore/events"
	"github.com/AleutianAI/kgexplore/services/kgexplore/facade"
)

func registryWith(t *testing.T, regs ...analysis.Registration) *analysis.Registry {
	t.Helper()
	r := analysis.NewRegistry(nil)
	for _, reg := range regs {
		require.NoError(t, r.Register(reg))
	}
	return r
}

func TestNew_RequiresPool(t *testing.T) {
	_, err := New("run", nil, nil, Hooks{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPipeline_GatesUntilLastRequirement(t *testing.T) {
	reqs := []string{"query", "fulltext", "traversal", "a", "b", "c"}

	for seed := uint64(0); seed < 20; seed++ {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			target := newCounting("target", nil)
			reg := registryWith(t,
				analysis.Registration{
					Service:           target,
					RequiresQuery:     true,
					RequiresFullText:  true,
					RequiresTraversal: true,
					RequiredServices:  []string{"a", "b", "c"},
				},
			)
			pl, err := New("run", reg.Snapshot(), SyncPool{}, Hooks{})
			require.NoError(t, err)

			order := append([]string(nil), reqs...)
			rng := rand.New(rand.NewPCG(seed, seed+1))
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })

			for i, r := range order {
				dispatched := pl.RegisterAvailability(context.Background(), analysis.Requirement(r))
				if i < len(order)-1 {
					require.Empty(t, dispatched, "dispatched after %d of %d requirements", i+1, len(order))
					require.Zero(t, target.calls.Load())
				} else {
					require.Equal(t, []string{"target"}, dispatched)
				}
			}
			assert.Equal(t, int32(1), target.calls.Load())
		})
	}
}

func TestPipeline_AtMostOnceUnderConcurrentAvailability(t *testing.T) {
	svc := newCounting("once", nil)
	reg := registryWith(t, analysis.Registration{Service: svc, RequiresQuery: true, RequiresFullText: true})

	pool := NewWorkerPool(4, nil)
	pl, err := New("run", reg.Snapshot(), pool, Hooks{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				pl.RegisterAvailability(context.Background(), "query", "fulltext")
			} else {
				pl.RegisterAvailability(context.Background(), "fulltext")
			}
		}(i)
	}
	wg.Wait()
	pool.Wait()

	assert.Equal(t, int32(1), svc.calls.Load())
	assert.Equal(t, []string{"once"}, pl.Dispatched())
	assert.True(t, pl.Settled())
}

func TestPipeline_CascadeUnblocksEarlierRegisteredDependent(t *testing.T) {
	log := &callLog{}
	consumer := newCounting("consumer", log)
	producer := newCounting("producer", log, "resource-source")

	// consumer is registered before its producer
	reg := registryWith(t,
		analysis.Registration{Service: consumer, RequiredServices: []string{"resource-source"}},
		analysis.Registration{Service: producer, RequiresQuery: true},
	)

	pool := NewWorkerPool(2, nil)
	pl, err := New("run", reg.Snapshot(), pool, Hooks{})
	require.NoError(t, err)

	pl.RegisterAvailability(context.Background(), "query")
	pool.Wait()

	assert.Equal(t, []string{"producer", "consumer"}, log.snapshot())
	assert.Equal(t, []string{"producer", "consumer"}, pl.Dispatched())
}

func TestPipeline_FailureStopsCascadeAndIsLogged(t *testing.T) {
	rec, logger := logging.NewRecorder(logging.LevelDebug)
	z := newCounting("z", nil, "z-role")
	z.fail.Store(true)
	w := newCounting("w", nil)
	reg := registryWith(t,
		analysis.Registration{Service: z, RequiresQuery: true},
		analysis.Registration{Service: w, RequiredServices: []string{"z-role"}},
	)

	pool := NewWorkerPool(2, nil)
	pl, err := New("run-z", reg.Snapshot(), pool, Hooks{Logger: logger})
	require.NoError(t, err)

	pl.RegisterAvailability(context.Background(), "query")
	pool.Wait()

	assert.Zero(t, w.calls.Load())
	st := pl.Status()
	assert.Equal(t, []string{"w"}, pl.Pending())
	assert.Equal(t, errComputeFailed.Error(), st.Failed["z"])
	require.Len(t, st.Pending, 1)
	assert.Equal(t, []analysis.Requirement{"z-role"}, st.Pending[0].Outstanding)

	failures := rec.Find("analysis failed")
	require.Len(t, failures, 1)
	assert.Equal(t, slog.LevelError, failures[0].Level)
	assert.Equal(t, "z", failures[0].Attrs["service"])
	assert.Equal(t, "run-z", failures[0].Attrs["run_id"])
}

func TestPipeline_PanicIsAFailure(t *testing.T) {
	boom := analysis.NewFunc("boom", func(ctx context.Context) (analysis.Result, error) {
		panic("kaboom")
	}, "boom-role")
	after := newCounting("after", nil)
	reg := registryWith(t,
		analysis.Registration{Service: boom, RequiresQuery: true},
		analysis.Registration{Service: after, RequiredServices: []string{"boom-role"}},
	)

	pl, err := New("run", reg.Snapshot(), SyncPool{}, Hooks{})
	require.NoError(t, err)

	require.NotPanics(t, func() { pl.RegisterAvailability(context.Background(), "query") })
	assert.Contains(t, pl.Status().Failed["boom"], ErrComputePanic.Error())
	assert.Zero(t, after.calls.Load())
}

func TestPipeline_SinkAndPublisher(t *testing.T) {
	sink := newMemorySink()
	bus := events.NewBus()
	svc := newCounting("resources", nil)
	reg := registryWith(t, analysis.Registration{Service: svc, RequiresQuery: true})

	pl, err := New("run-9", reg.Snapshot(), SyncPool{}, Hooks{Sink: sink, Publisher: bus})
	require.NoError(t, err)
	pl.RegisterAvailability(context.Background(), "query")

	res, runID, ok := sink.get("resources")
	require.True(t, ok)
	assert.Equal(t, facade.RunID("run-9"), runID)
	assert.Equal(t, "resources", res.Value)
	assert.False(t, res.ComputedAt.IsZero())

	completed := bus.RecentByType(events.TypeAnalysisCompleted)
	require.Len(t, completed, 1)
	assert.Equal(t, "resources", completed[0].Data.(AnalysisEvent).Service)
}

func TestPipeline_OnSettled(t *testing.T) {
	svc := newCounting("a", nil)
	reg := registryWith(t, analysis.Registration{Service: svc, RequiresQuery: true})

	var settled []facade.RunID
	pl, err := New("run", reg.Snapshot(), SyncPool{}, Hooks{
		OnSettled: func(id facade.RunID) { settled = append(settled, id) },
	})
	require.NoError(t, err)

	assert.False(t, pl.Settled())
	pl.RegisterAvailability(context.Background(), "fulltext")
	assert.Empty(t, settled)

	pl.RegisterAvailability(context.Background(), "query")
	assert.Equal(t, []facade.RunID{"run"}, settled)
	assert.True(t, pl.Drained())
}

// A synchronous pool completes every task before Submit returns, so each
// cascade re-enters RegisterAvailability on the submitting goroutine. A lock
// held across Submit would deadlock here.
func TestPipeline_ReentrantCascadeWithSyncPool(t *testing.T) {
	const depth = 200
	log := &callLog{}
	regs := []analysis.Registration{
		{Service: newCounting("step-0", log), RequiresQuery: true},
	}
	for i := 1; i < depth; i++ {
		regs = append(regs, analysis.Registration{
			Service:          newCounting(fmt.Sprintf("step-%d", i), log),
			RequiredServices: []string{fmt.Sprintf("step-%d", i-1)},
		})
	}
	reg := registryWith(t, regs...)

	pl, err := New("run", reg.Snapshot(), SyncPool{}, Hooks{})
	require.NoError(t, err)

	withTimeout(t, 5*time.Second, func() {
		pl.RegisterAvailability(context.Background(), "query")
	})

	calls := log.snapshot()
	require.Len(t, calls, depth)
	for i, name := range calls {
		assert.Equal(t, fmt.Sprintf("step-%d", i), name)
	}
	assert.True(t, pl.Settled())
}

func TestPipeline_ReentrantStressWithSyncPool(t *testing.T) {
	const width = 40
	var regs []analysis.Registration
	var leaves []*countingService
	for i := 0; i < width; i++ {
		root := newCounting(fmt.Sprintf("root-%d", i), nil, "roots")
		leaf := newCounting(fmt.Sprintf("leaf-%d", i), nil)
		leaves = append(leaves, leaf)
		regs = append(regs,
			analysis.Registration{Service: root, RequiresQuery: true, RequiresTraversal: true},
			analysis.Registration{Service: leaf, RequiredServices: []string{fmt.Sprintf("root-%d", i), "roots"}},
		)
	}
	reg := registryWith(t, regs...)

	pl, err := New("run", reg.Snapshot(), SyncPool{}, Hooks{})
	require.NoError(t, err)

	withTimeout(t, 5*time.Second, func() {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				if i%2 == 0 {
					pl.RegisterAvailability(context.Background(), "query")
				} else {
					pl.RegisterAvailability(context.Background(), "traversal")
				}
			}(i)
		}
		wg.Wait()
	})

	for _, leaf := range leaves {
		assert.Equal(t, int32(1), leaf.calls.Load(), "leaf %s", leaf.name)
	}
	assert.True(t, pl.Settled())
}
