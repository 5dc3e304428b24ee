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
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/kgexplore/pkg/logging"
)

// Task is a unit of work handed to a Pool.
type Task func()

// Pool executes submitted tasks.
type Pool interface {
	Submit(task Task)
}

// WorkerPool runs tasks on goroutines bounded by a weighted semaphore.
//
// Description:
//
//	Submit never blocks: each task gets a goroutine that waits for a slot.
//	At most Workers tasks execute at once. A task that never returns keeps
//	its slot, so a small pool can starve behind a stuck analysis.
//
// Thread Safety: Safe for concurrent use. Tasks may call Submit. The
// closed flag and the outstanding count share one mutex, so a Submit racing
// Close either runs and is waited for or is dropped.
type WorkerPool struct {
	sem     *semaphore.Weighted
	workers int
	running atomic.Int64
	logger  *slog.Logger

	mu      sync.Mutex
	idle    *sync.Cond
	pending int
	closed  bool
}

// NewWorkerPool creates a pool with the given concurrency. Values below one
// default to GOMAXPROCS.
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	p := &WorkerPool{
		sem:     semaphore.NewWeighted(int64(workers)),
		workers: workers,
		logger:  logging.OrNop(logger).With(slog.String("component", "worker_pool")),
	}
	p.idle = sync.NewCond(&p.mu)
	return p
}

// Submit schedules task. Tasks submitted after Close are dropped and logged.
func (p *WorkerPool) Submit(task Task) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.logger.Warn("task submitted to closed pool dropped")
		return
	}
	p.pending++
	p.mu.Unlock()

	go func() {
		defer p.done()
		if err := p.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer p.sem.Release(1)

		p.running.Add(1)
		defer p.running.Add(-1)
		p.runSafe(task)
	}()
}

func (p *WorkerPool) done() {
	p.mu.Lock()
	p.pending--
	if p.pending == 0 {
		p.idle.Broadcast()
	}
	p.mu.Unlock()
}

func (p *WorkerPool) runSafe(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pool task panicked", slog.Any("panic", r))
		}
	}()
	task()
}

// Workers returns the concurrency limit.
func (p *WorkerPool) Workers() int {
	return p.workers
}

// Running returns the number of tasks currently executing.
func (p *WorkerPool) Running() int {
	return int(p.running.Load())
}

// Wait blocks until every submitted task, including tasks submitted by
// running tasks, has finished.
func (p *WorkerPool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.pending > 0 {
		p.idle.Wait()
	}
}

// Close rejects further submissions and waits for running tasks.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for p.pending > 0 {
		p.idle.Wait()
	}
}

// SyncPool runs each task inline on the submitting goroutine.
//
// Used to exercise re-entrant cascades deterministically.
type SyncPool struct{}

// Submit runs task immediately.
func (SyncPool) Submit(task Task) {
	task()
}
