// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

// Package executor runs a task DAG: independently-scheduled Task nodes wired
// together by completion edges, dispatched across a bounded worker pool. It
// is the generic scheduling substrate the queue package builds its
// wait/issue/retire graph on top of.
package executor

import (
	"context"
	"sync"

	"github.com/localqueue/hal/pkg/logging"
	"github.com/localqueue/hal/pkg/telemetry"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrency bounds the number of tasks the executor will run at
// once when Options.MaxConcurrency is left at zero.
const DefaultMaxConcurrency = 64

// Options configures an Executor.
type Options struct {
	// MaxConcurrency bounds how many tasks may run concurrently. Zero
	// selects DefaultMaxConcurrency.
	MaxConcurrency int64
	// Logger receives per-task lifecycle logs. Nil selects logging.Default(),
	// an Info-level text logger writing to stderr.
	Logger *logging.Logger
	// Metrics is stored on the Executor; the executor itself records
	// nothing to it (the queue package updates its own QueueMetrics).
	Metrics *telemetry.QueueMetrics
}

// Executor dispatches Task nodes onto a bounded pool of goroutines as their
// dependencies resolve. It has no notion of queues, semaphores, or command
// buffers — those are layered on top by the queue package.
type Executor struct {
	sem     *semaphore.Weighted
	wg      sync.WaitGroup
	logger  *logging.Logger
	metrics *telemetry.QueueMetrics
}

// New creates an Executor from opts.
func New(opts Options) *Executor {
	maxConcurrency := opts.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Executor{
		sem:     semaphore.NewWeighted(maxConcurrency),
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// NewCallTask allocates a Task bound to this executor. It is not scheduled
// until it is passed to Submit (directly, or via a Submission it was
// enqueued into) and has zero pending dependencies.
func (e *Executor) NewCallTask(name string, fn RunFunc) *Task {
	return newTask(e, name, fn)
}

// NewFence allocates a Fence bound to scope: it increments scope's
// outstanding count immediately, and decrements it (unblocking WaitIdle)
// once the fence's task fires as some submission's completion target.
func (e *Executor) NewFence(scope *Scope) *Fence {
	scope.enter()
	t := newTask(e, "fence:"+scope.ID(), nil)
	t.SetCleanupFn(func(status error) {
		scope.leave()
	})
	return &Fence{task: t, scope: scope}
}

// Submit dispatches every task in sub that currently has zero pending
// dependencies. Tasks with incoming edges are dispatched later, when their
// last dependency arrives. Submit is safe to call with a nil or empty
// Submission.
func (e *Executor) Submit(sub *Submission) {
	if sub == nil {
		return
	}
	for _, t := range sub.tasks {
		if t.pendingDeps.Load() == 0 {
			e.dispatch(t)
		}
	}
}

// dispatch runs t on a pool goroutine, blocking only on the concurrency
// semaphore, never on t's own work.
func (e *Executor) dispatch(t *Task) {
	if !t.dispatched.CompareAndSwap(false, true) {
		e.logger.Warn("task dispatched more than once", "task", t.Name())
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx := context.Background()
		if err := e.sem.Acquire(ctx, 1); err != nil {
			e.logger.Error("failed to acquire executor slot", "task", t.Name(), "error", err)
			return
		}
		defer e.sem.Release(1)

		ctx, span := telemetry.Tracer.Start(ctx, t.Name())
		defer span.End()

		status := t.runAndPropagate(ctx)
		if status != nil {
			telemetry.LoggerWithTrace(ctx, e.logger.Slog()).Error("task failed", "task", t.Name(), "error", status)
		} else {
			telemetry.LoggerWithTrace(ctx, e.logger.Slog()).Debug("task completed", "task", t.Name())
		}
	}()
}

// Flush is a no-op: this executor dispatches every runnable task the moment
// it has zero pending dependencies, so there is never a batch of readied
// work sitting undispatched. It exists so callers that lower a sequence of
// submissions and then flush once at the end of the loop (rather than after
// every single one) have something to call.
func (e *Executor) Flush() {}

// Drain blocks until every task dispatched so far has finished running. It
// is intended for tests and graceful shutdown, not for steady-state use —
// the queue package tracks in-flight batches per-scope via Fence/WaitIdle
// instead.
func (e *Executor) Drain() {
	e.wg.Wait()
}
