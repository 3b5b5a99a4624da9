// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"sync/atomic"
)

// RunFunc is the body of a call task. It may enqueue further tasks into
// pending (e.g. the issue task fanning out command-buffer worker tasks) —
// those tasks
// are scheduled by the Executor once RunFunc returns, not inline, so RunFunc
// never blocks waiting on work it just created.
type RunFunc func(ctx context.Context, pending *Submission) error

// CleanupFunc runs exactly once after a task's RunFunc completes (or is
// skipped because an upstream dependency failed). status is nil on success;
// non-nil carries either the task's own RunFunc error or the inherited
// failure from whichever dependency failed first.
type CleanupFunc func(status error)

// Task is one node in the executor's task DAG: a closure plus a set of
// completion edges and a cleanup callback.
//
// A Task may have multiple incoming edges (fan-in) — e.g. every worker task
// a command buffer issues targets the same retire task as its completion —
// tracked by an atomic pending-dependency counter. It may also have more
// than one outgoing edge: a queue uses this to chain one submission's issue
// task as an extra dependency of the next submission's issue task, keeping
// command buffers issued in FIFO order, independently of the normal
// wait/retire edges already running through each task.
type Task struct {
	name string
	exec *Executor

	run     RunFunc
	cleanup CleanupFunc

	completions []*Task

	pendingDeps atomic.Int32
	inherited   atomic.Pointer[error]

	dispatched atomic.Bool
}

// newTask allocates a Task bound to exec. Name is used only for tracing/logging.
func newTask(exec *Executor, name string, run RunFunc) *Task {
	return &Task{name: name, exec: exec, run: run}
}

// SetCompletionTask wires t → target: target will not run until every task
// that names it as a completion target has arrived. It must be called
// before target is dispatched and before t fires its completion edges:
// either before t is submitted, or from code that synchronizes with t's
// cleanup callback (which runs before the edges fire), as the queue does
// when chaining onto its previous issue task under its mutex.
func (t *Task) SetCompletionTask(target *Task) {
	t.completions = append(t.completions, target)
	target.pendingDeps.Add(1)
}

// SetCleanupFn installs the cleanup callback.
func (t *Task) SetCleanupFn(fn CleanupFunc) {
	t.cleanup = fn
}

// Name returns the task's tracing name.
func (t *Task) Name() string { return t.name }

// AddDependency increments t's pending-dependency count by one, for
// producers that arrive at t without being Tasks themselves (a semaphore
// timepoint reaching its target value, for instance). Pair each call with
// exactly one later call to Arrive.
func (t *Task) AddDependency() { t.pendingDeps.Add(1) }

// Arrive is the exported form of arrive, for non-Task producers that hold a
// dependency registered via AddDependency.
func (t *Task) Arrive(status error) { t.arrive(status) }

// arrive records that one incoming edge into t has fired with the given
// status (nil on success). When the last incoming edge arrives, t is
// dispatched onto the executor's worker pool.
func (t *Task) arrive(status error) {
	if status != nil {
		t.inherited.CompareAndSwap(nil, &status)
	}
	if t.pendingDeps.Add(-1) == 0 {
		t.exec.dispatch(t)
	}
}

// runAndPropagate executes t (or skips RunFunc if an upstream dependency
// already failed), invokes cleanup, and fires every completion edge. It
// returns the resulting status for the caller's own logging/tracing.
func (t *Task) runAndPropagate(ctx context.Context) error {
	var status error
	if inherited := t.inherited.Load(); inherited != nil {
		status = *inherited
	} else if t.run != nil {
		sub := &Submission{}
		status = t.run(ctx, sub)
		t.exec.Submit(sub)
	}

	if t.cleanup != nil {
		t.cleanup(status)
	}

	for _, completion := range t.completions {
		completion.arrive(status)
	}
	return status
}

// Submission is an accumulating batch of tasks to hand to the executor in
// one call: RunFunc implementations enqueue newly created sub-tasks here
// rather than dispatching them inline.
type Submission struct {
	tasks []*Task
}

// Enqueue adds t to the submission. Only tasks with zero pending
// dependencies at Submit time are actually dispatched; tasks with incoming
// edges wait for arrive() to reach zero.
func (s *Submission) Enqueue(t *Task) {
	s.tasks = append(s.tasks, t)
}

// Empty reports whether the submission has no tasks enqueued.
func (s *Submission) Empty() bool { return len(s.tasks) == 0 }
