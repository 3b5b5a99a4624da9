// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

// Package commandbuffer defines the contract an issue task uses to turn a
// recorded batch of work into executor Tasks. It has no opinion about what
// the work actually does — a CommandBuffer just fans commands out onto the
// executor, wiring each one to fire the batch's completion edge (its retire
// task) directly, the same way a DAG's leaf nodes all target a single join.
package commandbuffer

import (
	"context"

	"github.com/localqueue/hal/pkg/arena"
	"github.com/localqueue/hal/pkg/executor"
)

// IssueContext carries everything a CommandBuffer needs to fan its recorded
// work out onto the executor during the queue's issue phase.
type IssueContext struct {
	// Exec creates the worker tasks a command buffer issues.
	Exec *executor.Executor
	// Arena is scoped to the submission being issued; a command buffer may
	// use it for scratch allocations but must not retain it past Issue.
	Arena *arena.Arena
	// Completion is the batch's retire task. Every worker task a command
	// buffer issues must target Completion directly — not the issue task —
	// so retire only fires once all of them, and the issue task itself,
	// have arrived.
	Completion *executor.Task
	// Pending accumulates newly created worker tasks; the executor
	// schedules them once Issue returns.
	Pending *executor.Submission
}

// CommandBuffer turns a batch of recorded work into executor Tasks.
type CommandBuffer interface {
	// Issue fans the command buffer's recorded work onto ic.Exec, wiring
	// each resulting task's completion edge to ic.Completion and enqueuing
	// it into ic.Pending. It returns an error only if issuing itself fails
	// (e.g. a malformed recording) — errors from the issued work surface
	// later, through the normal task failure/cleanup path.
	Issue(ctx context.Context, ic *IssueContext) error
}

// Nop is a CommandBuffer with no recorded work, used for submissions that
// exist purely to synchronize semaphores (a batch with zero command
// buffers). Issuing it does nothing; the batch's retire task fires as soon
// as the issue task itself completes.
type Nop struct{}

// Issue implements CommandBuffer.
func (Nop) Issue(ctx context.Context, ic *IssueContext) error { return nil }

// Func is a single unit of recorded work.
type Func func(ctx context.Context) error

// Recorded is a CommandBuffer backed by an ordered list of independent
// Funcs, each issued as its own worker task running concurrently with the
// others — analogous to a command buffer whose commands have no
// inter-dependencies and can be dispatched across the executor's pool.
type Recorded struct {
	Commands []Func
}

// Issue implements CommandBuffer by creating one worker task per recorded
// command buffer function, each targeting ic.Completion.
func (r *Recorded) Issue(ctx context.Context, ic *IssueContext) error {
	for _, cmd := range r.Commands {
		cmd := cmd
		worker := ic.Exec.NewCallTask("cmdbuf.worker", func(ctx context.Context, pending *executor.Submission) error {
			return cmd(ctx)
		})
		worker.SetCompletionTask(ic.Completion)
		ic.Pending.Enqueue(worker)
	}
	return nil
}
