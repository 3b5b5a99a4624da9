// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"

	"github.com/localqueue/hal/pkg/arena"
	"github.com/localqueue/hal/pkg/commandbuffer"
	"github.com/localqueue/hal/pkg/executor"
)

// newIssueRun returns the RunFunc for a batch's issue task: it hands
// cmdBuf's recorded work to the executor, wiring every resulting worker
// task to fire completion (the retire task) directly. A failure here
// aborts issuing the rest of cmdBuf's work but does not prevent retire
// from running — retire's cleanup still observes the failure and fails
// the batch's signal semaphores.
func (q *TaskQueue) newIssueRun(cmdBuf commandbuffer.CommandBuffer, ar *arena.Arena, completion *executor.Task) executor.RunFunc {
	return func(ctx context.Context, pending *executor.Submission) error {
		ic := &commandbuffer.IssueContext{
			Exec:       q.exec,
			Arena:      ar,
			Completion: completion,
			Pending:    pending,
		}
		if err := cmdBuf.Issue(ctx, ic); err != nil {
			return err
		}
		if q.metrics != nil {
			q.metrics.TasksIssued.Add(ctx, 1)
		}
		return nil
	}
}

// newIssueCleanup returns the cleanup callback for a batch's issue task: if
// q.tailIssue still points at this task it clears it to nil (a later
// submission that already took the tail is left alone), under q.mu, so a later submitOne never wires a completion edge onto an
// issue task that has already run (and so will never call arrive() on it).
func (q *TaskQueue) newIssueCleanup(self *executor.Task) executor.CleanupFunc {
	return func(status error) {
		q.mu.Lock()
		if q.tailIssue == self {
			q.tailIssue = nil
		}
		q.mu.Unlock()
	}
}
