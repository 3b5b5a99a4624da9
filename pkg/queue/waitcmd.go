// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"

	"github.com/localqueue/hal/pkg/executor"
)

// newWaitRun returns the RunFunc for a batch's wait task: it registers one
// timepoint per semaphore in waits against target (the issue task),
// relying on Semaphore.EnqueueTimepoint to decide per-semaphore whether the
// condition already holds (elide: fire immediately, no wait handle needed)
// or must wait for a future Signal/Fail. The wait task's own arrival at
// target (wired by the caller via SetCompletionTask) is a separate edge
// from these per-semaphore ones; target only runs once every one of them
// has fired.
func (q *TaskQueue) newWaitRun(waits SemaphoreList, target *executor.Task) executor.RunFunc {
	return func(ctx context.Context, pending *executor.Submission) error {
		for _, wv := range waits {
			target.AddDependency()
			elided := wv.Semaphore.EnqueueTimepoint(wv.Value, target)
			if elided && q.metrics != nil {
				q.metrics.WaitsElided.Add(ctx, 1)
			}
		}
		return nil
	}
}
