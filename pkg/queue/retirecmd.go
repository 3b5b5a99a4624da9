// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"

	"github.com/localqueue/hal/pkg/arena"
	"github.com/localqueue/hal/pkg/halerr"
)

// newRetireCleanup returns the CleanupFunc for a batch's retire task. The
// retire task itself has no RunFunc — all of its behavior lives here,
// because cleanup is the one callback the executor guarantees runs exactly
// once regardless of whether the wait or issue task upstream failed.
//
// On success (status nil coming in), it signals every semaphore in signals
// to its target value in order. If a signal fails partway through — a
// value that doesn't advance the semaphore's counter, most likely — the
// semaphores already signaled keep their new value, but the failure is
// then latched into every semaphore in the list, signaled or not: a
// semaphore that already advanced can still be told the batch it was part
// of ultimately failed.
//
// On failure (status non-nil, inherited from wait or issue), every signal
// semaphore is failed with a clone of the same status, and none are
// signaled.
//
// Either way, the batch's arena is closed last, releasing the retained
// wait/signal semaphore references and returning the arena's blocks to its
// pool.
func (q *TaskQueue) newRetireCleanup(signals SemaphoreList, ar *arena.Arena) func(status error) {
	return func(status error) {
		if status == nil {
			for _, sv := range signals {
				if err := sv.Semaphore.Signal(sv.Value); err != nil {
					status = err
					break
				}
			}
		}

		if status != nil {
			failure := halerr.New(status)
			for _, sv := range signals {
				sv.Semaphore.Fail(failure.Clone())
			}
		} else if q.metrics != nil {
			q.metrics.TasksRetired.Add(context.Background(), 1)
		}

		if q.metrics != nil {
			q.metrics.ArenaBytes.Record(context.Background(), int64(ar.BytesUsed()))
			q.metrics.OutstandingCount.Add(context.Background(), -1)
		}

		ar.Close()
	}
}
