// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"github.com/localqueue/hal/pkg/commandbuffer"
	"github.com/localqueue/hal/pkg/semaphore"
)

// SemaphoreValue pairs a semaphore with the value a wait or signal list
// entry cares about.
type SemaphoreValue struct {
	Semaphore *semaphore.Semaphore
	Value     uint64
}

// SemaphoreList is an ordered set of semaphore/value pairs, used for both a
// batch's wait list and its signal list.
type SemaphoreList []SemaphoreValue

// clone returns a copy of l with every semaphore retained, safe to keep
// alive for the lifetime of the submission independent of what the caller
// does with the original slice afterward.
func (l SemaphoreList) clone() SemaphoreList {
	if len(l) == 0 {
		return nil
	}
	cloned := make(SemaphoreList, len(l))
	copy(cloned, l)
	for _, sv := range cloned {
		sv.Semaphore.Retain()
	}
	return cloned
}

// release drops the reference clone took on every semaphore in the list.
func (l SemaphoreList) release() {
	for _, sv := range l {
		sv.Semaphore.Release()
	}
}

// SubmissionBatch is one unit of work handed to a queue: wait for
// WaitSemaphores to reach their values, issue CommandBuffer, then signal
// SignalSemaphores. A nil CommandBuffer is treated as commandbuffer.Nop{} —
// a batch that exists purely to synchronize semaphores.
type SubmissionBatch struct {
	WaitSemaphores   SemaphoreList
	CommandBuffer    commandbuffer.CommandBuffer
	SignalSemaphores SemaphoreList
}
