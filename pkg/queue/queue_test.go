// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/localqueue/hal/pkg/arena"
	"github.com/localqueue/hal/pkg/commandbuffer"
	"github.com/localqueue/hal/pkg/executor"
	"github.com/localqueue/hal/pkg/semaphore"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) *TaskQueue {
	t.Helper()
	return New(Options{
		Name:      "test",
		Executor:  executor.New(executor.Options{}),
		BlockPool: arena.NewBlockPool(arena.BlockPoolOptions{}),
	})
}

func TestSubmit_NoWaits_SignalsImmediately(t *testing.T) {
	q := newTestQueue(t)
	sig := semaphore.New(0)

	require.NoError(t, q.Submit(context.Background(), SubmissionBatch{
		SignalSemaphores: SemaphoreList{{Semaphore: sig, Value: 1}},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
	require.EqualValues(t, 1, sig.Value())
}

func TestSubmit_WaitsForSemaphore_ThenSignals(t *testing.T) {
	q := newTestQueue(t)
	wait := semaphore.New(0)
	sig := semaphore.New(0)

	require.NoError(t, q.Submit(context.Background(), SubmissionBatch{
		WaitSemaphores:   SemaphoreList{{Semaphore: wait, Value: 3}},
		SignalSemaphores: SemaphoreList{{Semaphore: sig, Value: 1}},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.Error(t, q.WaitIdle(ctx)) // not idle yet: still waiting on wait==3
	require.Zero(t, sig.Value())

	require.NoError(t, wait.Signal(3))

	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	require.NoError(t, q.WaitIdle(ctx2))
	require.EqualValues(t, 1, sig.Value())
}

func TestSubmit_CommandBufferRuns(t *testing.T) {
	q := newTestQueue(t)
	var ran atomic.Bool

	cb := &commandbuffer.Recorded{Commands: []commandbuffer.Func{
		func(ctx context.Context) error { ran.Store(true); return nil },
	}}

	require.NoError(t, q.Submit(context.Background(), SubmissionBatch{CommandBuffer: cb}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))
	require.True(t, ran.Load())
}

func TestSubmit_IssueFailure_FailsSignalSemaphores(t *testing.T) {
	q := newTestQueue(t)
	sig := semaphore.New(0)
	sentinel := errors.New("command buffer blew up")

	cb := &commandbuffer.Recorded{Commands: []commandbuffer.Func{
		func(ctx context.Context) error { return sentinel },
	}}

	require.NoError(t, q.Submit(context.Background(), SubmissionBatch{
		CommandBuffer:    cb,
		SignalSemaphores: SemaphoreList{{Semaphore: sig, Value: 1}},
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))

	require.NotNil(t, sig.Failure())
	require.ErrorIs(t, sig.Failure(), sentinel)
	require.Zero(t, sig.Value())
}

func TestSubmitBatch_PreservesFIFOIssueOrder(t *testing.T) {
	q := newTestQueue(t)
	wait := semaphore.New(0)

	var mu sync.Mutex
	var order []int

	makeBatch := func(n int) SubmissionBatch {
		cb := &commandbuffer.Recorded{Commands: []commandbuffer.Func{
			func(ctx context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			},
		}}
		return SubmissionBatch{
			WaitSemaphores: SemaphoreList{{Semaphore: wait, Value: 1}},
			CommandBuffer:  cb,
		}
	}

	require.NoError(t, q.SubmitBatch(context.Background(), []SubmissionBatch{
		makeBatch(1), makeBatch(2), makeBatch(3),
	}))

	require.NoError(t, wait.Signal(1))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestSubmitBatch_NoWaits_PreservesFIFOIssueOrder(t *testing.T) {
	q := newTestQueue(t)

	var mu sync.Mutex
	var order []int

	makeBatch := func(n int) SubmissionBatch {
		cb := &commandbuffer.Recorded{Commands: []commandbuffer.Func{
			func(ctx context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			},
		}}
		return SubmissionBatch{CommandBuffer: cb}
	}

	require.NoError(t, q.SubmitBatch(context.Background(), []SubmissionBatch{
		makeBatch(1), makeBatch(2), makeBatch(3),
	}))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2, 3}, order)
}

func TestSubmit_SeparateCalls_PreservesFIFOIssueOrderAndClearsTail(t *testing.T) {
	q := newTestQueue(t)

	var mu sync.Mutex
	var order []int

	makeBatch := func(n int) SubmissionBatch {
		cb := &commandbuffer.Recorded{Commands: []commandbuffer.Func{
			func(ctx context.Context) error {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil
			},
		}}
		return SubmissionBatch{CommandBuffer: cb}
	}

	ctx := context.Background()
	require.NoError(t, q.Submit(ctx, makeBatch(1)))

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, q.WaitIdle(waitCtx))

	// The first batch's issue task has already retired; its cleanup must
	// have cleared tailIssue so this second, independent Submit call does
	// not wire a completion edge onto a task that will never arrive.
	require.NoError(t, q.Submit(ctx, makeBatch(2)))

	waitCtx2, cancel2 := context.WithTimeout(ctx, time.Second)
	defer cancel2()
	require.NoError(t, q.WaitIdle(waitCtx2))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{1, 2}, order)
}

func TestClose_BlocksUntilOutstandingBatchesRetire_ThenRejectsSubmit(t *testing.T) {
	q := newTestQueue(t)
	sig := semaphore.New(0)
	require.NoError(t, q.Submit(context.Background(), SubmissionBatch{
		SignalSemaphores: SemaphoreList{{Semaphore: sig, Value: 1}},
	}))

	require.NoError(t, q.Close())
	require.EqualValues(t, 1, sig.Value())

	err := q.Submit(context.Background(), SubmissionBatch{})
	require.ErrorIs(t, err, ErrClosed)
}
