// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExecutor_SingleTask_Runs(t *testing.T) {
	exec := New(Options{})
	var ran atomic.Bool
	done := make(chan struct{})

	task := exec.NewCallTask("solo", func(ctx context.Context, pending *Submission) error {
		ran.Store(true)
		close(done)
		return nil
	})

	sub := &Submission{}
	sub.Enqueue(task)
	exec.Submit(sub)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
	require.True(t, ran.Load())
}

func TestExecutor_CompletionEdge_FiresAfterDependency(t *testing.T) {
	exec := New(Options{})
	var order []string
	var mu sync.Mutex
	done := make(chan struct{})

	second := exec.NewCallTask("second", func(ctx context.Context, pending *Submission) error {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
		close(done)
		return nil
	})
	first := exec.NewCallTask("first", func(ctx context.Context, pending *Submission) error {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
		return nil
	})
	first.SetCompletionTask(second)

	sub := &Submission{}
	sub.Enqueue(first)
	exec.Submit(sub)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second task never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestExecutor_FanIn_WaitsForAllPredecessors(t *testing.T) {
	exec := New(Options{})
	var arrived atomic.Int32
	done := make(chan struct{})

	target := exec.NewCallTask("target", func(ctx context.Context, pending *Submission) error {
		close(done)
		return nil
	})

	const n = 5
	workers := make([]*Task, n)
	for i := range workers {
		workers[i] = exec.NewCallTask("worker", func(ctx context.Context, pending *Submission) error {
			arrived.Add(1)
			time.Sleep(5 * time.Millisecond)
			return nil
		})
		workers[i].SetCompletionTask(target)
	}

	sub := &Submission{}
	for _, w := range workers {
		sub.Enqueue(w)
	}
	exec.Submit(sub)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("target never fired")
	}
	require.EqualValues(t, n, arrived.Load())
}

func TestExecutor_FailurePropagates_SkipsRunInvokesCleanup(t *testing.T) {
	exec := New(Options{})
	sentinel := errors.New("boom")
	var gotStatus error
	var secondRan atomic.Bool
	done := make(chan struct{})

	second := exec.NewCallTask("second", func(ctx context.Context, pending *Submission) error {
		secondRan.Store(true)
		return nil
	})
	second.SetCleanupFn(func(status error) {
		gotStatus = status
		close(done)
	})

	first := exec.NewCallTask("first", func(ctx context.Context, pending *Submission) error {
		return sentinel
	})
	first.SetCompletionTask(second)

	sub := &Submission{}
	sub.Enqueue(first)
	exec.Submit(sub)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup never ran")
	}
	require.False(t, secondRan.Load())
	require.ErrorIs(t, gotStatus, sentinel)
}

func TestExecutor_SubTasksEnqueuedDuringRun_AreScheduled(t *testing.T) {
	exec := New(Options{})
	done := make(chan struct{})

	child := exec.NewCallTask("child", func(ctx context.Context, pending *Submission) error {
		close(done)
		return nil
	})
	parent := exec.NewCallTask("parent", func(ctx context.Context, pending *Submission) error {
		pending.Enqueue(child)
		return nil
	})

	sub := &Submission{}
	sub.Enqueue(parent)
	exec.Submit(sub)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("child task enqueued mid-run never ran")
	}
}

func TestExecutor_Fence_DecrementsScopeOnFire(t *testing.T) {
	exec := New(Options{})
	scope := NewScope("s1")
	fence := exec.NewFence(scope)
	require.EqualValues(t, 1, scope.Outstanding())

	retire := exec.NewCallTask("retire", func(ctx context.Context, pending *Submission) error {
		return nil
	})
	retire.SetCompletionTask(fence.Task())

	sub := &Submission{}
	sub.Enqueue(retire)
	exec.Submit(sub)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, scope.WaitIdle(ctx))
	require.EqualValues(t, 0, scope.Outstanding())
}

func TestScope_WaitIdle_RespectsContextDeadline(t *testing.T) {
	scope := NewScope("stuck")
	scope.enter()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := scope.WaitIdle(ctx)
	require.Error(t, err)
}

func TestExecutor_Drain_WaitsForDispatchedTasks(t *testing.T) {
	exec := New(Options{})
	var ran atomic.Bool
	task := exec.NewCallTask("drained", func(ctx context.Context, pending *Submission) error {
		time.Sleep(10 * time.Millisecond)
		ran.Store(true)
		return nil
	})
	sub := &Submission{}
	sub.Enqueue(task)
	exec.Submit(sub)
	exec.Drain()
	require.True(t, ran.Load())
}
