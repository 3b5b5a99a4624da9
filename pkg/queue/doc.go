// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

// Package queue implements a single hardware-abstraction-layer task queue:
// batches of command buffers gated by wait semaphores and followed by
// signal semaphores, lowered into a three-task chain (wait → issue →
// retire) on the executor package's task DAG.
//
// Submitting a batch never blocks: every allocation the batch needs (its
// arena, its cloned and retained semaphore lists, its three tasks) happens
// synchronously on the submitting goroutine, and only the wait task is
// handed to the executor. From there the chain runs itself — the wait task
// registers (or immediately satisfies) one timepoint per wait semaphore and
// fires the issue task once all of them and its own completion have
// arrived; the issue task fans the command buffer's recorded work out onto
// the executor and fires the retire task the same way; the retire task
// signals (or, on any upstream failure, fails) every signal semaphore and
// releases the batch's arena.
//
// Submissions made through the same queue are issued to their command
// buffers in the order they were submitted, even though the underlying
// wait semaphores may resolve out of order: each new submission's issue
// task is given an extra dependency on the previous submission's issue
// task, so command buffer N+1 is never handed to the executor before
// command buffer N has been.
package queue
