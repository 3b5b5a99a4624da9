// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/localqueue/hal/pkg/arena"
	"github.com/localqueue/hal/pkg/commandbuffer"
	"github.com/localqueue/hal/pkg/executor"
	"github.com/localqueue/hal/pkg/logging"
	"github.com/localqueue/hal/pkg/telemetry"
)

// Options configures a TaskQueue.
type Options struct {
	// Name identifies the queue in logs and traces. Defaults to a
	// generated UUID if empty.
	Name string
	// Executor runs the queue's wait/issue/retire tasks. Required.
	Executor *executor.Executor
	// BlockPool supplies the arena backing each submitted batch. Required.
	BlockPool *arena.BlockPool
	// Logger receives queue-level logs. Defaults to logging.Default(), an
	// Info-level text logger writing to stderr.
	Logger *logging.Logger
	// Metrics, if non-nil, is updated as batches are issued and retired.
	Metrics *telemetry.QueueMetrics
}

// TaskQueue submits batches of wait/issue/retire work onto an Executor,
// preserving FIFO issue order across everything submitted through it.
type TaskQueue struct {
	name    string
	exec    *executor.Executor
	pool    *arena.BlockPool
	scope   *executor.Scope
	logger  *logging.Logger
	metrics *telemetry.QueueMetrics

	mu        sync.Mutex
	tailIssue *executor.Task
	closed    bool
}

// New creates a TaskQueue from opts.
func New(opts Options) *TaskQueue {
	name := opts.Name
	if name == "" {
		name = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &TaskQueue{
		name:    name,
		exec:    opts.Executor,
		pool:    opts.BlockPool,
		scope:   executor.NewScope(name),
		logger:  logger,
		metrics: opts.Metrics,
	}
}

// Name returns the queue's identifier.
func (q *TaskQueue) Name() string { return q.name }

// Submit is a convenience wrapper around SubmitBatch for a single batch.
func (q *TaskQueue) Submit(ctx context.Context, batch SubmissionBatch) error {
	return q.SubmitBatch(ctx, []SubmissionBatch{batch})
}

// SubmitBatch lowers each batch into a wait/issue/retire task chain and
// hands the wait tasks to the executor, in order. Every allocation each
// batch needs happens here, synchronously, before any of its tasks begin
// running — SubmitBatch itself never blocks on the batches' completion.
func (q *TaskQueue) SubmitBatch(ctx context.Context, batches []SubmissionBatch) error {
	ctx, span := telemetry.Tracer.Start(ctx, "queue.SubmitBatch")
	defer span.End()

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.mu.Unlock()

	log := telemetry.LoggerWithTrace(ctx, q.logger.Slog())
	log.Info("submit batch accepted", "queue", q.name, "batches", len(batches))

	for _, batch := range batches {
		if err := q.submitOne(ctx, batch); err != nil {
			log.Error("submit batch failed", "queue", q.name, "error", err)
			return err
		}
	}
	q.exec.Flush()
	return nil
}

func (q *TaskQueue) submitOne(ctx context.Context, batch SubmissionBatch) error {
	ar := arena.New(q.pool)

	waits := batch.WaitSemaphores.clone()
	signals := batch.SignalSemaphores.clone()
	ar.OnClose(func() { signals.release() })
	ar.OnClose(func() { waits.release() })

	cmdBuf := batch.CommandBuffer
	if cmdBuf == nil {
		cmdBuf = commandbuffer.Nop{}
	}

	fence := q.exec.NewFence(q.scope)
	if q.metrics != nil {
		q.metrics.OutstandingCount.Add(ctx, 1)
	}

	retireTask := q.exec.NewCallTask("queue."+q.name+".retire", nil)
	retireTask.SetCleanupFn(q.newRetireCleanup(signals, ar))
	retireTask.SetCompletionTask(fence.Task())

	issueTask := q.exec.NewCallTask("queue."+q.name+".issue", q.newIssueRun(cmdBuf, ar, retireTask))
	issueTask.SetCompletionTask(retireTask)
	issueTask.SetCleanupFn(q.newIssueCleanup(issueTask))

	waitTask := q.exec.NewCallTask("queue."+q.name+".wait", q.newWaitRun(waits, issueTask))
	waitTask.SetCompletionTask(issueTask)

	// Chaining onto the previous tail and clearing it in the predecessor's
	// own cleanup both happen under q.mu, so the two never race: either the
	// predecessor's cleanup has already nulled tailIssue (no live task left
	// to chain onto) or it hasn't yet, in which case it will observe
	// tailIssue no longer pointing at itself and leave the new edge alone.
	q.mu.Lock()
	if q.tailIssue != nil {
		q.tailIssue.SetCompletionTask(issueTask)
	}
	q.tailIssue = issueTask
	q.mu.Unlock()

	q.logger.Debug("batch lowered to wait/issue/retire chain", "queue", q.name,
		"waits", len(waits), "signals", len(signals))

	sub := &executor.Submission{}
	sub.Enqueue(waitTask)
	q.exec.Submit(sub)
	return nil
}

// WaitIdle blocks until every batch submitted through this queue has
// retired, or ctx is done.
func (q *TaskQueue) WaitIdle(ctx context.Context) error {
	return q.scope.WaitIdle(ctx)
}

// Close marks the queue closed (further Submit/SubmitBatch calls return
// ErrClosed) and blocks, ignoring cancellation, until every batch already
// submitted has retired.
func (q *TaskQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return q.scope.WaitIdle(context.Background())
}
