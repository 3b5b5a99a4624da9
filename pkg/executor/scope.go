// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/localqueue/hal/pkg/halerr"
	"golang.org/x/time/rate"
)

// Scope tracks the number of submitted-but-not-yet-retired batches for one
// queue so that WaitIdle can block until the count drops to zero. A Scope is
// safe for concurrent use by many submitting goroutines and the workers
// retiring their batches.
type Scope struct {
	id          string
	outstanding atomic.Int64
}

// NewScope creates an empty (idle) scope identified by id, used only for
// tracing/logging.
func NewScope(id string) *Scope {
	return &Scope{id: id}
}

// ID returns the scope's identifier.
func (s *Scope) ID() string { return s.id }

// Outstanding reports the current number of in-flight batches.
func (s *Scope) Outstanding() int64 { return s.outstanding.Load() }

func (s *Scope) enter() { s.outstanding.Add(1) }
func (s *Scope) leave() { s.outstanding.Add(-1) }

// WaitIdle blocks until the scope's outstanding count reaches zero or ctx is
// done, whichever comes first. It polls rather than parking on a condition
// variable so that cancellation is immediate and composes with ctx
// deadlines; the poll frequency is capped by a rate limiter so an idle
// caller doesn't spin.
func (s *Scope) WaitIdle(ctx context.Context) error {
	if s.Outstanding() == 0 {
		return nil
	}
	limiter := rate.NewLimiter(rate.Limit(200), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", halerr.ErrDeadlineExceeded, err)
		}
		if s.Outstanding() == 0 {
			return nil
		}
	}
}

// Fence is a lightweight task whose only job is to decrement its scope's
// outstanding count once the batch it was acquired for has fully retired.
// Callers install it as the completion target of a submission's retire
// task.
type Fence struct {
	task  *Task
	scope *Scope
}

// Task returns the underlying executor Task so it can be installed as a
// completion edge.
func (f *Fence) Task() *Task { return f.task }
