// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

// Package semaphore implements a monotonic-counter timeline semaphore: a
// value that only ever increases, a sticky failure state that overrides it,
// and a registry of tasks (or plain callers) waiting for the value to reach
// some threshold.
//
// The queue package uses this to decide, for each wait in a submission's
// wait list, whether the dependency is already satisfied (elide: complete
// the dependent task's edge immediately, no handle registered) or must be
// deferred until a future Signal/Fail call.
package semaphore

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/localqueue/hal/pkg/executor"
	"github.com/localqueue/hal/pkg/halerr"
	"golang.org/x/sync/singleflight"
)

// waiter is one registered threshold: notify fires at most once, with the
// status the semaphore resolved to (nil on success, non-nil on failure).
// Context cancellation of a WaitValue caller is handled by WaitValue itself
// and never reaches notify.
type waiter struct {
	value  uint64
	notify func(status error)
}

// Semaphore is a single timeline semaphore, shared by reference across every
// submission batch that signals or waits on it. Callers Retain it while they
// hold a reference and Release it when done, so a queue can tell when a
// semaphore handle is no longer reachable from any outstanding batch.
type Semaphore struct {
	mu      sync.Mutex
	value   uint64
	failure *halerr.Status
	waiters []waiter

	refs  atomic.Int32
	group singleflight.Group
}

// New creates a Semaphore at initialValue with one reference held.
func New(initialValue uint64) *Semaphore {
	s := &Semaphore{value: initialValue}
	s.refs.Store(1)
	return s
}

// Retain adds a reference.
func (s *Semaphore) Retain() { s.refs.Add(1) }

// Release drops a reference, returning the number remaining. It panics if
// called more times than Retain plus the implicit reference from New.
func (s *Semaphore) Release() int32 {
	n := s.refs.Add(-1)
	if n < 0 {
		panic("semaphore: released more times than retained")
	}
	return n
}

// Value returns the semaphore's current counter value.
func (s *Semaphore) Value() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Failure returns the sticky failure status, or nil if the semaphore has
// never failed.
func (s *Semaphore) Failure() *halerr.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Signal advances the semaphore to value, which must be strictly greater
// than the current value, and wakes every waiter whose threshold is now
// satisfied. It returns ErrFailedPrecondition-wrapped error if value does
// not advance the counter, and an error if the semaphore has already
// failed — a failed semaphore can never be signaled again.
func (s *Semaphore) Signal(value uint64) error {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return fmt.Errorf("semaphore already failed: %w", s.failure)
	}
	if value <= s.value {
		s.mu.Unlock()
		return fmt.Errorf("semaphore signal value %d does not exceed current value %d: %w", value, s.value, halerr.ErrFailedPrecondition)
	}
	s.value = value

	var ready []waiter
	remaining := s.waiters[:0]
	for _, w := range s.waiters {
		if w.value <= value {
			ready = append(ready, w)
		} else {
			remaining = append(remaining, w)
		}
	}
	s.waiters = remaining
	s.mu.Unlock()

	for _, w := range ready {
		w.notify(nil)
	}
	return nil
}

// Fail latches status permanently: every current and future waiter is (or
// will be) woken with status instead of ever seeing the value advance
// again. Calling Fail a second time is a no-op — the first failure wins,
// matching how a batch clones one status into every signal semaphore it
// touches.
func (s *Semaphore) Fail(status *halerr.Status) {
	s.mu.Lock()
	if s.failure != nil {
		s.mu.Unlock()
		return
	}
	s.failure = status
	ready := s.waiters
	s.waiters = nil
	s.mu.Unlock()

	for _, w := range ready {
		w.notify(status)
	}
}

// EnqueueTimepoint registers target as waiting for the semaphore to reach
// value. The caller must have already called target.AddDependency() once
// for this registration (one per semaphore in a wait list) so the target's
// fan-in count accounts for it; EnqueueTimepoint guarantees target.Arrive
// is called exactly once in response, either synchronously before it
// returns (elided — the condition already holds, or the semaphore has
// already failed) or later from Signal/Fail.
//
// elided reports whether the completion fired synchronously, so callers can
// track how often the same-queue fast path avoids registering a real wait.
func (s *Semaphore) EnqueueTimepoint(value uint64, target *executor.Task) (elided bool) {
	s.mu.Lock()
	if s.failure != nil {
		status := s.failure
		s.mu.Unlock()
		target.Arrive(status)
		return true
	}
	if s.value >= value {
		s.mu.Unlock()
		target.Arrive(nil)
		return true
	}
	s.waiters = append(s.waiters, waiter{value: value, notify: func(status error) { target.Arrive(status) }})
	s.mu.Unlock()
	return false
}

// WaitValue blocks the calling goroutine until the semaphore reaches value,
// the semaphore fails, or ctx is done, without requiring a Task or
// Executor. Concurrent WaitValue calls for the same value are collapsed
// into a single registered waiter via singleflight, the same stampede
// protection the blast-radius cache uses for identical concurrent lookups.
func (s *Semaphore) WaitValue(ctx context.Context, value uint64) error {
	key := strconv.FormatUint(value, 10)
	result, err, _ := s.group.Do(key, func() (any, error) {
		s.mu.Lock()
		if s.failure != nil {
			status := s.failure
			s.mu.Unlock()
			return status, nil
		}
		if s.value >= value {
			s.mu.Unlock()
			return nil, nil
		}
		ch := make(chan error, 1)
		s.waiters = append(s.waiters, waiter{value: value, notify: func(status error) { ch <- status }})
		s.mu.Unlock()

		select {
		case status := <-ch:
			return status, nil
		case <-ctx.Done():
			return ctx.Err(), nil
		}
	})
	if err != nil {
		return err
	}
	if result == nil {
		return nil
	}
	return result.(error)
}
