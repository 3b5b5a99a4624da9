// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

// Package arena implements a block-pool-backed bump allocator: one Arena per
// submitted batch, sourcing fixed-size blocks from a shared BlockPool,
// bump-allocating zeroed scratch byte buffers, and running a single ordered
// set of release callbacks exactly once at Close. The queue package uses a
// batch's Arena only for those close callbacks (releasing the batch's
// semaphore retains); its cloned semaphore lists and tasks are ordinary Go
// heap values, not arena allocations.
//
// Go's garbage collector makes manual lifetime tricks unnecessary here: an
// Arena is an ordinary heap-allocated value, and callers can compare task
// pointers directly for identity, since nothing ever reuses a task's backing
// memory for a different submission.
package arena

import (
	"fmt"
	"sync"

	"github.com/localqueue/hal/pkg/halerr"
)

// DefaultBlockSize is the size of each block drawn from a BlockPool, chosen
// to comfortably hold a clone of a handful of semaphores or command-buffer
// pointers without needing a second block for the common case.
const DefaultBlockSize = 4096

// BlockPoolOptions configures a BlockPool. The zero value selects
// DefaultBlockSize blocks with no pre-warming.
type BlockPoolOptions struct {
	// BlockSize is the size in bytes of each block handed out. Default:
	// DefaultBlockSize.
	BlockSize int
}

// BlockPool is a thread-safe source of fixed-size byte blocks, backed by
// sync.Pool so that blocks are reused across submissions instead of
// churning the allocator on every batch. It never releases blocks back to
// the runtime explicitly (sync.Pool does that under memory pressure) and it
// is shared across many queues, which only ever borrow it, never own or
// release it.
type BlockPool struct {
	blockSize int
	pool      sync.Pool
}

// NewBlockPool creates a BlockPool with opts, or DefaultBlockSize if
// opts.BlockSize is zero.
func NewBlockPool(opts BlockPoolOptions) *BlockPool {
	blockSize := opts.BlockSize
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}
	bp := &BlockPool{blockSize: blockSize}
	bp.pool.New = func() any {
		buf := make([]byte, blockSize)
		return &buf
	}
	return bp
}

// acquire returns a block of bp.blockSize bytes; its previous contents are
// not cleared.
func (bp *BlockPool) acquire() []byte {
	buf := bp.pool.Get().(*[]byte)
	return (*buf)[:bp.blockSize]
}

// release returns a block to the pool for reuse.
func (bp *BlockPool) release(block []byte) {
	b := block[:cap(block)]
	bp.pool.Put(&b)
}

// Arena is a single-owner bump allocator scoped to one submitted batch. It
// is not safe for concurrent use: all allocations for a submission are
// expected to happen on the submitting goroutine before any of that
// submission's tasks begin running.
type Arena struct {
	pool       *BlockPool
	blocks     [][]byte
	cur        []byte
	offset     int
	bytesUsed  int
	finalizers []func()
	closed     bool
}

// New initializes an Arena drawing blocks from pool.
func New(pool *BlockPool) *Arena {
	return &Arena{pool: pool}
}

// Allocate bump-allocates n zeroed bytes from the arena, acquiring a new
// block from the pool if the current one cannot satisfy the request. It
// returns ErrResourceExhausted-wrapped error if n exceeds the pool's block
// size (oversized single allocations are not supported — a submission's
// per-task records and cloned semaphore lists are expected to fit well
// within one block).
func (a *Arena) Allocate(n int) ([]byte, error) {
	if a.closed {
		return nil, fmt.Errorf("arena: allocate after close")
	}
	if n < 0 {
		return nil, fmt.Errorf("arena: negative allocation size %d", n)
	}
	if n == 0 {
		return nil, nil
	}
	if n > a.pool.blockSize {
		return nil, fmt.Errorf("arena: allocation of %d bytes exceeds block size %d: %w", n, a.pool.blockSize, halerr.ErrResourceExhausted)
	}

	if a.cur == nil || a.offset+n > len(a.cur) {
		block := a.pool.acquire()
		a.blocks = append(a.blocks, block)
		a.cur = block
		a.offset = 0
	}

	buf := a.cur[a.offset : a.offset+n]
	a.offset += n
	a.bytesUsed += n
	for i := range buf {
		buf[i] = 0
	}
	return buf, nil
}

// OnClose registers fn to run when the arena is closed, in LIFO order —
// mirroring the retire-cleanup discipline of releasing the things most
// recently acquired (e.g. signal-semaphore retains) before the arena's
// blocks are returned to the pool.
func (a *Arena) OnClose(fn func()) {
	a.finalizers = append(a.finalizers, fn)
}

// BytesUsed reports how many bytes have been bump-allocated so far, for the
// hal_arena_bytes metric.
func (a *Arena) BytesUsed() int { return a.bytesUsed }

// Close runs all registered finalizers (LIFO) and returns the arena's
// blocks to its pool. It must be called exactly once, by the owning
// submission's retire cleanup, after every task that touched the arena has
// run. Calling Close twice is a programmer error and panics.
func (a *Arena) Close() {
	if a.closed {
		panic("arena: double close")
	}
	a.closed = true

	for i := len(a.finalizers) - 1; i >= 0; i-- {
		a.finalizers[i]()
	}
	for _, b := range a.blocks {
		a.pool.release(b)
	}
	a.blocks = nil
	a.cur = nil
}
