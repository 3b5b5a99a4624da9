// Copyright 2024 The LocalQueue HAL Authors
// SPDX-License-Identifier: Apache-2.0

package queue

import "errors"

// ErrClosed is returned by Submit/SubmitBatch once a queue has been closed.
var ErrClosed = errors.New("queue: closed")
