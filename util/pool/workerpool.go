// Copyright 2024 The Nebulacore Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or
// implied. See the License for the specific language governing
// permissions and limitations under the License.

// Package pool implements the bounded worker pools every daemon sizes
// from its CLI flags: ioPool for wire-packet handling, workerPool for
// CPU-bound row encode/decode, and adminPool for HTTP admin requests.
// Each is a fixed goroutine count draining a buffered channel of
// closures, the idiomatic Go stand-in for the C++ thread pools the
// concurrency model describes.
package pool

import (
	"context"
	"errors"

	"golang.org/x/time/rate"
)

// ErrPoolClosed is returned by Submit once Close has been called.
var ErrPoolClosed = errors.New("pool: closed")

// ErrPoolFull is returned by TrySubmit when the task queue has no
// free slot, rather than blocking the caller.
var ErrPoolFull = errors.New("pool: queue full")

// WorkerPool is a fixed-size goroutine pool draining a buffered channel
// of closures.
type WorkerPool struct {
	tasks chan func()
	done  chan struct{}
}

// New starts a pool of numWorkers goroutines reading off a queue of the
// given depth.
func New(numWorkers, queueDepth int) *WorkerPool {
	p := &WorkerPool{
		tasks: make(chan func(), queueDepth),
		done:  make(chan struct{}),
	}
	for i := 0; i < numWorkers; i++ {
		go p.runWorker()
	}
	return p
}

func (p *WorkerPool) runWorker() {
	for {
		select {
		case fn, ok := <-p.tasks:
			if !ok {
				return
			}
			fn()
		case <-p.done:
			return
		}
	}
}

// Submit blocks until the task is queued or the pool is closed.
func (p *WorkerPool) Submit(fn func()) error {
	select {
	case <-p.done:
		return ErrPoolClosed
	default:
	}
	select {
	case p.tasks <- fn:
		return nil
	case <-p.done:
		return ErrPoolClosed
	}
}

// TrySubmit queues fn without blocking, failing fast with ErrPoolFull
// when the queue is saturated — used by metad's /hosts and /heartbeat
// handlers, which answer 503 rather than pile up behind a slow store
// operation.
func (p *WorkerPool) TrySubmit(fn func()) error {
	select {
	case p.tasks <- fn:
		return nil
	case <-p.done:
		return ErrPoolClosed
	default:
		return ErrPoolFull
	}
}

// Close stops accepting new work; in-flight tasks already pulled off the
// queue are allowed to finish.
func (p *WorkerPool) Close() {
	close(p.done)
}

// AdminPool wraps a WorkerPool with a token-bucket rate limit, since
// admin requests (schema changes, host list, index builds) come from
// operators and a runaway script hitting the admin HTTP surface should
// be throttled rather than starve the data path's own goroutines.
type AdminPool struct {
	pool    *WorkerPool
	limiter *rate.Limiter
}

// NewAdminPool builds an AdminPool whose requests are both bounded by
// numWorkers/queueDepth and throttled to ratePerSec sustained requests
// per second with a burst allowance of burst.
func NewAdminPool(numWorkers, queueDepth int, ratePerSec float64, burst int) *AdminPool {
	return &AdminPool{
		pool:    New(numWorkers, queueDepth),
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Submit waits for both a rate-limiter token and a free worker slot,
// respecting ctx's deadline/cancellation while waiting on the limiter.
func (p *AdminPool) Submit(ctx context.Context, fn func()) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	return p.pool.Submit(fn)
}

// Close stops the underlying worker pool.
func (p *AdminPool) Close() {
	p.pool.Close()
}
