// go-magble
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-magble.
//
// go-magble is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-magble is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-magble; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

package magble

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

type request struct {
	ctx       context.Context
	run       func(ctx context.Context) (any, error)
	done      chan response
	cancelled *atomic.Bool
	name      string
}

type response struct {
	value any
	err   error
}

// commandQueue serializes every exchange with the device. Requests run one
// at a time in submission order on a single worker goroutine. Enqueueing
// never blocks, so the notification loop can schedule follow-ups.
type commandQueue struct {
	wake    chan struct{}
	pending []*request
	mu      sync.Mutex
	closed  bool
}

func newCommandQueue() *commandQueue {
	return &commandQueue{wake: make(chan struct{}, 1)}
}

func (q *commandQueue) push(r *request) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, r)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

func (q *commandQueue) pop() *request {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil
	}
	r := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	return r
}

// open accepts requests again after close.
func (q *commandQueue) open() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// close rejects further requests and returns the ones still waiting.
func (q *commandQueue) close() []*request {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	rest := q.pending
	q.pending = nil
	return rest
}

// run executes requests until base is done. A running request is cancelled
// together with base.
func (q *commandQueue) run(base context.Context) {
	for {
		for r := q.pop(); r != nil; r = q.pop() {
			if r.cancelled.Load() {
				continue
			}
			ctx, cancel := context.WithCancel(r.ctx)
			stop := context.AfterFunc(base, cancel)
			v, err := r.run(ctx)
			stop()
			cancel()
			if r.done != nil {
				r.done <- response{value: v, err: err}
			}
		}
		select {
		case <-q.wake:
		case <-base.Done():
			return
		}
	}
}

// fail answers every request that will not run.
func fail(rest []*request, err error) {
	for _, r := range rest {
		if r.done != nil {
			r.done <- response{err: err}
		}
	}
}

// submit queues fn and waits for its result. The caller's context aborts
// the wait while the request is queued; once running, fn sees the context
// and aborts between polls.
func submit[T any](ctx context.Context, d *Device, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if !d.running.Load() {
		return zero, ErrDeviceNotOpen
	}

	r := &request{
		ctx:       ctx,
		name:      name,
		done:      make(chan response, 1),
		cancelled: atomic.NewBool(false),
		run: func(ctx context.Context) (any, error) {
			return fn(ctx)
		},
	}
	if !d.queue.push(r) {
		return zero, ErrDeviceNotOpen
	}

	select {
	case res := <-r.done:
		if res.err != nil {
			return zero, res.err
		}
		v, _ := res.value.(T)
		return v, nil
	case <-ctx.Done():
		r.cancelled.Store(true)
		// the worker may have picked the request up already
		select {
		case res := <-r.done:
			if res.err != nil {
				return zero, res.err
			}
			v, _ := res.value.(T)
			return v, nil
		default:
		}
		return zero, ctx.Err()
	}
}

// enqueue schedules fn without waiting, for follow-ups issued from the
// notification loop. Failures are published as ErrorEvents.
func (d *Device) enqueue(name string, fn func(ctx context.Context) error) {
	r := &request{
		ctx:       context.Background(),
		name:      name,
		cancelled: atomic.NewBool(false),
		run: func(ctx context.Context) (any, error) {
			if err := fn(ctx); err != nil {
				d.publishError(err)
			}
			return nil, nil
		},
	}
	if !d.queue.push(r) {
		d.logger.Debug("[QUEUE] dropped follow-up, device closed", "command", name)
	}
}
