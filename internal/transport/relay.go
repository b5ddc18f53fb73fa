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

package transport

import "sync"

// Relay delivers values to a handler on its own goroutine, in order and one
// at a time. Push never blocks, so a reader goroutine can keep serving
// replies while the handler is busy.
type Relay[T any] struct {
	handler func(T)
	signal  chan struct{}
	done    chan struct{}
	queue   []T
	mu      sync.Mutex
	closed  bool
}

// NewRelay starts a relay calling handler for every pushed value.
func NewRelay[T any](handler func(T)) *Relay[T] {
	r := &Relay[T]{
		handler: handler,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go r.run()
	return r
}

// Push queues v. Values pushed after Close are dropped.
func (r *Relay[T]) Push(v T) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, v)
	select {
	case r.signal <- struct{}{}:
	default:
	}
	r.mu.Unlock()
}

// Close stops the relay once the queued values are delivered. It must not
// be called from the handler.
func (r *Relay[T]) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.signal)
	r.mu.Unlock()
	<-r.done
}

// Pending returns the number of values not yet handed to the handler.
func (r *Relay[T]) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

func (r *Relay[T]) run() {
	defer close(r.done)
	for {
		r.mu.Lock()
		if len(r.queue) == 0 {
			closed := r.closed
			r.mu.Unlock()
			if closed {
				return
			}
			if _, ok := <-r.signal; !ok {
				// drain what was pushed before close
				r.mu.Lock()
				rest := r.queue
				r.queue = nil
				r.mu.Unlock()
				for _, v := range rest {
					r.handler(v)
				}
				return
			}
			continue
		}
		v := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		r.handler(v)
	}
}
