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

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZaparooProject/go-magble"
	"go.uber.org/atomic"
)

// ErrAlreadyRunning is returned when Start is called on a running dispatcher
var ErrAlreadyRunning = errors.New("dispatcher already running")

// EventSource is anything publishing terminal events, usually a *magble.Device.
type EventSource interface {
	Events() <-chan magble.Event
}

// Callbacks receives the events of one device. Nil callbacks are skipped.
type Callbacks struct {
	OnTransactionData      func(result magble.TransactionResult) error
	OnStatus               func(ev *magble.StatusEvent)
	OnDisplayRequest       func(message string)
	OnUserSelectionRequest func(request *magble.UserSelectionRequestReport) error
	OnError                func(err error)
	OnDisconnect           func(reason error)
}

// Metrics tracks what a Dispatcher delivered
type Metrics struct {
	LastEvent      time.Time
	Events         int64 // Total number of events read
	Transactions   int64 // Number of transaction events
	CallbackErrors int64 // Number of callbacks that returned an error
	Unhandled      int64 // Events without a callback
}

// Dispatcher reads events from a source on its own goroutine and hands
// them to the matching callback.
type Dispatcher struct {
	source    EventSource
	logger    *slog.Logger
	callbacks Callbacks
	stopChan  chan struct{}
	done      chan struct{}
	running   *atomic.Bool

	events         *atomic.Int64
	transactions   *atomic.Int64
	callbackErrors *atomic.Int64
	unhandled      *atomic.Int64
	lastEvent      *atomic.Time
}

// New creates a dispatcher for source. A nil logger uses slog.Default.
func New(source EventSource, callbacks Callbacks, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		source:         source,
		logger:         logger,
		callbacks:      callbacks,
		running:        atomic.NewBool(false),
		events:         atomic.NewInt64(0),
		transactions:   atomic.NewInt64(0),
		callbackErrors: atomic.NewInt64(0),
		unhandled:      atomic.NewInt64(0),
		lastEvent:      atomic.NewTime(time.Time{}),
	}
}

// Start launches the dispatch loop. It runs until Stop is called or ctx
// is done.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	d.stopChan = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(ctx, d.source.Events(), d.stopChan, d.done)
	return nil
}

// Stop ends the dispatch loop and waits for the callback in flight.
func (d *Dispatcher) Stop(ctx context.Context) error {
	if !d.running.CompareAndSwap(true, false) {
		return nil
	}
	close(d.stopChan)
	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping dispatcher: %w", ctx.Err())
	}
}

// Done is closed when the loop has exited.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

func (d *Dispatcher) loop(ctx context.Context, events <-chan magble.Event, stop, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			d.running.Store(false)
			return
		case <-stop:
			return
		case ev, ok := <-events:
			if !ok {
				d.running.Store(false)
				return
			}
			d.Dispatch(ev)
		}
	}
}

// Dispatch hands one event to its callback. It is called by the loop but
// can be used directly to drive callbacks synchronously.
func (d *Dispatcher) Dispatch(ev magble.Event) {
	d.events.Inc()
	d.lastEvent.Store(ev.Time())

	var err error
	handled := true
	switch e := ev.(type) {
	case *magble.TransactionEvent:
		d.transactions.Inc()
		if handled = d.callbacks.OnTransactionData != nil; handled {
			err = d.callbacks.OnTransactionData(e.Result)
		}
	case *magble.StatusEvent:
		if handled = d.callbacks.OnStatus != nil; handled {
			d.callbacks.OnStatus(e)
		}
	case *magble.DisplayEvent:
		if handled = d.callbacks.OnDisplayRequest != nil; handled {
			d.callbacks.OnDisplayRequest(e.Message)
		}
	case *magble.SelectionEvent:
		if handled = d.callbacks.OnUserSelectionRequest != nil; handled {
			err = d.callbacks.OnUserSelectionRequest(e.Request)
		}
	case *magble.ErrorEvent:
		if handled = d.callbacks.OnError != nil; handled {
			d.callbacks.OnError(e.Err)
		}
	case *magble.DisconnectEvent:
		if handled = d.callbacks.OnDisconnect != nil; handled {
			d.callbacks.OnDisconnect(e.Reason)
		}
	default:
		handled = false
	}

	if !handled {
		d.unhandled.Inc()
		return
	}
	if err != nil {
		d.callbackErrors.Inc()
		d.logger.Warn("event callback failed", "event", fmt.Sprintf("%T", ev), "error", err)
	}
}

// GetMetrics returns current dispatch metrics
func (d *Dispatcher) GetMetrics() Metrics {
	return Metrics{
		Events:         d.events.Load(),
		Transactions:   d.transactions.Load(),
		CallbackErrors: d.callbackErrors.Load(),
		Unhandled:      d.unhandled.Load(),
		LastEvent:      d.lastEvent.Load(),
	}
}
