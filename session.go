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
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/atomic"
)

// SessionState is the phase of a Device session.
type SessionState string

// Session states
const (
	StateIdle                  SessionState = "idle"
	StateAwaitingService       SessionState = "awaitingService"
	StateSwipeInProgress       SessionState = "swipeInProgress"
	StateTransactionInProgress SessionState = "transactionInProgress"
	StatePinEntryInProgress    SessionState = "pinEntryInProgress"
	// StateAwaitingResponse is reported while a command waits for its
	// response outside of a card operation
	StateAwaitingResponse SessionState = "awaitingResponse"
)

// session events
const (
	evConnect     = "connect"
	evReady       = "ready"
	evSwipe       = "swipe"
	evTransaction = "transaction"
	evPinEntry    = "pinEntry"
	evReset       = "reset"
)

var anyPhase = []string{
	string(StateIdle),
	string(StateAwaitingService),
	string(StateSwipeInProgress),
	string(StateTransactionInProgress),
	string(StatePinEntryInProgress),
}

// TransactionContext is the scratch state of one card operation. It is
// created when the operation starts and handed out when it completes.
type TransactionContext struct {
	Started time.Time
	Swipe   SwipeData
	ARQC    *EMVData
	Batch   *EMVData
	Kind    TransactionKind
	ID      uuid.UUID
	// QuickChip suppresses delivery of the ARQC
	QuickChip bool
}

func newTransactionContext(kind TransactionKind, quickChip bool) *TransactionContext {
	return &TransactionContext{
		ID:        uuid.New(),
		Kind:      kind,
		Started:   time.Now(),
		QuickChip: quickChip,
	}
}

func (tc *TransactionContext) result(final bool) TransactionResult {
	r := TransactionResult{ID: tc.ID, Kind: tc.Kind, ARQC: tc.ARQC, Batch: tc.Batch, Final: final}
	if tc.Kind == TransactionSwipe || tc.Swipe.Track2.Data != "" || tc.Swipe.KSN != "" {
		s := tc.Swipe
		r.Swipe = &s
	}
	return r
}

// session owns the phase machine and the flags shared between the command
// worker and the notification loop.
type session struct {
	phase *fsm.FSM
	tx    *TransactionContext

	// commandSent is set between a write and the device saying a response
	// is readable, respAvailable from then until the response is read
	commandSent   *atomic.Bool
	respAvailable *atomic.Bool
	swipeBegun    *atomic.Bool
	txStarted     *atomic.Bool
	dataGathered  *atomic.Bool
	quickChip     *atomic.Bool

	mu sync.Mutex
}

func newSession() *session {
	s := &session{
		commandSent:   atomic.NewBool(false),
		respAvailable: atomic.NewBool(false),
		swipeBegun:    atomic.NewBool(false),
		txStarted:     atomic.NewBool(false),
		dataGathered:  atomic.NewBool(false),
		quickChip:     atomic.NewBool(true),
	}
	s.phase = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: evConnect, Src: []string{string(StateIdle)}, Dst: string(StateAwaitingService)},
			{Name: evReady, Src: []string{string(StateAwaitingService)}, Dst: string(StateIdle)},
			{Name: evSwipe, Src: anyPhase, Dst: string(StateSwipeInProgress)},
			{Name: evTransaction, Src: anyPhase, Dst: string(StateTransactionInProgress)},
			{Name: evPinEntry, Src: anyPhase, Dst: string(StatePinEntryInProgress)},
			{Name: evReset, Src: anyPhase, Dst: string(StateIdle)},
		},
		fsm.Callbacks{},
	)
	return s
}

// transition fires ev. Firing an event that leaves the phase unchanged is
// not an error.
func (s *session) transition(ev string) error {
	err := s.phase.Event(context.Background(), ev)
	var noTransition fsm.NoTransitionError
	if err == nil || errors.As(err, &noTransition) {
		return nil
	}
	return err
}

func (s *session) state() SessionState {
	st := SessionState(s.phase.Current())
	if st == StateIdle && (s.commandSent.Load() || s.respAvailable.Load()) {
		return StateAwaitingResponse
	}
	return st
}

// begin starts a new transaction context, dropping any previous one.
func (s *session) begin(kind TransactionKind, quickChip bool) *TransactionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tx = newTransactionContext(kind, quickChip)
	s.quickChip.Store(quickChip)
	return s.tx
}

// current returns the transaction context, creating an anonymous one for
// data that arrives outside of a started operation.
func (s *session) current() *TransactionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tx == nil {
		s.tx = newTransactionContext(TransactionNone, s.quickChip.Load())
	}
	return s.tx
}

// withTx runs fn with the transaction context locked.
func (s *session) withTx(fn func(tc *TransactionContext)) {
	tc := s.current()
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(tc)
}

// finish hands out the transaction context and forgets it.
func (s *session) finish() *TransactionContext {
	s.mu.Lock()
	defer s.mu.Unlock()
	tc := s.tx
	s.tx = nil
	return tc
}

// clearInternal resets the response flags and card data bookkeeping.
func (s *session) clearInternal() {
	s.commandSent.Store(false)
	s.respAvailable.Store(false)
	s.dataGathered.Store(false)
	s.quickChip.Store(true)
}

// reset returns to Idle and drops everything tied to the link.
func (s *session) reset() {
	s.clearInternal()
	s.swipeBegun.Store(false)
	s.txStarted.Store(false)
	s.finish()
	_ = s.transition(evReset)
}
