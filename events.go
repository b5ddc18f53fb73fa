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
	"time"

	"github.com/google/uuid"
)

// Event is published on Device.Events. The set of implementations is closed.
type Event interface {
	// Time is when the event was produced
	Time() time.Time
	isEvent()
}

type eventTime time.Time

func (t eventTime) Time() time.Time { return time.Time(t) }

func (eventTime) isEvent() {}

func now() eventTime { return eventTime(time.Now()) }

// TransactionKind says what started a transaction.
type TransactionKind int

// Transaction kinds
const (
	TransactionNone TransactionKind = iota
	TransactionSwipe
	TransactionEMV
	TransactionPIN
)

func (k TransactionKind) String() string {
	switch k {
	case TransactionSwipe:
		return "swipe"
	case TransactionEMV:
		return "emv"
	case TransactionPIN:
		return "pin"
	default:
		return "none"
	}
}

// TransactionResult is the data delivered to the caller when a card read,
// an EMV step or a PIN entry produced something.
type TransactionResult struct {
	Swipe *SwipeData `json:"swipeData,omitempty"`
	PIN   *PinData   `json:"pinData,omitempty"`
	ARQC  *EMVData   `json:"arqc,omitempty"`
	Batch *EMVData   `json:"batch,omitempty"`
	// Report is set for reports without a dedicated field
	Report Report          `json:"-"`
	Kind   TransactionKind `json:"kind"`
	ID     uuid.UUID       `json:"id"`
	// Final is set when the transaction is over
	Final bool `json:"final"`
}

// TransactionEvent carries transaction data.
type TransactionEvent struct {
	eventTime
	Result TransactionResult
}

// StatusEvent carries a status report: ACKs, card status, device state,
// cardholder interaction, tip and cash back outcome, big-block progress.
type StatusEvent struct {
	Report Report
	// BufferType is set for big blocks the engine does not consume
	BufferType string
	eventTime
}

// DisplayEvent asks the host to show a message.
type DisplayEvent struct {
	Message string
	eventTime
}

// SelectionEvent asks the host to let the user pick an item.
type SelectionEvent struct {
	Request *UserSelectionRequestReport
	eventTime
}

// ErrorEvent reports a failure that has no caller to return to, such as a
// malformed notification or a failed follow-up command.
type ErrorEvent struct {
	Err error
	eventTime
}

// DisconnectEvent is published when the link drops.
type DisconnectEvent struct {
	Reason error
	eventTime
}
