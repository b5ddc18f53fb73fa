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
	"fmt"

	"github.com/ZaparooProject/go-magble/internal/codec"
)

type amountKind int

const (
	amountNumber amountKind = iota + 1
	amountBytes
	amountHex
)

// Amount is a BCD encoded monetary field. It can be given as a number of
// minor units, as raw field bytes or as a hex string of those bytes. A nil
// *Amount means the field was not supplied.
type Amount struct {
	hex   string
	raw   []byte
	value int64
	kind  amountKind
}

// AmountOf returns an amount of n minor units (cents).
func AmountOf(n int64) *Amount {
	return &Amount{kind: amountNumber, value: n}
}

// AmountFromBytes returns an amount already encoded as field bytes.
func AmountFromBytes(b []byte) *Amount {
	return &Amount{kind: amountBytes, raw: append([]byte(nil), b...)}
}

// AmountFromHex returns an amount given as the hex of its field bytes.
func AmountFromHex(s string) *Amount {
	return &Amount{kind: amountHex, hex: s}
}

// String renders the amount the way it was supplied.
func (a *Amount) String() string {
	if a == nil {
		return "<nil>"
	}
	switch a.kind {
	case amountNumber:
		return fmt.Sprintf("%d", a.value)
	case amountBytes:
		return codec.BytesToHex(a.raw)
	default:
		return a.hex
	}
}

// encode normalizes the amount to exactly width bytes.
func (a *Amount) encode(field string, width int) ([]byte, error) {
	switch a.kind {
	case amountNumber:
		b, err := codec.AmountToBytes(a.value, width)
		if err != nil {
			return nil, wrongValue(field, err.Error(), amountAccepted...)
		}
		return b, nil
	case amountBytes:
		if len(a.raw) != width {
			return nil, wrongValue(field, fmt.Sprintf("expected %d bytes, got %d", width, len(a.raw)), amountAccepted...)
		}
		return append([]byte(nil), a.raw...), nil
	case amountHex:
		b, err := codec.HexToBytes(a.hex)
		if err != nil {
			return nil, wrongType(field, err.Error())
		}
		if len(b) != width {
			return nil, wrongValue(field, fmt.Sprintf("expected %d bytes, got %d", width, len(b)), amountAccepted...)
		}
		return b, nil
	default:
		return nil, wrongType(field, "empty amount")
	}
}

// encodeLoose encodes numbers on width bytes and passes bytes through at
// whatever length they were given.
func (a *Amount) encodeLoose(field string, width int) ([]byte, error) {
	switch a.kind {
	case amountBytes:
		return append([]byte(nil), a.raw...), nil
	case amountHex:
		b, err := codec.HexToBytes(a.hex)
		if err != nil {
			return nil, wrongType(field, err.Error())
		}
		return b, nil
	default:
		return a.encode(field, width)
	}
}

// amountField encodes a, falling back to def when a is nil.
func amountField(field string, a *Amount, width int, def []byte) ([]byte, error) {
	if a == nil {
		out := make([]byte, width)
		copy(out, def)
		return out, nil
	}
	return a.encode(field, width)
}

// requiredAmount encodes a, which must be present.
func requiredAmount(field string, a *Amount, width int) ([]byte, error) {
	if a == nil {
		return nil, missingField(field)
	}
	return a.encode(field, width)
}

var amountAccepted = []string{
	"number of 12 digits or less",
	"byte array representation of amount (6 bytes, n12 format)",
}

var (
	zeroAmount    = []byte{0x00, 0x00, 0x00, 0x00, 0x00, 0x00}
	defaultAmount = []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00}
)
