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

package tlv

import (
	"github.com/ZaparooProject/go-magble/internal/codec"
)

const unknownTransactionStatus = "Unknown Transaction Status"

var transactionStatus = map[byte]string{
	0x00: "Approved",
	0x01: "Declined",
	0x02: "Error",
	0x10: "Cancelled By Host",
	0x11: "Confirm Amount No",
	0x12: "Confirm Amount Timeout",
	0x13: "Confirm Amount Cancel",
	0x14: "MSR Select Debit",
	0x15: "MSR Select Debit",
	0x16: "MSR Select Credit/Debit timeout",
	0x17: "MSR Select Credit/Debit cancel",
	0x18: "Signature Capture Cancelled by Host",
	0x19: "Signature Capture Timeout",
	0x1A: "Signature Capture Cancelled by Cardholder",
	0x1B: "PIN Entry Cancelled by Host",
	0x1C: "PIN entry timeout",
	0x1D: "PIN entry Cancelled by Cardholder",
	0x1E: "Manual Selected Cancelled by Host",
	0x1F: "Manual Selection Timeout",
	0x20: "Manual Selection Cancelled by Cardholder",
	0x21: "Waiting for Card Cancelled by Host",
	0x22: "Waiting for Card Timeout",
	0x23: "Cancelled by Card Swipe or by Cardholder",
	0x24: "Waiting for Card ICC Seated",
	0x25: "Waiting for Card MSR Swiped",
	0xFF: unknownTransactionStatus,
}

// TransactionStatus describes the status byte carried in DFDF1A.
func TransactionStatus(b byte) string {
	if s, ok := transactionStatus[b]; ok {
		return s
	}
	return unknownTransactionStatus
}

type formatter func(value []byte, opts Options) string

var formatters = map[string]formatter{
	"DFDF1A": func(v []byte, _ Options) string {
		h := codec.BytesToHex(v)
		if len(v) == 0 {
			return h
		}
		return h + " " + TransactionStatus(v[len(v)-1])
	},
	"DFDF4D": asciiValue,
	"5F20":   asciiValue,
	"DFDF25": func(v []byte, opts Options) string {
		h := codec.BytesToHex(v)
		if !opts.MSR {
			return h
		}
		if len(h) > 14 {
			h = h[:14]
		}
		return codec.HexToASCII(h)
	},
	"DFDF40": func(v []byte, _ Options) string {
		h := codec.BytesToHex(v)
		if h == "80" {
			return h + " CBC-MAC checked in ARQC online response"
		}
		return h
	},
}

func asciiValue(v []byte, _ Options) string {
	return codec.HexToASCII(codec.BytesToHex(v))
}

func formatValue(tag string, value []byte, opts Options) string {
	if f, ok := formatters[tag]; ok {
		return f(value, opts)
	}
	return codec.BytesToHex(value)
}
