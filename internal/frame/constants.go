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

// Package frame holds the wire constants shared by both dialects and the
// big-block reassembler.
package frame

// Command-class markers
const (
	PinPadMarker = 0x01 // PinPad commands expecting an ACK
	ScraMarker   = 0x49 // SCRA extended commands
	GetFeature   = 0x00 // feature report requests
)

// Big-block framing
const (
	BlockBegin    = 0x00 // sub-type of the first PinPad big-block frame
	BlockEnd      = 0x63 // sub-type of the last PinPad big-block frame
	ScraTerminal  = 0xFF // SCRA frame carrying the block count
	ChunkSize     = 60   // payload bytes per outgoing block
	OutFrameSize  = 65   // padded size of an outgoing big-block frame
	BlockHeader   = 4    // header bytes preceding PinPad block payloads
	ResponseReady = 0x03 // length notification value meaning a response is readable
	BigBlockSend  = 0x10 // PinPad command id for host to device big blocks
)

// Payload format codes carried in the first byte of SCRA block 0
const (
	FormatNormal      = 0x00
	FormatRLE         = 0x01
	FormatNotifyPlain = 0x02
	FormatNotifyRLE   = 0x03
)

// IsRLE reports whether a format code announces run-length encoding.
func IsRLE(format byte) bool {
	return format == FormatRLE || format == FormatNotifyRLE
}
