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

package uart

// SLIP framing of bridge messages (RFC 1055)
const (
	slipEnd    = 0xC0
	slipEsc    = 0xDB
	slipEscEnd = 0xDC
	slipEscEsc = 0xDD
)

// maxFrame bounds a decoded bridge message. Larger garbage is dropped.
const maxFrame = 4096

// slipEncode wraps data in END bytes and escapes the special bytes.
func slipEncode(data []byte) []byte {
	out := make([]byte, 0, len(data)+8)
	out = append(out, slipEnd)
	for _, b := range data {
		switch b {
		case slipEnd:
			out = append(out, slipEsc, slipEscEnd)
		case slipEsc:
			out = append(out, slipEsc, slipEscEsc)
		default:
			out = append(out, b)
		}
	}
	return append(out, slipEnd)
}

// slipDecoder turns a byte stream into frames. Empty frames between two
// END bytes are skipped.
type slipDecoder struct {
	buf     []byte
	escaped bool
	dropped bool
}

// feed consumes data and returns the frames it completed.
func (d *slipDecoder) feed(data []byte) [][]byte {
	var frames [][]byte
	for _, b := range data {
		if b == slipEnd {
			if len(d.buf) > 0 && !d.dropped {
				frames = append(frames, d.buf)
			}
			d.buf = nil
			d.escaped = false
			d.dropped = false
			continue
		}
		if d.dropped {
			continue
		}
		if d.escaped {
			d.escaped = false
			switch b {
			case slipEscEnd:
				b = slipEnd
			case slipEscEsc:
				b = slipEsc
			}
		} else if b == slipEsc {
			d.escaped = true
			continue
		}
		if len(d.buf) >= maxFrame {
			d.dropped = true
			d.buf = nil
			continue
		}
		d.buf = append(d.buf, b)
	}
	return frames
}
