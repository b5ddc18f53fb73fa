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

// Package codec provides the byte-level conversions shared by the command
// builders and the report decoders: hex, n12 BCD amounts, two-byte lengths,
// run-length decoding and null-terminated strings.
package codec

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Codec errors
var (
	ErrInvalidHex      = errors.New("invalid hex string")
	ErrAmountTooLong   = errors.New("amount exceeds field width")
	ErrNegativeAmount  = errors.New("amount must not be negative")
	ErrDecimalOverflow = errors.New("value does not fit in one byte")
)

// AmountLength is the byte width of an n12 amount field.
const AmountLength = 6

// BytesToHex renders b as uppercase hex, two digits per byte, no separators.
func BytesToHex(b []byte) string {
	return strings.ToUpper(hex.EncodeToString(b))
}

// HexToBytes parses an even-length hex string. Case is ignored.
func HexToBytes(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrInvalidHex, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidHex, err)
	}
	return b, nil
}

// HexToASCII decodes two hex digits at a time and stops at the first 00 pair.
// Surrounding whitespace is trimmed. Invalid digit pairs are skipped.
func HexToASCII(s string) string {
	var sb strings.Builder
	for i := 0; i+1 < len(s); i += 2 {
		pair := s[i : i+2]
		if pair == "00" {
			break
		}
		v, err := strconv.ParseUint(pair, 16, 8)
		if err != nil {
			continue
		}
		sb.WriteByte(byte(v))
	}
	return strings.TrimSpace(sb.String())
}

// AmountToBytes packs value as BCD into length bytes, left padded with zeros.
func AmountToBytes(value int64, length int) ([]byte, error) {
	if value < 0 {
		return nil, ErrNegativeAmount
	}
	digits := strconv.FormatInt(value, 10)
	if len(digits) > 2*length {
		return nil, fmt.Errorf("%w: %d digits into %d bytes", ErrAmountTooLong, len(digits), length)
	}
	digits = strings.Repeat("0", 2*length-len(digits)) + digits

	out := make([]byte, length)
	for i := range out {
		hi := digits[2*i] - '0'
		lo := digits[2*i+1] - '0'
		out[i] = hi<<4 | lo
	}
	return out, nil
}

// BytesToAmount is the inverse of AmountToBytes. Nibbles above 9 are
// reported as an error.
func BytesToAmount(b []byte) (int64, error) {
	var v int64
	for _, x := range b {
		hi, lo := x>>4, x&0x0F
		if hi > 9 || lo > 9 {
			return 0, fmt.Errorf("%w: %02X is not BCD", ErrInvalidHex, x)
		}
		v = v*100 + int64(hi)*10 + int64(lo)
	}
	return v, nil
}

// DecimalAsHex returns the decimal value n as a single binary byte, the way
// calendar fields travel on the wire. 45 becomes 0x2D.
func DecimalAsHex(n int) (byte, error) {
	if n < 0 || n > 0xFF {
		return 0, fmt.Errorf("%w: %d", ErrDecimalOverflow, n)
	}
	return byte(n), nil
}

// TwoByteLength reads a big-endian 16-bit length.
func TwoByteLength(hi, lo byte) int {
	return int(hi)<<8 | int(lo)
}

// DecodeRLE expands run-length encoded data. Byte 0 is a format code and is
// copied as-is. From index 1 on, a byte repeated at i+1 with a count at i+2
// expands to count copies of that byte.
func DecodeRLE(data []byte) []byte {
	if len(data) == 0 {
		return []byte{}
	}
	out := make([]byte, 0, len(data))
	out = append(out, data[0])
	for i := 1; i < len(data); i++ {
		if i+2 < len(data) && data[i] == data[i+1] {
			for n := 0; n < int(data[i+2]); n++ {
				out = append(out, data[i])
			}
			i += 2
			continue
		}
		out = append(out, data[i])
	}
	return out
}

// NullTerminated returns the hex of b[2:k], k being the start of the first
// 00 00 00 run at or after index 2. Without such a run the whole remainder is used.
func NullTerminated(b []byte) string {
	if len(b) <= 2 {
		return ""
	}
	end := len(b)
	for i := 2; i+2 < len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 && b[i+2] == 0 {
			end = i
			break
		}
	}
	return BytesToHex(b[2:end])
}

// PadRight returns b extended with zeros to size. Longer input is returned unchanged.
func PadRight(b []byte, size int) []byte {
	if len(b) >= size {
		return b
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}

// BitString renders b MSB first as eight '0'/'1' characters.
func BitString(b byte) string {
	return fmt.Sprintf("%08b", b)
}
