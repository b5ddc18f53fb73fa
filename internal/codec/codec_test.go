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

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHexRoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want string
	}{
		{name: "Empty", in: []byte{}, want: ""},
		{name: "Single", in: []byte{0x0A}, want: "0A"},
		{name: "Mixed", in: []byte{0x01, 0xA2, 0xFF, 0x00}, want: "01A2FF00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := BytesToHex(tt.in)
			assert.Equal(t, tt.want, got)

			back, err := HexToBytes(got)
			require.NoError(t, err)
			assert.Equal(t, tt.in, back)
		})
	}
}

func TestHexToBytes_Invalid(t *testing.T) {
	t.Parallel()

	_, err := HexToBytes("ABC")
	require.ErrorIs(t, err, ErrInvalidHex)

	_, err = HexToBytes("ZZ")
	require.ErrorIs(t, err, ErrInvalidHex)

	b, err := HexToBytes("a1b2")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA1, 0xB2}, b)
}

func TestHexToASCII(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Hello", HexToASCII("48656C6C6F"))
	assert.Equal(t, "Hi", HexToASCII("2048692000414243"))
	assert.Equal(t, "", HexToASCII(""))
}

func TestAmountToBytes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		wantErr error
		want    []byte
		value   int64
		length  int
	}{
		{name: "One_Dollar", value: 100, length: 6, want: []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00}},
		{name: "Zero", value: 0, length: 6, want: []byte{0, 0, 0, 0, 0, 0}},
		{name: "Max_Twelve_Digits", value: 999999999999, length: 6, want: []byte{0x99, 0x99, 0x99, 0x99, 0x99, 0x99}},
		{name: "Three_Bytes", value: 825, length: 3, want: []byte{0x00, 0x08, 0x25}},
		{name: "Thirteen_Digits", value: 1000000000000, length: 6, wantErr: ErrAmountTooLong},
		{name: "Negative", value: -1, length: 6, wantErr: ErrNegativeAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := AmountToBytes(tt.value, tt.length)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			back, err := BytesToAmount(got)
			require.NoError(t, err)
			assert.Equal(t, tt.value, back)
		})
	}
}

func TestBytesToAmount_NotBCD(t *testing.T) {
	t.Parallel()

	_, err := BytesToAmount([]byte{0x1A})
	require.ErrorIs(t, err, ErrInvalidHex)
}

func TestDecimalAsHex(t *testing.T) {
	t.Parallel()

	b, err := DecimalAsHex(45)
	require.NoError(t, err)
	assert.Equal(t, byte(0x2D), b)

	b, err = DecimalAsHex(12)
	require.NoError(t, err)
	assert.Equal(t, byte(0x0C), b)

	_, err = DecimalAsHex(256)
	require.ErrorIs(t, err, ErrDecimalOverflow)

	_, err = DecimalAsHex(-1)
	require.ErrorIs(t, err, ErrDecimalOverflow)
}

func TestDecodeRLE(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   []byte
		want []byte
	}{
		{name: "Empty", in: []byte{}, want: []byte{}},
		{name: "Format_Only", in: []byte{0x01}, want: []byte{0x01}},
		{name: "Run", in: []byte{0x01, 0xAA, 0xAA, 0x04, 0x10}, want: []byte{0x01, 0xAA, 0xAA, 0xAA, 0xAA, 0x10}},
		{name: "Zero_Count", in: []byte{0x01, 0x05, 0x05, 0x00, 0x07}, want: []byte{0x01, 0x07}},
		{name: "Trailing_Pair_Copied", in: []byte{0x01, 0x33, 0x33}, want: []byte{0x01, 0x33, 0x33}},
		{name: "No_Runs", in: []byte{0x03, 0x01, 0x02, 0x03}, want: []byte{0x03, 0x01, 0x02, 0x03}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, DecodeRLE(tt.in))
		})
	}
}

func TestNullTerminated(t *testing.T) {
	t.Parallel()

	frame := []byte{0x1A, 0x00, 0x42, 0x31, 0x32, 0x00, 0x00, 0x00, 0x09}
	assert.Equal(t, "423132", NullTerminated(frame))
	assert.Equal(t, "4142", NullTerminated([]byte{0x1A, 0x00, 0x41, 0x42}))
	assert.Equal(t, "", NullTerminated([]byte{0x1A}))
}

func TestTwoByteLengthAndPad(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0x0396, TwoByteLength(0x03, 0x96))
	assert.Equal(t, []byte{1, 2, 0, 0}, PadRight([]byte{1, 2}, 4))
	assert.Equal(t, []byte{1, 2, 3}, PadRight([]byte{1, 2, 3}, 2))
	assert.Equal(t, "10000001", BitString(0x81))
}
