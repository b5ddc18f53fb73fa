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
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opts Options
		in   []byte
		want []Entry
	}{
		{
			name: "Empty",
			in:   []byte{},
			want: []Entry{},
		},
		{
			name: "Single_Primitive",
			in:   []byte{0x9F, 0x02, 0x06, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00},
			want: []Entry{{Tag: "9F02", Length: 6, Value: "000000000100"}},
		},
		{
			name: "Zero_Tag_Stops",
			in:   []byte{0x5A, 0x02, 0x41, 0x11, 0x00, 0x00, 0x9F, 0x02, 0x01, 0x01},
			want: []Entry{{Tag: "5A", Length: 2, Value: "4111"}},
		},
		{
			name: "Long_Form_Length",
			in:   append([]byte{0xC1, 0x81, 0x02}, 0xAB, 0xCD),
			want: []Entry{{Tag: "C1", Length: 2, Value: "ABCD"}},
		},
		{
			name: "Value_Clipped",
			in:   []byte{0x5A, 0x08, 0x41, 0x11},
			want: []Entry{{Tag: "5A", Length: 8, Value: "4111"}},
		},
		{
			name: "Oversized_Length_Field_Clipped",
			in:   []byte{0x9F, 0x02, 0x88, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x01},
			want: []Entry{{Tag: "9F02", Length: 1, Value: "01"}},
		},
		{
			name: "Length_Field_Past_End",
			in:   []byte{0x9F, 0x02, 0x84, 0x7F, 0xFF},
			want: []Entry{{Tag: "9F02", Length: 0x7FFF, Value: ""}},
		},
		{
			name: "Four_Byte_Length_Clipped",
			in:   []byte{0x5A, 0x84, 0x00, 0x01, 0x00, 0x00, 0x12},
			want: []Entry{{Tag: "5A", Length: 0x10000, Value: "12"}},
		},
		{
			name: "Three_Byte_Tag",
			in:   []byte{0xDF, 0xDF, 0x1A, 0x01, 0x00},
			want: []Entry{{Tag: "DFDF1A", Length: 1, Value: "00 Approved"}},
		},
		{
			name: "Constructed_Flattened",
			in:   []byte{0x70, 0x04, 0x5A, 0x02, 0x12, 0x34},
			want: []Entry{
				{Tag: "70", Length: 4, Value: "5A021234"},
				{Tag: "5A", Length: 2, Value: "1234"},
			},
		},
		{
			name: "Cardholder_Name_ASCII",
			in:   []byte{0x5F, 0x20, 0x03, 0x42, 0x4F, 0x42},
			want: []Entry{{Tag: "5F20", Length: 3, Value: "BOB"}},
		},
		{
			name: "MSR_Masked_Track",
			opts: Options{MSR: true},
			in:   []byte{0xDF, 0xDF, 0x25, 0x08, 0x34, 0x31, 0x31, 0x31, 0x2A, 0x2A, 0x2A, 0x2A},
			want: []Entry{{Tag: "DFDF25", Length: 8, Value: "4111***"}},
		},
		{
			name: "Non_MSR_Track_Hex",
			in:   []byte{0xDF, 0xDF, 0x25, 0x02, 0x34, 0x31},
			want: []Entry{{Tag: "DFDF25", Length: 2, Value: "3431"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := Decode(tt.in, tt.opts)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Decode() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFind(t *testing.T) {
	t.Parallel()

	entries := Decode([]byte{0xDF, 0xDF, 0x40, 0x01, 0x01, 0x5A, 0x01, 0x09}, Options{})
	e, ok := Find(entries, "dfdf40")
	require.True(t, ok)
	assert.Equal(t, "01", e.Value)

	_, ok = Find(entries, "9F02")
	assert.False(t, ok)
}

func TestTransactionStatus(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Declined", TransactionStatus(0x01))
	assert.Equal(t, "Unknown Transaction Status", TransactionStatus(0x77))
}

func TestExpand(t *testing.T) {
	t.Parallel()

	inner := []byte{0x8A, 0x02, 0x30, 0x30, 0x91, 0x02, 0x01, 0x02}
	children, err := Expand("70", inner)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, "8A", children[0].Tag)
	assert.Equal(t, []byte{0x01, 0x02}, children[1].Value)

	_, err = Expand("5A", inner)
	require.ErrorIs(t, err, ErrNotConstructed)
}

func TestTemplates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		want map[string][]string
		name string
		data []byte
	}{
		{
			name: "Nested_Template",
			data: []byte{0x77, 0x08, 0x9F, 0x27, 0x01, 0x80, 0x5A, 0x01, 0x12, 0x00, 0x00},
			want: map[string][]string{"77": {"9F27", "5A"}},
		},
		{
			name: "Primitive_Only",
			data: []byte{0x5A, 0x02, 0x12, 0x34},
		},
		{
			name: "Truncated_Template_Skipped",
			data: []byte{0x70, 0x05, 0x9F, 0x26, 0x08, 0x11},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := Templates(Decode(tt.data, Options{}))
			var tags map[string][]string
			for tag, children := range got {
				if tags == nil {
					tags = map[string][]string{}
				}
				for _, c := range children {
					tags[tag] = append(tags[tag], c.Tag)
				}
			}
			assert.Equal(t, tt.want, tags)
		})
	}
}
