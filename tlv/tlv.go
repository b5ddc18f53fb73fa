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

// Package tlv decodes the BER-TLV payloads carried by ARQC and batch data
// notifications.
//
// Decode is deliberately lenient: a payload is the tail of a zero padded
// reassembly buffer, so a zero tag byte ends the walk and values running past
// the buffer are clipped. Constructed tags are reported with their whole value
// and their children follow inline in the result. Expand and Encode are strict
// and backed by github.com/moov-io/bertlv.
package tlv

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-magble/internal/codec"
	"github.com/moov-io/bertlv"
)

// maxLengthBytes bounds the long form length field.
const maxLengthBytes = 4

// ErrNotConstructed is returned by Expand for primitive tags.
var ErrNotConstructed = errors.New("tag is not constructed")

// Entry is one decoded tag.
type Entry struct {
	Tag    string `json:"tag"`
	Value  string `json:"tagValue"`
	Length int    `json:"tagLength"`
}

// Options tune value formatting.
type Options struct {
	// MSR marks data that originated from a magnetic stripe read.
	MSR bool
}

// Decode walks data and returns every tag it finds.
func Decode(data []byte, opts Options) []Entry {
	entries := []Entry{}
	i := 0
	for i < len(data) {
		if data[i] == 0x00 {
			break
		}

		tagStart := i
		first := data[i]
		i++
		if first&0x1F == 0x1F {
			for i < len(data) {
				b := data[i]
				i++
				if b&0x80 != 0x80 {
					break
				}
			}
		}
		tag := codec.BytesToHex(data[tagStart:i])
		if i >= len(data) {
			break
		}

		length := int(data[i])
		i++
		if length&0x80 == 0x80 {
			count := length & 0x7F
			if count > maxLengthBytes {
				// no payload is that long, take what is left
				i = min(i+count, len(data))
				length = len(data) - i
			} else {
				length = 0
				for n := 0; n < count && i < len(data); n++ {
					length = length<<8 | int(data[i])
					i++
				}
			}
		}

		end := i + length
		if end > len(data) || end < i {
			end = len(data)
		}
		value := data[i:end]
		entries = append(entries, Entry{
			Tag:    tag,
			Length: length,
			Value:  formatValue(tag, value, opts),
		})

		if first&0x20 == 0x20 {
			// descend into the constructed value
			continue
		}
		i = end
	}
	return entries
}

// Find returns the first entry carrying tag.
func Find(entries []Entry, tag string) (Entry, bool) {
	tag = strings.ToUpper(tag)
	for _, e := range entries {
		if e.Tag == tag {
			return e, true
		}
	}
	return Entry{}, false
}

// Expand strictly decodes the children of a constructed tag value.
func Expand(tag string, value []byte) ([]bertlv.TLV, error) {
	raw, err := codec.HexToBytes(tag)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", tag, err)
	}
	if len(raw) == 0 || raw[0]&0x20 != 0x20 {
		return nil, fmt.Errorf("expand %s: %w", tag, ErrNotConstructed)
	}
	children, err := bertlv.Decode(value)
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", tag, err)
	}
	return children, nil
}

// Templates expands every constructed entry that decodes strictly, keyed by
// tag. The first occurrence of a tag wins.
func Templates(entries []Entry) map[string][]bertlv.TLV {
	var out map[string][]bertlv.TLV
	for _, e := range entries {
		if _, ok := out[e.Tag]; ok {
			continue
		}
		raw, err := codec.HexToBytes(e.Tag)
		if err != nil || len(raw) == 0 || raw[0]&0x20 != 0x20 {
			continue
		}
		value, err := codec.HexToBytes(e.Value)
		if err != nil {
			continue
		}
		children, err := Expand(e.Tag, value)
		if err != nil || len(children) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string][]bertlv.TLV)
		}
		out[e.Tag] = children
	}
	return out
}
