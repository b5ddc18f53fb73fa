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

package frame

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ZaparooProject/go-magble/internal/codec"
)

// Reassembly errors
var (
	ErrReassemblyLengthMismatch = errors.New("reassembled payload does not match declared length")
	ErrReassemblyGap            = errors.New("big block is missing an index")
	ErrReassemblyEmpty          = errors.New("big block finished without data")
)

// Category classifies the payload being reassembled.
type Category int

const (
	// CategoryOther is any buffer type without a dedicated handler.
	CategoryOther Category = iota
	// CategoryARQC is an authorization request cryptogram payload.
	CategoryARQC
	// CategoryBatch is the final batch data of a transaction.
	CategoryBatch
)

// String returns a short name for the category.
func (c Category) String() string {
	switch c {
	case CategoryARQC:
		return "ARQC"
	case CategoryBatch:
		return "Batch"
	default:
		return "Other"
	}
}

// Payload is a completed big block.
type Payload struct {
	Data       []byte
	Category   Category
	Blocks     int
	BufferType byte
	Format     byte
}

// Reassembler accumulates big-block frames until the terminal frame arrives.
// It is Idle until Begin or the first Add, Accumulating afterwards and back to
// Idle once Finish returns. It is not safe for concurrent use.
type Reassembler struct {
	blocks       map[int][]byte
	category     Category
	declared     int
	bufferType   byte
	active       bool
	detectFormat bool
}

// NewReassembler creates an idle reassembler. When detectFormat is set the
// first byte of the lowest block selects RLE decoding of the whole payload.
func NewReassembler(detectFormat bool) *Reassembler {
	return &Reassembler{
		blocks:       make(map[int][]byte),
		detectFormat: detectFormat,
	}
}

// Begin starts a transfer, dropping anything accumulated before.
func (r *Reassembler) Begin(bufferType byte, category Category, declaredLen int) {
	r.Reset()
	r.active = true
	r.bufferType = bufferType
	r.category = category
	r.declared = declaredLen
}

// Add stores the payload for one block index. Re-sending an index replaces it.
func (r *Reassembler) Add(index int, payload []byte) {
	r.active = true
	r.blocks[index] = append([]byte(nil), payload...)
}

// Active reports whether a transfer is in progress.
func (r *Reassembler) Active() bool {
	return r.active
}

// Category returns the category announced by Begin.
func (r *Reassembler) Category() Category {
	return r.category
}

// BlockCount returns the number of distinct blocks received.
func (r *Reassembler) BlockCount() int {
	return len(r.blocks)
}

// Reset clears all state.
func (r *Reassembler) Reset() {
	r.blocks = make(map[int][]byte)
	r.category = CategoryOther
	r.declared = 0
	r.bufferType = 0
	r.active = false
}

// Finish concatenates the contiguous blocks from the lowest index up to the
// highest one and resets the reassembler.
func (r *Reassembler) Finish() (*Payload, error) {
	defer r.Reset()
	return r.assemble(-1)
}

// FinishWithCount is the SCRA terminal variant: count is the number of blocks
// announced by the terminal frame and the highest index must be count-1.
func (r *Reassembler) FinishWithCount(count int) (*Payload, error) {
	defer r.Reset()
	return r.assemble(count)
}

func (r *Reassembler) assemble(count int) (*Payload, error) {
	if len(r.blocks) == 0 {
		return nil, ErrReassemblyEmpty
	}

	keys := make([]int, 0, len(r.blocks))
	for k := range r.blocks {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	first, last := keys[0], keys[len(keys)-1]

	if count >= 0 && last != count-1 {
		return nil, fmt.Errorf("%w: last block %d, terminal announced %d blocks",
			ErrReassemblyLengthMismatch, last, count)
	}

	var data []byte
	for i := first; i <= last; i++ {
		block, ok := r.blocks[i]
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrReassemblyGap, i)
		}
		data = append(data, block...)
	}

	p := &Payload{
		Category:   r.category,
		BufferType: r.bufferType,
		Blocks:     len(keys),
	}
	if r.detectFormat && len(r.blocks[first]) > 0 {
		p.Format = r.blocks[first][0]
		if IsRLE(p.Format) {
			data = codec.DecodeRLE(data)
		}
	}

	if r.declared > 0 && len(data) < r.declared {
		return nil, fmt.Errorf("%w: got %d bytes, declared %d",
			ErrReassemblyLengthMismatch, len(data), r.declared)
	}

	p.Data = data
	return p, nil
}
