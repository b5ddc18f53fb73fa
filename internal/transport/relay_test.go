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

package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelay_DeliversInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var got []int
	r := NewRelay(func(v int) {
		mu.Lock()
		got = append(got, v)
		mu.Unlock()
	})
	for i := range 100 {
		r.Push(i)
	}
	r.Close()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestRelay_PushDoesNotBlock(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	r := NewRelay(func(int) { <-release })

	pushed := make(chan struct{})
	go func() {
		for i := range 10 {
			r.Push(i)
		}
		close(pushed)
	}()

	select {
	case <-pushed:
	case <-time.After(time.Second):
		t.Fatal("push blocked on a busy handler")
	}
	assert.Positive(t, r.Pending())

	close(release)
	r.Close()
	assert.Zero(t, r.Pending())
}

func TestRelay_CloseTwiceAndPushAfterClose(t *testing.T) {
	t.Parallel()

	calls := 0
	r := NewRelay(func(int) { calls++ })
	r.Close()
	r.Close()
	r.Push(1)
	assert.Zero(t, calls)
	assert.Zero(t, r.Pending())
}
