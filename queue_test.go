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
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// startQueue runs a queue worker until the test ends.
func startQueue(t *testing.T) (*Device, *commandQueue) {
	t.Helper()
	q := newCommandQueue()
	d := &Device{queue: q, running: atomic.NewBool(true)}

	base, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.run(base)
	}()
	t.Cleanup(func() {
		fail(q.close(), ErrDeviceNotOpen)
		cancel()
		<-done
	})
	return d, q
}

func TestCommandQueue_RunsInOrder(t *testing.T) {
	t.Parallel()

	d, _ := startQueue(t)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := submit(context.Background(), d, "op", func(context.Context) (int, error) {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
				return i, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, order, 10)
}

func TestCommandQueue_OneAtATime(t *testing.T) {
	t.Parallel()

	d, _ := startQueue(t)

	active := atomic.NewInt32(0)
	overlap := atomic.NewBool(false)
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = submit(context.Background(), d, "op", func(context.Context) (struct{}, error) {
				if active.Inc() > 1 {
					overlap.Store(true)
				}
				time.Sleep(2 * time.Millisecond)
				active.Dec()
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()
	assert.False(t, overlap.Load())
}

func TestSubmit_ReturnsValueAndError(t *testing.T) {
	t.Parallel()

	d, _ := startQueue(t)

	v, err := submit(context.Background(), d, "value", func(context.Context) (string, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)

	boom := errors.New("boom")
	v, err = submit(context.Background(), d, "error", func(context.Context) (string, error) {
		return "ignored", boom
	})
	require.ErrorIs(t, err, boom)
	assert.Empty(t, v)
}

func TestSubmit_CancelledWhileQueued(t *testing.T) {
	t.Parallel()

	d, _ := startQueue(t)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_, _ = submit(context.Background(), d, "blocker", func(context.Context) (struct{}, error) {
			close(started)
			<-release
			return struct{}{}, nil
		})
	}()
	<-started

	ran := atomic.NewBool(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := submit(ctx, d, "queued", func(context.Context) (struct{}, error) {
		ran.Store(true)
		return struct{}{}, nil
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = submit(context.Background(), d, "after", func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	})
	require.NoError(t, err)
	assert.False(t, ran.Load(), "a cancelled request must be skipped")
}

func TestSubmit_NotRunning(t *testing.T) {
	t.Parallel()

	d := &Device{queue: newCommandQueue(), running: atomic.NewBool(false)}
	_, err := submit(context.Background(), d, "op", func(context.Context) (int, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, ErrDeviceNotOpen)

	d.running.Store(true)
	d.queue.close()
	_, err = submit(context.Background(), d, "op", func(context.Context) (int, error) {
		return 1, nil
	})
	require.ErrorIs(t, err, ErrDeviceNotOpen)
}

func TestCommandQueue_CloseFailsPending(t *testing.T) {
	t.Parallel()

	q := newCommandQueue()
	done := make(chan response, 1)
	require.True(t, q.push(&request{
		ctx:       context.Background(),
		done:      done,
		cancelled: atomic.NewBool(false),
		run:       func(context.Context) (any, error) { return nil, nil },
	}))

	rest := q.close()
	require.Len(t, rest, 1)
	fail(rest, ErrDeviceNotOpen)
	res := <-done
	require.ErrorIs(t, res.err, ErrDeviceNotOpen)

	assert.False(t, q.push(&request{cancelled: atomic.NewBool(false)}))
	q.open()
	assert.True(t, q.push(&request{cancelled: atomic.NewBool(false)}))
}

func TestCommandQueue_StopCancelsRunning(t *testing.T) {
	t.Parallel()

	q := newCommandQueue()
	d := &Device{queue: q, running: atomic.NewBool(true)}
	base, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		q.run(base)
	}()

	started := make(chan struct{})
	errs := make(chan error, 1)
	go func() {
		_, err := submit(context.Background(), d, "long", func(ctx context.Context) (struct{}, error) {
			close(started)
			<-ctx.Done()
			return struct{}{}, ctx.Err()
		})
		errs <- err
	}()
	<-started

	cancel()
	require.ErrorIs(t, <-errs, context.Canceled)
	<-done
}
