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
	"time"
)

// RetryConfig holds the timing contracts of the session engine. The counts
// are behavioral: devices are known to answer late, and the values below are
// what the terminals have been validated against.
type RetryConfig struct {
	// PollInterval is the delay between two checks of the response flag
	PollInterval time.Duration
	// ResendTries is how many polls follow the single resend of a command
	ResendTries int
	// BusyRetries bounds reads retried because the GATT stack was busy
	BusyRetries int
	// BusyRetryDelay is the delay before a busy read is retried
	BusyRetryDelay time.Duration
	// ConnectAttempts is the number of connect-and-cache sequences tried
	ConnectAttempts int
	// ConnectRetryDelay is the wait after clearing the cache on a network error
	ConnectRetryDelay time.Duration
	// ServiceSettleDelay is waited after caching a PinPad service
	ServiceSettleDelay time.Duration
	// SerialNumberTries is how many polls wait for the serial number report
	SerialNumberTries int
	// DateTimeRetryDelay is waited after syncing the clock before a retry
	DateTimeRetryDelay time.Duration
	// BigBlockDelay is waited between outgoing big-block frames
	BigBlockDelay time.Duration
}

// DefaultRetryConfig returns the validated timing contracts
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		PollInterval:       200 * time.Millisecond,
		ResendTries:        5,
		BusyRetries:        20,
		BusyRetryDelay:     50 * time.Millisecond,
		ConnectAttempts:    4,
		ConnectRetryDelay:  500 * time.Millisecond,
		ServiceSettleDelay: 400 * time.Millisecond,
		SerialNumberTries:  7,
		DateTimeRetryDelay: 500 * time.Millisecond,
		BigBlockDelay:      0,
	}
}

// ErrInvalidRetryConfig is returned for negative or zero bounds.
var ErrInvalidRetryConfig = errors.New("invalid retry configuration")

// Validate checks that every bound is usable.
func (c *RetryConfig) Validate() error {
	if c.PollInterval < 0 || c.BusyRetryDelay < 0 || c.ConnectRetryDelay < 0 ||
		c.ServiceSettleDelay < 0 || c.DateTimeRetryDelay < 0 || c.BigBlockDelay < 0 {
		return ErrInvalidRetryConfig
	}
	if c.ResendTries < 0 || c.BusyRetries < 0 || c.ConnectAttempts < 1 || c.SerialNumberTries < 1 {
		return ErrInvalidRetryConfig
	}
	return nil
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
