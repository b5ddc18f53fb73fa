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
	"log/slog"
	"time"
)

// Option is a functional option for configuring a Device
type Option func(*Device) error

// WithRetryConfig sets the retry configuration for the device
func WithRetryConfig(config *RetryConfig) Option {
	return func(d *Device) error {
		if config == nil {
			return missingField("retryConfig")
		}
		if err := config.Validate(); err != nil {
			return err
		}
		d.SetRetryConfig(config)
		return nil
	}
}

// WithPollInterval sets the delay between two checks of the response flag
func WithPollInterval(interval time.Duration) Option {
	return func(d *Device) error {
		cfg := *d.config.RetryConfig
		cfg.PollInterval = interval
		if err := cfg.Validate(); err != nil {
			return err
		}
		d.SetRetryConfig(&cfg)
		return nil
	}
}

// WithLogger sets the logger session events are written to
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) error {
		d.config.Logger = logger
		return nil
	}
}

// WithEventBuffer sets the capacity of the Events channel
func WithEventBuffer(size int) Option {
	return func(d *Device) error {
		if size < 0 {
			return wrongValue("eventBuffer", "must not be negative")
		}
		d.config.EventBuffer = size
		return nil
	}
}

// WithDeviceName sets the name reported by DeviceInfo
func WithDeviceName(name string) Option {
	return func(d *Device) error {
		d.config.Name = name
		return nil
	}
}
