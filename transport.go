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
	"fmt"
	"strings"

	itransport "github.com/ZaparooProject/go-magble/internal/transport"
)

// Transport defines the GATT operations the engine needs from a connection
// to a terminal. It can be implemented over a native BLE stack, a serial
// bridge or a test double.
type Transport interface {
	// Connect establishes the link to the GATT server
	Connect(ctx context.Context) error

	// Disconnect drops the link. Disconnecting twice is not an error.
	Disconnect() error

	// IsConnected returns true if the GATT server is connected
	IsConnected() bool

	// OpenService resolves the primary service in layout and caches its
	// characteristics. It fails with ErrTransportNotFound when the service
	// is absent and with ErrTransportNetwork when the stack is busy.
	OpenService(ctx context.Context, layout ServiceLayout) error

	// HasCharacteristic reports whether a characteristic for role is cached
	HasCharacteristic(role CharacteristicRole) bool

	// ClearCache forgets cached service and characteristics
	ClearCache()

	// WriteCommand writes data to the command characteristic
	WriteCommand(ctx context.Context, data []byte) error

	// WriteLength writes the length of the next command (PinPad only)
	WriteLength(ctx context.Context, n int) error

	// ReadResponse reads the pending response. A busy stack yields ErrTransportBusy.
	ReadResponse(ctx context.Context) ([]byte, error)

	// Subscribe enables notifications on every notifying characteristic of
	// the cached layout. Notifications must be delivered one at a time.
	Subscribe(handler NotificationHandler) error

	// Unsubscribe disables notifications
	Unsubscribe() error

	// Type returns the transport type
	Type() TransportType
}

// TransportType represents the type of transport
type TransportType string

const (
	// TransportBLE is a native Bluetooth LE GATT connection.
	TransportBLE TransportType = "ble"
	// TransportUART is a GATT bridge reached over a serial port.
	TransportUART TransportType = "uart"
	// TransportMock represents a mock transport for testing
	TransportMock TransportType = "mock"
)

// CharacteristicRole names what a characteristic is used for, independently
// of its UUID.
type CharacteristicRole int

const (
	// RoleCommand receives host commands.
	RoleCommand CharacteristicRole = iota
	// RoleLength receives the length of the next command (PinPad).
	RoleLength
	// RoleResponse is read to fetch a response.
	RoleResponse
	// RoleNotify notifies response lengths (PinPad) or card data blocks (SCRA).
	RoleNotify
	// RoleDataReady notifies that a command response is readable (SCRA).
	RoleDataReady
)

// String returns the role name
func (r CharacteristicRole) String() string {
	switch r {
	case RoleCommand:
		return "command"
	case RoleLength:
		return "length"
	case RoleResponse:
		return "response"
	case RoleNotify:
		return "notify"
	case RoleDataReady:
		return "data-ready"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// ServiceLayout maps characteristic roles to UUIDs inside one primary service.
type ServiceLayout struct {
	Characteristics map[CharacteristicRole]string
	Service         string
}

// Notifying returns the roles that deliver notifications, in a fixed order.
func (l ServiceLayout) Notifying() []CharacteristicRole {
	var roles []CharacteristicRole
	for _, r := range []CharacteristicRole{RoleNotify, RoleDataReady} {
		if _, ok := l.Characteristics[r]; ok {
			roles = append(roles, r)
		}
	}
	return roles
}

// Notification is one value pushed by the device, or a disconnect signal.
type Notification struct {
	Data         []byte
	Role         CharacteristicRole
	Disconnected bool
}

// NotificationHandler receives notifications from a Transport.
type NotificationHandler func(Notification)

// ClassifyGATTError maps a platform GATT error onto the transport error
// kinds by its message. Errors already carrying a kind are wrapped as-is.
func ClassifyGATTError(op, target string, err error) error {
	if err == nil {
		return nil
	}
	for _, known := range []error{ErrTransportNotFound, ErrTransportBusy, ErrTransportNetwork, ErrTransportTimeout, ErrTransportClosed} {
		if errors.Is(err, known) {
			return NewTransportError(op, target, err)
		}
	}

	msg := strings.ToLower(err.Error())
	var kind error
	switch {
	case isBusyMessage(msg):
		kind = ErrTransportBusy
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no such"):
		kind = ErrTransportNotFound
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		kind = ErrTransportTimeout
	case strings.Contains(msg, "not connected"), strings.Contains(msg, "disconnected"):
		kind = ErrTransportClosed
	default:
		kind = ErrTransportNetwork
	}
	return NewTransportError(op, target, fmt.Errorf("%w: %w", kind, err))
}

// TransportWithRetry wraps a Transport so that reads hitting a busy GATT
// stack are retried with the configured delay and bound.
type TransportWithRetry struct {
	Transport
	config *RetryConfig
}

// NewTransportWithRetry creates a new transport wrapper with retry logic
func NewTransportWithRetry(transport Transport, config *RetryConfig) *TransportWithRetry {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &TransportWithRetry{
		Transport: transport,
		config:    config,
	}
}

// ReadResponse reads with busy retries. When every attempt finds the stack
// busy it fails with ErrReadFailed.
func (t *TransportWithRetry) ReadResponse(ctx context.Context) ([]byte, error) {
	var lastErr error
	cfg := itransport.Attempts(t.config.BusyRetries+1, t.config.BusyRetryDelay, "read response")
	cfg.OnRetry = func(attempt int) error {
		debugf("[READ] GATT busy, retry %d/%d", attempt, t.config.BusyRetries)
		return nil
	}
	cfg.OnRetryFailed = func() error {
		return ErrReadFailed.withCause(lastErr)
	}

	return itransport.WithRetry(ctx, cfg, func() ([]byte, bool, error) {
		data, err := t.Transport.ReadResponse(ctx)
		if err == nil {
			return data, false, nil
		}
		if errors.Is(err, ErrTransportBusy) {
			lastErr = err
			return nil, true, nil
		}
		return nil, false, err
	})
}

// SetRetryConfig updates the retry configuration
func (t *TransportWithRetry) SetRetryConfig(config *RetryConfig) {
	t.config = config
}

// Unwrap returns the wrapped transport
func (t *TransportWithRetry) Unwrap() Transport {
	return t.Transport
}
