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

// Package ble implements magble.Transport over a native Bluetooth LE stack.
package ble

import "context"

// Characteristic is one GATT characteristic of a connected terminal.
type Characteristic interface {
	// Write writes data to the characteristic
	Write(data []byte) error
	// Read reads the characteristic value
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications
	Subscribe(callback func(data []byte)) error
	// Unsubscribe disables notifications
	Unsubscribe() error
}

// Connection is an active link to a peripheral.
type Connection interface {
	// DiscoverCharacteristics resolves the characteristics of service by
	// UUID. A missing service or characteristic is reported as not found.
	DiscoverCharacteristics(service string, uuids []string) (map[string]Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Found is a peripheral seen while scanning.
type Found struct {
	Name    string
	Address string
	RSSI    int
}

// Adapter abstracts the host BLE adapter.
type Adapter interface {
	// Scan reports peripherals accepted by match until ctx is done.
	Scan(ctx context.Context, match func(name string) bool) ([]Found, error)
	// Connect establishes a connection to address.
	Connect(ctx context.Context, address string) (Connection, error)
}
