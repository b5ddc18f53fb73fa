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

package ble

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ZaparooProject/go-magble"
	"tinygo.org/x/bluetooth"
)

const readBufferSize = 512

// TinyGoAdapter is the Adapter backed by tinygo.org/x/bluetooth.
type TinyGoAdapter struct {
	adapter     *bluetooth.Adapter
	connections map[string]*tinyGoConnection
	mu          sync.Mutex
}

// NewTinyGoAdapter enables the default host adapter.
func NewTinyGoAdapter() (*TinyGoAdapter, error) {
	a := &TinyGoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinyGoConnection),
	}
	if err := a.adapter.Enable(); err != nil {
		return nil, fmt.Errorf("enabling BLE adapter: %w", err)
	}
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		a.mu.Lock()
		conn, ok := a.connections[strings.ToUpper(device.Address.String())]
		a.mu.Unlock()
		if ok {
			conn.dropped()
		}
	})
	return a, nil
}

// Scan reports named peripherals accepted by match until ctx is done.
func (a *TinyGoAdapter) Scan(ctx context.Context, match func(name string) bool) ([]Found, error) {
	var mu sync.Mutex
	var found []Found
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		name := result.LocalName()
		if name == "" || (match != nil && !match(name)) {
			return
		}
		addr := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[addr] {
			return
		}
		seen[addr] = true
		found = append(found, Found{Name: name, Address: addr, RSSI: int(result.RSSI)})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("scanning: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

// Connect connects to address. The stack's own connect timeout still
// applies; ctx only stops the wait.
func (a *TinyGoAdapter) Connect(ctx context.Context, address string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(address)

	type result struct {
		err    error
		device bluetooth.Device
	}
	ch := make(chan result, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- result{device: device, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("connecting to %s: %w", address, ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return nil, magble.ClassifyGATTError("connect", address, r.err)
		}
		conn := &tinyGoConnection{device: r.device}
		a.mu.Lock()
		a.connections[strings.ToUpper(address)] = conn
		a.mu.Unlock()
		return conn, nil
	}
}

type tinyGoConnection struct {
	onDisconnect func()
	device       bluetooth.Device
	mu           sync.Mutex
}

func (c *tinyGoConnection) DiscoverCharacteristics(service string, uuids []string) (map[string]Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(service)
	if err != nil {
		return nil, fmt.Errorf("parsing service uuid: %w", err)
	}
	want := make([]bluetooth.UUID, 0, len(uuids))
	for _, u := range uuids {
		parsed, err := bluetooth.ParseUUID(u)
		if err != nil {
			return nil, fmt.Errorf("parsing characteristic uuid: %w", err)
		}
		want = append(want, parsed)
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, magble.ClassifyGATTError("discover services", service, err)
	}
	if len(svcs) == 0 {
		return nil, magble.NewTransportError("discover services", service, magble.ErrTransportNotFound)
	}
	chars, err := svcs[0].DiscoverCharacteristics(want)
	if err != nil {
		return nil, magble.ClassifyGATTError("discover characteristics", service, err)
	}

	out := make(map[string]Characteristic, len(chars))
	for i := range chars {
		out[strings.ToLower(chars[i].UUID().String())] = &tinyGoCharacteristic{char: chars[i]}
	}
	return out, nil
}

func (c *tinyGoConnection) Disconnect() error {
	return c.device.Disconnect()
}

func (c *tinyGoConnection) OnDisconnect(callback func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = callback
}

func (c *tinyGoConnection) dropped() {
	c.mu.Lock()
	cb := c.onDisconnect
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinyGoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinyGoCharacteristic) Write(data []byte) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinyGoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufferSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func (c *tinyGoCharacteristic) Subscribe(callback func(data []byte)) error {
	return c.char.EnableNotifications(callback)
}

func (c *tinyGoCharacteristic) Unsubscribe() error {
	return c.char.EnableNotifications(nil)
}

var _ Adapter = (*TinyGoAdapter)(nil)
