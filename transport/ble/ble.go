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
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ZaparooProject/go-magble"
	itransport "github.com/ZaparooProject/go-magble/internal/transport"
	"go.uber.org/atomic"
)

const defaultConnectTimeout = 10 * time.Second

// Option configures a Transport
type Option func(*Transport)

// WithConnectTimeout bounds a single connection attempt
func WithConnectTimeout(d time.Duration) Option {
	return func(t *Transport) { t.connectTimeout = d }
}

// WithLogger sets the logger GATT traffic is traced to
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// Transport talks to a terminal over a native BLE link.
//
// Thread Safety: one GATT operation runs at a time. A read issued while
// another operation is in flight fails with magble.ErrTransportBusy
// instead of queueing, the same way the platform stacks behave.
type Transport struct {
	adapter        Adapter
	conn           Connection
	logger         *slog.Logger
	relay          *itransport.Relay[magble.Notification]
	handler        magble.NotificationHandler
	chars          map[magble.CharacteristicRole]Characteristic
	connected      *atomic.Bool
	address        string
	layout         magble.ServiceLayout
	connectTimeout time.Duration
	gatt           sync.Mutex
	mu             sync.Mutex
}

// New creates a transport for the peripheral at address.
func New(adapter Adapter, address string, opts ...Option) *Transport {
	t := &Transport{
		adapter:        adapter,
		address:        address,
		logger:         slog.Default(),
		connectTimeout: defaultConnectTimeout,
		connected:      atomic.NewBool(false),
		chars:          map[magble.CharacteristicRole]Characteristic{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect establishes the link. Connecting while connected is a no-op.
func (t *Transport) Connect(ctx context.Context) error {
	if t.connected.Load() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, t.connectTimeout)
	defer cancel()

	t.logger.Debug("[BLE] connecting", "address", t.address)
	conn, err := t.adapter.Connect(ctx, t.address)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return magble.NewTimeoutError("connect", t.address)
		}
		return magble.ClassifyGATTError("connect", t.address, err)
	}

	t.mu.Lock()
	stale := t.relay
	t.conn = conn
	t.relay = itransport.NewRelay(t.deliver)
	t.mu.Unlock()
	if stale != nil {
		stale.Close()
	}

	conn.OnDisconnect(t.dropped)
	t.connected.Store(true)
	t.logger.Debug("[BLE] connected", "address", t.address)
	return nil
}

// dropped handles a link loss the host did not ask for.
func (t *Transport) dropped() {
	if !t.connected.Swap(false) {
		return
	}
	t.logger.Warn("[BLE] connection lost", "address", t.address)
	t.ClearCache()
	t.push(magble.Notification{Disconnected: true})
}

// Disconnect drops the link
func (t *Transport) Disconnect() error {
	t.connected.Store(false)
	t.ClearCache()

	t.mu.Lock()
	conn, relay := t.conn, t.relay
	t.conn, t.relay = nil, nil
	t.mu.Unlock()

	var err error
	if conn != nil {
		if derr := conn.Disconnect(); derr != nil {
			err = magble.ClassifyGATTError("disconnect", t.address, derr)
		}
	}
	if relay != nil {
		relay.Close()
	}
	return err
}

// IsConnected returns true while the link is up
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// OpenService discovers the service in layout and every characteristic it
// names. A characteristic UUID shared by several roles is discovered once.
func (t *Transport) OpenService(_ context.Context, layout magble.ServiceLayout) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || !t.connected.Load() {
		return magble.NewTransportError("open service", layout.Service, magble.ErrTransportClosed)
	}

	if !t.gatt.TryLock() {
		return magble.NewTransportError("open service", layout.Service,
			fmt.Errorf("%w: %w", magble.ErrTransportNetwork, magble.ErrTransportBusy))
	}
	defer t.gatt.Unlock()

	seen := map[string]bool{}
	var uuids []string
	for _, u := range layout.Characteristics {
		u = strings.ToLower(u)
		if !seen[u] {
			seen[u] = true
			uuids = append(uuids, u)
		}
	}

	found, err := conn.DiscoverCharacteristics(layout.Service, uuids)
	if err != nil {
		return magble.ClassifyGATTError("open service", layout.Service, err)
	}

	chars := make(map[magble.CharacteristicRole]Characteristic, len(layout.Characteristics))
	for role, u := range layout.Characteristics {
		c, ok := found[strings.ToLower(u)]
		if !ok {
			return magble.NewTransportError("open service", role.String(), magble.ErrTransportNotFound)
		}
		chars[role] = c
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.layout = layout
	t.chars = chars
	return nil
}

// HasCharacteristic reports whether role was discovered
func (t *Transport) HasCharacteristic(role magble.CharacteristicRole) bool {
	_, ok := t.characteristic(role)
	return ok
}

// ClearCache forgets discovered characteristics
func (t *Transport) ClearCache() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layout = magble.ServiceLayout{}
	t.chars = map[magble.CharacteristicRole]Characteristic{}
}

func (t *Transport) characteristic(role magble.CharacteristicRole) (Characteristic, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.chars[role]
	return c, ok
}

// WriteCommand writes data to the command characteristic
func (t *Transport) WriteCommand(_ context.Context, data []byte) error {
	return t.write(magble.RoleCommand, data)
}

// WriteLength writes n to the length characteristic
func (t *Transport) WriteLength(_ context.Context, n int) error {
	if n < 0 || n > 0xFF {
		return magble.NewTransportError("write", magble.RoleLength.String(),
			fmt.Errorf("length %d does not fit one byte", n))
	}
	return t.write(magble.RoleLength, []byte{byte(n)})
}

func (t *Transport) write(role magble.CharacteristicRole, data []byte) error {
	c, ok := t.characteristic(role)
	if !ok {
		return magble.NewTransportError("write", role.String(), magble.ErrTransportNotFound)
	}
	t.gatt.Lock()
	defer t.gatt.Unlock()

	t.logger.Debug("[BLE] write", "role", role.String(), "data", fmt.Sprintf("% X", data))
	if err := c.Write(data); err != nil {
		return magble.ClassifyGATTError("write", role.String(), err)
	}
	return nil
}

// ReadResponse reads the response characteristic
func (t *Transport) ReadResponse(_ context.Context) ([]byte, error) {
	role := magble.RoleResponse
	c, ok := t.characteristic(role)
	if !ok {
		return nil, magble.NewTransportError("read", role.String(), magble.ErrTransportNotFound)
	}
	if !t.gatt.TryLock() {
		return nil, magble.NewTransportError("read", role.String(), magble.ErrTransportBusy)
	}
	defer t.gatt.Unlock()

	data, err := c.Read()
	if err != nil {
		return nil, magble.ClassifyGATTError("read", role.String(), err)
	}
	t.logger.Debug("[BLE] read", "role", role.String(), "data", fmt.Sprintf("% X", data))
	return data, nil
}

// Subscribe enables notifications on every notifying role of the layout
func (t *Transport) Subscribe(handler magble.NotificationHandler) error {
	t.mu.Lock()
	roles := t.layout.Notifying()
	t.handler = handler
	t.mu.Unlock()

	for _, role := range roles {
		c, ok := t.characteristic(role)
		if !ok {
			return magble.NewTransportError("subscribe", role.String(), magble.ErrTransportNotFound)
		}
		err := c.Subscribe(func(data []byte) {
			t.push(magble.Notification{Role: role, Data: append([]byte(nil), data...)})
		})
		if err != nil {
			return magble.ClassifyGATTError("subscribe", role.String(), err)
		}
	}
	return nil
}

// Unsubscribe disables notifications
func (t *Transport) Unsubscribe() error {
	t.mu.Lock()
	roles := t.layout.Notifying()
	t.handler = nil
	t.mu.Unlock()

	if !t.connected.Load() {
		return nil
	}
	var firstErr error
	for _, role := range roles {
		c, ok := t.characteristic(role)
		if !ok {
			continue
		}
		if err := c.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = magble.ClassifyGATTError("unsubscribe", role.String(), err)
		}
	}
	return firstErr
}

// Type returns the transport type
func (*Transport) Type() magble.TransportType {
	return magble.TransportBLE
}

func (t *Transport) push(n magble.Notification) {
	t.mu.Lock()
	relay := t.relay
	t.mu.Unlock()
	if relay != nil {
		relay.Push(n)
	}
}

func (t *Transport) deliver(n magble.Notification) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(n)
	}
}

var _ magble.Transport = (*Transport)(nil)
