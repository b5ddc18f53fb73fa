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

// Package uart implements magble.Transport over a serial GATT bridge: a
// bench adapter that holds the BLE link to the terminal and relays
// characteristic traffic as SLIP framed messages.
package uart

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/ZaparooProject/go-magble"
	itransport "github.com/ZaparooProject/go-magble/internal/transport"
	"go.bug.st/serial"
	"go.uber.org/atomic"
)

const (
	defaultBaudRate     = 115200
	defaultReplyTimeout = 3 * time.Second
)

// Opener opens the serial port. Tests replace it with an in-memory pipe.
type Opener func(name string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openSerial(name string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, err
	}
	if err := port.ResetInputBuffer(); err != nil {
		_ = port.Close()
		return nil, err
	}
	return port, nil
}

// Option configures a Transport
type Option func(*Transport)

// WithBaudRate sets the serial speed
func WithBaudRate(rate int) Option {
	return func(t *Transport) { t.mode.BaudRate = rate }
}

// WithReplyTimeout bounds the wait for a bridge reply
func WithReplyTimeout(d time.Duration) Option {
	return func(t *Transport) { t.replyTimeout = d }
}

// WithOpener replaces the function opening the port
func WithOpener(open Opener) Option {
	return func(t *Transport) { t.open = open }
}

// WithLogger sets the logger bridge traffic is traced to
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// Transport talks to a terminal through a serial GATT bridge.
//
// Thread Safety: requests are serialized; notifications are handed to the
// subscribed handler from a single goroutine.
type Transport struct {
	port         io.ReadWriteCloser
	open         Opener
	logger       *slog.Logger
	mode         *serial.Mode
	replies      chan []byte
	readerDone   chan struct{}
	relay        *itransport.Relay[magble.Notification]
	handler      magble.NotificationHandler
	chars        map[magble.CharacteristicRole]bool
	connected    *atomic.Bool
	portName     string
	layout       magble.ServiceLayout
	replyTimeout time.Duration
	reqMu        sync.Mutex
	mu           sync.Mutex
}

// New creates a transport for the bridge on portName. The port is opened
// by Connect.
func New(portName string, opts ...Option) *Transport {
	t := &Transport{
		portName:     portName,
		open:         openSerial,
		logger:       slog.Default(),
		mode:         &serial.Mode{BaudRate: defaultBaudRate, DataBits: 8, Parity: serial.NoParity, StopBits: serial.OneStopBit},
		replyTimeout: defaultReplyTimeout,
		connected:    atomic.NewBool(false),
		chars:        map[magble.CharacteristicRole]bool{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect opens the port if needed and asks the bridge to connect to the
// terminal.
func (t *Transport) Connect(ctx context.Context) error {
	if err := t.ensurePort(); err != nil {
		return err
	}
	if _, err := t.request(ctx, opConnect, t.portName, nil); err != nil {
		return err
	}
	t.connected.Store(true)
	return nil
}

func (t *Transport) ensurePort() error {
	t.mu.Lock()
	if t.port != nil {
		select {
		case <-t.readerDone:
			// the serial link died, start over
			stale, relay := t.port, t.relay
			t.port, t.relay = nil, nil
			t.mu.Unlock()
			_ = stale.Close()
			relay.Close()
			t.mu.Lock()
		default:
			t.mu.Unlock()
			return nil
		}
	}
	defer t.mu.Unlock()
	port, err := t.open(t.portName, t.mode)
	if err != nil {
		return magble.NewTransportError("open", t.portName,
			fmt.Errorf("%w: %w", magble.ErrTransportNetwork, err))
	}
	t.port = port
	t.replies = make(chan []byte, 1)
	t.readerDone = make(chan struct{})
	t.relay = itransport.NewRelay(t.deliver)
	go t.readLoop(port, t.replies, t.readerDone)
	return nil
}

// Disconnect drops the terminal link and closes the port.
func (t *Transport) Disconnect() error {
	var err error
	if t.connected.Load() {
		_, err = t.request(context.Background(), opDisconnect, t.portName, nil)
	}
	t.connected.Store(false)
	t.ClearCache()

	t.mu.Lock()
	port, done, relay := t.port, t.readerDone, t.relay
	t.port, t.relay = nil, nil
	t.mu.Unlock()
	if port == nil {
		return err
	}
	if cerr := port.Close(); cerr != nil && err == nil {
		err = cerr
	}
	<-done
	relay.Close()
	if errors.Is(err, magble.ErrTransportClosed) {
		return nil
	}
	return err
}

// IsConnected returns true if the bridge reported a live terminal link
func (t *Transport) IsConnected() bool {
	return t.connected.Load()
}

// OpenService sends the layout to the bridge, which resolves the service
// and every characteristic in it.
func (t *Transport) OpenService(ctx context.Context, layout magble.ServiceLayout) error {
	payload, err := encodeLayout(layout)
	if err != nil {
		return magble.NewTransportError("open service", layout.Service, err)
	}
	if _, err := t.request(ctx, opOpenService, layout.Service, payload); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layout = layout
	t.chars = map[magble.CharacteristicRole]bool{}
	for role := range layout.Characteristics {
		t.chars[role] = true
	}
	return nil
}

// HasCharacteristic reports whether the bridge resolved role
func (t *Transport) HasCharacteristic(role magble.CharacteristicRole) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.chars[role]
}

// ClearCache forgets the resolved layout
func (t *Transport) ClearCache() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.layout = magble.ServiceLayout{}
	t.chars = map[magble.CharacteristicRole]bool{}
}

// WriteCommand writes data to the command characteristic
func (t *Transport) WriteCommand(ctx context.Context, data []byte) error {
	return t.write(ctx, magble.RoleCommand, data)
}

// WriteLength writes n to the length characteristic
func (t *Transport) WriteLength(ctx context.Context, n int) error {
	if n < 0 || n > 0xFF {
		return magble.NewTransportError("write", magble.RoleLength.String(),
			fmt.Errorf("length %d does not fit one byte", n))
	}
	return t.write(ctx, magble.RoleLength, []byte{byte(n)})
}

func (t *Transport) write(ctx context.Context, role magble.CharacteristicRole, data []byte) error {
	if !t.HasCharacteristic(role) {
		return magble.NewTransportError("write", role.String(), magble.ErrTransportNotFound)
	}
	payload := append([]byte{byte(role)}, data...)
	_, err := t.request(ctx, opWrite, role.String(), payload)
	return err
}

// ReadResponse reads the response characteristic
func (t *Transport) ReadResponse(ctx context.Context) ([]byte, error) {
	if !t.HasCharacteristic(magble.RoleResponse) {
		return nil, magble.NewTransportError("read", magble.RoleResponse.String(), magble.ErrTransportNotFound)
	}
	return t.request(ctx, opRead, magble.RoleResponse.String(), []byte{byte(magble.RoleResponse)})
}

// Subscribe enables notifications on every notifying role of the layout
func (t *Transport) Subscribe(handler magble.NotificationHandler) error {
	t.mu.Lock()
	roles := t.layout.Notifying()
	t.handler = handler
	t.mu.Unlock()

	for _, role := range roles {
		if _, err := t.request(context.Background(), opSubscribe, role.String(), []byte{byte(role), 0x01}); err != nil {
			return err
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

	var firstErr error
	if !t.connected.Load() {
		return nil
	}
	for _, role := range roles {
		if _, err := t.request(context.Background(), opSubscribe, role.String(), []byte{byte(role), 0x00}); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Type returns the transport type
func (*Transport) Type() magble.TransportType {
	return magble.TransportUART
}

// request sends one bridge message and waits for its reply.
func (t *Transport) request(ctx context.Context, op byte, target string, payload []byte) ([]byte, error) {
	t.reqMu.Lock()
	defer t.reqMu.Unlock()

	t.mu.Lock()
	port, replies := t.port, t.replies
	t.mu.Unlock()
	if port == nil {
		return nil, magble.NewTransportError(opName(op), target, magble.ErrTransportClosed)
	}

	// a reply that arrived after its request timed out
	select {
	case <-replies:
	default:
	}

	msg := append([]byte{op}, payload...)
	t.logger.Debug("[BRIDGE] send", "op", opName(op), "data", fmt.Sprintf("% X", msg))
	if _, err := port.Write(slipEncode(msg)); err != nil {
		return nil, magble.NewTransportError(opName(op), target,
			fmt.Errorf("%w: %w", magble.ErrTransportNetwork, err))
	}

	timer := time.NewTimer(t.replyTimeout)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, magble.NewTimeoutError(opName(op), target)
		case reply, ok := <-replies:
			if !ok {
				return nil, magble.NewTransportError(opName(op), target, magble.ErrTransportClosed)
			}
			if len(reply) < 2 {
				return nil, magble.NewTransportError(opName(op), target, errShortReply)
			}
			if reply[0] != op|replyFlag {
				t.logger.Debug("[BRIDGE] stale reply", "op", fmt.Sprintf("0x%02X", reply[0]))
				continue
			}
			if err := statusError(op, target, reply[1]); err != nil {
				if reply[1] == statusNotConnected {
					t.connected.Store(false)
				}
				return nil, err
			}
			return reply[2:], nil
		}
	}
}

// readLoop splits the stream into messages: replies go to the waiting
// request, notifications to the relay.
func (t *Transport) readLoop(port io.Reader, replies chan []byte, done chan struct{}) {
	defer close(done)
	defer close(replies)

	var dec slipDecoder
	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		for _, msg := range dec.feed(buf[:n]) {
			t.route(msg, replies)
		}
		if err != nil {
			if t.connected.Swap(false) {
				t.logger.Warn("[BRIDGE] serial link lost", "error", err)
				t.push(magble.Notification{Disconnected: true})
			}
			return
		}
	}
}

func (t *Transport) route(msg []byte, replies chan []byte) {
	switch msg[0] {
	case evNotify:
		if len(msg) < 2 {
			return
		}
		t.push(magble.Notification{
			Role: magble.CharacteristicRole(msg[1]),
			Data: append([]byte(nil), msg[2:]...),
		})
	case evDisconnected:
		t.connected.Store(false)
		t.ClearCache()
		t.push(magble.Notification{Disconnected: true})
	default:
		if msg[0]&replyFlag == 0 {
			t.logger.Debug("[BRIDGE] unexpected message", "data", fmt.Sprintf("% X", msg))
			return
		}
		select {
		case replies <- msg:
		default:
			// nobody is waiting
		}
	}
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
