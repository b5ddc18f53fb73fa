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
	"sync"
	"time"
)

// MockTransport is a scripted GATT double. Every written command is passed
// to ResponseFunc; a non-nil answer is made readable and announced the way
// the terminal family announces responses. Reports pushed with PushReport
// and card data pushed with Notify reach the device like real notifications.
type MockTransport struct {
	handler NotificationHandler
	// ResponseFunc answers a written command, nil leaves it unanswered. It
	// runs with the mock locked and must not call back into it.
	ResponseFunc func(cmd []byte) []byte
	chars        map[CharacteristicRole]bool
	missing      map[string]bool
	writeSignal  chan struct{}
	readable     [][]byte
	writes       [][]byte
	lengths      []int
	openErrs     []error
	dialect      Dialect
	busyReads    int
	connects     int
	mu           sync.Mutex
	connected    bool
}

// NewMockTransport creates a mock speaking the given dialect.
func NewMockTransport(dialect Dialect) *MockTransport {
	return &MockTransport{
		dialect:     dialect,
		chars:       make(map[CharacteristicRole]bool),
		missing:     make(map[string]bool),
		writeSignal: make(chan struct{}, 1),
	}
}

// Connect marks the link up
func (m *MockTransport) Connect(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	m.connects++
	return nil
}

// Disconnect drops the link
func (m *MockTransport) Disconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// IsConnected reports the link state
func (m *MockTransport) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// OpenService caches layout unless an injected error or a missing service
// says otherwise.
func (m *MockTransport) OpenService(_ context.Context, layout ServiceLayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.openErrs) > 0 {
		err := m.openErrs[0]
		m.openErrs = m.openErrs[1:]
		if err != nil {
			return err
		}
	}
	if m.missing[layout.Service] {
		return NewTransportError("open service", layout.Service, ErrTransportNotFound)
	}
	for role := range layout.Characteristics {
		m.chars[role] = true
	}
	return nil
}

// HasCharacteristic reports whether role was cached
func (m *MockTransport) HasCharacteristic(role CharacteristicRole) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chars[role]
}

// ClearCache forgets the cached characteristics
func (m *MockTransport) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chars = make(map[CharacteristicRole]bool)
}

// WriteLength records a PinPad length write
func (m *MockTransport) WriteLength(_ context.Context, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return ErrTransportClosed
	}
	m.lengths = append(m.lengths, n)
	return nil
}

// WriteCommand records cmd and answers it through ResponseFunc. The answer
// is readable before the write is visible to WaitForWrites.
func (m *MockTransport) WriteCommand(_ context.Context, data []byte) error {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return ErrTransportClosed
	}
	cmd := append([]byte(nil), data...)
	var resp []byte
	if m.ResponseFunc != nil {
		resp = m.ResponseFunc(cmd)
	}
	if resp != nil {
		m.readable = append(m.readable, resp)
	}
	m.writes = append(m.writes, cmd)
	m.mu.Unlock()

	if resp != nil {
		if m.dialect == DialectPinPad {
			m.Notify(RoleNotify, []byte{0x03})
		} else {
			m.Notify(RoleDataReady, []byte{0x01})
		}
	}

	select {
	case m.writeSignal <- struct{}{}:
	default:
	}
	return nil
}

// ReadResponse returns the oldest readable value. Reads made busy with
// SetBusyReads fail with ErrTransportBusy first.
func (m *MockTransport) ReadResponse(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.busyReads > 0 {
		m.busyReads--
		return nil, NewTransportError("read", "response", ErrTransportBusy)
	}
	if len(m.readable) == 0 {
		return []byte{}, nil
	}
	resp := m.readable[0]
	m.readable = m.readable[1:]
	return resp, nil
}

// Subscribe stores the notification handler
func (m *MockTransport) Subscribe(handler NotificationHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
	return nil
}

// Unsubscribe drops the notification handler
func (m *MockTransport) Unsubscribe() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = nil
	return nil
}

// Type returns the transport type
func (*MockTransport) Type() TransportType {
	return TransportMock
}

// Notify delivers a notification on role. It blocks until the device took it.
func (m *MockTransport) Notify(role CharacteristicRole, data []byte) {
	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(Notification{Role: role, Data: append([]byte(nil), data...)})
	}
}

// PushReport makes an unsolicited PinPad report readable and announces it.
func (m *MockTransport) PushReport(report []byte) {
	m.mu.Lock()
	m.readable = append(m.readable, append([]byte(nil), report...))
	m.mu.Unlock()
	m.Notify(RoleNotify, []byte{byte(len(report))})
}

// SimulateDisconnect drops the link and reports it like the stack would.
func (m *MockTransport) SimulateDisconnect() {
	m.mu.Lock()
	m.connected = false
	handler := m.handler
	m.mu.Unlock()
	if handler != nil {
		handler(Notification{Disconnected: true})
	}
}

// SetMissingService makes OpenService fail with ErrTransportNotFound for uuid.
func (m *MockTransport) SetMissingService(uuid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.missing[uuid] = true
}

// SetOpenErrors queues errors returned by successive OpenService calls.
func (m *MockTransport) SetOpenErrors(errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErrs = append(m.openErrs, errs...)
}

// SetBusyReads makes the next n reads fail as busy.
func (m *MockTransport) SetBusyReads(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.busyReads = n
}

// SetResponseFunc replaces the command handler.
func (m *MockTransport) SetResponseFunc(fn func(cmd []byte) []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponseFunc = fn
}

// Writes returns a copy of every command written so far.
func (m *MockTransport) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// Lengths returns every length written so far.
func (m *MockTransport) Lengths() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.lengths...)
}

// Connects returns how many times Connect was called.
func (m *MockTransport) Connects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connects
}

// WaitForWrites blocks until n commands were written or timeout expires.
func (m *MockTransport) WaitForWrites(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		m.mu.Lock()
		got := len(m.writes)
		m.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-m.writeSignal:
		case <-deadline.C:
			return false
		}
	}
}

var _ Transport = (*MockTransport)(nil)
