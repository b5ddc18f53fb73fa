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

package uart

import (
	"errors"
	"fmt"
	"sort"

	"github.com/ZaparooProject/go-magble"
)

// Bridge requests. A reply carries the request op with the high bit set,
// a status byte and the op specific payload.
const (
	opConnect     byte = 0x01
	opDisconnect  byte = 0x02
	opOpenService byte = 0x03
	opWrite       byte = 0x04
	opRead        byte = 0x05
	opSubscribe   byte = 0x06

	replyFlag byte = 0x80

	// unsolicited messages from the bridge
	evNotify       byte = 0x90
	evDisconnected byte = 0x91
)

// Bridge status codes
const (
	statusOK           byte = 0x00
	statusNotFound     byte = 0x01
	statusBusy         byte = 0x02
	statusTimeout      byte = 0x03
	statusNotConnected byte = 0x04
	statusFailed       byte = 0x05
)

var errShortReply = errors.New("bridge reply too short")

func opName(op byte) string {
	switch op {
	case opConnect:
		return "connect"
	case opDisconnect:
		return "disconnect"
	case opOpenService:
		return "open service"
	case opWrite:
		return "write"
	case opRead:
		return "read"
	case opSubscribe:
		return "subscribe"
	default:
		return fmt.Sprintf("op 0x%02X", op)
	}
}

// statusError maps a bridge status onto the transport error kinds.
func statusError(op byte, target string, status byte) error {
	var kind error
	switch status {
	case statusOK:
		return nil
	case statusNotFound:
		kind = magble.ErrTransportNotFound
	case statusBusy:
		kind = magble.ErrTransportBusy
	case statusTimeout:
		kind = magble.ErrTransportTimeout
	case statusNotConnected:
		kind = magble.ErrTransportClosed
	default:
		kind = fmt.Errorf("%w: bridge status 0x%02X", magble.ErrTransportNetwork, status)
	}
	return magble.NewTransportError(opName(op), target, kind)
}

// encodeLayout packs a service layout as
// [len service][service] then per role [role][len uuid][uuid].
func encodeLayout(layout magble.ServiceLayout) ([]byte, error) {
	if len(layout.Service) > 0xFF {
		return nil, fmt.Errorf("service uuid too long: %q", layout.Service)
	}
	out := append([]byte{byte(len(layout.Service))}, layout.Service...)

	roles := make([]int, 0, len(layout.Characteristics))
	for r := range layout.Characteristics {
		roles = append(roles, int(r))
	}
	sort.Ints(roles)
	for _, r := range roles {
		uuid := layout.Characteristics[magble.CharacteristicRole(r)]
		if len(uuid) > 0xFF {
			return nil, fmt.Errorf("characteristic uuid too long: %q", uuid)
		}
		out = append(out, byte(r), byte(len(uuid)))
		out = append(out, uuid...)
	}
	return out, nil
}

// decodeLayout is the inverse of encodeLayout, used by bench bridges
// written in Go and by tests.
func decodeLayout(b []byte) (magble.ServiceLayout, error) {
	layout := magble.ServiceLayout{Characteristics: map[magble.CharacteristicRole]string{}}
	if len(b) < 1 || len(b) < 1+int(b[0]) {
		return layout, errShortReply
	}
	n := int(b[0])
	layout.Service = string(b[1 : 1+n])
	for i := 1 + n; i < len(b); {
		if i+2 > len(b) || i+2+int(b[i+1]) > len(b) {
			return layout, errShortReply
		}
		role, size := magble.CharacteristicRole(b[i]), int(b[i+1])
		layout.Characteristics[role] = string(b[i+2 : i+2+size])
		i += 2 + size
	}
	return layout, nil
}
