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

// Package testing builds terminal frames for tests.
package testing

// PinPad report ids
const (
	ReportACK          = 0x01
	ReportSerialNumber = 0x1A
	ReportDeviceState  = 0x20
	ReportCardStatus   = 0x22
	ReportCardData     = 0x23
	ReportPinResponse  = 0x24
	ReportBigBlock     = 0x29
	ReportDelayedACK   = 0x2A
)

// BuildACK creates a PinPad ACK for command cmd
func BuildACK(cmd, status byte) []byte {
	return []byte{ReportACK, status, cmd}
}

// BuildDelayedACK creates a delayed PinPad ACK
func BuildDelayedACK(cmd, status byte) []byte {
	return []byte{ReportDelayedACK, status, cmd}
}

// BuildCardStatus creates a card status report with card information
func BuildCardStatus(status, cardType byte) []byte {
	return []byte{ReportCardStatus, 0x00, status, cardType}
}

// BuildCardData creates one card data report
func BuildCardData(id, status byte, data []byte) []byte {
	f := []byte{ReportCardData, id, status, byte(len(data))}
	return append(f, data...)
}

// BuildDeviceState creates a device state report with all flags clear
func BuildDeviceState(state byte) []byte {
	return []byte{ReportDeviceState, state, 0x00, 0x00, 0x00, 0x00, 0x00}
}

// BuildPinResponse creates a PIN response carrying a 10 byte KSN and an
// 8 byte PIN block
func BuildPinResponse(status byte, ksn, block []byte) []byte {
	f := []byte{ReportPinResponse, status}
	f = append(f, ksn...)
	return append(f, block...)
}

// BuildSerialNumber creates the serial number report for sn
func BuildSerialNumber(sn string) []byte {
	f := []byte{ReportSerialNumber, 0x05}
	f = append(f, sn...)
	return append(f, 0x00)
}

// BuildBigBlock splits payload into the begin, data and end frames of a
// device to host big block.
func BuildBigBlock(bufferType byte, payload []byte, chunk int) [][]byte {
	n := len(payload)
	frames := [][]byte{{ReportBigBlock, bufferType, 0x00, 0x00, byte(n), byte(n >> 8)}}
	for i, block := 0, 1; i < n; i, block = i+chunk, block+1 {
		end := min(i+chunk, n)
		f := []byte{ReportBigBlock, bufferType, byte(block), byte(end - i)}
		frames = append(frames, append(f, payload[i:end]...))
	}
	return append(frames, []byte{ReportBigBlock, bufferType, 0x63})
}

// BuildResultCode creates an extended SCRA response with a two byte result
func BuildResultCode(code uint16) []byte {
	return []byte{0x00, 0x00, 0x00, 0x00, byte(code >> 8), byte(code)}
}

// BuildScraBlocks splits an assembled SCRA payload into numbered
// notifications followed by the terminal frame.
func BuildScraBlocks(payload []byte, chunk int) [][]byte {
	var frames [][]byte
	index := 0
	for i := 0; i < len(payload); i += chunk {
		end := min(i+chunk, len(payload))
		f := append([]byte{byte(index)}, payload[i:end]...)
		frames = append(frames, f)
		index++
	}
	return append(frames, []byte{0xFF, byte(index)})
}

// BuildScraNotification creates an assembled SCRA notification payload
// for notification id with data starting at byte 11.
func BuildScraNotification(id uint16, data []byte) []byte {
	n := []byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, byte(id >> 8), byte(id), 0x00, 0x00}
	return append(n, data...)
}

// BuildScraTransactionStatus creates a transaction status payload whose
// nested length fields are consistent.
func BuildScraTransactionStatus(status, progress byte) []byte {
	content := []byte{status, 0x00, progress}
	inner := []byte{0x00, 0x00, 0x00, 0x00, 0x03, 0x00, 0x00, byte(len(content))}
	inner = append(inner, content...)
	n := []byte{0x02, byte(len(inner) >> 8), byte(len(inner))}
	return append(n, inner...)
}
