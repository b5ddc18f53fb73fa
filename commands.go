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

// PinPad command codes (second byte of a command after the marker)
const (
	cmdResponseACK        = 0x01
	cmdClearSession       = 0x02
	cmdSwipe              = 0x03
	cmdRequestPinEntry    = 0x04
	cmdCancel             = 0x05
	cmdCardholderSelect   = 0x06
	cmdDisplayMessage     = 0x07
	cmdDeviceStatus       = 0x08
	cmdDeviceConfig       = 0x09
	cmdRequestMsrData     = 0x0A
	cmdGetChallenge       = 0x0B
	cmdSendBigBlock       = 0x10
	cmdDeviceInfo         = 0x1A
	cmdGetKsn             = 0x30
	cmdTipCashback        = 0xA0
	cmdEmvTransaction     = 0xA2
	cmdArpc               = 0xA4
	cmdRequestEmvData     = 0xAB
	deviceInfoSerialField = 0x05
)

// pinCommandNames maps command codes to the names echoed in ACK reports.
var pinCommandNames = map[byte]string{
	cmdResponseACK:      "responseACK",
	cmdClearSession:     "clearSession",
	cmdSwipe:            "swipe",
	cmdRequestPinEntry:  "requestPinEntry",
	cmdCancel:           "cancelCommand",
	cmdCardholderSelect: "requestCardholderSelection",
	cmdDisplayMessage:   "displayMessage",
	cmdDeviceStatus:     "requestDeviceStatus",
	cmdDeviceConfig:     "requestDeviceConfiguration",
	cmdRequestMsrData:   "requestMsrData",
	cmdGetChallenge:     "getChallenge",
	cmdEmvTransaction:   "emvTransactionStatus",
	cmdRequestEmvData:   "requestEmvData",
	cmdGetKsn:           "getKsn",
	cmdDeviceInfo:       "requestDeviceInfo",
	cmdSendBigBlock:     "sendBigBlockData",
}

const undocumentedCommand = "Device error or command type not documented"

func pinCommandName(id byte) string {
	if name, ok := pinCommandNames[id]; ok {
		return name
	}
	return undocumentedCommand
}

// PinPad report IDs (byte 0 of a frame read from the device)
const (
	reportACK              = 0x01
	reportEndSession       = 0x02
	reportRequestSwipe     = 0x03
	reportDeviceConfig     = 0x09
	reportSerialNumber     = 0x1A
	reportDeviceState      = 0x20
	reportCardStatus       = 0x22
	reportCardData         = 0x23
	reportPinResponse      = 0x24
	reportSelection        = 0x25
	reportDisplayDone      = 0x27
	reportBigBlock         = 0x29
	reportDelayedACK       = 0x2A
	reportCardholderStatus = 0x2C
	reportTipCashback      = 0x30
	reportEmvCompletion    = 0xA2
)

// Big-block buffer types
const (
	bufferDeviceCert = 0x02
	bufferSetBIN     = 0x32
	bufferCSR        = 0x42
	bufferTagData    = 0xA1
	bufferARQC       = 0xA4
	bufferCAPK       = 0xA5
	bufferBatch      = 0xAB
)

// Debug buffers the device streams and the host ignores
var debugBuffers = map[byte]bool{0x18: true, 0x20: true, 0x21: true}

// SCRA command bytes
const (
	scraBattery     = 0x45
	scraHeadControl = 0x58
)

// SCRA extended command ids (bytes 4..5 of an extended command)
const (
	scraStartTransaction = 0x0300
	scraUserSelection    = 0x0302
	scraArpc             = 0x0303
	scraCancel           = 0x0304
	scraSetDateTime      = 0x030C
)

// SCRA notification ids (bytes 7..8 of an assembled notification)
const (
	scraNotifyTransactionStatus = 0x0300
	scraNotifyDisplayMessage    = 0x0301
	scraNotifyUserSelection     = 0x0302
	scraNotifyARQC              = 0x0303
	scraNotifyBatch             = 0x0304
)

// scraInvalidDateTime is the start-transaction result asking for a clock sync
const scraInvalidDateTime = 0x0396
