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
	"bytes"
	"fmt"

	"github.com/ZaparooProject/go-magble/internal/codec"
	"github.com/ZaparooProject/go-magble/internal/frame"
	"github.com/ZaparooProject/go-magble/tlv"
)

const (
	// SCRA payloads carry their notification id at bytes 7..8 and the
	// notification data from byte 11
	scraNotifyIDOffset   = 7
	scraNotifyDataOffset = 11
	scraArqcTLVOffset    = 13
	scraBatchTLVOffset   = 14
	scraHIDOffset        = 3
	scraSerialChars      = 7
	scraResultCodeLen    = 6

	undocumentedStatus   = "Status code message not documented"
	undocumentedProgress = "Progress code message not documented"
	undocumentedStartErr = "Transaction Error Message not yet documented"
	undocumentedResult   = "Result code message not documented"
)

// ScraDecoder reassembles card data notifications and decodes SCRA command
// responses. Feed must be called from one goroutine at a time.
type ScraDecoder struct {
	blocks *frame.Reassembler
}

// NewScraDecoder returns a decoder with an idle reassembler.
func NewScraDecoder() *ScraDecoder {
	return &ScraDecoder{blocks: frame.NewReassembler(true)}
}

// Reset drops a partially received payload.
func (d *ScraDecoder) Reset() {
	d.blocks.Reset()
}

// Feed accepts one card data notification. It returns a report once the
// terminal frame completes a payload and nil while blocks are still arriving.
func (d *ScraDecoder) Feed(f []byte) (Report, error) {
	if len(f) == 0 {
		return nil, &ProtocolError{Op: "card data", Err: ErrFrameTooShort}
	}
	if f[0] != frame.ScraTerminal {
		d.blocks.Add(int(f[0]), f[1:])
		return nil, nil
	}
	if len(f) < 2 {
		d.blocks.Reset()
		return nil, &ProtocolError{Op: "card data", Err: ErrFrameTooShort, Frame: f}
	}

	p, err := d.blocks.FinishWithCount(int(f[1]))
	if err != nil {
		return nil, &ProtocolError{
			Op:    "card data",
			Err:   ErrLengthMismatch.withCause(err),
			Frame: append([]byte(nil), f...),
		}
	}
	return d.DecodePayload(p.Data)
}

// DecodePayload classifies an assembled card data payload.
func (d *ScraDecoder) DecodePayload(data []byte) (Report, error) {
	if len(data) == 0 {
		return nil, &ProtocolError{Op: "card data", Err: ErrFrameTooShort}
	}
	if data[0] == frame.FormatNormal || data[0] == frame.FormatRLE {
		return &ScraSwipeReport{Swipe: parseHIDSwipe(data), frameData: data}, nil
	}
	if len(data) < scraNotifyDataOffset {
		return nil, &ProtocolError{
			Op:    "card data",
			Err:   fmt.Errorf("%w: notification has %d bytes", ErrFrameTooShort, len(data)),
			Frame: data,
		}
	}

	id := uint16(data[scraNotifyIDOffset])<<8 | uint16(data[scraNotifyIDOffset+1])
	switch id {
	case scraNotifyTransactionStatus:
		return d.transactionStatus(data)
	case scraNotifyDisplayMessage:
		return &DisplayRequestReport{Message: string(tail(data, scraNotifyDataOffset)), frameData: data}, nil
	case scraNotifyUserSelection:
		return userSelectionRequest(data), nil
	case scraNotifyARQC:
		emv := newEMVData(codec.BytesToHex(tail(data, scraNotifyDataOffset)),
			tail(data, scraArqcTLVOffset), tlv.Options{MSR: true})
		emv.ARQC = true
		return &EMVDataReport{EMV: *emv, frameData: data}, nil
	case scraNotifyBatch:
		emv := newEMVData(codec.BytesToHex(tail(data, scraNotifyDataOffset)),
			tail(data, scraBatchTLVOffset), tlv.Options{MSR: true})
		emv.SignatureRequired = Bool(data[scraNotifyDataOffset] == 0x01)
		return &EMVDataReport{EMV: *emv, frameData: data}, nil
	default:
		return &RawReport{Name: fmt.Sprintf("notification%04X", id), frameData: data}, nil
	}
}

// transactionStatus checks both nested length fields before reading the
// status and progress codes.
func (*ScraDecoder) transactionStatus(n []byte) (Report, error) {
	lengthErr := func(want, got int) error {
		return &ProtocolError{
			Op:    "transaction status",
			Err:   ErrLengthMismatch.withMessage("length field %d, data %d", want, got),
			Frame: n,
		}
	}

	dataLen := codec.TwoByteLength(n[1], n[2])
	rest := n[3:]
	if len(rest) != dataLen {
		return nil, lengthErr(dataLen, len(rest))
	}
	if len(rest) < 8 {
		return nil, lengthErr(8, len(rest))
	}

	s := rest[6:]
	contentLen := codec.TwoByteLength(s[0], s[1])
	content := s[2:]
	if len(content) != contentLen || contentLen < 3 {
		return nil, lengthErr(contentLen, len(content))
	}

	r := &TransactionStatusReport{
		StatusCode:      content[0],
		ProgressCode:    content[2],
		StatusMessage:   undocumentedStatus,
		ProgressMessage: undocumentedProgress,
		frameData:       n,
	}
	if m, ok := scraTransactionStatus[r.StatusCode]; ok {
		r.StatusMessage = m
	}
	if m, ok := scraTransactionProgress[r.ProgressCode]; ok {
		r.ProgressMessage = m
	}
	return r, nil
}

// userSelectionRequest reads selection type, timeout and the NUL separated
// menu, whose first entry is the title.
func userSelectionRequest(data []byte) *UserSelectionRequestReport {
	r := &UserSelectionRequestReport{
		Type:      at(data, scraNotifyDataOffset),
		Timeout:   at(data, scraNotifyDataOffset+1),
		frameData: data,
	}
	menu := bytes.TrimRight(tail(data, scraNotifyDataOffset+2), "\x00")
	if len(menu) == 0 {
		return r
	}
	parts := bytes.Split(menu, []byte{0x00})
	r.Title = string(parts[0])
	for _, p := range parts[1:] {
		r.Items = append(r.Items, string(p))
	}
	return r
}

// HID swipe layout, relative to scraHIDOffset
const (
	hidDecodeStatus    = 0
	hidTrackLen        = 3
	hidTrack1          = 7
	hidTrackSize       = 112
	hidMagnePrintStat  = 344
	hidMagnePrintLen   = 348
	hidMagnePrint      = 349
	hidMagnePrintSize  = 128
	hidSerialNumber    = 477
	hidSerialSize      = 16
	hidKSN             = 495
	hidKSNSize         = 10
	hidMaskedLen       = 505
	hidMaskedTrack1    = 508
	hidEncSessionID    = 844
	hidEncSessionSize  = 8
	hidMagnePrintStatN = 4
)

func parseHIDSwipe(data []byte) SwipeData {
	field := func(start, size int) []byte {
		start += scraHIDOffset
		return span(data, start, start+size)
	}
	withLen := func(start, size, lenIndex int) []byte {
		b := field(start, size)
		if n := int(at(data, scraHIDOffset+lenIndex)); n < len(b) {
			b = b[:n]
		}
		return b
	}

	var s SwipeData
	tracks := []*Track{&s.Track1, &s.Track2, &s.Track3}
	for i, t := range tracks {
		code := at(data, scraHIDOffset+hidDecodeStatus+i)
		t.Data = codec.BytesToHex(withLen(hidTrack1+i*hidTrackSize, hidTrackSize, hidTrackLen+i))
		t.StatusCode = code
		t.Status = "Ok"
		if code != 0x00 {
			t.Status = "Error"
		}
	}

	masked := []*string{&s.Track1Masked, &s.Track2Masked, &s.Track3Masked}
	for i, m := range masked {
		*m = string(withLen(hidMaskedTrack1+i*hidTrackSize, hidTrackSize, hidMaskedLen+i))
	}
	s.PAN = formatExpPAN(s.Track2Masked)

	s.MagnePrintStatus = codec.BytesToHex(field(hidMagnePrintStat, hidMagnePrintStatN))
	s.MagnePrint = codec.BytesToHex(withLen(hidMagnePrint, hidMagnePrintSize, hidMagnePrintLen))
	s.KSN = codec.BytesToHex(field(hidKSN, hidKSNSize))
	s.EncSessionID = codec.BytesToHex(field(hidEncSessionID, hidEncSessionSize))

	serial := field(hidSerialNumber, hidSerialSize)
	s.SerialNumber = string(serial[:min(len(serial), scraSerialChars)])
	return s
}

// ParseResultCode reads the two byte result code of an extended command
// response. Short responses carry a single status byte.
func (*ScraDecoder) ParseResultCode(name string, resp []byte) *ResultCodeReport {
	r := &ResultCodeReport{Name: name, frameData: resp}
	switch {
	case len(resp) >= scraResultCodeLen:
		r.Code = codec.TwoByteLength(resp[4], resp[5])
	case len(resp) > 0:
		r.Code = int(resp[0])
	}

	if r.Code == 0 {
		r.Message = "Success"
		return r
	}
	r.Message = undocumentedResult
	if m, ok := emvResultCodes[byte(r.Code)]; ok {
		r.Message = m
	}
	return r
}

// ParseStartTransaction reads the start transaction result code.
func (d *ScraDecoder) ParseStartTransaction(resp []byte) *ResultCodeReport {
	r := d.ParseResultCode("StartTransactionError", resp)
	if r.OK() {
		r.Name = ""
		r.Message = "Success, transaction has started"
		return r
	}
	if _, ok := emvResultCodes[byte(r.Code)]; !ok {
		r.Message = undocumentedStartErr
	}
	return r
}

// ParseBatteryLevel reads the battery level response.
func (*ScraDecoder) ParseBatteryLevel(resp []byte) (*BatteryLevelReport, error) {
	if len(resp) < 3 {
		return nil, &ProtocolError{Op: "battery level", Err: ErrFrameTooShort, Frame: resp}
	}
	return &BatteryLevelReport{Level: resp[2], frameData: resp}, nil
}

// ParseSerialNumber reads the serial number feature response.
func (*ScraDecoder) ParseSerialNumber(resp []byte) (*SerialNumberReport, error) {
	if len(resp) < 2 {
		return nil, &ProtocolError{Op: "serial number", Err: ErrFrameTooShort, Frame: resp}
	}
	sn := resp[2:]
	return &SerialNumberReport{
		SerialNumber: string(sn[:min(len(sn), scraSerialChars)]),
		frameData:    resp,
	}, nil
}
