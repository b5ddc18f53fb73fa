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
	"fmt"
	"time"

	"github.com/ZaparooProject/go-magble/internal/codec"
	"github.com/ZaparooProject/go-magble/internal/frame"
)

const (
	scraEmvTimeout     = 0x3C
	scraDateTimeYear0  = 2008
	scraDateTimeFiller = 17
	scraDateTimeMAC    = 4
	scraMaxARPC        = 0xFF - 6
)

// ScraEncoder builds SCRA dialect commands. Extended commands start with
// 0x49 followed by the length of what follows the first two bytes.
type ScraEncoder struct {
	profile *DeviceProfile
}

// NewScraEncoder returns an encoder for a SCRA profile.
func NewScraEncoder(profile *DeviceProfile) *ScraEncoder {
	return &ScraEncoder{profile: profile}
}

// extended wraps a command id and its data in the extended command header.
func extended(id uint16, data ...byte) []byte {
	cmd := []byte{frame.ScraMarker, byte(len(data) + 6), 0x00, 0x00, byte(id >> 8), byte(id)}
	cmd = append(cmd, byte(len(data)>>8), byte(len(data)))
	return append(cmd, data...)
}

// EMV builds the start EMV transaction command.
func (e *ScraEncoder) EMV(opts *EMVOptions) ([]byte, error) {
	if opts == nil {
		opts = &EMVOptions{}
	}

	cardType, err := e.profile.CardTypeCode(opts.CardType)
	if err != nil {
		return nil, err
	}
	mode, err := lookup("emvOptions", emvModeCodes, opts.Mode, emvModeCodes[EMVModeQuickChip])
	if err != nil {
		return nil, err
	}
	trxType, err := lookup("transactionType", transactionTypeCodes, opts.TransactionType, 0x00)
	if err != nil {
		return nil, err
	}
	verbosity, err := lookup("reportVerbosity", verbosityCodes, opts.Verbosity, verbosityCodes[VerbosityMedium])
	if err != nil {
		return nil, err
	}
	amounts, err := emvAmounts(opts)
	if err != nil {
		return nil, err
	}

	data := []byte{orDefault(opts.Timeout, scraEmvTimeout), cardType, mode}
	data = append(data, amounts.authorized...)
	data = append(data, trxType)
	data = append(data, amounts.cashBack...)
	data = append(data, opts.Currency.code()...)
	data = append(data, verbosity)
	return extended(scraStartTransaction, data...), nil
}

// ARPC builds the command carrying an online authorization response.
func (*ScraEncoder) ARPC(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, missingField("data")
	}
	if len(data) > scraMaxARPC {
		return nil, wrongValue("data", fmt.Sprintf("%d bytes exceed %d", len(data), scraMaxARPC))
	}
	return extended(scraArpc, data...), nil
}

// DateTime builds the set date and time command for t. Calendar fields are
// binary bytes and the year counts from 2008.
func (*ScraEncoder) DateTime(t time.Time) ([]byte, error) {
	fields := []int{int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, t.Year() - scraDateTimeYear0}
	data := make([]byte, scraDateTimeFiller, scraDateTimeFiller+len(fields)+scraDateTimeMAC)
	for _, f := range fields {
		b, err := codec.DecimalAsHex(f)
		if err != nil {
			return nil, wrongValue("dateTime", err.Error())
		}
		data = append(data, b)
	}
	data = append(data, make([]byte, scraDateTimeMAC)...)
	return extended(scraSetDateTime, data...), nil
}

// UserSelection returns the item chosen in a user selection request.
func (*ScraEncoder) UserSelection(selection byte) []byte {
	return extended(scraUserSelection, 0x00, selection)
}

// Cancel builds the cancel transaction command.
func (*ScraEncoder) Cancel() []byte {
	return extended(scraCancel)
}

// SerialNumber is the feature request returning the serial number.
func (*ScraEncoder) SerialNumber() []byte {
	return []byte{frame.GetFeature, 0x01, 0x03}
}

// BatteryLevel requests the battery level.
func (*ScraEncoder) BatteryLevel() []byte {
	return []byte{scraBattery, 0x00}
}

// HeadAlwaysOn keeps the MSR head powered so swipes are reported.
func (*ScraEncoder) HeadAlwaysOn() []byte {
	return []byte{scraHeadControl, 0x01, 0x01}
}
