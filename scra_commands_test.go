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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scraEncoder(t *testing.T, model Model) *ScraEncoder {
	t.Helper()
	p, err := ProfileFor(model)
	require.NoError(t, err)
	return NewScraEncoder(p)
}

func TestExtendedHeader(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []byte{0x49, 0x06, 0x00, 0x00, 0x03, 0x04, 0x00, 0x00}, extended(scraCancel))
	assert.Equal(t,
		[]byte{0x49, 0x08, 0x00, 0x00, 0x03, 0x02, 0x00, 0x02, 0x00, 0x03},
		extended(scraUserSelection, 0x00, 0x03))
}

func TestScraEncoder_EMV(t *testing.T) {
	t.Parallel()

	enc := scraEncoder(t, ModelEDynamo)

	cmd, err := enc.EMV(nil)
	require.NoError(t, err)
	want := []byte{
		0x49, 0x19, 0x00, 0x00, 0x03, 0x00, 0x00, 0x13,
		0x3C, 0x03, 0x80,
		0x00, 0x00, 0x00, 0x00, 0x01, 0x00,
		0x00,
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
		0x08, 0x40,
		0x01,
	}
	assert.Equal(t, want, cmd)

	cmd, err = enc.EMV(&EMVOptions{
		AuthorizedAmount: AmountFromHex("000000009999"),
		CardType:         CardTypeAll,
		Mode:             EMVModeNormal,
		Currency:         CurrencyGBP,
		Verbosity:        VerbosityVerbose,
		Timeout:          0x20,
	})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x20, 0x03, 0x00}, cmd[8:11], "eDynamo reports all card types as chip and MSR")
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x00, 0x99, 0x99}, cmd[11:17])
	assert.Equal(t, []byte{0x08, 0x26}, cmd[24:26])
	assert.Equal(t, byte(0x02), cmd[26])

	tCmd, err := scraEncoder(t, ModelTDynamo).EMV(&EMVOptions{CardType: CardTypeAll})
	require.NoError(t, err)
	assert.Equal(t, byte(0x07), tCmd[9])

	_, err = enc.EMV(&EMVOptions{Verbosity: "chatty"})
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "reportVerbosity", ve.Field)
}

func TestScraEncoder_ARPC(t *testing.T) {
	t.Parallel()

	enc := scraEncoder(t, ModelTDynamo)

	cmd, err := enc.ARPC([]byte{0x8A, 0x02, 0x30, 0x30})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x49, 0x0A, 0x00, 0x00, 0x03, 0x03, 0x00, 0x04, 0x8A, 0x02, 0x30, 0x30}, cmd)

	_, err = enc.ARPC(nil)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, MissingRequiredField, ve.Kind)

	_, err = enc.ARPC(make([]byte, scraMaxARPC+1))
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, IncorrectInputValue, ve.Kind)
}

func TestScraEncoder_DateTime(t *testing.T) {
	t.Parallel()

	enc := scraEncoder(t, ModelEDynamo)

	cmd, err := enc.DateTime(time.Date(2025, time.December, 31, 23, 59, 45, 0, time.Local))
	require.NoError(t, err)
	require.Len(t, cmd, 8+17+7+4)
	assert.Equal(t, uint16(scraSetDateTime), uint16(cmd[4])<<8|uint16(cmd[5]))
	assert.Equal(t, make([]byte, 17), cmd[8:25])
	assert.Equal(t, []byte{0x0C, 0x1F, 0x17, 0x3B, 0x2D, 0x00, 0x11}, cmd[25:32])
	assert.Equal(t, make([]byte, 4), cmd[32:])

	_, err = enc.DateTime(time.Date(1990, time.January, 1, 0, 0, 0, 0, time.UTC))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "dateTime", ve.Field)
}

func TestScraEncoder_FeatureRequests(t *testing.T) {
	t.Parallel()

	enc := scraEncoder(t, ModelTDynamo)
	assert.Equal(t, []byte{0x00, 0x01, 0x03}, enc.SerialNumber())
	assert.Equal(t, []byte{0x45, 0x00}, enc.BatteryLevel())
	assert.Equal(t, []byte{0x58, 0x01, 0x01}, enc.HeadAlwaysOn())
	assert.Equal(t, uint16(scraCancel), extendedID(enc.Cancel()))
}
