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
	"testing"
	"time"

	testutil "github.com/ZaparooProject/go-magble/internal/testing"
	"github.com/ZaparooProject/go-magble/tlv"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPinPad_SwipeFlow(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)
	ctx := context.Background()

	r, err := device.RequestSwipe(ctx, SwipeOptions{})
	require.NoError(t, err)
	ack, ok := r.(*AckReport)
	require.True(t, ok)
	assert.Equal(t, "swipe", ack.CommandType)
	assert.True(t, ack.OK())
	assert.Equal(t, StateSwipeInProgress, device.State())

	// the session is cleared before the swipe request
	writes := mock.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{0x01, 0x02, 0x00}, writes[0])
	assert.Equal(t, []byte{0x01, 0x03, 0x3C, 0x02, 0x01}, writes[1])
	assert.Equal(t, []int{3, 5}, mock.Lengths())
	waitEvent(t, device, ackFor("clearSession"))

	mock.PushReport(testutil.BuildCardStatus(0x00, 0x01))
	status := waitEvent(t, device, func(e *StatusEvent) bool {
		_, ok := e.Report.(*CardStatusReport)
		return ok
	})
	assert.Equal(t, "Ok", status.Report.(*CardStatusReport).CardStatus)

	// a card report during a swipe is answered with a request for MSR data
	waitEvent(t, device, ackFor("requestMsrData"))
	assert.Equal(t, []byte{0x01, 0x0A, 0x00}, mock.Writes()[2])

	mock.PushReport(testutil.BuildCardData(0x01, 0x00, []byte("%B4111111111111111^DOE/JOHN^2512101?")))
	mock.PushReport(testutil.BuildCardData(0x02, 0x00, []byte(";4111111111111111=25121010000?")))
	mock.PushReport(testutil.BuildCardData(0x03, 0x02, nil))
	mock.PushReport(testutil.BuildCardData(0x63, 0x00,
		[]byte{0xFF, 0xFF, 0x98, 0x76, 0x54, 0x32, 0x10, 0xE0, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01}))
	mock.PushReport(testutil.BuildDeviceState(0x00))

	ev := waitEvent[*TransactionEvent](t, device, nil)
	result := ev.Result
	assert.True(t, result.Final)
	assert.Equal(t, TransactionSwipe, result.Kind)
	require.NotNil(t, result.Swipe)

	wantPAN := PANInfo{
		MaskedPAN:      "4111111111111111",
		Last4:          "1111",
		ExpirationDate: "12/25",
		ServiceCode:    "101",
	}
	if diff := cmp.Diff(wantPAN, result.Swipe.PAN); diff != "" {
		t.Errorf("PAN mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, ";4111111111111111=25121010000?", result.Swipe.Track2.Data)
	assert.Equal(t, "Ok", result.Swipe.Track2.Status)
	assert.Equal(t, "%B4111111111111111^DOE/JOHN^2512101?", result.Swipe.Track1.Data)
	// a failed track carries its status text instead of data
	assert.Equal(t, byte(0x02), result.Swipe.Track3.StatusCode)
	assert.Equal(t, result.Swipe.Track3.Status, result.Swipe.Track3.Data)
	assert.NotEqual(t, "Ok", result.Swipe.Track3.Status)
	assert.Equal(t, "FFFF9876543210E00001", result.Swipe.KSN)
	assert.Equal(t, "00000001", result.Swipe.MagnePrintStatus)

	require.Eventually(t, func() bool {
		return device.State() == StateIdle
	}, eventTimeout, time.Millisecond)
}

func TestPinPad_DeviceStateWithoutCardData(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)

	mock.PushReport(testutil.BuildDeviceState(0x00))
	status := waitEvent(t, device, func(e *StatusEvent) bool {
		_, ok := e.Report.(*DeviceStateReport)
		return ok
	})
	assert.Equal(t, "Ok", status.Report.(*DeviceStateReport).StatusText())

	select {
	case ev := <-device.Events():
		_, isTx := ev.(*TransactionEvent)
		assert.False(t, isTx, "no card data was gathered")
	case <-time.After(20 * time.Millisecond):
	}
}

func arqcPayload() []byte {
	return []byte{
		0x00, 0x0B,
		0x9F, 0x26, 0x08, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88,
	}
}

func batchPayload(signature byte) []byte {
	return []byte{
		0x00, 0x0B,
		0x9F, 0x27, 0x01, 0x40,
		0xDF, 0xDF, 0x40, 0x01, signature,
	}
}

func pushBigBlock(mock *MockTransport, bufferType byte, payload []byte, chunk int) {
	for _, f := range testutil.BuildBigBlock(bufferType, payload, chunk) {
		mock.PushReport(f)
	}
}

func TestPinPad_EMVFlow(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)
	ctx := context.Background()

	r, err := device.StartTransaction(ctx, &EMVOptions{
		AuthorizedAmount: AmountOf(1500),
		QuickChip:        Bool(false),
	})
	require.NoError(t, err)
	assert.Equal(t, "emvTransactionStatus", r.(*AckReport).CommandType)
	assert.Equal(t, StateTransactionInProgress, device.State())

	writes := mock.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{0x01, 0x02, 0x00}, writes[0])
	assert.Equal(t, byte(cmdEmvTransaction), writes[1][1])
	waitEvent(t, device, ackFor("clearSession"))

	pushBigBlock(mock, bufferARQC, arqcPayload(), 4)
	arqc := waitEvent[*TransactionEvent](t, device, nil)
	assert.False(t, arqc.Result.Final)
	assert.Equal(t, TransactionEMV, arqc.Result.Kind)
	require.NotNil(t, arqc.Result.ARQC)
	assert.Equal(t, "000B9F26081122334455667788", arqc.Result.ARQC.Data)
	cryptogram, ok := tlv.Find(arqc.Result.ARQC.Parsed, "9F26")
	require.True(t, ok)
	assert.Equal(t, "1122334455667788", cryptogram.Value)

	pushBigBlock(mock, bufferBatch, batchPayload(0x01), 60)
	batch := waitEvent[*TransactionEvent](t, device, nil)
	assert.True(t, batch.Result.Final)
	assert.Equal(t, arqc.Result.ID, batch.Result.ID)
	require.NotNil(t, batch.Result.Batch)
	require.NotNil(t, batch.Result.Batch.SignatureRequired)
	assert.True(t, *batch.Result.Batch.SignatureRequired)

	require.Eventually(t, func() bool {
		return device.State() == StateIdle
	}, eventTimeout, time.Millisecond)
}

func TestPinPad_QuickChipDeliversOnlyBatch(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProMini, pinPadResponder)

	_, err := device.StartTransaction(context.Background(), &EMVOptions{})
	require.NoError(t, err)

	pushBigBlock(mock, bufferARQC, arqcPayload(), 8)
	pushBigBlock(mock, bufferBatch, batchPayload(0x00), 8)

	ev := waitEvent[*TransactionEvent](t, device, nil)
	assert.True(t, ev.Result.Final)
	require.NotNil(t, ev.Result.ARQC)
	require.NotNil(t, ev.Result.Batch)
	require.NotNil(t, ev.Result.Batch.SignatureRequired)
	assert.False(t, *ev.Result.Batch.SignatureRequired)
}

func TestPinPad_BigBlockLengthMismatch(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)

	mock.PushReport([]byte{0x29, bufferARQC, 0x00, 0x00, 0x20, 0x00})
	mock.PushReport([]byte{0x29, bufferARQC, 0x01, 0x02, 0xAA, 0xBB})
	mock.PushReport([]byte{0x29, bufferARQC, 0x63})

	ev := waitEvent[*ErrorEvent](t, device, nil)
	require.ErrorIs(t, ev.Err, ErrLengthMismatch)
	var pe *ProtocolError
	require.ErrorAs(t, ev.Err, &pe)
	assert.Equal(t, "big block", pe.Op)
}

func TestPinPad_UndocumentedBufferPublished(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)

	pushBigBlock(mock, 0x7E, []byte{0x01, 0x02}, 60)
	ev := waitEvent(t, device, func(e *StatusEvent) bool {
		return e.BufferType != ""
	})
	assert.Equal(t, undocumentedBuffer, ev.BufferType)
}

func TestPinPad_PinEntry(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)

	r, err := device.RequestPinEntry(context.Background(), PinOptions{})
	require.NoError(t, err)
	assert.Equal(t, "requestPinEntry", r.(*AckReport).CommandType)
	assert.Equal(t, StatePinEntryInProgress, device.State())
	assert.Equal(t, []byte{0x01, 0x04, 0x1E, 0x00, 0xC4, 0x01, 0x00}, mock.Writes()[0])

	ksn := []byte{0xFF, 0xFF, 0x98, 0x76, 0x54, 0x32, 0x10, 0xE0, 0x00, 0x05}
	block := []byte{0x01, 0x23, 0x45, 0x67, 0x89, 0xAB, 0xCD, 0xEF}
	mock.PushReport(testutil.BuildPinResponse(0x00, ksn, block))

	ev := waitEvent[*TransactionEvent](t, device, nil)
	assert.True(t, ev.Result.Final)
	assert.Equal(t, TransactionPIN, ev.Result.Kind)
	want := &PinData{
		OperationStatus:   "Ok",
		KSN:               "FFFF9876543210E00005",
		EncryptedPinBlock: "0123456789ABCDEF",
	}
	if diff := cmp.Diff(want, ev.Result.PIN); diff != "" {
		t.Errorf("PIN mismatch (-want +got):\n%s", diff)
	}
}

func TestPinPad_DeviceInfo(t *testing.T) {
	t.Parallel()

	respond := func(cmd []byte) []byte {
		if cmd[0] == 0x00 && cmd[1] == cmdDeviceInfo {
			return testutil.BuildSerialNumber("B123456")
		}
		return pinPadResponder(cmd)
	}
	device, mock := openTestDevice(t, ModelDynaProGo, respond, WithDeviceName("DPG-1234"))
	ctx := context.Background()

	info, err := device.DeviceInfo(ctx)
	require.NoError(t, err)
	want := &DeviceInfo{
		SerialNumber: "B123456",
		DeviceName:   "DPG-1234",
		DeviceType:   ModelDynaProGo,
		IsConnected:  true,
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("DeviceInfo mismatch (-want +got):\n%s", diff)
	}

	writes := mock.Writes()
	require.Len(t, writes, 2)
	assert.Equal(t, []byte{0x01, 0x1A, 0x05}, writes[0])
	assert.Equal(t, []byte{0x00, 0x1A, 0x05}, writes[1])

	// the serial number is cached
	_, err = device.DeviceInfo(ctx)
	require.NoError(t, err)
	assert.Len(t, mock.Writes(), 2)
}

func TestPinPad_DeviceInfoClearsBusySession(t *testing.T) {
	t.Parallel()

	infoRequests := 0
	respond := func(cmd []byte) []byte {
		switch {
		case cmd[0] == 0x00 && cmd[1] == cmdDeviceInfo:
			return testutil.BuildSerialNumber("B654321")
		case cmd[1] == cmdDeviceInfo:
			infoRequests++
			if infoRequests == 1 {
				return testutil.BuildACK(cmdDeviceInfo, ackDeviceNotIdle)
			}
		}
		return pinPadResponder(cmd)
	}
	device, mock := openTestDevice(t, ModelDynaProGo, respond)

	info, err := device.DeviceInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "B654321", info.SerialNumber)

	want := [][]byte{
		{0x01, 0x1A, 0x05},
		{0x01, 0x02, 0x00},
		{0x01, 0x1A, 0x05},
		{0x00, 0x1A, 0x05},
	}
	if diff := cmp.Diff(want, mock.Writes()); diff != "" {
		t.Errorf("writes mismatch (-want +got):\n%s", diff)
	}
}

func TestPinPad_RequestKSN(t *testing.T) {
	t.Parallel()

	respond := func(cmd []byte) []byte {
		if cmd[0] == 0x00 && cmd[1] == cmdGetKsn {
			return []byte{
				0x30, 0x00,
				0xFF, 0xFF, 0x98, 0x76, 0x54, 0x32, 0x10, 0xE0, 0x00, 0x07,
				0xB1, 0x23, 0x45, 0x67, 0x00, 0x00, 0x00, 0x01,
			}
		}
		return pinPadResponder(cmd)
	}
	device, _ := openTestDevice(t, ModelDynaProGo, respond)

	ksn, err := device.RequestKSN(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "FFFF9876543210E00007", ksn.KSN)
	assert.Equal(t, "B123456700000001", ksn.SerialNumber)
}

func TestPinPad_SendARPC(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)

	r, err := device.SendARPC(context.Background(), []byte{0x8A, 0x02, 0x30, 0x30})
	require.NoError(t, err)
	assert.True(t, r.(*AckReport).OK())

	writes := mock.Writes()
	require.Len(t, writes, 3)
	assert.Equal(t, []byte{0x01, 0x10, bufferARQC, 0x00, 0x04}, writes[0][:5])
	assert.Equal(t, []byte{0x01, 0x10, bufferARQC, 0x01, 0x04, 0x8A, 0x02, 0x30, 0x30}, writes[1][:9])
	assert.Equal(t, []byte{0x01, 0xA4}, writes[2][:2])
	assert.Equal(t, []int{65, 65, 12}, mock.Lengths())
}

func TestPinPad_CancelResetsSession(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)
	ctx := context.Background()

	_, err := device.RequestSwipe(ctx, SwipeOptions{})
	require.NoError(t, err)

	r, err := device.CancelTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cancelCommand", r.(*AckReport).CommandType)
	assert.Equal(t, StateIdle, device.State())
	assert.Equal(t, []byte{0x01, 0x05, 0x00}, mock.Writes()[2])
}

func TestPinPad_UnsolicitedReports(t *testing.T) {
	t.Parallel()

	tests := []struct {
		check  func(t *testing.T, r Report)
		name   string
		report []byte
	}{
		{
			name:   "ACK",
			report: testutil.BuildACK(cmdCancel, 0x00),
			check: func(t *testing.T, r Report) {
				t.Helper()
				ack := r.(*AckReport)
				assert.Equal(t, "cancelCommand", ack.CommandType)
				assert.False(t, ack.Delayed)
			},
		},
		{
			name:   "Delayed_ACK",
			report: testutil.BuildDelayedACK(cmdEmvTransaction, 0x00),
			check: func(t *testing.T, r Report) {
				t.Helper()
				assert.True(t, r.(*AckReport).Delayed)
			},
		},
		{
			name:   "Display_Done",
			report: []byte{0x27, 0x00},
			check: func(t *testing.T, r Report) {
				t.Helper()
				assert.Equal(t, "Ok", r.(*DisplayDoneReport).OperationStatus)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)
			mock.PushReport(tt.report)
			ev := waitEvent[*StatusEvent](t, device, nil)
			tt.check(t, ev.Report)
		})
	}
}

func TestPinPad_UnknownReportDelivered(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)

	mock.PushReport([]byte{0x55, 0x01, 0x02})
	ev := waitEvent[*TransactionEvent](t, device, nil)
	raw, ok := ev.Result.Report.(*RawReport)
	require.True(t, ok)
	assert.Equal(t, byte(0x55), raw.ID)
	assert.Equal(t, []byte{0x55, 0x01, 0x02}, raw.Raw())
}

func TestPinPad_DisplayAndTip(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelDynaProGo, pinPadResponder)
	ctx := context.Background()

	_, err := device.SetDisplayMessage(ctx, DisplayOptions{Message: Message(MessageThankYou)})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x07, 0x0F, 0x04}, mock.Writes()[0])

	_, err = device.SetDisplayMessage(ctx, DisplayOptions{})
	require.ErrorIs(t, err, ErrValidation)

	_, err = device.RequestTipOrCashback(ctx, TipCashbackOptions{
		Kind:                KindTip,
		Mode:                TipModePercent,
		TransactionAmount:   AmountOf(1000),
		CalculatedTaxAmount: AmountOf(80),
		TaxRate:             AmountOf(800),
	})
	require.NoError(t, err)
	assert.Equal(t, byte(cmdTipCashback), mock.Writes()[1][1])
}
