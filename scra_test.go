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

// extendedID returns the command id of an extended SCRA command.
func extendedID(cmd []byte) uint16 {
	if len(cmd) < 6 || cmd[0] != 0x49 {
		return 0
	}
	return uint16(cmd[4])<<8 | uint16(cmd[5])
}

// scraResponder answers every extended command with success and the
// feature requests with fixed values.
func scraResponder(cmd []byte) []byte {
	switch {
	case extendedID(cmd) != 0:
		return testutil.BuildResultCode(0)
	case cmd[0] == scraHeadControl:
		return []byte{0x00}
	case cmd[0] == scraBattery:
		return []byte{0x00, 0x00, 0x55}
	case cmd[0] == 0x00:
		return append([]byte{0x00, 0x00}, "B123456X"...)
	}
	return []byte{0x00}
}

func notifyBlocks(mock *MockTransport, payload []byte, chunk int) {
	for _, f := range testutil.BuildScraBlocks(payload, chunk) {
		mock.Notify(RoleNotify, f)
	}
}

func hidSwipePayload() []byte {
	p := make([]byte, scraHIDOffset+hidEncSessionID+hidEncSessionSize)
	field := func(offset int) int { return scraHIDOffset + offset }

	track2 := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	p[field(hidTrackLen+1)] = byte(len(track2))
	copy(p[field(hidTrack1+hidTrackSize):], track2)

	masked := ";411111******1111=2512?"
	p[field(hidMaskedLen+1)] = byte(len(masked))
	copy(p[field(hidMaskedTrack1+hidTrackSize):], masked)

	copy(p[field(hidSerialNumber):], "B123456")
	copy(p[field(hidKSN):], []byte{0xFF, 0xFF, 0x98, 0x76, 0x54, 0x32, 0x10, 0xE0, 0x00, 0x02})
	return p
}

func TestScra_RequestSwipe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		wantErr    error
		name       string
		model      Model
		headAnswer byte
		wantWrites int
	}{
		{name: "eDynamo", model: ModelEDynamo, wantWrites: 0},
		{name: "tDynamo_Head_On", model: ModelTDynamo, wantWrites: 1},
		{name: "tDynamo_Head_Rejected", model: ModelTDynamo, headAnswer: 0x01, wantWrites: 1, wantErr: ErrCommandNotAccepted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			respond := func(cmd []byte) []byte {
				if cmd[0] == scraHeadControl {
					return []byte{tt.headAnswer}
				}
				return scraResponder(cmd)
			}
			device, mock := openTestDevice(t, tt.model, respond)

			r, err := device.RequestSwipe(context.Background(), SwipeOptions{})
			assert.Len(t, mock.Writes(), tt.wantWrites)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, StateIdle, device.State())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, msgListening, r.(*ResultCodeReport).Message)
			assert.Equal(t, StateSwipeInProgress, device.State())
			if tt.wantWrites > 0 {
				assert.Equal(t, []byte{0x58, 0x01, 0x01}, mock.Writes()[0])
			}
		})
	}
}

func TestScra_SwipeNotification(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelEDynamo, scraResponder)

	_, err := device.RequestSwipe(context.Background(), SwipeOptions{})
	require.NoError(t, err)

	notifyBlocks(mock, hidSwipePayload(), 100)

	ev := waitEvent[*TransactionEvent](t, device, nil)
	assert.True(t, ev.Result.Final)
	assert.Equal(t, TransactionSwipe, ev.Result.Kind)
	require.NotNil(t, ev.Result.Swipe)

	swipe := ev.Result.Swipe
	wantPAN := PANInfo{
		MaskedPAN:      "411111******1111",
		Last4:          "1111",
		ExpirationDate: "12/25",
	}
	if diff := cmp.Diff(wantPAN, swipe.PAN); diff != "" {
		t.Errorf("PAN mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "DEADBEEF", swipe.Track2.Data)
	assert.Equal(t, "Ok", swipe.Track2.Status)
	assert.Equal(t, ";411111******1111=2512?", swipe.Track2Masked)
	assert.Equal(t, "B123456", swipe.SerialNumber)
	assert.Equal(t, "FFFF9876543210E00002", swipe.KSN)

	require.Eventually(t, func() bool {
		return device.State() == StateIdle
	}, eventTimeout, time.Millisecond)
}

func TestScra_BlockCountMismatch(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelEDynamo, scraResponder)

	mock.Notify(RoleNotify, []byte{0x00, 0x02, 0x00, 0x00})
	mock.Notify(RoleNotify, []byte{0xFF, 0x05})

	ev := waitEvent[*ErrorEvent](t, device, nil)
	require.ErrorIs(t, ev.Err, ErrLengthMismatch)

	// the reassembler recovers for the next payload
	notifyBlocks(mock, testutil.BuildScraNotification(scraNotifyDisplayMessage, []byte("HELLO")), 20)
	display := waitEvent[*DisplayEvent](t, device, nil)
	assert.Equal(t, "HELLO", display.Message)
}

func TestScra_StartTransactionSyncsClock(t *testing.T) {
	t.Parallel()

	starts := 0
	respond := func(cmd []byte) []byte {
		if extendedID(cmd) == scraStartTransaction {
			starts++
			if starts == 1 {
				return testutil.BuildResultCode(scraInvalidDateTime)
			}
		}
		return scraResponder(cmd)
	}
	device, mock := openTestDevice(t, ModelTDynamo, respond)

	r, err := device.StartTransaction(context.Background(), &EMVOptions{AuthorizedAmount: AmountOf(100)})
	require.NoError(t, err)
	result := r.(*ResultCodeReport)
	assert.True(t, result.OK())
	assert.Equal(t, "Success, transaction has started", result.Message)
	assert.Equal(t, StateTransactionInProgress, device.State())

	var ids []uint16
	for _, w := range mock.Writes() {
		ids = append(ids, extendedID(w))
	}
	assert.Equal(t, []uint16{scraStartTransaction, scraSetDateTime, scraStartTransaction}, ids)
}

func TestScra_StartTransactionClockRetriedOnce(t *testing.T) {
	t.Parallel()

	respond := func(cmd []byte) []byte {
		if extendedID(cmd) == scraStartTransaction {
			return testutil.BuildResultCode(scraInvalidDateTime)
		}
		return scraResponder(cmd)
	}
	device, mock := openTestDevice(t, ModelEDynamo, respond)

	r, err := device.StartTransaction(context.Background(), nil)
	require.NoError(t, err)
	require.NotNil(t, r)
	rc := r.(*ResultCodeReport)
	assert.False(t, rc.OK())
	assert.Equal(t, scraInvalidDateTime, rc.Code)
	var se *DeviceStatusError
	require.ErrorAs(t, rc.Err(), &se)
	assert.Equal(t, scraInvalidDateTime, se.Code)
	assert.Len(t, mock.Writes(), 3)
	assert.Equal(t, StateIdle, device.State())
}

func TestScra_TransactionNotifications(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelTDynamo, scraResponder)

	_, err := device.StartTransaction(context.Background(), &EMVOptions{QuickChip: Bool(false)})
	require.NoError(t, err)

	notifyBlocks(mock, testutil.BuildScraTransactionStatus(0x01, 0x02), 20)
	status := waitEvent[*StatusEvent](t, device, nil)
	ts, ok := status.Report.(*TransactionStatusReport)
	require.True(t, ok)
	assert.Equal(t, byte(0x01), ts.StatusCode)
	assert.Equal(t, byte(0x02), ts.ProgressCode)

	notifyBlocks(mock, testutil.BuildScraNotification(scraNotifyDisplayMessage, []byte("INSERT CARD")), 8)
	display := waitEvent[*DisplayEvent](t, device, nil)
	assert.Equal(t, "INSERT CARD", display.Message)

	menu := append([]byte{0x00, 0x1E}, "Select\x00Visa Credit\x00Visa Debit\x00"...)
	notifyBlocks(mock, testutil.BuildScraNotification(scraNotifyUserSelection, menu), 16)
	selection := waitEvent[*SelectionEvent](t, device, nil)
	assert.Equal(t, "Select", selection.Request.Title)
	assert.Equal(t, []string{"Visa Credit", "Visa Debit"}, selection.Request.Items)
	assert.Equal(t, byte(0x1E), selection.Request.Timeout)

	r, err := device.SendUserSelection(context.Background(), 0x01)
	require.NoError(t, err)
	assert.True(t, r.(*ResultCodeReport).OK())
	last := mock.Writes()[len(mock.Writes())-1]
	assert.Equal(t, []byte{0x49, 0x08, 0x00, 0x00, 0x03, 0x02, 0x00, 0x02, 0x00, 0x01}, last)

	arqc := []byte{0x00, 0x0B, 0x9F, 0x26, 0x08, 0x11, 0x22, 0x33, 0x44, 0x55, 0x66, 0x77, 0x88}
	notifyBlocks(mock, testutil.BuildScraNotification(scraNotifyARQC, arqc), 10)
	arqcEvent := waitEvent[*TransactionEvent](t, device, nil)
	assert.False(t, arqcEvent.Result.Final)
	require.NotNil(t, arqcEvent.Result.ARQC)
	assert.True(t, arqcEvent.Result.ARQC.ARQC)
	cryptogram, ok := tlv.Find(arqcEvent.Result.ARQC.Parsed, "9F26")
	require.True(t, ok)
	assert.Equal(t, "1122334455667788", cryptogram.Value)

	batch := []byte{0x01, 0x00, 0x04, 0x9F, 0x27, 0x01, 0x40}
	notifyBlocks(mock, testutil.BuildScraNotification(scraNotifyBatch, batch), 10)
	batchEvent := waitEvent[*TransactionEvent](t, device, nil)
	assert.True(t, batchEvent.Result.Final)
	assert.Equal(t, arqcEvent.Result.ID, batchEvent.Result.ID)
	require.NotNil(t, batchEvent.Result.Batch)
	require.NotNil(t, batchEvent.Result.Batch.SignatureRequired)
	assert.True(t, *batchEvent.Result.Batch.SignatureRequired)
	_, ok = tlv.Find(batchEvent.Result.Batch.Parsed, "9F27")
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		return device.State() == StateIdle
	}, eventTimeout, time.Millisecond)
}

func TestScra_DeviceInfo(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelEDynamo, scraResponder, WithDeviceName("eDynamo-0001"))

	info, err := device.DeviceInfo(context.Background())
	require.NoError(t, err)
	want := &DeviceInfo{
		BatteryLevel: Byte(0x55),
		SerialNumber: "B123456",
		DeviceName:   "eDynamo-0001",
		DeviceType:   ModelEDynamo,
		IsConnected:  true,
	}
	if diff := cmp.Diff(want, info); diff != "" {
		t.Errorf("DeviceInfo mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, [][]byte{{0x45, 0x00}, {0x00, 0x01, 0x03}}, mock.Writes())

	battery, err := device.BatteryLevel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, byte(0x55), battery.Level)
}

func TestScra_SetDeviceDateTime(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelTDynamo, scraResponder)

	when := time.Date(2024, time.March, 5, 10, 20, 30, 0, time.UTC)
	r, err := device.SetDeviceDateTime(context.Background(), when)
	require.NoError(t, err)
	assert.True(t, r.(*ResultCodeReport).OK())

	cmd := mock.Writes()[0]
	assert.Equal(t, uint16(scraSetDateTime), extendedID(cmd))
	assert.Equal(t, []byte{0x03, 0x05, 0x0A, 0x14, 0x1E, 0x00, 0x10}, cmd[8+17:8+24])
}

func TestScra_CancelAndRawCommand(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelEDynamo, scraResponder)
	ctx := context.Background()

	_, err := device.StartTransaction(ctx, nil)
	require.NoError(t, err)

	r, err := device.CancelTransaction(ctx)
	require.NoError(t, err)
	assert.True(t, r.(*ResultCodeReport).OK())
	assert.Equal(t, StateIdle, device.State())
	assert.Equal(t, uint16(scraCancel), extendedID(mock.Writes()[1]))

	r, err = device.SendCommand(ctx, []byte{0x45, 0x00})
	require.NoError(t, err)
	raw, ok := r.(*RawReport)
	require.True(t, ok)
	assert.Equal(t, []byte{0x00, 0x00, 0x55}, raw.Raw())

	r, err = device.SendARPC(ctx, []byte{0x8A, 0x02, 0x30, 0x30})
	require.NoError(t, err)
	assert.Equal(t, "sendArpc", r.(*ResultCodeReport).Name)
	assert.Equal(t, uint16(scraArpc), extendedID(mock.Writes()[3]))
}

func TestScra_SwipeReconnectsMidSwipe(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelEDynamo, scraResponder)
	ctx := context.Background()

	_, err := device.RequestSwipe(ctx, SwipeOptions{})
	require.NoError(t, err)
	assert.Equal(t, StateSwipeInProgress, device.State())

	// the link goes away without the stack reporting it
	require.NoError(t, mock.Disconnect())

	_, err = device.RequestSwipe(ctx, SwipeOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, mock.Connects())
	assert.Equal(t, StateSwipeInProgress, device.State())
}

func TestScra_SwipeReconnects(t *testing.T) {
	t.Parallel()

	device, mock := openTestDevice(t, ModelEDynamo, scraResponder)

	mock.SimulateDisconnect()
	waitEvent[*DisconnectEvent](t, device, nil)
	assert.False(t, device.IsOpen())

	_, err := device.RequestSwipe(context.Background(), SwipeOptions{})
	require.NoError(t, err)
	assert.True(t, device.IsOpen())
	assert.Equal(t, 2, mock.Connects())
	assert.Equal(t, StateSwipeInProgress, device.State())
}
