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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsRetryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		expected bool
	}{
		{name: "Nil", err: nil, expected: false},
		{name: "Busy", err: ErrTransportBusy, expected: true},
		{name: "Network", err: ErrTransportNetwork, expected: true},
		{name: "Timeout", err: ErrTransportTimeout, expected: true},
		{name: "Wrapped_Busy", err: fmt.Errorf("read: %w", ErrTransportBusy), expected: true},
		{name: "Not_Found", err: ErrTransportNotFound, expected: false},
		{name: "Closed", err: ErrTransportClosed, expected: false},
		{name: "Device_Error", err: ErrResponseNotReceived, expected: false},
		{name: "Plain", err: errors.New("boom"), expected: false},
		{name: "Transport_Error_Busy", err: NewTransportError("read", "response", ErrTransportBusy), expected: true},
		{name: "Transport_Error_Not_Found", err: NewTransportError("open", "svc", ErrTransportNotFound), expected: false},
		{
			name:     "Transport_Error_Override",
			err:      &TransportError{Op: "write", Err: ErrTransportNotFound, Retryable: true},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestGetErrorType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		expected ErrorType
	}{
		{name: "Timeout", err: ErrTransportTimeout, expected: ErrorTypeTimeout},
		{name: "Busy", err: ErrTransportBusy, expected: ErrorTypeTransient},
		{name: "Network", err: ErrTransportNetwork, expected: ErrorTypeTransient},
		{name: "Not_Found", err: ErrTransportNotFound, expected: ErrorTypePermanent},
		{name: "Plain", err: errors.New("boom"), expected: ErrorTypePermanent},
		{name: "Timeout_Error", err: NewTimeoutError("read", "response"), expected: ErrorTypeTimeout},
		{
			name:     "Transport_Error_Type",
			err:      &TransportError{Op: "read", Err: errors.New("x"), Type: ErrorTypeTransient},
			expected: ErrorTypeTransient,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.expected, GetErrorType(tt.err))
		})
	}
}

func TestErrorType_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "permanent", ErrorTypePermanent.String())
	assert.Equal(t, "transient", ErrorTypeTransient.String())
	assert.Equal(t, "timeout", ErrorTypeTimeout.String())
}

func TestTransportError(t *testing.T) {
	t.Parallel()

	err := NewTransportError("read", "response", ErrTransportBusy)
	assert.Equal(t, "read response: GATT operation already in progress", err.Error())
	assert.Equal(t, ErrorTypeTransient, err.Type)
	assert.True(t, err.Retryable)
	require.ErrorIs(t, err, ErrTransportBusy)

	noTarget := &TransportError{Op: "connect", Err: ErrTransportClosed}
	assert.Equal(t, "connect: transport closed", noTarget.Error())

	timeout := NewTimeoutError("write", "command")
	require.ErrorIs(t, timeout, ErrTransportTimeout)
	assert.True(t, timeout.Retryable)
}

func TestDeviceError_Is(t *testing.T) {
	t.Parallel()

	cause := errors.New("gatt busy")
	wrapped := ErrReadFailed.withCause(cause)

	require.ErrorIs(t, wrapped, ErrReadFailed)
	require.ErrorIs(t, wrapped, cause)
	assert.NotErrorIs(t, wrapped, ErrResponseNotReceived)
	assert.Nil(t, ErrReadFailed.Err, "withCause must not modify the sentinel")

	msg := ErrLengthMismatch.withMessage("length field %d, data %d", 4, 2)
	require.ErrorIs(t, msg, ErrLengthMismatch)
	assert.Equal(t, "BleTransmissionError (1012): length field 4, data 2", msg.Error())
	assert.Equal(t, "Data length does not match length field", ErrLengthMismatch.Message)

	assert.Contains(t, wrapped.Error(), "ReadFailed (1007)")
	assert.Contains(t, wrapped.Error(), "gatt busy")
}

func TestAsDeviceError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err      error
		name     string
		wantName string
		wantCode int
	}{
		{name: "Device_Error", err: ErrDeviceNotOpen, wantCode: CodeDeviceNotOpen, wantName: "DeviceNotOpen"},
		{
			name:     "Wrapped_Device_Error",
			err:      fmt.Errorf("open: %w", ErrGetServiceFailed.withCause(ErrTransportBusy)),
			wantCode: CodeGetServiceFailed,
			wantName: "GetServiceFailed",
		},
		{name: "Missing_Field", err: missingField("amount"), wantCode: CodeMissingRequiredField, wantName: "MissingRequiredParameter"},
		{name: "Wrong_Value", err: wrongValue("cardType", "unknown"), wantCode: CodeIncorrectInput, wantName: "IncorrectInputValue"},
		{name: "Wrong_Type", err: wrongType("amount", "not BCD"), wantCode: CodeIncorrectInput, wantName: "IncorrectInputType"},
		{
			name:     "Status",
			err:      &DeviceStatusError{Code: 0x81, Message: "Security Error", CommandType: "requestSwipe"},
			wantCode: CodeCommandNotAccepted,
			wantName: "CommandNotAccepted",
		},
		{
			name:     "Protocol",
			err:      &ProtocolError{Op: "big block", Err: ErrFrameTooShort},
			wantCode: CodeLengthError,
			wantName: "BleTransmissionError",
		},
		{name: "Not_Found", err: NewTransportError("open", "svc", ErrTransportNotFound), wantCode: 8, wantName: "NotFoundError"},
		{name: "Network", err: ErrTransportNetwork, wantCode: 19, wantName: "NetworkError"},
		{name: "Busy", err: ErrTransportBusy, wantCode: 19, wantName: "NetworkError"},
		{name: "Context", err: context.DeadlineExceeded, wantCode: CodeAPIError, wantName: "ApiError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			de := AsDeviceError(tt.err)
			require.NotNil(t, de)
			assert.Equal(t, tt.wantCode, de.Code)
			assert.Equal(t, tt.wantName, de.Name)
			assert.NotEmpty(t, de.Message)
		})
	}

	assert.Nil(t, AsDeviceError(nil))
}

func TestDeviceStatusError(t *testing.T) {
	t.Parallel()

	withCmd := &DeviceStatusError{Code: 0x02, Message: "Bad Parameter", CommandType: "requestPinEntry"}
	assert.Equal(t, "device rejected requestPinEntry: Bad Parameter (0x02)", withCmd.Error())

	bare := &DeviceStatusError{Code: 0x0396, Message: "Invalid date"}
	assert.Equal(t, "device status Invalid date (0x396)", bare.Error())
}

func TestClassifyGATTError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want error
		name string
	}{
		{name: "Busy", err: errors.New("GATT operation already in progress"), want: ErrTransportBusy},
		{name: "Busy_Word", err: errors.New("device busy"), want: ErrTransportBusy},
		{name: "Not_Found", err: errors.New("service not found"), want: ErrTransportNotFound},
		{name: "No_Such", err: errors.New("no such characteristic"), want: ErrTransportNotFound},
		{name: "Timeout", err: errors.New("operation timed out"), want: ErrTransportTimeout},
		{name: "Disconnected", err: errors.New("peer disconnected"), want: ErrTransportClosed},
		{name: "Other", err: errors.New("GATT error 133"), want: ErrTransportNetwork},
		{name: "Known", err: ErrTransportBusy, want: ErrTransportBusy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ClassifyGATTError("write", "command", tt.err)
			require.ErrorIs(t, err, tt.want)
			require.ErrorIs(t, err, tt.err)

			var te *TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, "write", te.Op)
			assert.Equal(t, "command", te.Target)
		})
	}

	require.NoError(t, ClassifyGATTError("write", "command", nil))
}
