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
	"errors"
	"fmt"
	"strings"
)

// ErrorType classifies how an error should be handled
type ErrorType int

const (
	// ErrorTypePermanent errors are not worth retrying
	ErrorTypePermanent ErrorType = iota
	// ErrorTypeTransient errors may succeed on retry
	ErrorTypeTransient
	// ErrorTypeTimeout errors come from an expired wait
	ErrorTypeTimeout
)

// String returns the error type name
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeTimeout:
		return "timeout"
	default:
		return "permanent"
	}
}

// Transport errors
var (
	ErrTransportNotFound = errors.New("service or characteristic not found")
	ErrTransportBusy     = errors.New("GATT operation already in progress")
	ErrTransportNetwork  = errors.New("GATT network error")
	ErrTransportTimeout  = errors.New("transport timeout")
	ErrTransportClosed   = errors.New("transport closed")
)

// Protocol errors
var (
	ErrUnexpectedFrame = errors.New("unexpected frame")
	ErrFrameTooShort   = errors.New("frame too short")
	ErrNotSupported    = errors.New("operation not supported by this device")
)

// TransportError wraps a fault reported by a Transport implementation.
type TransportError struct {
	Err       error
	Op        string
	Target    string
	Type      ErrorType
	Retryable bool
}

func (e *TransportError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// NewTransportError creates a transport error classified by its cause.
func NewTransportError(op, target string, err error) *TransportError {
	return &TransportError{
		Op:        op,
		Target:    target,
		Err:       err,
		Type:      GetErrorType(err),
		Retryable: IsRetryable(err),
	}
}

// NewTimeoutError creates a timeout transport error.
func NewTimeoutError(op, target string) *TransportError {
	return &TransportError{
		Op:        op,
		Target:    target,
		Err:       ErrTransportTimeout,
		Type:      ErrorTypeTimeout,
		Retryable: true,
	}
}

// IsRetryable reports whether err is worth another attempt. Busy and network
// faults are, a missing service is not (the caller falls back instead).
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return errors.Is(err, ErrTransportBusy) ||
		errors.Is(err, ErrTransportNetwork) ||
		errors.Is(err, ErrTransportTimeout)
}

// GetErrorType returns the classification of err.
func GetErrorType(err error) ErrorType {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Type
	}
	switch {
	case errors.Is(err, ErrTransportTimeout):
		return ErrorTypeTimeout
	case errors.Is(err, ErrTransportBusy), errors.Is(err, ErrTransportNetwork):
		return ErrorTypeTransient
	default:
		return ErrorTypePermanent
	}
}

// Device error codes
const (
	CodeAPIError               = 1000
	CodeDeviceNotFound         = 1002
	CodeGattServerNotConnected = 1003
	CodeCommandNotSent         = 1004
	CodeDeviceNotOpen          = 1005
	CodeCommandNotSentFromHost = 1006
	CodeReadFailed             = 1007
	CodeResponseNotReceived    = 1008
	CodeGetServiceFailed       = 1009
	CodeLengthError            = 1012
	CodeCommandNotAccepted     = 1013
	CodeMissingRequiredField   = 1014
	CodeIncorrectInput         = 1015
)

// Codes reported for transport faults, as browsers number DOMExceptions
const (
	codeNotFoundError = 8
	codeNetworkError  = 19
)

// DeviceError is the uniform {code, name, message} shape every failure can
// be reported in.
type DeviceError struct {
	Err     error
	Name    string
	Message string
	Code    int
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s (%d): %s: %v", e.Name, e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s (%d): %s", e.Name, e.Code, e.Message)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// Is matches device errors by code and name so wrapped copies of the
// sentinels below compare equal.
func (e *DeviceError) Is(target error) bool {
	t, ok := target.(*DeviceError)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Name == t.Name
}

// withCause returns a copy of e wrapping err.
func (e *DeviceError) withCause(err error) *DeviceError {
	c := *e
	c.Err = err
	return &c
}

// withMessage returns a copy of e with a more specific message.
func (e *DeviceError) withMessage(format string, args ...any) *DeviceError {
	c := *e
	c.Message = fmt.Sprintf(format, args...)
	return &c
}

// Device errors
var (
	ErrDeviceNotFound = &DeviceError{
		Code: CodeDeviceNotFound, Name: "DeviceNotFound", Message: "Device not found",
	}
	ErrGattServerNotConnected = &DeviceError{
		Code: CodeGattServerNotConnected, Name: "GattServerNotConnected", Message: "GATT server is not connected",
	}
	ErrCommandNotSent = &DeviceError{
		Code: CodeCommandNotSent, Name: "CommandNotSent", Message: "Command characteristic is not available",
	}
	ErrDeviceNotOpen = &DeviceError{
		Code: CodeDeviceNotOpen, Name: "DeviceNotOpen", Message: "Device not opened",
	}
	ErrCommandNotSentFromHost = &DeviceError{
		Code: CodeCommandNotSentFromHost, Name: "CommandNotSentFromHost", Message: "Unable to send command to device",
	}
	ErrReadFailed = &DeviceError{
		Code: CodeReadFailed, Name: "ReadFailed", Message: "Unable to read device response",
	}
	ErrResponseNotReceived = &DeviceError{
		Code: CodeResponseNotReceived, Name: "ResponseNotReceived", Message: "Device did not respond to command",
	}
	ErrGetServiceFailed = &DeviceError{
		Code: CodeGetServiceFailed, Name: "GetServiceFailed", Message: "Unable to open card service",
	}
	ErrLengthMismatch = &DeviceError{
		Code: CodeLengthError, Name: "BleTransmissionError", Message: "Data length does not match length field",
	}
	ErrCommandNotAccepted = &DeviceError{
		Code: CodeCommandNotAccepted, Name: "CommandNotAccepted", Message: "Device did not accept the command",
	}
)

// ProtocolError reports a malformed or inconsistent device frame.
type ProtocolError struct {
	Err   error
	Op    string
	Frame []byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error in %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// DeviceStatusError is a well-formed ACK or result code rejecting a command.
type DeviceStatusError struct {
	Message     string
	CommandType string
	Code        int
}

func (e *DeviceStatusError) Error() string {
	if e.CommandType != "" {
		return fmt.Sprintf("device rejected %s: %s (0x%02X)", e.CommandType, e.Message, e.Code)
	}
	return fmt.Sprintf("device status %s (0x%02X)", e.Message, e.Code)
}

// AsDeviceError converts any error into the uniform device error shape.
// It returns nil for a nil error.
func AsDeviceError(err error) *DeviceError {
	if err == nil {
		return nil
	}

	var de *DeviceError
	if errors.As(err, &de) {
		return de
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return &DeviceError{Code: ve.Code(), Name: ve.Name(), Message: ve.Error(), Err: err}
	}

	var se *DeviceStatusError
	if errors.As(err, &se) {
		return &DeviceError{Code: CodeCommandNotAccepted, Name: "CommandNotAccepted", Message: se.Error(), Err: err}
	}

	var pe *ProtocolError
	if errors.As(err, &pe) {
		return &DeviceError{Code: CodeLengthError, Name: "BleTransmissionError", Message: pe.Error(), Err: err}
	}

	switch {
	case errors.Is(err, ErrTransportNotFound):
		return &DeviceError{Code: codeNotFoundError, Name: "NotFoundError", Message: err.Error(), Err: err}
	case errors.Is(err, ErrTransportBusy), errors.Is(err, ErrTransportNetwork):
		return &DeviceError{Code: codeNetworkError, Name: "NetworkError", Message: err.Error(), Err: err}
	}

	return &DeviceError{Code: CodeAPIError, Name: "ApiError", Message: err.Error(), Err: err}
}

// isBusyMessage matches the text platforms use for an in-flight GATT operation.
func isBusyMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "already in progress") || strings.Contains(msg, "busy")
}
