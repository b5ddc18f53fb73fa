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

// ErrValidation is wrapped by every ValidationError.
var ErrValidation = errors.New("invalid command parameters")

// ValidationKind says what was wrong with a field.
type ValidationKind int

const (
	// MissingRequiredField means a required field was absent.
	MissingRequiredField ValidationKind = iota
	// IncorrectInputType means the field had an unusable representation.
	IncorrectInputType
	// IncorrectInputValue means the field was well formed but out of range.
	IncorrectInputValue
)

// ValidationError rejects a command configuration before anything is sent.
type ValidationError struct {
	Field    string
	Reason   string
	Accepted []string
	Kind     ValidationKind
}

func (e *ValidationError) Error() string {
	var sb strings.Builder
	switch e.Kind {
	case MissingRequiredField:
		fmt.Fprintf(&sb, "missing required field %q", e.Field)
	case IncorrectInputType:
		fmt.Fprintf(&sb, "incorrect input type for %q", e.Field)
	default:
		fmt.Fprintf(&sb, "incorrect input value for %q", e.Field)
	}
	if e.Reason != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Reason)
	}
	if len(e.Accepted) > 0 {
		fmt.Fprintf(&sb, " (accepted: %s)", strings.Join(e.Accepted, ", "))
	}
	return sb.String()
}

func (*ValidationError) Unwrap() error {
	return ErrValidation
}

// Code returns the numeric device error code for the validation failure.
func (e *ValidationError) Code() int {
	if e.Kind == MissingRequiredField {
		return CodeMissingRequiredField
	}
	return CodeIncorrectInput
}

// Name returns the device error name for the validation failure.
func (e *ValidationError) Name() string {
	switch e.Kind {
	case MissingRequiredField:
		return "MissingRequiredParameter"
	case IncorrectInputType:
		return "IncorrectInputType"
	default:
		return "IncorrectInputValue"
	}
}

func missingField(field string) *ValidationError {
	return &ValidationError{Field: field, Kind: MissingRequiredField}
}

func wrongValue(field, reason string, accepted ...string) *ValidationError {
	return &ValidationError{Field: field, Kind: IncorrectInputValue, Reason: reason, Accepted: accepted}
}

func wrongType(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Kind: IncorrectInputType, Reason: reason}
}
