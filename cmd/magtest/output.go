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

package main

import (
	"encoding/json"
	"fmt"

	"github.com/ZaparooProject/go-magble"
)

// output handles consistent formatting of messages
type output struct{}

func newOutput() *output {
	return &output{}
}

// DeviceInfo prints the terminal identity
func (*output) DeviceInfo(info *magble.DeviceInfo) {
	_, _ = fmt.Printf("Device:  %s (%s)\n", info.DeviceName, info.DeviceType)
	_, _ = fmt.Printf("Serial:  %s\n", info.SerialNumber)
	if info.BatteryLevel != nil {
		_, _ = fmt.Printf("Battery: %d%%\n", *info.BatteryLevel)
	}
}

// Transaction prints transaction data as JSON
func (o *output) Transaction(result magble.TransactionResult) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		o.Error("encoding result: %v", err)
		return
	}
	_, _ = fmt.Printf("\nTRANSACTION: %s\n%s\n", result.Kind, data)
}

// Status prints a status event
func (o *output) Status(ev *magble.StatusEvent) {
	if ev.BufferType != "" {
		o.Info("STATUS: %s buffer", ev.BufferType)
		return
	}
	o.Report("STATUS", ev.Report)
}

// Report prints a report with its kind
func (*output) Report(label string, r magble.Report) {
	if r == nil {
		return
	}
	_, _ = fmt.Printf("%s: %s %+v\n", label, r.Kind(), r)
}

// Selection prints a user selection request
func (*output) Selection(request *magble.UserSelectionRequestReport) {
	_, _ = fmt.Printf("SELECT: %s\n", request.Title)
	for i, item := range request.Items {
		_, _ = fmt.Printf("  [%d] %s\n", i, item)
	}
}

// Error prints an error message
func (*output) Error(format string, args ...any) {
	_, _ = fmt.Printf("ERROR: "+format+"\n", args...)
}

// Warning prints a warning message
func (*output) Warning(format string, args ...any) {
	_, _ = fmt.Printf("WARNING: "+format+"\n", args...)
}

// Info prints an info message
func (*output) Info(format string, args ...any) {
	_, _ = fmt.Printf("INFO: "+format+"\n", args...)
}

// OK prints a success message
func (*output) OK(format string, args ...any) {
	_, _ = fmt.Printf("OK: "+format+"\n", args...)
}
