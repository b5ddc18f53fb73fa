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

package uart

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial/enumerator"
)

//nolint:paralleltest // replaces the package level port lister
func TestDetectPorts(t *testing.T) {
	saved := portLister
	t.Cleanup(func() { portLister = saved })

	portLister = func() ([]*enumerator.PortDetails, error) {
		return []*enumerator.PortDetails{
			{Name: "/dev/ttyS0"},
			{Name: "/dev/ttyACM0", IsUSB: true, VID: "2fe3", PID: "0100", Product: "GATT bridge", SerialNumber: "B1"},
			{Name: "/dev/ttyUSB0", IsUSB: true, VID: "1a86", PID: "7523"},
			{Name: "/dev/ttyUSB1", IsUSB: true, VID: "0403", PID: "6001"},
		}, nil
	}

	ports, err := DetectPorts(DetectOptions{})
	require.NoError(t, err)
	assert.Len(t, ports, 4)

	ports, err = DetectPorts(DetectOptions{
		USBOnly:     true,
		Blocklist:   []string{"1a86:7523"},
		IgnorePaths: []string{"/dev/ttyUSB1"},
	})
	require.NoError(t, err)
	require.Len(t, ports, 1)
	assert.Equal(t, PortInfo{Name: "/dev/ttyACM0", VIDPID: "2FE3:0100", Product: "GATT bridge", SerialNumber: "B1"}, ports[0])

	portLister = func() ([]*enumerator.PortDetails, error) {
		return nil, errors.New("no enumerator")
	}
	_, err = DetectPorts(DetectOptions{})
	require.Error(t, err)
}

func TestIsBlocked(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		vidpid    string
		blocklist []string
		want      bool
	}{
		{name: "Empty_List", vidpid: "1A86:7523"},
		{name: "Match", vidpid: "1A86:7523", blocklist: []string{"1A86:7523"}, want: true},
		{name: "Case_And_Space", vidpid: " 1a86:7523", blocklist: []string{"1A86:7523 "}, want: true},
		{name: "No_Match", vidpid: "0403:6001", blocklist: []string{"1A86:7523"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsBlocked(tt.vidpid, tt.blocklist))
		})
	}
}

func TestIsPathIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		devicePath  string
		ignorePaths []string
		want        bool
	}{
		{name: "Empty_Ignore_List", devicePath: "/dev/ttyUSB0"},
		{name: "Empty_Device_Path", ignorePaths: []string{"/dev/ttyUSB0"}},
		{name: "Exact_Unix", devicePath: "/dev/ttyUSB0", ignorePaths: []string{"/dev/ttyUSB0"}, want: true},
		{name: "Exact_Windows", devicePath: "COM2", ignorePaths: []string{"COM2"}, want: true},
		{name: "Case_Insensitive", devicePath: "com3", ignorePaths: []string{"COM3"}, want: true},
		{name: "Unclean_Path", devicePath: "/dev/../dev/ttyACM0", ignorePaths: []string{"/dev/ttyACM0"}, want: true},
		{name: "Empty_Entry_Skipped", devicePath: "/dev/ttyACM0", ignorePaths: []string{""}},
		{name: "Different", devicePath: "/dev/ttyACM0", ignorePaths: []string{"/dev/ttyACM1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, IsPathIgnored(tt.devicePath, tt.ignorePaths))
		})
	}
}
