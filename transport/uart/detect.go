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
	"fmt"
	"path/filepath"
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port that may host a GATT bridge.
type PortInfo struct {
	Name         string
	VIDPID       string
	Product      string
	SerialNumber string
}

// DetectOptions filters detected ports.
type DetectOptions struct {
	// Blocklist holds VID:PID pairs never reported (case-insensitive)
	Blocklist []string
	// IgnorePaths holds port paths never reported
	IgnorePaths []string
	// USBOnly drops ports that are not USB adapters
	USBOnly bool
}

// portLister is replaced in tests
var portLister = enumerator.GetDetailedPortsList

// DetectPorts lists serial ports that may host a bridge.
func DetectPorts(opts DetectOptions) ([]PortInfo, error) {
	ports, err := portLister()
	if err != nil {
		return nil, fmt.Errorf("listing serial ports: %w", err)
	}

	var found []PortInfo
	for _, p := range ports {
		if opts.USBOnly && !p.IsUSB {
			continue
		}
		if IsPathIgnored(p.Name, opts.IgnorePaths) {
			continue
		}
		info := PortInfo{Name: p.Name, Product: p.Product, SerialNumber: p.SerialNumber}
		if p.IsUSB {
			info.VIDPID = strings.ToUpper(p.VID + ":" + p.PID)
			if IsBlocked(info.VIDPID, opts.Blocklist) {
				continue
			}
		}
		found = append(found, info)
	}
	return found, nil
}

// IsBlocked checks if a VID:PID pair is in the blocklist.
func IsBlocked(vidpid string, blocklist []string) bool {
	vidpid = strings.ToUpper(strings.TrimSpace(vidpid))
	for _, blocked := range blocklist {
		if vidpid == strings.ToUpper(strings.TrimSpace(blocked)) {
			return true
		}
	}
	return false
}

// IsPathIgnored checks if a port path should be ignored. Paths are
// compared cleaned and case-insensitively.
func IsPathIgnored(devicePath string, ignorePaths []string) bool {
	if devicePath == "" {
		return false
	}
	device := normalizedPath(devicePath)
	for _, ignore := range ignorePaths {
		if ignore != "" && normalizedPath(ignore) == device {
			return true
		}
	}
	return false
}

func normalizedPath(path string) string {
	return strings.ToLower(filepath.Clean(path))
}
