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

package ble

import (
	"context"
	"fmt"
	"time"

	"github.com/ZaparooProject/go-magble"
)

// Terminal is a scanned peripheral whose name identifies a supported model.
type Terminal struct {
	Model magble.Model
	Found
}

// Discover scans for timeout and returns the terminals it recognises, in
// the order they were seen.
func Discover(ctx context.Context, adapter Adapter, timeout time.Duration) ([]Terminal, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	found, err := adapter.Scan(ctx, func(name string) bool {
		_, ok := magble.IdentifyModel(name, "")
		return ok
	})
	if err != nil {
		return nil, fmt.Errorf("discovering terminals: %w", err)
	}

	terminals := make([]Terminal, 0, len(found))
	for _, f := range found {
		model, ok := magble.IdentifyModel(f.Name, "")
		if !ok {
			continue
		}
		terminals = append(terminals, Terminal{Found: f, Model: model})
	}
	return terminals, nil
}
