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

/*
Package magble drives magnetic stripe and EMV card terminals over Bluetooth
LE GATT.

Two protocol dialects are supported:
  - PinPad, spoken by DynaPro Go and DynaPro Mini. Commands are written to a
    command characteristic after their length, and responses are read once
    the terminal notifies that one is ready.
  - SCRA, spoken by eDynamo and tDynamo. Card data arrives as chunked
    notifications and command responses are read after a data-ready signal.

A Device owns one Transport. The transport subpackages provide a native BLE
link (transport/ble) and a serial GATT bridge (transport/uart).

Basic Usage:

	adapter, err := ble.NewTinyGoAdapter()
	if err != nil {
	    return err
	}
	transport := ble.New(adapter, "AA:BB:CC:DD:EE:FF")

	device, err := magble.New(transport, magble.ModelDynaProGo)
	if err != nil {
	    return err
	}
	if _, err := device.Open(ctx); err != nil {
	    return err
	}
	defer device.Close(ctx)

	if _, err := device.StartTransaction(ctx, &magble.EMVOptions{
	    AuthorizedAmount: magble.AmountOf(1250),
	    Currency:         magble.CurrencyUSD,
	}); err != nil {
	    return err
	}

	for ev := range device.Events() {
	    if tx, ok := ev.(*magble.TransactionEvent); ok && tx.Result.Final {
	        break
	    }
	}

Events:

Everything the terminal pushes on its own (card data, status changes,
display and selection requests, asynchronous failures, link loss) is
published on Events. The dispatch subpackage routes them to callbacks.

Error Handling:

Transport failures wrap one of the ErrTransport kinds and can be inspected
with errors.Is:

	if errors.Is(err, magble.ErrTransportBusy) {
	    // retry later
	}

Thread Safety:

Device methods may be called from any goroutine. Commands are serialized on
a single queue and answered in order.
*/
package magble
