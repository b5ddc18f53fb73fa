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

// Command magtest connects to a card terminal and runs one swipe, EMV or
// info operation, printing every event it receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ZaparooProject/go-magble"
	"github.com/ZaparooProject/go-magble/dispatch"
	"github.com/ZaparooProject/go-magble/internal/config"
	"github.com/ZaparooProject/go-magble/transport/ble"
	"github.com/ZaparooProject/go-magble/transport/uart"
)

type flags struct {
	configPath *string
	transport  *string
	address    *string
	port       *string
	model      *string
	mode       *string
	amount     *int64
	logLevel   *string
	debug      *bool
}

func parseFlags() *flags {
	f := &flags{
		configPath: flag.String("config", "", "Config file (default: ~/.config/go-magble/config.yaml)"),
		transport:  flag.String("transport", "", "Transport: ble or uart"),
		address:    flag.String("address", "", "BLE address. Leave empty to scan for a terminal."),
		port:       flag.String("port", "", "Serial port of the GATT bridge (e.g., /dev/ttyACM0 or COM3)"),
		model:      flag.String("model", "", "Terminal model (DynaPro Go, DynaPro Mini, eDynamo, tDynamo)"),
		mode:       flag.String("mode", "", "Operation: swipe, emv or info"),
		amount:     flag.Int64("amount", 0, "EMV authorized amount in minor units"),
		logLevel:   flag.String("log-level", "", "Log level: debug, info, warn or error"),
		debug:      flag.Bool("debug", false, "Enable protocol debug output"),
	}
	flag.Parse()
	return f
}

// apply overrides config values with the flags given on the command line.
func (f *flags) apply(cfg *config.Config) {
	flag.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "transport":
			cfg.Transport.Kind = *f.transport
		case "address":
			cfg.Transport.Address = *f.address
		case "port":
			cfg.Transport.Port = *f.port
		case "model":
			cfg.Device.Model = *f.model
		case "mode":
			cfg.Transaction.Mode = *f.mode
		case "amount":
			cfg.Transaction.Amount = *f.amount
		case "log-level":
			cfg.LogLevel = *f.logLevel
		case "debug":
			cfg.Debug = *f.debug
		}
	})
}

func main() {
	if run() != 0 {
		os.Exit(1)
	}
}

func run() int {
	f := parseFlags()
	out := newOutput()

	cfg, err := config.LoadOrDefault(*f.configPath)
	if err != nil {
		out.Error("%v", err)
		return 1
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		out.Error("invalid configuration: %v", err)
		return 1
	}

	level, _ := config.ParseLogLevel(cfg.LogLevel)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	magble.SetDebugEnabled(cfg.Debug)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := runOperation(ctx, cfg, logger, out); err != nil {
		out.Error("%v", err)
		return 1
	}
	return 0
}

func runOperation(ctx context.Context, cfg *config.Config, logger *slog.Logger, out *output) error {
	transport, model, err := newTransport(ctx, cfg, logger, out)
	if err != nil {
		return err
	}

	device, err := magble.New(transport, model,
		magble.WithLogger(logger),
		magble.WithPollInterval(cfg.Device.PollInterval),
		magble.WithEventBuffer(cfg.Device.EventBuffer),
		magble.WithDeviceName(cfg.Device.Name),
	)
	if err != nil {
		return fmt.Errorf("failed to create device: %w", err)
	}

	out.Info("Opening %s over %s...", model, transport.Type())
	if _, err := device.Open(ctx); err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Device.PollInterval*25)
		defer closeCancel()
		if _, err := device.Close(closeCtx); err != nil {
			out.Warning("close: %v", err)
		}
	}()

	if cfg.Transaction.Mode == config.ModeInfo {
		info, err := device.DeviceInfo(ctx)
		if err != nil {
			return fmt.Errorf("failed to read device info: %w", err)
		}
		out.DeviceInfo(info)
		return nil
	}

	return runTransaction(ctx, cfg, device, logger, out)
}

func runTransaction(ctx context.Context, cfg *config.Config, device *magble.Device, logger *slog.Logger, out *output) error {
	ctx, cancel := context.WithTimeout(ctx, cfg.Transaction.Wait)
	defer cancel()

	finished := make(chan error, 1)
	finish := func(err error) {
		select {
		case finished <- err:
		default:
		}
	}

	dispatcher := dispatch.New(device, dispatch.Callbacks{
		OnTransactionData: func(result magble.TransactionResult) error {
			out.Transaction(result)
			if result.Final {
				finish(nil)
			}
			return nil
		},
		OnStatus:         out.Status,
		OnDisplayRequest: func(message string) { out.Info("DISPLAY: %s", message) },
		OnUserSelectionRequest: func(request *magble.UserSelectionRequestReport) error {
			out.Selection(request)
			_, err := device.SendUserSelection(ctx, 0)
			return err
		},
		OnError: func(err error) { out.Warning("%v", err) },
		OnDisconnect: func(reason error) {
			finish(fmt.Errorf("terminal disconnected: %w", reason))
		},
	}, logger)
	if err := dispatcher.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = dispatcher.Stop(context.Background()) }()

	var report magble.Report
	var err error
	switch cfg.Transaction.Mode {
	case config.ModeSwipe:
		out.Info("Waiting for a swipe...")
		report, err = device.RequestSwipe(ctx, magble.SwipeOptions{Timeout: byte(cfg.Transaction.Timeout)})
	case config.ModeEMV:
		quickChip := cfg.Transaction.QuickChip
		out.Info("Starting EMV transaction for %d...", cfg.Transaction.Amount)
		report, err = device.StartTransaction(ctx, &magble.EMVOptions{
			AuthorizedAmount: magble.AmountOf(cfg.Transaction.Amount),
			Currency:         magble.ParseCurrency(cfg.Transaction.Currency),
			CardType:         magble.CardType(strings.ToLower(cfg.Transaction.CardType)),
			QuickChip:        &quickChip,
			Timeout:          byte(cfg.Transaction.Timeout),
		})
	}
	if err != nil {
		return fmt.Errorf("failed to start %s: %w", cfg.Transaction.Mode, err)
	}
	out.Report("started", report)

	select {
	case err := <-finished:
		return err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			out.Warning("no transaction data within %s", cfg.Transaction.Wait)
			if _, cerr := device.CancelTransaction(context.Background()); cerr != nil {
				out.Warning("cancel: %v", cerr)
			}
			return nil
		}
		return ctx.Err()
	}
}

// newTransport builds the configured transport and settles the model,
// scanning for a terminal when no BLE address is set.
func newTransport(ctx context.Context, cfg *config.Config, logger *slog.Logger, out *output) (magble.Transport, magble.Model, error) {
	model, _ := magble.ParseModel(cfg.Device.Model)

	if cfg.Transport.Kind == config.TransportUART {
		out.Info("Opening bridge on %s", cfg.Transport.Port)
		return uart.New(cfg.Transport.Port,
			uart.WithBaudRate(cfg.Transport.BaudRate),
			uart.WithLogger(logger),
		), model, nil
	}

	adapter, err := ble.NewTinyGoAdapter()
	if err != nil {
		return nil, "", err
	}
	address := cfg.Transport.Address
	if address == "" {
		out.Info("Scanning for terminals (%s)...", cfg.Transport.ScanTimeout)
		terminals, err := ble.Discover(ctx, adapter, cfg.Transport.ScanTimeout)
		if err != nil {
			return nil, "", err
		}
		term, ok := pickTerminal(terminals, model, cfg.Device.Name)
		if !ok {
			return nil, "", errors.New("no supported terminal found")
		}
		out.OK("Found %s (%s) at %s", term.Name, term.Model, term.Address)
		address, model = term.Address, term.Model
	}
	if model == "" {
		return nil, "", errors.New("device.model must be set when an address is given")
	}
	return ble.New(adapter, address, ble.WithLogger(logger)), model, nil
}

func pickTerminal(terminals []ble.Terminal, model magble.Model, name string) (ble.Terminal, bool) {
	for _, term := range terminals {
		if model != "" && term.Model != model {
			continue
		}
		if name != "" && term.Name != name {
			continue
		}
		return term, true
	}
	return ble.Terminal{}, false
}
