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

// Package config loads the YAML configuration of the magtest tool.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZaparooProject/go-magble"
	"gopkg.in/yaml.v3"
)

// Transport kinds
const (
	TransportBLE  = "ble"
	TransportUART = "uart"
)

// Modes of the test tool
const (
	ModeSwipe = "swipe"
	ModeEMV   = "emv"
	ModeInfo  = "info"
)

// Config holds all tool configuration.
type Config struct {
	Transport   TransportConfig   `yaml:"transport"`
	Device      DeviceConfig      `yaml:"device"`
	LogLevel    string            `yaml:"log_level"`
	Transaction TransactionConfig `yaml:"transaction"`
	Debug       bool              `yaml:"debug"`
}

// TransportConfig selects how the terminal is reached.
type TransportConfig struct {
	Kind string `yaml:"kind"` // "ble" or "uart"
	// Address is the BLE address; empty scans for a known name prefix
	Address     string        `yaml:"address"`
	Port        string        `yaml:"port"`
	BaudRate    int           `yaml:"baud_rate"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}

// DeviceConfig describes the terminal.
type DeviceConfig struct {
	// Model is a model name; empty identifies it from the advertised name
	Model        string        `yaml:"model"`
	Name         string        `yaml:"name"`
	PollInterval time.Duration `yaml:"poll_interval"`
	EventBuffer  int           `yaml:"event_buffer"`
}

// TransactionConfig holds the defaults of the operation the tool runs.
type TransactionConfig struct {
	Mode     string        `yaml:"mode"` // "swipe", "emv" or "info"
	Currency string        `yaml:"currency"`
	CardType string        `yaml:"card_type"`
	Wait     time.Duration `yaml:"wait"`
	// Amount is in minor units
	Amount    int64 `yaml:"amount"`
	Timeout   int   `yaml:"timeout"`
	QuickChip bool  `yaml:"quick_chip"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "go-magble")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with the values used when no file is given.
func Default() *Config {
	return &Config{
		Transport: TransportConfig{
			Kind:        TransportBLE,
			BaudRate:    115200,
			ScanTimeout: 10 * time.Second,
		},
		Device: DeviceConfig{
			PollInterval: 200 * time.Millisecond,
			EventBuffer:  64,
		},
		Transaction: TransactionConfig{
			Mode:      ModeSwipe,
			Currency:  string(magble.CurrencyUSD),
			CardType:  string(magble.CardTypeAll),
			Amount:    100,
			Timeout:   60,
			QuickChip: true,
			Wait:      90 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	cfg.Transport.Port = expandTilde(cfg.Transport.Port)
	return cfg, nil
}

// LoadOrDefault loads path, or the default config path when path is empty.
// A missing default file yields Default.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		return Load(path)
	}
	cfg, err := Load(DefaultConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportBLE:
		if c.Transport.Address == "" && c.Transport.ScanTimeout <= 0 {
			return errors.New("transport.scan_timeout must be > 0 when no address is set")
		}
	case TransportUART:
		if c.Transport.Port == "" {
			return errors.New("transport.port must not be empty for uart")
		}
		if c.Transport.BaudRate <= 0 {
			return errors.New("transport.baud_rate must be > 0")
		}
	default:
		return fmt.Errorf("transport.kind must be \"ble\" or \"uart\", got %q", c.Transport.Kind)
	}

	if c.Device.Model != "" {
		if _, ok := magble.ParseModel(c.Device.Model); !ok {
			return fmt.Errorf("device.model %q is not a supported model", c.Device.Model)
		}
	} else if c.Transport.Kind == TransportUART {
		return errors.New("device.model must be set for uart, there is no advertised name")
	}
	if c.Device.PollInterval <= 0 {
		return errors.New("device.poll_interval must be > 0")
	}
	if c.Device.EventBuffer < 0 {
		return errors.New("device.event_buffer must not be negative")
	}

	switch c.Transaction.Mode {
	case ModeSwipe, ModeEMV, ModeInfo:
	default:
		return fmt.Errorf("transaction.mode must be swipe, emv, or info, got %q", c.Transaction.Mode)
	}
	if c.Transaction.Amount < 0 {
		return errors.New("transaction.amount must not be negative")
	}
	if c.Transaction.Timeout < 1 || c.Transaction.Timeout > 255 {
		return fmt.Errorf("transaction.timeout must be between 1 and 255 seconds, got %d", c.Transaction.Timeout)
	}
	if c.Transaction.Wait <= 0 {
		return errors.New("transaction.wait must be > 0")
	}

	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLogLevel maps a level name to its slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("log_level must be debug, info, warn, or error, got %q", s)
}

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
