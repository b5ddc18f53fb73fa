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
	"log/slog"
	"sync"
	"time"

	itransport "github.com/ZaparooProject/go-magble/internal/transport"
	"go.uber.org/atomic"
)

// Messages of synthesized successes
const (
	msgOpen           = "Device Open"
	msgClosed         = "Device Closed"
	msgListening      = "Success, listening for swipe"
	msgNoSession      = "Success, there was no session to clear"
	msgScraNoSession  = "SCRA devices do not carry a session"
	msgDeviceNotIdle  = "Device not idle"
	defaultEventQueue = 64
)

// DeviceConfig contains configuration options for the Device
type DeviceConfig struct {
	// RetryConfig holds the polling and retry contracts
	RetryConfig *RetryConfig
	// Logger receives session level logs. Wire traces use SetDebugEnabled.
	Logger *slog.Logger
	// Name is reported by DeviceInfo, usually the advertised name
	Name string
	// EventBuffer is the capacity of the Events channel
	EventBuffer int
}

// DefaultDeviceConfig returns default device configuration
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		RetryConfig: DefaultRetryConfig(),
		Logger:      slog.Default(),
		EventBuffer: defaultEventQueue,
	}
}

// DeviceInfo describes the connected terminal.
type DeviceInfo struct {
	// BatteryLevel is only reported by SCRA readers
	BatteryLevel *byte  `json:"batteryLevel,omitempty"`
	SerialNumber string `json:"serialNumber"`
	DeviceName   string `json:"deviceName"`
	DeviceType   Model  `json:"deviceType"`
	IsConnected  bool   `json:"isConnected"`
}

// DeviceMetrics counts what happened on a Device since it was created.
type DeviceMetrics struct {
	CommandsSent  int64
	Resends       int64
	Timeouts      int64
	Notifications int64
	EventsDropped int64
	Reconnects    int64
}

// dialect is the per family half of the engine.
type dialect interface {
	afterOpen(ctx context.Context) error
	onNotification(n Notification)
	requestSwipe(ctx context.Context, opts SwipeOptions) (Report, error)
	startTransaction(ctx context.Context, opts *EMVOptions) (Report, error)
	sendARPC(ctx context.Context, data []byte) (Report, error)
	cancel(ctx context.Context) (Report, error)
	clearSession(ctx context.Context, bitmap byte) (Report, error)
	sendCommand(ctx context.Context, cmd []byte) (Report, error)
	deviceInfo(ctx context.Context) (*DeviceInfo, error)
	beforeClose(ctx context.Context) error
	reset()
}

// Device drives one card terminal over a Transport.
//
// Thread Safety: every method is safe for concurrent use. Commands are
// executed one at a time in the order they were submitted; data pushed by
// the terminal is delivered on the Events channel.
type Device struct {
	transport *TransportWithRetry
	profile   *DeviceProfile
	config    *DeviceConfig
	logger    *slog.Logger
	dialect   dialect
	sess      *session
	queue     *commandQueue
	events    chan Event
	notes     chan Notification
	cancelRun context.CancelFunc
	stopChan  chan struct{}
	running   *atomic.Bool

	commandsSent  *atomic.Int64
	resends       *atomic.Int64
	timeouts      *atomic.Int64
	notifications *atomic.Int64
	dropped       *atomic.Int64
	reconnects    *atomic.Int64

	wg        sync.WaitGroup
	lifecycle sync.Mutex
	linkMu    sync.Mutex
}

// New creates a Device for model on transport. Nothing is sent until Open.
func New(transport Transport, model Model, opts ...Option) (*Device, error) {
	if transport == nil {
		return nil, missingField("transport")
	}
	profile, err := ProfileFor(model)
	if err != nil {
		return nil, err
	}

	config := DefaultDeviceConfig()
	device := &Device{
		transport:     NewTransportWithRetry(transport, config.RetryConfig),
		profile:       profile,
		config:        config,
		sess:          newSession(),
		queue:         newCommandQueue(),
		notes:         make(chan Notification),
		running:       atomic.NewBool(false),
		commandsSent:  atomic.NewInt64(0),
		resends:       atomic.NewInt64(0),
		timeouts:      atomic.NewInt64(0),
		notifications: atomic.NewInt64(0),
		dropped:       atomic.NewInt64(0),
		reconnects:    atomic.NewInt64(0),
	}

	for _, opt := range opts {
		if err := opt(device); err != nil {
			return nil, err
		}
	}
	if err := device.config.RetryConfig.Validate(); err != nil {
		return nil, err
	}

	if device.config.Logger == nil {
		device.config.Logger = slog.Default()
	}
	device.logger = device.config.Logger.With("model", string(profile.Model))
	device.events = make(chan Event, max(device.config.EventBuffer, 0))

	if profile.Dialect == DialectPinPad {
		device.dialect = newPinPadDialect(device)
	} else {
		device.dialect = newScraDialect(device)
	}
	return device, nil
}

// Transport returns the underlying transport
func (d *Device) Transport() Transport {
	return d.transport.Unwrap()
}

// Profile returns the profile the device was created with.
func (d *Device) Profile() *DeviceProfile {
	return d.profile
}

// Events returns the channel transaction data, status reports and link
// events are published on. Events are dropped when nobody reads them.
func (d *Device) Events() <-chan Event {
	return d.events
}

// State returns the session phase.
func (d *Device) State() SessionState {
	return d.sess.state()
}

// IsOpen reports whether the link to the terminal is up.
func (d *Device) IsOpen() bool {
	return d.transport.IsConnected()
}

// GetMetrics returns a snapshot of the device counters.
func (d *Device) GetMetrics() DeviceMetrics {
	return DeviceMetrics{
		CommandsSent:  d.commandsSent.Load(),
		Resends:       d.resends.Load(),
		Timeouts:      d.timeouts.Load(),
		Notifications: d.notifications.Load(),
		EventsDropped: d.dropped.Load(),
		Reconnects:    d.reconnects.Load(),
	}
}

// SetRetryConfig updates the retry configuration
func (d *Device) SetRetryConfig(config *RetryConfig) {
	d.config.RetryConfig = config
	d.transport.SetRetryConfig(config)
}

func (d *Device) retry() *RetryConfig {
	return d.config.RetryConfig
}

// Open connects, caches the card service and enables notifications. Opening
// an open device succeeds without touching the link.
func (d *Device) Open(ctx context.Context) (Report, error) {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.running.Load() && d.transport.IsConnected() {
		return success(msgOpen), nil
	}
	if !d.running.Load() {
		d.start()
	}

	if err := d.link(ctx); err != nil {
		d.stop()
		return nil, err
	}
	d.logger.Info("device open")
	return success(msgOpen), nil
}

// link runs the connect and cache sequence and subscribes to notifications.
func (d *Device) link(ctx context.Context) error {
	d.linkMu.Lock()
	defer d.linkMu.Unlock()

	// whatever ran on the old link is gone
	d.sess.reset()
	_ = d.sess.transition(evConnect)
	if err := d.connectAndCache(ctx); err != nil {
		d.sess.reset()
		return err
	}

	stop := d.stopChan
	handler := func(n Notification) {
		select {
		case d.notes <- n:
		case <-stop:
		}
	}
	if err := d.transport.Subscribe(handler); err != nil {
		d.sess.reset()
		_ = d.transport.Disconnect()
		return fmt.Errorf("failed to enable notifications: %w", err)
	}

	if err := d.dialect.afterOpen(ctx); err != nil {
		d.sess.reset()
		return err
	}
	return d.sess.transition(evReady)
}

// connectAndCache connects and resolves the card service. Network faults
// clear the cache and start over; a missing service falls back to the
// next candidate UUID.
func (d *Device) connectAndCache(ctx context.Context) error {
	cfg := d.retry()
	var lastErr error

	rc := itransport.Attempts(cfg.ConnectAttempts, cfg.ConnectRetryDelay, "connect and cache")
	rc.OnRetry = func(attempt int) error {
		d.logger.Warn("error caching GATT service, clearing cache and trying again",
			"attempt", attempt, "error", lastErr)
		d.transport.ClearCache()
		d.reconnects.Inc()
		return nil
	}
	rc.OnRetryFailed = func() error {
		return ErrGetServiceFailed.withCause(lastErr)
	}

	_, err := itransport.WithRetry(ctx, rc, func() (struct{}, bool, error) {
		err := d.connectOnce(ctx)
		switch {
		case err == nil:
			return struct{}{}, false, nil
		case errors.Is(err, ErrTransportNetwork), errors.Is(err, ErrTransportBusy):
			lastErr = err
			return struct{}{}, true, nil
		default:
			return struct{}{}, false, err
		}
	})
	return err
}

func (d *Device) connectOnce(ctx context.Context) error {
	if err := d.transport.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	var err error
	for _, service := range d.profile.ServiceCandidates() {
		err = d.transport.OpenService(ctx, d.profile.Layout(service))
		if err == nil {
			d.logger.Debug("card service cached", "service", service)
			return nil
		}
		if !errors.Is(err, ErrTransportNotFound) {
			return err
		}
		d.logger.Debug("service not valid for this device, trying next", "service", service)
	}
	if err == nil {
		return ErrDeviceNotFound
	}
	return err
}

// Close stops card operations, disables notifications and disconnects.
// Closing a closed device succeeds.
func (d *Device) Close(ctx context.Context) (Report, error) {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if !d.running.Load() || !d.transport.IsConnected() {
		d.stop()
		d.sess.reset()
		d.dialect.reset()
		return success(msgClosed), nil
	}

	_, err := submit(ctx, d, "close", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, d.dialect.beforeClose(ctx)
	})
	if err == nil {
		err = d.transport.Unsubscribe()
	}
	d.transport.ClearCache()
	d.sess.reset()
	d.dialect.reset()
	discErr := d.transport.Disconnect()
	d.stop()

	if err != nil {
		return nil, err
	}
	if discErr != nil {
		return nil, fmt.Errorf("failed to disconnect: %w", discErr)
	}
	d.logger.Info("device closed")
	return success(msgClosed), nil
}

// start launches the command worker and the notification loop.
func (d *Device) start() {
	base, cancel := context.WithCancel(context.Background())
	d.cancelRun = cancel
	d.stopChan = make(chan struct{})
	d.queue.open()
	d.running.Store(true)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		d.queue.run(base)
	}()
	go d.notificationLoop(d.stopChan)
}

// stop ends both goroutines and fails the requests still queued.
func (d *Device) stop() {
	if !d.running.Swap(false) {
		return
	}
	fail(d.queue.close(), ErrDeviceNotOpen)
	d.cancelRun()
	close(d.stopChan)
	d.wg.Wait()
}

func (d *Device) notificationLoop(stop <-chan struct{}) {
	defer d.wg.Done()
	for {
		select {
		case <-stop:
			return
		case n := <-d.notes:
			d.notifications.Inc()
			if n.Disconnected {
				d.handleDisconnect()
				continue
			}
			d.dialect.onNotification(n)
		}
	}
}

func (d *Device) handleDisconnect() {
	d.logger.Info("disconnect event")
	d.transport.ClearCache()
	d.sess.reset()
	d.dialect.reset()
	d.publish(&DisconnectEvent{Reason: ErrTransportClosed, eventTime: now()})
}

// requireLink fails when the link is down.
func (d *Device) requireLink() error {
	if !d.transport.IsConnected() {
		return ErrDeviceNotOpen
	}
	return nil
}

// waitForResponse polls the response flag up to tries times.
func (d *Device) waitForResponse(ctx context.Context, tries int) (bool, error) {
	for range tries {
		if d.sess.respAvailable.Load() {
			return true, nil
		}
		if err := sleepContext(ctx, d.retry().PollInterval); err != nil {
			return false, err
		}
	}
	return d.sess.respAvailable.Load(), nil
}

// exchange writes a command, waits for the terminal to flag its response
// and reads it. An unanswered command is written once more before the
// exchange fails with ErrResponseNotReceived.
func (d *Device) exchange(ctx context.Context, name string, write func(ctx context.Context) error) ([]byte, error) {
	send := func() error {
		d.sess.respAvailable.Store(false)
		d.sess.commandSent.Store(true)
		d.commandsSent.Inc()
		if err := write(ctx); err != nil {
			d.sess.commandSent.Store(false)
			return err
		}
		return nil
	}

	if err := send(); err != nil {
		return nil, err
	}
	ok, err := d.waitForResponse(ctx, d.profile.ResponseTries)
	if err != nil {
		d.sess.commandSent.Store(false)
		return nil, err
	}
	if !ok {
		d.resends.Inc()
		d.logger.Debug("no response, sending command again", "command", name)
		if err := send(); err != nil {
			return nil, err
		}
		ok, err = d.waitForResponse(ctx, d.retry().ResendTries)
		if err != nil {
			d.sess.commandSent.Store(false)
			return nil, err
		}
		if !ok {
			d.timeouts.Inc()
			d.sess.commandSent.Store(false)
			return nil, ErrResponseNotReceived
		}
	}

	d.sess.respAvailable.Store(false)
	resp, err := d.transport.ReadResponse(ctx)
	if err != nil {
		return nil, err
	}
	debugf("[READ %s] % X", name, resp)
	return resp, nil
}

func (d *Device) publish(ev Event) {
	select {
	case d.events <- ev:
	default:
		d.dropped.Inc()
		d.logger.Warn("event dropped, consumer too slow", "event", fmt.Sprintf("%T", ev))
	}
}

func (d *Device) publishStatus(r Report) {
	d.publish(&StatusEvent{Report: r, eventTime: now()})
}

func (d *Device) publishError(err error) {
	d.logger.Debug("error event", "error", err)
	d.publish(&ErrorEvent{Err: err, eventTime: now()})
}

func (d *Device) deliver(result TransactionResult) {
	d.publish(&TransactionEvent{Result: result, eventTime: now()})
}

func success(msg string) *ResultCodeReport {
	return &ResultCodeReport{Message: msg}
}

// RequestSwipe asks the terminal to read a magnetic stripe. The card data
// is delivered as a TransactionEvent.
func (d *Device) RequestSwipe(ctx context.Context, opts SwipeOptions) (Report, error) {
	return submit(ctx, d, "requestSwipe", func(ctx context.Context) (Report, error) {
		return d.dialect.requestSwipe(ctx, opts)
	})
}

// StartTransaction starts an EMV transaction. Progress is published as
// StatusEvents, the ARQC and batch data as TransactionEvents.
func (d *Device) StartTransaction(ctx context.Context, opts *EMVOptions) (Report, error) {
	return submit(ctx, d, "startTransaction", func(ctx context.Context) (Report, error) {
		return d.dialect.startTransaction(ctx, opts)
	})
}

// SendARPC hands the online authorization response to the terminal.
func (d *Device) SendARPC(ctx context.Context, data []byte) (Report, error) {
	return submit(ctx, d, "sendArpc", func(ctx context.Context) (Report, error) {
		return d.dialect.sendARPC(ctx, data)
	})
}

// CancelTransaction cancels the running card operation.
func (d *Device) CancelTransaction(ctx context.Context) (Report, error) {
	if !d.transport.HasCharacteristic(RoleCommand) {
		return nil, ErrCommandNotSent
	}
	return submit(ctx, d, "cancelTransaction", func(ctx context.Context) (Report, error) {
		return d.dialect.cancel(ctx)
	})
}

// ClearSession clears the session resources selected by bitmap, zero
// meaning all of them.
func (d *Device) ClearSession(ctx context.Context, bitmap byte) (Report, error) {
	if d.profile.Dialect == DialectPinPad && !d.transport.HasCharacteristic(RoleLength) {
		return success(msgNoSession), nil
	}
	return submit(ctx, d, "clearSession", func(ctx context.Context) (Report, error) {
		return d.dialect.clearSession(ctx, bitmap)
	})
}

// SendCommand writes a raw command and returns the decoded response.
func (d *Device) SendCommand(ctx context.Context, cmd []byte) (Report, error) {
	if len(cmd) == 0 {
		return nil, missingField("command")
	}
	return submit(ctx, d, "sendCommand", func(ctx context.Context) (Report, error) {
		return d.dialect.sendCommand(ctx, cmd)
	})
}

// DeviceInfo returns the serial number and identity of the terminal.
func (d *Device) DeviceInfo(ctx context.Context) (*DeviceInfo, error) {
	return submit(ctx, d, "deviceInfo", func(ctx context.Context) (*DeviceInfo, error) {
		return d.dialect.deviceInfo(ctx)
	})
}

// RequestPinEntry asks the cardholder for a PIN. The PIN block is delivered
// as a TransactionEvent.
func (d *Device) RequestPinEntry(ctx context.Context, opts PinOptions) (Report, error) {
	p, ok := d.dialect.(*pinPadDialect)
	if !ok {
		return nil, ErrNotSupported
	}
	return submit(ctx, d, "requestPinEntry", func(ctx context.Context) (Report, error) {
		return p.requestPinEntry(ctx, opts)
	})
}

// SetDisplayMessage shows a canned message on the terminal.
func (d *Device) SetDisplayMessage(ctx context.Context, opts DisplayOptions) (Report, error) {
	p, ok := d.dialect.(*pinPadDialect)
	if !ok {
		return nil, ErrNotSupported
	}
	return submit(ctx, d, "setDisplayMessage", func(ctx context.Context) (Report, error) {
		return p.setDisplayMessage(ctx, opts)
	})
}

// RequestTipOrCashback prompts the cardholder for a tip or cash back.
func (d *Device) RequestTipOrCashback(ctx context.Context, opts TipCashbackOptions) (Report, error) {
	p, ok := d.dialect.(*pinPadDialect)
	if !ok {
		return nil, ErrNotSupported
	}
	return submit(ctx, d, "requestTipOrCashback", func(ctx context.Context) (Report, error) {
		return p.requestTipOrCashback(ctx, opts)
	})
}

// RequestKSN reads the current key serial number.
func (d *Device) RequestKSN(ctx context.Context) (*KSNReport, error) {
	p, ok := d.dialect.(*pinPadDialect)
	if !ok {
		return nil, ErrNotSupported
	}
	return submit(ctx, d, "requestKsn", p.requestKSN)
}

// SetDeviceDateTime sets the terminal clock. A zero time uses the current
// local time.
func (d *Device) SetDeviceDateTime(ctx context.Context, t time.Time) (Report, error) {
	s, ok := d.dialect.(*scraDialect)
	if !ok {
		return nil, ErrNotSupported
	}
	return submit(ctx, d, "setDeviceDateTime", func(ctx context.Context) (Report, error) {
		return s.setDateTime(ctx, t)
	})
}

// SendUserSelection answers a SelectionEvent with the chosen item index.
func (d *Device) SendUserSelection(ctx context.Context, selection byte) (Report, error) {
	s, ok := d.dialect.(*scraDialect)
	if !ok {
		return nil, ErrNotSupported
	}
	return submit(ctx, d, "sendUserSelection", func(ctx context.Context) (Report, error) {
		return s.sendUserSelection(ctx, selection)
	})
}

// BatteryLevel reads the battery level of a SCRA reader.
func (d *Device) BatteryLevel(ctx context.Context) (*BatteryLevelReport, error) {
	s, ok := d.dialect.(*scraDialect)
	if !ok {
		return nil, ErrNotSupported
	}
	return submit(ctx, d, "batteryLevel", s.batteryLevel)
}
