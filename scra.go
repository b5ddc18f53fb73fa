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
	"sync"
	"time"
)

// scraDialect drives eDynamo and tDynamo readers. Commands and their
// responses share one characteristic; a data-ready notification tells the
// host the response can be read. Card data arrives as numbered blocks on
// the notify characteristic.
type scraDialect struct {
	d   *Device
	enc *ScraEncoder
	dec *ScraDecoder

	decMu sync.Mutex
}

func newScraDialect(d *Device) *scraDialect {
	return &scraDialect{
		d:   d,
		enc: NewScraEncoder(d.profile),
		dec: NewScraDecoder(),
	}
}

func (*scraDialect) afterOpen(context.Context) error {
	return nil
}

func (s *scraDialect) exchange(ctx context.Context, name string, cmd []byte) ([]byte, error) {
	if !s.d.transport.HasCharacteristic(RoleCommand) {
		return nil, ErrCommandNotSent
	}
	return s.d.exchange(ctx, name, func(ctx context.Context) error {
		debugf("[WRITE command] % X", cmd)
		return s.d.transport.WriteCommand(ctx, cmd)
	})
}

func (s *scraDialect) onNotification(n Notification) {
	switch n.Role {
	case RoleDataReady:
		sess := s.d.sess
		if sess.commandSent.Load() {
			sess.respAvailable.Store(true)
			sess.commandSent.Store(false)
		}
	case RoleNotify:
		s.decMu.Lock()
		r, err := s.dec.Feed(n.Data)
		s.decMu.Unlock()
		if err != nil {
			s.d.publishError(err)
			return
		}
		if r != nil {
			s.route(r)
		}
	}
}

func (s *scraDialect) route(r Report) {
	sess := s.d.sess
	switch r := r.(type) {
	case *ScraSwipeReport:
		tc := sess.current()
		sess.finish()
		tc.Swipe = r.Swipe
		tc.Kind = TransactionSwipe
		s.d.deliver(tc.result(true))
		_ = sess.transition(evReset)
	case *TransactionStatusReport:
		s.d.publishStatus(r)
	case *DisplayRequestReport:
		s.d.publish(&DisplayEvent{Message: r.Message, eventTime: now()})
	case *UserSelectionRequestReport:
		s.d.publish(&SelectionEvent{Request: r, eventTime: now()})
	case *EMVDataReport:
		emv := r.EMV
		if emv.ARQC {
			var result TransactionResult
			sess.withTx(func(tc *TransactionContext) {
				tc.ARQC = &emv
				result = tc.result(false)
			})
			s.d.deliver(result)
			return
		}
		tc := sess.current()
		sess.finish()
		tc.Batch = &emv
		s.d.deliver(tc.result(true))
		_ = sess.transition(evReset)
	case *RawReport:
		s.d.logger.Debug("undocumented notification", "name", r.Name)
	}
}

// requestSwipe reconnects a dropped link. tDynamo readers must be told to
// keep the head powered.
func (s *scraDialect) requestSwipe(ctx context.Context, _ SwipeOptions) (Report, error) {
	if !s.d.transport.IsConnected() {
		if err := s.d.link(ctx); err != nil {
			return nil, err
		}
	}
	if s.d.profile.HeadAlwaysOn {
		resp, err := s.exchange(ctx, "setHeadAlwaysOn", s.enc.HeadAlwaysOn())
		if err != nil {
			return nil, err
		}
		if at(resp, 0) != 0x00 {
			return nil, ErrCommandNotAccepted
		}
	}

	sess := s.d.sess
	sess.begin(TransactionSwipe, sess.quickChip.Load())
	_ = sess.transition(evSwipe)
	return success(msgListening), nil
}

// startTransaction syncs the clock and tries once more when the reader
// rejects the transaction for an invalid date.
func (s *scraDialect) startTransaction(ctx context.Context, opts *EMVOptions) (Report, error) {
	if err := s.d.requireLink(); err != nil {
		return nil, err
	}
	cmd, err := s.enc.EMV(opts)
	if err != nil {
		return nil, err
	}

	sess := s.d.sess
	sess.begin(TransactionEMV, opts.IsQuickChip())
	_ = sess.transition(evTransaction)

	for synced := false; ; synced = true {
		resp, err := s.exchange(ctx, "startTransaction", cmd)
		if err != nil {
			return nil, err
		}
		r := s.dec.ParseStartTransaction(resp)
		if r.OK() {
			sess.txStarted.Store(true)
			return r, nil
		}
		if r.Code != scraInvalidDateTime || synced {
			sess.reset()
			return r, nil
		}

		s.d.logger.Debug("reader clock invalid, setting date and time")
		if _, err := s.setDateTime(ctx, time.Time{}); err != nil {
			return nil, err
		}
		if err := sleepContext(ctx, s.d.retry().DateTimeRetryDelay); err != nil {
			return nil, err
		}
	}
}

func (s *scraDialect) sendARPC(ctx context.Context, data []byte) (Report, error) {
	if err := s.d.requireLink(); err != nil {
		return nil, err
	}
	cmd, err := s.enc.ARPC(data)
	if err != nil {
		return nil, err
	}
	resp, err := s.exchange(ctx, "sendArpc", cmd)
	if err != nil {
		return nil, err
	}
	return s.dec.ParseResultCode("sendArpc", resp), nil
}

func (s *scraDialect) cancel(ctx context.Context) (Report, error) {
	resp, err := s.exchange(ctx, "cancelTransaction", s.enc.Cancel())
	if err != nil {
		return nil, err
	}
	r := s.dec.ParseResultCode("cancelTransaction", resp)
	if r.OK() {
		s.d.sess.reset()
	}
	return r, nil
}

func (s *scraDialect) clearSession(context.Context, byte) (Report, error) {
	if err := s.d.requireLink(); err != nil {
		return nil, err
	}
	return success(msgScraNoSession), nil
}

func (s *scraDialect) sendCommand(ctx context.Context, cmd []byte) (Report, error) {
	if err := s.d.requireLink(); err != nil {
		return nil, err
	}
	resp, err := s.exchange(ctx, "command", cmd)
	if err != nil {
		return nil, err
	}
	return &RawReport{Name: "response", ID: at(resp, 0), frameData: resp}, nil
}

func (s *scraDialect) deviceInfo(ctx context.Context) (*DeviceInfo, error) {
	battery, err := s.batteryLevel(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.exchange(ctx, "serialNumber", s.enc.SerialNumber())
	if err != nil {
		return nil, err
	}
	sn, err := s.dec.ParseSerialNumber(resp)
	if err != nil {
		return nil, err
	}
	return &DeviceInfo{
		BatteryLevel: Byte(battery.Level),
		SerialNumber: sn.SerialNumber,
		DeviceName:   s.d.config.Name,
		DeviceType:   s.d.profile.Model,
		IsConnected:  s.d.transport.IsConnected(),
	}, nil
}

func (s *scraDialect) batteryLevel(ctx context.Context) (*BatteryLevelReport, error) {
	if err := s.d.requireLink(); err != nil {
		return nil, err
	}
	resp, err := s.exchange(ctx, "batteryLevel", s.enc.BatteryLevel())
	if err != nil {
		return nil, err
	}
	return s.dec.ParseBatteryLevel(resp)
}

// setDateTime sets the reader clock, to now when t is zero.
func (s *scraDialect) setDateTime(ctx context.Context, t time.Time) (Report, error) {
	if err := s.d.requireLink(); err != nil {
		return nil, err
	}
	if t.IsZero() {
		t = time.Now()
	}
	cmd, err := s.enc.DateTime(t)
	if err != nil {
		return nil, err
	}
	resp, err := s.exchange(ctx, "setDeviceDateTime", cmd)
	if err != nil {
		return nil, err
	}
	return s.dec.ParseResultCode("setDeviceDateTime", resp), nil
}

func (s *scraDialect) sendUserSelection(ctx context.Context, selection byte) (Report, error) {
	if err := s.d.requireLink(); err != nil {
		return nil, err
	}
	resp, err := s.exchange(ctx, "sendUserSelection", s.enc.UserSelection(selection))
	if err != nil {
		return nil, err
	}
	return s.dec.ParseResultCode("sendUserSelection", resp), nil
}

func (*scraDialect) beforeClose(context.Context) error {
	return nil
}

func (s *scraDialect) reset() {
	s.decMu.Lock()
	s.dec.Reset()
	s.decMu.Unlock()
}
