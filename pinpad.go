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

	"github.com/ZaparooProject/go-magble/internal/codec"
	"github.com/ZaparooProject/go-magble/internal/frame"
	"github.com/ZaparooProject/go-magble/tlv"
	"go.uber.org/atomic"
)

const (
	arpcSettleDelay   = 200 * time.Millisecond
	signatureTag      = "DFDF40"
	signatureRequired = "01"
)

// pinPadDialect drives DynaPro terminals. Commands are preceded by a write
// of their length; the terminal answers by notifying a length of 3 and the
// host reads the response characteristic. Any other notification announces
// an unsolicited report.
type pinPadDialect struct {
	d      *Device
	enc    *PinPadEncoder
	dec    *PinPadDecoder
	blocks *frame.Reassembler
	serial *atomic.String

	blocksMu sync.Mutex
}

func newPinPadDialect(d *Device) *pinPadDialect {
	return &pinPadDialect{
		d:      d,
		enc:    NewPinPadEncoder(d.profile),
		dec:    NewPinPadDecoder(),
		blocks: frame.NewReassembler(false),
		serial: atomic.NewString(""),
	}
}

func (p *pinPadDialect) afterOpen(ctx context.Context) error {
	return sleepContext(ctx, p.d.retry().ServiceSettleDelay)
}

func (p *pinPadDialect) write(ctx context.Context, cmd []byte) error {
	if !p.d.transport.HasCharacteristic(RoleLength) {
		return ErrCommandNotSentFromHost
	}
	debugf("[WRITE length] %d", len(cmd))
	if err := p.d.transport.WriteLength(ctx, len(cmd)); err != nil {
		return ErrCommandNotSentFromHost.withCause(err)
	}
	debugf("[WRITE command] % X", cmd)
	if err := p.d.transport.WriteCommand(ctx, cmd); err != nil {
		return ErrCommandNotSentFromHost.withCause(err)
	}
	return nil
}

// send writes a command whose answer, if any, arrives as a report.
func (p *pinPadDialect) send(ctx context.Context, cmd []byte) error {
	p.d.commandsSent.Inc()
	return p.write(ctx, cmd)
}

// sendWithResponse runs an exchange and routes the decoded response like
// any other report before returning it.
func (p *pinPadDialect) sendWithResponse(ctx context.Context, name string, cmd []byte) (Report, error) {
	resp, err := p.d.exchange(ctx, name, func(ctx context.Context) error {
		return p.write(ctx, cmd)
	})
	if err != nil {
		return nil, err
	}
	r, err := p.dec.Decode(resp)
	if err != nil {
		return nil, err
	}
	p.route(r, true)
	return r, nil
}

func (p *pinPadDialect) onNotification(n Notification) {
	if n.Role != RoleNotify || len(n.Data) == 0 {
		return
	}
	s := p.d.sess
	if s.commandSent.Load() && n.Data[0] == frame.ResponseReady {
		s.respAvailable.Store(true)
		s.commandSent.Store(false)
		return
	}

	resp, err := p.d.transport.ReadResponse(context.Background())
	if err != nil {
		p.d.publishError(err)
		return
	}
	debugf("[READ report] % X", resp)
	r, err := p.dec.Decode(resp)
	if err != nil {
		p.d.publishError(err)
		return
	}
	p.route(r, false)
}

// route applies a report to the session. Solicited reports are returned to
// the caller of the command as well.
func (p *pinPadDialect) route(r Report, solicited bool) {
	switch r := r.(type) {
	case *AckReport:
		if r.Delayed || !solicited {
			p.d.publishStatus(r)
		}
	case *DeviceStateReport:
		p.handleDeviceState(r)
	case *CardStatusReport:
		p.handleCardStatus(r)
	case *CardDataReport:
		p.handleCardData(r)
	case *BigBlockReport:
		p.handleBigBlock(r)
	case *SerialNumberReport:
		p.serial.Store(r.SerialNumber)
	case *PinResponseReport:
		tc := p.d.sess.current()
		p.d.sess.finish()
		result := tc.result(true)
		result.PIN = &r.PIN
		result.Report = r
		p.d.deliver(result)
		_ = p.d.sess.transition(evReset)
	case *CardholderStatusReport, *EMVCompletionReport, *DisplayDoneReport:
		p.d.publishStatus(r)
	case *SelectionReport, *TipCashbackReport, *DeviceConfigReport:
		if !solicited {
			p.d.publishStatus(r)
		}
	case *RawReport:
		p.d.logger.Debug("no parser for report, returning to caller", "id", r.ID)
		p.d.deliver(TransactionResult{Report: r, ID: p.d.sess.current().ID})
	}
}

// handleCardStatus asks for the card data once a card was read.
func (p *pinPadDialect) handleCardStatus(r *CardStatusReport) {
	p.d.publishStatus(r)

	var cmd []byte
	switch {
	case p.d.sess.swipeBegun.Load():
		cmd = p.enc.FollowUpSwipe()
	case p.d.sess.txStarted.Load():
		cmd = p.enc.FollowUpEMV()
	default:
		return
	}
	p.d.enqueue("cardStatusFollowUp", func(ctx context.Context) error {
		ack, err := p.sendWithResponse(ctx, "cardStatusFollowUp", cmd)
		if err != nil {
			return err
		}
		p.d.publishStatus(ack)
		return nil
	})
}

// handleDeviceState delivers the swipe once its card data was gathered.
func (p *pinPadDialect) handleDeviceState(r *DeviceStateReport) {
	s := p.d.sess
	if s.dataGathered.CompareAndSwap(true, false) {
		tc := s.current()
		s.finish()
		if tc.Kind == TransactionNone {
			tc.Kind = TransactionSwipe
		}
		p.d.deliver(tc.result(true))
		_ = s.transition(evReset)
	}
	p.d.publishStatus(r)
}

func (p *pinPadDialect) handleCardData(r *CardDataReport) {
	s := p.d.sess
	if s.swipeBegun.CompareAndSwap(true, false) {
		s.dataGathered.Store(true)
	}
	s.withTx(func(tc *TransactionContext) {
		applyCardData(&tc.Swipe, r)
	})
}

func applyCardData(sw *SwipeData, r *CardDataReport) {
	track := Track{Data: r.Value, Status: r.Status, StatusCode: r.StatusCode}
	switch r.ID {
	case cardDataTrack1:
		sw.Track1 = track
	case cardDataTrack2:
		sw.Track2 = track
		if r.PAN != nil {
			sw.PAN = *r.PAN
		}
	case cardDataTrack3:
		sw.Track3 = track
	case cardDataEncryptedTrack1:
		sw.EncryptedTrack1 = r.Value
	case cardDataEncryptedTrack2:
		sw.EncryptedTrack2 = r.Value
	case cardDataEncryptedTrack3:
		sw.EncryptedTrack3 = r.Value
	case cardDataMagnePrint:
		sw.MagnePrint = r.Value
	case cardDataEncryptedPANExp:
		sw.EncryptedPANAndExp = r.Value
	case cardDataSerialNumber:
		sw.SerialNumber = codec.HexToASCII(r.Value)
	case cardDataKSNAndMagnePrint:
		sw.KSN = r.Value
		sw.MagnePrintStatus = r.magnePrintStatus()
	case cardDataCBCMAC:
		sw.CBCMAC = r.Value
	default:
		if sw.Extra == nil {
			sw.Extra = make(map[string]string)
		}
		sw.Extra[r.Name] = r.Value
	}
}

func (p *pinPadDialect) handleBigBlock(r *BigBlockReport) {
	p.blocksMu.Lock()
	defer p.blocksMu.Unlock()

	switch {
	case r.Begin():
		category := frame.CategoryOther
		switch r.BufferType {
		case bufferARQC:
			category = frame.CategoryARQC
		case bufferBatch:
			category = frame.CategoryBatch
		default:
			if !debugBuffers[r.BufferType] {
				name, ok := bufferTypeNames[r.BufferType]
				if !ok {
					name = undocumentedBuffer
				}
				p.d.publish(&StatusEvent{Report: r, BufferType: name, eventTime: now()})
			}
		}
		p.blocks.Begin(r.BufferType, category, r.DeclaredLength)
	case r.End():
		payload, err := p.blocks.Finish()
		if err != nil {
			p.d.publishError(&ProtocolError{
				Op:    "big block",
				Err:   ErrLengthMismatch.withCause(err),
				Frame: r.Raw(),
			})
			return
		}
		switch payload.Category {
		case frame.CategoryARQC:
			p.finishARQC(payload.Data)
		case frame.CategoryBatch:
			p.finishBatch(payload.Data)
		}
	default:
		p.blocks.Add(int(r.SubType), r.Payload)
	}
}

func (p *pinPadDialect) finishARQC(data []byte) {
	emv := newEMVData(codec.BytesToHex(data), tail(data, 2), tlv.Options{})
	emv.ARQC = true
	debugf("[ARQC] %s", emv.Data)

	var (
		result    TransactionResult
		quickChip bool
	)
	p.d.sess.withTx(func(tc *TransactionContext) {
		tc.ARQC = emv
		quickChip = tc.QuickChip
		result = tc.result(false)
	})
	if !quickChip {
		p.d.deliver(result)
	}
}

func (p *pinPadDialect) finishBatch(data []byte) {
	s := p.d.sess
	s.txStarted.Store(false)

	emv := newEMVData(codec.BytesToHex(data), tail(data, 2), tlv.Options{})
	if e, ok := tlv.Find(emv.Parsed, signatureTag); ok {
		emv.SignatureRequired = Bool(e.Value == signatureRequired)
	}
	debugf("[BATCH] %s", emv.Data)

	tc := s.current()
	s.finish()
	tc.Batch = emv
	p.d.deliver(tc.result(true))
	_ = s.transition(evReset)
}

func (p *pinPadDialect) requestSwipe(ctx context.Context, opts SwipeOptions) (Report, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	cmd, err := p.enc.Swipe(opts)
	if err != nil {
		return nil, err
	}
	if _, err := p.clearSession(ctx, 0); err != nil {
		return nil, err
	}

	p.d.logger.Debug("MSR transaction has begun")
	s := p.d.sess
	s.begin(TransactionSwipe, s.quickChip.Load())
	s.swipeBegun.Store(true)
	_ = s.transition(evSwipe)
	return p.sendWithResponse(ctx, "swipe", cmd)
}

func (p *pinPadDialect) startTransaction(ctx context.Context, opts *EMVOptions) (Report, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	cmd, err := p.enc.EMV(opts)
	if err != nil {
		return nil, err
	}

	p.d.logger.Debug("EMV transaction has begun")
	s := p.d.sess
	s.txStarted.Store(true)
	s.begin(TransactionEMV, opts.IsQuickChip())
	_ = s.transition(evTransaction)

	ack, err := p.sendWithResponse(ctx, "clearSession", p.enc.ClearSession(0))
	if err != nil {
		return nil, err
	}
	p.d.publishStatus(ack)
	return p.sendWithResponse(ctx, "emvTransaction", cmd)
}

func (p *pinPadDialect) requestPinEntry(ctx context.Context, opts PinOptions) (Report, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	cmd, err := p.enc.PinEntry(opts)
	if err != nil {
		return nil, err
	}
	p.d.logger.Debug("request for PIN entry")
	s := p.d.sess
	s.begin(TransactionPIN, s.quickChip.Load())
	_ = s.transition(evPinEntry)
	return p.sendWithResponse(ctx, "requestPinEntry", cmd)
}

func (p *pinPadDialect) setDisplayMessage(ctx context.Context, opts DisplayOptions) (Report, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	cmd, err := p.enc.Display(opts)
	if err != nil {
		return nil, err
	}
	return p.sendWithResponse(ctx, "displayMessage", cmd)
}

func (p *pinPadDialect) requestTipOrCashback(ctx context.Context, opts TipCashbackOptions) (Report, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	cmd, err := p.enc.TipCashback(opts)
	if err != nil {
		return nil, err
	}
	return p.sendWithResponse(ctx, "tipOrCashback", cmd)
}

func (p *pinPadDialect) requestKSN(ctx context.Context) (*KSNReport, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	resp, err := p.d.exchange(ctx, "getKsn", func(ctx context.Context) error {
		return p.write(ctx, p.enc.GetKSN())
	})
	if err != nil {
		return nil, err
	}
	return p.dec.DecodeKSN(resp)
}

// sendARPC streams the ARPC as a big block, then triggers its processing.
func (p *pinPadDialect) sendARPC(ctx context.Context, data []byte) (Report, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	frames, err := p.enc.BigBlock(bufferARQC, data)
	if err != nil {
		return nil, err
	}
	for i, f := range frames {
		if i > 0 {
			if err := sleepContext(ctx, p.d.retry().BigBlockDelay); err != nil {
				return nil, err
			}
		}
		if err := p.send(ctx, f); err != nil {
			return nil, err
		}
	}
	if err := sleepContext(ctx, arpcSettleDelay); err != nil {
		return nil, err
	}
	return p.sendWithResponse(ctx, "sendArpc", p.enc.ARPCTrigger())
}

func (p *pinPadDialect) cancel(ctx context.Context) (Report, error) {
	if !p.d.transport.HasCharacteristic(RoleCommand) {
		return nil, ErrCommandNotSent
	}
	r, err := p.sendWithResponse(ctx, "cancel", p.enc.Cancel())
	if err != nil {
		return nil, err
	}
	if ack, ok := r.(*AckReport); ok && ack.OK() {
		p.d.sess.reset()
	}
	return r, nil
}

// clearSession succeeds without a command when no service is cached.
func (p *pinPadDialect) clearSession(ctx context.Context, bitmap byte) (Report, error) {
	if !p.d.transport.HasCharacteristic(RoleLength) {
		return success(msgNoSession), nil
	}
	ack, err := p.sendWithResponse(ctx, "clearSession", p.enc.ClearSession(bitmap))
	if err != nil {
		return nil, err
	}
	p.d.publishStatus(ack)
	p.d.sess.clearInternal()
	return ack, nil
}

func (p *pinPadDialect) sendCommand(ctx context.Context, cmd []byte) (Report, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	return p.sendWithResponse(ctx, "command", cmd)
}

// deviceInfo asks for the serial number once; it is cached afterwards.
func (p *pinPadDialect) deviceInfo(ctx context.Context) (*DeviceInfo, error) {
	if err := p.d.requireLink(); err != nil {
		return nil, err
	}
	if p.serial.Load() == "" {
		if err := p.checkIdle(ctx); err != nil {
			return nil, err
		}
		if err := p.send(ctx, p.enc.GetSerialNumber()); err != nil {
			return nil, err
		}
		if !p.waitForSerial(ctx) {
			return nil, ErrResponseNotReceived
		}
	}
	return &DeviceInfo{
		SerialNumber: p.serial.Load(),
		DeviceName:   p.d.config.Name,
		DeviceType:   p.d.profile.Model,
		IsConnected:  p.d.transport.IsConnected(),
	}, nil
}

// checkIdle prepares the serial number report. A terminal busy with a
// session is cleared and asked once more.
func (p *pinPadDialect) checkIdle(ctx context.Context) error {
	r, err := p.sendWithResponse(ctx, "requestDeviceInfo", p.enc.RequestDeviceInfo())
	if err != nil {
		return err
	}
	if ack, ok := r.(*AckReport); ok && ack.Code == ackDeviceNotIdle {
		p.d.logger.Debug(msgDeviceNotIdle + ", clearing session")
		if _, err := p.clearSession(ctx, 0); err != nil {
			return err
		}
		if r, err = p.sendWithResponse(ctx, "requestDeviceInfo", p.enc.RequestDeviceInfo()); err != nil {
			return err
		}
	}
	p.d.publishStatus(r)
	return nil
}

func (p *pinPadDialect) waitForSerial(ctx context.Context) bool {
	for range p.d.retry().SerialNumberTries {
		if p.serial.Load() != "" {
			return true
		}
		if err := sleepContext(ctx, p.d.retry().PollInterval); err != nil {
			return false
		}
	}
	return p.serial.Load() != ""
}

func (p *pinPadDialect) beforeClose(ctx context.Context) error {
	_, err := p.clearSession(ctx, 0)
	return err
}

func (p *pinPadDialect) reset() {
	p.blocksMu.Lock()
	p.blocks.Reset()
	p.blocksMu.Unlock()
}
