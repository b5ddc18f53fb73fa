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
	"fmt"
	"strings"

	"github.com/ZaparooProject/go-magble/internal/frame"
)

// Defaults of the PinPad command fields
const (
	defaultSwipeTimeout   = 0x3C
	defaultPinTimeout     = 0x14
	defaultPinEntryWait   = 0x1E
	defaultTipTimeout     = 0x1E
	defaultDisplayTime    = 0x0F
	defaultMaxPinLength   = 12
	defaultMinPinLength   = 4
	tipCashbackPadding    = 26
	emvTrailingPadding    = 9
	taxPercentWidth       = 3
	tipButtonWidth        = 2
	arpcTriggerPadding    = 10
	bigBlockLegacyPadding = 60
	bigBlockHeaderPadding = 56
)

// PinPadEncoder builds PinPad dialect commands. It holds no mutable state:
// identical options always produce identical bytes.
type PinPadEncoder struct {
	profile *DeviceProfile
}

// NewPinPadEncoder returns an encoder for a PinPad profile.
func NewPinPadEncoder(profile *DeviceProfile) *PinPadEncoder {
	return &PinPadEncoder{profile: profile}
}

// Swipe builds the request card swipe command.
func (*PinPadEncoder) Swipe(opts SwipeOptions) ([]byte, error) {
	display, err := lookup("displayType", swipeDisplayCodes, opts.Display, swipeDisplayCodes[SwipeDisplayPleaseSwipeCard])
	if err != nil {
		return nil, err
	}
	if opts.Fallback {
		display = swipeDisplayCodes[SwipeDisplayChipErrorUseMagstripe]
	}
	tone, err := lookup("toneChoice", toneCodes, opts.Tone, toneCodes[ToneOneBeep])
	if err != nil {
		return nil, err
	}
	return []byte{
		frame.PinPadMarker, cmdSwipe,
		orDefault(opts.Timeout, defaultSwipeTimeout),
		display,
		tone,
	}, nil
}

// EMV builds the start EMV transaction command. Every amount is validated
// before the command is assembled.
func (e *PinPadEncoder) EMV(opts *EMVOptions) ([]byte, error) {
	if opts == nil {
		opts = &EMVOptions{}
	}

	tone, err := lookup("toneChoice", toneCodes, opts.Tone, toneCodes[ToneOneBeep])
	if err != nil {
		return nil, err
	}
	cardType, err := e.profile.CardTypeCode(opts.CardType)
	if err != nil {
		return nil, err
	}
	mode, err := lookup("emvOptions", emvModeCodes, opts.Mode, emvModeCodes[EMVModeNormal])
	if err != nil {
		return nil, err
	}
	trxType, err := lookup("transactionType", transactionTypeCodes, opts.TransactionType, 0x00)
	if err != nil {
		return nil, err
	}

	amounts, err := emvAmounts(opts)
	if err != nil {
		return nil, err
	}
	balBefore, err := amountField("balanceBeforeGenAC", opts.BalanceBefore, 6, zeroAmount)
	if err != nil {
		return nil, err
	}
	balAfter, err := amountField("balanceAfterGenAC", opts.BalanceAfter, 6, zeroAmount)
	if err != nil {
		return nil, err
	}
	tax, err := amountField("taxAmount", opts.TaxAmount, 6, zeroAmount)
	if err != nil {
		return nil, err
	}
	taxPercent, err := amountField("taxPercent", opts.TaxPercent, taxPercentWidth, nil)
	if err != nil {
		return nil, err
	}
	tip, err := amountField("tipAmount", opts.TipAmount, 6, zeroAmount)
	if err != nil {
		return nil, err
	}

	var quickChip byte
	if opts.IsQuickChip() {
		quickChip = 0x01
	}
	var tipFlag byte
	switch {
	case opts.TipAmount != nil:
		tipFlag = 0x01
	case opts.CashBack != nil:
		tipFlag = 0x02
	}

	cmd := make([]byte, 0, frame.OutFrameSize)
	cmd = append(cmd,
		frame.PinPadMarker, cmdEmvTransaction,
		orDefault(opts.Timeout, defaultSwipeTimeout),
		orDefault(opts.PinTimeout, defaultPinTimeout),
		0x00,
		tone,
		cardType,
		mode,
	)
	cmd = append(cmd, amounts.authorized...)
	cmd = append(cmd, trxType)
	cmd = append(cmd, amounts.cashBack...)
	cmd = append(cmd, balBefore...)
	cmd = append(cmd, balAfter...)
	cmd = append(cmd, opts.Currency.code()...)
	cmd = append(cmd, opts.CategoryCode, quickChip, tipFlag)
	cmd = append(cmd, tax...)
	cmd = append(cmd, taxPercent...)
	cmd = append(cmd, 0x00, 0x00, 0x00)
	cmd = append(cmd, tip...)
	cmd = append(cmd, make([]byte, emvTrailingPadding)...)
	return cmd, nil
}

type emvAmountFields struct {
	authorized []byte
	cashBack   []byte
}

// emvAmounts applies the default amount policy shared by both dialects: an
// absent authorized amount is the 1.00 placeholder, or zero for refund and
// cash back transactions.
func emvAmounts(opts *EMVOptions) (emvAmountFields, error) {
	def := defaultAmount
	if TransactionType(lowerString(opts.TransactionType)).zeroAmountDefault() {
		def = zeroAmount
	}
	authorized, err := amountField("authorizedAmount", opts.AuthorizedAmount, 6, def)
	if err != nil {
		return emvAmountFields{}, err
	}
	cashBack, err := amountField("cashBack", opts.CashBack, 6, zeroAmount)
	if err != nil {
		return emvAmountFields{}, err
	}
	return emvAmountFields{authorized: authorized, cashBack: cashBack}, nil
}

// PinEntry builds the request PIN entry command.
func (*PinPadEncoder) PinEntry(opts PinOptions) ([]byte, error) {
	prompt, err := lookup("displayType", pinPromptCodes, opts.Prompt, pinPromptCodes[PinPromptEnterPIN])
	if err != nil {
		return nil, err
	}
	tone, err := lookup("toneChoice", toneCodes, opts.Tone, toneCodes[ToneOneBeep])
	if err != nil {
		return nil, err
	}
	options, err := pinOptionsByte(opts)
	if err != nil {
		return nil, err
	}
	return []byte{
		frame.PinPadMarker, cmdRequestPinEntry,
		orDefault(opts.Timeout, defaultPinEntryWait),
		prompt,
		pinLengths(opts.MaxLength, opts.MinLength),
		tone,
		options,
	}, nil
}

// pinLengths packs the maximum PIN length in the high nibble and the
// minimum in the low one, both clamped to [4,12].
func pinLengths(maxLen, minLen int) byte {
	if maxLen == 0 {
		maxLen = defaultMaxPinLength
	}
	if minLen == 0 {
		minLen = defaultMinPinLength
	}
	maxLen = clamp(maxLen, defaultMinPinLength, defaultMaxPinLength)
	minLen = clamp(minLen, defaultMinPinLength, defaultMaxPinLength)
	if minLen > maxLen {
		minLen = maxLen
	}
	return byte(maxLen<<4 | minLen)
}

// pinOptionsByte packs bit 0 PIN block format, bit 1 verify PIN, bit 2 wait
// message and bits 4-5 language mode.
func pinOptionsByte(opts PinOptions) (byte, error) {
	format, err := lookup("pinBlockFormat", pinBlockCodes, opts.BlockFormat, pinBlockCodes[PinBlockISO0])
	if err != nil {
		return 0, err
	}
	language, err := lookup("languageSelection", languageModeCodes, opts.Language, languageModeCodes[LanguageDisabled])
	if err != nil {
		return 0, err
	}
	b := format & 0x01
	if opts.VerifyPIN {
		b |= 0x02
	}
	if opts.WaitMessage {
		b |= 0x04
	}
	b |= (language & 0x03) << 4
	return b, nil
}

// TipCashback builds the tip or cash back prompt command.
func (*PinPadEncoder) TipCashback(opts TipCashbackOptions) ([]byte, error) {
	kind := TipCashbackKind(lowerString(opts.Kind))
	switch kind {
	case "":
		return nil, missingField("commandType")
	case KindTip, KindCashBack:
	default:
		return nil, wrongValue("commandType", fmt.Sprintf("unknown value %q", string(opts.Kind)),
			string(KindTip), string(KindCashBack))
	}

	mode := TipSelectionMode(lowerString(opts.Mode))
	switch {
	case mode == "" && kind != KindCashBack:
		return nil, missingField("tipSelectionMode")
	case mode == "", mode == TipModePercent, mode == TipModeAmount:
	default:
		return nil, wrongValue("tipSelectionMode", fmt.Sprintf("unknown value %q", string(opts.Mode)),
			string(TipModePercent), string(TipModeAmount))
	}
	if opts.TaxRate == nil {
		return nil, missingField("taxRate")
	}

	tone, err := lookup("toneChoice", toneCodes, opts.Tone, toneCodes[ToneOneBeep])
	if err != nil {
		return nil, err
	}
	amount, err := requiredAmount("transactionAmount", opts.TransactionAmount, 6)
	if err != nil {
		return nil, err
	}
	tax, err := requiredAmount("calculatedTaxAmount", opts.CalculatedTaxAmount, 6)
	if err != nil {
		return nil, err
	}
	taxRate, err := opts.TaxRate.encodeLoose("taxRate", 6)
	if err != nil {
		return nil, err
	}

	timeout := byte(defaultTipTimeout)
	if opts.Timeout != nil {
		timeout = *opts.Timeout
	}
	var modeByte byte
	if mode == TipModeAmount {
		modeByte = 0x01
	}

	cmd := []byte{frame.PinPadMarker, cmdTipCashback, timeout, tone}
	cmd = append(cmd, amount...)
	cmd = append(cmd, tax...)
	cmd = append(cmd, taxRate...)
	cmd = append(cmd, modeByte)
	for _, button := range []struct {
		value *Amount
		name  string
	}{
		{opts.LeftButton, "leftButton"},
		{opts.MiddleButton, "middleButton"},
		{opts.RightButton, "rightButton"},
	} {
		if button.value == nil {
			cmd = append(cmd, 0x00, 0x00)
			continue
		}
		b, err := button.value.encodeLoose(button.name, tipButtonWidth)
		if err != nil {
			return nil, err
		}
		cmd = append(cmd, b...)
	}
	return append(cmd, make([]byte, tipCashbackPadding)...), nil
}

// Display builds the display message command.
func (*PinPadEncoder) Display(opts DisplayOptions) ([]byte, error) {
	if opts.Message == nil {
		return nil, missingField("messageId")
	}
	displayTime := byte(defaultDisplayTime)
	if opts.DisplayTime != nil {
		displayTime = *opts.DisplayTime
	}
	return []byte{frame.PinPadMarker, cmdDisplayMessage, displayTime, byte(*opts.Message)}, nil
}

// ClearSession builds the clear session command for a bitmap of session
// resources. Zero clears everything.
func (*PinPadEncoder) ClearSession(bitmap byte) []byte {
	return []byte{frame.PinPadMarker, cmdClearSession, bitmap}
}

// Cancel builds the cancel command.
func (*PinPadEncoder) Cancel() []byte {
	return []byte{frame.PinPadMarker, cmdCancel, 0x00}
}

// FollowUpSwipe acknowledges a card report during a swipe and asks for the
// MSR data.
func (*PinPadEncoder) FollowUpSwipe() []byte {
	return []byte{frame.PinPadMarker, cmdRequestMsrData, 0x00}
}

// FollowUpEMV acknowledges a card report during an EMV transaction.
func (*PinPadEncoder) FollowUpEMV() []byte {
	return []byte{frame.PinPadMarker, cmdRequestEmvData, 0x00}
}

// RequestDeviceInfo asks the device to prepare its serial number.
func (*PinPadEncoder) RequestDeviceInfo() []byte {
	return []byte{frame.PinPadMarker, cmdDeviceInfo, deviceInfoSerialField}
}

// GetSerialNumber is the feature request returning the serial number report.
func (*PinPadEncoder) GetSerialNumber() []byte {
	return []byte{frame.GetFeature, cmdDeviceInfo, deviceInfoSerialField}
}

// GetKSN is the feature request returning the current KSN.
func (*PinPadEncoder) GetKSN() []byte {
	return []byte{frame.GetFeature, cmdGetKsn, 0x00}
}

// ARPCTrigger tells the device that the ARPC big block is complete.
func (*PinPadEncoder) ARPCTrigger() []byte {
	cmd := []byte{frame.PinPadMarker, cmdArpc}
	return append(cmd, make([]byte, arpcTriggerPadding)...)
}

// BigBlock splits data into the frames of a host to device big block. Data
// shorter than one chunk uses the legacy two-frame layout; longer data gets
// a header frame followed by numbered 60 byte chunks. Every frame is padded
// to 65 bytes.
func (*PinPadEncoder) BigBlock(bufferType byte, data []byte) ([][]byte, error) {
	if len(data) == 0 {
		return nil, missingField("data")
	}
	n := len(data)
	if n < frame.ChunkSize {
		header := []byte{frame.PinPadMarker, cmdSendBigBlock, bufferType, frame.BlockBegin, byte(n)}
		header = append(header, make([]byte, bigBlockLegacyPadding)...)
		body := []byte{frame.PinPadMarker, cmdSendBigBlock, bufferType, 0x01, byte(n)}
		body = append(body, data...)
		return [][]byte{header, padFrame(body)}, nil
	}

	blocks := (n + frame.ChunkSize - 1) / frame.ChunkSize
	if blocks >= frame.BlockEnd {
		return nil, wrongValue("data", fmt.Sprintf("%d bytes need %d blocks", n, blocks))
	}
	header := []byte{
		frame.PinPadMarker, cmdSendBigBlock, bufferType, frame.BlockBegin,
		byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24),
		0x01,
	}
	header = append(header, make([]byte, bigBlockHeaderPadding)...)

	frames := make([][]byte, 0, blocks+1)
	frames = append(frames, header)
	for block := 1; block <= blocks; block++ {
		start := (block - 1) * frame.ChunkSize
		end := min(start+frame.ChunkSize, n)
		chunk := data[start:end]
		f := []byte{frame.PinPadMarker, cmdSendBigBlock, bufferType, byte(block), byte(len(chunk))}
		f = append(f, chunk...)
		frames = append(frames, padFrame(f))
	}
	return frames, nil
}

func padFrame(b []byte) []byte {
	if len(b) >= frame.OutFrameSize {
		return b
	}
	return append(b, make([]byte, frame.OutFrameSize-len(b))...)
}

func orDefault(v, def byte) byte {
	if v == 0 {
		return def
	}
	return v
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func lowerString[S ~string](s S) string {
	return strings.ToLower(string(s))
}
