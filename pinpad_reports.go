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

	"github.com/ZaparooProject/go-magble/internal/codec"
	"github.com/ZaparooProject/go-magble/internal/frame"
	"github.com/ZaparooProject/go-magble/tlv"
)

const (
	notFound              = "Not Found"
	undocumentedBuffer    = "Buffer type not documented"
	undocumentedKey       = unknownPrefix + "Key"
	undocumentedOpStatus  = "Unknown Operation Status"
	undocumentedTrackName = "trackNameUnknown"

	ksnReportMinLen = 20
)

// PinPadDecoder turns frames read from a PinPad response characteristic into
// reports. Its parser table is fixed at construction; big-block reassembly
// belongs to the session.
type PinPadDecoder struct {
	parsers map[byte]pinPadParser
}

// NewPinPadDecoder returns a decoder for the PinPad dialect.
func NewPinPadDecoder() *PinPadDecoder {
	d := &PinPadDecoder{}
	d.parsers = map[byte]pinPadParser{
		reportACK:              d.ack(false),
		reportDelayedACK:       d.ack(true),
		reportDeviceConfig:     d.deviceConfig,
		reportSerialNumber:     d.serialNumber,
		reportDeviceState:      d.deviceState,
		reportCardStatus:       d.cardStatus,
		reportCardData:         d.cardData,
		reportPinResponse:      d.pinResponse,
		reportSelection:        d.selection,
		reportDisplayDone:      d.displayDone,
		reportBigBlock:         d.bigBlock,
		reportCardholderStatus: d.cardholderStatus,
		reportTipCashback:      d.tipCashback,
		reportEmvCompletion:    d.emvCompletion,
	}
	return d
}

type pinPadParser func(f []byte) (Report, error)

// minimum frame length per report id, the id byte included
var pinPadMinLen = map[byte]int{
	reportACK:              3,
	reportDelayedACK:       3,
	reportDeviceConfig:     9,
	reportDeviceState:      7,
	reportCardStatus:       3,
	reportCardData:         3,
	reportPinResponse:      2,
	reportSelection:        2,
	reportDisplayDone:      2,
	reportBigBlock:         3,
	reportCardholderStatus: 2,
	reportTipCashback:      21,
	reportEmvCompletion:    2,
}

// Decode classifies f by its report id. Unknown ids decode to a RawReport.
func (d *PinPadDecoder) Decode(f []byte) (Report, error) {
	if len(f) == 0 {
		return nil, &ProtocolError{Op: "decode report", Err: ErrFrameTooShort}
	}
	f = append([]byte(nil), f...)

	id := f[0]
	if n, ok := pinPadMinLen[id]; ok && len(f) < n {
		return nil, &ProtocolError{
			Op:    "decode report",
			Err:   fmt.Errorf("%w: report 0x%02X has %d bytes, need %d", ErrFrameTooShort, id, len(f), n),
			Frame: f,
		}
	}

	if parse, ok := d.parsers[id]; ok {
		return parse(f)
	}

	name := pinCommandNames[id]
	switch id {
	case reportEndSession:
		name = "endSession"
	case reportRequestSwipe:
		name = "requestSwipe"
	}
	return &RawReport{ID: id, Name: name, frameData: f}, nil
}

// DecodeKSN parses the response to the get KSN feature request.
func (*PinPadDecoder) DecodeKSN(f []byte) (*KSNReport, error) {
	if len(f) < ksnReportMinLen {
		return nil, &ProtocolError{
			Op:    "decode ksn",
			Err:   fmt.Errorf("%w: %d bytes", ErrFrameTooShort, len(f)),
			Frame: f,
		}
	}
	return &KSNReport{
		KSN:          codec.BytesToHex(f[2:12]),
		SerialNumber: codec.BytesToHex(f[12:20]),
		frameData:    f,
	}, nil
}

func opStatus(code byte) string {
	if s, ok := operationStatus[code]; ok {
		return s
	}
	return undocumentedOpStatus
}

func bit(b byte, n uint) bool {
	return b&(1<<n) != 0
}

func (*PinPadDecoder) ack(delayed bool) pinPadParser {
	return func(f []byte) (Report, error) {
		return &AckReport{
			Code:        f[1],
			Message:     describe(ackStatus, f[1], "ACK Status"),
			CommandType: pinCommandName(f[2]),
			Delayed:     delayed,
			frameData:   f,
		}, nil
	}
}

func (*PinPadDecoder) serialNumber(f []byte) (Report, error) {
	return &SerialNumberReport{
		SerialNumber: codec.HexToASCII(codec.NullTerminated(f)),
		frameData:    f,
	}, nil
}

func (*PinPadDecoder) deviceState(f []byte) (Report, error) {
	r := &DeviceStateReport{
		StateCode: f[1],
		State:     describe(deviceStates, f[1], "Device State"),
		frameData: f,
	}

	s := f[2]
	r.Session = SessionFlags{
		PowerDidChange:      bit(s, 7),
		CardDataIsAvailable: bit(s, 3),
		PANParsedFromCard:   bit(s, 2),
		ExternalPANSent:     bit(s, 1),
		AmountWasSent:       bit(s, 0),
	}

	if st := f[3]; st != 0 {
		r.Status = &DeviceStatus{
			PinKeyStatus:        pinKeyStatus[st&0x03],
			MSRKeyStatus:        msrKeyStatus[(st>>2)&0x03],
			TamperDetected:      bit(st, 4),
			IsAuthenticated:     bit(st, 6),
			DeviceErrorDetected: bit(st, 7),
		}
	}

	c := f[4]
	r.Cert = CertStatus{
		MSRCRLCertExists:    bit(c, 7),
		PinCRLCertExists:    bit(c, 6),
		MfgUnbindCertExists: bit(c, 4),
		MSRCACertExists:     bit(c, 3),
		PinCACertExists:     bit(c, 2),
		DeviceCACertExists:  bit(c, 1),
		DeviceCertExists:    bit(c, 0),
	}

	h := f[5]
	r.Hardware = HardwareStatus{
		IE3Only:                bit(h, 7),
		SRED:                   bit(h, 6),
		MagHeadIsProgrammed:    bit(h, 1),
		TamperSensorsAreActive: bit(h, 0),
	}

	a := f[6]
	r.Additional = AdditionalInfo{
		AcquirerMasterKeyInjected: !bit(a, 0),
		SessionKeyActive:          !bit(a, 1),
		CAPKDatabaseCorrupted:     bit(a, 2),
		TerminalDatabaseCorrupted: bit(a, 3),
		CardInChipConnector:       bit(a, 4),
	}
	return r, nil
}

func (*PinPadDecoder) cardStatus(f []byte) (Report, error) {
	r := &CardStatusReport{
		OperationStatus: opStatus(f[2]),
		frameData:       f,
	}
	if len(f) < 4 {
		return r, nil
	}

	r.HasCardInfo = true
	r.CardStatus = "Ok"
	if f[2] != 0x00 {
		r.CardStatus = "Error"
	}
	r.CardType = describe(cardTypeNames, f[3], "Card Type")
	return r, nil
}

func (*PinPadDecoder) cardData(f []byte) (Report, error) {
	id, status := f[1], f[2]
	r := &CardDataReport{
		ID:         id,
		StatusCode: status,
		Name:       cardDataNames[id],
		Status:     describe(trackStatus, status, "Track Status"),
		frameData:  f,
	}
	if r.Name == "" {
		r.Name = undocumentedTrackName
	}
	if status != trackOK {
		r.Value = r.Status
		return r, nil
	}

	data := tail(f, 4)
	switch id {
	case cardDataTrack1:
		r.Value = string(data)
	case cardDataTrack2:
		r.Value = string(data)
		pan := formatExpPAN(r.Value)
		r.PAN = &pan
	case cardDataKSNAndMagnePrint:
		r.Value = codec.BytesToHex(span(f, 4, 14))
	default:
		r.Value = codec.BytesToHex(data)
	}
	return r, nil
}

// magnePrintStatus returns the trailing status bytes of a KSN and
// MagnePrint status card data report.
func (r *CardDataReport) magnePrintStatus() string {
	f := r.Raw()
	if len(f) < 4 {
		return ""
	}
	return codec.BytesToHex(f[len(f)-4:])
}

func (*PinPadDecoder) pinResponse(f []byte) (Report, error) {
	r := &PinResponseReport{
		StatusCode: f[1],
		PIN:        PinData{OperationStatus: opStatus(f[1])},
		frameData:  f,
	}
	if len(f) > 2 {
		r.PIN.KSN = codec.BytesToHex(span(f, 2, 12))
		r.PIN.EncryptedPinBlock = codec.BytesToHex(span(f, 12, 20))
	}
	return r, nil
}

func (*PinPadDecoder) selection(f []byte) (Report, error) {
	r := &SelectionReport{
		StatusCode:      f[1],
		OperationStatus: opStatus(f[1]),
		frameData:       f,
	}
	if len(f) > 2 {
		r.KeyPressed = undocumentedKey
		if k, ok := selectionKeys[f[2]]; ok {
			r.KeyPressed = k
		}
	}
	return r, nil
}

func (*PinPadDecoder) displayDone(f []byte) (Report, error) {
	return &DisplayDoneReport{
		StatusCode:      f[1],
		OperationStatus: opStatus(f[1]),
		frameData:       f,
	}, nil
}

func (*PinPadDecoder) bigBlock(f []byte) (Report, error) {
	r := &BigBlockReport{
		BufferType: f[1],
		SubType:    f[2],
		frameData:  f,
	}
	switch r.SubType {
	case frame.BlockBegin:
		if len(f) < 6 {
			return nil, &ProtocolError{
				Op:    "decode big block",
				Err:   fmt.Errorf("%w: begin frame has %d bytes", ErrFrameTooShort, len(f)),
				Frame: f,
			}
		}
		r.DeclaredLength = codec.TwoByteLength(f[5], f[4])
	case frame.BlockEnd:
	default:
		r.Payload = tail(f, frame.BlockHeader)
	}
	return r, nil
}

func (*PinPadDecoder) cardholderStatus(f []byte) (Report, error) {
	id := f[1]
	r := &CardholderStatusReport{
		StatusID:  id,
		Status:    describeCardholderStatus(id),
		frameData: f,
	}
	data := tail(f, 4)

	switch id {
	case 0x02:
		switch at(f, 4) {
		case 0x01:
			r.AmountConfirmed = Bool(true)
		case 0x02:
			r.AmountConfirmed = Bool(false)
		default:
			r.Detail = unknownPrefix + "Amount Confirmed Status"
		}
	case 0x04:
		r.Detail = string(data)
	case 0x0A:
		switch at(f, 4) {
		case 0x01:
			r.Detail = "Credit"
		case 0x02:
			r.Detail = "Debit"
		default:
			r.Detail = unknownPrefix + "payment method selected"
		}
	case 0x20:
		r.TLV = tlv.Decode(data, tlv.Options{})
	default:
		if len(f) > 4 {
			r.UndocumentedData = codec.BytesToHex(data)
		}
	}
	return r, nil
}

func (*PinPadDecoder) tipCashback(f []byte) (Report, error) {
	r := &TipCashbackReport{
		StatusCode:      f[1],
		OperationStatus: opStatus(f[1]),
		Type:            KindTip,
		frameData:       f,
	}
	if f[2] == 0x01 {
		r.Type = KindCashBack
	}

	fields := []*int64{&r.TransactionAmount, &r.TaxAmount, &r.SelectedAmount}
	for i, dst := range fields {
		start := 3 + i*codec.AmountLength
		v, err := codec.BytesToAmount(f[start : start+codec.AmountLength])
		if err != nil {
			return nil, &ProtocolError{Op: "decode tip report", Err: err, Frame: f}
		}
		*dst = v
	}
	return r, nil
}

func (*PinPadDecoder) emvCompletion(f []byte) (Report, error) {
	return &EMVCompletionReport{
		StatusCode:        f[1],
		TransactionStatus: tlv.TransactionStatus(f[1]),
		Data:              codec.BytesToHex(tail(f, 2)),
		frameData:         f,
	}, nil
}

func (*PinPadDecoder) deviceConfig(f []byte) (Report, error) {
	b1, b2, b3, b4 := f[1], f[2], f[3], f[4]
	c := DeviceConfiguration{
		RequireMutualAuth:   bit(b1, 7),
		ClearTextEnabled:    bit(b1, 4),
		BeeperModeEnabled:   bit(b1, 3),
		BitmapLocked:        bit(b1, 1),
		ConfigurationLocked: bit(b1, 0),

		ARPCMACEnabled:                bit(b2, 6),
		FinancialICCCardTypeReporting: bit(b2, 5),

		ISOMaskEnabled:    bit(b3, 0),
		CheckDigitEnabled: bit(b3, 1),
		MS2Enabled:        (b3>>2)&0x03 != 0,

		AAMVACardEnabled: bit(b4, 0),
		Track3Data:       trackOption((b4 >> 2) & 0x03),
		Track2Data:       trackOption((b4 >> 4) & 0x03),
		Track1Data:       trackOption((b4 >> 6) & 0x03),

		MaskCharacter:          maskCharacter(f[5]),
		LeadingUnmaskedLength:  int(f[6] & 0x0F),
		TrailingUnmaskedLength: int(f[6] >> 4),
		EMVL2ICSConfig:         describe(emvL2Config, f[7]>>4, "EMV L2 ICS Configuration"),
		ContactlessSupport:     describe(contactlessBrands, f[8]>>4, "Contactless Support"),
		ContactlessGUIControls: "Standard",
	}

	c.MSREncryptionVariant = "PIN"
	if bit(b1, 6) {
		c.MSREncryptionVariant = "DATA"
	}
	c.ARQCBatchDataOutputFormat = "DynaPro Format"
	if bit(b2, 4) {
		c.ARQCBatchDataOutputFormat = "Reserved Format"
	}
	if bit(f[8], 2) {
		c.ContactlessGUIControls = "Alternate"
	}
	return &DeviceConfigReport{Config: c, frameData: f}, nil
}

func trackOption(v byte) string {
	if s, ok := trackDataOptions[v]; ok {
		return s
	}
	return "Unknown"
}

func maskCharacter(c byte) string {
	if c >= 0x20 && c < 0x7F {
		return fmt.Sprintf("ASCII: '%c'", c)
	}
	return fmt.Sprintf("Non-ASCII character in hex: '%02X'", c)
}

// formatExpPAN extracts the masked PAN and expiry from a track 2 string of
// the form ";PAN=YYMMSSS...?". Input without a start sentinel yields empty
// fields, input too short to split yields "Not Found".
func formatExpPAN(track2 string) PANInfo {
	if !strings.Contains(track2, ";") {
		return PANInfo{}
	}
	missing := PANInfo{MaskedPAN: notFound, Last4: notFound, ExpirationDate: notFound, ServiceCode: notFound}
	if len(track2) <= 3 {
		return missing
	}

	s := strings.Replace(track2, ";", "", 1)
	s = strings.Replace(s, "?", "", 1)
	pan, rest, ok := strings.Cut(s, "=")
	if !ok {
		return missing
	}
	if i := strings.Index(rest, "="); i >= 0 {
		rest = rest[:i]
	}

	exp := clip(rest, 0, 4)
	return PANInfo{
		MaskedPAN:      pan,
		Last4:          pan[max(0, len(pan)-4):],
		ExpirationDate: exp[max(0, len(exp)-2):] + "/" + clip(exp, 0, 2),
		ServiceCode:    clip(rest, 4, 7),
	}
}

func clip(s string, start, end int) string {
	start = min(start, len(s))
	end = min(end, len(s))
	return s[start:end]
}

// span returns b[start:end] clipped to the bounds of b.
func span(b []byte, start, end int) []byte {
	start = min(start, len(b))
	end = max(start, min(end, len(b)))
	return b[start:end]
}

func tail(b []byte, start int) []byte {
	return span(b, start, len(b))
}

func at(b []byte, i int) byte {
	if i < len(b) {
		return b[i]
	}
	return 0
}
