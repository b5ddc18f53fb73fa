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

	"github.com/ZaparooProject/go-magble/tlv"
	"github.com/moov-io/bertlv"
)

// ReportKind identifies the concrete type of a Report.
type ReportKind int

// Report kinds
const (
	KindRaw ReportKind = iota
	KindACK
	KindDeviceConfig
	KindSerialNumber
	KindKSN
	KindDeviceState
	KindCardStatus
	KindCardData
	KindPinResponse
	KindSelection
	KindDisplayDone
	KindBigBlock
	KindCardholderStatus
	KindTipCashback
	KindEMVCompletion
	KindScraSwipe
	KindTransactionStatus
	KindDisplayRequest
	KindUserSelectionRequest
	KindEMVData
	KindResultCode
	KindBatteryLevel
)

var reportKindNames = map[ReportKind]string{
	KindRaw:                  "raw",
	KindACK:                  "ack",
	KindDeviceConfig:         "deviceConfiguration",
	KindSerialNumber:         "serialNumber",
	KindKSN:                  "ksn",
	KindDeviceState:          "deviceState",
	KindCardStatus:           "cardStatus",
	KindCardData:             "cardData",
	KindPinResponse:          "pinResponse",
	KindSelection:            "selection",
	KindDisplayDone:          "displayDone",
	KindBigBlock:             "bigBlock",
	KindCardholderStatus:     "cardholderStatus",
	KindTipCashback:          "tipCashback",
	KindEMVCompletion:        "emvCompletion",
	KindScraSwipe:            "swipe",
	KindTransactionStatus:    "transactionStatus",
	KindDisplayRequest:       "displayRequest",
	KindUserSelectionRequest: "userSelectionRequest",
	KindEMVData:              "emvData",
	KindResultCode:           "resultCode",
	KindBatteryLevel:         "batteryLevel",
}

func (k ReportKind) String() string {
	if s, ok := reportKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Report is a decoded device frame. The set of implementations is closed;
// switch on the concrete type or on Kind.
type Report interface {
	Kind() ReportKind
	// Raw returns the frame the report was decoded from
	Raw() []byte
	isReport()
}

type frameData []byte

func (f frameData) Raw() []byte { return f }

func (frameData) isReport() {}

// RawReport is a frame without a dedicated decoder. It is forwarded to the
// caller unmodified.
type RawReport struct {
	Name string
	frameData
	ID byte
}

func (*RawReport) Kind() ReportKind { return KindRaw }

// AckReport acknowledges a PinPad command.
type AckReport struct {
	Message     string
	CommandType string
	frameData
	Code    byte
	Delayed bool
}

func (*AckReport) Kind() ReportKind { return KindACK }

// OK reports whether the device accepted the command.
func (r *AckReport) OK() bool { return r.Code == ackOK }

// Err returns the rejection as an error, nil when the command was accepted.
func (r *AckReport) Err() error {
	if r.OK() {
		return nil
	}
	return &DeviceStatusError{Code: int(r.Code), Message: r.Message, CommandType: r.CommandType}
}

// DeviceConfiguration is the decoded PinPad configuration report.
type DeviceConfiguration struct {
	MSREncryptionVariant          string `json:"msrEncryptionVariant"`
	ARQCBatchDataOutputFormat     string `json:"arqcBatchDataOutputFormat"`
	Track1Data                    string `json:"track1Data"`
	Track2Data                    string `json:"track2Data"`
	Track3Data                    string `json:"track3Data"`
	MaskCharacter                 string `json:"maskCharacter"`
	EMVL2ICSConfig                string `json:"emvL2IcsConfig"`
	ContactlessSupport            string `json:"contactlessSupport"`
	ContactlessGUIControls        string `json:"contactlessGuiControls"`
	LeadingUnmaskedLength         int    `json:"leadingUnmaskedLength"`
	TrailingUnmaskedLength        int    `json:"trailingUnmaskedLength"`
	RequireMutualAuth             bool   `json:"requireMutualAuth"`
	ClearTextEnabled              bool   `json:"isClearTextEnabled"`
	BeeperModeEnabled             bool   `json:"isBeeperModeEnabled"`
	BitmapLocked                  bool   `json:"isBitmapLocked"`
	ConfigurationLocked           bool   `json:"isConfigurationLocked"`
	ARPCMACEnabled                bool   `json:"isArpcMacEnabled"`
	FinancialICCCardTypeReporting bool   `json:"isFinancialIccCardTypeReportingEnabled"`
	ISOMaskEnabled                bool   `json:"isIsoMaskEnabled"`
	CheckDigitEnabled             bool   `json:"isCheckDigitEnabled"`
	MS2Enabled                    bool   `json:"isMs2Point0Enabled"`
	AAMVACardEnabled              bool   `json:"isAAMVAcardEnabled"`
}

// DeviceConfigReport carries the device configuration.
type DeviceConfigReport struct {
	frameData
	Config DeviceConfiguration
}

func (*DeviceConfigReport) Kind() ReportKind { return KindDeviceConfig }

// SerialNumberReport carries the device serial number.
type SerialNumberReport struct {
	SerialNumber string
	frameData
}

func (*SerialNumberReport) Kind() ReportKind { return KindSerialNumber }

// KSNReport carries the current key serial number.
type KSNReport struct {
	KSN          string
	SerialNumber string
	frameData
}

func (*KSNReport) Kind() ReportKind { return KindKSN }

// SessionFlags of a device state report.
type SessionFlags struct {
	PowerDidChange      bool `json:"powerDidChange"`
	CardDataIsAvailable bool `json:"cardDataIsAvailable"`
	PANParsedFromCard   bool `json:"panParsedFromCard"`
	ExternalPANSent     bool `json:"externalPanSent"`
	AmountWasSent       bool `json:"amountWasSent"`
}

// DeviceStatus flags of a device state report. A nil *DeviceStatus means
// every flag is clear, which the device documents as "Ok".
type DeviceStatus struct {
	PinKeyStatus        string `json:"pinKeyStatus"`
	MSRKeyStatus        string `json:"msrKeyStatus"`
	TamperDetected      bool   `json:"tamperDetected"`
	IsAuthenticated     bool   `json:"isAuthenticated"`
	DeviceErrorDetected bool   `json:"deviceErrorDetected"`
}

// CertStatus flags of a device state report.
type CertStatus struct {
	MSRCRLCertExists    bool `json:"msrCrlCertExists"`
	PinCRLCertExists    bool `json:"pinCrlCertExists"`
	MfgUnbindCertExists bool `json:"mfgUnbindCertExists"`
	MSRCACertExists     bool `json:"msrCaCertExists"`
	PinCACertExists     bool `json:"pinCaCertExists"`
	DeviceCACertExists  bool `json:"deviceCaCertExists"`
	DeviceCertExists    bool `json:"deviceCertExists"`
}

// HardwareStatus flags of a device state report.
type HardwareStatus struct {
	IE3Only                bool `json:"IE3_only"`
	SRED                   bool `json:"SRED"`
	MagHeadIsProgrammed    bool `json:"MagHeadIsProgrammed"`
	TamperSensorsAreActive bool `json:"tamperSensorsAreActive"`
}

// AdditionalInfo flags of a device state report.
type AdditionalInfo struct {
	AcquirerMasterKeyInjected bool `json:"ICC_AcquirerMasterKeyIsInjected"`
	SessionKeyActive          bool `json:"ICC_SessionKeyIsActive"`
	CAPKDatabaseCorrupted     bool `json:"CAPK_EmvDatabaseIsCorrupted"`
	TerminalDatabaseCorrupted bool `json:"EmvTerminalDatabaseIsCorrupted"`
	CardInChipConnector       bool `json:"cardIsPresentInChipCardConnector"`
}

// DeviceStateReport is the PinPad device state report.
type DeviceStateReport struct {
	Status *DeviceStatus
	State  string
	frameData
	Additional AdditionalInfo
	Hardware   HardwareStatus
	Session    SessionFlags
	Cert       CertStatus
	StateCode  byte
}

func (*DeviceStateReport) Kind() ReportKind { return KindDeviceState }

// StatusText renders the device status the way the device documents it.
func (r *DeviceStateReport) StatusText() string {
	if r.Status == nil {
		return "Ok"
	}
	return fmt.Sprintf("%s, %s", r.Status.PinKeyStatus, r.Status.MSRKeyStatus)
}

// CardStatusReport says whether a card was read and of which type.
type CardStatusReport struct {
	OperationStatus string
	CardStatus      string
	CardType        string
	frameData
	HasCardInfo bool
}

func (*CardStatusReport) Kind() ReportKind { return KindCardStatus }

// CardDataReport is one field of a PinPad card read.
type CardDataReport struct {
	// PAN is parsed from an Ok track 2
	PAN    *PANInfo
	Name   string
	Value  string
	Status string
	frameData
	ID         byte
	StatusCode byte
}

func (*CardDataReport) Kind() ReportKind { return KindCardData }

// PinData is the result of a PIN entry.
type PinData struct {
	OperationStatus   string `json:"operationStatus"`
	KSN               string `json:"pinKsn,omitempty"`
	EncryptedPinBlock string `json:"encryptedPinBlock,omitempty"`
}

// PinResponseReport is the PinPad PIN entry response.
type PinResponseReport struct {
	frameData
	PIN        PinData
	StatusCode byte
}

func (*PinResponseReport) Kind() ReportKind { return KindPinResponse }

// SelectionReport is the key pressed in answer to a cardholder selection.
type SelectionReport struct {
	OperationStatus string
	KeyPressed      string
	frameData
	StatusCode byte
}

func (*SelectionReport) Kind() ReportKind { return KindSelection }

// DisplayDoneReport signals the end of a display message.
type DisplayDoneReport struct {
	OperationStatus string
	frameData
	StatusCode byte
}

func (*DisplayDoneReport) Kind() ReportKind { return KindDisplayDone }

// BigBlockReport is one frame of a device to host big block.
type BigBlockReport struct {
	frameData
	Payload []byte
	// DeclaredLength is set on begin frames
	DeclaredLength int
	SubType        byte
	BufferType     byte
}

func (*BigBlockReport) Kind() ReportKind { return KindBigBlock }

// Begin reports whether the frame starts a transfer.
func (r *BigBlockReport) Begin() bool { return r.SubType == 0x00 }

// End reports whether the frame terminates a transfer.
func (r *BigBlockReport) End() bool { return r.SubType == 0x63 }

// CardholderStatusReport is an EMV cardholder interaction status.
type CardholderStatusReport struct {
	// AmountConfirmed is set for status 0x02 when the answer is documented
	AmountConfirmed *bool
	Status          string
	// Detail carries the application name, payment method or an unknown
	// confirmation or method label, depending on StatusID
	Detail           string
	UndocumentedData string
	frameData
	TLV      []tlv.Entry
	StatusID byte
}

func (*CardholderStatusReport) Kind() ReportKind { return KindCardholderStatus }

// TipCashbackReport is the outcome of a tip or cash back prompt.
type TipCashbackReport struct {
	OperationStatus string
	Type            TipCashbackKind
	frameData
	TransactionAmount int64
	TaxAmount         int64
	SelectedAmount    int64
	StatusCode        byte
}

func (*TipCashbackReport) Kind() ReportKind { return KindTipCashback }

// EMVCompletionReport ends a PinPad EMV transaction.
type EMVCompletionReport struct {
	TransactionStatus string
	Data              string
	frameData
	StatusCode byte
}

func (*EMVCompletionReport) Kind() ReportKind { return KindEMVCompletion }

// PANInfo is extracted from a track 2 formatted ";PAN=YYMMSSS...?".
type PANInfo struct {
	MaskedPAN      string `json:"maskedPAN"`
	Last4          string `json:"Last4"`
	ExpirationDate string `json:"expirationDate"`
	ServiceCode    string `json:"serviceCode"`
}

// Track is one magnetic stripe track.
type Track struct {
	Data       string `json:"data,omitempty"`
	Status     string `json:"status,omitempty"`
	StatusCode byte   `json:"statusCode"`
}

// SwipeData is the card data of a swipe, assembled from PinPad card data
// reports or from a SCRA swipe notification.
type SwipeData struct {
	Extra              map[string]string `json:"extra,omitempty"`
	Track1             Track             `json:"track1"`
	Track2             Track             `json:"track2"`
	Track3             Track             `json:"track3"`
	EncryptedTrack1    string            `json:"encryptedTrack1,omitempty"`
	EncryptedTrack2    string            `json:"encryptedTrack2,omitempty"`
	EncryptedTrack3    string            `json:"encryptedTrack3,omitempty"`
	Track1Masked       string            `json:"track1Masked,omitempty"`
	Track2Masked       string            `json:"track2Masked,omitempty"`
	Track3Masked       string            `json:"track3Masked,omitempty"`
	MagnePrint         string            `json:"magnePrint,omitempty"`
	MagnePrintStatus   string            `json:"magnePrintStatus,omitempty"`
	KSN                string            `json:"ksn,omitempty"`
	SerialNumber       string            `json:"serialNumber,omitempty"`
	EncryptedPANAndExp string            `json:"encryptedPanAndExp,omitempty"`
	EncSessionID       string            `json:"encSessionId,omitempty"`
	CBCMAC             string            `json:"cbcMac,omitempty"`
	PAN                PANInfo           `json:"pan"`
}

// ScraSwipeReport is a SCRA swipe notification.
type ScraSwipeReport struct {
	frameData
	Swipe SwipeData
}

func (*ScraSwipeReport) Kind() ReportKind { return KindScraSwipe }

// TransactionStatusReport is a SCRA transaction status notification.
type TransactionStatusReport struct {
	StatusMessage   string
	ProgressMessage string
	frameData
	StatusCode   byte
	ProgressCode byte
}

func (*TransactionStatusReport) Kind() ReportKind { return KindTransactionStatus }

// DisplayRequestReport asks the host to show a message.
type DisplayRequestReport struct {
	Message string
	frameData
}

func (*DisplayRequestReport) Kind() ReportKind { return KindDisplayRequest }

// UserSelectionRequestReport asks the host to let the user pick an item and
// send it back with SendUserSelection.
type UserSelectionRequestReport struct {
	Title string
	Items []string
	frameData
	Type    byte
	Timeout byte
}

func (*UserSelectionRequestReport) Kind() ReportKind { return KindUserSelectionRequest }

// EMVData is an ARQC or batch payload.
type EMVData struct {
	// SignatureRequired is nil when the payload does not say
	SignatureRequired *bool                   `json:"signatureRequired,omitempty"`
	Templates         map[string][]bertlv.TLV `json:"templates,omitempty"`
	Data              string                  `json:"data"`
	Parsed            []tlv.Entry             `json:"parsed"`
	ARQC              bool                    `json:"arqc"`
}

func newEMVData(hexData string, tlvData []byte, opts tlv.Options) *EMVData {
	parsed := tlv.Decode(tlvData, opts)
	return &EMVData{
		Data:      hexData,
		Parsed:    parsed,
		Templates: tlv.Templates(parsed),
	}
}

// EMVDataReport carries a SCRA ARQC or batch notification.
type EMVDataReport struct {
	frameData
	EMV EMVData
}

func (*EMVDataReport) Kind() ReportKind { return KindEMVData }

// ResultCodeReport is the result code of a SCRA command response.
type ResultCodeReport struct {
	Name    string
	Message string
	frameData
	Code int
}

func (*ResultCodeReport) Kind() ReportKind { return KindResultCode }

// OK reports whether the command succeeded.
func (r *ResultCodeReport) OK() bool { return r.Code == 0 }

// Err returns the rejection as an error, nil on success.
func (r *ResultCodeReport) Err() error {
	if r.OK() {
		return nil
	}
	return &DeviceStatusError{Code: r.Code, Message: r.Message, CommandType: r.Name}
}

// BatteryLevelReport carries the SCRA battery level.
type BatteryLevelReport struct {
	frameData
	Level byte
}

func (*BatteryLevelReport) Kind() ReportKind { return KindBatteryLevel }
