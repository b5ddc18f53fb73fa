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

import "fmt"

const unknownPrefix = "Unknown/Undocumented "

// describe looks code up in table and degrades to a labeled unknown value.
func describe[K comparable](table map[K]string, code K, field string) string {
	if s, ok := table[code]; ok {
		return s
	}
	return unknownPrefix + field
}

var operationStatus = map[byte]string{
	0x00: "Ok",
	0x01: "Cardholder Cancel",
	0x02: "Timeout",
	0x03: "Host Cancel",
	0x04: "Verify fail",
	0x05: "Keypad Security",
	0x06: "Calibration Done",
	0x07: "Write with duplicate RID and index",
	0x08: "Write with corrupted Key",
	0x09: "CA Public Key reached maximum capacity",
	0x0A: "CA Public Key read with invalid RID or Index",
}

// ACK status codes with a dedicated meaning to the engine
const (
	ackOK            = 0x00
	ackDeviceNotIdle = 0x81
)

var ackStatus = map[byte]string{
	0x00: "Ok",
	0x15: "RID error/Index not found",
	0x80: "Device Error: error, tamper, missing certificate or incorrect signature detected",
	0x81: "Device not idle",
	0x82: "Data Error or Bad Paramater(s)",
	0x83: "Length Error: data size is either too small, too large, incomplete, or OID of the cert doesn't match predefined OID",
	0x84: "PAN Exists",
	0x85: "Missing or Incorrect Key",
	0x86: "Device Busy",
	0x87: "Device Locked",
	0x88: "Auth required",
	0x89: "Bad Auth",
	0x8A: "Device Not Available",
	0x8B: "Amount Needed - If PIN amount is required, no amount has been set",
	0x8C: "Battery is critically low",
	0x8D: "Device is resetting",
	0x90: "Certificate does not exist",
	0x91: "Expired (Cert/CRL)",
	0x92: "Invalid (Cert/CRL/Message)",
	0x93: "Revoked (Cert/CRL)",
	0x94: "CRL does not exist",
	0x95: "Certificate exists",
	0x96: "Duplicate KSN/Key",
}

var cardTypeNames = map[byte]string{
	0x00: "Other",
	0x01: "Financial",
	0x02: "AAMVA",
	0x03: "Manual",
	0x04: "Unknown",
	0x05: "ICC",
	0x06: "Contactless ICC - EMV",
	0x07: "Financial MSR + ICC",
	0x08: "Contactless ICC - MSD",
}

var deviceStates = map[byte]string{
	0x00: "Idle",
	0x01: "Session",
	0x02: "Wait For Card",
	0x03: "Wait For PIN",
	0x04: "Wait For Selection",
	0x05: "Displaying Message",
	0x06: "Test (Reserved for future use)",
	0x07: "Manual Card Entry",
	0x09: "Wait Cardholder Entry",
	0x0A: "Chip Card",
	0x0B: "ICC Kernel Test",
	0x0C: "EMV Transaction",
	0x0D: "Show PAN",
}

// key status tables are indexed by two bits
var pinKeyStatus = map[byte]string{
	0x00: "PIN Key OK",
	0x01: "PIN Key Exhausted",
	0x02: "No PIN Key",
	0x03: "PIN Key Not Bound",
}

var msrKeyStatus = map[byte]string{
	0x00: "MSR Key OK",
	0x01: "MSR Key Exhausted",
	0x02: "No MSR Key",
	0x03: "MSR Key Not Bound",
}

// PinPad card data ids
const (
	cardDataTrack1           = 0x01
	cardDataTrack2           = 0x02
	cardDataTrack3           = 0x03
	cardDataEncryptedTrack1  = 0x04
	cardDataEncryptedTrack2  = 0x05
	cardDataEncryptedTrack3  = 0x06
	cardDataMagnePrint       = 0x07
	cardDataEncryptedPANExp  = 0x40
	cardDataSerialNumber     = 0x41
	cardDataKSNAndMagnePrint = 0x63
	cardDataCBCMAC           = 0x64
)

var cardDataNames = map[byte]string{
	cardDataTrack1:           "track1",
	cardDataTrack2:           "track2",
	cardDataTrack3:           "track3",
	cardDataEncryptedTrack1:  "encryptedTrack1",
	cardDataEncryptedTrack2:  "encryptedTrack2",
	cardDataEncryptedTrack3:  "encryptedTrack3",
	cardDataMagnePrint:       "magnePrint",
	cardDataEncryptedPANExp:  "encryptedPanAndExp",
	cardDataSerialNumber:     "serialNumber",
	cardDataKSNAndMagnePrint: "ksnAndMagnePrintStatus",
	cardDataCBCMAC:           "CBC-MAC",
}

// Track data statuses
const (
	trackOK       = 0x00
	trackEmpty    = 0x01
	trackError    = 0x02
	trackDisabled = 0x04
)

var trackStatus = map[byte]string{
	trackOK:       "Ok",
	trackEmpty:    "Empty",
	trackError:    "Error",
	trackDisabled: "Disabled",
}

var cardholderStatus = map[byte]string{
	0x01: "Waiting for amount confirmation selection",
	0x02: "Amount confirmation selected",
	0x03: "Waiting for multi-payment ICC Application selection",
	0x04: "ICC Application selected",
	0x07: "Waiting for language selection",
	0x08: "Language selected",
	0x09: "Waiting for credit/debit selection",
	0x0A: "Credit/Debit selected",
	0x0B: "Waiting for Pin Entry for ICC",
	0x0C: "PIN entered for ICC",
	0x0D: "Waiting for Pin Entry for MSR",
	0x0E: "PIN entered for MSR",
}

func describeCardholderStatus(id byte) string {
	if s, ok := cardholderStatus[id]; ok {
		return s
	}
	return fmt.Sprintf("%sCardholder Interaction Status ID: %d", unknownPrefix, id)
}

var bufferTypeNames = map[byte]string{
	bufferDeviceCert: "Device Certificate",
	bufferSetBIN:     "Set BIN (MAC)",
	bufferCSR:        "CSR",
	bufferTagData:    "EMV data in TLV format, Tag Data (MAC)",
	0xA2:             "RESERVED",
	0xA3:             "RESERVED",
	bufferARQC:       "EMV data in TLV format, Authorization Request (ARQC)",
	bufferCAPK:       "CA Public Key (MAC)",
	bufferBatch:      "EMV data in TLV format, Batch Data",
}

var selectionKeys = map[byte]string{
	0x71: "Left function key",
	0x72: "Middle function key",
	0x74: "Right function key",
	0x78: "Enter key",
}

var trackDataOptions = map[byte]string{
	0x00: "Disabled",
	0x01: "Enabled",
	0x03: "Required",
}

var emvL2Config = map[byte]string{
	0x00: "No L2 Capability",
	0x01: "Configuration C1 (EMVCo certified)",
	0x02: "Configuration C2",
	0x03: "Configuration C3",
	0x04: "Configuration C4 (EMVCo certified)",
	0x05: "Configuration C5 (EMVCo certified)",
	0x06: "Configuration C6",
	0x07: "Configuration C7",
}

var contactlessBrands = map[byte]string{
	0x0: "All contacless kernals enabled",
	0x1: "PayPass/MCL support disabled",
	0x2: "payWave support disabled",
	0x4: "Expresspay support disabled",
	0x8: "D-PAS support disabled",
}

// SCRA transaction status events
var scraTransactionStatus = map[byte]string{
	0x00: "Transaction Started and Idle",
	0x01: "Card is Inserted",
	0x02: "Error",
	0x03: "Transaction Progress Change",
	0x04: "Waiting for User Response",
	0x05: "Timed Out",
	0x06: "Transaction Complete",
	0x07: "Cancelled by Host",
	0x08: "Card Removed",
	0x09: "Contactless Token Detected, Powering Up Card",
	0x0A: "MSR Swipe Detected",
}

var scraTransactionProgress = map[byte]string{
	0x00: "No transaction in progress",
	0x01: "Waiting for cardholder to present payment",
	0x02: "Powering up the card",
	0x03: "Selecting the application",
	0x04: "Waiting for user language selection",
	0x05: "Waiting for user application selection",
	0x06: "Initiating application",
	0x07: "Reading application data",
	0x08: "Offline data authentication",
	0x09: "Process restrictions",
	0x0A: "Cardholder verification",
	0x0B: "Terminal risk management",
	0x0C: "Terminal action analysis",
	0x0D: "Generating first application cryptogram",
	0x0E: "Card action analysis",
	0x0F: "Online processing",
	0x10: "Waiting online processing response",
	0x11: "Transaction Complete",
	0x12: "Transaction Error",
	0x13: "Transaction Approved",
	0x14: "Transaction Declined",
	0x15: "Transaction Cancelled by MSR Swipe",
	0x16: "EMV error - Conditions Not Satisfied",
	0x17: "EMV error - Card Blocked",
	0x18: "Application selection failed",
	0x19: "EMV error - Card Not Accepted",
	0x1A: "Empty Candidate List",
	0x1B: "Application Blocked",
	0x29: "Contactless Remove Card",
	0x2A: "Collision Detected",
	0x2B: "Refer to Mobile Device Prompt",
	0x2C: "Contactless Transaction Complete",
	0x2D: "Request Switch to ICC/MSR - Kernel has refused contactless payment",
	0x2E: "Wrong Card Type (MSD or EMV)",
	0x2F: "No Application Interchange Profile (Tag 82) Received",
	0x31: "Magnetic stripe decoding error.",
	0x3C: "Magnetic stripe decoding during Technical Fallback. Revert to MSR, powering up but not receiving an Answer to Reset from card.",
	0x3D: "Magnetic stripe card decoded during MSR Fallback. Device reverted to MSR, but encountered fatal errors.",
	0x3E: "Magnetic stripe card decoded during a No Fallback MSR read.",
}

const (
	dukptFailure = "Failure, DUKPT scheme is "
	invalidField = "Invalid "
)

// EMV start transaction result codes, keyed by the low byte
var emvResultCodes = map[byte]string{
	0x81: dukptFailure + "not loaded",
	0x82: dukptFailure + "loaded but all of its keys have been used",
	0x83: dukptFailure + "not loaded (Security Level not 3 or 4)",
	0x84: invalidField + "Total Transaction Time Field",
	0x85: invalidField + "Card Type Field",
	0x86: invalidField + "Options Field",
	0x87: invalidField + "Amount Authorized Field",
	0x88: invalidField + "Transaction Type Field",
	0x89: invalidField + "Cash Back Field",
	0x8A: invalidField + "Transaction Currency Code Field",
	0x8E: invalidField + "Reporting Option",
	0x8F: "Transaction Already In Progress",
	0x91: invalidField + "Device Serial Number",
	0x96: invalidField + "System Date and Time",
}
