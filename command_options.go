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
	"sort"
	"strings"
)

// The option enums below are string backed so they can be read from
// configuration files as-is. The empty string always selects the documented
// default of the field.

// CardType selects the card interfaces a transaction accepts.
type CardType string

// Card types
const (
	CardTypeDefault         CardType = ""
	CardTypeMSR             CardType = "msr"
	CardTypeChip            CardType = "chip"
	CardTypeChipMSR         CardType = "chipmsr"
	CardTypeContactless     CardType = "contactless"
	CardTypeContactlessMSR  CardType = "contactlessmsr"
	CardTypeContactlessChip CardType = "contactlesschip"
	CardTypeAll             CardType = "all"
)

var cardTypeCodes = map[CardType]byte{
	CardTypeMSR:             0x01,
	CardTypeChip:            0x02,
	CardTypeChipMSR:         0x03,
	CardTypeContactless:     0x04,
	CardTypeContactlessMSR:  0x05,
	CardTypeContactlessChip: 0x06,
	CardTypeAll:             0x07,
}

// Tone selects the beep played with a prompt.
type Tone string

// Tones
const (
	ToneDefault  Tone = ""
	ToneNone     Tone = "none"
	ToneOneBeep  Tone = "onebeep"
	ToneTwoBeeps Tone = "twobeeps"
)

var toneCodes = map[Tone]byte{
	ToneNone:     0x00,
	ToneOneBeep:  0x01,
	ToneTwoBeeps: 0x02,
}

// SwipeDisplay selects the prompt shown while waiting for a swipe.
type SwipeDisplay string

// Swipe prompts
const (
	SwipeDisplayDefault               SwipeDisplay = ""
	SwipeDisplayIdleAlternate         SwipeDisplay = "swipeidlealternate"
	SwipeDisplaySwipeCard             SwipeDisplay = "swipecard"
	SwipeDisplayPleaseSwipeCard       SwipeDisplay = "pleaseswipecard"
	SwipeDisplayPleaseSwipeAgain      SwipeDisplay = "pleaseswipeagain"
	SwipeDisplayChipErrorUseMagstripe SwipeDisplay = "chiperrorusemagstripe"
)

var swipeDisplayCodes = map[SwipeDisplay]byte{
	SwipeDisplayIdleAlternate:         0x00,
	SwipeDisplaySwipeCard:             0x01,
	SwipeDisplayPleaseSwipeCard:       0x02,
	SwipeDisplayPleaseSwipeAgain:      0x03,
	SwipeDisplayChipErrorUseMagstripe: 0x04,
}

// TransactionType is the EMV transaction type (tag 9C).
type TransactionType string

// Transaction types
const (
	TransactionDefault             TransactionType = ""
	TransactionPurchase            TransactionType = "purchase"
	TransactionCashAdvance         TransactionType = "cashadvance"
	TransactionCashBack            TransactionType = "cashback"
	TransactionGoods               TransactionType = "goods"
	TransactionServices            TransactionType = "services"
	TransactionContactlessCashBack TransactionType = "contactlesscashback"
	TransactionRefund              TransactionType = "refund"
)

var transactionTypeCodes = map[TransactionType]byte{
	TransactionPurchase:            0x00,
	TransactionCashAdvance:         0x01,
	TransactionCashBack:            0x02,
	TransactionGoods:               0x04,
	TransactionServices:            0x08,
	TransactionContactlessCashBack: 0x09,
	TransactionRefund:              0x20,
}

// zeroAmountDefault reports whether an absent authorized amount encodes as
// zeros instead of the one-unit placeholder.
func (t TransactionType) zeroAmountDefault() bool {
	switch t {
	case TransactionRefund, TransactionCashBack, TransactionContactlessCashBack:
		return true
	}
	return false
}

// Currency selects the transaction currency code.
type Currency string

// Currencies
const (
	CurrencyDefault Currency = ""
	CurrencyUSD     Currency = "dollar"
	CurrencyEUR     Currency = "euro"
	CurrencyGBP     Currency = "pound"
)

var currencyCodes = map[Currency][2]byte{
	CurrencyUSD: {0x08, 0x40},
	CurrencyEUR: {0x09, 0x78},
	CurrencyGBP: {0x08, 0x26},
}

var currencyAliases = map[string]Currency{
	"us":  CurrencyUSD,
	"usd": CurrencyUSD,
	"eur": CurrencyEUR,
	"gbp": CurrencyGBP,
	"uk":  CurrencyGBP,
}

// ParseCurrency accepts a table name or a common alias, case-insensitively.
func ParseCurrency(s string) Currency {
	c := Currency(strings.ToLower(strings.TrimSpace(s)))
	if alias, ok := currencyAliases[string(c)]; ok {
		return alias
	}
	return c
}

// code returns the two currency bytes. Unknown currencies encode as 00 00.
func (c Currency) code() []byte {
	if c == CurrencyDefault {
		c = CurrencyUSD
	}
	b, ok := currencyCodes[ParseCurrency(string(c))]
	if !ok {
		return []byte{0x00, 0x00}
	}
	return []byte{b[0], b[1]}
}

// EMVMode selects the EMV kernel options byte.
type EMVMode string

// EMV modes
const (
	EMVModeDefault              EMVMode = ""
	EMVModeNormal               EMVMode = "normal"
	EMVModeBypassPIN            EMVMode = "bypasspin"
	EMVModeForceOnline          EMVMode = "forceonline"
	EMVModeQuickChip            EMVMode = "quickchip"
	EMVModePINBypassQuickChip   EMVMode = "pinbypassquickchip"
	EMVModeForceOnlineQuickChip EMVMode = "forceonlinequickchip"
)

var emvModeCodes = map[EMVMode]byte{
	EMVModeNormal:               0x00,
	EMVModeBypassPIN:            0x01,
	EMVModeForceOnline:          0x02,
	EMVModeQuickChip:            0x80,
	EMVModePINBypassQuickChip:   0x81,
	EMVModeForceOnlineQuickChip: 0x82,
}

// Verbosity selects how many transaction status notifications a SCRA
// reader sends.
type Verbosity string

// Verbosity levels
const (
	VerbosityDefault Verbosity = ""
	VerbosityMinimum Verbosity = "minimum"
	VerbosityMedium  Verbosity = "medium"
	VerbosityVerbose Verbosity = "verbose"
)

var verbosityCodes = map[Verbosity]byte{
	VerbosityMinimum: 0x00,
	VerbosityMedium:  0x01,
	VerbosityVerbose: 0x02,
}

// PinPrompt selects the message shown while the cardholder enters a PIN.
type PinPrompt string

// PIN prompts
const (
	PinPromptDefault          PinPrompt = ""
	PinPromptEnterPIN         PinPrompt = "enterpin"
	PinPromptEnterPINAmount   PinPrompt = "enterpinamount"
	PinPromptReenterPINAmount PinPrompt = "reenterpinamount"
	PinPromptReenterPIN       PinPrompt = "reenterpin"
	PinPromptVerifyPIN        PinPrompt = "verifypin"
)

var pinPromptCodes = map[PinPrompt]byte{
	PinPromptEnterPIN:         0x00,
	PinPromptEnterPINAmount:   0x01,
	PinPromptReenterPINAmount: 0x02,
	PinPromptReenterPIN:       0x03,
	PinPromptVerifyPIN:        0x04,
}

// LanguageMode selects the language prompt behavior of PIN entry.
type LanguageMode string

// Language modes
const (
	LanguageDefault    LanguageMode = ""
	LanguageDisabled   LanguageMode = "disabled"
	LanguagePrompt     LanguageMode = "prompt"
	LanguagePromptOnce LanguageMode = "promptonce"
)

var languageModeCodes = map[LanguageMode]byte{
	LanguageDisabled:   0x00,
	LanguagePrompt:     0x01,
	LanguagePromptOnce: 0x02,
}

// PinBlockFormat selects the ISO 9564 PIN block format.
type PinBlockFormat string

// PIN block formats
const (
	PinBlockDefault PinBlockFormat = ""
	PinBlockISO0    PinBlockFormat = "iso0"
	PinBlockISO3    PinBlockFormat = "iso3"
)

var pinBlockCodes = map[PinBlockFormat]byte{
	PinBlockISO0: 0x00,
	PinBlockISO3: 0x01,
}

// TipCashbackKind selects between a tip and a cash back prompt.
type TipCashbackKind string

// Tip or cash back
const (
	KindTip      TipCashbackKind = "tip"
	KindCashBack TipCashbackKind = "cashback"
)

// TipSelectionMode selects whether tip buttons are percentages or amounts.
type TipSelectionMode string

// Tip selection modes
const (
	TipModePercent TipSelectionMode = "percent"
	TipModeAmount  TipSelectionMode = "amount"
)

// DisplayMessage identifies one of the canned PinPad display messages.
type DisplayMessage byte

// Canned display messages
const (
	MessageHandsOff   DisplayMessage = 0x00
	MessageApproved   DisplayMessage = 0x01
	MessageDeclined   DisplayMessage = 0x02
	MessageCancelled  DisplayMessage = 0x03
	MessageThankYou   DisplayMessage = 0x04
	MessagePINInvalid DisplayMessage = 0x05
	MessageProcessing DisplayMessage = 0x06
	MessagePleaseWait DisplayMessage = 0x07
)

var displayMessageNames = map[DisplayMessage]string{
	MessageHandsOff:   "Hands Off",
	MessageApproved:   "Approved",
	MessageDeclined:   "Declined",
	MessageCancelled:  "Cancelled",
	MessageThankYou:   "Thank You",
	MessagePINInvalid: "PIN Invalid",
	MessageProcessing: "Processing",
	MessagePleaseWait: "Please Wait",
}

func (m DisplayMessage) String() string {
	if name, ok := displayMessageNames[m]; ok {
		return name
	}
	return fmt.Sprintf("Message 0x%02X", byte(m))
}

// SwipeOptions configures a swipe request. Zero values select defaults.
type SwipeOptions struct {
	Display SwipeDisplay
	Tone    Tone
	// Timeout in seconds, 0x3C when zero
	Timeout byte
	// Fallback shows the chip-error prompt regardless of Display
	Fallback bool
}

// EMVOptions configures an EMV transaction. Nil amounts select defaults.
type EMVOptions struct {
	AuthorizedAmount *Amount
	CashBack         *Amount
	BalanceBefore    *Amount
	BalanceAfter     *Amount
	TaxAmount        *Amount
	TipAmount        *Amount
	// TaxPercent is a 3 byte field; numbers are encoded on 6 digits
	TaxPercent *Amount
	// QuickChip defaults to true when nil
	QuickChip       *bool
	CardType        CardType
	TransactionType TransactionType
	Currency        Currency
	Mode            EMVMode
	Tone            Tone
	Verbosity       Verbosity
	Timeout         byte
	PinTimeout      byte
	CategoryCode    byte
}

// IsQuickChip reports the effective quick chip flag.
func (o *EMVOptions) IsQuickChip() bool {
	return o == nil || o.QuickChip == nil || *o.QuickChip
}

// PinOptions configures a PIN entry request.
type PinOptions struct {
	Prompt      PinPrompt
	Tone        Tone
	Language    LanguageMode
	BlockFormat PinBlockFormat
	// MaxLength and MinLength are clamped to [4,12]; zero selects 12 and 4
	MaxLength   int
	MinLength   int
	Timeout     byte
	WaitMessage bool
	VerifyPIN   bool
}

// TipCashbackOptions configures a tip or cash back prompt.
type TipCashbackOptions struct {
	TransactionAmount   *Amount
	CalculatedTaxAmount *Amount
	// TaxRate numbers are encoded as a 6 byte amount, bytes pass through
	TaxRate *Amount
	// Button values are encoded on 4 digits, bytes pass through
	LeftButton   *Amount
	MiddleButton *Amount
	RightButton  *Amount
	// Timeout in seconds, 0x1E when nil
	Timeout *byte
	Kind    TipCashbackKind
	Mode    TipSelectionMode
	Tone    Tone
}

// DisplayOptions configures a canned display message.
type DisplayOptions struct {
	Message *DisplayMessage
	// DisplayTime in seconds, 0x0F when nil
	DisplayTime *byte
}

// lookup resolves an enum value case-insensitively, returning def for the
// empty value and a validation error for unknown ones.
func lookup[K ~string](field string, table map[K]byte, value K, def byte) (byte, error) {
	if value == "" {
		return def, nil
	}
	if b, ok := table[K(strings.ToLower(string(value)))]; ok {
		return b, nil
	}
	return 0, wrongValue(field, fmt.Sprintf("unknown value %q", string(value)), tableKeys(table)...)
}

func tableKeys[K ~string](table map[K]byte) []string {
	keys := make([]string, 0, len(table))
	for k := range table {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)
	return keys
}

// Bool returns a pointer to b, for optional flags.
func Bool(b bool) *bool {
	return &b
}

// Byte returns a pointer to b, for optional single byte fields.
func Byte(b byte) *byte {
	return &b
}

// Message returns a pointer to m, for DisplayOptions.
func Message(m DisplayMessage) *DisplayMessage {
	return &m
}
