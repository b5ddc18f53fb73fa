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
	"strings"

	"github.com/ZaparooProject/go-magble/internal/frame"
)

// Dialect is the protocol family a terminal speaks.
type Dialect int

const (
	// DialectPinPad covers DynaPro Go and DynaPro Mini.
	DialectPinPad Dialect = iota
	// DialectSCRA covers eDynamo and tDynamo.
	DialectSCRA
)

// String returns the dialect name
func (d Dialect) String() string {
	if d == DialectSCRA {
		return "SCRA"
	}
	return "PinPad"
}

// Model names a supported terminal.
type Model string

// Supported models
const (
	ModelDynaProGo   Model = "dynaProGo"
	ModelDynaProMini Model = "DynaPro Mini"
	ModelEDynamo     Model = "eDynamo"
	ModelTDynamo     Model = "tDynamo"
)

var allModels = []Model{ModelDynaProGo, ModelDynaProMini, ModelEDynamo, ModelTDynamo}

const uuidPrefix = "0508e6f8-ad82-898f-f843-e3410cb60"

// ServiceUUIDs lists the card service UUIDs in fallback priority order.
var ServiceUUIDs = []string{
	uuidPrefix + "104",
	uuidPrefix + "103",
	uuidPrefix + "101",
}

// DeviceProfile is the immutable per-model description the engine is
// parameterized with.
type DeviceProfile struct {
	Model Model
	// ServiceIndex is the first entry of ServiceUUIDs tried when opening
	ServiceIndex int
	// ResponseTries is how many polls wait for a response before resending
	ResponseTries int
	Dialect       Dialect
	// AllCardTypes is the code sent for CardTypeAll
	AllCardTypes byte
	Marker       byte
	// HasSession is false for terminals without session state to clear
	HasSession bool
	// HeadAlwaysOn asks the reader to keep its MSR head powered before a swipe
	HeadAlwaysOn bool
}

var profiles = map[Model]*DeviceProfile{
	ModelDynaProGo: {
		Model:         ModelDynaProGo,
		Dialect:       DialectPinPad,
		Marker:        frame.PinPadMarker,
		ServiceIndex:  2,
		ResponseTries: 16,
		AllCardTypes:  0x07,
		HasSession:    true,
	},
	ModelDynaProMini: {
		Model:         ModelDynaProMini,
		Dialect:       DialectPinPad,
		Marker:        frame.PinPadMarker,
		ServiceIndex:  2,
		ResponseTries: 16,
		AllCardTypes:  0x03,
		HasSession:    true,
	},
	ModelEDynamo: {
		Model:         ModelEDynamo,
		Dialect:       DialectSCRA,
		Marker:        frame.ScraMarker,
		ServiceIndex:  1,
		ResponseTries: 15,
		AllCardTypes:  0x03,
	},
	ModelTDynamo: {
		Model:         ModelTDynamo,
		Dialect:       DialectSCRA,
		Marker:        frame.ScraMarker,
		ServiceIndex:  0,
		ResponseTries: 15,
		AllCardTypes:  0x07,
		HeadAlwaysOn:  true,
	},
}

// ProfileFor returns the profile of a model.
func ProfileFor(model Model) (*DeviceProfile, error) {
	p, ok := profiles[model]
	if !ok {
		return nil, wrongValue("deviceType", string(model), modelNames()...)
	}
	return p, nil
}

// ParseModel matches a model string case-insensitively.
func ParseModel(s string) (Model, bool) {
	for _, m := range allModels {
		if strings.EqualFold(s, string(m)) {
			return m, true
		}
	}
	return "", false
}

// IdentifyModel picks the model from an explicit type string, falling back
// to the advertised device name prefix.
func IdentifyModel(name, typeString string) (Model, bool) {
	if typeString != "" {
		if m, ok := ParseModel(typeString); ok {
			return m, true
		}
	}
	switch {
	case strings.HasPrefix(name, "tDynamo-"):
		return ModelTDynamo, true
	case strings.HasPrefix(name, "eDynamo-"):
		return ModelEDynamo, true
	case strings.HasPrefix(name, "DPG"):
		return ModelDynaProGo, true
	case strings.HasPrefix(name, "DPMini"):
		return ModelDynaProMini, true
	}
	return "", false
}

// ServiceCandidates returns the service UUIDs to try, best first.
func (p *DeviceProfile) ServiceCandidates() []string {
	if p.ServiceIndex >= len(ServiceUUIDs) {
		return nil
	}
	return ServiceUUIDs[p.ServiceIndex:]
}

// Layout returns the characteristic layout of the card service.
func (p *DeviceProfile) Layout(service string) ServiceLayout {
	if p.Dialect == DialectPinPad {
		return ServiceLayout{
			Service: service,
			Characteristics: map[CharacteristicRole]string{
				RoleLength:   uuidPrefix + "220",
				RoleCommand:  uuidPrefix + "221",
				RoleNotify:   uuidPrefix + "222",
				RoleResponse: uuidPrefix + "223",
			},
		}
	}
	return ServiceLayout{
		Service: service,
		Characteristics: map[CharacteristicRole]string{
			RoleCommand:   uuidPrefix + "200",
			RoleResponse:  uuidPrefix + "200",
			RoleNotify:    uuidPrefix + "201",
			RoleDataReady: uuidPrefix + "202",
		},
	}
}

// CardTypeCode maps a card type to its wire code for this model.
func (p *DeviceProfile) CardTypeCode(c CardType) (byte, error) {
	switch CardType(strings.ToLower(string(c))) {
	case CardTypeAll:
		return p.AllCardTypes, nil
	case CardTypeDefault:
		if p.Dialect == DialectPinPad {
			return p.AllCardTypes, nil
		}
		return cardTypeCodes[CardTypeChipMSR], nil
	}
	return lookup("cardType", cardTypeCodes, c, 0)
}

func modelNames() []string {
	names := make([]string, len(allModels))
	for i, m := range allModels {
		names[i] = string(m)
	}
	return names
}
