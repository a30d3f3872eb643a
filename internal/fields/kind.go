// Package fields defines the scanned field kinds, the screens that show them,
// and the extractors turning raw OCR text into candidate values.
package fields

import (
	"fmt"

	"github.com/MeKo-Tech/fieldscan/internal/geometry"
	"github.com/MeKo-Tech/fieldscan/internal/ocr"
)

// Kind identifies a logical field.
type Kind string

const (
	Serial       Kind = "serial"
	IMEI         Kind = "imei"
	IMEI2        Kind = "imei2"
	IDNumber     Kind = "idNumber"
	FirstName    Kind = "firstName"
	LastName     Kind = "lastName"
	DateOfBirth  Kind = "dateOfBirth"
	DateOfIssue  Kind = "dateOfIssue"
	DateOfExpiry Kind = "dateOfExpiry"
	LaserCode    Kind = "laserCode"
)

// Spec is the per-kind OCR setup.
type Spec struct {
	Kind      Kind
	Mode      ocr.PageSegMode
	Whitelist string
	// Region is set for card kinds only; phone kinds are located by label.
	Region *geometry.RelRect
	// PadBelow extends a label crop downwards, in label heights, for values
	// printed under their label.
	PadBelow float64
}

const digits = "0123456789"

var specs = map[Kind]Spec{
	Serial: {Kind: Serial, Mode: ocr.PSMSingleLine},
	IMEI:   {Kind: IMEI, Mode: ocr.PSMSingleBlock, PadBelow: 3},
	IMEI2:  {Kind: IMEI2, Mode: ocr.PSMSingleBlock, PadBelow: 3},

	IDNumber:     {Kind: IDNumber, Mode: ocr.PSMSingleLine, Whitelist: digits + " ", Region: &geometry.RelRect{X0: 0.30, Y0: 0.72, X1: 0.80, Y1: 0.84}},
	LastName:     {Kind: LastName, Mode: ocr.PSMSingleBlock, Region: &geometry.RelRect{X0: 0.30, Y0: 0.20, X1: 0.80, Y1: 0.32}},
	FirstName:    {Kind: FirstName, Mode: ocr.PSMSingleBlock, Region: &geometry.RelRect{X0: 0.30, Y0: 0.32, X1: 0.80, Y1: 0.46}},
	DateOfBirth:  {Kind: DateOfBirth, Mode: ocr.PSMSingleLine, Region: &geometry.RelRect{X0: 0.30, Y0: 0.58, X1: 0.65, Y1: 0.70}},
	DateOfIssue:  {Kind: DateOfIssue, Mode: ocr.PSMSingleLine, Region: &geometry.RelRect{X0: 0.65, Y0: 0.58, X1: 0.98, Y1: 0.70}},
	DateOfExpiry: {Kind: DateOfExpiry, Mode: ocr.PSMSingleLine, Region: &geometry.RelRect{X0: 0.65, Y0: 0.46, X1: 0.98, Y1: 0.58}},
	LaserCode:    {Kind: LaserCode, Mode: ocr.PSMSingleLine, Whitelist: digits + "- ", Region: &geometry.RelRect{X0: 0.02, Y0: 0.86, X1: 0.50, Y1: 0.98}},
}

// Kinds lists every kind in display order.
var Kinds = []Kind{Serial, IMEI, IMEI2, IDNumber, LastName, FirstName, DateOfBirth, DateOfIssue, DateOfExpiry, LaserCode}

// SpecFor returns the OCR setup for k.
func SpecFor(k Kind) (Spec, bool) {
	s, ok := specs[k]
	return s, ok
}

// Options returns the engine options for reading k.
func (s Spec) Options() ocr.Options {
	return ocr.Options{Mode: s.Mode, Whitelist: s.Whitelist}
}

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := specs[k]; !ok {
		return "", fmt.Errorf("unknown field kind %q", s)
	}
	return k, nil
}

// Screen is the field set currently visible.
type Screen string

const (
	ScreenNone   Screen = "none"
	ScreenSerial Screen = "serial"
	ScreenIMEI   Screen = "imei"
	ScreenCard   Screen = "card"
)

// Kinds returns the fields shown on the screen.
func (s Screen) Kinds() []Kind {
	switch s {
	case ScreenSerial:
		return []Kind{Serial}
	case ScreenIMEI:
		return []Kind{IMEI, IMEI2}
	case ScreenCard:
		return []Kind{IDNumber, LastName, FirstName, DateOfBirth, DateOfIssue, DateOfExpiry, LaserCode}
	default:
		return nil
	}
}

// Shows reports whether k belongs to the screen.
func (s Screen) Shows(k Kind) bool {
	for _, sk := range s.Kinds() {
		if sk == k {
			return true
		}
	}
	return false
}

// Mode is the scanning variant.
type Mode string

const (
	ModePhone Mode = "phone"
	ModeCard  Mode = "card"
)

// DefaultRequired returns the fields a session must confirm in mode.
func DefaultRequired(m Mode) []Kind {
	if m == ModeCard {
		return []Kind{IDNumber, LastName, FirstName, DateOfBirth}
	}
	return []Kind{Serial, IMEI}
}
