// Package units converts recipe quantities between units of the same family.
package units

import (
	"errors"
	"fmt"
	"strings"
)

// Unit is a canonical unit symbol.
type Unit string

const (
	Gram       Unit = "g"
	Kilogram   Unit = "kg"
	Milliliter Unit = "ml"
	Liter      Unit = "l"
	Piece      Unit = "pcs"
)

// Family groups units that can be converted into one another.
type Family string

const (
	Mass   Family = "mass"
	Volume Family = "volume"
	Count  Family = "count"
)

// ErrIncompatibleUnits is returned when two units belong to different families.
var ErrIncompatibleUnits = errors.New("incompatible units")

type unitDef struct {
	family Family
	toBase float64
}

var unitTable = map[Unit]unitDef{
	Gram:       {family: Mass, toBase: 1},
	Kilogram:   {family: Mass, toBase: 1000},
	Milliliter: {family: Volume, toBase: 1},
	Liter:      {family: Volume, toBase: 1000},
	Piece:      {family: Count, toBase: 1},
}

var aliases = map[string]Unit{
	"g":      Gram,
	"gr":     Gram,
	"gram":   Gram,
	"grams":  Gram,
	"kg":     Kilogram,
	"kgs":    Kilogram,
	"kilo":   Kilogram,
	"kilos":  Kilogram,
	"ml":     Milliliter,
	"l":      Liter,
	"lt":     Liter,
	"liter":  Liter,
	"litre":  Liter,
	"liters": Liter,
	"pcs":    Piece,
	"pc":     Piece,
	"pz":     Piece,
	"piece":  Piece,
	"pieces": Piece,
}

// Normalize maps a free-form unit onto a canonical one.
// Empty and unrecognized units default to grams.
func Normalize(raw string) Unit {
	key := strings.ToLower(strings.TrimSpace(raw))
	if u, ok := aliases[key]; ok {
		return u
	}
	return Gram
}

// Known reports whether raw names a recognized unit or alias.
func Known(raw string) bool {
	_, ok := aliases[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

func familyOf(u Unit) Family {
	return unitTable[u].family
}

// Convert expresses qty, given in from, in the to unit.
func Convert(qty float64, from, to string) (float64, error) {
	f, t := Normalize(from), Normalize(to)
	if f == t {
		return qty, nil
	}

	if familyOf(f) != familyOf(t) {
		return 0, fmt.Errorf("%w: %s to %s", ErrIncompatibleUnits, f, t)
	}

	return qty * unitTable[f].toBase / unitTable[t].toBase, nil
}
