package geo

import (
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
)

// Unit is a distance unit speeds and path lengths are expressed in.
type Unit string

const (
	Miles         Unit = "miles"
	Kilometers    Unit = "kilometers"
	Meters        Unit = "meters"
	Feet          Unit = "feet"
	NauticalMiles Unit = "nauticalmiles"
	Degrees       Unit = "degrees"
	Radians       Unit = "radians"
)

var unitAliases = map[string]Unit{
	"miles": Miles, "mile": Miles, "mi": Miles,
	"kilometers": Kilometers, "kilometres": Kilometers, "km": Kilometers,
	"meters": Meters, "metres": Meters, "m": Meters,
	"feet": Feet, "foot": Feet, "ft": Feet,
	"nauticalmiles": NauticalMiles, "nmi": NauticalMiles,
	"degrees": Degrees, "deg": Degrees,
	"radians": Radians, "rad": Radians,
}

// ParseUnit accepts the unit names and their common abbreviations.
func ParseUnit(s string) (Unit, error) {
	u, ok := unitAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return "", fmt.Errorf("unknown distance unit %q", s)
	}
	return u, nil
}

// metersPer returns how many meters one unit spans. Angular units are
// measured on a sphere of orb.EarthRadius, the radius distances are computed on.
func (u Unit) metersPer() float64 {
	switch u {
	case Kilometers:
		return 1000
	case Meters:
		return 1
	case Feet:
		return 0.3048
	case NauticalMiles:
		return 1852
	case Degrees:
		return orb.EarthRadius * math.Pi / 180
	case Radians:
		return orb.EarthRadius
	default:
		return 1609.344
	}
}

// ToMeters converts d from u to meters.
func (u Unit) ToMeters(d float64) float64 { return d * u.metersPer() }

// FromMeters converts m meters to u.
func (u Unit) FromMeters(m float64) float64 { return m / u.metersPer() }
