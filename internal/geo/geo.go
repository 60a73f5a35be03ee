package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	orbgeo "github.com/paulmach/orb/geo"
	"github.com/wroge/wgs84"
)

var (
	// ErrTooFewPoints is returned for a polyline with fewer than 2 coordinates.
	ErrTooFewPoints = errors.New("polyline must have at least 2 points")
	// ErrZeroLength is returned for a polyline whose points all coincide.
	ErrZeroLength = errors.New("polyline has zero length")
)

// to3857 projects lon/lat onto web mercator, the plane headings are measured in.
var to3857 = wgs84.EPSG().Transform(4326, 3857)

// Validate checks that ls can be walked.
func Validate(ls orb.LineString) error {
	if len(ls) < 2 {
		return fmt.Errorf("%w, got %d", ErrTooFewPoints, len(ls))
	}
	if orbgeo.LengthHaversine(ls) == 0 {
		return ErrZeroLength
	}
	return nil
}

// PathLength returns the arc length of ls in the given unit.
func PathLength(ls orb.LineString, unit Unit) float64 {
	return unit.FromMeters(orbgeo.LengthHaversine(ls))
}

// PointAtDistance walks distance (in unit) along ls from its first vertex.
// Callers keep distance within [0, PathLength(ls, unit)]; values outside
// are pinned to the nearest endpoint.
func PointAtDistance(ls orb.LineString, distance float64, unit Unit) orb.Point {
	meters := unit.ToMeters(distance)
	if meters <= 0 {
		return ls[0]
	}
	if meters >= orbgeo.LengthHaversine(ls) {
		return ls[len(ls)-1]
	}
	p, _ := orbgeo.PointAtDistanceAlongLine(ls, meters)
	return p
}

// Heading returns the planar bearing from a to b in degrees, 0 = north,
// clockwise, in [0, 360). ok is false when a and b project to the same point.
func Heading(a, b orb.Point) (deg float64, ok bool) {
	ax, ay, _ := to3857(a.Lon(), a.Lat(), 0)
	bx, by, _ := to3857(b.Lon(), b.Lat(), 0)
	dx, dy := bx-ax, by-ay
	if dx == 0 && dy == 0 {
		return 0, false
	}
	return normalize(math.Atan2(dx, dy) * 180 / math.Pi), true
}

// DisplayHeading mirrors a compass heading for map renderers that rotate
// markers counter-clockwise.
func DisplayHeading(raw float64) float64 {
	return normalize(-raw)
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// -0 and values that round up to 360
	if deg >= 360 || deg == 0 {
		return 0
	}
	return deg
}
