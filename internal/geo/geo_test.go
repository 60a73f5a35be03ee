package geo

import (
	"errors"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tol = 1e-9

var meridian = orb.LineString{{0, 0}, {0, 1}}

func TestValidate(t *testing.T) {
	require.NoError(t, Validate(meridian))

	err := Validate(orb.LineString{{1, 1}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooFewPoints))

	err = Validate(orb.LineString{{1, 1}, {1, 1}})
	assert.True(t, errors.Is(err, ErrZeroLength))
}

func TestPathLength_DegreesAlongMeridian(t *testing.T) {
	assert.InDelta(t, 1.0, PathLength(meridian, Degrees), tol)
}

func TestPathLength_UnitsAgree(t *testing.T) {
	ls := orb.LineString{{-0.1278, 51.5074}, {2.3522, 48.8566}, {13.4050, 52.5200}}

	km := PathLength(ls, Kilometers)
	assert.InDelta(t, km*1000, PathLength(ls, Meters), 1e-6)
	assert.InDelta(t, km/1.609344, PathLength(ls, Miles), 1e-9)
	assert.InDelta(t, km/1.852, PathLength(ls, NauticalMiles), 1e-9)
	// London to Paris to Berlin is roughly 340km + 880km
	assert.InDelta(t, 1220, km, 40)
}

func TestPointAtDistance_Endpoints(t *testing.T) {
	ls := orb.LineString{{10, 10}, {10.5, 10.2}, {11, 9.5}}
	length := PathLength(ls, Miles)

	assert.Equal(t, ls[0], PointAtDistance(ls, 0, Miles))
	assert.Equal(t, ls[2], PointAtDistance(ls, length, Miles))
}

func TestPointAtDistance_Midpoint(t *testing.T) {
	p := PointAtDistance(meridian, 0.5, Degrees)

	assert.InDelta(t, 0.0, p.Lon(), tol)
	assert.InDelta(t, 0.5, p.Lat(), tol)
}

func TestPointAtDistance_SecondSegment(t *testing.T) {
	ls := orb.LineString{{0, 0}, {0, 1}, {0, 3}}

	p := PointAtDistance(ls, 2, Degrees)
	assert.InDelta(t, 0.0, p.Lon(), tol)
	assert.InDelta(t, 2.0, p.Lat(), 1e-6)
}

func TestHeading(t *testing.T) {
	tests := []struct {
		name string
		from orb.Point
		to   orb.Point
		want float64
	}{
		{"north", orb.Point{0, 0}, orb.Point{0, 1}, 0},
		{"east", orb.Point{0, 0}, orb.Point{1, 0}, 90},
		{"south", orb.Point{0, 1}, orb.Point{0, 0}, 180},
		{"west", orb.Point{1, 0}, orb.Point{0, 0}, 270},
		{"north east", orb.Point{0, 0}, orb.Point{1, 1}, 45},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Heading(tc.from, tc.to)
			require.True(t, ok)
			assert.InDelta(t, tc.want, got, 0.05)
		})
	}
}

func TestHeading_NoDisplacement(t *testing.T) {
	_, ok := Heading(orb.Point{5, 5}, orb.Point{5, 5})
	assert.False(t, ok)
}

func TestDisplayHeading(t *testing.T) {
	assert.Equal(t, 0.0, DisplayHeading(0))
	assert.Equal(t, 270.0, DisplayHeading(90))
	assert.Equal(t, 180.0, DisplayHeading(180))
	assert.Equal(t, 45.0, DisplayHeading(315))
}

func TestParseUnit(t *testing.T) {
	u, err := ParseUnit("KM")
	require.NoError(t, err)
	assert.Equal(t, Kilometers, u)

	u, err = ParseUnit(" miles ")
	require.NoError(t, err)
	assert.Equal(t, Miles, u)

	_, err = ParseUnit("furlongs")
	assert.Error(t, err)
}

func TestUnitRoundTrip(t *testing.T) {
	for _, u := range []Unit{Miles, Kilometers, Meters, Feet, NauticalMiles, Degrees, Radians} {
		assert.InDelta(t, 12.5, u.FromMeters(u.ToMeters(12.5)), 1e-9, string(u))
	}
}
