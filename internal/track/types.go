package track

import (
	"time"

	"github.com/paulmach/orb"
)

// Direction is the order a path's coordinates are walked in.
type Direction int

const (
	Forward Direction = iota
	Reversed
)

func (d Direction) Flip() Direction {
	if d == Forward {
		return Reversed
	}
	return Forward
}

func (d Direction) String() string {
	if d == Reversed {
		return "reversed"
	}
	return "forward"
}

// Path is an immutable polyline a single entity patrols.
type Path struct {
	ID         string
	Geometry   orb.LineString // lon, lat
	Reversed   orb.LineString // Geometry walked backwards
	Length     float64        // in the configured distance unit
	Properties map[string]any
}

// Line returns the geometry as walked in direction d.
func (p *Path) Line(d Direction) orb.LineString {
	if d == Reversed {
		return p.Reversed
	}
	return p.Geometry
}

// Sample is one entity's telemetry for one tick.
type Sample struct {
	EntityID          string
	Position          orb.Point
	Heading           *float64 // nil until the entity has moved
	DisplayHeading    *float64 // only set when the display variant is enabled
	Speed             float64
	Direction         Direction
	Distance          float64 // along the current traversal
	Timestamp         time.Time
	JitteredTimestamp *time.Time
}
