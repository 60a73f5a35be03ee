package sim

import (
	"time"

	"github.com/paulmach/orb"

	"track-simulator/internal/track"
)

// TravelState is an entity's progress along its path. The Engine owns every
// TravelState; nothing else reads or writes them.
type TravelState struct {
	// DistanceTraveled is measured along the current direction and stays
	// within [0, path length].
	DistanceTraveled float64
	LastPosition     orb.Point
	LastUpdate       time.Time // zero until the first tick
	// AtStart makes the next tick emit the origin without advancing.
	AtStart    bool
	Direction  track.Direction
	Heading    *float64
	Traversals int
}

func newTravelState(p *track.Path) *TravelState {
	return &TravelState{
		LastPosition: p.Geometry[0],
		AtStart:      true,
		Direction:    track.Forward,
	}
}
