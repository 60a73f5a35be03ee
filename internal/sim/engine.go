package sim

import (
	"errors"
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"

	"track-simulator/internal/geo"
	"track-simulator/internal/track"
)

// endTolerance absorbs rounding in the measured path length so an entity
// that has covered the whole path bounces on that tick.
const endTolerance = 1e-12

// Options configure how entities move and which derived fields are emitted.
type Options struct {
	SpeedUnitsPerHour float64
	Unit              geo.Unit
	JitterWindow      time.Duration
	DisplayHeading    bool
	Omission          OmissionPolicy
}

// Batch is the outcome of one tick.
type Batch struct {
	Tick    int
	Time    time.Time
	Samples []track.Sample
	Omitted string   // entity held out of Samples, if any
	Bounced []string // entities that reached the end of their path
}

// Engine advances every entity by wall-clock time and assembles batches.
// It is not safe for concurrent use; a Runner calls it from one goroutine.
type Engine struct {
	paths  []track.Path
	states map[string]*TravelState
	opts   Options
	log    zerolog.Logger
}

func NewEngine(paths []track.Path, opts Options, log zerolog.Logger) (*Engine, error) {
	if len(paths) == 0 {
		return nil, errors.New("no paths to simulate")
	}
	if opts.SpeedUnitsPerHour < 0 {
		return nil, fmt.Errorf("invalid speed %v", opts.SpeedUnitsPerHour)
	}
	states := make(map[string]*TravelState, len(paths))
	for i := range paths {
		p := &paths[i]
		if _, dup := states[p.ID]; dup {
			return nil, fmt.Errorf("%w %q", track.ErrDuplicateID, p.ID)
		}
		states[p.ID] = newTravelState(p)
	}
	return &Engine{paths: paths, states: states, opts: opts, log: log}, nil
}

// Paths returns the simulated paths in declaration order.
func (e *Engine) Paths() []track.Path { return e.paths }

// State returns a copy of the travel state for path id.
func (e *Engine) State(id string) (TravelState, bool) {
	st, ok := e.states[id]
	if !ok {
		return TravelState{}, false
	}
	return *st, true
}

// Tick advances every entity to now and returns the batch to emit. Every
// entity advances, including one held out of the batch.
func (e *Engine) Tick(run *Run, now time.Time) Batch {
	b := Batch{Tick: run.Tick, Time: now, Samples: make([]track.Sample, 0, len(e.paths))}
	omit := run.omitted(len(e.paths), e.opts.Omission)

	for i := range e.paths {
		p := &e.paths[i]
		st := e.states[p.ID]
		s, bounced := e.advance(p, st, now)
		if bounced {
			b.Bounced = append(b.Bounced, p.ID)
			e.log.Info().Str("track", p.ID).Int("traversals", st.Traversals).
				Str("direction", st.Direction.String()).Msg("Reset track")
		}
		if i == omit {
			b.Omitted = p.ID
			continue
		}
		if e.opts.JitterWindow > 0 {
			jt := now.Add(-run.jitter(e.opts.JitterWindow))
			s.JitteredTimestamp = &jt
		}
		b.Samples = append(b.Samples, s)
	}
	run.Tick++
	return b
}

func (e *Engine) advance(p *track.Path, st *TravelState, now time.Time) (track.Sample, bool) {
	dir := st.Direction
	line := p.Line(dir)
	var (
		pos     orb.Point
		target  float64
		bounced bool
	)

	if st.LastUpdate.IsZero() || st.AtStart {
		pos = line[0]
		st.AtStart = false
	} else {
		elapsed := now.Sub(st.LastUpdate)
		if elapsed < 0 {
			elapsed = 0
		}
		candidate := st.DistanceTraveled + elapsed.Hours()*e.opts.SpeedUnitsPerHour
		if candidate < p.Length*(1-endTolerance) {
			target = candidate
			st.DistanceTraveled = candidate
		} else {
			target = p.Length
			st.DistanceTraveled = 0
			st.AtStart = true
			st.Direction = dir.Flip()
			st.Traversals++
			bounced = true
		}
		pos = geo.PointAtDistance(line, target, e.opts.Unit)
	}

	if h, ok := geo.Heading(st.LastPosition, pos); ok {
		st.Heading = &h
	}
	st.LastUpdate = now
	st.LastPosition = pos

	s := track.Sample{
		EntityID:  p.ID,
		Position:  pos,
		Speed:     e.opts.SpeedUnitsPerHour,
		Direction: dir,
		Distance:  target,
		Timestamp: now,
	}
	if st.Heading != nil {
		h := *st.Heading
		s.Heading = &h
		if e.opts.DisplayHeading {
			d := geo.DisplayHeading(h)
			s.DisplayHeading = &d
		}
	}
	return s, bounced
}
