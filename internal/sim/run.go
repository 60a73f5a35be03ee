package sim

import (
	"math/rand"
	"time"
)

// OmissionPolicy drops one entity's samples for Window consecutive ticks,
// then emits full batches for Gap ticks before picking the next entity.
type OmissionPolicy struct {
	Enabled bool
	Window  int
	Gap     int
}

// Run carries the counters of one simulation run across ticks. A fresh Run
// restarts tick numbering and the omission cycle.
type Run struct {
	Tick int

	rng *rand.Rand

	omitIndex     int
	omitRemaining int
	gapRemaining  int
}

// NewRun returns a run drawing from a source seeded with seed, or from the
// clock when seed is 0.
func NewRun(seed int64) *Run {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Run{rng: rand.New(rand.NewSource(seed)), omitIndex: -1}
}

// omitted returns the index held out of this tick's batch, or -1.
func (r *Run) omitted(n int, p OmissionPolicy) int {
	if !p.Enabled || n == 0 {
		return -1
	}
	window := p.Window
	if window < 1 {
		window = 1
	}
	if r.omitRemaining == 0 && r.gapRemaining == 0 {
		r.omitIndex = r.rng.Intn(n)
		r.omitRemaining = window
	}
	if r.omitRemaining > 0 {
		r.omitRemaining--
		if r.omitRemaining == 0 {
			r.gapRemaining = p.Gap
		}
		return r.omitIndex
	}
	r.gapRemaining--
	return -1
}

// jitter returns a random offset in [0, window).
func (r *Run) jitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return time.Duration(r.rng.Int63n(int64(window)))
}
