package sim

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"track-simulator/internal/track"
)

// Emitter delivers one tick's samples to the sink index.
type Emitter interface {
	Emit(ctx context.Context, index string, batch []track.Sample) error
}

// Metrics observes ticks and emits. A nil Metrics is allowed.
type Metrics interface {
	TickObserve(d time.Duration, b Batch)
	EmitObserve(d time.Duration, samples int, err error)
}

type RunnerConfig struct {
	Engine      *Engine
	Emitter     Emitter
	Index       string
	Interval    time.Duration
	EmitTimeout time.Duration
	Now         func() time.Time // defaults to time.Now
	Metrics     Metrics
	LogSamples  bool
	Logger      zerolog.Logger
}

// Runner fires a tick on a fixed period until its context is cancelled.
// Ticks never overlap: a slow tick delays the next one.
type Runner struct {
	engine      *Engine
	emitter     Emitter
	index       string
	interval    time.Duration
	emitTimeout time.Duration
	now         func() time.Time
	metrics     Metrics
	logSamples  bool
	log         zerolog.Logger
}

func NewRunner(cfg RunnerConfig) (*Runner, error) {
	if cfg.Engine == nil || cfg.Emitter == nil {
		return nil, errors.New("runner needs an engine and an emitter")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("invalid tick interval %v", cfg.Interval)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runner{
		engine:      cfg.Engine,
		emitter:     cfg.Emitter,
		index:       cfg.Index,
		interval:    cfg.Interval,
		emitTimeout: cfg.EmitTimeout,
		now:         now,
		metrics:     cfg.Metrics,
		logSamples:  cfg.LogSamples,
		log:         cfg.Logger,
	}, nil
}

// Run ticks immediately and then every interval. It returns ctx.Err() once
// ctx is cancelled; a tick already started finishes first.
func (r *Runner) Run(ctx context.Context, run *Run) error {
	r.log.Info().Str("index", r.index).Dur("interval", r.interval).
		Int("entities", len(r.engine.Paths())).Msg("simulation started")

	r.Step(ctx, run)

	tick := time.NewTicker(r.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			r.Step(ctx, run)
		}
	}
}

// Step runs a single tick: advance every entity, then hand the batch to the
// emitter. Emit failures are logged and never roll back the advance.
func (r *Runner) Step(ctx context.Context, run *Run) Batch {
	tickStart := time.Now()
	b := r.engine.Tick(run, r.now())
	if r.metrics != nil {
		r.metrics.TickObserve(time.Since(tickStart), b)
	}

	r.log.Debug().Int("tick", b.Tick).Time("at", b.Time).Int("samples", len(b.Samples)).
		Str("omitted", b.Omitted).Msg("generate waypoints")
	if r.logSamples {
		for _, s := range b.Samples {
			r.log.Debug().Str("track", s.EntityID).
				Floats64("location", []float64{s.Position.Lon(), s.Position.Lat()}).
				Msg("update track")
		}
	}

	emitCtx := ctx
	if r.emitTimeout > 0 {
		var cancel context.CancelFunc
		emitCtx, cancel = context.WithTimeout(ctx, r.emitTimeout)
		defer cancel()
	}
	emitStart := time.Now()
	err := r.emitter.Emit(emitCtx, r.index, b.Samples)
	if r.metrics != nil {
		r.metrics.EmitObserve(time.Since(emitStart), len(b.Samples), err)
	}
	if err != nil {
		r.log.Error().Err(err).Int("tick", b.Tick).Int("samples", len(b.Samples)).
			Str("index", r.index).Msg("emit failed")
	}
	return b
}
