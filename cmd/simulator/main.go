package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"track-simulator/internal/config"
	"track-simulator/internal/logging"
	"track-simulator/internal/metrics"
	"track-simulator/internal/prompt"
	"track-simulator/internal/publisher"
	"track-simulator/internal/sim"
	"track-simulator/internal/sink"
	"track-simulator/internal/track"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// openSink is replaced in tests.
var openSink = newSink

// run returns the process exit code. Every resource opened here is released
// by a deferred call before it returns.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	// Load configuration from .env, config file, environment and flags
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		l := zerolog.New(stderr).With().Timestamp().Logger()
		l.Error().Err(err).Msg("config error")
		return 1
	}

	log, err := logging.New(stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		l := zerolog.New(stderr).With().Timestamp().Logger()
		l.Error().Err(err).Msg("logger error")
		return 1
	}

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := simulate(ctx, cfg, prompt.NewTerminal(stdin, stdout), log); err != nil {
		log.Error().Err(err).Str("sink", cfg.SinkType).Msg("simulator failed")
		return 1
	}
	log.Info().Msg("shutdown complete")
	return 0
}

func simulate(ctx context.Context, cfg *config.Config, confirm prompt.Confirmer, log zerolog.Logger) error {
	paths, err := track.Load(cfg.TracksFile, cfg.Unit)
	if err != nil {
		return fmt.Errorf("load tracks: %w", err)
	}
	log.Info().Int("tracks", len(paths)).Str("file", cfg.TracksFile).Msg("tracks loaded")

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector(len(paths), cfg.SpeedUnitsPerHour, cfg.TickInterval, cfg.JitterWindow)
		srv := mcol.Serve(cfg.MetricsAddr, log)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("metrics server shutdown")
			}
		}()
	}

	s, err := openSink(ctx, cfg, mcol, log)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Warn().Err(err).Msg("close sink")
		}
	}()

	if err := sink.Provision(ctx, s, cfg.Index, cfg.Schema(), cfg.Recreate, confirm, log); err != nil {
		return fmt.Errorf("provision index: %w", err)
	}

	engine, err := sim.NewEngine(paths, sim.Options{
		SpeedUnitsPerHour: cfg.SpeedUnitsPerHour,
		Unit:              cfg.Unit,
		JitterWindow:      cfg.JitterWindow,
		DisplayHeading:    cfg.DisplayHeading,
		Omission:          cfg.Omission,
	}, log)
	if err != nil {
		return fmt.Errorf("simulation setup: %w", err)
	}

	runner, err := sim.NewRunner(sim.RunnerConfig{
		Engine:      engine,
		Emitter:     s,
		Index:       cfg.Index,
		Interval:    cfg.TickInterval,
		EmitTimeout: cfg.EmitTimeout,
		Metrics:     wrapSimMetrics(mcol),
		LogSamples:  cfg.LogSamples,
		Logger:      log,
	})
	if err != nil {
		return fmt.Errorf("simulation setup: %w", err)
	}

	// Block until context cancelled
	if err := runner.Run(ctx, sim.NewRun(cfg.RandomSeed)); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("simulation stopped: %w", err)
	}
	return nil
}

// wrapSimMetrics adapts our Collector to the sim.Metrics interface.
func wrapSimMetrics(c *metrics.Collector) sim.Metrics {
	if c == nil {
		return nil
	}
	return &simMetrics{c: c}
}

type simMetrics struct{ c *metrics.Collector }

func (m *simMetrics) TickObserve(d time.Duration, b sim.Batch) {
	m.c.Ticks.Inc()
	m.c.TickDuration.Observe(d.Seconds())
	m.c.Bounces.Add(float64(len(b.Bounced)))
	if b.Omitted != "" {
		m.c.SamplesOmitted.Inc()
	}
}

// EmitObserve counts the samples the sink took, including the accepted
// part of a partially rejected batch.
func (m *simMetrics) EmitObserve(d time.Duration, samples int, err error) {
	m.c.EmitDuration.Observe(d.Seconds())
	if err != nil {
		m.c.EmitErrors.Inc()
	}
	m.c.SamplesEmitted.Add(float64(sink.Accepted(samples, err)))
}

// wrapPublisherMetrics adapts our Collector to the PublisherMetrics interface.
func wrapPublisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return &pubMetrics{c: c}
}

type pubMetrics struct{ c *metrics.Collector }

func (p *pubMetrics) NATSPublishedInc()              { p.c.NATSPublished.Inc() }
func (p *pubMetrics) NATSPublishErrInc()             { p.c.NATSPublishErrs.Inc() }
func (p *pubMetrics) PublishObserve(d time.Duration) { p.c.PublishDuration.Observe(d.Seconds()) }
func (p *pubMetrics) NATSSetConnected(b bool) {
	if b {
		p.c.NATSConnected.Set(1)
	} else {
		p.c.NATSConnected.Set(0)
	}
}
