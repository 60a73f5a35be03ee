package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Collector struct {
	reg *prometheus.Registry

	Entities prometheus.Gauge

	Ticks          prometheus.Counter
	SamplesEmitted prometheus.Counter
	SamplesOmitted prometheus.Counter
	Bounces        prometheus.Counter
	EmitErrors     prometheus.Counter

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge

	TickDuration    prometheus.Histogram
	EmitDuration    prometheus.Histogram
	PublishDuration prometheus.Histogram

	SpeedUnitsPerHour prometheus.Gauge
	TickInterval      prometheus.Gauge // seconds
	JitterWindow      prometheus.Gauge // seconds
}

func NewCollector(entities int, speedUnitsPerHour float64, tickInterval, jitterWindow time.Duration) *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_entities",
			Help: "Number of simulated entities.",
		}),
		Ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_ticks_total",
			Help: "Total ticks run.",
		}),
		SamplesEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_samples_emitted_total",
			Help: "Total samples accepted by the sink.",
		}),
		SamplesOmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_samples_omitted_total",
			Help: "Total samples held out of a batch by random omission.",
		}),
		Bounces: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_bounces_total",
			Help: "Total times an entity reached the end of its path and reversed.",
		}),
		EmitErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_emit_errors_total",
			Help: "Total failed batch emits.",
		}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_published_total",
			Help: "Total NATS messages published.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simulator_nats_publish_errors_total",
			Help: "Total NATS publish errors.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_nats_connected",
			Help: "1 if NATS connection is established, 0 otherwise.",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_tick_duration_seconds",
			Help:    "Duration of simulation tick computations.",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 15),
		}),
		EmitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_emit_duration_seconds",
			Help:    "Duration to deliver one batch to the sink.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simulator_publish_duration_seconds",
			Help:    "Duration to marshal and publish a NATS message.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
		SpeedUnitsPerHour: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_speed_units_per_hour",
			Help: "Configured entity speed in distance units per hour.",
		}),
		TickInterval: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_tick_interval_seconds",
			Help: "Tick interval in seconds.",
		}),
		JitterWindow: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_jitter_window_seconds",
			Help: "Timestamp jitter window in seconds, 0 when disabled.",
		}),
	}

	reg.MustRegister(
		c.Entities,
		c.Ticks, c.SamplesEmitted, c.SamplesOmitted, c.Bounces, c.EmitErrors,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected,
		c.TickDuration, c.EmitDuration, c.PublishDuration,
		c.SpeedUnitsPerHour, c.TickInterval, c.JitterWindow,
	)

	c.Entities.Set(float64(entities))
	c.SpeedUnitsPerHour.Set(speedUnitsPerHour)
	c.TickInterval.Set(tickInterval.Seconds())
	c.JitterWindow.Set(jitterWindow.Seconds())

	return c
}

func (c *Collector) Handler() http.Handler { return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{}) }

// Serve starts an HTTP server exposing /metrics on the given address.
func (c *Collector) Serve(addr string, log zerolog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", c.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server error")
		}
	}()
	log.Info().Str("addr", addr).Msg("metrics listening")
	return srv
}
