package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"track-simulator/internal/config"
	"track-simulator/internal/metrics"
	"track-simulator/internal/publisher"
	"track-simulator/internal/sink"
	"track-simulator/internal/sink/elastic"
	"track-simulator/internal/sink/influx"
	"track-simulator/internal/sink/mongo"
	"track-simulator/internal/sink/postgres"
)

// newSink builds the backend SINK_TYPE selects. Reachability is checked
// later by provisioning.
func newSink(ctx context.Context, cfg *config.Config, mcol *metrics.Collector, log zerolog.Logger) (sink.Sink, error) {
	log = log.With().Str("sink", cfg.SinkType).Logger()
	switch cfg.SinkType {
	case config.SinkElasticsearch:
		return elastic.New(elastic.Config{
			URL:         cfg.SinkURL,
			Username:    cfg.Username,
			Password:    cfg.Password,
			InsecureTLS: cfg.InsecureTLS,
		}, log)
	case config.SinkInflux:
		return influx.New(influx.Config{
			URL:         cfg.SinkURL,
			Token:       cfg.Token,
			Org:         cfg.InfluxOrg,
			Retention:   cfg.InfluxRetention,
			InsecureTLS: cfg.InsecureTLS,
		}, log), nil
	case config.SinkPostgres:
		return postgres.New(cfg.SinkURL, cfg.Schema(), log)
	case config.SinkMongo:
		return mongo.New(ctx, cfg.SinkURL, cfg.Database, log)
	case config.SinkNATS:
		return publisher.NewNATSPublisher(cfg.SinkURL, cfg.LogSamples, wrapPublisherMetrics(mcol), log)
	}
	return nil, fmt.Errorf("unknown sink type %q", cfg.SinkType)
}
