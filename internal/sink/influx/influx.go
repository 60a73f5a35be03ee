package influx

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2_http "github.com/influxdata/influxdb-client-go/v2/api/http"
	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/influxdata/influxdb-client-go/v2/domain"
	"github.com/rs/zerolog"

	"track-simulator/internal/sink"
	"track-simulator/internal/track"
)

// Measurement every sample is written under.
const Measurement = "waypoint"

type Config struct {
	URL         string
	Token       string
	Org         string
	Retention   time.Duration
	InsecureTLS bool
}

// Sink writes samples into an InfluxDB bucket. The index name is the bucket.
type Sink struct {
	client influxdb2.Client
	org    string
	ret    time.Duration
	log    zerolog.Logger
}

var _ sink.Sink = (*Sink)(nil)

func New(cfg Config, log zerolog.Logger) *Sink {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetTLSConfig(&tls.Config{InsecureSkipVerify: cfg.InsecureTLS}),
	)
	return &Sink{client: client, org: cfg.Org, ret: cfg.Retention, log: log}
}

func (s *Sink) Ping(ctx context.Context) (bool, error) {
	return s.client.Ping(ctx)
}

func (s *Sink) Exists(ctx context.Context, name string) (bool, error) {
	_, err := s.client.BucketsAPI().FindBucketByName(ctx, name)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, err
}

// Create makes the bucket in the configured organization, creating the
// organization first when it is missing. The schema is implicit in Influx:
// entity_id is a tag and every other field is a point field.
func (s *Sink) Create(ctx context.Context, name string, _ sink.Schema) error {
	orgs := s.client.OrganizationsAPI()
	org, err := orgs.FindOrganizationByName(ctx, s.org)
	if err != nil {
		s.log.Info().Str("org", s.org).Msg("Organization not found, creating")
		org, err = orgs.CreateOrganizationWithName(ctx, s.org)
		if err != nil {
			return fmt.Errorf("create organization %s: %w", s.org, err)
		}
	}

	var rules []domain.RetentionRule
	if s.ret > 0 {
		expire := domain.RetentionRuleTypeExpire
		rules = append(rules, domain.RetentionRule{
			Type:         &expire,
			EverySeconds: int64(s.ret / time.Second),
		})
	}
	if _, err := s.client.BucketsAPI().CreateBucketWithName(ctx, org, name, rules...); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	return nil
}

func (s *Sink) Delete(ctx context.Context, name string) error {
	buckets := s.client.BucketsAPI()
	b, err := buckets.FindBucketByName(ctx, name)
	if err != nil {
		if isNotFound(err) {
			return nil
		}
		return err
	}
	return buckets.DeleteBucket(ctx, b)
}

func (s *Sink) Emit(ctx context.Context, name string, batch []track.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	points := make([]*influxdb2_write.Point, 0, len(batch))
	for _, sample := range batch {
		points = append(points, Point(sample))
	}
	return s.client.WriteAPIBlocking(s.org, name).WritePoint(ctx, points...)
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}

// Point converts a sample to a line-protocol point timestamped with the
// sample's true time.
func Point(s track.Sample) *influxdb2_write.Point {
	fields := map[string]any{
		"lon":               s.Position.Lon(),
		"lat":               s.Position.Lat(),
		sink.FieldSpeed:     s.Speed,
		sink.FieldDirection: s.Direction.String(),
		sink.FieldDistance:  s.Distance,
	}
	if s.Heading != nil {
		fields[sink.FieldHeading] = *s.Heading
	}
	if s.DisplayHeading != nil {
		fields[sink.FieldHeadingDisplay] = *s.DisplayHeading
	}
	if s.JitteredTimestamp != nil {
		fields[sink.FieldJitteredTimestamp] = s.JitteredTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return influxdb2.NewPoint(Measurement,
		map[string]string{sink.FieldEntityID: s.EntityID},
		fields,
		s.Timestamp,
	)
}

// isNotFound matches both the API's 404 and the client's own "bucket not
// found" error for an empty lookup result.
func isNotFound(err error) bool {
	var herr *influxdb2_http.Error
	if errors.As(err, &herr) && herr.StatusCode == http.StatusNotFound {
		return true
	}
	return strings.Contains(err.Error(), "not found")
}
