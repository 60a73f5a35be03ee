package sink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"track-simulator/internal/track"
)

// Field names shared by every backend.
const (
	FieldLocation          = "location"
	FieldEntityID          = "entity_id"
	FieldHeading           = "heading"
	FieldHeadingDisplay    = "heading_display"
	FieldSpeed             = "speed"
	FieldDirection         = "direction"
	FieldDistance          = "distance"
	FieldTimestamp         = "@timestamp"
	FieldJitteredTimestamp = "@timestamp_jittered"
)

// Provisioner manages the index (table, bucket, collection, stream) the
// samples land in.
type Provisioner interface {
	Ping(ctx context.Context) (bool, error)
	Exists(ctx context.Context, name string) (bool, error)
	Create(ctx context.Context, name string, schema Schema) error
	Delete(ctx context.Context, name string) error
}

// Emitter writes one tick's samples to the named index.
type Emitter interface {
	Emit(ctx context.Context, name string, batch []track.Sample) error
}

// Sink is a telemetry backend.
type Sink interface {
	Provisioner
	Emitter
	Close() error
}

// PartialError reports a batch the backend accepted only in part.
type PartialError struct {
	Accepted int
	Rejected int
	Err      error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%d of %d samples rejected: %v", e.Rejected, e.Accepted+e.Rejected, e.Err)
}

func (e *PartialError) Unwrap() error { return e.Err }

// Accepted is how many of n emitted samples the backend took, given the
// error Emit returned.
func Accepted(n int, err error) int {
	if err == nil {
		return n
	}
	var pe *PartialError
	if errors.As(err, &pe) {
		return pe.Accepted
	}
	return 0
}

type Kind int

const (
	KindGeoPoint Kind = iota
	KindKeyword
	KindNumber
	KindDate
)

// Field describes one document field. Dimension and Metric are only honoured
// by the time-series schema variant.
type Field struct {
	Name      string
	Kind      Kind
	Dimension bool
	Metric    bool
	Required  bool
}

// Schema selects the optional fields and the time-series variant.
type Schema struct {
	TimeSeries     bool
	Jitter         bool
	DisplayHeading bool
}

// Fields lists the document fields in a stable order.
func (s Schema) Fields() []Field {
	fields := []Field{
		{Name: FieldTimestamp, Kind: KindDate, Required: true},
		{Name: FieldEntityID, Kind: KindKeyword, Dimension: s.TimeSeries, Required: true},
		{Name: FieldLocation, Kind: KindGeoPoint, Metric: s.TimeSeries, Required: true},
		{Name: FieldHeading, Kind: KindNumber},
	}
	if s.DisplayHeading {
		fields = append(fields, Field{Name: FieldHeadingDisplay, Kind: KindNumber})
	}
	fields = append(fields,
		Field{Name: FieldSpeed, Kind: KindNumber, Required: true},
		Field{Name: FieldDirection, Kind: KindKeyword},
		Field{Name: FieldDistance, Kind: KindNumber},
	)
	if s.Jitter {
		fields = append(fields, Field{Name: FieldJitteredTimestamp, Kind: KindDate})
	}
	return fields
}

// Document renders a sample as a JSON-ready document. Location is
// [lon, lat]; optional fields are left out when the sample has no value.
func Document(s track.Sample) map[string]any {
	doc := map[string]any{
		FieldTimestamp: s.Timestamp.UTC().Format(time.RFC3339Nano),
		FieldEntityID:  s.EntityID,
		FieldLocation:  []float64{s.Position.Lon(), s.Position.Lat()},
		FieldSpeed:     s.Speed,
		FieldDirection: s.Direction.String(),
		FieldDistance:  s.Distance,
	}
	if s.Heading != nil {
		doc[FieldHeading] = *s.Heading
	}
	if s.DisplayHeading != nil {
		doc[FieldHeadingDisplay] = *s.DisplayHeading
	}
	if s.JitteredTimestamp != nil {
		doc[FieldJitteredTimestamp] = s.JitteredTimestamp.UTC().Format(time.RFC3339Nano)
	}
	return doc
}
