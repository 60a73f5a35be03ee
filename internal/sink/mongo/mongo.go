package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"track-simulator/internal/sink"
	"track-simulator/internal/track"
)

// Sink stores samples in a MongoDB collection named after the index.
type Sink struct {
	client *mongo.Client
	db     *mongo.Database
	log    zerolog.Logger
}

var _ sink.Sink = (*Sink)(nil)

// New connects to uri and uses database for all collections. The
// connection is verified by Ping, not here.
func New(ctx context.Context, uri, database string, log zerolog.Logger) (*Sink, error) {
	client, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetAppName("track-simulator").
		SetServerSelectionTimeout(5*time.Second))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return &Sink{client: client, db: client.Database(database), log: log}, nil
}

func (s *Sink) Ping(ctx context.Context) (bool, error) {
	if s.client == nil {
		return false, fmt.Errorf("mongo client is nil")
	}
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Sink) Exists(ctx context.Context, name string) (bool, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: name}})
	if err != nil {
		return false, err
	}
	return len(names) > 0, nil
}

// Create makes a native time-series collection for the time-series schema,
// otherwise a plain collection with a 2dsphere index on location.
func (s *Sink) Create(ctx context.Context, name string, schema sink.Schema) error {
	if schema.TimeSeries {
		opts := options.CreateCollection().SetTimeSeriesOptions(
			options.TimeSeries().
				SetTimeField(sink.FieldTimestamp).
				SetMetaField(sink.FieldEntityID).
				SetGranularity("seconds"),
		)
		return s.db.CreateCollection(ctx, name, opts)
	}

	if err := s.db.CreateCollection(ctx, name); err != nil {
		return err
	}
	_, err := s.db.Collection(name).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: sink.FieldLocation, Value: "2dsphere"}},
	})
	if err != nil {
		return fmt.Errorf("create 2dsphere index: %w", err)
	}
	return nil
}

func (s *Sink) Delete(ctx context.Context, name string) error {
	return s.db.Collection(name).Drop(ctx)
}

// Emit inserts the batch unordered so one bad document does not hold back
// the rest.
func (s *Sink) Emit(ctx context.Context, name string, batch []track.Sample) error {
	if s.db == nil {
		return fmt.Errorf("mongo database is nil")
	}
	if len(batch) == 0 {
		return nil
	}
	docs := make([]any, 0, len(batch))
	for _, sample := range batch {
		docs = append(docs, Document(sample))
	}
	_, err := s.db.Collection(name).InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	return partialInsert(err, len(batch))
}

// partialInsert turns per-document write errors of an unordered insert into
// a *sink.PartialError. Anything else is returned unchanged.
func partialInsert(err error, n int) error {
	var bwe mongo.BulkWriteException
	if !errors.As(err, &bwe) || bwe.WriteConcernError != nil || len(bwe.WriteErrors) == 0 {
		return err
	}
	return &sink.PartialError{
		Accepted: n - len(bwe.WriteErrors),
		Rejected: len(bwe.WriteErrors),
		Err:      err,
	}
}

func (s *Sink) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Document renders a sample as BSON. Location is a GeoJSON point and the
// timestamps are BSON dates.
func Document(s track.Sample) bson.M {
	doc := bson.M{
		sink.FieldTimestamp: s.Timestamp.UTC(),
		sink.FieldEntityID:  s.EntityID,
		sink.FieldLocation: bson.M{
			"type":        "Point",
			"coordinates": bson.A{s.Position.Lon(), s.Position.Lat()},
		},
		sink.FieldSpeed:     s.Speed,
		sink.FieldDirection: s.Direction.String(),
		sink.FieldDistance:  s.Distance,
	}
	if s.Heading != nil {
		doc[sink.FieldHeading] = *s.Heading
	}
	if s.DisplayHeading != nil {
		doc[sink.FieldHeadingDisplay] = *s.DisplayHeading
	}
	if s.JitteredTimestamp != nil {
		doc[sink.FieldJitteredTimestamp] = s.JitteredTimestamp.UTC()
	}
	return doc
}
