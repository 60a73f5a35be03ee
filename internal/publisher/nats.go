package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"track-simulator/internal/sink"
	"track-simulator/internal/track"
)

// NATSPublisher is a sink backed by a JetStream stream. The index is the
// stream; each sample is published on <index>.<entity>.
type NATSPublisher struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	logSubjects bool
	metrics     PublisherMetrics
	log         zerolog.Logger
}

var _ sink.Sink = (*NATSPublisher)(nil)

type PublisherMetrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

func NewNATSPublisher(url string, logSubjects bool, m PublisherMetrics, log zerolog.Logger) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("track-simulator"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			log.Info().Msg("nats reconnected")
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			log.Info().Msg("nats closed")
		}),
	)
	if err != nil {
		return nil, err
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	return &NATSPublisher{nc: nc, js: js, logSubjects: logSubjects, metrics: m, log: log}, nil
}

func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.nc.Close()
	return err
}

func (p *NATSPublisher) Ping(ctx context.Context) (bool, error) {
	if p.nc.Status() != nats.CONNECTED {
		return false, nil
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (p *NATSPublisher) Exists(ctx context.Context, name string) (bool, error) {
	_, err := p.js.StreamInfo(subjectToken(name), nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Create adds a stream capturing every subject under the index. The
// time-series schema has no stream-level counterpart.
func (p *NATSPublisher) Create(ctx context.Context, name string, _ sink.Schema) error {
	_, err := p.js.AddStream(StreamConfig(name), nats.Context(ctx))
	return err
}

func (p *NATSPublisher) Delete(ctx context.Context, name string) error {
	err := p.js.DeleteStream(subjectToken(name), nats.Context(ctx))
	if errors.Is(err, nats.ErrStreamNotFound) {
		return nil
	}
	return err
}

// Emit publishes one message per sample and flushes, so a lost connection
// shows up as an error for this tick. Failed publishes on a healthy
// connection come back as a *sink.PartialError.
func (p *NATSPublisher) Emit(ctx context.Context, name string, batch []track.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	var errs []error
	for _, s := range batch {
		if err := p.PublishPosition(name, NewPositionMessage(s)); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.EntityID, err))
		}
	}
	if err := p.nc.FlushWithContext(ctx); err != nil {
		return errors.Join(append(errs, fmt.Errorf("flush: %w", err))...)
	}
	if len(errs) == 0 {
		return nil
	}
	return &sink.PartialError{
		Accepted: len(batch) - len(errs),
		Rejected: len(errs),
		Err:      errors.Join(errs...),
	}
}

type PositionMessage struct {
	EntityID          string     `json:"entityId"`
	Timestamp         time.Time  `json:"timestamp"`
	JitteredTimestamp *time.Time `json:"jitteredTimestamp,omitempty"`
	Lat               float64    `json:"lat"`
	Lon               float64    `json:"lon"`
	Heading           *float64   `json:"heading,omitempty"`
	HeadingDisplay    *float64   `json:"headingDisplay,omitempty"`
	Speed             float64    `json:"speed"`
	Direction         string     `json:"direction"`
	Distance          float64    `json:"distance"`
}

func NewPositionMessage(s track.Sample) PositionMessage {
	return PositionMessage{
		EntityID:          s.EntityID,
		Timestamp:         s.Timestamp.UTC(),
		JitteredTimestamp: s.JitteredTimestamp,
		Lat:               s.Position.Lat(),
		Lon:               s.Position.Lon(),
		Heading:           s.Heading,
		HeadingDisplay:    s.DisplayHeading,
		Speed:             s.Speed,
		Direction:         s.Direction.String(),
		Distance:          s.Distance,
	}
}

func (p *NATSPublisher) PublishPosition(index string, msg PositionMessage) error {
	subject := Subject(index, msg.EntityID)
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if p.logSubjects {
		p.log.Debug().Str("subject", subject).Msg("nats publish")
	}
	start := time.Now()
	err = p.nc.Publish(subject, b)
	if p.metrics != nil {
		p.metrics.PublishObserve(time.Since(start))
		if err != nil {
			p.metrics.NATSPublishErrInc()
		} else {
			p.metrics.NATSPublishedInc()
		}
	}
	return err
}

// StreamConfig is the stream created for an index.
func StreamConfig(index string) *nats.StreamConfig {
	name := subjectToken(index)
	return &nats.StreamConfig{
		Name:     name,
		Subjects: []string{name + ".>"},
		Storage:  nats.FileStorage,
	}
}

func Subject(index, entityID string) string {
	return fmt.Sprintf("%s.%s", subjectToken(index), subjectToken(entityID))
}

func subjectToken(s string) string {
	s = strings.TrimSpace(s)
	// NATS token cannot contain spaces, '>', '*', or trailing '.'
	repl := strings.NewReplacer(" ", "_", ".", "_", ">", "_", "*", "_", "/", "_", "\t", "_")
	s = repl.Replace(s)
	if s == "" {
		s = "_"
	}
	return s
}
