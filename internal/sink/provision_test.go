package sink

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-simulator/internal/geo"
	"track-simulator/internal/prompt"
	"track-simulator/internal/sim"
	"track-simulator/internal/track"
)

type fakeSink struct {
	reachable bool
	pingErr   error
	exists    bool
	calls     []string
	emitted   []string
	schema    Schema
}

func (f *fakeSink) Ping(context.Context) (bool, error) {
	f.calls = append(f.calls, "ping")
	return f.reachable, f.pingErr
}

func (f *fakeSink) Exists(_ context.Context, name string) (bool, error) {
	f.calls = append(f.calls, "exists "+name)
	return f.exists, nil
}

func (f *fakeSink) Create(_ context.Context, name string, schema Schema) error {
	f.calls = append(f.calls, "create "+name)
	f.schema = schema
	f.exists = true
	return nil
}

func (f *fakeSink) Delete(_ context.Context, name string) error {
	f.calls = append(f.calls, "delete "+name)
	f.exists = false
	return nil
}

func (f *fakeSink) Emit(_ context.Context, name string, _ []track.Sample) error {
	f.emitted = append(f.emitted, name)
	return nil
}

func (f *fakeSink) Close() error { return nil }

var _ Sink = (*fakeSink)(nil)

type countingConfirmer struct {
	answer bool
	asked  []string
}

func (c *countingConfirmer) Confirm(q string) (bool, error) {
	c.asked = append(c.asked, q)
	return c.answer, nil
}

func TestProvision_CreatesMissingIndex(t *testing.T) {
	f := &fakeSink{reachable: true}
	schema := Schema{TimeSeries: true}

	err := Provision(context.Background(), f, "tracks", schema, RecreateAsk, prompt.Fixed(false), zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"ping", "exists tracks", "create tracks"}, f.calls)
	assert.Equal(t, schema, f.schema)
}

func TestProvision_Unreachable(t *testing.T) {
	f := &fakeSink{reachable: false}
	err := Provision(context.Background(), f, "tracks", Schema{}, RecreateAsk, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Equal(t, []string{"ping"}, f.calls)

	f = &fakeSink{pingErr: errors.New("dial tcp: connection refused")}
	err = Provision(context.Background(), f, "tracks", Schema{}, RecreateAsk, nil, zerolog.Nop())
	assert.ErrorIs(t, err, ErrUnreachable)
	assert.Contains(t, err.Error(), "connection refused")
}

func TestProvision_OperatorAcceptsRecreate(t *testing.T) {
	f := &fakeSink{reachable: true, exists: true}
	c := &countingConfirmer{answer: true}

	err := Provision(context.Background(), f, "tracks", Schema{}, RecreateAsk, c, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"ping", "exists tracks", "delete tracks", "create tracks"}, f.calls)
	assert.Equal(t, []string{"Index tracks exists. Should delete and recreate? [n|Y]"}, c.asked)
}

func TestProvision_Policies(t *testing.T) {
	f := &fakeSink{reachable: true, exists: true}
	c := &countingConfirmer{answer: false}
	require.NoError(t, Provision(context.Background(), f, "tracks", Schema{}, RecreateAlways, c, zerolog.Nop()))
	assert.Contains(t, f.calls, "delete tracks")
	assert.Empty(t, c.asked)

	f = &fakeSink{reachable: true, exists: true}
	c = &countingConfirmer{answer: true}
	require.NoError(t, Provision(context.Background(), f, "tracks", Schema{}, RecreateNever, c, zerolog.Nop()))
	assert.Equal(t, []string{"ping", "exists tracks"}, f.calls)
	assert.Empty(t, c.asked)
}

func TestProvision_DeclinedKeepsIndexAndStillEmits(t *testing.T) {
	f := &fakeSink{reachable: true, exists: true}
	c := &countingConfirmer{answer: false}

	err := Provision(context.Background(), f, "tracks", Schema{}, RecreateAsk, c, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, c.asked, 1)
	assert.NotContains(t, f.calls, "delete tracks")
	assert.NotContains(t, f.calls, "create tracks")

	ls := orb.LineString{{0, 0}, {0, 1}}
	rev := ls.Clone()
	rev.Reverse()
	paths := []track.Path{{ID: "0", Geometry: ls, Reversed: rev, Length: geo.PathLength(ls, geo.Miles)}}
	engine, err := sim.NewEngine(paths, sim.Options{SpeedUnitsPerHour: 10, Unit: geo.Miles}, zerolog.Nop())
	require.NoError(t, err)
	runner, err := sim.NewRunner(sim.RunnerConfig{Engine: engine, Emitter: f, Index: "tracks", Interval: time.Second, Logger: zerolog.Nop()})
	require.NoError(t, err)

	run := sim.NewRun(1)
	for i := 0; i < 3; i++ {
		runner.Step(context.Background(), run)
	}
	assert.Equal(t, []string{"tracks", "tracks", "tracks"}, f.emitted)
}

func TestParseRecreatePolicy(t *testing.T) {
	p, err := ParseRecreatePolicy("ALWAYS")
	require.NoError(t, err)
	assert.Equal(t, RecreateAlways, p)

	p, err = ParseRecreatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, RecreateAsk, p)

	_, err = ParseRecreatePolicy("maybe")
	assert.Error(t, err)
}

func TestSchemaFields(t *testing.T) {
	names := func(fs []Field) []string {
		var out []string
		for _, f := range fs {
			out = append(out, f.Name)
		}
		return out
	}

	plain := Schema{}.Fields()
	assert.Equal(t, []string{FieldTimestamp, FieldEntityID, FieldLocation, FieldHeading, FieldSpeed, FieldDirection, FieldDistance}, names(plain))
	for _, f := range plain {
		assert.False(t, f.Dimension || f.Metric, f.Name)
	}

	full := Schema{TimeSeries: true, Jitter: true, DisplayHeading: true}.Fields()
	assert.Contains(t, names(full), FieldHeadingDisplay)
	assert.Equal(t, FieldJitteredTimestamp, full[len(full)-1].Name)
	assert.True(t, full[1].Dimension)
	assert.True(t, full[2].Metric)
}

func TestDocument(t *testing.T) {
	h, d := 90.0, 270.0
	ts := time.Date(2024, 5, 1, 12, 0, 0, 500, time.UTC)
	jt := ts.Add(-time.Second)
	s := track.Sample{
		EntityID: "bus-7", Position: orb.Point{13.4, 52.5}, Heading: &h, DisplayHeading: &d,
		Speed: 50, Direction: track.Reversed, Distance: 1.25, Timestamp: ts, JitteredTimestamp: &jt,
	}

	doc := Document(s)
	assert.Equal(t, []float64{13.4, 52.5}, doc[FieldLocation])
	assert.Equal(t, "bus-7", doc[FieldEntityID])
	assert.Equal(t, 90.0, doc[FieldHeading])
	assert.Equal(t, 270.0, doc[FieldHeadingDisplay])
	assert.Equal(t, "reversed", doc[FieldDirection])
	assert.Equal(t, "2024-05-01T12:00:00.0000005Z", doc[FieldTimestamp])
	assert.Equal(t, "2024-05-01T11:59:59.0000005Z", doc[FieldJitteredTimestamp])

	bare := Document(track.Sample{EntityID: "x", Timestamp: ts})
	assert.NotContains(t, bare, FieldHeading)
	assert.NotContains(t, bare, FieldHeadingDisplay)
	assert.NotContains(t, bare, FieldJitteredTimestamp)
}

func TestAccepted(t *testing.T) {
	assert.Equal(t, 5, Accepted(5, nil))
	assert.Equal(t, 0, Accepted(5, errors.New("connection refused")))

	partial := fmt.Errorf("bulk: %w", &PartialError{Accepted: 3, Rejected: 2, Err: errors.New("b: bad")})
	assert.Equal(t, 3, Accepted(5, partial))
	assert.Equal(t, "bulk: 2 of 5 samples rejected: b: bad", partial.Error())
}
