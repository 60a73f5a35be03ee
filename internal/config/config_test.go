package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"track-simulator/internal/geo"
	"track-simulator/internal/sink"
)

// clearEnv blanks every variable Load consults so the host environment does
// not leak into a test.
func clearEnv(t *testing.T) {
	for k := range defaults {
		t.Setenv(k, "")
	}
	for _, k := range []string{
		"CONFIG_FILE", "SINK_URL", "SINK_TOKEN", "METRICS_ADDR",
		"INFLUX_URL", "MONGO_URI", "NATS_URL",
		"DATABASE_URL", "PG_DSN", "PGHOST", "PGPORT", "PGUSER", "PGPASSWORD", "PGDATABASE", "PGSSLMODE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "tracks.json", cfg.TracksFile)
	assert.Equal(t, SinkElasticsearch, cfg.SinkType)
	assert.Equal(t, "tracks", cfg.Index)
	assert.Equal(t, "http://localhost:9200", cfg.SinkURL)
	assert.Equal(t, "elastic", cfg.Username)
	assert.True(t, cfg.InsecureTLS)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 500000.0, cfg.SpeedUnitsPerHour)
	assert.Equal(t, geo.Miles, cfg.Unit)
	assert.Zero(t, cfg.JitterWindow)
	assert.False(t, cfg.TimeSeries)
	assert.False(t, cfg.Omission.Enabled)
	assert.Equal(t, 5, cfg.Omission.Window)
	assert.Equal(t, 5, cfg.Omission.Gap)
	assert.Equal(t, sink.RecreateAsk, cfg.Recreate)
	assert.Equal(t, 5*time.Second, cfg.EmitTimeout)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, sink.Schema{}, cfg.Schema())
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("SINK_TYPE", "InfluxDB")
	t.Setenv("INFLUX_URL", "http://influx:8086")
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("DISTANCE_UNIT", "km")
	t.Setenv("JITTER_WINDOW_MS", "1000")
	t.Setenv("TIME_SERIES", "yes")
	t.Setenv("RANDOM_OMISSION", "on")
	t.Setenv("OMISSION_WINDOW_TICKS", "3")
	t.Setenv("DISPLAY_HEADING", "1")
	t.Setenv("INFLUX_RETENTION_HOURS", "48")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, SinkInflux, cfg.SinkType)
	assert.Equal(t, "http://influx:8086", cfg.SinkURL)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, geo.Kilometers, cfg.Unit)
	assert.Equal(t, time.Second, cfg.JitterWindow)
	assert.True(t, cfg.Omission.Enabled)
	assert.Equal(t, 3, cfg.Omission.Window)
	assert.Equal(t, 48*time.Hour, cfg.InfluxRetention)
	assert.Equal(t, sink.Schema{TimeSeries: true, Jitter: true, DisplayHeading: true}, cfg.Schema())
}

func TestLoad_FlagsOverrideEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("TICK_INTERVAL_MS", "250")
	t.Setenv("SINK_INDEX", "from-env")

	cfg, err := Load([]string{"--tick-ms", "100", "--index", "from-flag", "--time-series", "--recreate", "never", "--sink", "nats"})
	require.NoError(t, err)
	assert.Equal(t, 100*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, "from-flag", cfg.Index)
	assert.True(t, cfg.TimeSeries)
	assert.Equal(t, sink.RecreateNever, cfg.Recreate)
	assert.Equal(t, "nats://127.0.0.1:4222", cfg.SinkURL)
}

func TestLoad_ConfigFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sim.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sink_type: mongo\nspeed_units_per_hour: 30\nsink_index: fleet\n"), 0o644))
	t.Setenv("SINK_INDEX", "env-wins")

	cfg, err := Load([]string{"--config", path})
	require.NoError(t, err)
	assert.Equal(t, SinkMongo, cfg.SinkType)
	assert.Equal(t, 30.0, cfg.SpeedUnitsPerHour)
	assert.Equal(t, "env-wins", cfg.Index)
	assert.Equal(t, "mongodb://localhost:27017", cfg.SinkURL)

	_, err = Load([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestLoad_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	_, err := Load(nil)
	require.NoError(t, err, "a missing .env is not an error")

	require.NoError(t, os.Mkdir(filepath.Join(dir, ".env"), 0o755))
	_, err = Load(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load .env")
}

func TestLoad_PostgresDSN(t *testing.T) {
	clearEnv(t)
	t.Setenv("SINK_TYPE", "postgres")
	t.Setenv("PGHOST", "db")
	t.Setenv("PGPASSWORD", "s3cret")

	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://postgres:s3cret@db:5432/tracks?sslmode=disable", cfg.SinkURL)

	t.Setenv("DATABASE_URL", "postgres://u@h:5432/postgres")
	t.Setenv("SINK_DATABASE", "fleet")
	cfg, err = Load(nil)
	require.NoError(t, err)
	assert.Equal(t, "postgres://u@h:5432/fleet", cfg.SinkURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"TICK_INTERVAL_MS":       "0",
		"SPEED_UNITS_PER_HOUR":   "-1",
		"DISTANCE_UNIT":          "furlongs",
		"JITTER_WINDOW_MS":       "soon",
		"OMISSION_GAP_TICKS":     "-2",
		"RECREATE_INDEX":         "maybe",
		"SINK_TYPE":              "kafka",
		"RANDOM_SEED":            "x",
		"INFLUX_RETENTION_HOURS": "1.5",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, val)
			_, err := Load(nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoad_Help(t *testing.T) {
	clearEnv(t)
	_, err := Load([]string{"--help"})
	assert.ErrorIs(t, err, pflag.ErrHelp)
}
