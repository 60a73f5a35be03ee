package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"track-simulator/internal/db"
	"track-simulator/internal/geo"
	"track-simulator/internal/sim"
	"track-simulator/internal/sink"
)

// Sink backends.
const (
	SinkElasticsearch = "elasticsearch"
	SinkInflux        = "influx"
	SinkPostgres      = "postgres"
	SinkMongo         = "mongo"
	SinkNATS          = "nats"
)

type Config struct {
	TracksFile string

	SinkType        string
	Index           string
	SinkURL         string
	Username        string
	Password        string
	Token           string
	Database        string
	InsecureTLS     bool
	InfluxOrg       string
	InfluxRetention time.Duration

	TickInterval      time.Duration
	SpeedUnitsPerHour float64
	Unit              geo.Unit
	JitterWindow      time.Duration
	TimeSeries        bool
	Omission          sim.OmissionPolicy
	DisplayHeading    bool
	RandomSeed        int64

	Recreate    sink.RecreatePolicy
	EmitTimeout time.Duration

	MetricsAddr string
	LogLevel    string
	LogFormat   string
	LogSamples  bool
}

// Schema is the sink schema the options select.
func (c *Config) Schema() sink.Schema {
	return sink.Schema{
		TimeSeries:     c.TimeSeries,
		Jitter:         c.JitterWindow > 0,
		DisplayHeading: c.DisplayHeading,
	}
}

var defaults = map[string]any{
	"TRACKS_FILE":            "tracks.json",
	"SINK_TYPE":              SinkElasticsearch,
	"SINK_INDEX":             "tracks",
	"SINK_USERNAME":          "elastic",
	"SINK_PASSWORD":          "changeme",
	"SINK_DATABASE":          "tracks",
	"SINK_INSECURE_TLS":      "true",
	"INFLUX_ORG":             "tracks",
	"INFLUX_RETENTION_HOURS": "0",
	"TICK_INTERVAL_MS":       "500",
	"SPEED_UNITS_PER_HOUR":   "500000",
	"DISTANCE_UNIT":          string(geo.Miles),
	"JITTER_WINDOW_MS":       "0",
	"TIME_SERIES":            "false",
	"RANDOM_OMISSION":        "false",
	"OMISSION_WINDOW_TICKS":  "5",
	"OMISSION_GAP_TICKS":     "5",
	"DISPLAY_HEADING":        "false",
	"RECREATE_INDEX":         string(sink.RecreateAsk),
	"EMIT_TIMEOUT_MS":        "5000",
	"RANDOM_SEED":            "0",
	"LOG_LEVEL":              "info",
	"LOG_FORMAT":             "console",
	"LOG_SAMPLES":            "false",
}

// flags maps command-line flags onto the keys they override.
var flags = []struct {
	name, key, usage string
	isBool           bool
}{
	{"config", "CONFIG_FILE", "config file (json, yaml or toml)", false},
	{"tracks", "TRACKS_FILE", "GeoJSON FeatureCollection of LineString paths", false},
	{"sink", "SINK_TYPE", "sink backend: elasticsearch, influx, postgres, mongo, nats", false},
	{"index", "SINK_INDEX", "index, bucket, table, collection or stream name", false},
	{"sink-url", "SINK_URL", "sink endpoint", false},
	{"tick-ms", "TICK_INTERVAL_MS", "tick interval in milliseconds", false},
	{"speed", "SPEED_UNITS_PER_HOUR", "entity speed in distance units per hour", false},
	{"unit", "DISTANCE_UNIT", "distance unit: miles, kilometers, meters, feet, nauticalmiles, degrees, radians", false},
	{"jitter-ms", "JITTER_WINDOW_MS", "timestamp jitter window in milliseconds, 0 disables", false},
	{"time-series", "TIME_SERIES", "create the index as a time series", true},
	{"omit", "RANDOM_OMISSION", "randomly hold one entity out of the batch", true},
	{"recreate", "RECREATE_INDEX", "existing index: ask, always, never", false},
}

// Load resolves every option from, highest precedence first: args, the
// environment (including .env), the optional config file, defaults.
func Load(args []string) (*Config, error) {
	// Load .env into environment (ignore if missing)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()

	fs := pflag.NewFlagSet("track-simulator", pflag.ContinueOnError)
	for _, f := range flags {
		if f.isBool {
			fs.Bool(f.name, false, f.usage)
		} else {
			fs.String(f.name, "", f.usage)
		}
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	for _, f := range flags {
		if fl := fs.Lookup(f.name); fl.Changed {
			v.Set(f.key, fl.Value.String())
		}
	}

	if file := v.GetString("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	var err error

	cfg.TracksFile = v.GetString("TRACKS_FILE")
	if strings.TrimSpace(cfg.TracksFile) == "" {
		return nil, errors.New("TRACKS_FILE must be set")
	}

	switch t := strings.ToLower(strings.TrimSpace(v.GetString("SINK_TYPE"))); t {
	case "elasticsearch", "elastic", "es":
		cfg.SinkType = SinkElasticsearch
	case "influx", "influxdb":
		cfg.SinkType = SinkInflux
	case "postgres", "postgresql", "timescale":
		cfg.SinkType = SinkPostgres
	case "mongo", "mongodb":
		cfg.SinkType = SinkMongo
	case "nats", "jetstream":
		cfg.SinkType = SinkNATS
	default:
		return nil, fmt.Errorf("invalid SINK_TYPE: %q", t)
	}

	cfg.Index = v.GetString("SINK_INDEX")
	if strings.TrimSpace(cfg.Index) == "" {
		return nil, errors.New("SINK_INDEX must be set")
	}
	cfg.Username = v.GetString("SINK_USERNAME")
	cfg.Password = v.GetString("SINK_PASSWORD")
	cfg.Token = v.GetString("SINK_TOKEN")
	cfg.Database = v.GetString("SINK_DATABASE")
	cfg.InsecureTLS = parseBool(v.GetString("SINK_INSECURE_TLS"))
	cfg.InfluxOrg = v.GetString("INFLUX_ORG")

	hours, err := nonNegativeInt(v, "INFLUX_RETENTION_HOURS")
	if err != nil {
		return nil, err
	}
	cfg.InfluxRetention = time.Duration(hours) * time.Hour

	if cfg.SinkURL, err = sinkURL(v, cfg); err != nil {
		return nil, err
	}

	// Tick interval
	if s := v.GetString("TICK_INTERVAL_MS"); s != "" {
		ms, err := strconv.Atoi(s)
		if err != nil || ms <= 0 {
			return nil, fmt.Errorf("invalid TICK_INTERVAL_MS: %q", s)
		}
		cfg.TickInterval = time.Duration(ms) * time.Millisecond
	}

	// Speed
	if s := v.GetString("SPEED_UNITS_PER_HOUR"); s != "" {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f < 0 {
			return nil, fmt.Errorf("invalid SPEED_UNITS_PER_HOUR: %q", s)
		}
		cfg.SpeedUnitsPerHour = f
	}

	if cfg.Unit, err = geo.ParseUnit(v.GetString("DISTANCE_UNIT")); err != nil {
		return nil, fmt.Errorf("invalid DISTANCE_UNIT: %w", err)
	}

	ms, err := nonNegativeInt(v, "JITTER_WINDOW_MS")
	if err != nil {
		return nil, err
	}
	cfg.JitterWindow = time.Duration(ms) * time.Millisecond

	cfg.TimeSeries = parseBool(v.GetString("TIME_SERIES"))
	cfg.DisplayHeading = parseBool(v.GetString("DISPLAY_HEADING"))

	cfg.Omission.Enabled = parseBool(v.GetString("RANDOM_OMISSION"))
	if cfg.Omission.Window, err = nonNegativeInt(v, "OMISSION_WINDOW_TICKS"); err != nil {
		return nil, err
	}
	if cfg.Omission.Gap, err = nonNegativeInt(v, "OMISSION_GAP_TICKS"); err != nil {
		return nil, err
	}

	if s := v.GetString("RANDOM_SEED"); s != "" {
		seed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid RANDOM_SEED: %q", s)
		}
		cfg.RandomSeed = seed
	}

	if cfg.Recreate, err = sink.ParseRecreatePolicy(v.GetString("RECREATE_INDEX")); err != nil {
		return nil, fmt.Errorf("invalid RECREATE_INDEX: %w", err)
	}

	ms, err = nonNegativeInt(v, "EMIT_TIMEOUT_MS")
	if err != nil {
		return nil, err
	}
	cfg.EmitTimeout = time.Duration(ms) * time.Millisecond

	// Metrics listen address (e.g., ":9102"). Empty disables the metrics server.
	cfg.MetricsAddr = v.GetString("METRICS_ADDR")

	cfg.LogLevel = v.GetString("LOG_LEVEL")
	cfg.LogFormat = v.GetString("LOG_FORMAT")
	cfg.LogSamples = parseBool(v.GetString("LOG_SAMPLES"))

	return cfg, nil
}

// sinkURL picks the endpoint: SINK_URL when given, otherwise the backend's
// conventional variable or local default.
func sinkURL(v *viper.Viper, cfg *Config) (string, error) {
	explicit := v.GetString("SINK_URL")
	switch cfg.SinkType {
	case SinkElasticsearch:
		return firstNonEmpty(explicit, "http://localhost:9200"), nil
	case SinkInflux:
		return firstNonEmpty(explicit, os.Getenv("INFLUX_URL"), "http://localhost:8086"), nil
	case SinkMongo:
		return firstNonEmpty(explicit, os.Getenv("MONGO_URI"), "mongodb://localhost:27017"), nil
	case SinkNATS:
		return firstNonEmpty(explicit, os.Getenv("NATS_URL"), "nats://127.0.0.1:4222"), nil
	}

	// Postgres: prefer SINK_URL / DATABASE_URL / PG_DSN, else build from PG* vars
	dsn := firstNonEmpty(explicit, os.Getenv("DATABASE_URL"), os.Getenv("PG_DSN"))
	if dsn == "" {
		return db.Params{
			Host:     getenvDefault("PGHOST", "127.0.0.1"),
			Port:     getenvDefault("PGPORT", "5432"),
			User:     getenvDefault("PGUSER", "postgres"),
			Password: os.Getenv("PGPASSWORD"),
			Database: firstNonEmpty(os.Getenv("PGDATABASE"), cfg.Database),
			SSLMode:  getenvDefault("PGSSLMODE", "disable"),
		}.DSN(), nil
	}
	// A non-default SINK_DATABASE overrides the database named in the DSN.
	if cfg.Database != "" && cfg.Database != defaults["SINK_DATABASE"] {
		return db.WithDBName(dsn, cfg.Database)
	}
	return dsn, nil
}

func nonNegativeInt(v *viper.Viper, key string) (int, error) {
	s := v.GetString(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", key, s)
	}
	return n, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
