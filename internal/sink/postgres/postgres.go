package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"track-simulator/internal/db"
	"track-simulator/internal/sink"
	"track-simulator/internal/track"
)

const tableSchema = "public"

// Sink writes samples as rows of a table named after the index. With the
// time-series schema the table becomes a TimescaleDB hypertable on
// @timestamp.
type Sink struct {
	db     *sql.DB
	schema sink.Schema
	log    zerolog.Logger

	mu      sync.Mutex
	inserts map[string]insertPlan
}

var _ sink.Sink = (*Sink)(nil)

// insertPlan is the prepared insert for one table, limited to the schema
// fields the table actually has.
type insertPlan struct {
	query  string
	fields []sink.Field
}

func New(dsn string, schema sink.Schema, log zerolog.Logger) (*Sink, error) {
	conn, err := db.Open(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	return &Sink{db: conn, schema: schema, log: log, inserts: map[string]insertPlan{}}, nil
}

func (s *Sink) Ping(ctx context.Context) (bool, error) {
	if err := db.Ping(ctx, s.db); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Sink) Exists(ctx context.Context, name string) (bool, error) {
	return db.TableExists(ctx, s.db, tableSchema, name)
}

func (s *Sink) Create(ctx context.Context, name string, schema sink.Schema) error {
	s.forget(name)
	if _, err := s.db.ExecContext(ctx, CreateTableSQL(name, schema)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if !schema.TimeSeries {
		return nil
	}
	// create_hypertable needs the timescaledb extension in the target database.
	q := `SELECT create_hypertable($1::text::regclass, $2::name)`
	if _, err := s.db.ExecContext(ctx, q, quote(name), sink.FieldTimestamp); err != nil {
		return fmt.Errorf("create hypertable: %w", err)
	}
	return nil
}

func (s *Sink) Delete(ctx context.Context, name string) error {
	s.forget(name)
	if _, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+quote(name)); err != nil {
		return fmt.Errorf("drop table: %w", err)
	}
	return nil
}

// Emit inserts the batch in a single transaction.
func (s *Sink) Emit(ctx context.Context, name string, batch []track.Sample) error {
	if len(batch) == 0 {
		return nil
	}
	plan, err := s.plan(ctx, name)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, plan.query)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, sample := range batch {
		if _, err := stmt.ExecContext(ctx, InsertArgs(plan.fields, sample)...); err != nil {
			return fmt.Errorf("insert %s: %w", sample.EntityID, err)
		}
	}
	return tx.Commit()
}

func (s *Sink) Close() error { return s.db.Close() }

// plan builds (once per table) the insert for the fields the existing table
// has, so a retained table from an earlier run with fewer optional columns
// still accepts samples.
func (s *Sink) plan(ctx context.Context, name string) (insertPlan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.inserts[name]; ok {
		return p, nil
	}

	cols, err := db.Columns(ctx, s.db, tableSchema, name)
	if err != nil {
		return insertPlan{}, fmt.Errorf("table columns: %w", err)
	}
	if len(cols) == 0 {
		return insertPlan{}, fmt.Errorf("table %s does not exist", name)
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}
	var fields []sink.Field
	for _, f := range s.schema.Fields() {
		if have[f.Name] {
			fields = append(fields, f)
		} else {
			s.log.Warn().Str("table", name).Str("column", f.Name).Msg("Column missing, field not written")
		}
	}
	p := insertPlan{query: InsertSQL(name, fields), fields: fields}
	s.inserts[name] = p
	return p, nil
}

func (s *Sink) forget(name string) {
	s.mu.Lock()
	delete(s.inserts, name)
	s.mu.Unlock()
}

func columnType(k sink.Kind) string {
	switch k {
	case sink.KindGeoPoint:
		return "point"
	case sink.KindKeyword:
		return "text"
	case sink.KindDate:
		return "timestamptz"
	default:
		return "double precision"
	}
}

// CreateTableSQL renders the table definition for schema.
func CreateTableSQL(name string, schema sink.Schema) string {
	var cols []string
	for _, f := range schema.Fields() {
		col := quote(f.Name) + " " + columnType(f.Kind)
		if f.Required {
			col += " NOT NULL"
		}
		cols = append(cols, col)
	}
	return fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", quote(name), strings.Join(cols, ",\n  "))
}

// InsertSQL renders a parameterised insert for fields. Location takes two
// parameters (lon, lat) combined with point().
func InsertSQL(name string, fields []sink.Field) string {
	cols := make([]string, 0, len(fields))
	vals := make([]string, 0, len(fields))
	n := 1
	for _, f := range fields {
		cols = append(cols, quote(f.Name))
		if f.Kind == sink.KindGeoPoint {
			vals = append(vals, fmt.Sprintf("point($%d, $%d)", n, n+1))
			n += 2
			continue
		}
		vals = append(vals, fmt.Sprintf("$%d", n))
		n++
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quote(name), strings.Join(cols, ", "), strings.Join(vals, ", "))
}

// InsertArgs returns the parameters for InsertSQL in field order. Optional
// values the sample lacks are NULL.
func InsertArgs(fields []sink.Field, s track.Sample) []any {
	args := make([]any, 0, len(fields)+1)
	for _, f := range fields {
		switch f.Name {
		case sink.FieldTimestamp:
			args = append(args, s.Timestamp.UTC())
		case sink.FieldEntityID:
			args = append(args, s.EntityID)
		case sink.FieldLocation:
			args = append(args, s.Position.Lon(), s.Position.Lat())
		case sink.FieldHeading:
			args = append(args, nullable(s.Heading))
		case sink.FieldHeadingDisplay:
			args = append(args, nullable(s.DisplayHeading))
		case sink.FieldSpeed:
			args = append(args, s.Speed)
		case sink.FieldDirection:
			args = append(args, s.Direction.String())
		case sink.FieldDistance:
			args = append(args, s.Distance)
		case sink.FieldJitteredTimestamp:
			if s.JitteredTimestamp != nil {
				args = append(args, s.JitteredTimestamp.UTC())
			} else {
				args = append(args, nil)
			}
		default:
			args = append(args, nil)
		}
	}
	return args
}

func nullable(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func quote(name string) string { return pgx.Identifier{name}.Sanitize() }
