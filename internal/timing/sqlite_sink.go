package timing

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// SQLiteSink stores records in a sqlite database, one row per record keyed
// by run id and sequence number. NaN values are stored as NULL.
type SQLiteSink struct {
	db     *sql.DB
	insert *sql.Stmt
	runID  string
	seq    int64
}

// RunInfo describes one recorded run.
type RunInfo struct {
	RunID     string
	Mode      string
	Label     string
	StartedAt time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending schema migrations.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	// m is not closed: closing it would close the shared database handle.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// NewSQLiteSink registers a new run in db and returns a sink writing to it.
// The run id is a fresh UUID.
func NewSQLiteSink(db *sql.DB, mode, label string, startedAt time.Time) (*SQLiteSink, error) {
	runID := uuid.NewString()
	if _, err := db.Exec(
		`INSERT INTO runs (run_id, mode, label, started_at) VALUES (?, ?, ?, ?)`,
		runID, mode, label, startedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return nil, fmt.Errorf("sqlite sink: register run: %w", err)
	}
	stmt, err := db.Prepare(`
		INSERT INTO timing_records (run_id, seq, time_s, event, target_hz, dt, actual_hz, err_hz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: prepare insert: %w", err)
	}
	return &SQLiteSink{db: db, insert: stmt, runID: runID}, nil
}

// RunID returns the id rows are written under.
func (s *SQLiteSink) RunID() string { return s.runID }

func nullable(v float64) sql.NullFloat64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: v, Valid: true}
}

func fromNullable(v sql.NullFloat64) float64 {
	if !v.Valid {
		return math.NaN()
	}
	return v.Float64
}

// Write inserts one record.
func (s *SQLiteSink) Write(r Record) error {
	if s.insert == nil {
		return ErrSinkClosed
	}
	s.seq++
	if _, err := s.insert.Exec(
		s.runID, s.seq, r.Time, r.Event,
		nullable(r.TargetHz), nullable(r.DT), nullable(r.ActualHz), nullable(r.ErrHz),
	); err != nil {
		return fmt.Errorf("sqlite sink: insert: %w", err)
	}
	return nil
}

// Close releases the prepared statement. The database handle stays open;
// it belongs to the caller of OpenSQLite.
func (s *SQLiteSink) Close() error {
	if s.insert == nil {
		return nil
	}
	err := s.insert.Close()
	s.insert = nil
	return err
}

// LoadRecords returns the records of a run in write order.
func LoadRecords(db *sql.DB, runID string) ([]Record, error) {
	rows, err := db.Query(`
		SELECT time_s, event, target_hz, dt, actual_hz, err_hz
		FROM timing_records WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			r                      Record
			target, dt, act, errHz sql.NullFloat64
		)
		if err := rows.Scan(&r.Time, &r.Event, &target, &dt, &act, &errHz); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		r.TargetHz, r.DT, r.ActualHz, r.ErrHz = fromNullable(target), fromNullable(dt), fromNullable(act), fromNullable(errHz)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRuns returns every recorded run, oldest first.
func ListRuns(db *sql.DB) ([]RunInfo, error) {
	rows, err := db.Query(`SELECT run_id, mode, label, started_at FROM runs ORDER BY started_at, run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			ri      RunInfo
			started string
		)
		if err := rows.Scan(&ri.RunID, &ri.Mode, &ri.Label, &started); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if ri.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", ri.RunID, err)
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}
