// Package runlog keeps a sqlite history of eeg-dipole runs.
package runlog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/acpuchades/eegtools/internal/monitoring"
	"github.com/acpuchades/eegtools/internal/timeutil"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Status is the outcome of a run.
type Status string

const (
	StatusRunning     Status = "running"
	StatusOK          Status = "ok"
	StatusFailed      Status = "failed"
	StatusInterrupted Status = "interrupted"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// ErrNotFound is returned by Get for an unknown run ID.
var ErrNotFound = errors.New("run not found")

// Run is one row of the history.
type Run struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
	Input      string
	Type       string
	Method     string
	Forward    string
	Outputs    []string
	NSources   int
	NTimes     int
	Status     Status
	Error      string
	Version    string
}

// Result is what Finish records about a completed run.
type Result struct {
	Outputs  []string
	NSources int
	NTimes   int
	Err      error
}

// Store is an open history database.
type Store struct {
	db    *sql.DB
	clock timeutil.Clock
}

// Open opens or creates the history database at path and migrates it to the
// latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure %s: %w", path, err)
	}
	s := &Store{db: db, clock: timeutil.RealClock{}}
	if err := s.migrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrateUp() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	// m is not closed: that would close the shared connection.
	m.Log = migrateLogger{}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// SchemaVersion returns the applied migration version.
func (s *Store) SchemaVersion(ctx context.Context) (uint, error) {
	var v uint
	err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_migrations LIMIT 1`).Scan(&v)
	return v, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// Start records a new running entry and fills in its ID and start time.
func (s *Store) Start(ctx context.Context, run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	run.StartedAt = s.clock.Now().UTC()
	run.Status = StatusRunning
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, started_at, input, input_type, method, fwd_file, status, tool_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.StartedAt.Format(timeLayout), run.Input, run.Type,
		run.Method, run.Forward, string(run.Status), run.Version)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// Finish marks a run as completed. A nil res.Err means success and a
// context.Canceled error means the run was interrupted.
func (s *Store) Finish(ctx context.Context, id uuid.UUID, res Result) error {
	status, msg := StatusOK, ""
	switch {
	case errors.Is(res.Err, context.Canceled):
		status, msg = StatusInterrupted, res.Err.Error()
	case res.Err != nil:
		status, msg = StatusFailed, res.Err.Error()
	}
	out, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished_at = ?, outputs = ?, n_sources = ?, n_times = ?, status = ?, error = ?
		WHERE run_id = ?`,
		s.clock.Now().UTC().Format(timeLayout), strings.Join(res.Outputs, "\n"),
		res.NSources, res.NTimes, string(status), msg, id.String())
	if err != nil {
		return fmt.Errorf("finish run %s: %w", id, err)
	}
	if n, err := out.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrNotFound)
	}
	return nil
}

const selectRuns = `
	SELECT run_id, started_at, COALESCE(finished_at, ''), input, input_type, method, fwd_file,
	       outputs, n_sources, n_times, status, error, tool_version
	FROM runs`

// Get returns one run.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRuns+` WHERE run_id = ?`, id.String())
	if err != nil {
		return nil, err
	}
	runs, err := scanRuns(rows)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return &runs[0], nil
}

// List returns the most recent runs, newest first. A non-positive limit
// returns every run.
func (s *Store) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, selectRuns+` ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	return scanRuns(rows)
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer rows.Close()
	var runs []Run
	for rows.Next() {
		var (
			r                     Run
			id, started, finished string
			outputs, status       string
		)
		if err := rows.Scan(&id, &started, &finished, &r.Input, &r.Type, &r.Method, &r.Forward,
			&outputs, &r.NSources, &r.NTimes, &status, &r.Error, &r.Version); err != nil {
			return nil, err
		}
		var err error
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("run id %q: %w", id, err)
		}
		if r.StartedAt, err = time.Parse(timeLayout, started); err != nil {
			return nil, err
		}
		if finished != "" {
			if r.FinishedAt, err = time.Parse(timeLayout, finished); err != nil {
				return nil, err
			}
		}
		if outputs != "" {
			r.Outputs = strings.Split(outputs, "\n")
		}
		r.Status = Status(status)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
