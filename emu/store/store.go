// Package store persists prediction runs in a SQLite database so results can
// be listed and retrieved later by id.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver (pure Go)

	"github.com/mira-titan/hmfemu/emu"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// Run is one stored prediction.
type Run struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	Design    string        `json:"design"`
	Redshift  float64       `json:"redshift"`
	Cosmology emu.Cosmology `json:"cosmology"`
	Log10M    []float64     `json:"log10m"`
	Value     []float64     `json:"value"`
	Sigma     []float64     `json:"sigma"`
}

// Store wraps the runs database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	design     TEXT NOT NULL,
	redshift   REAL NOT NULL,
	cosmology  TEXT NOT NULL,
	log10m     TEXT NOT NULL,
	value      TEXT NOT NULL,
	sigma      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS runs_created_at ON runs (created_at);
`

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway store.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run store %s: %w", path, err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize run store %s: %w", path, err)
	}
	logrus.Debugf("Opened run store %s", path)
	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save assigns the run a new id and creation time, stores it, and returns
// the id.
func (s *Store) Save(ctx context.Context, run *Run) (string, error) {
	ids, err := s.SaveAll(ctx, []*Run{run})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// SaveAll stores runs in one transaction: either every run is stored or none
// is. Ids and creation times are assigned to the runs only after commit.
func (s *Store) SaveAll(ctx context.Context, runs []*Run) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO runs (id, created_at, design, redshift, cosmology, log10m, value, sigma)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return nil, fmt.Errorf("prepare statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	created := s.now().UTC().Truncate(time.Millisecond)
	ids := make([]string, len(runs))
	for i, run := range runs {
		cols, err := marshalAll(run.Cosmology, run.Log10M, run.Value, run.Sigma)
		if err != nil {
			return nil, fmt.Errorf("encode run %d: %w", i, err)
		}
		ids[i] = uuid.NewString()
		if _, err := stmt.ExecContext(ctx,
			ids[i], created.UnixMilli(), run.Design, run.Redshift, cols[0], cols[1], cols[2], cols[3]); err != nil {
			return nil, fmt.Errorf("insert run %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	for i, run := range runs {
		run.ID = ids[i]
		run.CreatedAt = created
	}
	return ids, nil
}

// Get returns the run with the given id.
func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, design, redshift, cosmology, log10m, value, sigma FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return run, err
}

// List returns up to limit runs, newest first. limit <= 0 returns all runs.
func (s *Store) List(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, created_at, design, redshift, cosmology, log10m, value, sigma
		 FROM runs ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (*Run, error) {
	var (
		run                             Run
		createdAt                       int64
		cosmology, log10m, value, sigma string
	)
	if err := sc.Scan(&run.ID, &createdAt, &run.Design, &run.Redshift, &cosmology, &log10m, &value, &sigma); err != nil {
		return nil, err
	}
	run.CreatedAt = time.UnixMilli(createdAt).UTC()
	for _, f := range []struct {
		raw string
		dst any
	}{
		{cosmology, &run.Cosmology},
		{log10m, &run.Log10M},
		{value, &run.Value},
		{sigma, &run.Sigma},
	} {
		if err := json.Unmarshal([]byte(f.raw), f.dst); err != nil {
			return nil, fmt.Errorf("decode run %s: %w", run.ID, err)
		}
	}
	return &run, nil
}

func marshalAll(vals ...any) ([]string, error) {
	out := make([]string, len(vals))
	for i, v := range vals {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		out[i] = string(b)
	}
	return out, nil
}
