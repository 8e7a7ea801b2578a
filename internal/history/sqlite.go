// Package history keeps a local log of readings in SQLite.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/fisaks/weatherstation/internal/logging"
	"github.com/fisaks/weatherstation/internal/weather"
)

const schema = `CREATE TABLE IF NOT EXISTS readings (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	kind   TEXT    NOT NULL,
	raw    INTEGER NOT NULL,
	value  REAL    NOT NULL,
	source TEXT    NOT NULL DEFAULT '',
	at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS readings_kind_id ON readings(kind, id);`

// Store is a weather.ReadingSink backed by SQLite. keep > 0 bounds the rows per kind.
type Store struct {
	db   *sql.DB
	keep int
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, keep int) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// one writer; sqlite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		logging.Warn("could not set WAL mode", "path", path, "error", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history schema: %w", err)
	}
	return &Store{db: db, keep: keep}, nil
}

func (s *Store) Name() string { return "sqlite" }

// Store implements weather.ReadingSink.
func (s *Store) Store(ctx context.Context, r weather.SensorReading) error {
	return s.Save(ctx, r)
}

func (s *Store) Save(ctx context.Context, r weather.SensorReading) error {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO readings(kind, raw, value, source, at) VALUES(?,?,?,?,?)`,
		r.Kind.String(), r.Raw, r.Value(), r.Source, at.UnixMilli())
	if err != nil {
		return fmt.Errorf("save %s reading: %w", r.Kind, err)
	}
	if s.keep > 0 {
		_, err = s.db.ExecContext(ctx,
			`DELETE FROM readings WHERE kind = ? AND id NOT IN
			 (SELECT id FROM readings WHERE kind = ? ORDER BY id DESC LIMIT ?)`,
			r.Kind.String(), r.Kind.String(), s.keep)
		if err != nil {
			return fmt.Errorf("prune %s readings: %w", r.Kind, err)
		}
	}
	return nil
}

// Recent returns up to limit readings of kind, newest first.
func (s *Store) Recent(ctx context.Context, kind weather.Kind, limit int) ([]weather.SensorReading, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, raw, source, at FROM readings WHERE kind = ? ORDER BY id DESC LIMIT ?`,
		kind.String(), limit)
	if err != nil {
		return nil, err
	}
	return scanReadings(rows)
}

// Latest returns the newest reading of every kind seen, in row order.
func (s *Store) Latest(ctx context.Context) ([]weather.SensorReading, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, raw, source, at FROM readings
		 WHERE id IN (SELECT MAX(id) FROM readings GROUP BY kind)`)
	if err != nil {
		return nil, err
	}
	found, err := scanReadings(rows)
	if err != nil {
		return nil, err
	}
	byKind := make(map[weather.Kind]weather.SensorReading, len(found))
	for _, r := range found {
		byKind[r.Kind] = r
	}
	out := make([]weather.SensorReading, 0, len(found))
	for _, k := range weather.Kinds {
		if r, ok := byKind[k]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func scanReadings(rows *sql.Rows) ([]weather.SensorReading, error) {
	defer rows.Close()
	var out []weather.SensorReading
	for rows.Next() {
		var (
			kind string
			r    weather.SensorReading
			at   int64
		)
		if err := rows.Scan(&kind, &r.Raw, &r.Source, &at); err != nil {
			return nil, err
		}
		k, err := weather.ParseKind(kind)
		if err != nil {
			logging.Warn("skipping history row", "kind", kind, "error", err)
			continue
		}
		r.Kind = k
		r.At = time.UnixMilli(at).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
