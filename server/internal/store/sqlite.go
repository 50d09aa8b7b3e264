package store

import (
	"context"
	"database/sql"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"github.com/nasalert/nasalert/server/internal/alerts"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS alerts (
	id    TEXT PRIMARY KEY,
	klass TEXT NOT NULL,
	data  TEXT NOT NULL
)`

// SQLite stores alerts in a single table of a SQLite database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("store: sqlite needs a database path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "store: open sqlite %q", path)
	}
	// One writer at a time keeps SQLite from returning SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "store: create sqlite schema")
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) List(ctx context.Context) ([]*alerts.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM alerts ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "store: query alerts")
	}
	defer rows.Close()

	var out []*alerts.Alert
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "store: scan alert")
		}
		a, err := decode([]byte(data))
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "store: iterate alerts")
}

func (s *SQLite) Put(ctx context.Context, a *alerts.Alert) error {
	data, err := encode(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, klass, data) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET klass = excluded.klass, data = excluded.data`,
		a.ID, a.Klass, string(data))
	return errors.Wrapf(err, "store: put alert %s", a.ID)
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alerts WHERE id = ?`, id)
	return errors.Wrapf(err, "store: delete alert %s", id)
}

func (s *SQLite) Close() error { return s.db.Close() }
