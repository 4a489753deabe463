package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	defaultBusyTimeout = 5 * time.Second
	openTimeout        = 5 * time.Second
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS records (
		tbl        TEXT NOT NULL,
		key        TEXT NOT NULL,
		data       BLOB NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (tbl, key)
	)`,
}

// Options describes parameters for opening a sqlite store.
type Options struct {
	Path     string // Database file; ":memory:" for a private in-memory database
	ReadOnly bool   // Open database in read-only mode
}

// DB is a sqlite backed record database split into named tables.
type DB struct {
	db       *sql.DB
	path     string
	readOnly bool
}

// Open initialises the sqlite database at opts.Path.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("store: path is required")
	}
	if opts.Path != ":memory:" && !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(opts.Path), 0700); err != nil {
			return nil, fmt.Errorf("store: ensure directory: %w", err)
		}
	}

	dsn := opts.Path
	if opts.ReadOnly {
		dsn = fmt.Sprintf("file:%s?mode=ro", opts.Path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout = %d", defaultBusyTimeout.Milliseconds())); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: apply pragmas: %w", err)
	}
	if !opts.ReadOnly {
		if err := applySchema(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return &DB{db: db, path: opts.Path, readOnly: opts.ReadOnly}, nil
}

func applySchema(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin schema transaction: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: apply schema: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit schema transaction: %w", err)
	}
	return nil
}

// Close finalises the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Path returns the database file path.
func (d *DB) Path() string {
	return d.path
}

// Table opens a named table. Tables are created lazily by their first write.
func (d *DB) Table(name string) *Table {
	return &Table{db: d, name: name}
}

// Table is a Storage scoped to one logical table.
type Table struct {
	db   *DB
	name string
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Get returns the record stored under key.
func (t *Table) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := t.db.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE tbl = ? AND key = ?`, t.name, key).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("store: get %s/%s: %w", t.name, key, err)
	}
	return data, true, nil
}

// Set inserts the record; an existing key is replaced only when overwrite is set.
func (t *Table) Set(ctx context.Context, key string, data []byte, overwrite bool) (bool, error) {
	if t.db.readOnly {
		return false, fmt.Errorf("store: set %s/%s: read-only store", t.name, key)
	}
	if data == nil {
		data = []byte{}
	}
	query := `INSERT INTO records (tbl, key, data) VALUES (?, ?, ?)
		ON CONFLICT(tbl, key) DO NOTHING`
	if overwrite {
		query = `INSERT INTO records (tbl, key, data) VALUES (?, ?, ?)
			ON CONFLICT(tbl, key) DO UPDATE SET data = excluded.data, updated_at = CURRENT_TIMESTAMP`
	}
	res, err := t.db.db.ExecContext(ctx, query, t.name, key, data)
	if err != nil {
		return false, fmt.Errorf("store: set %s/%s: %w", t.name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: set %s/%s: %w", t.name, key, err)
	}
	return n > 0, nil
}

// Delete removes the record and reports whether it existed.
func (t *Table) Delete(ctx context.Context, key string) (bool, error) {
	if t.db.readOnly {
		return false, fmt.Errorf("store: delete %s/%s: read-only store", t.name, key)
	}
	res, err := t.db.db.ExecContext(ctx,
		`DELETE FROM records WHERE tbl = ? AND key = ?`, t.name, key)
	if err != nil {
		return false, fmt.Errorf("store: delete %s/%s: %w", t.name, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: delete %s/%s: %w", t.name, key, err)
	}
	return n > 0, nil
}
