// Package catalog keeps an optional sqlite record of a run's metadata and
// archive entries next to metadata.json, so a hit's numeric id can be
// resolved to its key, title and year with a single query.
package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/yourorg/textblast/internal/archive"
	"github.com/yourorg/textblast/internal/merge"
	"github.com/yourorg/textblast/internal/types"
)

var ErrNotFound = errors.New("catalog: not found")

type Catalog struct {
	db *sql.DB
}

// Open opens (creating if needed) the catalog at path with WAL enabled.
func Open(ctx context.Context, path string) (*Catalog, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// a single connection keeps the transaction and the pragmas on the same handle
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}
	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Catalog{db: db}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS records (
	key TEXT PRIMARY KEY,
	batch TEXT NOT NULL,
	title TEXT NOT NULL,
	year TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS entries (
	id INTEGER PRIMARY KEY,
	key TEXT UNIQUE NOT NULL,
	length INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_records_batch ON records(batch);
`
	_, err := db.ExecContext(ctx, schema)
	return err
}

// ReplaceRecords empties the records table and refills it with whatever fn
// passes to the sink, in one transaction. If fn fails nothing changes.
func (c *Catalog) ReplaceRecords(ctx context.Context, fn func(merge.Sink) error) error {
	return c.replace(ctx, "records",
		"INSERT INTO records(key, batch, title, year) VALUES(?, ?, ?, ?)",
		func(stmt *sql.Stmt) error {
			return fn(func(key string, m types.Metadata) error {
				_, err := stmt.ExecContext(ctx, key, m.Batch, m.Title, string(m.Year))
				return err
			})
		})
}

// ReplaceEntries is ReplaceRecords for archive entries. Sequences are not
// stored, only their length.
func (c *Catalog) ReplaceEntries(ctx context.Context, fn func(archive.Sink) error) error {
	return c.replace(ctx, "entries",
		"INSERT INTO entries(id, key, length) VALUES(?, ?, ?)",
		func(stmt *sql.Stmt) error {
			return fn(func(e archive.Entry) error {
				_, err := stmt.ExecContext(ctx, e.ID, e.Key, len(e.Sequence))
				return err
			})
		})
}

func (c *Catalog) replace(ctx context.Context, table, insert string, fill func(*sql.Stmt) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
		return fmt.Errorf("clear %s: %w", table, err)
	}
	stmt, err := tx.PrepareContext(ctx, insert)
	if err != nil {
		return err
	}
	defer stmt.Close()
	if err := fill(stmt); err != nil {
		return err
	}
	return tx.Commit()
}

// Hit is an archive entry joined with its record metadata.
type Hit struct {
	ID     int
	Key    string
	Length int
	Meta   types.Metadata
}

// Lookup resolves an archive id.
func (c *Catalog) Lookup(ctx context.Context, id int) (Hit, error) {
	var (
		h    Hit
		year string
	)
	err := c.db.QueryRowContext(ctx, `
SELECT e.id, e.key, e.length, r.batch, r.title, r.year
FROM entries e JOIN records r ON r.key = e.key
WHERE e.id = ?`, id).Scan(&h.ID, &h.Key, &h.Length, &h.Meta.Batch, &h.Meta.Title, &year)
	if errors.Is(err, sql.ErrNoRows) {
		return Hit{}, fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Hit{}, err
	}
	h.Meta.Year = []byte(year)
	return h, nil
}

// Counts returns the number of records and entries.
func (c *Catalog) Counts(ctx context.Context) (records, entries int, err error) {
	if err = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&records); err != nil {
		return 0, 0, err
	}
	if err = c.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&entries); err != nil {
		return 0, 0, err
	}
	return records, entries, nil
}
