// Package sqlite persists table bundles in a single SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"bolosim/internal/infra/persistence/schema"
	"bolosim/internal/table"
)

const defaultPath = "bolosim.db"

// Store keeps one row per table: (bundle, name, position, payload). A bundle
// is replaced as a whole inside one transaction.
type Store struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	for _, stmt := range schema.SplitStatements(schema.SQLite()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// WriteTables replaces every row of bundle with tables, in order.
func (s *Store) WriteTables(ctx context.Context, bundle string, tables []table.Named) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM table_bundles WHERE bundle = ?`, bundle); err != nil {
		return fmt.Errorf("clear bundle %s: %w", bundle, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	for pos, nt := range tables {
		payload, err := nt.Table.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode %s: %w", nt.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO table_bundles (bundle, name, position, payload, written_at) VALUES (?, ?, ?, ?, ?)`,
			bundle, nt.Name, pos, payload, now); err != nil {
			return fmt.Errorf("insert %s/%s: %w", bundle, nt.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ReadTables loads bundle in write order. A bundle with no rows wraps table.ErrNotFound.
func (s *Store) ReadTables(ctx context.Context, bundle string) ([]table.Named, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, payload FROM table_bundles WHERE bundle = ? ORDER BY position`, bundle)
	if err != nil {
		return nil, fmt.Errorf("select bundle %s: %w", bundle, err)
	}
	defer func() { _ = rows.Close() }()
	var out []table.Named
	for rows.Next() {
		var (
			name    string
			payload []byte
		)
		if err := rows.Scan(&name, &payload); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t := &table.Table{}
		if err := t.UnmarshalJSON(payload); err != nil {
			return nil, fmt.Errorf("decode %s/%s: %w", bundle, name, err)
		}
		out = append(out, table.Named{Name: name, Table: t})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bundle %s: %w", bundle, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("bundle %s: %w", bundle, table.ErrNotFound)
	}
	return out, nil
}

// Bundles lists the stored bundle names in lexical order.
func (s *Store) Bundles(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT bundle FROM table_bundles ORDER BY bundle`)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var b string
		if err := rows.Scan(&b); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
