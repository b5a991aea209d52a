// Package postgres persists table bundles in Postgres, one JSONB row per table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"bolosim/internal/infra/persistence/schema"
	"bolosim/internal/table"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/bolosim?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store mirrors the SQLite store's layout with Postgres placeholders and types.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open connects using dsn (falls back to defaultDSN), pings, and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schema.SplitStatements(schema.Postgres()) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return &Store{db: db}, nil
}

// WriteTables replaces every row of bundle with tables, in order.
func (s *Store) WriteTables(ctx context.Context, bundle string, tables []table.Named) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := tx.ExecContext(ctx, `DELETE FROM table_bundles WHERE bundle=$1`, bundle); err != nil {
		return fmt.Errorf("clear bundle %s: %w", bundle, err)
	}
	now := time.Now().UTC()
	for pos, nt := range tables {
		payload, err := nt.Table.MarshalJSON()
		if err != nil {
			return fmt.Errorf("encode %s: %w", nt.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO table_bundles (bundle, name, position, payload, written_at) VALUES ($1,$2,$3,$4,$5)`,
			bundle, nt.Name, pos, string(payload), now); err != nil {
			return fmt.Errorf("insert %s/%s: %w", bundle, nt.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// ReadTables loads bundle in write order. A bundle with no rows wraps table.ErrNotFound.
func (s *Store) ReadTables(ctx context.Context, bundle string) ([]table.Named, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, payload FROM table_bundles WHERE bundle=$1 ORDER BY position`, bundle)
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
			return nil, fmt.Errorf("scan bundle %s: %w", bundle, err)
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

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
