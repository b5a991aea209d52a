// Package testutil provides a stub database/sql driver that understands the
// handful of statement shapes the postgres table store issues.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync/atomic"
	"time"
)

// Row is one stored row keyed by lower-case column name.
type Row map[string]any

// StubConn records statements and keeps rows per table. Writes inside a
// transaction are discarded on rollback.
type StubConn struct {
	Execs      []string
	Tables     map[string][]Row
	FailPing   bool
	FailBegin  bool
	FailCommit bool
	FailInsert map[string]bool
	RowsErr    error

	snapshot map[string][]Row
}

var driverSeq atomic.Int64

// NewStubDB registers a fresh driver and returns a sql.DB backed by the stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{Tables: make(map[string][]Row)}
	name := fmt.Sprintf("stubpg%d_%d", time.Now().UnixNano(), driverSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	db.SetMaxOpenConns(1)
	return db, conn
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.snapshot = make(map[string][]Row, len(c.Tables))
	for name, rows := range c.Tables {
		c.snapshot[name] = append([]Row(nil), rows...)
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.Execs = append(c.Execs, query)
	upper := strings.ToUpper(strings.TrimSpace(query))
	switch {
	case strings.HasPrefix(upper, "INSERT INTO"):
		tbl, cols, err := parseInsert(query)
		if err != nil {
			return nil, err
		}
		if c.FailInsert[tbl] {
			return nil, fmt.Errorf("insert fail for %s", tbl)
		}
		if len(cols) != len(args) {
			return nil, fmt.Errorf("column/arg mismatch for %s", tbl)
		}
		row := make(Row, len(cols))
		for i, col := range cols {
			row[col] = args[i].Value
		}
		c.Tables[tbl] = append(c.Tables[tbl], row)
		return driver.RowsAffected(1), nil
	case strings.HasPrefix(upper, "DELETE FROM"):
		tbl, where, err := parseFromWhere(query[len("DELETE FROM"):])
		if err != nil {
			return nil, err
		}
		kept := c.Tables[tbl][:0:0]
		removed := 0
		for _, row := range c.Tables[tbl] {
			if where != "" && len(args) > 0 && row[where] == args[0].Value {
				removed++
				continue
			}
			kept = append(kept, row)
		}
		c.Tables[tbl] = kept
		return driver.RowsAffected(removed), nil
	}
	return driver.RowsAffected(0), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	sel, err := parseSelect(query)
	if err != nil {
		return nil, err
	}
	var matched []Row
	for _, row := range c.Tables[sel.table] {
		if sel.where != "" && (len(args) == 0 || row[sel.where] != args[0].Value) {
			continue
		}
		matched = append(matched, row)
	}
	if sel.orderBy != "" {
		sort.SliceStable(matched, func(i, j int) bool { return less(matched[i][sel.orderBy], matched[j][sel.orderBy]) })
	}
	values := make([][]driver.Value, 0, len(matched))
	seen := make(map[string]bool)
	for _, row := range matched {
		vals := make([]driver.Value, len(sel.cols))
		for i, col := range sel.cols {
			vals[i] = row[col]
		}
		if sel.distinct {
			anyVals := make([]any, len(vals))
			for i, v := range vals {
				anyVals[i] = v
			}
			key := fmt.Sprint(anyVals...)
			if seen[key] {
				continue
			}
			seen[key] = true
		}
		values = append(values, vals)
	}
	return &stubRows{cols: sel.cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		t.conn.Tables = t.conn.snapshot
		return fmt.Errorf("commit fail")
	}
	t.conn.snapshot = nil
	return nil
}

func (t *stubTx) Rollback() error {
	if t.conn.snapshot != nil {
		t.conn.Tables = t.conn.snapshot
		t.conn.snapshot = nil
	}
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func less(a, b any) bool {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case string:
		bv, _ := b.(string)
		return av < bv
	}
	return false
}

func parseInsert(query string) (string, []string, error) {
	up := strings.ToUpper(query)
	intoIdx := strings.Index(up, "INTO ")
	if intoIdx == -1 {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	rest := strings.TrimSpace(query[intoIdx+len("INTO "):])
	open := strings.Index(rest, "(")
	closeIdx := strings.Index(rest, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return "", nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	return strings.ToLower(strings.TrimSpace(rest[:open])), splitColumns(rest[open+1 : closeIdx]), nil
}

// parseFromWhere reads "<table> [WHERE <col>=$1]".
func parseFromWhere(rest string) (string, string, error) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return "", "", fmt.Errorf("missing table name")
	}
	tbl := strings.ToLower(fields[0])
	lower := strings.ToLower(rest)
	idx := strings.Index(lower, " where ")
	if idx == -1 {
		return tbl, "", nil
	}
	pred := rest[idx+len(" where "):]
	col, _, ok := strings.Cut(pred, "=")
	if !ok {
		return "", "", fmt.Errorf("cannot parse predicate: %s", pred)
	}
	return tbl, strings.ToLower(strings.TrimSpace(col)), nil
}

type selectStmt struct {
	table    string
	cols     []string
	distinct bool
	where    string
	orderBy  string
}

func parseSelect(query string) (selectStmt, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select ") {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	body := strings.TrimSpace(query[len("select "):])
	var sel selectStmt
	if strings.HasPrefix(strings.ToLower(body), "distinct ") {
		sel.distinct = true
		body = strings.TrimSpace(body[len("distinct "):])
	}
	fromIdx := strings.Index(strings.ToLower(body), " from ")
	if fromIdx == -1 {
		return selectStmt{}, fmt.Errorf("cannot parse select: %s", query)
	}
	sel.cols = splitColumns(body[:fromIdx])
	rest := body[fromIdx+len(" from "):]
	if idx := strings.Index(strings.ToLower(rest), " order by "); idx != -1 {
		sel.orderBy = strings.ToLower(strings.TrimSpace(rest[idx+len(" order by "):]))
		rest = rest[:idx]
	}
	tbl, where, err := parseFromWhere(rest)
	if err != nil {
		return selectStmt{}, err
	}
	sel.table, sel.where = tbl, where
	return sel, nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
