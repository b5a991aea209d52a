package testutil

import (
	"context"
	"database/sql/driver"
	"testing"
)

func TestStubFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	insert := "INSERT INTO items (grp, pos, val) VALUES ($1,$2,$3)"
	for _, args := range [][]any{{"a", int64(1), "second"}, {"b", int64(0), "other"}, {"a", int64(0), "first"}} {
		nv := make([]driver.NamedValue, len(args))
		for i, v := range args {
			nv[i] = driver.NamedValue{Ordinal: i + 1, Value: v}
		}
		if _, err := conn.ExecContext(ctx, insert, nv); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	rows, err := conn.QueryContext(ctx, "SELECT val FROM items WHERE grp=$1 ORDER BY pos", []driver.NamedValue{{Value: "a"}})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	dest := make([]driver.Value, 1)
	var got []any
	for rows.Next(dest) == nil {
		got = append(got, dest[0])
	}
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected rows %v", got)
	}
	rows, err = conn.QueryContext(ctx, "SELECT DISTINCT grp FROM items ORDER BY grp", nil)
	if err != nil {
		t.Fatalf("distinct: %v", err)
	}
	got = nil
	for rows.Next(dest) == nil {
		got = append(got, dest[0])
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected distinct rows %v", got)
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM items WHERE grp=$1", []driver.NamedValue{{Value: "a"}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(conn.Tables["items"]) != 1 {
		t.Fatalf("expected one remaining row, got %v", conn.Tables["items"])
	}
}

func TestStubRollbackRestores(t *testing.T) {
	ctx := context.Background()
	_, conn := NewStubDB()
	conn.Tables["items"] = []Row{{"id": "keep"}}
	tx, err := conn.BeginTx(ctx, driver.TxOptions{})
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := conn.ExecContext(ctx, "DELETE FROM items WHERE id=$1", []driver.NamedValue{{Value: "keep"}}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tx.Rollback(); err != nil {
		t.Fatalf("rollback: %v", err)
	}
	if len(conn.Tables["items"]) != 1 {
		t.Fatalf("rollback did not restore rows: %v", conn.Tables)
	}
}
