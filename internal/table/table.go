// Package table holds the typed column tables produced by a simulation run and
// the ordered collection they are persisted as.
package table

import (
	"errors"
	"fmt"
	"maps"
)

var (
	ErrEmptyStack     = errors.New("table: nothing to stack")
	ErrSchemaMismatch = errors.New("table: schema mismatch")
	ErrNotFound       = errors.New("table: not found")
)

// Kind is the element type of a column.
type Kind string

const (
	KindFloat  Kind = "float"
	KindString Kind = "string"
)

// Field describes one column.
type Field struct {
	Name string `json:"name"`
	Unit string `json:"unit,omitempty"`
	Kind Kind   `json:"kind"`
}

// Column is a named, typed column. Exactly one of Floats or Strings is used,
// according to Kind.
type Column struct {
	Field
	Floats  []float64
	Strings []string
}

// Len returns the number of rows in the column.
func (c *Column) Len() int {
	if c.Kind == KindString {
		return len(c.Strings)
	}
	return len(c.Floats)
}

func (c *Column) clone() *Column {
	out := &Column{Field: c.Field}
	if c.Floats != nil {
		out.Floats = append([]float64(nil), c.Floats...)
	}
	if c.Strings != nil {
		out.Strings = append([]string(nil), c.Strings...)
	}
	return out
}

// Table is an ordered set of equal-length columns with string metadata.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
	meta    map[string]string
}

// New returns an empty table.
func New() *Table {
	return &Table{index: map[string]int{}, meta: map[string]string{}}
}

// AddFloat appends a float column. The first column fixes the row count.
func (t *Table) AddFloat(name, unit string, values []float64) error {
	return t.add(&Column{Field: Field{Name: name, Unit: unit, Kind: KindFloat}, Floats: append([]float64(nil), values...)})
}

// AddString appends a string column. The first column fixes the row count.
func (t *Table) AddString(name, unit string, values []string) error {
	return t.add(&Column{Field: Field{Name: name, Unit: unit, Kind: KindString}, Strings: append([]string(nil), values...)})
}

func (t *Table) add(col *Column) error {
	if col.Name == "" {
		return fmt.Errorf("table: empty column name")
	}
	if _, dup := t.index[col.Name]; dup {
		return fmt.Errorf("table: duplicate column %q", col.Name)
	}
	if len(t.columns) > 0 && col.Len() != t.rows {
		return fmt.Errorf("table: column %q has %d rows, want %d", col.Name, col.Len(), t.rows)
	}
	t.rows = col.Len()
	t.index[col.Name] = len(t.columns)
	t.columns = append(t.columns, col)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return t.rows }

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Name
	}
	return out
}

// Column looks up a column by name. The returned column must not be modified.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Floats returns the values of a float column.
func (t *Table) Floats(name string) ([]float64, bool) {
	c, ok := t.Column(name)
	if !ok || c.Kind != KindFloat {
		return nil, false
	}
	return c.Floats, true
}

// Schema returns the column descriptions in order.
func (t *Table) Schema() []Field {
	out := make([]Field, len(t.columns))
	for i, c := range t.columns {
		out[i] = c.Field
	}
	return out
}

// SetMeta records a metadata entry.
func (t *Table) SetMeta(key, value string) { t.meta[key] = value }

// Meta returns a copy of the metadata.
func (t *Table) Meta() map[string]string { return maps.Clone(t.meta) }

// Clone returns a deep copy.
func (t *Table) Clone() *Table {
	out := New()
	for _, c := range t.columns {
		_ = out.add(c.clone())
	}
	out.rows = t.rows
	maps.Copy(out.meta, t.meta)
	return out
}

// VStack concatenates tables row-wise. Every table must have the same schema.
// Metadata is taken from the first table.
func VStack(tables ...*Table) (*Table, error) {
	if len(tables) == 0 {
		return nil, ErrEmptyStack
	}
	first := tables[0]
	schema := first.Schema()
	for i, t := range tables[1:] {
		if !sameSchema(schema, t.Schema()) {
			return nil, fmt.Errorf("%w: table %d columns %v, want %v", ErrSchemaMismatch, i+1, t.Columns(), first.Columns())
		}
	}
	out := New()
	for ci, f := range schema {
		col := &Column{Field: f}
		for _, t := range tables {
			src := t.columns[ci]
			if f.Kind == KindString {
				col.Strings = append(col.Strings, src.Strings...)
			} else {
				col.Floats = append(col.Floats, src.Floats...)
			}
		}
		if err := out.add(col); err != nil {
			return nil, err
		}
	}
	maps.Copy(out.meta, first.meta)
	return out, nil
}

func sameSchema(a, b []Field) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
