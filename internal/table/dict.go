package table

import (
	"context"
	"fmt"
	"slices"
)

// Named pairs a table with its key in a Dict.
type Named struct {
	Name  string `json:"name"`
	Table *Table `json:"table"`
}

// Writer persists an ordered table bundle under name, replacing any bundle
// previously stored there.
type Writer interface {
	WriteTables(ctx context.Context, name string, tables []Named) error
}

// Reader loads a bundle written by a Writer.
type Reader interface {
	ReadTables(ctx context.Context, name string) ([]Named, error)
}

// Dict is an insertion-ordered mapping from table name to table.
type Dict struct {
	keys   []string
	tables map[string]*Table
}

// NewDict returns an empty collection.
func NewDict() *Dict {
	return &Dict{tables: map[string]*Table{}}
}

// AddDatatable stores t under name. Replacing an existing entry keeps its
// position and reports true.
func (d *Dict) AddDatatable(name string, t *Table) bool {
	if _, ok := d.tables[name]; ok {
		d.tables[name] = t
		return true
	}
	d.keys = append(d.keys, name)
	d.tables[name] = t
	return false
}

// PopTable removes and returns the table stored under name.
func (d *Dict) PopTable(name string) (*Table, error) {
	t, ok := d.tables[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	delete(d.tables, name)
	d.keys = slices.DeleteFunc(d.keys, func(k string) bool { return k == name })
	return t, nil
}

// Get looks up a table.
func (d *Dict) Get(name string) (*Table, bool) {
	t, ok := d.tables[name]
	return t, ok
}

// Keys returns the table names in insertion order.
func (d *Dict) Keys() []string { return slices.Clone(d.keys) }

// Len returns the number of tables.
func (d *Dict) Len() int { return len(d.keys) }

// Entries returns the tables in insertion order.
func (d *Dict) Entries() []Named {
	out := make([]Named, len(d.keys))
	for i, k := range d.keys {
		out[i] = Named{Name: k, Table: d.tables[k]}
	}
	return out
}

// SaveDatatables writes every table, in order, to w under name.
func (d *Dict) SaveDatatables(ctx context.Context, w Writer, name string) error {
	if w == nil {
		return fmt.Errorf("table: nil writer")
	}
	if err := w.WriteTables(ctx, name, d.Entries()); err != nil {
		return fmt.Errorf("save datatables %s: %w", name, err)
	}
	return nil
}

// LoadDatatables reads the bundle stored under name.
func LoadDatatables(ctx context.Context, r Reader, name string) (*Dict, error) {
	if r == nil {
		return nil, fmt.Errorf("table: nil reader")
	}
	entries, err := r.ReadTables(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("load datatables %s: %w", name, err)
	}
	d := NewDict()
	for _, e := range entries {
		if e.Table == nil {
			return nil, fmt.Errorf("load datatables %s: table %q is empty", name, e.Name)
		}
		if d.AddDatatable(e.Name, e.Table) {
			return nil, fmt.Errorf("load datatables %s: duplicate table %q", name, e.Name)
		}
	}
	return d, nil
}
