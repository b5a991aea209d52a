package tablestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bolosim/internal/blob"
	"bolosim/internal/config"
	"bolosim/internal/table"
)

const manifestObject = "manifest.json"

// BlobStore writes bundles to an object store. In json format a bundle is
// the single object <name>.json. In csv format it is one <name>/<table>.csv
// object per table plus <name>/manifest.json carrying order and metadata.
type BlobStore struct {
	store  blob.Store
	format string
}

type manifest struct {
	Tables []manifestEntry `json:"tables"`
}

type manifestEntry struct {
	Name   string            `json:"name"`
	Object string            `json:"object"`
	Rows   int               `json:"rows"`
	Meta   map[string]string `json:"meta,omitempty"`
}

// NewBlob wraps s; format is config.FormatJSON (default) or config.FormatCSV.
func NewBlob(s blob.Store, format string) (*BlobStore, error) {
	switch format {
	case "":
		format = config.FormatJSON
	case config.FormatJSON, config.FormatCSV:
	default:
		return nil, fmt.Errorf("unknown table format %q", format)
	}
	return &BlobStore{store: s, format: format}, nil
}

// Blob returns the wrapped object store.
func (b *BlobStore) Blob() blob.Store { return b.store }

// WriteTables replaces whatever was stored under name, in either format.
func (b *BlobStore) WriteTables(ctx context.Context, name string, tables []table.Named) error {
	if err := b.clear(ctx, name); err != nil {
		return err
	}
	if b.format == config.FormatJSON {
		data, err := table.EncodeBundle(tables)
		if err != nil {
			return err
		}
		_, err = b.store.Put(ctx, name+".json", bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"})
		return err
	}
	var m manifest
	for _, nt := range tables {
		data, err := table.EncodeCSV(nt.Table)
		if err != nil {
			return fmt.Errorf("encode %s: %w", nt.Name, err)
		}
		key := name + "/" + nt.Name + ".csv"
		if _, err := b.store.Put(ctx, key, bytes.NewReader(data), blob.PutOptions{ContentType: "text/csv"}); err != nil {
			return err
		}
		m.Tables = append(m.Tables, manifestEntry{Name: nt.Name, Object: key, Rows: nt.Table.Len(), Meta: nt.Table.Meta()})
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	_, err = b.store.Put(ctx, name+"/"+manifestObject, bytes.NewReader(data), blob.PutOptions{ContentType: "application/json"})
	return err
}

// ReadTables loads the bundle written under name. Missing bundles wrap table.ErrNotFound.
func (b *BlobStore) ReadTables(ctx context.Context, name string) ([]table.Named, error) {
	if b.format == config.FormatJSON {
		data, err := blob.ReadAll(ctx, b.store, name+".json")
		if err != nil {
			return nil, notFound(name, err)
		}
		return table.DecodeBundle(data)
	}
	data, err := blob.ReadAll(ctx, b.store, name+"/"+manifestObject)
	if err != nil {
		return nil, notFound(name, err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}
	out := make([]table.Named, 0, len(m.Tables))
	for _, e := range m.Tables {
		raw, err := blob.ReadAll(ctx, b.store, e.Object)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Object, err)
		}
		t, err := table.ReadCSV(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Object, err)
		}
		if t.Len() != e.Rows {
			return nil, fmt.Errorf("%s: manifest lists %d rows, object has %d", e.Object, e.Rows, t.Len())
		}
		for k, v := range e.Meta {
			t.SetMeta(k, v)
		}
		out = append(out, table.Named{Name: e.Name, Table: t})
	}
	return out, nil
}

// Close is a no-op; object stores hold no connection.
func (b *BlobStore) Close() error { return nil }

func (b *BlobStore) clear(ctx context.Context, name string) error {
	if _, err := b.store.Delete(ctx, name+".json"); err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	objs, err := b.store.List(ctx, strings.TrimSuffix(name, "/")+"/")
	if err != nil {
		return fmt.Errorf("clear %s: %w", name, err)
	}
	for _, o := range objs {
		if _, err := b.store.Delete(ctx, o.Key); err != nil {
			return fmt.Errorf("clear %s: %w", o.Key, err)
		}
	}
	return nil
}

func notFound(name string, err error) error {
	if errors.Is(err, blob.ErrNotFound) {
		return fmt.Errorf("bundle %s: %w", name, table.ErrNotFound)
	}
	return err
}
