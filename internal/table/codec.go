package table

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

type jsonColumn struct {
	Field
	Floats  []jsonFloat `json:"floats,omitempty"`
	Strings []string    `json:"strings,omitempty"`
}

type jsonTable struct {
	Rows    int               `json:"rows"`
	Meta    map[string]string `json:"meta,omitempty"`
	Columns []jsonColumn      `json:"columns"`
}

// jsonFloat encodes non-finite values as the strings "NaN", "+Inf", "-Inf".
type jsonFloat float64

func (f jsonFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return json.Marshal(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return json.Marshal(v)
}

func (f *jsonFloat) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		*f = jsonFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*f = jsonFloat(v)
	return nil
}

// MarshalJSON encodes the table with its schema, metadata, and values.
func (t *Table) MarshalJSON() ([]byte, error) {
	out := jsonTable{Rows: t.rows, Meta: t.meta, Columns: make([]jsonColumn, len(t.columns))}
	for i, c := range t.columns {
		jc := jsonColumn{Field: c.Field}
		if c.Kind == KindString {
			jc.Strings = c.Strings
		} else {
			jc.Floats = make([]jsonFloat, len(c.Floats))
			for j, v := range c.Floats {
				jc.Floats[j] = jsonFloat(v)
			}
		}
		out.Columns[i] = jc
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a table written by MarshalJSON.
func (t *Table) UnmarshalJSON(data []byte) error {
	var in jsonTable
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	fresh := New()
	for _, jc := range in.Columns {
		var err error
		switch jc.Kind {
		case KindString:
			values := jc.Strings
			if values == nil {
				values = []string{}
			}
			err = fresh.AddString(jc.Name, jc.Unit, values)
		case KindFloat:
			values := make([]float64, len(jc.Floats))
			for i, v := range jc.Floats {
				values[i] = float64(v)
			}
			err = fresh.AddFloat(jc.Name, jc.Unit, values)
		default:
			err = fmt.Errorf("table: column %q has unknown kind %q", jc.Name, jc.Kind)
		}
		if err != nil {
			return err
		}
	}
	if len(in.Columns) > 0 && fresh.rows != in.Rows {
		return fmt.Errorf("table: declared %d rows, decoded %d", in.Rows, fresh.rows)
	}
	for k, v := range in.Meta {
		fresh.meta[k] = v
	}
	*t = *fresh
	return nil
}

type jsonBundle struct {
	Tables []Named `json:"tables"`
}

// EncodeBundle encodes an ordered set of tables as one JSON document.
func EncodeBundle(tables []Named) ([]byte, error) {
	if tables == nil {
		tables = []Named{}
	}
	return json.MarshalIndent(jsonBundle{Tables: tables}, "", "  ")
}

// DecodeBundle decodes a document written by EncodeBundle.
func DecodeBundle(data []byte) ([]Named, error) {
	var b jsonBundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode bundle: %w", err)
	}
	return b.Tables, nil
}

// WriteCSV writes t as CSV. The first record holds column names, the second
// holds each column's kind and unit as kind[unit].
func WriteCSV(w io.Writer, t *Table) error {
	cw := csv.NewWriter(w)
	names := t.Columns()
	types := make([]string, len(t.columns))
	for i, c := range t.columns {
		types[i] = string(c.Kind) + "[" + c.Unit + "]"
	}
	if err := cw.Write(names); err != nil {
		return err
	}
	if err := cw.Write(types); err != nil {
		return err
	}
	record := make([]string, len(t.columns))
	for r := range t.rows {
		for i, c := range t.columns {
			if c.Kind == KindString {
				record[i] = c.Strings[r]
			} else {
				record[i] = strconv.FormatFloat(c.Floats[r], 'g', -1, 64)
			}
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// EncodeCSV is WriteCSV into a byte slice.
func EncodeCSV(t *Table) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, t); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadCSV reads a table written by WriteCSV. Metadata is not carried by CSV.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("read csv: missing header records")
	}
	names, types := records[0], records[1]
	if len(types) != len(names) {
		return nil, fmt.Errorf("read csv: %d names but %d types", len(names), len(types))
	}
	rows := records[2:]
	t := New()
	for i, name := range names {
		kind, unit, err := parseType(types[i])
		if err != nil {
			return nil, fmt.Errorf("read csv: column %q: %w", name, err)
		}
		switch kind {
		case KindString:
			values := make([]string, len(rows))
			for r, rec := range rows {
				values[r] = rec[i]
			}
			err = t.AddString(name, unit, values)
		default:
			values := make([]float64, len(rows))
			for r, rec := range rows {
				v, perr := strconv.ParseFloat(rec[i], 64)
				if perr != nil {
					return nil, fmt.Errorf("read csv: row %d column %q: %w", r+1, name, perr)
				}
				values[r] = v
			}
			err = t.AddFloat(name, unit, values)
		}
		if err != nil {
			return nil, err
		}
	}
	return t, nil
}

func parseType(s string) (Kind, string, error) {
	open := strings.IndexByte(s, '[')
	if open < 0 || !strings.HasSuffix(s, "]") {
		return "", "", fmt.Errorf("malformed type %q", s)
	}
	kind := Kind(s[:open])
	if kind != KindFloat && kind != KindString {
		return "", "", fmt.Errorf("unknown kind %q", kind)
	}
	return kind, s[open+1 : len(s)-1], nil
}
