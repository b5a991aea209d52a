package sky

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// AtmosphereTable is a tabulated atmosphere (transmission and brightness versus frequency)
// that replaces the parametric opacity model.
type AtmosphereTable struct {
	freqs []float64
	trans []float64
	temps []float64
}

// LoadAtmosphereFile reads a CSV file with header freq_GHz,trans,temp_K.
func LoadAtmosphereFile(path string) (*AtmosphereTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open atmosphere file: %w", err)
	}
	defer func() { _ = f.Close() }()
	tab, err := ReadAtmosphereTable(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tab, nil
}

// ReadAtmosphereTable parses CSV rows of freq_GHz,trans,temp_K after a header line.
func ReadAtmosphereTable(r io.Reader) (*AtmosphereTable, error) {
	reader := csv.NewReader(r)
	reader.Comment = '#'
	reader.FieldsPerRecord = 3
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	want := []string{"freq_ghz", "trans", "temp_k"}
	for i, h := range header {
		if strings.ToLower(strings.TrimSpace(h)) != want[i] {
			return nil, fmt.Errorf("unexpected column %q, want %q", h, want[i])
		}
	}
	type row struct{ f, tr, tb float64 }
	var rows []row
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		var vals [3]float64
		for i, field := range rec {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", len(rows)+2, err)
			}
			vals[i] = v
		}
		rows = append(rows, row{vals[0], vals[1], vals[2]})
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("need at least two rows, got %d", len(rows))
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].f < rows[j].f })
	tab := &AtmosphereTable{}
	for _, r := range rows {
		tab.freqs = append(tab.freqs, r.f)
		tab.trans = append(tab.trans, r.tr)
		tab.temps = append(tab.temps, r.tb)
	}
	return tab, nil
}

// At interpolates transmission and brightness temperature at freq (GHz),
// clamping outside the tabulated range.
func (t *AtmosphereTable) At(freq float64) (trans, temp float64) {
	n := len(t.freqs)
	if freq <= t.freqs[0] {
		return t.trans[0], t.temps[0]
	}
	if freq >= t.freqs[n-1] {
		return t.trans[n-1], t.temps[n-1]
	}
	i := sort.SearchFloat64s(t.freqs, freq)
	w := (freq - t.freqs[i-1]) / (t.freqs[i] - t.freqs[i-1])
	return lerp(t.trans[i-1], t.trans[i], w), lerp(t.temps[i-1], t.temps[i], w)
}

func lerp(a, b, w float64) float64 { return a + (b-a)*w }

// airmass returns the plane-parallel airmass at elevation el (degrees).
func airmass(el float64) float64 {
	s := math.Sin(el * math.Pi / 180)
	if s < 0.05 {
		s = 0.05
	}
	return 1 / s
}
