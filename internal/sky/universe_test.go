package sky

import (
	"errors"
	"math"
	"strings"
	"testing"

	"bolosim/internal/param"
)

func TestNewBandGrid(t *testing.T) {
	b, err := NewBand(150, 0.25, 0)
	if err != nil {
		t.Fatalf("band: %v", err)
	}
	if len(b.Freqs) != DefaultBandPoints {
		t.Fatalf("expected %d points, got %d", DefaultBandPoints, len(b.Freqs))
	}
	if math.Abs(b.Freqs[0]-131.25) > 1e-9 || math.Abs(b.Freqs[len(b.Freqs)-1]-168.75) > 1e-9 {
		t.Fatalf("unexpected band edges %g..%g", b.Freqs[0], b.Freqs[len(b.Freqs)-1])
	}
	fine, _ := NewBand(150, 0.25, 0.5)
	if len(fine.Freqs) != 76 {
		t.Fatalf("expected 76 points at 0.5 GHz, got %d", len(fine.Freqs))
	}
	if _, err := NewBand(0, 0.2, 0); err == nil {
		t.Fatalf("expected error for zero center")
	}
	if _, err := NewBand(90, 2.5, 0); err == nil {
		t.Fatalf("expected error for fbw >= 2")
	}
}

func TestRJConversions(t *testing.T) {
	if got := RJTemp(1e-3, 10); math.Abs(got-10) > 1e-3 {
		t.Fatalf("RJ limit should recover physical temperature, got %g", got)
	}
	if got := RJToCMB(150, DefaultCMBTemp); got <= 1 {
		t.Fatalf("expected RJ-to-CMB factor > 1 at 150 GHz, got %g", got)
	}
}

func TestUniverseSampleAndEvaluate(t *testing.T) {
	u, err := New(Config{Atmosphere: AtmosphereConfig{WetOpacity: param.Gauss(0.03, 0.005)}})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	band, _ := NewBand(150, 0.25, 0)
	cond := Conditions{Elevation: []float64{50}, PWV: []float64{1}, Temperature: 270}
	if _, err := u.Evaluate(band, cond); !errors.Is(err, ErrNotSampled) {
		t.Fatalf("expected ErrNotSampled, got %v", err)
	}
	if err := u.Sample(param.Stream(1, "sky", 0), 0); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if u.NSamples() != 1 {
		t.Fatalf("expected 1 realisation for n=0, got %d", u.NSamples())
	}
	if err := u.Sample(param.Stream(1, "sky", 0), 8); err != nil {
		t.Fatalf("sample: %v", err)
	}
	load, err := u.Evaluate(band, cond)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(load.TempRJ) != 8 || len(load.Trans) != 8 {
		t.Fatalf("expected 8 sky samples, got %d/%d", len(load.TempRJ), len(load.Trans))
	}
	for i := range load.Trans {
		if load.Trans[i] <= 0 || load.Trans[i] >= 1 {
			t.Fatalf("transmission %g out of range", load.Trans[i])
		}
		if load.TempRJ[i] <= load.AtmTemp[i] {
			t.Fatalf("sky temperature must include CMB above atmosphere")
		}
	}

	dry := Conditions{Elevation: []float64{50}, PWV: []float64{0}, Temperature: 270}
	wet := Conditions{Elevation: []float64{50}, PWV: []float64{4}, Temperature: 270}
	ld, _ := u.Evaluate(band, dry)
	lw, _ := u.Evaluate(band, wet)
	if lw.AtmTemp[0] <= ld.AtmTemp[0] {
		t.Fatalf("expected more atmospheric emission with more pwv")
	}

	bad := Conditions{Elevation: []float64{50, 60}, PWV: []float64{1}, Temperature: 270}
	if _, err := u.Evaluate(band, bad); err == nil {
		t.Fatalf("expected length mismatch error")
	}
	if err := u.Sample(nil, -1); err == nil {
		t.Fatalf("expected negative count error")
	}
}

func TestAtmosphereTable(t *testing.T) {
	src := "freq_GHz,trans,temp_K\n# comment\n200,0.8,50\n100,0.9,20\n"
	tab, err := ReadAtmosphereTable(strings.NewReader(src))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	tr, tb := tab.At(150)
	if math.Abs(tr-0.85) > 1e-12 || math.Abs(tb-35) > 1e-12 {
		t.Fatalf("interpolation got %g %g", tr, tb)
	}
	if tr, _ := tab.At(10); tr != 0.9 {
		t.Fatalf("expected clamp below range, got %g", tr)
	}
	u, _ := New(Config{})
	u.WithAtmosphereTable(tab)
	_ = u.Sample(nil, 0)
	band, _ := NewBand(150, 0.01, 0)
	load, err := u.Evaluate(band, Conditions{Elevation: []float64{30}, PWV: []float64{3}, Temperature: 270})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if math.Abs(load.Trans[0]-0.85) > 1e-3 {
		t.Fatalf("expected tabulated transmission, got %g", load.Trans[0])
	}
	if _, err := ReadAtmosphereTable(strings.NewReader("f,t,x\n1,2,3\n")); err == nil {
		t.Fatalf("expected header error")
	}
}
