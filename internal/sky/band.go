package sky

import (
	"fmt"
	"math"
)

// Physical constants in SI units.
const (
	PlanckH    = 6.62607015e-34
	BoltzmannK = 1.380649e-23
	GHz        = 1e9
)

// DefaultBandPoints is the band grid size used when no frequency resolution is given.
const DefaultBandPoints = 25

// Band is a detector passband sampled on a uniform frequency grid (GHz).
type Band struct {
	Center float64
	FBW    float64
	Freqs  []float64
}

// NewBand builds a top-hat band centred on center (GHz) with fractional width fbw.
// resol is the grid step in GHz; resol <= 0 uses DefaultBandPoints points.
func NewBand(center, fbw, resol float64) (Band, error) {
	if center <= 0 {
		return Band{}, fmt.Errorf("band center must be > 0, got %g", center)
	}
	if fbw <= 0 || fbw >= 2 {
		return Band{}, fmt.Errorf("fractional bandwidth must be in (0, 2), got %g", fbw)
	}
	lo := center * (1 - fbw/2)
	hi := center * (1 + fbw/2)
	npts := DefaultBandPoints
	if resol > 0 {
		npts = int(math.Floor((hi-lo)/resol)) + 1
		if npts < 2 {
			npts = 2
		}
	}
	step := (hi - lo) / float64(npts-1)
	freqs := make([]float64, npts)
	for i := range freqs {
		freqs[i] = lo + float64(i)*step
	}
	return Band{Center: center, FBW: fbw, Freqs: freqs}, nil
}

// Width returns the bandwidth in Hz.
func (b Band) Width() float64 { return b.Center * b.FBW * GHz }

// Average returns the mean of fn over the band grid.
func (b Band) Average(fn func(freq float64) float64) float64 {
	if len(b.Freqs) == 0 {
		return 0
	}
	var sum float64
	for _, f := range b.Freqs {
		sum += fn(f)
	}
	return sum / float64(len(b.Freqs))
}

// RJTemp converts a thermodynamic temperature to Rayleigh-Jeans brightness at freq (GHz).
func RJTemp(freq, temp float64) float64 {
	if temp <= 0 {
		return 0
	}
	x := PlanckH * freq * GHz / (BoltzmannK * temp)
	return temp * x / math.Expm1(x)
}

// RJToCMB returns dT_RJ/dT_CMB at freq (GHz) for a CMB temperature tcmb.
func RJToCMB(freq, tcmb float64) float64 {
	x := PlanckH * freq * GHz / (BoltzmannK * tcmb)
	ex := math.Exp(x)
	return x * x * ex / ((ex - 1) * (ex - 1))
}
