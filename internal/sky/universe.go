// Package sky models the sampled sky and atmosphere seen by every camera:
// CMB, galactic dust and synchrotron foregrounds, and atmospheric emission and
// transmission.
package sky

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"bolosim/internal/param"
)

// DefaultCMBTemp is the CMB monopole temperature in K.
const DefaultCMBTemp = 2.7255

// ErrNotSampled is returned when the universe is evaluated before Sample.
var ErrNotSampled = errors.New("sky: universe has not been sampled")

// Config describes the sky components.
type Config struct {
	CMBTemp     float64           `yaml:"cmb_temp"`
	Dust        DustConfig        `yaml:"dust"`
	Synchrotron SynchrotronConfig `yaml:"synchrotron"`
	Atmosphere  AtmosphereConfig  `yaml:"atmosphere"`
}

// DustConfig parameterises a modified blackbody; Amplitude is K_RJ at RefFreq.
type DustConfig struct {
	Amplitude     param.Spec `yaml:"amplitude"`
	SpectralIndex param.Spec `yaml:"spectral_index"`
	Temperature   param.Spec `yaml:"temperature"`
	RefFreq       float64    `yaml:"ref_freq"`
}

// SynchrotronConfig parameterises a power law; Amplitude is K_RJ at RefFreq.
type SynchrotronConfig struct {
	Amplitude     param.Spec `yaml:"amplitude"`
	SpectralIndex param.Spec `yaml:"spectral_index"`
	RefFreq       float64    `yaml:"ref_freq"`
}

// AtmosphereConfig parameterises zenith opacity as dry + wet*pwv scaled by (freq/RefFreq)^2.
type AtmosphereConfig struct {
	DryOpacity param.Spec `yaml:"dry_opacity"`
	WetOpacity param.Spec `yaml:"wet_opacity"`
	RefFreq    float64    `yaml:"ref_freq"`
}

// Conditions carries the observing conditions for each sky sample.
// Single-element slices are broadcast over all samples.
type Conditions struct {
	Elevation   []float64 // degrees
	PWV         []float64 // mm
	Temperature float64   // physical atmosphere temperature, K
}

// Loading is the band-averaged sky seen by one channel, one entry per sky sample.
type Loading struct {
	TempRJ  []float64 // RJ brightness at the telescope aperture, K
	Trans   []float64 // atmosphere transmission
	AtmTemp []float64 // atmosphere RJ brightness, K
}

// Universe is the shared sky model. It holds the draws of its latest Sample call.
type Universe struct {
	cmbTemp float64

	dustAmp, dustIndex, dustTemp *param.Param
	syncAmp, syncIndex           *param.Param
	dryTau, wetTau               *param.Param
	dustRef, syncRef, atmRef     float64

	custom   *AtmosphereTable
	nsamples int
	sampled  bool
}

// New builds a universe from cfg, filling unset components with defaults.
func New(cfg Config) (*Universe, error) {
	u := &Universe{
		cmbTemp: cfg.CMBTemp,
		dustRef: cfg.Dust.RefFreq,
		syncRef: cfg.Synchrotron.RefFreq,
		atmRef:  cfg.Atmosphere.RefFreq,
	}
	if u.cmbTemp <= 0 {
		u.cmbTemp = DefaultCMBTemp
	}
	if u.dustRef <= 0 {
		u.dustRef = 353
	}
	if u.syncRef <= 0 {
		u.syncRef = 30
	}
	if u.atmRef <= 0 {
		u.atmRef = 150
	}
	specs := []struct {
		dst  **param.Param
		name string
		spec param.Spec
	}{
		{&u.dustAmp, "dust.amplitude", cfg.Dust.Amplitude.Or(param.Fixed(0))},
		{&u.dustIndex, "dust.spectral_index", cfg.Dust.SpectralIndex.Or(param.Fixed(1.59))},
		{&u.dustTemp, "dust.temperature", cfg.Dust.Temperature.Or(param.Fixed(19.6))},
		{&u.syncAmp, "synchrotron.amplitude", cfg.Synchrotron.Amplitude.Or(param.Fixed(0))},
		{&u.syncIndex, "synchrotron.spectral_index", cfg.Synchrotron.SpectralIndex.Or(param.Fixed(-3.1))},
		{&u.dryTau, "atmosphere.dry_opacity", cfg.Atmosphere.DryOpacity.Or(param.Fixed(0.01))},
		{&u.wetTau, "atmosphere.wet_opacity", cfg.Atmosphere.WetOpacity.Or(param.Fixed(0.03))},
	}
	for _, s := range specs {
		p, err := param.New(s.name, s.spec)
		if err != nil {
			return nil, fmt.Errorf("sky: %w", err)
		}
		*s.dst = p
	}
	return u, nil
}

// WithAtmosphereTable replaces the parametric atmosphere with a tabulated one.
func (u *Universe) WithAtmosphereTable(tab *AtmosphereTable) *Universe {
	u.custom = tab
	return u
}

func (u *Universe) params() []*param.Param {
	return []*param.Param{u.dustAmp, u.dustIndex, u.dustTemp, u.syncAmp, u.syncIndex, u.dryTau, u.wetTau}
}

// Sample draws n realisations of every sky parameter. n == 0 yields one
// deterministic realisation.
func (u *Universe) Sample(rng *rand.Rand, n int) error {
	if n < 0 {
		return fmt.Errorf("sky: negative sample count %d", n)
	}
	for _, p := range u.params() {
		p.Sample(rng, n)
	}
	u.nsamples = max(n, 1)
	u.sampled = true
	return nil
}

// Sampled reports whether Sample has been called.
func (u *Universe) Sampled() bool { return u.sampled }

// NSamples returns the number of held sky realisations.
func (u *Universe) NSamples() int { return u.nsamples }

// CMBTemp returns the CMB temperature in K.
func (u *Universe) CMBTemp() float64 { return u.cmbTemp }

// Evaluate integrates the sampled sky over band for each sky sample.
func (u *Universe) Evaluate(band Band, cond Conditions) (Loading, error) {
	if !u.sampled {
		return Loading{}, ErrNotSampled
	}
	n := u.nsamples
	if err := checkLen("elevation", cond.Elevation, n); err != nil {
		return Loading{}, err
	}
	if err := checkLen("pwv", cond.PWV, n); err != nil {
		return Loading{}, err
	}
	out := Loading{
		TempRJ:  make([]float64, n),
		Trans:   make([]float64, n),
		AtmTemp: make([]float64, n),
	}
	for i := range n {
		el, pwv := at(cond.Elevation, i), at(cond.PWV, i)
		var tempSum, transSum, atmSum float64
		for _, f := range band.Freqs {
			tr, tatm := u.atmosphere(f, el, pwv, cond.Temperature, i)
			tempSum += u.astro(f, i)*tr + tatm
			transSum += tr
			atmSum += tatm
		}
		npts := float64(len(band.Freqs))
		out.TempRJ[i] = tempSum / npts
		out.Trans[i] = transSum / npts
		out.AtmTemp[i] = atmSum / npts
	}
	return out, nil
}

// astro returns the RJ brightness of the sky above the atmosphere at freq for sample i.
func (u *Universe) astro(freq float64, i int) float64 {
	t := RJTemp(freq, u.cmbTemp)
	if amp := u.dustAmp.At(i); amp != 0 {
		beta, td := u.dustIndex.At(i), u.dustTemp.At(i)
		x := PlanckH * freq * GHz / (BoltzmannK * td)
		x0 := PlanckH * u.dustRef * GHz / (BoltzmannK * td)
		t += amp * math.Pow(freq/u.dustRef, beta+1) * math.Expm1(x0) / math.Expm1(x)
	}
	if amp := u.syncAmp.At(i); amp != 0 {
		t += amp * math.Pow(freq/u.syncRef, u.syncIndex.At(i))
	}
	return t
}

// atmosphere returns transmission and RJ emission at freq for the given conditions.
func (u *Universe) atmosphere(freq, el, pwv, temp float64, i int) (trans, emission float64) {
	if u.custom != nil {
		return u.custom.At(freq)
	}
	scale := (freq / u.atmRef) * (freq / u.atmRef)
	tau := (u.dryTau.At(i) + u.wetTau.At(i)*pwv) * scale * airmass(el)
	trans = math.Exp(-tau)
	return trans, temp * (1 - trans)
}

func checkLen(name string, v []float64, n int) error {
	if len(v) != 1 && len(v) != n {
		return fmt.Errorf("sky: %s has %d samples, want 1 or %d", name, len(v), n)
	}
	return nil
}

func at(v []float64, i int) float64 {
	if len(v) == 1 {
		return v[0]
	}
	return v[i]
}
