package camera

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"bolosim/internal/optics"
	"bolosim/internal/param"
	"bolosim/internal/sky"
)

// SkyState is a channel's band-averaged sky, one entry per sky sample.
type SkyState struct {
	Band      sky.Band
	FreqResol float64
	CMBTemp   float64
	TempRJ    []float64
	Trans     []float64
	AtmTemp   []float64
	Elevation []float64
	PWV       []float64
	ObsEffic  []float64
}

// NSky returns the number of sky samples.
func (s *SkyState) NSky() int { return len(s.TempRJ) }

// OpticalState is the optical-chain output. Per-draw slices have NDet entries;
// SkyPower has NSky*NDet entries laid out as isky*NDet + idet.
type OpticalState struct {
	NSky, NDet int
	ChainEff   []float64
	InstPower  []float64 // W
	SkyPower   []float64 // W
	Elements   []optics.ElementLoading
}

// DetectorState holds detector response per combined sample (isky*NDet + idet).
type DetectorState struct {
	NSky, NDet int
	Effic      []float64 // chain x detector x atmosphere
	OptPower   []float64 // W absorbed by the detector
	TelTemp    []float64 // K, instrument loading referred to the sky side
	SkyTemp    []float64 // K
	NEPPhoton  []float64 // W/rtHz
	NEPBolo    []float64
	NEPRead    []float64
	NEP        []float64
	DPDT       []float64 // W/K_CMB
	NumDet     int
	Yield      []float64 // per detector draw
}

// Len returns the number of combined samples.
func (d *DetectorState) Len() int { return d.NSky * d.NDet }

// Channel is one band of one camera; the unit of sensitivity evaluation.
type Channel struct {
	name   string
	camera *Camera
	cfg    ChannelConfig
	chain  *optics.Chain

	detEff, psat, psatFactor, tc, tbath, carrier, yield *param.Param

	ndet    int
	sampled bool

	sky      *SkyState
	optical  *OpticalState
	detector *DetectorState
}

func newChannel(cam *Camera, cfg ChannelConfig, chain *optics.Chain) (*Channel, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("empty channel name")
	}
	if cfg.BandCenter <= 0 {
		return nil, fmt.Errorf("channel %s: band_center must be > 0", name)
	}
	if cfg.FBW <= 0 {
		return nil, fmt.Errorf("channel %s: fbw must be > 0", name)
	}
	if cfg.NumDet < 1 {
		return nil, fmt.Errorf("channel %s: num_det must be >= 1", name)
	}
	ch := &Channel{name: name, camera: cam, cfg: cfg, chain: chain}
	specs := []struct {
		dst  **param.Param
		name string
		spec param.Spec
	}{
		{&ch.detEff, "det_eff", cfg.DetEff},
		{&ch.psat, "psat", cfg.Psat.Or(param.Fixed(0))},
		{&ch.psatFactor, "psat_factor", cfg.PsatFactor},
		{&ch.tc, "tc", cfg.Tc},
		{&ch.tbath, "tbath", cfg.Tbath},
		{&ch.carrier, "carrier_index", cfg.CarrierIndex},
		{&ch.yield, "yield", cfg.Yield},
	}
	for _, s := range specs {
		p, err := param.New(name+"."+s.name, s.spec)
		if err != nil {
			return nil, err
		}
		*s.dst = p
	}
	return ch, nil
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Camera returns the owning camera.
func (c *Channel) Camera() *Camera { return c.camera }

// Config returns the channel configuration with defaults applied.
func (c *Channel) Config() ChannelConfig { return c.cfg }

// Sky returns the sky state, or nil before EvalSky.
func (c *Channel) Sky() *SkyState { return c.sky }

// Optical returns the optical state, or nil before EvalOpticalChains.
func (c *Channel) Optical() *OpticalState { return c.optical }

// Detector returns the detector state, or nil before EvalDetResponse.
func (c *Channel) Detector() *DetectorState { return c.detector }

func (c *Channel) evalSky(model SkyModel, cond sky.Conditions, survey Survey, freqResol float64) error {
	band, err := sky.NewBand(c.cfg.BandCenter, c.cfg.FBW, freqResol)
	if err != nil {
		return err
	}
	load, err := model.Evaluate(band, cond)
	if err != nil {
		return err
	}
	n := len(load.TempRJ)
	c.sky = &SkyState{
		Band:      band,
		FreqResol: freqResol,
		CMBTemp:   model.CMBTemp(),
		TempRJ:    load.TempRJ,
		Trans:     load.Trans,
		AtmTemp:   load.AtmTemp,
		Elevation: broadcast(cond.Elevation, n),
		PWV:       broadcast(cond.PWV, n),
		ObsEffic:  broadcast(survey.ObsEffic, n),
	}
	c.optical = nil
	c.detector = nil
	return nil
}

func (c *Channel) sample(rng *rand.Rand, n int) {
	c.chain.Sample(rng, n)
	for _, p := range []*param.Param{c.detEff, c.psat, c.psatFactor, c.tc, c.tbath, c.carrier, c.yield} {
		p.Sample(rng, n)
	}
	c.ndet = max(n, 1)
	c.sampled = true
	c.optical = nil
	c.detector = nil
}

func (c *Channel) evalOptics(n int, freqResol float64) error {
	if c.sky == nil {
		return ErrSkyNotEvaluated
	}
	if !c.sampled {
		return ErrNotSampled
	}
	if err := c.checkDraws(n, freqResol); err != nil {
		return err
	}
	res, err := c.chain.Evaluate(c.sky.Band)
	if err != nil {
		return err
	}
	nsky, ndet := c.sky.NSky(), c.ndet
	width := c.sky.Band.Width()
	skyPower := make([]float64, nsky*ndet)
	for i := range nsky {
		for j := range ndet {
			skyPower[i*ndet+j] = sky.BoltzmannK * width * c.sky.TempRJ[i] * res.Efficiency[j]
		}
	}
	c.optical = &OpticalState{
		NSky:      nsky,
		NDet:      ndet,
		ChainEff:  res.Efficiency,
		InstPower: res.InstPower,
		SkyPower:  skyPower,
		Elements:  res.Elements,
	}
	c.detector = nil
	return nil
}

func (c *Channel) checkDraws(n int, freqResol float64) error {
	if max(n, 1) != c.ndet {
		return fmt.Errorf("sampled with %d draws, evaluated with %d", c.ndet, max(n, 1))
	}
	if freqResol != c.sky.FreqResol {
		return fmt.Errorf("frequency resolution %g differs from sky stage %g", freqResol, c.sky.FreqResol)
	}
	return nil
}

func (c *Channel) evalDetector(n int, freqResol float64, readout Readout) error {
	if c.optical == nil {
		return ErrOpticsNotEvaluated
	}
	if err := c.checkDraws(n, freqResol); err != nil {
		return err
	}
	opt := c.optical
	band := c.sky.Band
	nu := band.Center * sky.GHz
	width := band.Width()
	rj2cmb := band.Average(func(f float64) float64 { return sky.RJToCMB(f, c.sky.CMBTemp) })
	readScale := (1+readout.ReadFrac)*(1+readout.ReadFrac) - 1

	total := opt.NSky * opt.NDet
	det := &DetectorState{
		NSky:      opt.NSky,
		NDet:      opt.NDet,
		Effic:     make([]float64, total),
		OptPower:  make([]float64, total),
		TelTemp:   make([]float64, total),
		SkyTemp:   make([]float64, total),
		NEPPhoton: make([]float64, total),
		NEPBolo:   make([]float64, total),
		NEPRead:   make([]float64, total),
		NEP:       make([]float64, total),
		DPDT:      make([]float64, total),
		NumDet:    c.cfg.NumDet,
		Yield:     make([]float64, opt.NDet),
	}
	for j := range opt.NDet {
		det.Yield[j] = c.yield.At(j)
		tc, tb := c.tc.At(j), c.tbath.At(j)
		if tb <= 0 || tc <= tb {
			return fmt.Errorf("draw %d: tc %g K must exceed tbath %g K > 0", j, tc, tb)
		}
	}
	for i := range opt.NSky {
		for j := range opt.NDet {
			k := i*opt.NDet + j
			etaDet := c.detEff.At(j)
			popt := etaDet * (opt.SkyPower[k] + opt.InstPower[j])
			nepPh2 := 2*sky.PlanckH*nu*popt + 2*popt*popt/width

			psat := c.psat.At(j)
			if psat <= 0 {
				psat = c.psatFactor.At(j) * popt
			}
			nepBolo2 := thermalNEP2(psat, c.tc.At(j), c.tbath.At(j), c.carrier.At(j))
			nepRead2 := readScale * (nepPh2 + nepBolo2)

			effic := opt.ChainEff[j] * etaDet
			det.Effic[k] = effic * c.sky.Trans[i]
			det.OptPower[k] = popt
			if opt.ChainEff[j] > 0 {
				det.TelTemp[k] = opt.InstPower[j] / (sky.BoltzmannK * width * opt.ChainEff[j])
			}
			det.SkyTemp[k] = c.sky.TempRJ[i]
			det.NEPPhoton[k] = math.Sqrt(nepPh2)
			det.NEPBolo[k] = math.Sqrt(nepBolo2)
			det.NEPRead[k] = math.Sqrt(nepRead2)
			det.NEP[k] = math.Sqrt(nepPh2 + nepBolo2 + nepRead2)
			det.DPDT[k] = sky.BoltzmannK * width * det.Effic[k] * rj2cmb
		}
	}
	c.detector = det
	return nil
}

// thermalNEP2 returns the squared thermal-carrier NEP of a bolometer with
// saturation power psat, transition tc, bath tb, and carrier index n.
func thermalNEP2(psat, tc, tb, n float64) float64 {
	ratio := tb / tc
	g := psat * (n + 1) / (tc * (1 - math.Pow(ratio, n+1)))
	f := (n + 1) / (2*n + 3) * (1 - math.Pow(ratio, 2*n+3)) / (1 - math.Pow(ratio, n+1))
	return 4 * sky.BoltzmannK * tc * tc * g * f
}

func broadcast(v []float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		switch {
		case len(v) == 1:
			out[i] = v[0]
		case i < len(v):
			out[i] = v[i]
		}
	}
	return out
}
