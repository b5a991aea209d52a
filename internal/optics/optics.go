// Package optics builds the optical chain between the sky and each detector and
// evaluates its transmission and emitted loading.
package optics

import (
	"fmt"
	"math"
	"math/rand/v2"
	"strings"

	"bolosim/internal/param"
	"bolosim/internal/sky"
)

// Kind selects the absorption model of an element.
type Kind string

const (
	KindGeneric    Kind = "generic"
	KindMirror     Kind = "mirror"     // adds ohmic loss from Conductivity
	KindDielectric Kind = "dielectric" // adds bulk loss from Thickness, Index, LossTangent
	KindAperture   Kind = "aperture"
)

const (
	speedOfLight = 299792458.0
	vacuumPerm   = 8.8541878128e-12
)

// ElementConfig declares one element of the optical chain.
type ElementConfig struct {
	Name          string     `yaml:"name"`
	Kind          Kind       `yaml:"kind"`
	Temperature   param.Spec `yaml:"temperature"`
	Absorption    param.Spec `yaml:"absorption"`
	Reflection    param.Spec `yaml:"reflection"`
	Spillover     param.Spec `yaml:"spillover"`
	SpilloverTemp param.Spec `yaml:"spillover_temp"`
	Thickness     param.Spec `yaml:"thickness"`
	Index         param.Spec `yaml:"index"`
	LossTangent   param.Spec `yaml:"loss_tangent"`
	Conductivity  param.Spec `yaml:"conductivity"`
}

// Config lists the chain elements ordered from the sky towards the detector.
type Config struct {
	Elements []ElementConfig `yaml:"elements"`
}

// Optics is the validated element catalogue from which per-channel chains are cloned.
type Optics struct {
	elements []ElementConfig
	index    map[string]int
}

// Build validates cfg and returns the element catalogue.
func Build(cfg Config) (*Optics, error) {
	o := &Optics{index: make(map[string]int, len(cfg.Elements))}
	for i, el := range cfg.Elements {
		name := strings.TrimSpace(el.Name)
		if name == "" {
			return nil, fmt.Errorf("optics: element %d has no name", i)
		}
		if _, dup := o.index[name]; dup {
			return nil, fmt.Errorf("optics: duplicate element %q", name)
		}
		if el.Kind == "" {
			el.Kind = KindGeneric
		}
		if _, err := newElement(el); err != nil {
			return nil, err
		}
		o.index[name] = len(o.elements)
		o.elements = append(o.elements, el)
	}
	return o, nil
}

// Elements returns the element names in chain order.
func (o *Optics) Elements() []string {
	out := make([]string, len(o.elements))
	for i, el := range o.elements {
		out[i] = el.Name
	}
	return out
}

// NewChain clones the catalogue into an independent chain. Each override replaces
// the parameters it sets on the element of the same name.
func (o *Optics) NewChain(overrides []ElementConfig) (*Chain, error) {
	cfgs := make([]ElementConfig, len(o.elements))
	copy(cfgs, o.elements)
	for _, ov := range overrides {
		i, ok := o.index[ov.Name]
		if !ok {
			return nil, fmt.Errorf("optics: override for unknown element %q", ov.Name)
		}
		cfgs[i] = merge(cfgs[i], ov)
	}
	chain := &Chain{}
	for _, cfg := range cfgs {
		el, err := newElement(cfg)
		if err != nil {
			return nil, err
		}
		chain.elements = append(chain.elements, el)
	}
	return chain, nil
}

func merge(base, ov ElementConfig) ElementConfig {
	if ov.Kind != "" {
		base.Kind = ov.Kind
	}
	base.Temperature = ov.Temperature.Or(base.Temperature)
	base.Absorption = ov.Absorption.Or(base.Absorption)
	base.Reflection = ov.Reflection.Or(base.Reflection)
	base.Spillover = ov.Spillover.Or(base.Spillover)
	base.SpilloverTemp = ov.SpilloverTemp.Or(base.SpilloverTemp)
	base.Thickness = ov.Thickness.Or(base.Thickness)
	base.Index = ov.Index.Or(base.Index)
	base.LossTangent = ov.LossTangent.Or(base.LossTangent)
	base.Conductivity = ov.Conductivity.Or(base.Conductivity)
	return base
}

type element struct {
	name string
	kind Kind

	temp, absorb, refl, spill, spillTemp *param.Param
	thick, index, tand, sigma            *param.Param
}

func newElement(cfg ElementConfig) (*element, error) {
	el := &element{name: cfg.Name, kind: cfg.Kind}
	switch el.kind {
	case "", KindGeneric:
		el.kind = KindGeneric
	case KindMirror, KindDielectric, KindAperture:
	default:
		return nil, fmt.Errorf("optics: element %q has unknown kind %q", cfg.Name, cfg.Kind)
	}
	specs := []struct {
		dst  **param.Param
		name string
		spec param.Spec
	}{
		{&el.temp, "temperature", cfg.Temperature.Or(param.Fixed(0))},
		{&el.absorb, "absorption", cfg.Absorption.Or(param.Fixed(0))},
		{&el.refl, "reflection", cfg.Reflection.Or(param.Fixed(0))},
		{&el.spill, "spillover", cfg.Spillover.Or(param.Fixed(0))},
		{&el.spillTemp, "spillover_temp", cfg.SpilloverTemp.Or(cfg.Temperature.Or(param.Fixed(0)))},
		{&el.thick, "thickness", cfg.Thickness.Or(param.Fixed(0))},
		{&el.index, "index", cfg.Index.Or(param.Fixed(1))},
		{&el.tand, "loss_tangent", cfg.LossTangent.Or(param.Fixed(0))},
		{&el.sigma, "conductivity", cfg.Conductivity.Or(param.Fixed(0))},
	}
	for _, s := range specs {
		p, err := param.New(cfg.Name+"."+s.name, s.spec)
		if err != nil {
			return nil, fmt.Errorf("optics: %w", err)
		}
		*s.dst = p
	}
	return el, nil
}

func (e *element) params() []*param.Param {
	return []*param.Param{e.temp, e.absorb, e.refl, e.spill, e.spillTemp, e.thick, e.index, e.tand, e.sigma}
}

// absorption returns the loss fraction at freq (GHz) for draw i.
func (e *element) absorption(freq float64, i int) float64 {
	a := e.absorb.At(i)
	nu := freq * sky.GHz
	switch e.kind {
	case KindMirror:
		if sigma := e.sigma.At(i); sigma > 0 {
			a += 4 * math.Sqrt(math.Pi*nu*vacuumPerm/sigma)
		}
	case KindDielectric:
		if t := e.thick.At(i); t > 0 {
			a += -math.Expm1(-2 * math.Pi * e.index.At(i) * e.tand.At(i) * t * nu / speedOfLight)
		}
	}
	return math.Min(math.Max(a, 0), 1)
}

// Chain is one channel's optical path with its own sampled element parameters.
type Chain struct {
	elements []*element
	nsamples int
	sampled  bool
}

// Sample draws n realisations of every element parameter.
func (c *Chain) Sample(rng *rand.Rand, n int) {
	for _, el := range c.elements {
		for _, p := range el.params() {
			p.Sample(rng, n)
		}
	}
	c.nsamples = max(n, 1)
	c.sampled = true
}

// NSamples returns the number of held realisations.
func (c *Chain) NSamples() int { return c.nsamples }

// Len returns the number of elements.
func (c *Chain) Len() int { return len(c.elements) }

// ElementLoading is the power one element deposits at the chain exit, per draw.
type ElementLoading struct {
	Name  string
	Power []float64 // W
}

// Result holds the chain evaluation for one band, one entry per draw.
type Result struct {
	Efficiency []float64 // chain transmission
	InstPower  []float64 // total emitted loading at the chain exit, W
	Elements   []ElementLoading
}

// Evaluate computes the chain transmission and emitted loading over band.
func (c *Chain) Evaluate(band sky.Band) (Result, error) {
	if !c.sampled {
		return Result{}, fmt.Errorf("optics: chain evaluated before sampling")
	}
	n := c.nsamples
	res := Result{
		Efficiency: make([]float64, n),
		InstPower:  make([]float64, n),
		Elements:   make([]ElementLoading, len(c.elements)),
	}
	for j, el := range c.elements {
		res.Elements[j] = ElementLoading{Name: el.name, Power: make([]float64, n)}
	}
	width := band.Width()
	effic := make([]float64, len(c.elements))
	emitted := make([]float64, len(c.elements))
	for i := range n {
		for j, el := range c.elements {
			refl, spill := el.refl.At(i), el.spill.At(i)
			temp, spillTemp := el.temp.At(i), el.spillTemp.At(i)
			var absSum, emitSum float64
			for _, f := range band.Freqs {
				a := el.absorption(f, i)
				absSum += a
				emitSum += a*sky.RJTemp(f, temp) + spill*sky.RJTemp(f, spillTemp)
			}
			npts := float64(len(band.Freqs))
			effic[j] = (1 - absSum/npts) * (1 - refl) * (1 - spill)
			emitted[j] = sky.BoltzmannK * width * emitSum / npts
		}
		downstream := 1.0
		for j := len(c.elements) - 1; j >= 0; j-- {
			p := emitted[j] * downstream
			res.Elements[j].Power[i] = p
			res.InstPower[i] += p
			downstream *= effic[j]
		}
		res.Efficiency[i] = downstream
	}
	return res, nil
}
