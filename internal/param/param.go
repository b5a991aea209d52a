// Package param models scalar instrument and sky parameters that are either
// fixed or drawn from a probability distribution during Monte Carlo runs.
package param

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Dist identifies the distribution a parameter is drawn from.
type Dist string

const (
	DistFixed      Dist = "fixed"
	DistGauss      Dist = "gauss"
	DistUniform    Dist = "uniform"
	DistLogNormal  Dist = "lognormal"  // Mean is the median, Std the sigma of ln(x)
	DistTruncGauss Dist = "truncgauss" // gauss restricted to [Min, Max]
)

const truncGaussMaxTries = 1000

// Spec is the declarative form of a parameter as it appears in configuration.
type Spec struct {
	Dist  Dist    `yaml:"dist,omitempty" json:"dist,omitempty"`
	Value float64 `yaml:"value,omitempty" json:"value,omitempty"`
	Mean  float64 `yaml:"mean,omitempty" json:"mean,omitempty"`
	Std   float64 `yaml:"std,omitempty" json:"std,omitempty"`
	Min   float64 `yaml:"min,omitempty" json:"min,omitempty"`
	Max   float64 `yaml:"max,omitempty" json:"max,omitempty"`

	set bool
}

// Fixed returns a Spec that always yields v.
func Fixed(v float64) Spec { return Spec{Dist: DistFixed, Value: v, set: true} }

// Gauss returns a normally distributed Spec.
func Gauss(mean, std float64) Spec { return Spec{Dist: DistGauss, Mean: mean, Std: std, set: true} }

// Uniform returns a Spec drawn uniformly from [lo, hi].
func Uniform(lo, hi float64) Spec { return Spec{Dist: DistUniform, Min: lo, Max: hi, set: true} }

// IsSet reports whether the spec was given explicitly (in code or configuration).
func (s Spec) IsSet() bool { return s.set }

// Or returns s when set, otherwise fallback.
func (s Spec) Or(fallback Spec) Spec {
	if s.set {
		return s
	}
	return fallback
}

// Stochastic reports whether draws can differ from one another.
func (s Spec) Stochastic() bool {
	switch s.dist() {
	case DistFixed:
		return false
	case DistUniform:
		return s.Max > s.Min
	default:
		return s.Std > 0
	}
}

func (s Spec) dist() Dist {
	if s.Dist == "" {
		return DistFixed
	}
	return s.Dist
}

// Central returns the deterministic value used when no Monte Carlo draws are requested.
func (s Spec) Central() float64 {
	switch s.dist() {
	case DistGauss, DistLogNormal, DistTruncGauss:
		return s.Mean
	case DistUniform:
		return 0.5 * (s.Min + s.Max)
	default:
		return s.Value
	}
}

// Validate checks that the distribution parameters are usable.
func (s Spec) Validate() error {
	switch s.dist() {
	case DistFixed:
		if math.IsNaN(s.Value) || math.IsInf(s.Value, 0) {
			return fmt.Errorf("fixed value must be finite")
		}
	case DistGauss:
		if s.Std < 0 {
			return fmt.Errorf("gauss std must be >= 0, got %g", s.Std)
		}
	case DistUniform:
		if s.Max < s.Min {
			return fmt.Errorf("uniform max %g below min %g", s.Max, s.Min)
		}
	case DistLogNormal:
		if s.Mean <= 0 {
			return fmt.Errorf("lognormal median must be > 0, got %g", s.Mean)
		}
		if s.Std < 0 {
			return fmt.Errorf("lognormal sigma must be >= 0, got %g", s.Std)
		}
	case DistTruncGauss:
		if s.Std < 0 {
			return fmt.Errorf("truncgauss std must be >= 0, got %g", s.Std)
		}
		if s.Max <= s.Min {
			return fmt.Errorf("truncgauss requires min < max")
		}
		if s.Mean < s.Min || s.Mean > s.Max {
			return fmt.Errorf("truncgauss mean %g outside [%g, %g]", s.Mean, s.Min, s.Max)
		}
	default:
		return fmt.Errorf("unknown distribution %q", s.Dist)
	}
	return nil
}

func (s Spec) draw(rng *rand.Rand) float64 {
	switch s.dist() {
	case DistGauss:
		return s.Mean + s.Std*rng.NormFloat64()
	case DistUniform:
		return s.Min + (s.Max-s.Min)*rng.Float64()
	case DistLogNormal:
		return s.Mean * math.Exp(s.Std*rng.NormFloat64())
	case DistTruncGauss:
		for range truncGaussMaxTries {
			v := s.Mean + s.Std*rng.NormFloat64()
			if v >= s.Min && v <= s.Max {
				return v
			}
		}
		return math.Min(math.Max(s.Mean, s.Min), s.Max)
	default:
		return s.Value
	}
}

// Param is a named parameter holding the draws of its most recent Sample call.
type Param struct {
	name   string
	spec   Spec
	values []float64
}

// New validates spec and returns a parameter primed with its central value.
func New(name string, spec Spec) (*Param, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &Param{name: name, spec: spec, values: []float64{spec.Central()}}, nil
}

// Name returns the parameter name.
func (p *Param) Name() string { return p.name }

// Spec returns the parameter's declarative form.
func (p *Param) Spec() Spec { return p.spec }

// Sample replaces the held values with n draws from rng. n == 0 stores a single
// central value. A nil rng yields central values for every draw.
func (p *Param) Sample(rng *rand.Rand, n int) []float64 {
	if n <= 0 {
		p.values = []float64{p.spec.Central()}
		return p.values
	}
	values := make([]float64, n)
	for i := range values {
		if rng == nil {
			values[i] = p.spec.Central()
			continue
		}
		values[i] = p.spec.draw(rng)
	}
	p.values = values
	return p.values
}

// Len returns the number of held draws.
func (p *Param) Len() int { return len(p.values) }

// Values returns a copy of the held draws.
func (p *Param) Values() []float64 {
	out := make([]float64, len(p.values))
	copy(out, p.values)
	return out
}

// At returns draw i. A single held value is broadcast to every index.
func (p *Param) At(i int) float64 {
	if len(p.values) == 1 {
		return p.values[0]
	}
	return p.values[i]
}
