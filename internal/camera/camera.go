// Package camera holds the camera/channel hierarchy of an instrument and the
// three per-camera propagation stages: sky loading, optical chain, and detector
// response.
package camera

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"bolosim/internal/optics"
	"bolosim/internal/sky"
)

var (
	ErrNoParent           = errors.New("camera: parent instrument not set")
	ErrParentAlreadySet   = errors.New("camera: parent already set")
	ErrSkyNotEvaluated    = errors.New("camera: sky not evaluated")
	ErrNotSampled         = errors.New("camera: channel parameters not sampled")
	ErrOpticsNotEvaluated = errors.New("camera: optical chain not evaluated")
)

// Survey carries the survey-wide figures a camera reads from its instrument.
type Survey struct {
	ObsTime     float64   // seconds
	SkyFraction float64   // fraction of the full sky
	NETFactor   float64   // multiplicative penalty on array NET
	ObsEffic    []float64 // observing efficiency per sky sample
}

// Parent is the non-owning view a camera keeps of the instrument that owns it.
// It is used for shared lookups only and must not trigger sampling.
type Parent interface {
	Conditions() sky.Conditions
	Readout() Readout
	Survey() Survey
}

// SkyModel is the sampled sky a camera integrates over its channels' bands.
type SkyModel interface {
	Evaluate(band sky.Band, cond sky.Conditions) (sky.Loading, error)
	CMBTemp() float64
}

// Camera owns an ordered set of channels sharing optics and readout.
type Camera struct {
	name     string
	parent   Parent
	channels []*Channel
	index    map[string]*Channel
}

// Build constructs cameras in configuration order. Each channel starts from the
// built-in defaults, then defaults, then its own config, and gets its own clone
// of the optical chain with the camera's overrides applied.
func Build(defaults ChannelConfig, configs Configs, opt *optics.Optics) ([]*Camera, error) {
	if len(configs) == 0 {
		return nil, fmt.Errorf("camera: at least one camera required")
	}
	if opt == nil {
		return nil, fmt.Errorf("camera: optics required")
	}
	defaults = defaults.withDefaults(builtinDefaults)
	seen := make(map[string]struct{}, len(configs))
	cams := make([]*Camera, 0, len(configs))
	for _, cfg := range configs {
		name := strings.TrimSpace(cfg.Name)
		if name == "" {
			return nil, fmt.Errorf("camera: empty camera name")
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("camera: duplicate camera %q", name)
		}
		seen[name] = struct{}{}
		if len(cfg.Channels) == 0 {
			return nil, fmt.Errorf("camera %s: at least one channel required", name)
		}
		cam := &Camera{name: name, index: make(map[string]*Channel, len(cfg.Channels))}
		for _, chCfg := range cfg.Channels {
			if _, dup := cam.index[chCfg.Name]; dup {
				return nil, fmt.Errorf("camera %s: duplicate channel %q", name, chCfg.Name)
			}
			chain, err := opt.NewChain(cfg.Optics)
			if err != nil {
				return nil, fmt.Errorf("camera %s: %w", name, err)
			}
			ch, err := newChannel(cam, chCfg.withDefaults(defaults), chain)
			if err != nil {
				return nil, fmt.Errorf("camera %s: %w", name, err)
			}
			cam.channels = append(cam.channels, ch)
			cam.index[ch.name] = ch
		}
		cams = append(cams, cam)
	}
	return cams, nil
}

// Name returns the camera name.
func (c *Camera) Name() string { return c.name }

// SetParent records the owning instrument. It may be called once.
func (c *Camera) SetParent(p Parent) error {
	if p == nil {
		return fmt.Errorf("camera %s: nil parent", c.name)
	}
	if c.parent != nil {
		return fmt.Errorf("camera %s: %w", c.name, ErrParentAlreadySet)
	}
	c.parent = p
	return nil
}

// Parent returns the owning instrument, or nil before SetParent.
func (c *Camera) Parent() Parent { return c.parent }

// Channels returns the channels in configuration order.
func (c *Camera) Channels() []*Channel {
	out := make([]*Channel, len(c.channels))
	copy(out, c.channels)
	return out
}

// Channel looks up a channel by name.
func (c *Camera) Channel(name string) (*Channel, bool) {
	ch, ok := c.index[name]
	return ch, ok
}

// EvalSky integrates the sampled sky over every channel band. Downstream optical
// and detector state is discarded since it no longer matches the sky.
func (c *Camera) EvalSky(model SkyModel, freqResol float64) error {
	if c.parent == nil {
		return fmt.Errorf("camera %s: %w", c.name, ErrNoParent)
	}
	cond := c.parent.Conditions()
	survey := c.parent.Survey()
	for _, ch := range c.channels {
		if err := ch.evalSky(model, cond, survey, freqResol); err != nil {
			return fmt.Errorf("camera %s channel %s: %w", c.name, ch.name, err)
		}
	}
	return nil
}

// Sample draws n realisations of every channel and optical-chain parameter.
func (c *Camera) Sample(rng *rand.Rand, n int) error {
	if n < 0 {
		return fmt.Errorf("camera %s: negative sample count %d", c.name, n)
	}
	for _, ch := range c.channels {
		ch.sample(rng, n)
	}
	return nil
}

// EvalOpticalChains propagates the sky loading through each channel's optics.
func (c *Camera) EvalOpticalChains(n int, freqResol float64) error {
	for _, ch := range c.channels {
		if err := ch.evalOptics(n, freqResol); err != nil {
			return fmt.Errorf("camera %s channel %s: %w", c.name, ch.name, err)
		}
	}
	return nil
}

// EvalDetResponse turns each channel's optical loading into detector noise.
func (c *Camera) EvalDetResponse(n int, freqResol float64) error {
	if c.parent == nil {
		return fmt.Errorf("camera %s: %w", c.name, ErrNoParent)
	}
	readout := c.parent.Readout()
	for _, ch := range c.channels {
		if err := ch.evalDetector(n, freqResol, readout); err != nil {
			return fmt.Errorf("camera %s channel %s: %w", c.name, ch.name, err)
		}
	}
	return nil
}
