package camera

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"bolosim/internal/optics"
	"bolosim/internal/param"
)

// Readout holds readout-chain settings shared by every channel.
type Readout struct {
	// ReadFrac is the fractional increase of detector NEP due to readout noise.
	ReadFrac float64 `yaml:"read_frac"`
}

// Validate checks the readout settings.
func (r Readout) Validate() error {
	if r.ReadFrac < 0 {
		return fmt.Errorf("read_frac must be >= 0, got %g", r.ReadFrac)
	}
	return nil
}

// ChannelConfig declares one channel. Zero or unset fields fall back to the
// instrument-wide channel defaults.
type ChannelConfig struct {
	Name         string     `yaml:"-"`
	BandCenter   float64    `yaml:"band_center"` // GHz
	FBW          float64    `yaml:"fbw"`
	NumDet       int        `yaml:"num_det"`
	DetEff       param.Spec `yaml:"det_eff"`
	Psat         param.Spec `yaml:"psat"` // W; when unset Psat = PsatFactor * optical power
	PsatFactor   param.Spec `yaml:"psat_factor"`
	Tc           param.Spec `yaml:"tc"`    // K
	Tbath        param.Spec `yaml:"tbath"` // K
	CarrierIndex param.Spec `yaml:"carrier_index"`
	Yield        param.Spec `yaml:"yield"`
}

var builtinDefaults = ChannelConfig{
	NumDet:       1,
	DetEff:       param.Fixed(0.7),
	PsatFactor:   param.Fixed(3),
	Tc:           param.Fixed(0.17),
	Tbath:        param.Fixed(0.1),
	CarrierIndex: param.Fixed(3),
	Yield:        param.Fixed(1),
}

// withDefaults fills unset fields of c from d.
func (c ChannelConfig) withDefaults(d ChannelConfig) ChannelConfig {
	if c.BandCenter == 0 {
		c.BandCenter = d.BandCenter
	}
	if c.FBW == 0 {
		c.FBW = d.FBW
	}
	if c.NumDet == 0 {
		c.NumDet = d.NumDet
	}
	c.DetEff = c.DetEff.Or(d.DetEff)
	c.Psat = c.Psat.Or(d.Psat)
	c.PsatFactor = c.PsatFactor.Or(d.PsatFactor)
	c.Tc = c.Tc.Or(d.Tc)
	c.Tbath = c.Tbath.Or(d.Tbath)
	c.CarrierIndex = c.CarrierIndex.Or(d.CarrierIndex)
	c.Yield = c.Yield.Or(d.Yield)
	return c
}

// ChannelConfigs is an ordered channel-name to config mapping.
type ChannelConfigs []ChannelConfig

// UnmarshalYAML decodes a mapping keyed by channel name, keeping file order.
func (cs *ChannelConfigs) UnmarshalYAML(node *yaml.Node) error {
	return decodeOrdered(node, "channels", func(name string, value *yaml.Node) error {
		var ch ChannelConfig
		if err := value.Decode(&ch); err != nil {
			return fmt.Errorf("channel %s: %w", name, err)
		}
		ch.Name = name
		*cs = append(*cs, ch)
		return nil
	})
}

// Config declares one camera: camera-level optics overrides and its channels.
type Config struct {
	Name     string                 `yaml:"-"`
	Optics   []optics.ElementConfig `yaml:"optics"`
	Channels ChannelConfigs         `yaml:"channels"`
}

// Configs is an ordered camera-name to config mapping.
type Configs []Config

// UnmarshalYAML decodes a mapping keyed by camera name, keeping file order.
func (cs *Configs) UnmarshalYAML(node *yaml.Node) error {
	return decodeOrdered(node, "camera_config", func(name string, value *yaml.Node) error {
		var cam Config
		if err := value.Decode(&cam); err != nil {
			return fmt.Errorf("camera %s: %w", name, err)
		}
		cam.Name = name
		*cs = append(*cs, cam)
		return nil
	})
}

func decodeOrdered(node *yaml.Node, what string, fn func(name string, value *yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping", node.Line, what)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var name string
		if err := node.Content[i].Decode(&name); err != nil {
			return fmt.Errorf("line %d: %s key: %w", node.Content[i].Line, what, err)
		}
		if err := fn(name, node.Content[i+1]); err != nil {
			return err
		}
	}
	return nil
}
