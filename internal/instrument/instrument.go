// Package instrument drives the Monte Carlo evaluation of a multi-camera
// instrument: sky sampling, per-camera optical and detector propagation,
// per-channel sensitivities, and the resulting tables.
//
// An Instrument is not safe for concurrent use.
package instrument

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"bolosim/internal/camera"
	"bolosim/internal/config"
	"bolosim/internal/derive"
	"bolosim/internal/optics"
	"bolosim/internal/param"
	"bolosim/internal/requirement"
	"bolosim/internal/sensitivity"
	"bolosim/internal/sky"
	"bolosim/internal/table"
)

var (
	ErrNoSensitivities = errors.New("instrument: no sensitivities to summarise")
	ErrNoTableStore    = errors.New("instrument: no table store configured")
)

// Universe is the sampled sky model the instrument observes.
type Universe interface {
	Sample(rng *rand.Rand, n int) error
	camera.SkyModel
}

// Instrument owns its cameras and the derived state of the latest run.
type Instrument struct {
	cfg     config.Instrument
	readout camera.Readout
	optics  *optics.Optics
	cameras []*camera.Camera
	byName  map[string]*camera.Camera
	atm     *sky.AtmosphereTable

	elevation, pwv, obsEffic *param.Param

	seed             uint64
	skyRuns, detRuns uint64
	runID            string

	sns        map[string]*sensitivity.Sensitivity
	snsKeys    []string
	collisions int
	tables     *table.Dict

	logger       Logger
	metrics      MetricsRecorder
	tracer       Tracer
	store        table.Writer
	derived      *derive.Set
	requirements *requirement.Set
}

// New validates cfg, builds the optics and cameras, and attaches every camera
// to the instrument.
func New(cfg config.Instrument, opts ...Option) (*Instrument, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	i := &Instrument{
		cfg:     cfg,
		readout: *cfg.Readout,
		byName:  map[string]*camera.Camera{},
		sns:     map[string]*sensitivity.Sensitivity{},
		logger:  noopLogger{},
		metrics: noopMetricsRecorder{},
		tracer:  noopTracer{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(i)
		}
	}
	var err error
	if i.elevation, err = param.New("elevation", cfg.Elevation); err != nil {
		return nil, err
	}
	if i.pwv, err = param.New("pwv", cfg.PWV); err != nil {
		return nil, err
	}
	if i.obsEffic, err = param.New("obs_effic", cfg.ObsEffic); err != nil {
		return nil, err
	}
	if cfg.CustomAtmFile != "" {
		if i.atm, err = sky.LoadAtmosphereFile(cfg.CustomAtmFile); err != nil {
			return nil, fmt.Errorf("instrument: custom_atm_file: %w", err)
		}
	}
	if i.optics, err = optics.Build(cfg.OpticsConfig); err != nil {
		return nil, fmt.Errorf("instrument: %w", err)
	}
	if i.cameras, err = camera.Build(cfg.ChannelDefault, cfg.CameraConfig, i.optics); err != nil {
		return nil, fmt.Errorf("instrument: %w", err)
	}
	for _, cam := range i.cameras {
		if err := cam.SetParent(i); err != nil {
			return nil, fmt.Errorf("instrument: %w", err)
		}
		i.byName[cam.Name()] = cam
	}
	return i, nil
}

// NewUniverse builds a sky model for this instrument, applying the custom
// atmosphere table when one is configured.
func (i *Instrument) NewUniverse(cfg sky.Config) (*sky.Universe, error) {
	u, err := sky.New(cfg)
	if err != nil {
		return nil, err
	}
	if i.atm != nil {
		u.WithAtmosphereTable(i.atm)
	}
	return u, nil
}

// Name returns the configured instrument name.
func (i *Instrument) Name() string { return i.cfg.Name }

// Site returns the observing site.
func (i *Instrument) Site() string { return i.cfg.Site }

// Config returns the instrument configuration.
func (i *Instrument) Config() config.Instrument { return i.cfg }

// Optics returns the optics catalogue shared by every camera.
func (i *Instrument) Optics() *optics.Optics { return i.optics }

// Cameras returns the cameras in configuration order.
func (i *Instrument) Cameras() []*camera.Camera {
	return append([]*camera.Camera(nil), i.cameras...)
}

// Camera looks up a camera by name.
func (i *Instrument) Camera(name string) (*camera.Camera, bool) {
	c, ok := i.byName[name]
	return c, ok
}

// Conditions implements camera.Parent.
func (i *Instrument) Conditions() sky.Conditions {
	return sky.Conditions{
		Elevation:   i.elevation.Values(),
		PWV:         i.pwv.Values(),
		Temperature: i.cfg.SkyTemp,
	}
}

// Readout implements camera.Parent.
func (i *Instrument) Readout() camera.Readout { return i.readout }

// Survey implements camera.Parent.
func (i *Instrument) Survey() camera.Survey {
	return camera.Survey{
		ObsTime:     i.cfg.ObsTime.Seconds(),
		SkyFraction: i.cfg.SkyFraction,
		NETFactor:   i.cfg.NET,
		ObsEffic:    i.obsEffic.Values(),
	}
}

// Elevation returns the elevation draws of the latest sky stage.
func (i *Instrument) Elevation() []float64 { return i.elevation.Values() }

// PWV returns the pwv draws of the latest sky stage.
func (i *Instrument) PWV() []float64 { return i.pwv.Values() }

// ObsEffic returns the observing efficiency draws of the latest sky stage.
func (i *Instrument) ObsEffic() []float64 { return i.obsEffic.Values() }

// RunID identifies the latest Run call. It is empty before the first run.
func (i *Instrument) RunID() string { return i.runID }

// Sensitivities returns the sensitivity keys of the latest EvalSensitivities,
// in camera then channel order.
func (i *Instrument) Sensitivities() []string {
	return append([]string(nil), i.snsKeys...)
}

// Sensitivity looks up a sensitivity by camera+channel key.
func (i *Instrument) Sensitivity(key string) (*sensitivity.Sensitivity, bool) {
	s, ok := i.sns[key]
	return s, ok
}

// Collisions returns how many sensitivities the latest EvalSensitivities
// overwrote because two camera+channel keys coincided.
func (i *Instrument) Collisions() int { return i.collisions }

// Tables returns the tables of the latest MakeTables, or nil.
func (i *Instrument) Tables() *table.Dict { return i.tables }

// IsSummaryKey reports whether a table name carries the summary marker.
func IsSummaryKey(key string) bool {
	return strings.Index(key, sensitivity.SummarySuffix) > 0
}
