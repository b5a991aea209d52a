// Package config loads and validates the simulation configuration file.
//
// Environment variables override the output and seed settings of the file:
//
//	BOLOSIM_SEED: random seed
//	BOLOSIM_TABLE_DRIVER: fs|s3|memory|sqlite|postgres (default fs)
//	BOLOSIM_TABLE_FORMAT: json|csv for blob drivers (default json)
//	BOLOSIM_BLOB_FS_ROOT: directory root when driver=fs (default ./tables)
//	BOLOSIM_BLOB_S3_BUCKET, BOLOSIM_BLOB_S3_REGION, BOLOSIM_BLOB_S3_ENDPOINT,
//	BOLOSIM_BLOB_S3_PATH_STYLE: S3 settings when driver=s3
//	BOLOSIM_SQLITE_PATH: database file when driver=sqlite (default bolosim.db)
//	BOLOSIM_POSTGRES_DSN: connection string when driver=postgres
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"bolosim/internal/camera"
	"bolosim/internal/derive"
	"bolosim/internal/optics"
	"bolosim/internal/param"
	"bolosim/internal/requirement"
	"bolosim/internal/sky"
)

// Table storage drivers.
const (
	DriverFS       = "fs"
	DriverS3       = "s3"
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Blob table formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
)

// Instrument is the validated instrument description.
type Instrument struct {
	Name           string               `yaml:"name"`
	Site           string               `yaml:"site"`
	SkyTemp        float64              `yaml:"sky_temp"` // K
	ObsTime        ObsTime              `yaml:"obs_time"`
	SkyFraction    float64              `yaml:"sky_fraction"`
	NET            float64              `yaml:"NET"` // multiplicative penalty on array NET
	CustomAtmFile  string               `yaml:"custom_atm_file"`
	Elevation      param.Spec           `yaml:"elevation"` // deg
	PWV            param.Spec           `yaml:"pwv"`       // mm
	ObsEffic       param.Spec           `yaml:"obs_effic"`
	Readout        *camera.Readout      `yaml:"readout"`
	OpticsConfig   optics.Config        `yaml:"optics_config"`
	ChannelDefault camera.ChannelConfig `yaml:"channel_default"`
	CameraConfig   camera.Configs       `yaml:"camera_config"`
}

// Sim controls the Monte Carlo run.
type Sim struct {
	NSkySim     int     `yaml:"nsky_sim"`
	NDetSim     int     `yaml:"ndet_sim"`
	FreqResol   float64 `yaml:"freq_resol"` // GHz, 0 selects the default band grid
	SaveSummary bool    `yaml:"save_summary"`
	SaveSim     bool    `yaml:"save_sim"`
	Seed        uint64  `yaml:"seed"`
}

// Output selects where tables are written.
type Output struct {
	Basename    string `yaml:"basename"`
	Name        string `yaml:"name"`
	Driver      string `yaml:"driver"`
	Format      string `yaml:"format"`
	FSRoot      string `yaml:"fs_root"`
	S3Bucket    string `yaml:"s3_bucket"`
	S3Region    string `yaml:"s3_region"`
	S3Endpoint  string `yaml:"s3_endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
	SQLitePath  string `yaml:"sqlite_path"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// File is the top-level configuration document.
type File struct {
	Instrument   Instrument                `yaml:"instrument"`
	Sky          sky.Config                `yaml:"sky"`
	Sim          Sim                       `yaml:"sim"`
	Derived      []derive.Column           `yaml:"derived"`
	Requirements []requirement.Requirement `yaml:"requirements"`
	Output       Output                    `yaml:"output"`
}

// Default returns a File holding every default value.
func Default() File {
	return File{
		Sim: Sim{SaveSummary: true, SaveSim: true},
		Output: Output{
			Driver:     DriverFS,
			Format:     FormatJSON,
			FSRoot:     "./tables",
			SQLitePath: "bolosim.db",
		},
	}
}

// Load reads path, applies environment overrides, and validates the result.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	f, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := ApplyEnv(f, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Decode parses a configuration document over the defaults. Unknown fields are
// rejected. The result is not validated.
func Decode(r io.Reader) (*File, error) {
	f := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty configuration")
		}
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &f, nil
}

// ApplyEnv overlays BOLOSIM_* variables found through lookup.
func ApplyEnv(f *File, lookup func(string) (string, bool)) error {
	var errs ValidationErrors
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("BOLOSIM_SEED"); ok && v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			errs.add("BOLOSIM_SEED", "not an unsigned integer: %q", v)
		} else {
			f.Sim.Seed = seed
		}
	}
	str("BOLOSIM_TABLE_DRIVER", &f.Output.Driver)
	str("BOLOSIM_TABLE_FORMAT", &f.Output.Format)
	str("BOLOSIM_BLOB_FS_ROOT", &f.Output.FSRoot)
	str("BOLOSIM_BLOB_S3_BUCKET", &f.Output.S3Bucket)
	str("BOLOSIM_BLOB_S3_REGION", &f.Output.S3Region)
	str("BOLOSIM_BLOB_S3_ENDPOINT", &f.Output.S3Endpoint)
	str("BOLOSIM_SQLITE_PATH", &f.Output.SQLitePath)
	str("BOLOSIM_POSTGRES_DSN", &f.Output.PostgresDSN)
	if v, ok := lookup("BOLOSIM_BLOB_S3_PATH_STYLE"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs.add("BOLOSIM_BLOB_S3_PATH_STYLE", "not a boolean: %q", v)
		} else {
			f.Output.S3PathStyle = b
		}
	}
	return errs.err()
}

// Validate checks the whole document and reports every problem found.
func (f *File) Validate() error {
	var errs ValidationErrors
	errs = append(errs, f.Instrument.validate()...)
	if f.Sim.NSkySim < 0 {
		errs.add("sim.nsky_sim", "must be >= 0, got %d", f.Sim.NSkySim)
	}
	if f.Sim.NDetSim < 0 {
		errs.add("sim.ndet_sim", "must be >= 0, got %d", f.Sim.NDetSim)
	}
	if f.Sim.FreqResol < 0 {
		errs.add("sim.freq_resol", "must be >= 0, got %g", f.Sim.FreqResol)
	}
	errs = append(errs, f.Output.validate()...)
	return errs.err()
}

// Validate checks the instrument description.
func (c Instrument) Validate() error {
	return c.validate().err()
}

func (c Instrument) validate() ValidationErrors {
	var errs ValidationErrors
	if strings.TrimSpace(c.Site) == "" {
		errs.add("instrument.site", "required")
	}
	if c.SkyTemp <= 0 {
		errs.add("instrument.sky_temp", "must be > 0 K, got %g", c.SkyTemp)
	}
	if c.ObsTime <= 0 {
		errs.add("instrument.obs_time", "must be > 0, got %g s", c.ObsTime.Seconds())
	}
	if c.SkyFraction <= 0 || c.SkyFraction > 1 {
		errs.add("instrument.sky_fraction", "must be in (0, 1], got %g", c.SkyFraction)
	}
	if c.NET <= 0 {
		errs.add("instrument.NET", "must be > 0, got %g", c.NET)
	}
	specs := []struct {
		field  string
		spec   param.Spec
		lo, hi float64
	}{
		{"instrument.elevation", c.Elevation, 0, 90},
		{"instrument.pwv", c.PWV, 0, 100},
		{"instrument.obs_effic", c.ObsEffic, 0, 1},
	}
	for _, s := range specs {
		if !s.spec.IsSet() {
			errs.add(s.field, "required")
			continue
		}
		if err := s.spec.Validate(); err != nil {
			errs.add(s.field, "%v", err)
			continue
		}
		if v := s.spec.Central(); v < s.lo || v > s.hi {
			errs.add(s.field, "central value %g outside [%g, %g]", v, s.lo, s.hi)
		}
	}
	if c.Readout == nil {
		errs.add("instrument.readout", "required")
	} else if err := c.Readout.Validate(); err != nil {
		errs.add("instrument.readout", "%v", err)
	}
	if len(c.CameraConfig) == 0 {
		errs.add("instrument.camera_config", "at least one camera required")
	}
	return errs
}

func (o Output) validate() ValidationErrors {
	var errs ValidationErrors
	switch o.Driver {
	case DriverFS, DriverMemory:
	case DriverS3:
		if o.S3Bucket == "" {
			errs.add("output.s3_bucket", "required when driver=s3")
		}
	case DriverSQLite:
		if o.SQLitePath == "" {
			errs.add("output.sqlite_path", "required when driver=sqlite")
		}
	case DriverPostgres:
		if o.PostgresDSN == "" {
			errs.add("output.postgres_dsn", "required when driver=postgres")
		}
	default:
		errs.add("output.driver", "unknown driver %q", o.Driver)
	}
	if o.Format != FormatJSON && o.Format != FormatCSV {
		errs.add("output.format", "unknown format %q", o.Format)
	}
	return errs
}
