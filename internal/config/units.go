package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seconds per supported observation-time unit.
var timeUnits = map[string]float64{
	"s":     1,
	"sec":   1,
	"min":   60,
	"hr":    3600,
	"h":     3600,
	"day":   86400,
	"d":     86400,
	"yr":    365.25 * 86400,
	"year":  365.25 * 86400,
	"years": 365.25 * 86400,
}

// ObsTime is an observation time in seconds. In YAML it is either a bare
// number of years or a quantity string such as "5 yr" or "1e6 s".
type ObsTime float64

// Seconds returns the duration in seconds.
func (o ObsTime) Seconds() float64 { return float64(o) }

// ParseObsTime parses a quantity string into seconds. A bare number is years.
func ParseObsTime(s string) (ObsTime, error) {
	fields := strings.Fields(strings.TrimSpace(s))
	switch len(fields) {
	case 1:
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, fmt.Errorf("obs_time %q: %w", s, err)
		}
		return ObsTime(v * timeUnits["yr"]), nil
	case 2:
		v, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return 0, fmt.Errorf("obs_time %q: %w", s, err)
		}
		scale, ok := timeUnits[strings.ToLower(fields[1])]
		if !ok {
			return 0, fmt.Errorf("obs_time %q: unknown unit %q", s, fields[1])
		}
		return ObsTime(v * scale), nil
	default:
		return 0, fmt.Errorf("obs_time %q: want <value> [unit]", s)
	}
}

// UnmarshalYAML accepts a number of years or a quantity string.
func (o *ObsTime) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: obs_time must be a scalar", node.Line)
	}
	v, err := ParseObsTime(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*o = v
	return nil
}

// MarshalYAML writes the value in seconds with an explicit unit.
func (o ObsTime) MarshalYAML() (any, error) {
	return strconv.FormatFloat(float64(o), 'g', -1, 64) + " s", nil
}
