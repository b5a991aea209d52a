package param

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML accepts either a bare number (a fixed value) or a mapping with
// an explicit distribution.
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		var v float64
		if err := node.Decode(&v); err != nil {
			return fmt.Errorf("line %d: parameter must be a number or mapping: %w", node.Line, err)
		}
		*s = Fixed(v)
		return nil
	case yaml.MappingNode:
		type plain Spec
		var raw plain
		if err := node.Decode(&raw); err != nil {
			return fmt.Errorf("line %d: decode parameter: %w", node.Line, err)
		}
		*s = Spec(raw)
		if s.Dist == "" {
			s.Dist = DistFixed
		}
		s.set = true
		return nil
	default:
		return fmt.Errorf("line %d: parameter must be a number or mapping", node.Line)
	}
}

// MarshalYAML writes fixed parameters back as bare numbers.
func (s Spec) MarshalYAML() (any, error) {
	if s.dist() == DistFixed {
		return s.Value, nil
	}
	type plain Spec
	return plain(s), nil
}
