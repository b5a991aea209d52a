// Package derive compiles user-declared per-sample columns written as expr
// expressions over the simulated quantities.
package derive

import (
	"fmt"
	"math"
	"strings"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
)

// Column declares one derived column.
type Column struct {
	Name string `yaml:"name" json:"name"`
	Unit string `yaml:"unit" json:"unit,omitempty"`
	Expr string `yaml:"expr" json:"expr"`
}

type program struct {
	Column
	prog *exprvm.Program
}

// Set is an ordered list of compiled derived columns. Later columns may refer
// to earlier ones.
type Set struct {
	programs []program
}

var functions = map[string]func(float64) float64{
	"sqrt":  math.Sqrt,
	"log":   math.Log,
	"log10": math.Log10,
	"exp":   math.Exp,
}

// Compile checks every expression against the variables in vars and returns
// the compiled set. A nil or empty cols yields an empty set.
func Compile(cols []Column, vars []string) (*Set, error) {
	known := make(map[string]any, len(vars)+len(cols))
	for _, v := range vars {
		known[v] = 0.0
	}
	set := &Set{}
	for i, c := range cols {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			return nil, fmt.Errorf("derive: column %d has no name", i)
		}
		if _, dup := known[name]; dup {
			return nil, fmt.Errorf("derive: column %q shadows an existing column", name)
		}
		if strings.TrimSpace(c.Expr) == "" {
			return nil, fmt.Errorf("derive: column %q has no expression", name)
		}
		options := []exprlang.Option{exprlang.Env(known), exprlang.AsFloat64()}
		for fname, fn := range functions {
			options = append(options, exprlang.Function(fname, unary(fname, fn)))
		}
		options = append(options, exprlang.Function("pow", pow))
		prog, err := exprlang.Compile(c.Expr, options...)
		if err != nil {
			return nil, fmt.Errorf("derive: column %q: %w", name, err)
		}
		c.Name = name
		set.programs = append(set.programs, program{Column: c, prog: prog})
		known[name] = 0.0
	}
	return set, nil
}

// Columns returns the declared columns in order.
func (s *Set) Columns() []Column {
	if s == nil {
		return nil
	}
	out := make([]Column, len(s.programs))
	for i, p := range s.programs {
		out[i] = p.Column
	}
	return out
}

// Len returns the number of derived columns.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.programs)
}

// Eval computes every derived column for one row. env is extended in place
// with the derived values so later columns see earlier ones.
func (s *Set) Eval(env map[string]any) ([]float64, error) {
	if s == nil {
		return nil, nil
	}
	out := make([]float64, len(s.programs))
	for i, p := range s.programs {
		res, err := exprlang.Run(p.prog, env)
		if err != nil {
			return nil, fmt.Errorf("derive: column %q: %w", p.Name, err)
		}
		v, ok := res.(float64)
		if !ok {
			return nil, fmt.Errorf("derive: column %q produced %T", p.Name, res)
		}
		out[i] = v
		env[p.Name] = v
	}
	return out, nil
}

// Apply evaluates the set over n rows of columnar input and returns one slice
// per derived column.
func (s *Set) Apply(columns map[string][]float64, n int) ([][]float64, error) {
	out := make([][]float64, s.Len())
	for i := range out {
		out[i] = make([]float64, n)
	}
	env := make(map[string]any, len(columns)+s.Len())
	for r := range n {
		for name, values := range columns {
			env[name] = values[r]
		}
		row, err := s.Eval(env)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", r, err)
		}
		for i, v := range row {
			out[i][r] = v
		}
	}
	return out, nil
}

func unary(name string, fn func(float64) float64) func(...any) (any, error) {
	return func(args ...any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("%s expects 1 argument, got %d", name, len(args))
		}
		x, err := toFloat(args[0])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return fn(x), nil
	}
}

func pow(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("pow expects 2 arguments, got %d", len(args))
	}
	x, err := toFloat(args[0])
	if err != nil {
		return nil, fmt.Errorf("pow: %w", err)
	}
	y, err := toFloat(args[1])
	if err != nil {
		return nil, fmt.Errorf("pow: %w", err)
	}
	return math.Pow(x, y), nil
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	default:
		return 0, fmt.Errorf("non-numeric argument %T", v)
	}
}
