// Package requirement evaluates pass/fail checks, written in CEL, against the
// summary statistics of each channel.
package requirement

import (
	"fmt"
	"strings"

	celgo "github.com/google/cel-go/cel"
)

// Requirement declares one check. Expr must evaluate to a bool; it sees the
// mean of every summarised quantity by name plus the channel key as channel.
type Requirement struct {
	Name string `yaml:"name" json:"name"`
	Expr string `yaml:"expr" json:"expr"`
}

// Result is the outcome of one requirement for one channel.
type Result struct {
	Requirement string `json:"requirement"`
	Channel     string `json:"channel"`
	Passed      bool   `json:"passed"`
}

type compiled struct {
	Requirement
	program celgo.Program
}

// Set is a compiled list of requirements.
type Set struct {
	vars     []string
	compiled []compiled
}

// Compile type-checks every requirement against quantities.
func Compile(reqs []Requirement, quantities []string) (*Set, error) {
	opts := []celgo.EnvOption{celgo.Variable("channel", celgo.StringType)}
	for _, q := range quantities {
		opts = append(opts, celgo.Variable(q, celgo.DoubleType))
	}
	env, err := celgo.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("requirement: build env: %w", err)
	}
	set := &Set{vars: append([]string(nil), quantities...)}
	seen := make(map[string]struct{}, len(reqs))
	for i, r := range reqs {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, fmt.Errorf("requirement: entry %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("requirement: duplicate name %q", name)
		}
		seen[name] = struct{}{}
		ast, issues := env.Compile(r.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("requirement %s: %w", name, issues.Err())
		}
		if !ast.OutputType().IsExactType(celgo.BoolType) {
			return nil, fmt.Errorf("requirement %s: expression must be bool, got %v", name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("requirement %s: %w", name, err)
		}
		set.compiled = append(set.compiled, compiled{Requirement: Requirement{Name: name, Expr: r.Expr}, program: prg})
	}
	return set, nil
}

// Len returns the number of requirements.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.compiled)
}

// Check evaluates every requirement for one channel. Quantities missing from
// means evaluate as 0.
func (s *Set) Check(channel string, means map[string]float64) ([]Result, error) {
	if s == nil {
		return nil, nil
	}
	activation := make(map[string]any, len(s.vars)+1)
	for _, v := range s.vars {
		activation[v] = means[v]
	}
	activation["channel"] = channel
	out := make([]Result, 0, len(s.compiled))
	for _, c := range s.compiled {
		val, _, err := c.program.Eval(activation)
		if err != nil {
			return nil, fmt.Errorf("requirement %s on %s: %w", c.Name, channel, err)
		}
		passed, ok := val.Value().(bool)
		if !ok {
			return nil, fmt.Errorf("requirement %s on %s: non-bool result %T", c.Name, channel, val.Value())
		}
		out = append(out, Result{Requirement: c.Name, Channel: channel, Passed: passed})
	}
	return out, nil
}
