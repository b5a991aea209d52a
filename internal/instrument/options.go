package instrument

import (
	"bolosim/internal/derive"
	"bolosim/internal/requirement"
	"bolosim/internal/table"
)

// Option customises an Instrument.
type Option func(*Instrument)

// WithLogger sets the logger. A nil logger is ignored.
func WithLogger(l Logger) Option {
	return func(i *Instrument) {
		if l != nil {
			i.logger = l
		}
	}
}

// WithMetricsRecorder sets the stage metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(i *Instrument) {
		if m != nil {
			i.metrics = m
		}
	}
}

// WithTracer sets the stage tracer.
func WithTracer(t Tracer) Option {
	return func(i *Instrument) {
		if t != nil {
			i.tracer = t
		}
	}
}

// WithSeed sets the seed every random stream is derived from.
func WithSeed(seed uint64) Option {
	return func(i *Instrument) { i.seed = seed }
}

// WithTableStore sets the destination used by WriteTables.
func WithTableStore(w table.Writer) Option {
	return func(i *Instrument) { i.store = w }
}

// WithDerivedColumns adds derived per-sample columns to every sensitivity.
func WithDerivedColumns(set *derive.Set) Option {
	return func(i *Instrument) { i.derived = set }
}

// WithRequirements sets the checks run by CheckRequirements.
func WithRequirements(set *requirement.Set) Option {
	return func(i *Instrument) { i.requirements = set }
}
