package instrument

import (
	"context"
	"log/slog"
	"time"
)

// Logger is the structured logging surface used by the orchestrator.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// NewSlogLogger adapts a *slog.Logger. A nil logger uses slog.Default().
func NewSlogLogger(l *slog.Logger) Logger {
	if l == nil {
		l = slog.Default()
	}
	return l
}

// MetricsRecorder receives the outcome and duration of every stage.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

type noopMetricsRecorder struct{}

func (noopMetricsRecorder) Observe(context.Context, string, bool, time.Duration) {}

// TraceSpan is ended once with the stage error, if any.
type TraceSpan interface {
	End(err error)
}

// Tracer starts a span per stage.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

type noopTracer struct{}

type noopSpan struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

func (noopSpan) End(error) {}

// Stage operation names reported to the logger, metrics, and tracer.
const (
	OpEvalSky           = "eval_sky"
	OpEvalInstrument    = "eval_instrument"
	OpEvalSensitivities = "eval_sensitivities"
	OpMakeTables        = "make_tables"
	OpWriteTables       = "write_tables"
	OpRun               = "run"
)

// observe wraps one stage with a span, a metrics observation, and a log line.
func (i *Instrument) observe(ctx context.Context, op string, fn func(context.Context) error, attrs ...any) error {
	ctx, span := i.tracer.Start(ctx, op)
	started := time.Now()
	err := fn(ctx)
	elapsed := time.Since(started)
	i.metrics.Observe(ctx, op, err == nil, elapsed)
	span.End(err)
	args := append([]any{"op", op, "run_id", i.runID, "duration", elapsed}, attrs...)
	if err != nil {
		i.logger.Error("stage failed", append(args, "error", err)...)
		return err
	}
	i.logger.Debug("stage complete", args...)
	return nil
}
