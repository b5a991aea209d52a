package instrument

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestExpvarMetricsRecorder(t *testing.T) {
	rec := NewExpvarMetricsRecorder("bolosim_test_metrics")
	rec.Observe(context.Background(), OpRun, true, 2*time.Millisecond)
	rec.Observe(context.Background(), OpRun, false, time.Millisecond)
	rec.Observe(context.Background(), "", true, time.Second)
	snap := rec.Snapshot()
	if snap.DurationsMS[OpRun] != 3 || snap.Results[OpRun]["success"] != 1 || snap.Results[OpRun]["error"] != 1 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if len(snap.Results) != 1 {
		t.Fatalf("empty operation must be ignored")
	}
	v := expvar.Get(rec.Name())
	if v == nil || !strings.Contains(v.String(), "durations_ms_total") {
		t.Fatalf("recorder not published")
	}
}

func TestPrometheusMetricsRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(reg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	rec.Observe(context.Background(), OpEvalSky, true, 10*time.Millisecond)
	rec.Observe(context.Background(), OpEvalSky, true, 20*time.Millisecond)
	rec.Observe(context.Background(), OpEvalSky, false, time.Millisecond)
	if got := testutil.ToFloat64(rec.results.WithLabelValues(OpEvalSky, "success")); got != 2 {
		t.Fatalf("expected 2 successes, got %g", got)
	}
	if got := testutil.CollectAndCount(rec.durations); got != 1 {
		t.Fatalf("expected one histogram series, got %d", got)
	}
	if _, err := NewPrometheusMetricsRecorder(reg); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestJSONTracer(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), OpMakeTables)
	span.End(errors.New("boom"))
	_, span = tracer.Start(context.Background(), OpRun)
	span.End(nil)

	entries := tracer.Entries()
	if len(entries) != 2 || entries[0].Status != "error" || entries[0].Error != "boom" || entries[1].Status != "success" {
		t.Fatalf("unexpected entries %+v", entries)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 json lines, got %d", len(lines))
	}
	var decoded JSONTraceEntry
	if err := json.Unmarshal([]byte(lines[1]), &decoded); err != nil || decoded.Operation != OpRun {
		t.Fatalf("unexpected line %q: %v", lines[1], err)
	}
}

func TestLoggers(t *testing.T) {
	var l noopLogger
	l.Debug("x", "k", 1)
	l.Info("x")
	l.Warn("x")
	l.Error("x")

	var buf bytes.Buffer
	logger := NewSlogLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	logger.Warn("sensitivity key collision", "key", "abc")
	if !strings.Contains(buf.String(), "key=abc") {
		t.Fatalf("unexpected log output %q", buf.String())
	}
	if NewSlogLogger(nil) == nil {
		t.Fatalf("nil slog logger must fall back to the default")
	}
}
