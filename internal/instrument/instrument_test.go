package instrument

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

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

func testConfig(cams ...camera.Config) config.Instrument {
	if len(cams) == 0 {
		cams = []camera.Config{
			{Name: "cam1", Channels: camera.ChannelConfigs{{Name: "ch1", BandCenter: 90}, {Name: "ch2", BandCenter: 150}}},
			{Name: "cam2", Channels: camera.ChannelConfigs{{Name: "ch1", BandCenter: 220}, {Name: "ch2", BandCenter: 280}}},
		}
	}
	return config.Instrument{
		Name:        "test",
		Site:        "Atacama",
		SkyTemp:     270,
		ObsTime:     config.ObsTime(3.15576e7),
		SkyFraction: 0.1,
		NET:         1,
		Elevation:   param.Gauss(50, 2),
		PWV:         param.Uniform(0.5, 1.5),
		ObsEffic:    param.Fixed(0.2),
		Readout:     &camera.Readout{ReadFrac: 0.1},
		OpticsConfig: optics.Config{Elements: []optics.ElementConfig{
			{Name: "window", Kind: optics.KindDielectric, Temperature: param.Fixed(280), Thickness: param.Fixed(0.003), Index: param.Fixed(1.5), LossTangent: param.Gauss(3e-4, 3e-5)},
			{Name: "lyot", Kind: optics.KindAperture, Temperature: param.Fixed(4), Spillover: param.Fixed(0.2)},
		}},
		ChannelDefault: camera.ChannelConfig{FBW: 0.25, NumDet: 100, DetEff: param.Gauss(0.7, 0.02)},
		CameraConfig:   cams,
	}
}

func newInstrument(t *testing.T, cfg config.Instrument, opts ...Option) *Instrument {
	t.Helper()
	inst, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("new instrument: %v", err)
	}
	return inst
}

func newUniverse(t *testing.T, inst *Instrument, cfg sky.Config) *sky.Universe {
	t.Helper()
	u, err := inst.NewUniverse(cfg)
	if err != nil {
		t.Fatalf("universe: %v", err)
	}
	return u
}

func TestNewValidates(t *testing.T) {
	cfg := testConfig()
	cfg.Readout = nil
	cfg.Site = ""
	_, err := New(cfg)
	var verrs config.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) != 2 {
		t.Fatalf("expected two validation errors, got %v", err)
	}
	inst := newInstrument(t, testConfig())
	if len(inst.Cameras()) != 2 {
		t.Fatalf("expected 2 cameras")
	}
	cam, ok := inst.Camera("cam2")
	if !ok || cam.Parent() != camera.Parent(inst) {
		t.Fatalf("camera parent not set to instrument")
	}
	if err := cam.SetParent(inst); !errors.Is(err, camera.ErrParentAlreadySet) {
		t.Fatalf("expected parent to be fixed, got %v", err)
	}
}

func TestStageOrdering(t *testing.T) {
	ctx := context.Background()
	inst := newInstrument(t, testConfig())
	if err := inst.EvalInstrument(ctx, 2, 0); !errors.Is(err, camera.ErrSkyNotEvaluated) {
		t.Fatalf("expected ErrSkyNotEvaluated, got %v", err)
	}

	cold := newUniverse(t, inst, sky.Config{})
	hot := newUniverse(t, inst, sky.Config{Dust: sky.DustConfig{Amplitude: param.Fixed(50)}})
	power := func() float64 {
		ch, _ := inst.cameras[0].Channel("ch1")
		return ch.Detector().OptPower[0]
	}

	if err := inst.EvalSky(ctx, cold, 0, 0); err != nil {
		t.Fatalf("eval sky: %v", err)
	}
	if err := inst.EvalInstrument(ctx, 0, 0); err != nil {
		t.Fatalf("eval instrument: %v", err)
	}
	coldPower := power()

	if err := inst.EvalSky(ctx, hot, 0, 0); err != nil {
		t.Fatalf("eval sky: %v", err)
	}
	ch, _ := inst.cameras[0].Channel("ch1")
	if ch.Detector() != nil {
		t.Fatalf("re-evaluating the sky must discard detector state")
	}
	if err := inst.EvalInstrument(ctx, 0, 0); err != nil {
		t.Fatalf("eval instrument: %v", err)
	}
	if hotPower := power(); hotPower <= coldPower {
		t.Fatalf("hotter sky must raise optical power: %g <= %g", hotPower, coldPower)
	}
}

func TestSampleCountPropagation(t *testing.T) {
	ctx := context.Background()
	inst := newInstrument(t, testConfig())
	u := newUniverse(t, inst, sky.Config{})
	for _, tc := range []struct{ n, want int }{{5, 5}, {0, 1}, {3, 3}} {
		if err := inst.EvalSky(ctx, u, tc.n, 0); err != nil {
			t.Fatalf("eval sky %d: %v", tc.n, err)
		}
		if u.NSamples() != tc.want || len(inst.ObsEffic()) != tc.want || len(inst.Elevation()) != tc.want || len(inst.PWV()) != tc.want {
			t.Fatalf("n=%d: universe %d obs_effic %d elevation %d pwv %d, want %d",
				tc.n, u.NSamples(), len(inst.ObsEffic()), len(inst.Elevation()), len(inst.PWV()), tc.want)
		}
	}
	if err := inst.EvalSky(ctx, u, -1, 0); err == nil {
		t.Fatalf("expected negative count error")
	}
}

func TestRunSummaryPolicy(t *testing.T) {
	ctx := context.Background()
	inst := newInstrument(t, testConfig())
	u := newUniverse(t, inst, sky.Config{})

	tables, err := inst.Run(ctx, u, config.Sim{NSkySim: 0, NDetSim: 0, SaveSummary: true, SaveSim: true}, "base_")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, k := range tables.Keys() {
		if strings.HasSuffix(k, "summary") {
			t.Fatalf("deterministic run must not produce a summary, got %s", k)
		}
	}
	if tables.Len() != 4 {
		t.Fatalf("expected 4 sims tables, got %v", tables.Keys())
	}

	tables, err = inst.Run(ctx, u, config.Sim{NSkySim: 5, NDetSim: 1, SaveSummary: true, SaveSim: true}, "base_")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var summaries []string
	for _, k := range tables.Keys() {
		if k == "base_summary" {
			summaries = append(summaries, k)
		} else if IsSummaryKey(k) {
			t.Fatalf("per-channel summary %s left in collection", k)
		}
	}
	if len(summaries) != 1 {
		t.Fatalf("expected exactly one merged summary, got %v", tables.Keys())
	}
	merged, _ := tables.Get("base_summary")
	if merged.Len() != 4 {
		t.Fatalf("merged summary must have one row per channel, got %d", merged.Len())
	}
	ch, _ := merged.Column("channel")
	if !slices.Equal(ch.Strings, []string{"cam1ch1", "cam1ch2", "cam2ch1", "cam2ch2"}) {
		t.Fatalf("unexpected summary channels %v", ch.Strings)
	}
	if tables != inst.Tables() {
		t.Fatalf("run must return the collection held by the instrument")
	}
	sims, _ := tables.Get("base_cam1ch1_sims")
	if sims.Len() != 5 || sims.Meta()["run_id"] != inst.RunID() || inst.RunID() == "" {
		t.Fatalf("unexpected sims table rows=%d meta=%v", sims.Len(), sims.Meta())
	}
}

func TestSensitivityKeys(t *testing.T) {
	ctx := context.Background()
	inst := newInstrument(t, testConfig())
	u := newUniverse(t, inst, sky.Config{})
	if err := inst.EvalSky(ctx, u, 2, 0); err != nil {
		t.Fatalf("eval sky: %v", err)
	}
	if err := inst.EvalInstrument(ctx, 2, 0); err != nil {
		t.Fatalf("eval instrument: %v", err)
	}
	want := []string{"cam1ch1", "cam1ch2", "cam2ch1", "cam2ch2"}
	for range 2 {
		if err := inst.EvalSensitivities(ctx); err != nil {
			t.Fatalf("eval sensitivities: %v", err)
		}
		if !slices.Equal(inst.Sensitivities(), want) || len(inst.sns) != 4 {
			t.Fatalf("unexpected keys %v", inst.Sensitivities())
		}
	}
	s, ok := inst.Sensitivity("cam2ch1")
	if !ok || s.NSamples() != 4 {
		t.Fatalf("unexpected sensitivity for cam2ch1")
	}
}

type captureLogger struct {
	warns []string
}

func (c *captureLogger) Debug(string, ...any)      {}
func (c *captureLogger) Info(string, ...any)       {}
func (c *captureLogger) Warn(msg string, _ ...any) { c.warns = append(c.warns, msg) }
func (c *captureLogger) Error(string, ...any)      {}

func TestSensitivityKeyCollision(t *testing.T) {
	ctx := context.Background()
	logger := &captureLogger{}
	inst := newInstrument(t, testConfig(
		camera.Config{Name: "a", Channels: camera.ChannelConfigs{{Name: "bc", BandCenter: 90}, {Name: "x", BandCenter: 150}}},
		camera.Config{Name: "ab", Channels: camera.ChannelConfigs{{Name: "c", BandCenter: 220}}},
	), WithLogger(logger))
	u := newUniverse(t, inst, sky.Config{})
	_ = inst.EvalSky(ctx, u, 0, 0)
	_ = inst.EvalInstrument(ctx, 0, 0)
	if err := inst.EvalSensitivities(ctx); err != nil {
		t.Fatalf("eval sensitivities: %v", err)
	}
	if !slices.Equal(inst.Sensitivities(), []string{"abc", "ax"}) || inst.Collisions() != 1 {
		t.Fatalf("unexpected keys %v collisions %d", inst.Sensitivities(), inst.Collisions())
	}
	s, _ := inst.Sensitivity("abc")
	if s.Channel().Config().BandCenter != 220 {
		t.Fatalf("later channel must overwrite the earlier one")
	}
	if len(logger.warns) != 1 || logger.warns[0] != "sensitivity key collision" {
		t.Fatalf("expected collision warning, got %v", logger.warns)
	}
}

func TestMakeTablesWithoutSensitivities(t *testing.T) {
	inst := newInstrument(t, testConfig())
	_, err := inst.MakeTables(context.Background(), "x", true, true)
	if !errors.Is(err, ErrNoSensitivities) || !errors.Is(err, table.ErrEmptyStack) {
		t.Fatalf("expected ErrNoSensitivities wrapping ErrEmptyStack, got %v", err)
	}
	tables, err := inst.MakeTables(context.Background(), "x", false, true)
	if err != nil || tables.Len() != 0 {
		t.Fatalf("expected empty collection without summary, got %v", err)
	}
}

type memStore struct {
	bundles map[string][]byte
}

func (m *memStore) WriteTables(_ context.Context, name string, tables []table.Named) error {
	payload, err := table.EncodeBundle(tables)
	if err != nil {
		return err
	}
	m.bundles[name] = payload
	return nil
}

func (m *memStore) ReadTables(_ context.Context, name string) ([]table.Named, error) {
	payload, ok := m.bundles[name]
	if !ok {
		return nil, table.ErrNotFound
	}
	return table.DecodeBundle(payload)
}

func TestWriteTablesRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := &memStore{bundles: map[string][]byte{}}

	bare := newInstrument(t, testConfig())
	if err := bare.WriteTables(ctx, "out"); err != nil {
		t.Fatalf("write before make must be a no-op, got %v", err)
	}
	u := newUniverse(t, bare, sky.Config{})
	if _, err := bare.Run(ctx, u, config.Sim{NSkySim: 2, NDetSim: 2, SaveSummary: true, SaveSim: true}, "r_"); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := bare.WriteTables(ctx, "out"); !errors.Is(err, ErrNoTableStore) {
		t.Fatalf("expected ErrNoTableStore, got %v", err)
	}

	inst := newInstrument(t, testConfig(), WithTableStore(store))
	held, err := inst.Run(ctx, newUniverse(t, inst, sky.Config{}), config.Sim{NSkySim: 2, NDetSim: 2, SaveSummary: true, SaveSim: true}, "r_")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := inst.WriteTables(ctx, "out"); err != nil {
		t.Fatalf("write: %v", err)
	}
	loaded, err := table.LoadDatatables(ctx, store, "out")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !slices.Equal(loaded.Keys(), held.Keys()) {
		t.Fatalf("keys differ: %v vs %v", loaded.Keys(), held.Keys())
	}
	for _, k := range held.Keys() {
		a, _ := held.Get(k)
		b, _ := loaded.Get(k)
		if a.Len() != b.Len() {
			t.Fatalf("row count differs for %s", k)
		}
	}
}

func TestRunReproducibleAndCamerasIndependent(t *testing.T) {
	ctx := context.Background()
	sim := config.Sim{NSkySim: 3, NDetSim: 4, SaveSummary: true, SaveSim: true}
	netOf := func(inst *Instrument, key string) []float64 {
		s, ok := inst.Sensitivity(key)
		if !ok {
			t.Fatalf("missing sensitivity %s", key)
		}
		v, _ := s.Values("NET")
		return v
	}

	a := newInstrument(t, testConfig(), WithSeed(11))
	b := newInstrument(t, testConfig(), WithSeed(11))
	for _, inst := range []*Instrument{a, b} {
		if _, err := inst.Run(ctx, newUniverse(t, inst, sky.Config{}), sim, ""); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if !slices.Equal(netOf(a, "cam2ch2"), netOf(b, "cam2ch2")) {
		t.Fatalf("same seed must reproduce the run")
	}

	cfg := testConfig()
	only := newInstrument(t, testConfig(cfg.CameraConfig[1]), WithSeed(11))
	if _, err := only.Run(ctx, newUniverse(t, only, sky.Config{}), sim, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !slices.Equal(netOf(a, "cam2ch2"), netOf(only, "cam2ch2")) {
		t.Fatalf("cam2 results must not depend on cam1")
	}

	c := newInstrument(t, testConfig(), WithSeed(12))
	if _, err := c.Run(ctx, newUniverse(t, c, sky.Config{}), sim, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	if slices.Equal(netOf(a, "cam2ch2"), netOf(c, "cam2ch2")) {
		t.Fatalf("different seeds should differ")
	}
}

func TestPrintSummary(t *testing.T) {
	ctx := context.Background()
	inst := newInstrument(t, testConfig())
	if _, err := inst.Run(ctx, newUniverse(t, inst, sky.Config{}), config.Sim{}, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	var buf bytes.Buffer
	if err := inst.PrintSummary(&buf); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "cam1ch1 ---------\n") || strings.Count(out, "---------\n") != 8 {
		t.Fatalf("unexpected summary framing:\n%s", out)
	}
}

func TestDerivedColumnsAndRequirements(t *testing.T) {
	ctx := context.Background()
	set, err := derive.Compile([]derive.Column{{Name: "NET_mK", Expr: "NET / 1000"}}, sensitivity.Quantities())
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	names := append(sensitivity.Quantities(), "NET_mK")
	reqs, err := requirement.Compile([]requirement.Requirement{
		{Name: "positive", Expr: "NET_mK > 0.0"},
		{Name: "cam1only", Expr: `channel.startsWith("cam1")`},
	}, names)
	if err != nil {
		t.Fatalf("requirements: %v", err)
	}
	inst := newInstrument(t, testConfig(), WithDerivedColumns(set), WithRequirements(reqs))
	if _, err := inst.CheckRequirements(); !errors.Is(err, ErrNoSensitivities) {
		t.Fatalf("expected ErrNoSensitivities before a run, got %v", err)
	}
	tables, err := inst.Run(ctx, newUniverse(t, inst, sky.Config{}), config.Sim{NSkySim: 2, SaveSummary: true, SaveSim: true}, "")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	summary, _ := tables.Get("summary")
	if _, ok := summary.Column("NET_mK_mean"); !ok {
		t.Fatalf("derived column missing from summary: %v", summary.Columns())
	}
	results, err := inst.CheckRequirements()
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(results) != 8 {
		t.Fatalf("expected 8 results, got %d", len(results))
	}
	for _, r := range results {
		switch r.Requirement {
		case "positive":
			if !r.Passed {
				t.Fatalf("NET_mK must be positive for %s", r.Channel)
			}
		case "cam1only":
			if r.Passed != strings.HasPrefix(r.Channel, "cam1") {
				t.Fatalf("unexpected result %+v", r)
			}
		}
	}
}

func TestObservabilityHooks(t *testing.T) {
	ctx := context.Background()
	tracer := NewJSONTracer(nil)
	metrics := NewExpvarMetricsRecorder("")
	inst := newInstrument(t, testConfig(), WithTracer(tracer), WithMetricsRecorder(metrics))
	if _, err := inst.Run(ctx, newUniverse(t, inst, sky.Config{}), config.Sim{NSkySim: 2}, ""); err != nil {
		t.Fatalf("run: %v", err)
	}
	_ = inst.EvalInstrument(ctx, -1, 0)

	var ops []string
	for _, e := range tracer.Entries() {
		ops = append(ops, e.Operation)
	}
	want := []string{OpEvalSky, OpEvalInstrument, OpEvalSensitivities, OpMakeTables, OpRun, OpEvalInstrument}
	if !slices.Equal(ops, want) {
		t.Fatalf("unexpected span order %v", ops)
	}
	if last := tracer.Entries()[len(want)-1]; last.Status != "error" || last.Error == "" {
		t.Fatalf("expected failed span, got %+v", last)
	}
	snap := metrics.Snapshot()
	if snap.Results[OpEvalInstrument]["success"] != 1 || snap.Results[OpEvalInstrument]["error"] != 1 {
		t.Fatalf("unexpected metrics %+v", snap.Results)
	}
}
