package sensitivity

import (
	"bytes"
	"errors"
	"math"
	"slices"
	"strings"
	"testing"

	"bolosim/internal/camera"
	"bolosim/internal/derive"
	"bolosim/internal/optics"
	"bolosim/internal/param"
	"bolosim/internal/sky"
	"bolosim/internal/table"
)

type parent struct{ survey camera.Survey }

func (parent) Conditions() sky.Conditions {
	return sky.Conditions{Elevation: []float64{50}, PWV: []float64{1}, Temperature: 270}
}
func (parent) Readout() camera.Readout { return camera.Readout{ReadFrac: 0.1} }
func (p parent) Survey() camera.Survey { return p.survey }

func evaluatedChannel(t *testing.T, nsky, ndet int, survey camera.Survey) *camera.Channel {
	t.Helper()
	o, err := optics.Build(optics.Config{Elements: []optics.ElementConfig{
		{Name: "window", Kind: optics.KindDielectric, Temperature: param.Fixed(280), Thickness: param.Fixed(0.003), Index: param.Fixed(1.5), LossTangent: param.Fixed(3e-4)},
		{Name: "lyot", Kind: optics.KindAperture, Temperature: param.Fixed(4), Spillover: param.Fixed(0.2)},
	}})
	if err != nil {
		t.Fatalf("optics: %v", err)
	}
	cams, err := camera.Build(camera.ChannelConfig{FBW: 0.25, NumDet: 400, DetEff: param.Gauss(0.7, 0.02)},
		camera.Configs{{Name: "SAT", Channels: camera.ChannelConfigs{{Name: "90", BandCenter: 90}}}}, o)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	cam := cams[0]
	if err := cam.SetParent(parent{survey: survey}); err != nil {
		t.Fatalf("parent: %v", err)
	}
	u, _ := sky.New(sky.Config{})
	if err := u.Sample(param.Stream(3, "sky", 0), nsky); err != nil {
		t.Fatalf("sky sample: %v", err)
	}
	if err := cam.EvalSky(u, 0); err != nil {
		t.Fatalf("eval sky: %v", err)
	}
	if err := cam.Sample(param.Stream(3, "SAT", 0), ndet); err != nil {
		t.Fatalf("sample: %v", err)
	}
	if err := cam.EvalOpticalChains(ndet, 0); err != nil {
		t.Fatalf("optics: %v", err)
	}
	if err := cam.EvalDetResponse(ndet, 0); err != nil {
		t.Fatalf("det: %v", err)
	}
	return cam.Channels()[0]
}

func defaultSurvey() camera.Survey {
	return camera.Survey{ObsTime: 5 * 3.15576e7, SkyFraction: 0.1, NETFactor: 1, ObsEffic: []float64{0.2}}
}

func TestSensitivityFigures(t *testing.T) {
	ch := evaluatedChannel(t, 3, 2, defaultSurvey())
	s, err := New(ch)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Name() != "SAT90" || s.NSamples() != 6 {
		t.Fatalf("unexpected name/samples %s %d", s.Name(), s.NSamples())
	}
	net, _ := s.Values("NET")
	netArr, _ := s.Values("NET_arr")
	depth, _ := s.Values("map_depth")
	for k := range net {
		if net[k] <= 0 || math.IsInf(net[k], 0) {
			t.Fatalf("bad NET %g", net[k])
		}
		if math.Abs(netArr[k]-net[k]/20) > 1e-9*net[k] {
			t.Fatalf("NET_arr %g must be NET/sqrt(400) = %g", netArr[k], net[k]/20)
		}
		if depth[k] <= 0 {
			t.Fatalf("bad map depth %g", depth[k])
		}
	}
	st, ok := s.Stats("NET")
	if !ok || st.Mean <= 0 || st.Std < 0 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if s.Means()["NET"] != st.Mean {
		t.Fatalf("means disagree with stats")
	}
}

func TestNETFactorPenalty(t *testing.T) {
	base, _ := New(evaluatedChannel(t, 0, 0, defaultSurvey()))
	survey := defaultSurvey()
	survey.NETFactor = 2
	worse, _ := New(evaluatedChannel(t, 0, 0, survey))
	a, _ := base.Stats("NET_arr")
	b, _ := worse.Stats("NET_arr")
	if math.Abs(b.Mean/a.Mean-2) > 1e-9 {
		t.Fatalf("expected NET_arr doubled, got ratio %g", b.Mean/a.Mean)
	}
}

func TestMakeTables(t *testing.T) {
	set, err := derive.Compile([]derive.Column{{Name: "NET_mK", Unit: "mK_rtS", Expr: "NET / 1000"}}, Quantities())
	if err != nil {
		t.Fatalf("derive: %v", err)
	}
	s, err := New(evaluatedChannel(t, 2, 3, defaultSurvey()), WithDerived(set))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	d := table.NewDict()
	if err := s.MakeTables("runSAT90", d, true, true); err != nil {
		t.Fatalf("make tables: %v", err)
	}
	if !slices.Equal(d.Keys(), []string{"runSAT90_sims", "runSAT90_summary"}) {
		t.Fatalf("unexpected keys %v", d.Keys())
	}
	sims, _ := d.Get("runSAT90_sims")
	if sims.Len() != 6 {
		t.Fatalf("expected 6 sim rows, got %d", sims.Len())
	}
	cols := sims.Columns()
	if cols[0] != "isky" || cols[1] != "idet" || cols[len(cols)-1] != "NET_mK" {
		t.Fatalf("unexpected sims columns %v", cols)
	}
	idet, _ := sims.Floats("idet")
	isky, _ := sims.Floats("isky")
	if isky[4] != 1 || idet[4] != 1 {
		t.Fatalf("row 4 must be isky=1 idet=1, got %g %g", isky[4], idet[4])
	}
	summary, _ := d.Get("runSAT90_summary")
	if summary.Len() != 1 {
		t.Fatalf("summary must be a single row")
	}
	for _, name := range []string{"channel", "n_samples", "NET_arr_mean", "map_depth_median", "NET_mK_std"} {
		if _, ok := summary.Column(name); !ok {
			t.Fatalf("summary missing %s", name)
		}
	}

	only := table.NewDict()
	_ = s.MakeTables("x", only, false, true)
	if only.Len() != 1 {
		t.Fatalf("expected only the sims table")
	}
}

func TestPrintSummary(t *testing.T) {
	s, _ := New(evaluatedChannel(t, 0, 0, defaultSurvey()))
	var buf bytes.Buffer
	if err := s.PrintSummary(&buf); err != nil {
		t.Fatalf("print: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "band 90 GHz") || !strings.Contains(out, "map_depth") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
}

func TestNewRequiresEvaluatedChannel(t *testing.T) {
	o, _ := optics.Build(optics.Config{Elements: []optics.ElementConfig{{Name: "lyot"}}})
	cams, _ := camera.Build(camera.ChannelConfig{FBW: 0.25}, camera.Configs{{Name: "c", Channels: camera.ChannelConfigs{{Name: "x", BandCenter: 90}}}}, o)
	ch := cams[0].Channels()[0]
	if _, err := New(ch); !errors.Is(err, camera.ErrNoParent) {
		t.Fatalf("expected ErrNoParent, got %v", err)
	}
	_ = cams[0].SetParent(parent{survey: defaultSurvey()})
	if _, err := New(ch); !errors.Is(err, ErrNotEvaluated) {
		t.Fatalf("expected ErrNotEvaluated, got %v", err)
	}
}

func TestSummarize(t *testing.T) {
	st := Summarize([]float64{4, 1, 3, 2})
	if st.Mean != 2.5 || st.Median != 2.5 || math.Abs(st.Std-math.Sqrt(1.25)) > 1e-12 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if !math.IsNaN(Summarize(nil).Mean) {
		t.Fatalf("empty input must yield NaN")
	}
}
