// Package sensitivity turns an evaluated channel into noise and sensitivity
// figures of merit and the tables that report them.
package sensitivity

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"bolosim/internal/camera"
	"bolosim/internal/derive"
	"bolosim/internal/table"
)

// Table name suffixes appended to the caller's prefix.
const (
	SimsSuffix    = "_sims"
	SummarySuffix = "_summary"
)

var ErrNotEvaluated = errors.New("sensitivity: channel detector response not evaluated")

const (
	arcminPerRad = 10800 / math.Pi
	toPicoWatt   = 1e12
	toAttoWatt   = 1e18 // NEP in aW/rtHz
	toMicroK     = 1e6
)

// quantity is one per-sample output column.
type quantity struct {
	name   string
	unit   string
	values []float64
	stats  Stats
}

var baseQuantities = []struct{ name, unit string }{
	{"elevation", "deg"},
	{"pwv", "mm"},
	{"obs_effic", ""},
	{"effic", ""},
	{"opt_power", "pW"},
	{"tel_temp", "K"},
	{"sky_temp", "K"},
	{"NEP_bolo", "aW/rtHz"},
	{"NEP_read", "aW/rtHz"},
	{"NEP_ph", "aW/rtHz"},
	{"NEP", "aW/rtHz"},
	{"NET", "uK_rtS"},
	{"NET_arr", "uK_rtS"},
	{"map_depth", "uK_arcmin"},
}

// Quantities returns the names of the built-in per-sample quantities, in
// table order. Derived columns are appended after these.
func Quantities() []string {
	out := make([]string, len(baseQuantities))
	for i, q := range baseQuantities {
		out[i] = q.name
	}
	return out
}

// Option configures a Sensitivity.
type Option func(*Sensitivity)

// WithDerived adds user-declared derived columns.
func WithDerived(set *derive.Set) Option {
	return func(s *Sensitivity) { s.derived = set }
}

// Sensitivity holds the figures of merit of one channel, one value per
// combined sample laid out as isky*NDet + idet.
type Sensitivity struct {
	name       string
	channel    *camera.Channel
	nsky, ndet int
	derived    *derive.Set
	quantities []*quantity
	index      map[string]*quantity
}

// New computes the sensitivity of an evaluated channel. The channel's camera
// must have a parent, which supplies the survey figures.
func New(ch *camera.Channel, opts ...Option) (*Sensitivity, error) {
	if ch == nil {
		return nil, fmt.Errorf("sensitivity: nil channel")
	}
	cam := ch.Camera()
	if cam == nil || cam.Parent() == nil {
		return nil, fmt.Errorf("sensitivity %s: %w", ch.Name(), camera.ErrNoParent)
	}
	det, skyState := ch.Detector(), ch.Sky()
	if det == nil || skyState == nil {
		return nil, fmt.Errorf("sensitivity %s%s: %w", cam.Name(), ch.Name(), ErrNotEvaluated)
	}
	s := &Sensitivity{
		name:    cam.Name() + ch.Name(),
		channel: ch,
		nsky:    det.NSky,
		ndet:    det.NDet,
		index:   map[string]*quantity{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	survey := cam.Parent().Survey()
	if err := s.compute(det, skyState, survey); err != nil {
		return nil, fmt.Errorf("sensitivity %s: %w", s.name, err)
	}
	return s, nil
}

func (s *Sensitivity) compute(det *camera.DetectorState, skyState *camera.SkyState, survey camera.Survey) error {
	n := det.Len()
	cols := make(map[string][]float64, len(baseQuantities))
	for _, q := range baseQuantities {
		cols[q.name] = make([]float64, n)
	}
	netFactor := survey.NETFactor
	if netFactor <= 0 {
		netFactor = 1
	}
	for i := range det.NSky {
		obsEffic := skyState.ObsEffic[i]
		depthScale := math.Sqrt(4 * math.Pi * survey.SkyFraction * arcminPerRad * arcminPerRad / (survey.ObsTime * obsEffic))
		for j := range det.NDet {
			k := i*det.NDet + j
			net := det.NEP[k] / (math.Sqrt2 * det.DPDT[k]) * toMicroK
			netArr := net * netFactor / math.Sqrt(float64(det.NumDet)*det.Yield[j])

			cols["elevation"][k] = skyState.Elevation[i]
			cols["pwv"][k] = skyState.PWV[i]
			cols["obs_effic"][k] = obsEffic
			cols["effic"][k] = det.Effic[k]
			cols["opt_power"][k] = det.OptPower[k] * toPicoWatt
			cols["tel_temp"][k] = det.TelTemp[k]
			cols["sky_temp"][k] = det.SkyTemp[k]
			cols["NEP_bolo"][k] = det.NEPBolo[k] * toAttoWatt
			cols["NEP_read"][k] = det.NEPRead[k] * toAttoWatt
			cols["NEP_ph"][k] = det.NEPPhoton[k] * toAttoWatt
			cols["NEP"][k] = det.NEP[k] * toAttoWatt
			cols["NET"][k] = net
			cols["NET_arr"][k] = netArr
			cols["map_depth"][k] = netArr * depthScale
		}
	}
	for _, q := range baseQuantities {
		s.addQuantity(q.name, q.unit, cols[q.name])
	}
	if s.derived.Len() == 0 {
		return nil
	}
	derived, err := s.derived.Apply(cols, n)
	if err != nil {
		return err
	}
	for i, c := range s.derived.Columns() {
		s.addQuantity(c.Name, c.Unit, derived[i])
	}
	return nil
}

func (s *Sensitivity) addQuantity(name, unit string, values []float64) {
	q := &quantity{name: name, unit: unit, values: values, stats: Summarize(values)}
	s.quantities = append(s.quantities, q)
	s.index[name] = q
}

// Name returns the camera+channel key.
func (s *Sensitivity) Name() string { return s.name }

// Channel returns the evaluated channel.
func (s *Sensitivity) Channel() *camera.Channel { return s.channel }

// NSamples returns the number of combined samples.
func (s *Sensitivity) NSamples() int { return s.nsky * s.ndet }

// Names returns every quantity name including derived ones.
func (s *Sensitivity) Names() []string {
	out := make([]string, len(s.quantities))
	for i, q := range s.quantities {
		out[i] = q.name
	}
	return out
}

// Values returns the per-sample values of a quantity.
func (s *Sensitivity) Values(name string) ([]float64, bool) {
	q, ok := s.index[name]
	if !ok {
		return nil, false
	}
	return append([]float64(nil), q.values...), true
}

// Stats returns the summary statistics of a quantity.
func (s *Sensitivity) Stats(name string) (Stats, bool) {
	q, ok := s.index[name]
	if !ok {
		return Stats{}, false
	}
	return q.stats, true
}

// Means returns the mean of every quantity.
func (s *Sensitivity) Means() map[string]float64 {
	out := make(map[string]float64, len(s.quantities))
	for _, q := range s.quantities {
		out[q.name] = q.stats.Mean
	}
	return out
}

// MakeTables adds prefix+"_sims" and/or prefix+"_summary" to dict.
func (s *Sensitivity) MakeTables(prefix string, dict *table.Dict, saveSummary, saveSim bool) error {
	if saveSim {
		tab, err := s.simsTable()
		if err != nil {
			return fmt.Errorf("sensitivity %s: sims table: %w", s.name, err)
		}
		dict.AddDatatable(prefix+SimsSuffix, tab)
	}
	if saveSummary {
		tab, err := s.summaryTable()
		if err != nil {
			return fmt.Errorf("sensitivity %s: summary table: %w", s.name, err)
		}
		dict.AddDatatable(prefix+SummarySuffix, tab)
	}
	return nil
}

func (s *Sensitivity) simsTable() (*table.Table, error) {
	n := s.NSamples()
	isky := make([]float64, n)
	idet := make([]float64, n)
	for k := range n {
		isky[k] = float64(k / s.ndet)
		idet[k] = float64(k % s.ndet)
	}
	tab := table.New()
	if err := tab.AddFloat("isky", "", isky); err != nil {
		return nil, err
	}
	if err := tab.AddFloat("idet", "", idet); err != nil {
		return nil, err
	}
	for _, q := range s.quantities {
		if err := tab.AddFloat(q.name, q.unit, q.values); err != nil {
			return nil, err
		}
	}
	s.stampMeta(tab)
	return tab, nil
}

func (s *Sensitivity) summaryTable() (*table.Table, error) {
	tab := table.New()
	if err := tab.AddString("channel", "", []string{s.name}); err != nil {
		return nil, err
	}
	if err := tab.AddFloat("n_samples", "", []float64{float64(s.NSamples())}); err != nil {
		return nil, err
	}
	for _, q := range s.quantities {
		for _, col := range []struct {
			suffix string
			value  float64
		}{{"_mean", q.stats.Mean}, {"_median", q.stats.Median}, {"_std", q.stats.Std}} {
			if err := tab.AddFloat(q.name+col.suffix, q.unit, []float64{col.value}); err != nil {
				return nil, err
			}
		}
	}
	s.stampMeta(tab)
	return tab, nil
}

func (s *Sensitivity) stampMeta(tab *table.Table) {
	cfg := s.channel.Config()
	tab.SetMeta("channel", s.name)
	tab.SetMeta("band_center_GHz", strconv.FormatFloat(cfg.BandCenter, 'g', -1, 64))
	tab.SetMeta("fbw", strconv.FormatFloat(cfg.FBW, 'g', -1, 64))
	tab.SetMeta("n_sky", strconv.Itoa(s.nsky))
	tab.SetMeta("n_det", strconv.Itoa(s.ndet))
}

// PrintSummary writes one line per quantity: mean, median, and std with unit.
func (s *Sensitivity) PrintSummary(w io.Writer) error {
	cfg := s.channel.Config()
	if _, err := fmt.Fprintf(w, "band %g GHz, fbw %g, %d samples (%d sky x %d det)\n",
		cfg.BandCenter, cfg.FBW, s.NSamples(), s.nsky, s.ndet); err != nil {
		return err
	}
	for _, q := range s.quantities {
		if _, err := fmt.Fprintf(w, "%-12s %12.4g %12.4g +- %-10.3g %s\n",
			q.name, q.stats.Mean, q.stats.Median, q.stats.Std, q.unit); err != nil {
			return err
		}
	}
	return nil
}
