package instrument

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"

	"bolosim/internal/config"
	"bolosim/internal/param"
	"bolosim/internal/requirement"
	"bolosim/internal/sensitivity"
	"bolosim/internal/table"
)

const skyStream = "sky"

// EvalSky samples the universe and the instrument's sky-stage parameters with
// n draws (one central draw when n is 0), then lets every camera integrate the
// sampled sky over its bands. It must precede EvalInstrument.
func (i *Instrument) EvalSky(ctx context.Context, u Universe, n int, freqResol float64) error {
	return i.observe(ctx, OpEvalSky, func(context.Context) error {
		if u == nil {
			return fmt.Errorf("instrument: nil universe")
		}
		if n < 0 {
			return fmt.Errorf("instrument: negative sky sample count %d", n)
		}
		rng := param.Stream(i.seed, skyStream, i.skyRuns)
		i.skyRuns++
		if err := u.Sample(rng, n); err != nil {
			return fmt.Errorf("sample universe: %w", err)
		}
		i.elevation.Sample(rng, n)
		i.pwv.Sample(rng, n)
		i.obsEffic.Sample(rng, n)
		for _, cam := range i.cameras {
			if err := cam.EvalSky(u, freqResol); err != nil {
				return err
			}
		}
		return nil
	}, "nsky", n)
}

// EvalInstrument samples every camera with n draws and propagates the sampled
// sky through its optical chains and detectors. Each camera draws from its own
// stream, so cameras do not influence each other.
func (i *Instrument) EvalInstrument(ctx context.Context, n int, freqResol float64) error {
	return i.observe(ctx, OpEvalInstrument, func(context.Context) error {
		if n < 0 {
			return fmt.Errorf("instrument: negative detector sample count %d", n)
		}
		seq := i.detRuns
		i.detRuns++
		for _, cam := range i.cameras {
			if err := cam.Sample(param.Stream(i.seed, "camera/"+cam.Name(), seq), n); err != nil {
				return err
			}
			if err := cam.EvalOpticalChains(n, freqResol); err != nil {
				return err
			}
			if err := cam.EvalDetResponse(n, freqResol); err != nil {
				return err
			}
		}
		return nil
	}, "ndet", n)
}

// EvalSensitivities rebuilds the sensitivity collection with one entry per
// camera and channel, keyed by camera name followed by channel name. A key
// produced twice keeps its first position, is overwritten by the later
// channel, and is logged and counted.
func (i *Instrument) EvalSensitivities(ctx context.Context) error {
	return i.observe(ctx, OpEvalSensitivities, func(context.Context) error {
		i.sns = map[string]*sensitivity.Sensitivity{}
		i.snsKeys = nil
		i.collisions = 0
		for _, cam := range i.cameras {
			for _, ch := range cam.Channels() {
				key := cam.Name() + ch.Name()
				s, err := sensitivity.New(ch, sensitivity.WithDerived(i.derived))
				if err != nil {
					return err
				}
				if _, dup := i.sns[key]; dup {
					i.collisions++
					i.logger.Warn("sensitivity key collision", "key", key, "camera", cam.Name(), "channel", ch.Name())
				} else {
					i.snsKeys = append(i.snsKeys, key)
				}
				i.sns[key] = s
			}
		}
		return nil
	})
}

// MakeTables rebuilds the table collection. Every sensitivity adds its tables
// under basename+key. With saveSummary the per-channel summary tables are
// removed and stacked into a single table stored under basename+"summary".
// The returned collection is the one held by the instrument.
func (i *Instrument) MakeTables(ctx context.Context, basename string, saveSummary, saveSim bool) (*table.Dict, error) {
	var out *table.Dict
	err := i.observe(ctx, OpMakeTables, func(context.Context) error {
		i.tables = table.NewDict()
		for _, key := range i.snsKeys {
			if err := i.sns[key].MakeTables(basename+key, i.tables, saveSummary, saveSim); err != nil {
				return err
			}
		}
		if i.runID != "" {
			for _, e := range i.tables.Entries() {
				e.Table.SetMeta("run_id", i.runID)
			}
		}
		out = i.tables
		if !saveSummary {
			return nil
		}
		var parts []*table.Table
		for _, key := range i.tables.Keys() {
			if !IsSummaryKey(key) {
				continue
			}
			t, err := i.tables.PopTable(key)
			if err != nil {
				return err
			}
			parts = append(parts, t)
		}
		merged, err := table.VStack(parts...)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrNoSensitivities, err)
		}
		merged.SetMeta("channel", strings.Join(i.snsKeys, ","))
		i.tables.AddDatatable(basename+"summary", merged)
		return nil
	}, "basename", basename, "save_summary", saveSummary, "save_sim", saveSim)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WriteTables persists the latest tables under name. It does nothing when no
// tables have been made.
func (i *Instrument) WriteTables(ctx context.Context, name string) error {
	if i.tables == nil {
		i.logger.Debug("no tables to write", "name", name)
		return nil
	}
	return i.observe(ctx, OpWriteTables, func(ctx context.Context) error {
		if i.store == nil {
			return ErrNoTableStore
		}
		return i.tables.SaveDatatables(ctx, i.store, name)
	}, "name", name, "tables", i.tables.Len())
}

// Run executes the four stages in order. A run with a single deterministic
// sample (nsky_sim and ndet_sim both 0) never produces a summary table.
func (i *Instrument) Run(ctx context.Context, u Universe, sim config.Sim, basename string) (*table.Dict, error) {
	i.runID = uuid.NewString()
	var out *table.Dict
	err := i.observe(ctx, OpRun, func(ctx context.Context) error {
		if err := i.EvalSky(ctx, u, sim.NSkySim, sim.FreqResol); err != nil {
			return err
		}
		if err := i.EvalInstrument(ctx, sim.NDetSim, sim.FreqResol); err != nil {
			return err
		}
		if err := i.EvalSensitivities(ctx); err != nil {
			return err
		}
		saveSummary := sim.SaveSummary
		if max(sim.NSkySim, 1)*max(sim.NDetSim, 1) == 1 {
			saveSummary = false
		}
		var err error
		out, err = i.MakeTables(ctx, basename, saveSummary, sim.SaveSim)
		return err
	}, "nsky", sim.NSkySim, "ndet", sim.NDetSim)
	if err != nil {
		return nil, err
	}
	i.logger.Info("run complete", "run_id", i.runID, "sensitivities", len(i.snsKeys), "tables", out.Len())
	return out, nil
}

// PrintSummary writes every sensitivity summary framed by its key.
func (i *Instrument) PrintSummary(w io.Writer) error {
	for _, key := range i.snsKeys {
		if _, err := fmt.Fprintf(w, "%s ---------\n", key); err != nil {
			return err
		}
		if err := i.sns[key].PrintSummary(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "---------\n"); err != nil {
			return err
		}
	}
	return nil
}

// CheckRequirements evaluates the configured requirements against the mean of
// every quantity of each sensitivity, in key order.
func (i *Instrument) CheckRequirements() ([]requirement.Result, error) {
	if i.requirements.Len() == 0 {
		return nil, nil
	}
	if len(i.snsKeys) == 0 {
		return nil, ErrNoSensitivities
	}
	var out []requirement.Result
	for _, key := range i.snsKeys {
		res, err := i.requirements.Check(key, i.sns[key].Means())
		if err != nil {
			return nil, err
		}
		out = append(out, res...)
	}
	return out, nil
}
