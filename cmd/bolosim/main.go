// Command bolosim runs a Monte Carlo sensitivity study for a bolometric
// instrument described by a YAML configuration file, prints per-channel
// summaries, checks requirements and persists the resulting tables.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"bolosim/internal/config"
	"bolosim/internal/derive"
	"bolosim/internal/instrument"
	"bolosim/internal/requirement"
	"bolosim/internal/sensitivity"
	"bolosim/internal/tablestore"
)

const (
	exitOK          = 0
	exitRuntime     = 1
	exitUsage       = 2
	exitRequirement = 3
)

var exitFunc = os.Exit

func main() {
	exitFunc(cli(os.Args[1:], os.Stdout, os.Stderr))
}

type options struct {
	configPath string
	basename   string
	out        string
	seed       uint64
	seedSet    bool
	summary    bool
	metrics    bool
	tracePath  string
	logLevel   slog.Level
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("bolosim", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.configPath, "config", "", "path to the instrument YAML configuration (required)")
	fs.StringVar(&o.basename, "basename", "", "prefix for table names (default output.basename)")
	fs.StringVar(&o.out, "out", "", "name the table bundle is written under (default output.name)")
	fs.Uint64Var(&o.seed, "seed", 0, "random seed (default sim.seed)")
	fs.BoolVar(&o.summary, "summary", false, "print per-channel summaries to stdout")
	fs.BoolVar(&o.metrics, "metrics", false, "dump stage metrics in Prometheus text format to stdout")
	fs.StringVar(&o.tracePath, "trace", "", "write JSON stage trace lines to this file")
	fs.TextVar(&o.logLevel, "log-level", slog.LevelInfo, "log level: debug|info|warn|error")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() > 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if o.configPath == "" {
		return o, errors.New("-config is required")
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "seed" {
			o.seedSet = true
		}
	})
	return o, nil
}

func cli(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			_, _ = fmt.Fprintf(stderr, "bolosim: %v\n", err)
		}
		return exitUsage
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	code, err := run(ctx, opts, stdout, stderr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "bolosim: %v\n", err)
	}
	return code
}

func run(ctx context.Context, opts options, stdout, stderr io.Writer) (int, error) {
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.logLevel}))

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return exitUsage, err
	}
	if opts.seedSet {
		cfg.Sim.Seed = opts.seed
	}
	basename := firstNonEmpty(opts.basename, cfg.Output.Basename)
	bundle := firstNonEmpty(opts.out, cfg.Output.Name, basename+"tables")

	derived, err := derive.Compile(cfg.Derived, sensitivity.Quantities())
	if err != nil {
		return exitUsage, fmt.Errorf("derived columns: %w", err)
	}
	quantities := sensitivity.Quantities()
	for _, c := range derived.Columns() {
		quantities = append(quantities, c.Name)
	}
	reqs, err := requirement.Compile(cfg.Requirements, quantities)
	if err != nil {
		return exitUsage, fmt.Errorf("requirements: %w", err)
	}

	reg := prometheus.NewRegistry()
	recorder, err := instrument.NewPrometheusMetricsRecorder(reg)
	if err != nil {
		return exitRuntime, err
	}
	instOpts := []instrument.Option{
		instrument.WithLogger(instrument.NewSlogLogger(logger)),
		instrument.WithMetricsRecorder(recorder),
		instrument.WithSeed(cfg.Sim.Seed),
		instrument.WithDerivedColumns(derived),
		instrument.WithRequirements(reqs),
	}
	if opts.tracePath != "" {
		f, err := os.Create(opts.tracePath)
		if err != nil {
			return exitRuntime, fmt.Errorf("open trace file: %w", err)
		}
		defer func() { _ = f.Close() }()
		instOpts = append(instOpts, instrument.WithTracer(instrument.NewJSONTracer(f)))
	}

	store, err := tablestore.Open(ctx, cfg.Output)
	if err != nil {
		return exitRuntime, err
	}
	defer func() { _ = store.Close() }()
	instOpts = append(instOpts, instrument.WithTableStore(store))

	inst, err := instrument.New(cfg.Instrument, instOpts...)
	if err != nil {
		return exitUsage, err
	}
	universe, err := inst.NewUniverse(cfg.Sky)
	if err != nil {
		return exitUsage, err
	}
	if _, err := inst.Run(ctx, universe, cfg.Sim, basename); err != nil {
		return exitRuntime, err
	}
	if opts.summary {
		if err := inst.PrintSummary(stdout); err != nil {
			return exitRuntime, err
		}
	}
	if err := inst.WriteTables(ctx, bundle); err != nil {
		return exitRuntime, fmt.Errorf("write tables: %w", err)
	}
	logger.Info("tables written", "driver", cfg.Output.Driver, "format", cfg.Output.Format, "name", bundle, "run_id", inst.RunID())

	results, err := inst.CheckRequirements()
	if err != nil {
		return exitRuntime, err
	}
	failed := 0
	for _, r := range results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
			failed++
		}
		if _, err := fmt.Fprintf(stdout, "%s %s %s\n", status, r.Requirement, r.Channel); err != nil {
			return exitRuntime, err
		}
	}

	if opts.metrics {
		if err := dumpMetrics(reg, stdout); err != nil {
			return exitRuntime, err
		}
	}
	if failed > 0 {
		return exitRequirement, fmt.Errorf("%d of %d requirement checks failed", failed, len(results))
	}
	return exitOK, nil
}

func dumpMetrics(g prometheus.Gatherer, w io.Writer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
