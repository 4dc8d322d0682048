package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/signalnine/matchbench/internal/config"
	"github.com/signalnine/matchbench/internal/metrics"
	"github.com/signalnine/matchbench/internal/parse"
	"github.com/signalnine/matchbench/internal/report"
	"github.com/signalnine/matchbench/internal/result"
	"github.com/signalnine/matchbench/internal/runner"
	"github.com/signalnine/matchbench/internal/sweep"
	"github.com/spf13/cobra"
)

var (
	flagAlgorithms   []string
	flagRanks        []int
	flagTrials       int
	flagTimeout      time.Duration
	flagParallel     int
	flagRunFormat    string
	flagPromTextfile string
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark sweep",
		Args:  cobra.NoArgs,
		RunE:  runBenchmark,
	}
	cmd.Flags().StringSliceVar(&flagAlgorithms, "algorithm", nil, "restrict the sweep to these algorithms")
	cmd.Flags().IntSliceVar(&flagRanks, "ranks", nil, "override the rank counts (e.g. 1,2,4)")
	cmd.Flags().IntVar(&flagTrials, "trials", 0, "override trial count")
	cmd.Flags().DurationVar(&flagTimeout, "timeout", 0, "override per-trial timeout")
	cmd.Flags().IntVar(&flagParallel, "parallel", 0, "max concurrent cells")
	cmd.Flags().StringVar(&flagRunFormat, "format", report.FormatTable, "summary format (table, markdown, json, csv)")
	cmd.Flags().StringVar(&flagPromTextfile, "prom-textfile", "", "also write metrics in Prometheus textfile format")
	return cmd
}

type overrides struct {
	algorithms []string
	ranks      []int
	trials     int
	timeout    time.Duration
	parallel   int
}

// applyOverrides replaces config values with those given on the command line
// and revalidates the result.
func applyOverrides(cfg *config.Config, o overrides) error {
	if len(o.algorithms) > 0 {
		algs, err := filterAlgorithms(cfg.Algorithms, o.algorithms)
		if err != nil {
			return err
		}
		cfg.Algorithms = algs
	}
	if len(o.ranks) > 0 {
		cfg.Ranks = o.ranks
	}
	if o.trials > 0 {
		cfg.Trials = o.trials
		for i := range cfg.Algorithms {
			cfg.Algorithms[i].Trials = 0
		}
	}
	if o.timeout > 0 {
		cfg.Timeout = o.timeout
		for i := range cfg.Algorithms {
			cfg.Algorithms[i].Timeout = 0
		}
	}
	if o.parallel > 0 {
		cfg.Parallel = o.parallel
	}
	return config.Validate(cfg)
}

// filterAlgorithms keeps the named algorithms in registry order.
func filterAlgorithms(algs []config.Algorithm, names []string) ([]config.Algorithm, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var filtered []config.Algorithm
	for _, a := range algs {
		if want[a.Name] {
			filtered = append(filtered, a)
			delete(want, a.Name)
		}
	}
	if len(want) > 0 {
		var unknown []string
		for _, n := range names {
			if want[n] {
				unknown = append(unknown, n)
			}
		}
		return nil, fmt.Errorf("unknown algorithm(s): %s", strings.Join(unknown, ", "))
	}
	return filtered, nil
}

func runBenchmark(cmd *cobra.Command, args []string) error {
	if err := checkFormat(flagRunFormat); err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := applyOverrides(cfg, overrides{
		algorithms: flagAlgorithms,
		ranks:      flagRanks,
		trials:     flagTrials,
		timeout:    flagTimeout,
		parallel:   flagParallel,
	}); err != nil {
		return err
	}

	logger, err := commandLogger()
	if err != nil {
		return err
	}
	parser, err := parse.New(cfg.Parser.MatchesPattern, cfg.Parser.TimePattern)
	if err != nil {
		return err
	}
	launcher, err := runner.NewLauncher(cfg, logger)
	if err != nil {
		return err
	}
	agg := runner.NewAggregator(&runner.AggregatorOpts{
		Launcher:      launcher,
		Parser:        parser,
		StrictMatches: cfg.StrictMatches,
		Logger:        logger,
	})

	opts := sweep.OptionsFromConfig(cfg)
	opts.OnSkip = func(a sweep.Algorithm) {
		fmt.Printf("Skipping %s: executable %s not found\n", a.Name, a.Executable)
	}
	opts.OnCell = func(spec *runner.Spec, cell *result.Cell) {
		fmt.Print(progressLine(spec, cell))
	}

	writeHeader(os.Stdout, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sw, runErr := sweep.New(opts, agg, logger).Run(ctx)
	return finishSweep(os.Stdout, cfg, sw, runErr)
}

// finishSweep computes derived metrics, persists the sweep and renders it.
// An interrupted sweep still has its completed cells saved before runErr is
// returned.
func finishSweep(w io.Writer, cfg *config.Config, sw *result.Sweep, runErr error) error {
	if sw == nil {
		return runErr
	}
	if sw.Empty() {
		if runErr != nil {
			return runErr
		}
		fmt.Fprintln(w, "\nNo results collected!")
		return nil
	}
	sw.Derived = metrics.Compute(sw.Cells)

	runDir, err := result.CreateRunDir(cfg.Results.Dir)
	if err != nil {
		return err
	}
	if err := result.Save(runDir, sw); err != nil {
		return err
	}
	if runErr != nil {
		fmt.Fprintf(w, "\nSweep interrupted: %d completed cell(s) saved to %s\n", len(sw.Cells), runDir)
		return runErr
	}
	fmt.Fprintf(w, "\nResults saved to %s\n\n", runDir)

	if flagPromTextfile != "" {
		if err := report.WriteTextfile(flagPromTextfile, sw); err != nil {
			return err
		}
	}
	return report.Render(sw, flagRunFormat, w)
}

func checkFormat(format string) error {
	if !slices.Contains(report.Formats, format) {
		return fmt.Errorf("unknown format %q (want one of %s)", format, strings.Join(report.Formats, ", "))
	}
	return nil
}

// writeHeader prints the run parameters. Algorithms with their own trial
// count or timeout are listed with the effective values.
func writeHeader(w io.Writer, cfg *config.Config) {
	names := make([]string, len(cfg.Algorithms))
	for i, a := range cfg.Algorithms {
		names[i] = a.Name
	}
	fmt.Fprintln(w, "MPI String Matching Benchmark")
	fmt.Fprintf(w, "Pattern file: %s\n", cfg.Inputs.Pattern)
	fmt.Fprintf(w, "Text file:    %s\n", cfg.Inputs.Corpus)
	fmt.Fprintf(w, "Algorithms:   %s\n", strings.Join(names, ", "))
	fmt.Fprintf(w, "Ranks:        %s\n", joinInts(cfg.Ranks))
	fmt.Fprintf(w, "Trials:       %d (timeout %s) by default\n", cfg.Trials, cfg.Timeout)
	for i := range cfg.Algorithms {
		a := &cfg.Algorithms[i]
		if a.Trials > 0 || a.Timeout > 0 {
			fmt.Fprintf(w, "  %s: %d trials (timeout %s)\n", a.Name, cfg.TrialsFor(a), cfg.TimeoutFor(a))
		}
	}
	fmt.Fprintln(w)
}

func progressLine(spec *runner.Spec, cell *result.Cell) string {
	prefix := fmt.Sprintf("Testing %s with %d ranks... ", spec.Algorithm, spec.Ranks)
	if cell == nil {
		return prefix + "✗ Failed\n"
	}
	return fmt.Sprintf("%s✓ Time: %.4fs, Matches: %d\n", prefix, cell.MeanTime, cell.Matches)
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	return strings.Join(parts, ", ")
}
