package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/signalnine/matchbench/internal/parse"
	"github.com/signalnine/matchbench/internal/process"
	"github.com/signalnine/matchbench/internal/result"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FailFastPerCell names the trial policy: the first failing trial abandons
// its cell, and no trial is ever retried.
const FailFastPerCell = "fail-fast-per-cell"

var (
	ErrNonZeroExit   = errors.New("non-zero exit")
	ErrMatchMismatch = errors.New("match count mismatch")
)

// maxStderr caps how much of a failing program's stderr is logged.
const maxStderr = 4096

// Parser turns captured stdout into a trial outcome.
type Parser interface {
	Parse(stdout string) (result.Trial, error)
}

type AggregatorOpts struct {
	Launcher Launcher
	Parser   Parser
	// StrictMatches fails a cell whose trials disagree on the match count.
	StrictMatches bool
	Logger        *slog.Logger
}

// Aggregator runs the trials of a cell and reduces them to a result.Cell.
type Aggregator struct {
	launcher      Launcher
	parser        Parser
	strictMatches bool
	logger        *slog.Logger
}

func NewAggregator(opts *AggregatorOpts) *Aggregator {
	parser := opts.Parser
	if parser == nil {
		parser = parse.Default
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		launcher:      opts.Launcher,
		parser:        parser,
		strictMatches: opts.StrictMatches,
		logger:        logger,
	}
}

// RunTrial launches spec once and parses its output.
func (a *Aggregator) RunTrial(ctx context.Context, spec *Spec) (result.Trial, error) {
	res, err := a.launcher.Launch(ctx, spec)
	if err != nil {
		return result.Trial{}, err
	}
	if res.ExitCode != 0 {
		a.logger.Warn("program failed",
			slog.String("algorithm", spec.Algorithm),
			slog.Int("ranks", spec.Ranks),
			slog.Int("exit_code", res.ExitCode),
			slog.String("stderr", truncate(res.Stderr, maxStderr)),
		)
		return result.Trial{}, fmt.Errorf("%w: exit status %d", ErrNonZeroExit, res.ExitCode)
	}
	return a.parser.Parse(res.Stdout)
}

// Run executes spec.Trials sequential trials under FailFastPerCell. It returns
// nil when any trial fails; the reason is logged, not returned.
func (a *Aggregator) Run(ctx context.Context, spec *Spec) *result.Cell {
	logger := a.logger.With(
		slog.String("algorithm", spec.Algorithm),
		slog.Int("ranks", spec.Ranks),
	)
	trials := max(spec.Trials, 1)

	times := make([]float64, 0, trials)
	var first result.Trial
	for i := 1; i <= trials; i++ {
		trial, err := a.RunTrial(ctx, spec)
		if err == nil && i > 1 && a.strictMatches && trial.Matches != first.Matches {
			err = fmt.Errorf("%w: trial 1 reported %d, trial %d reported %d",
				ErrMatchMismatch, first.Matches, i, trial.Matches)
		}
		if err != nil {
			logger.Warn("cell abandoned",
				slog.String("policy", FailFastPerCell),
				slog.Int("trial", i),
				slog.Int("trials", trials),
				slog.String("reason", FailureReason(err)),
				slog.String("error", err.Error()),
			)
			return nil
		}
		if i == 1 {
			first = trial
		}
		times = append(times, trial.Seconds)
		logger.Debug("trial complete",
			slog.Int("trial", i),
			slog.Int("matches", trial.Matches),
			slog.Float64("seconds", trial.Seconds),
		)
	}

	mean, lo, hi := summarize(times)
	return &result.Cell{
		Algorithm: spec.Algorithm,
		Ranks:     spec.Ranks,
		Matches:   first.Matches,
		MeanTime:  mean,
		MinTime:   lo,
		MaxTime:   hi,
		Trials:    trials,
	}
}

func summarize(times []float64) (mean, lo, hi float64) {
	mean = stat.Mean(times, nil)
	lo = floats.Min(times)
	hi = floats.Max(times)
	// Summation rounding can push the mean of identical samples just past them.
	mean = min(max(mean, lo), hi)
	return mean, lo, hi
}

// FailureReason classifies a trial error for logs and reports.
func FailureReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, process.ErrTimeout):
		return "timeout"
	case errors.Is(err, process.ErrLaunch):
		return "launch_error"
	case errors.Is(err, ErrNonZeroExit):
		return "nonzero_exit"
	case errors.Is(err, parse.ErrMissingField):
		return "missing_field"
	case errors.Is(err, parse.ErrMalformedField):
		return "malformed_field"
	case errors.Is(err, ErrMatchMismatch):
		return "match_mismatch"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "error"
	}
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
