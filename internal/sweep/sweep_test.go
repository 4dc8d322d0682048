package sweep_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/signalnine/matchbench/internal/config"
	"github.com/signalnine/matchbench/internal/metrics"
	"github.com/signalnine/matchbench/internal/process"
	"github.com/signalnine/matchbench/internal/result"
	"github.com/signalnine/matchbench/internal/runner"
	"github.com/signalnine/matchbench/internal/sweep"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// fakeCells returns a fixed cell per "algorithm@ranks" key; keys listed in
// fail produce nil. An optional delay staggers completion.
type fakeCells struct {
	mu    sync.Mutex
	fail  map[string]bool
	delay func(spec *runner.Spec) time.Duration
	calls []string
}

func key(spec *runner.Spec) string {
	return fmt.Sprintf("%s@%d", spec.Algorithm, spec.Ranks)
}

func (f *fakeCells) Run(ctx context.Context, spec *runner.Spec) *result.Cell {
	f.mu.Lock()
	f.calls = append(f.calls, key(spec))
	f.mu.Unlock()
	if f.delay != nil {
		select {
		case <-time.After(f.delay(spec)):
		case <-ctx.Done():
			return nil
		}
	}
	if f.fail[key(spec)] {
		return nil
	}
	mean := 1.0 / float64(spec.Ranks)
	return &result.Cell{
		Algorithm: spec.Algorithm, Ranks: spec.Ranks, Matches: 42,
		MeanTime: mean, MinTime: mean, MaxTime: mean, Trials: spec.Trials,
	}
}

func (f *fakeCells) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func existsExcept(missing ...string) func(string) bool {
	return func(path string) bool {
		for _, m := range missing {
			if path == m {
				return false
			}
		}
		return true
	}
}

func algorithms(names ...string) []sweep.Algorithm {
	out := make([]sweep.Algorithm, len(names))
	for i, n := range names {
		out[i] = sweep.Algorithm{Name: n, Executable: "./bin/" + strings.ToLower(n), Trials: 3, Timeout: time.Minute}
	}
	return out
}

func cellKeys(cells []result.Cell) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = fmt.Sprintf("%s@%d", c.Algorithm, c.Ranks)
	}
	return out
}

func TestRunMissingExecutableSkipsAlgorithm(t *testing.T) {
	cells := &fakeCells{}
	var skipped []string
	c := sweep.New(sweep.Options{
		Algorithms: algorithms("BF", "BM", "RK"),
		Ranks:      []int{1, 2},
		Exists:     existsExcept("./bin/bm"),
		OnSkip:     func(a sweep.Algorithm) { skipped = append(skipped, a.Name) },
	}, cells, discardLogger())

	sw, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"BM"}, sw.Skipped)
	assert.Equal(t, []string{"BM"}, skipped)
	for _, call := range cells.Calls() {
		assert.False(t, strings.HasPrefix(call, "BM@"), "BM must never be launched")
	}
	assert.Equal(t, []string{"BF@1", "BF@2", "RK@1", "RK@2"}, cellKeys(sw.Cells))
	assert.Equal(t, []string{"BF", "BM", "RK"}, sw.Algorithms)
}

func TestRunFailedCellAbsentSweepContinues(t *testing.T) {
	cells := &fakeCells{fail: map[string]bool{"RK@32": true}}
	var attempted []string
	c := sweep.New(sweep.Options{
		Algorithms: algorithms("BF", "RK"),
		Ranks:      []int{1, 32},
		OnCell: func(spec *runner.Spec, cell *result.Cell) {
			attempted = append(attempted, fmt.Sprintf("%s:%v", key(spec), cell != nil))
		},
		Exists: existsExcept(),
	}, cells, discardLogger())

	sw, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"BF@1", "BF@32", "RK@1"}, cellKeys(sw.Cells))
	assert.ElementsMatch(t, []string{"BF@1:true", "BF@32:true", "RK@1:true", "RK@32:false"}, attempted)
	assert.Empty(t, sw.Skipped)
}

func TestRunParallelKeepsTraversalOrder(t *testing.T) {
	// Later cells finish first.
	cells := &fakeCells{delay: func(spec *runner.Spec) time.Duration {
		return time.Duration(40/spec.Ranks) * time.Millisecond
	}}
	c := sweep.New(sweep.Options{
		Algorithms: algorithms("BF", "BM"),
		Ranks:      []int{1, 2, 4, 8},
		Parallel:   4,
		Exists:     existsExcept(),
	}, cells, discardLogger())

	sw, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{
		"BF@1", "BF@2", "BF@4", "BF@8",
		"BM@1", "BM@2", "BM@4", "BM@8",
	}, cellKeys(sw.Cells))
}

func TestRunRepeatedRanksKept(t *testing.T) {
	c := sweep.New(sweep.Options{
		Algorithms: algorithms("BF"),
		Ranks:      []int{2, 1, 2},
		Exists:     existsExcept(),
	}, &fakeCells{}, discardLogger())

	sw, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BF@2", "BF@1", "BF@2"}, cellKeys(sw.Cells))
}

func TestRunAllCellsFailedIsEmpty(t *testing.T) {
	cells := &fakeCells{fail: map[string]bool{"BF@1": true, "BF@2": true}}
	c := sweep.New(sweep.Options{
		Algorithms: algorithms("BF", "BM"),
		Ranks:      []int{1, 2},
		Exists:     existsExcept("./bin/bm"),
	}, cells, discardLogger())

	sw, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sw.Empty())
	assert.NotEmpty(t, sw.RunID)
	assert.False(t, sw.FinishedAt.Before(sw.StartedAt))
}

func TestRunNoAlgorithmsPresent(t *testing.T) {
	cells := &fakeCells{}
	c := sweep.New(sweep.Options{
		Algorithms: algorithms("BF"),
		Ranks:      []int{1},
		Exists:     existsExcept("./bin/bf"),
	}, cells, discardLogger())

	sw, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, sw.Empty())
	assert.Empty(t, cells.Calls())
}

func TestRunCancelled(t *testing.T) {
	cells := &fakeCells{delay: func(*runner.Spec) time.Duration { return time.Hour }}
	c := sweep.New(sweep.Options{
		Algorithms: algorithms("BF"),
		Ranks:      []int{1, 2, 4},
		Exists:     existsExcept(),
	}, cells, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	sw, err := c.Run(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, sw)
	assert.Empty(t, sw.Cells)
}

func TestSpecsCarryPerAlgorithmSettings(t *testing.T) {
	algs := algorithms("BF", "RK")
	algs[1].Trials = 5
	algs[1].Timeout = 20 * time.Minute
	c := sweep.New(sweep.Options{
		Algorithms: algs,
		Ranks:      []int{4},
		Pattern:    "pattern.txt",
		Corpus:     "text.txt",
		Exists:     existsExcept(),
	}, &fakeCells{}, nil)

	specs, skipped := c.Specs()
	assert.Empty(t, skipped)
	require.Len(t, specs, 2)
	assert.Equal(t, runner.Spec{
		Algorithm: "RK", Executable: "./bin/rk", Ranks: 4,
		Pattern: "pattern.txt", Corpus: "text.txt",
		Trials: 5, Timeout: 20 * time.Minute,
	}, *specs[1])
	assert.Equal(t, 3, specs[0].Trials)
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.Load(filepath.Join("..", "..", "testdata", "full.yaml"))
	require.NoError(t, err)

	opts := sweep.OptionsFromConfig(cfg)
	require.Len(t, opts.Algorithms, 3)
	assert.Equal(t, []int{1, 2, 4, 8, 16, 32}, opts.Ranks)
	assert.Equal(t, 2, opts.Parallel)

	bf, rk := opts.Algorithms[0], opts.Algorithms[2]
	assert.Equal(t, "BF", bf.Name)
	assert.Equal(t, cfg.Trials, bf.Trials)
	assert.Equal(t, 10*time.Minute, bf.Timeout)
	assert.Equal(t, "RK", rk.Name)
	assert.Equal(t, 5, rk.Trials)
	assert.Equal(t, 20*time.Minute, rk.Timeout)
}

// scriptedLauncher answers each launch from a per-cell script of stdout
// bodies; an entry of "timeout" reports a timeout instead.
type scriptedLauncher struct {
	mu     sync.Mutex
	script map[string][]string
	next   map[string]int
}

func (s *scriptedLauncher) Launch(_ context.Context, spec *runner.Spec) (*process.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := key(spec)
	outs := s.script[k]
	i := min(s.next[k], len(outs)-1)
	s.next[k]++
	if outs[i] == "timeout" {
		return nil, fmt.Errorf("%w after %s", process.ErrTimeout, spec.Timeout)
	}
	return &process.Result{Stdout: outs[i]}, nil
}

func out(matches int, seconds string) string {
	return fmt.Sprintf("searching...\nMatches: %d\nTime(s): %s\n", matches, seconds)
}

func TestSweepEndToEnd(t *testing.T) {
	launcher := &scriptedLauncher{
		next: map[string]int{},
		script: map[string][]string{
			"BF@1":  {out(42, "1.20"), out(42, "1.30"), out(42, "1.25")},
			"BF@2":  {out(42, "1.0"), out(42, "1.0"), out(42, "1.0")},
			"BF@32": {out(42, "0.25")},
			"RK@1":  {out(42, "2.0")},
			"RK@2":  {out(41, "1.5"), out(42, "1.5")},
			"RK@32": {out(42, "0.5"), "timeout"},
		},
	}
	agg := runner.NewAggregator(&runner.AggregatorOpts{Launcher: launcher, Logger: discardLogger()})

	dir := t.TempDir()
	exe := func(name string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755))
		return p
	}
	c := sweep.New(sweep.Options{
		Algorithms: []sweep.Algorithm{
			{Name: "BF", Executable: exe("bf"), Trials: 3, Timeout: time.Minute},
			{Name: "BM", Executable: filepath.Join(dir, "bm"), Trials: 3, Timeout: time.Minute},
			{Name: "RK", Executable: exe("rk"), Trials: 3, Timeout: time.Minute},
		},
		Ranks:    []int{1, 2, 32},
		Parallel: 2,
	}, agg, discardLogger())

	sw, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"BM"}, sw.Skipped)
	// RK@2 has a match-count mismatch but strict mode is off.
	assert.Equal(t, []string{"BF@1", "BF@2", "BF@32", "RK@1", "RK@2"}, cellKeys(sw.Cells))

	bf1 := sw.Cells[0]
	assert.InDelta(t, 1.25, bf1.MeanTime, 1e-9)
	assert.InDelta(t, 1.20, bf1.MinTime, 1e-9)
	assert.InDelta(t, 1.30, bf1.MaxTime, 1e-9)
	assert.Equal(t, 42, bf1.Matches)

	derived := metrics.Compute(sw.Cells)
	require.Len(t, derived, 5)
	bf2 := derived[1]
	assert.Equal(t, 2, bf2.Ranks)
	assert.InDelta(t, 1.25, bf2.Speedup, 1e-9)
	assert.InDelta(t, 62.5, bf2.Efficiency, 1e-9)
}
