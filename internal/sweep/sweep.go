// Package sweep runs every (algorithm, ranks) cell of a benchmark and
// collects the cells that succeeded.
package sweep

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/signalnine/matchbench/internal/config"
	"github.com/signalnine/matchbench/internal/result"
	"github.com/signalnine/matchbench/internal/runner"
)

type Algorithm struct {
	Name       string
	Executable string
	Trials     int
	Timeout    time.Duration
}

// Options is everything a sweep needs; nothing is read from globals.
type Options struct {
	Algorithms []Algorithm
	Ranks      []int
	Pattern    string
	Corpus     string
	// Parallel is the number of cells run at once. Trials within a cell
	// are always sequential.
	Parallel int

	// OnCell, if set, is called once per attempted cell with the cell result
	// or nil. Calls are serialized.
	OnCell func(spec *runner.Spec, cell *result.Cell)
	// OnSkip, if set, is called once per algorithm whose executable is missing.
	OnSkip func(a Algorithm)
	// Exists overrides the executable existence check.
	Exists func(path string) bool
}

// CellRunner runs all trials of one cell, returning nil if the cell failed.
type CellRunner interface {
	Run(ctx context.Context, spec *runner.Spec) *result.Cell
}

type Controller struct {
	opts   Options
	cells  CellRunner
	logger *slog.Logger
	mu     sync.Mutex
}

func New(opts Options, cells CellRunner, logger *slog.Logger) *Controller {
	if opts.Exists == nil {
		opts.Exists = executableExists
	}
	if opts.Parallel < 1 {
		opts.Parallel = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{opts: opts, cells: cells, logger: logger}
}

// OptionsFromConfig builds sweep options from a loaded config. Per-algorithm
// trial counts and timeouts fall back to the global values.
func OptionsFromConfig(cfg *config.Config) Options {
	algorithms := make([]Algorithm, 0, len(cfg.Algorithms))
	for i := range cfg.Algorithms {
		a := &cfg.Algorithms[i]
		algorithms = append(algorithms, Algorithm{
			Name:       a.Name,
			Executable: a.Executable,
			Trials:     cfg.TrialsFor(a),
			Timeout:    cfg.TimeoutFor(a),
		})
	}
	return Options{
		Algorithms: algorithms,
		Ranks:      cfg.Ranks,
		Pattern:    cfg.Inputs.Pattern,
		Corpus:     cfg.Inputs.Corpus,
		Parallel:   cfg.Parallel,
	}
}

// Specs returns the cells of the sweep in traversal order: algorithms in
// registry order, ranks in configured order. Algorithms whose executable is
// missing are returned separately and contribute no cells.
func (c *Controller) Specs() (specs []*runner.Spec, skipped []Algorithm) {
	for _, a := range c.opts.Algorithms {
		if !c.opts.Exists(a.Executable) {
			skipped = append(skipped, a)
			continue
		}
		for _, ranks := range c.opts.Ranks {
			specs = append(specs, &runner.Spec{
				Algorithm:  a.Name,
				Executable: a.Executable,
				Ranks:      ranks,
				Pattern:    c.opts.Pattern,
				Corpus:     c.opts.Corpus,
				Trials:     max(a.Trials, 1),
				Timeout:    a.Timeout,
			})
		}
	}
	return specs, skipped
}

// Run executes the sweep. A sweep in which every cell failed is returned
// without error and reports Empty(); an error means the sweep was
// interrupted, in which case the cells completed so far are still returned.
func (c *Controller) Run(ctx context.Context) (*result.Sweep, error) {
	sweep := &result.Sweep{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Inputs:    result.Inputs{Pattern: c.opts.Pattern, Corpus: c.opts.Corpus},
		Ranks:     c.opts.Ranks,
	}
	for _, a := range c.opts.Algorithms {
		sweep.Algorithms = append(sweep.Algorithms, a.Name)
	}

	specs, skipped := c.Specs()
	for _, a := range skipped {
		c.logger.Warn("executable not found, skipping algorithm",
			slog.String("algorithm", a.Name),
			slog.String("executable", a.Executable),
		)
		sweep.Skipped = append(sweep.Skipped, a.Name)
		if c.opts.OnSkip != nil {
			c.opts.OnSkip(a)
		}
	}

	// Each job owns one slot, so completion order cannot reorder results.
	slots := make([]*result.Cell, len(specs))
	jobs := make([]runner.Job, len(specs))
	for i, spec := range specs {
		jobs[i] = func(ctx context.Context) error {
			slots[i] = c.cells.Run(ctx, spec)
			c.notify(spec, slots[i])
			return nil
		}
	}
	runner.RunPool(ctx, c.opts.Parallel, jobs)

	for _, cell := range slots {
		if cell != nil {
			sweep.Cells = append(sweep.Cells, *cell)
		}
	}
	sweep.FinishedAt = time.Now().UTC()

	c.logger.Info("sweep finished",
		slog.String("run_id", sweep.RunID),
		slog.Int("cells", len(specs)),
		slog.Int("succeeded", len(sweep.Cells)),
		slog.Int("skipped_algorithms", len(sweep.Skipped)),
		slog.Duration("elapsed", sweep.FinishedAt.Sub(sweep.StartedAt)),
	)

	if err := ctx.Err(); err != nil {
		return sweep, fmt.Errorf("sweep interrupted: %w", err)
	}
	return sweep, nil
}

func (c *Controller) notify(spec *runner.Spec, cell *result.Cell) {
	if c.opts.OnCell == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opts.OnCell(spec, cell)
}

func executableExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
