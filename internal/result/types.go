package result

import "time"

// Trial is one successful invocation of an algorithm executable.
type Trial struct {
	Matches int     `json:"matches"`
	Seconds float64 `json:"seconds"`
}

// Cell summarizes every trial of one (algorithm, ranks) combination. Cells
// exist only when all of their trials succeeded.
type Cell struct {
	Algorithm string  `json:"algorithm"`
	Ranks     int     `json:"ranks"`
	Matches   int     `json:"matches"`
	MeanTime  float64 `json:"mean_time"`
	MinTime   float64 `json:"min_time"`
	MaxTime   float64 `json:"max_time"`
	Trials    int     `json:"trials"`
}

// Derived holds speedup and efficiency of a cell against its algorithm's
// single-rank baseline. Efficiency is a percentage.
type Derived struct {
	Algorithm  string  `json:"algorithm"`
	Ranks      int     `json:"ranks"`
	Speedup    float64 `json:"speedup"`
	Efficiency float64 `json:"efficiency"`
}

type Inputs struct {
	Pattern string `json:"pattern"`
	Corpus  string `json:"corpus"`
}

// Sweep is the outcome of one harness run. Cells are in traversal order;
// failed cells are absent.
type Sweep struct {
	RunID      string    `json:"run_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Inputs     Inputs    `json:"inputs"`
	Algorithms []string  `json:"algorithms"`
	Ranks      []int     `json:"ranks"`
	Skipped    []string  `json:"skipped,omitempty"`
	Cells      []Cell    `json:"cells"`
	Derived    []Derived `json:"derived,omitempty"`
}

// Empty reports whether the sweep ran but collected no cells.
func (s *Sweep) Empty() bool {
	return len(s.Cells) == 0
}
