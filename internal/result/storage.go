package result

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	SweepFile   = "sweep.json"
	CellsCSV    = "results.csv"
	DerivedCSV  = "speedup.csv"
	LatestLink  = "latest"
	runsSubdir  = "runs"
	stampLayout = "2006-01-02T15-04-05"
)

func CreateRunDir(baseDir string) (string, error) {
	runsDir := filepath.Join(baseDir, runsSubdir)
	stamp := time.Now().UTC().Format(stampLayout)
	runDir := filepath.Join(runsDir, stamp)
	runDir, err := filepath.Abs(runDir)
	if err != nil {
		return "", fmt.Errorf("resolving run dir: %w", err)
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", fmt.Errorf("creating run dir: %w", err)
	}
	latest := filepath.Join(baseDir, LatestLink)
	os.Remove(latest)
	if err := os.Symlink(runDir, latest); err != nil {
		return "", fmt.Errorf("creating latest symlink: %w", err)
	}
	return runDir, nil
}

// Save writes sweep.json, results.csv and speedup.csv into runDir.
func Save(runDir string, sweep *Sweep) error {
	if err := WriteSweep(runDir, sweep); err != nil {
		return err
	}
	if err := writeFile(filepath.Join(runDir, CellsCSV), func(w io.Writer) error {
		return WriteCellsCSV(w, sweep.Cells)
	}); err != nil {
		return err
	}
	return writeFile(filepath.Join(runDir, DerivedCSV), func(w io.Writer) error {
		return WriteDerivedCSV(w, sweep.Derived)
	})
}

func WriteSweep(runDir string, sweep *Sweep) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	data, err := json.MarshalIndent(sweep, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sweep: %w", err)
	}
	return os.WriteFile(filepath.Join(runDir, SweepFile), data, 0o644)
}

func ReadSweep(path string) (*Sweep, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sweep: %w", err)
	}
	var sweep Sweep
	if err := json.Unmarshal(data, &sweep); err != nil {
		return nil, fmt.Errorf("parsing sweep: %w", err)
	}
	return &sweep, nil
}

func WriteCellsCSV(w io.Writer, cells []Cell) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"algorithm", "ranks", "matches", "time", "min_time", "max_time"})
	for _, c := range cells {
		cw.Write([]string{
			c.Algorithm,
			strconv.Itoa(c.Ranks),
			strconv.Itoa(c.Matches),
			formatFloat(c.MeanTime),
			formatFloat(c.MinTime),
			formatFloat(c.MaxTime),
		})
	}
	cw.Flush()
	return cw.Error()
}

func WriteDerivedCSV(w io.Writer, derived []Derived) error {
	cw := csv.NewWriter(w)
	cw.Write([]string{"algorithm", "ranks", "speedup", "efficiency"})
	for _, d := range derived {
		cw.Write([]string{
			d.Algorithm,
			strconv.Itoa(d.Ranks),
			formatFloat(d.Speedup),
			formatFloat(d.Efficiency),
		})
	}
	cw.Flush()
	return cw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Base(path), err)
	}
	if err := fn(f); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
