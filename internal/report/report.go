package report

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/cheynewallace/tabby"
	"github.com/dustin/go-humanize"
	"github.com/signalnine/matchbench/internal/result"
)

const (
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatCSV      = "csv"
)

var Formats = []string{FormatTable, FormatMarkdown, FormatJSON, FormatCSV}

// Generate reads the sweep stored in runDir and renders it.
func Generate(runDir, format string, w io.Writer) error {
	sweep, err := result.ReadSweep(filepath.Join(runDir, result.SweepFile))
	if err != nil {
		return err
	}
	return Render(sweep, format, w)
}

// Render writes sweep in the given format. An unknown format is an error.
func Render(sweep *result.Sweep, format string, w io.Writer) error {
	switch format {
	case FormatTable, "":
		return writeTable(sweep, w)
	case FormatMarkdown:
		return writeMarkdown(sweep, w)
	case FormatJSON:
		return writeJSON(sweep, w)
	case FormatCSV:
		return writeCSV(sweep, w)
	default:
		return fmt.Errorf("unknown report format %q", format)
	}
}

func writeTable(sweep *result.Sweep, w io.Writer) error {
	fmt.Fprintln(w, "RESULTS SUMMARY")
	t := tabby.NewCustom(tabwriter.NewWriter(w, 0, 4, 2, ' ', 0))
	t.AddHeader("ALGORITHM", "RANKS", "TIME (s)", "MIN (s)", "MAX (s)", "MATCHES", "TRIALS")
	for _, c := range sweep.Cells {
		t.AddLine(c.Algorithm, c.Ranks, seconds(c.MeanTime), seconds(c.MinTime), seconds(c.MaxTime),
			humanize.Comma(int64(c.Matches)), c.Trials)
	}
	t.Print()

	if len(sweep.Derived) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "SPEEDUP ANALYSIS (relative to 1 rank)")
		t = tabby.NewCustom(tabwriter.NewWriter(w, 0, 4, 2, ' ', 0))
		t.AddHeader("ALGORITHM", "RANKS", "SPEEDUP", "EFFICIENCY")
		for _, d := range sweep.Derived {
			t.AddLine(d.Algorithm, d.Ranks, fmt.Sprintf("%.2fx", d.Speedup), fmt.Sprintf("%.1f%%", d.Efficiency))
		}
		t.Print()
	}

	if len(sweep.Skipped) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Skipped (executable not found): %v\n", sweep.Skipped)
	}
	return nil
}

func writeMarkdown(sweep *result.Sweep, w io.Writer) error {
	fmt.Fprintln(w, "## Results")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Algorithm | Ranks | Time (s) | Min (s) | Max (s) | Matches | Trials |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|")
	for _, c := range sweep.Cells {
		fmt.Fprintf(w, "| %s | %d | %s | %s | %s | %s | %d |\n",
			c.Algorithm, c.Ranks, seconds(c.MeanTime), seconds(c.MinTime), seconds(c.MaxTime),
			humanize.Comma(int64(c.Matches)), c.Trials)
	}
	if len(sweep.Derived) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "## Speedup (relative to 1 rank)")
		fmt.Fprintln(w)
		fmt.Fprintln(w, "| Algorithm | Ranks | Speedup | Efficiency |")
		fmt.Fprintln(w, "|---|---|---|---|")
		for _, d := range sweep.Derived {
			fmt.Fprintf(w, "| %s | %d | %.2fx | %.1f%% |\n", d.Algorithm, d.Ranks, d.Speedup, d.Efficiency)
		}
	}
	return nil
}

func writeJSON(sweep *result.Sweep, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sweep)
}

// writeCSV emits the results table, a blank line, then the speedup table.
func writeCSV(sweep *result.Sweep, w io.Writer) error {
	if err := result.WriteCellsCSV(w, sweep.Cells); err != nil {
		return err
	}
	if len(sweep.Derived) == 0 {
		return nil
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return err
	}
	return result.WriteDerivedCSV(w, sweep.Derived)
}

func seconds(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}
