package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/signalnine/matchbench/internal/config"
	"github.com/signalnine/matchbench/internal/report"
	"github.com/signalnine/matchbench/internal/result"
	"github.com/spf13/cobra"
)

var (
	flagFormat           string
	flagReportPromOutput string
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report [run-dir]",
		Short: "Render a stored sweep",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(flagFormat); err != nil {
				return err
			}
			var runDir string
			if len(args) > 0 {
				runDir = args[0]
			} else {
				cfg, err := config.Load(cfgFile)
				if err != nil {
					return err
				}
				runDir = filepath.Join(cfg.Results.Dir, result.LatestLink)
			}
			resolved, err := filepath.EvalSymlinks(runDir)
			if err != nil {
				return fmt.Errorf("resolving run dir: %w", err)
			}
			if flagReportPromOutput != "" {
				sw, err := result.ReadSweep(filepath.Join(resolved, result.SweepFile))
				if err != nil {
					return err
				}
				if err := report.WriteTextfile(flagReportPromOutput, sw); err != nil {
					return err
				}
			}
			return report.Generate(resolved, flagFormat, os.Stdout)
		},
	}
	cmd.Flags().StringVar(&flagFormat, "format", report.FormatTable, "output format (table, markdown, json, csv)")
	cmd.Flags().StringVar(&flagReportPromOutput, "prom-textfile", "", "also write metrics in Prometheus textfile format")
	return cmd
}
