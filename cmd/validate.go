package cmd

import (
	"fmt"
	"os"

	"github.com/signalnine/matchbench/internal/config"
	"github.com/signalnine/matchbench/internal/parse"
	"github.com/signalnine/matchbench/internal/runner"
	"github.com/signalnine/matchbench/internal/sweep"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the config and report which executables are present",
		Long:  "Load and validate the config, compile the output patterns, build the launcher, and report which algorithm executables exist. Nothing is launched.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if _, err := parse.New(cfg.Parser.MatchesPattern, cfg.Parser.TimePattern); err != nil {
				return err
			}
			logger, err := commandLogger()
			if err != nil {
				return err
			}
			if _, err := runner.NewLauncher(cfg, logger); err != nil {
				return err
			}

			specs, skipped := sweep.New(sweep.OptionsFromConfig(cfg), nil, logger).Specs()
			missing := make(map[string]bool, len(skipped))
			for _, a := range skipped {
				missing[a.Name] = true
			}
			for _, a := range cfg.Algorithms {
				status := "ok"
				if missing[a.Name] {
					status = "missing"
				}
				fmt.Printf("  %-8s %-40s %s\n", a.Name, a.Executable, status)
			}
			for _, path := range []string{cfg.Inputs.Pattern, cfg.Inputs.Corpus} {
				if _, err := os.Stat(path); err != nil {
					fmt.Printf("  warning: input %s: %v\n", path, err)
				}
			}
			fmt.Printf("\n%s: %d cells to run, %d algorithm(s) skipped\n", cfgFile, len(specs), len(skipped))
			return nil
		},
	}
}
