package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cheynewallace/tabby"
	"github.com/signalnine/matchbench/internal/config"
	"github.com/spf13/cobra"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered algorithms and rank counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			t := tabby.NewCustom(tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0))
			t.AddHeader("ALGORITHM", "EXECUTABLE", "TRIALS", "TIMEOUT")
			for i := range cfg.Algorithms {
				a := &cfg.Algorithms[i]
				t.AddLine(a.Name, a.Executable, cfg.TrialsFor(a), cfg.TimeoutFor(a))
			}
			t.Print()
			fmt.Printf("\nRanks: %s\n", joinInts(cfg.Ranks))
			fmt.Printf("Launcher: %s %q\n", cfg.Launcher.Kind, cfg.Launcher.Command)
			return nil
		},
	}
}
