package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabriclabs/factoryd/internal/config"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/memorybank"
)

func newStatsCmd(cfgFile *string) *cobra.Command {
	var similarTo string
	var limit int

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory bank statistics",
		Long:  "Show aggregate statistics over archived runs, or the runs most similar to a description with --similar-to.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			bank, err := memorybank.Open(cfg.Memory.Dir, logging.NewNop())
			if err != nil {
				return fmt.Errorf("opening memory bank: %w", err)
			}

			if similarTo != "" {
				runs, err := bank.RetrieveSimilar(cmd.Context(), similarTo, limit)
				if err != nil {
					return err
				}
				return printJSON(runs)
			}
			return printJSON(bank.Statistics())
		},
	}
	cmd.Flags().StringVar(&similarTo, "similar-to", "", "rank archived runs by similarity to this description")
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum similar runs to return")
	return cmd
}

func printJSON(v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
