package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fabriclabs/factoryd/internal/config"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/metrics"
)

func newMetricsCmd(cfgFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Summarize the durable metrics log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			collector, err := metrics.NewCollector(cfg.Metrics.File, logging.NewNop())
			if err != nil {
				return fmt.Errorf("opening metrics log: %w", err)
			}
			return printJSON(collector.Summary())
		},
	}
}
