package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fabriclabs/factoryd/internal/config"
	"github.com/fabriclabs/factoryd/internal/logging"
)

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "factoryd",
		Short:         "Network automation factory",
		Long:          "factoryd turns declarative network automation specifications into reviewed, tested, CI-ready Ansible artifacts.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file (YAML)")

	cmd.AddCommand(newRunCmd(&cfgFile))
	cmd.AddCommand(newStatsCmd(&cfgFile))
	cmd.AddCommand(newMetricsCmd(&cfgFile))
	return cmd
}

// newLogger builds the process logger from loaded configuration.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	var level zapcore.Level
	if err := level.Set(cfg.Logging.Level); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}
	return logging.NewLogger(&logging.Config{
		Level:      level,
		Format:     cfg.Logging.Format,
		Stacktrace: logging.StacktraceConfig{Level: zapcore.ErrorLevel},
	})
}
