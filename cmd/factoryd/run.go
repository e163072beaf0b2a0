package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fabriclabs/factoryd/internal/agents"
	"github.com/fabriclabs/factoryd/internal/config"
	"github.com/fabriclabs/factoryd/internal/engine"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/memorybank"
	"github.com/fabriclabs/factoryd/internal/metrics"
	"github.com/fabriclabs/factoryd/internal/telemetry"
	"github.com/fabriclabs/factoryd/internal/tracing"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	var outputDir string
	var runID string

	cmd := &cobra.Command{
		Use:   "run <spec.yaml>",
		Short: "Run the generation workflow for a specification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile)
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.Output.Dir = outputDir
			}
			return runWorkflow(cmd.Context(), cfg, args[0], runID)
		},
	}
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output directory (overrides config)")
	cmd.Flags().StringVar(&runID, "run-id", "", "run id (generated when empty)")
	return cmd
}

func runWorkflow(ctx context.Context, cfg *config.Config, specPath, runID string) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	tel, err := telemetry.New(ctx, &telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Warn(ctx, "telemetry shutdown failed", zap.Error(err))
		}
	}()

	collector, err := metrics.NewCollector(cfg.Metrics.File, logger)
	if err != nil {
		return fmt.Errorf("initializing metrics collector: %w", err)
	}
	if cfg.Metrics.ListenAddr != "" {
		go serveMetrics(ctx, cfg.Metrics.ListenAddr, logger)
	}

	var tracerOpts []tracing.Option
	if tel.Enabled() {
		tracerOpts = append(tracerOpts, tracing.WithOtelTracer(tel.Tracer("factoryd/engine")))
	}
	tracer := tracing.New(tracerOpts...)

	bank, err := memorybank.Open(cfg.Memory.Dir, logger)
	if err != nil {
		return fmt.Errorf("opening memory bank: %w", err)
	}

	model, err := buildModel(cfg)
	if err != nil {
		return err
	}

	agentOpts := []agents.Option{agents.WithLogger(logger)}
	if model != nil {
		agentOpts = append(agentOpts, agents.WithModel(model))
	}
	eng, err := engine.New(engine.Collaborators{
		Parser:    agents.NewSpecParser(agents.WithLogger(logger)),
		Playbooks: agents.NewPlaybookGenerator(cfg.Output.Dir, agentOpts...),
		Docs:      agents.NewDocGenerator(cfg.Output.Dir, agentOpts...),
		Reviewer:  agents.NewReviewer(cfg.Output.Dir, agents.WithLogger(logger)),
		Tests:     agents.NewTestGenerator(cfg.Output.Dir, agents.WithLogger(logger)),
		Pipelines: agents.NewPipelineGenerator(cfg.Output.Dir, agents.WithLogger(logger)),
	},
		engine.WithMaxIterations(cfg.Engine.MaxIterations),
		engine.WithKeepRecent(cfg.Engine.KeepRecent),
		engine.WithRequiredArtifacts(cfg.Engine.RequiredArtifacts),
		engine.WithMetrics(collector),
		engine.WithTracer(tracer),
		engine.WithMemoryBank(bank),
		engine.WithRateLimit(cfg.Engine.CallsPerSecond, cfg.Engine.CallBurst),
		engine.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	res := eng.Run(ctx, engine.Request{
		SpecPath:  specPath,
		OutputDir: cfg.Output.Dir,
		RunID:     runID,
	})

	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	fmt.Println(string(out))

	if !res.Success {
		return fmt.Errorf("workflow %s ended in %s", res.RunID, res.FinalState)
	}
	return nil
}

// buildModel returns nil when no provider is configured; agents then run in
// template mode.
func buildModel(cfg *config.Config) (llms.Model, error) {
	if cfg.Model.Provider == "" {
		return nil, nil
	}
	opts := []openai.Option{}
	if cfg.Model.Model != "" {
		opts = append(opts, openai.WithModel(cfg.Model.Model))
	}
	if cfg.Model.APIKey != "" {
		opts = append(opts, openai.WithToken(cfg.Model.APIKey))
	}
	if cfg.Model.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.Model.BaseURL))
	}
	model, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("initializing %s model: %w", cfg.Model.Provider, err)
	}
	return model, nil
}

func serveMetrics(ctx context.Context, addr string, logger *logging.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	logger.Info(ctx, "serving prometheus metrics", zap.String("addr", addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Warn(ctx, "metrics listener stopped", zap.Error(err))
	}
}
