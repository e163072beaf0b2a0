package config

import (
	"fmt"
)

// Config is the root configuration for factoryd.
type Config struct {
	Engine    EngineConfig    `koanf:"engine"`
	Output    OutputConfig    `koanf:"output"`
	Memory    MemoryConfig    `koanf:"memory"`
	Metrics   MetricsConfig   `koanf:"metrics"`
	Logging   LoggingConfig   `koanf:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Model     ModelConfig     `koanf:"model"`
}

// EngineConfig controls the workflow engine.
type EngineConfig struct {
	// MaxIterations bounds the refinement loop.
	MaxIterations int `koanf:"max_iterations"`

	// KeepRecent is the context-compaction width applied after each
	// refinement iteration.
	KeepRecent int `koanf:"keep_recent"`

	// RequiredArtifacts are the artifact types the validation phase checks.
	RequiredArtifacts []string `koanf:"required_artifacts"`

	// CallsPerSecond rate-limits collaborator invocations. Zero disables
	// limiting.
	CallsPerSecond float64 `koanf:"calls_per_second"`

	// CallBurst is the limiter burst size.
	CallBurst int `koanf:"call_burst"`
}

// OutputConfig controls where generated artifacts land.
type OutputConfig struct {
	Dir string `koanf:"dir"`
}

// MemoryConfig controls the memory bank location.
type MemoryConfig struct {
	Dir string `koanf:"dir"`
}

// MetricsConfig controls the durable metrics log and optional Prometheus
// exposition.
type MetricsConfig struct {
	File string `koanf:"file"`

	// ListenAddr serves /metrics when non-empty, e.g. ":9464".
	ListenAddr string `koanf:"listen_addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig controls OTLP export.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	ServiceName string `koanf:"service_name"`
	Endpoint    string `koanf:"endpoint"`
	Insecure    bool   `koanf:"insecure"`
}

// ModelConfig selects the language model backing the generation agents.
// An empty provider runs every agent in deterministic template mode.
type ModelConfig struct {
	Provider string `koanf:"provider"`
	BaseURL  string `koanf:"base_url"`
	Model    string `koanf:"model"`
	APIKey   string `koanf:"api_key"`
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Engine.MaxIterations < 0 {
		return fmt.Errorf("engine.max_iterations must be non-negative, got %d", c.Engine.MaxIterations)
	}
	if c.Engine.KeepRecent < 1 {
		return fmt.Errorf("engine.keep_recent must be positive, got %d", c.Engine.KeepRecent)
	}
	if c.Engine.CallsPerSecond < 0 {
		return fmt.Errorf("engine.calls_per_second must be non-negative, got %g", c.Engine.CallsPerSecond)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	if c.Telemetry.Enabled && c.Telemetry.Endpoint == "" {
		return fmt.Errorf("telemetry.enabled requires telemetry.endpoint")
	}
	if c.Model.Provider != "" && c.Model.Provider != "openai" {
		return fmt.Errorf("unsupported model.provider %q", c.Model.Provider)
	}
	return nil
}
