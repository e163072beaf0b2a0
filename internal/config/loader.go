// Package config provides configuration loading for factoryd.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// envPrefix scopes which environment variables the loader reads.
const envPrefix = "FACTORYD_"

// Load reads configuration from an optional YAML file, then overrides with
// environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (FACTORYD_ENGINE_MAX_ITERATIONS, ...)
//  2. YAML config file
//  3. Hardcoded defaults
//
// Environment variables map SECTION_FIELD_NAME to section.field_name:
//
//	FACTORYD_ENGINE_MAX_ITERATIONS -> engine.max_iterations
//	FACTORYD_METRICS_LISTEN_ADDR   -> metrics.listen_addr
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", configPath, err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		// FACTORYD_ENGINE_MAX_ITERATIONS -> engine.max_iterations:
		// the first underscore separates section from field; later
		// underscores stay in the field name.
		lower := strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(lower, "_", 2)
		if len(parts) == 1 {
			return lower
		}
		return parts[0] + "." + parts[1]
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Engine.MaxIterations == 0 {
		cfg.Engine.MaxIterations = 3
	}
	if cfg.Engine.KeepRecent == 0 {
		cfg.Engine.KeepRecent = 3
	}
	if len(cfg.Engine.RequiredArtifacts) == 0 {
		cfg.Engine.RequiredArtifacts = []string{
			"ansible_playbook", "code_review", "tests", "cicd_pipeline",
		}
	}
	if cfg.Engine.CallBurst == 0 {
		cfg.Engine.CallBurst = 1
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "./output"
	}
	if cfg.Memory.Dir == "" {
		cfg.Memory.Dir = "./memory"
	}
	if cfg.Metrics.File == "" {
		cfg.Metrics.File = "./logs/metrics.json"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "factoryd"
	}
}
