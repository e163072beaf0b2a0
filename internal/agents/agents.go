// Package agents provides the built-in collaborators the workflow engine
// coordinates: specification parsing, playbook and documentation generation,
// review, test generation and CI/CD pipeline generation.
//
// Generation agents run in one of two modes. With a language model attached
// they prompt it and fall back to deterministic templates when the model
// call fails; without one they render templates directly. Template mode is
// fully offline and what the test suite exercises.
package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"

	"github.com/fabriclabs/factoryd/internal/logging"
)

// Option configures an agent at construction time.
type Option func(*options)

type options struct {
	model  llms.Model
	logger *logging.Logger
}

// WithModel attaches a language model. Agents without one render templates.
func WithModel(m llms.Model) Option {
	return func(o *options) { o.model = m }
}

// WithLogger sets the agent logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{logger: logging.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// generate prompts the model and returns the completion plus an approximate
// token count for session accounting.
func generate(ctx context.Context, model llms.Model, prompt string) (string, int64, error) {
	out, err := llms.GenerateFromSinglePrompt(ctx, model, prompt, llms.WithTemperature(0.2))
	if err != nil {
		return "", 0, err
	}
	return stripFence(out), estimateTokens(prompt) + estimateTokens(out), nil
}

// estimateTokens approximates token usage at four bytes per token. Good
// enough for trend metrics; exact counts are provider-specific.
func estimateTokens(s string) int64 {
	return int64(len(s) / 4)
}

// stripFence removes a surrounding markdown code fence from model output.
func stripFence(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return s
	}
	lines := strings.Split(trimmed, "\n")
	if len(lines) < 2 {
		return s
	}
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines[1:], "\n")
}

// writeArtifactFile writes content, creating parent directories as needed.
func writeArtifactFile(path string, content []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating artifact directory: %w", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("writing artifact %s: %w", path, err)
	}
	return nil
}
