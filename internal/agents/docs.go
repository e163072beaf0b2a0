package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"

	"github.com/fabriclabs/factoryd/internal/engine"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/session"
)

// DocGenerator produces operator-facing documentation for a specification.
type DocGenerator struct {
	outputDir string
	model     llms.Model
	logger    *logging.Logger
}

// NewDocGenerator creates a documentation generator writing under outputDir.
func NewDocGenerator(outputDir string, opts ...Option) *DocGenerator {
	o := newOptions(opts)
	return &DocGenerator{outputDir: outputDir, model: o.model, logger: o.logger}
}

// GenerateDocumentation writes docs/README.md describing the automation.
func (g *DocGenerator) GenerateDocumentation(ctx context.Context, spec *session.ParsedSpec, sess *session.Session) (*session.ArtifactRef, error) {
	sess.IncrementMetric(engine.MetricAgentCalls, 1)

	var content string
	if g.model != nil {
		specJSON, _ := json.MarshalIndent(spec, "", "  ")
		prompt := fmt.Sprintf(
			"Write operator documentation in markdown for this network automation. Cover purpose, target devices, task walkthrough and how to run the playbook.\n\n%s",
			specJSON)
		out, tokens, err := generate(ctx, g.model, prompt)
		if err == nil {
			sess.IncrementMetric(engine.MetricTokensUsed, tokens)
			content = out
		} else {
			g.logger.Warn(ctx, "model documentation failed, using template", zap.Error(err))
		}
	}
	if content == "" {
		content = renderDocumentation(spec)
	}

	path := filepath.Join(g.outputDir, "docs", "README.md")
	if err := writeArtifactFile(path, []byte(content)); err != nil {
		return nil, err
	}

	sess.IncrementMetric(engine.MetricArtifacts, 1)
	g.logger.Info(ctx, "documentation generated", zap.String("path", path))
	return &session.ArtifactRef{Type: engine.ArtifactDocumentation, Path: path}, nil
}

func renderDocumentation(spec *session.ParsedSpec) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n%s\n\n", spec.Name, spec.Description)

	b.WriteString("## Target Devices\n\n| Name | Host | Platform | Group |\n|---|---|---|---|\n")
	for _, d := range spec.TargetDevices {
		fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", d.Name, orDash(d.Host), orDash(d.Platform), orDash(d.Group))
	}

	b.WriteString("\n## Tasks\n\n")
	for i, t := range spec.Tasks {
		fmt.Fprintf(&b, "%d. **%s**", i+1, t.Name)
		if t.Module != "" {
			fmt.Fprintf(&b, " (`%s`)", t.Module)
		}
		b.WriteString("\n")
	}

	if len(spec.Variables) > 0 {
		b.WriteString("\n## Variables\n\n")
		for k, v := range spec.Variables {
			fmt.Fprintf(&b, "- `%s`: %s\n", k, v)
		}
	}

	b.WriteString("\n## Running\n\n```\nansible-playbook -i inventory/hosts.yml playbook.yml\n```\n")
	return b.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
