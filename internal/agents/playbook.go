package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fabriclabs/factoryd/internal/engine"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/session"
)

// PlaybookGenerator produces Ansible playbooks and inventories, and refines
// playbook revisions against review findings.
type PlaybookGenerator struct {
	outputDir string
	model     llms.Model
	logger    *logging.Logger
}

// NewPlaybookGenerator creates a playbook generator writing under outputDir.
func NewPlaybookGenerator(outputDir string, opts ...Option) *PlaybookGenerator {
	o := newOptions(opts)
	return &PlaybookGenerator{outputDir: outputDir, model: o.model, logger: o.logger}
}

// GeneratePlaybook writes ansible/playbook.yml and ansible/inventory/hosts.yml
// for the given specification.
func (g *PlaybookGenerator) GeneratePlaybook(ctx context.Context, spec *session.ParsedSpec, sess *session.Session) (*session.ArtifactRef, error) {
	sess.IncrementMetric(engine.MetricAgentCalls, 1)

	content := g.playbookContent(ctx, spec, sess)

	playbookPath := filepath.Join(g.outputDir, "ansible", "playbook.yml")
	if err := writeArtifactFile(playbookPath, []byte(content)); err != nil {
		return nil, err
	}

	inventoryPath := filepath.Join(g.outputDir, "ansible", "inventory", "hosts.yml")
	if err := writeArtifactFile(inventoryPath, renderInventory(spec)); err != nil {
		return nil, err
	}

	sess.IncrementMetric(engine.MetricArtifacts, 2)
	g.logger.Info(ctx, "playbook generated",
		zap.String("path", playbookPath),
		zap.Int("tasks", len(spec.Tasks)))
	return &session.ArtifactRef{
		Type:     engine.ArtifactPlaybook,
		Path:     playbookPath,
		Metadata: map[string]string{"inventory": inventoryPath},
	}, nil
}

// RefinePlaybook produces a new playbook revision addressing the instruction.
// The revision is written next to the current playbook with a _refined
// suffix; refining an already refined playbook overwrites that revision.
func (g *PlaybookGenerator) RefinePlaybook(ctx context.Context, spec *session.ParsedSpec, current *session.ArtifactRef, instruction string, sess *session.Session) (*session.ArtifactRef, error) {
	sess.IncrementMetric(engine.MetricAgentCalls, 1)

	existing, err := os.ReadFile(current.Path)
	if err != nil {
		return nil, fmt.Errorf("reading playbook %s: %w", current.Path, err)
	}

	var content string
	if g.model != nil {
		prompt := fmt.Sprintf(
			"You are a senior network automation engineer. Revise the Ansible playbook below.\n\n%s\n\nCurrent playbook:\n%s\n\nReturn only the complete revised playbook YAML.",
			instruction, existing)
		out, tokens, genErr := generate(ctx, g.model, prompt)
		if genErr == nil {
			sess.IncrementMetric(engine.MetricTokensUsed, tokens)
			content = out
		} else {
			g.logger.Warn(ctx, "model refinement failed, applying remediations", zap.Error(genErr))
		}
	}
	if content == "" {
		content = remediate(string(existing))
	}

	path := refinedPath(current.Path)
	if err := writeArtifactFile(path, []byte(content)); err != nil {
		return nil, err
	}

	sess.IncrementMetric(engine.MetricArtifacts, 1)
	g.logger.Info(ctx, "playbook refined", zap.String("path", path))
	ref := &session.ArtifactRef{Type: engine.ArtifactPlaybook, Path: path}
	if current.Metadata != nil {
		ref.Metadata = current.Metadata
	}
	return ref, nil
}

func (g *PlaybookGenerator) playbookContent(ctx context.Context, spec *session.ParsedSpec, sess *session.Session) string {
	if g.model != nil {
		specJSON, _ := json.MarshalIndent(spec, "", "  ")
		prompt := fmt.Sprintf(
			"You are a senior network automation engineer. Generate a production-quality Ansible playbook for this specification. Use no_log on tasks handling credentials and vault references for secrets.\n\n%s\n\nReturn only the playbook YAML.",
			specJSON)
		out, tokens, err := generate(ctx, g.model, prompt)
		if err == nil {
			sess.IncrementMetric(engine.MetricTokensUsed, tokens)
			return out
		}
		g.logger.Warn(ctx, "model generation failed, using template", zap.Error(err))
	}
	return renderPlaybook(spec)
}

// renderPlaybook is the deterministic template path.
func renderPlaybook(spec *session.ParsedSpec) string {
	tasks := make([]map[string]any, 0, len(spec.Tasks))
	for _, t := range spec.Tasks {
		task := map[string]any{"name": t.Name}
		module := t.Module
		if module == "" {
			module = "ansible.builtin.debug"
		}
		if len(t.Args) > 0 {
			args := make(map[string]any, len(t.Args))
			for k, v := range t.Args {
				args[k] = v
			}
			task[module] = args
		} else {
			task[module] = nil
		}
		if len(spec.Tags) > 0 {
			task["tags"] = spec.Tags
		}
		tasks = append(tasks, task)
	}

	play := map[string]any{
		"name":         spec.Name,
		"hosts":        "network_devices",
		"gather_facts": false,
		"tasks":        tasks,
	}
	if len(spec.Variables) > 0 {
		play["vars"] = spec.Variables
	}
	if len(spec.Handlers) > 0 {
		handlers := make([]map[string]any, 0, len(spec.Handlers))
		for _, h := range spec.Handlers {
			handler := map[string]any{"name": h.Name}
			if h.Module != "" {
				handler[h.Module] = nil
			}
			handlers = append(handlers, handler)
		}
		play["handlers"] = handlers
	}

	out, err := yaml.Marshal([]any{play})
	if err != nil {
		// map[string]any with string leaves cannot fail to marshal.
		return "---\n"
	}
	return "---\n# " + spec.Description + "\n" + string(out)
}

func renderInventory(spec *session.ParsedSpec) []byte {
	groups := make(map[string]map[string]any)
	for _, d := range spec.TargetDevices {
		group := d.Group
		if group == "" {
			group = "network_devices"
		}
		if groups[group] == nil {
			groups[group] = make(map[string]any)
		}
		host := map[string]any{}
		if d.Host != "" {
			host["ansible_host"] = d.Host
		}
		if d.Platform != "" {
			host["ansible_network_os"] = d.Platform
		}
		groups[group][d.Name] = host
	}

	inventory := make(map[string]any, len(groups))
	for name, hosts := range groups {
		inventory[name] = map[string]any{"hosts": hosts}
	}
	out, err := yaml.Marshal(map[string]any{"all": map[string]any{"children": inventory}})
	if err != nil {
		return []byte("---\n")
	}
	return append([]byte("---\n"), out...)
}

// remediate applies mechanical fixes for the review findings the template
// path can address without a model: vault references for inline credentials
// and forced no_log.
func remediate(content string) string {
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		for _, key := range []string{"password", "secret", "api_key"} {
			prefix := key + ":"
			if strings.HasPrefix(trimmed, prefix) && !strings.Contains(trimmed, "{{ vault_") {
				indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
				lines[i] = fmt.Sprintf("%s%s \"{{ vault_%s }}\"", indent, prefix, key)
			}
		}
		if strings.HasPrefix(trimmed, "no_log:") && strings.Contains(trimmed, "false") {
			indent := line[:len(line)-len(strings.TrimLeft(line, " \t"))]
			lines[i] = indent + "no_log: true"
		}
	}
	return strings.Join(lines, "\n")
}

func refinedPath(current string) string {
	ext := filepath.Ext(current)
	base := strings.TrimSuffix(current, ext)
	if strings.HasSuffix(base, "_refined") {
		return current
	}
	return base + "_refined" + ext
}
