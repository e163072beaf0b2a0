package agents

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/fabriclabs/factoryd/internal/engine"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/session"
)

// SpecParser reads automation specification YAML files and validates them
// into the structured form the generators consume.
type SpecParser struct {
	logger *logging.Logger
}

// NewSpecParser creates a specification parser.
func NewSpecParser(opts ...Option) *SpecParser {
	o := newOptions(opts)
	return &SpecParser{logger: o.logger}
}

// specFile mirrors the on-disk specification layout. Everything lives under
// the automation_spec root key.
type specFile struct {
	AutomationSpec *rawSpec `yaml:"automation_spec"`
}

type rawSpec struct {
	Name          string            `yaml:"name"`
	Description   string            `yaml:"description"`
	TargetDevices []rawDevice       `yaml:"target_devices"`
	Tasks         []rawTask         `yaml:"tasks"`
	Variables     map[string]string `yaml:"variables"`
	Handlers      []rawTask         `yaml:"handlers"`
	Tags          []string          `yaml:"tags"`
	CICD          rawCICD           `yaml:"cicd"`
}

type rawDevice struct {
	Name     string `yaml:"name"`
	Host     string `yaml:"host"`
	Platform string `yaml:"platform"`
	Group    string `yaml:"group"`
}

type rawTask struct {
	Name   string            `yaml:"name"`
	Module string            `yaml:"module"`
	Args   map[string]string `yaml:"args"`
}

type rawCICD struct {
	Platform string `yaml:"platform"`
}

// ParseSpecification loads and validates the specification at specPath.
// Structural problems (bad YAML, missing required fields) produce an invalid
// ParseResult with the reason in Err; only I/O failures surface as errors.
func (p *SpecParser) ParseSpecification(ctx context.Context, specPath string, sess *session.Session) (*engine.ParseResult, error) {
	sess.IncrementMetric(engine.MetricAgentCalls, 1)

	content, err := os.ReadFile(specPath)
	if err != nil {
		return nil, fmt.Errorf("reading specification %s: %w", specPath, err)
	}
	sess.IncrementMetric(engine.MetricTokensUsed, estimateTokens(string(content)))

	var file specFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return &engine.ParseResult{Valid: false, Err: fmt.Sprintf("invalid YAML: %v", err)}, nil
	}
	if file.AutomationSpec == nil {
		return &engine.ParseResult{Valid: false, Err: "missing automation_spec root key"}, nil
	}

	if problems := validateSpec(file.AutomationSpec); len(problems) > 0 {
		p.logger.Warn(ctx, "specification rejected",
			zap.String("path", specPath),
			zap.Strings("problems", problems))
		return &engine.ParseResult{Valid: false, Err: strings.Join(problems, "; ")}, nil
	}

	raw := file.AutomationSpec
	spec := &session.ParsedSpec{
		Name:        raw.Name,
		Description: raw.Description,
		Variables:   raw.Variables,
		Tags:        raw.Tags,
		CICD:        session.CICDSpec{Platform: raw.CICD.Platform},
	}
	for _, d := range raw.TargetDevices {
		spec.TargetDevices = append(spec.TargetDevices, session.TargetDevice{
			Name: d.Name, Host: d.Host, Platform: d.Platform, Group: d.Group,
		})
	}
	for _, t := range raw.Tasks {
		spec.Tasks = append(spec.Tasks, session.TaskSpec{Name: t.Name, Module: t.Module, Args: t.Args})
	}
	for _, h := range raw.Handlers {
		spec.Handlers = append(spec.Handlers, session.TaskSpec{Name: h.Name, Module: h.Module, Args: h.Args})
	}

	p.logger.Info(ctx, "specification parsed",
		zap.String("name", spec.Name),
		zap.Int("devices", len(spec.TargetDevices)),
		zap.Int("tasks", len(spec.Tasks)))
	return &engine.ParseResult{Valid: true, Spec: spec}, nil
}

func validateSpec(raw *rawSpec) []string {
	var problems []string
	if strings.TrimSpace(raw.Name) == "" {
		problems = append(problems, "missing required field: name")
	}
	if strings.TrimSpace(raw.Description) == "" {
		problems = append(problems, "missing required field: description")
	}
	if len(raw.TargetDevices) == 0 {
		problems = append(problems, "missing required field: target_devices")
	}
	if len(raw.Tasks) == 0 {
		problems = append(problems, "missing required field: tasks")
	}
	for i, d := range raw.TargetDevices {
		if strings.TrimSpace(d.Name) == "" {
			problems = append(problems, fmt.Sprintf("target_devices[%d]: missing name", i))
		}
	}
	for i, t := range raw.Tasks {
		if strings.TrimSpace(t.Name) == "" {
			problems = append(problems, fmt.Sprintf("tasks[%d]: missing name", i))
		}
	}
	return problems
}
