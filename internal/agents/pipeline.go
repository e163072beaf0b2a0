package agents

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/fabriclabs/factoryd/internal/engine"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/session"
)

// Supported CI platforms.
const (
	PlatformGitHubActions = "github_actions"
	PlatformGitLabCI      = "gitlab_ci"
	PlatformJenkins       = "jenkins"
)

// PipelineGenerator produces the CI/CD pipeline definition for the platform
// named in the specification.
type PipelineGenerator struct {
	outputDir string
	logger    *logging.Logger
}

// NewPipelineGenerator creates a pipeline generator writing under outputDir.
func NewPipelineGenerator(outputDir string, opts ...Option) *PipelineGenerator {
	o := newOptions(opts)
	return &PipelineGenerator{outputDir: outputDir, logger: o.logger}
}

// GeneratePipeline writes the pipeline file for the spec's CI platform.
// An empty platform defaults to GitHub Actions; an unknown one is an error.
func (g *PipelineGenerator) GeneratePipeline(ctx context.Context, spec *session.ParsedSpec, artifacts map[string]string, sess *session.Session) (*session.ArtifactRef, error) {
	sess.IncrementMetric(engine.MetricAgentCalls, 1)

	platform := spec.CICD.Platform
	if platform == "" {
		platform = PlatformGitHubActions
	}

	var rel string
	var content string
	switch platform {
	case PlatformGitHubActions:
		rel = filepath.Join(".github", "workflows", "ansible-ci.yml")
		content = githubActionsPipeline(spec)
	case PlatformGitLabCI:
		rel = ".gitlab-ci.yml"
		content = gitlabPipeline(spec)
	case PlatformJenkins:
		rel = "Jenkinsfile"
		content = jenkinsPipeline(spec)
	default:
		return nil, fmt.Errorf("unsupported CI platform %q", platform)
	}

	path := filepath.Join(g.outputDir, rel)
	if err := writeArtifactFile(path, []byte(content)); err != nil {
		return nil, err
	}

	sess.IncrementMetric(engine.MetricArtifacts, 1)
	g.logger.Info(ctx, "pipeline generated",
		zap.String("platform", platform), zap.String("path", path))
	return &session.ArtifactRef{
		Type:     engine.ArtifactPipeline,
		Path:     path,
		Metadata: map[string]string{"platform": platform},
	}, nil
}

func githubActionsPipeline(spec *session.ParsedSpec) string {
	return fmt.Sprintf(`name: %s CI

on:
  push:
    branches: [main]
  pull_request:

jobs:
  lint:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-python@v5
        with:
          python-version: "3.12"
      - run: pip install ansible ansible-lint
      - run: ansible-lint ansible/playbook.yml

  syntax:
    runs-on: ubuntu-latest
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-python@v5
        with:
          python-version: "3.12"
      - run: pip install ansible
      - run: ansible-playbook --syntax-check -i ansible/inventory/hosts.yml ansible/playbook.yml

  test:
    runs-on: ubuntu-latest
    needs: [lint, syntax]
    steps:
      - uses: actions/checkout@v4
      - uses: actions/setup-python@v5
        with:
          python-version: "3.12"
      - run: pip install ansible molecule pytest pyyaml
      - run: pytest tests/
`, spec.Name)
}

func gitlabPipeline(spec *session.ParsedSpec) string {
	return fmt.Sprintf(`# CI pipeline for %s
stages:
  - lint
  - syntax
  - test

image: python:3.12

lint:
  stage: lint
  script:
    - pip install ansible ansible-lint
    - ansible-lint ansible/playbook.yml

syntax:
  stage: syntax
  script:
    - pip install ansible
    - ansible-playbook --syntax-check -i ansible/inventory/hosts.yml ansible/playbook.yml

test:
  stage: test
  script:
    - pip install ansible molecule pytest pyyaml
    - pytest tests/
`, spec.Name)
}

func jenkinsPipeline(spec *session.ParsedSpec) string {
	return fmt.Sprintf(`// CI pipeline for %s
pipeline {
    agent { docker { image 'python:3.12' } }
    stages {
        stage('Lint') {
            steps {
                sh 'pip install ansible ansible-lint'
                sh 'ansible-lint ansible/playbook.yml'
            }
        }
        stage('Syntax') {
            steps {
                sh 'ansible-playbook --syntax-check -i ansible/inventory/hosts.yml ansible/playbook.yml'
            }
        }
        stage('Test') {
            steps {
                sh 'pip install molecule pytest pyyaml'
                sh 'pytest tests/'
            }
        }
    }
}
`, spec.Name)
}
