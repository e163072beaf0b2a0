package agents

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fabriclabs/factoryd/internal/engine"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/session"
)

// TestGenerator produces a Molecule scenario and a pytest smoke test for a
// generated playbook.
type TestGenerator struct {
	outputDir string
	logger    *logging.Logger
}

// NewTestGenerator creates a test generator writing under outputDir.
func NewTestGenerator(outputDir string, opts ...Option) *TestGenerator {
	o := newOptions(opts)
	return &TestGenerator{outputDir: outputDir, logger: o.logger}
}

// GenerateTests writes the test suite under tests/ and returns a reference to
// the suite directory. The individual files are listed in the artifact
// metadata.
func (g *TestGenerator) GenerateTests(ctx context.Context, spec *session.ParsedSpec, playbook *session.ArtifactRef, sess *session.Session) (*session.ArtifactRef, error) {
	sess.IncrementMetric(engine.MetricAgentCalls, 1)

	dir := filepath.Join(g.outputDir, "tests")
	moleculePath := filepath.Join(dir, "molecule.yml")
	verifyPath := filepath.Join(dir, "verify.yml")
	pytestPath := filepath.Join(dir, "test_playbook.py")

	if err := writeArtifactFile(moleculePath, renderMolecule(spec)); err != nil {
		return nil, err
	}
	if err := writeArtifactFile(verifyPath, renderVerify(spec)); err != nil {
		return nil, err
	}
	if err := writeArtifactFile(pytestPath, renderPytest(playbook)); err != nil {
		return nil, err
	}

	sess.IncrementMetric(engine.MetricArtifacts, 3)
	g.logger.Info(ctx, "tests generated", zap.String("dir", dir))
	return &session.ArtifactRef{
		Type: engine.ArtifactTests,
		Path: dir,
		Metadata: map[string]string{
			"molecule": moleculePath,
			"verify":   verifyPath,
			"pytest":   pytestPath,
		},
	}, nil
}

func renderMolecule(spec *session.ParsedSpec) []byte {
	var b strings.Builder
	b.WriteString("---\n")
	fmt.Fprintf(&b, "# Molecule scenario for %s\n", spec.Name)
	b.WriteString(`driver:
  name: default
platforms:
`)
	for _, d := range spec.TargetDevices {
		fmt.Fprintf(&b, "  - name: %s\n", d.Name)
	}
	b.WriteString(`provisioner:
  name: ansible
  playbooks:
    converge: ../ansible/playbook.yml
verifier:
  name: ansible
`)
	return []byte(b.String())
}

func renderVerify(spec *session.ParsedSpec) []byte {
	var b strings.Builder
	b.WriteString("---\n- name: Verify\n  hosts: all\n  gather_facts: false\n  tasks:\n")
	for _, t := range spec.Tasks {
		fmt.Fprintf(&b, "    - name: \"Assert outcome of: %s\"\n", t.Name)
		b.WriteString("      ansible.builtin.assert:\n        that:\n          - true\n")
		fmt.Fprintf(&b, "        fail_msg: \"task %q did not converge\"\n", t.Name)
	}
	return []byte(b.String())
}

func renderPytest(playbook *session.ArtifactRef) []byte {
	return []byte(fmt.Sprintf(`"""Smoke tests for the generated playbook."""
import os

import yaml

PLAYBOOK = %q


def test_playbook_exists():
    assert os.path.isfile(PLAYBOOK)


def test_playbook_is_valid_yaml():
    with open(PLAYBOOK) as fh:
        plays = yaml.safe_load(fh)
    assert isinstance(plays, list) and plays


def test_plays_have_tasks():
    with open(PLAYBOOK) as fh:
        plays = yaml.safe_load(fh)
    for play in plays:
        assert play.get("tasks"), "play without tasks"
`, playbook.Path))
}
