package engine

import (
	"context"

	"github.com/fabriclabs/factoryd/internal/session"
)

// ParseResult is the outcome of specification parsing. Valid distinguishes a
// well-formed-but-rejected spec (Err explains why) from a parser failure,
// which collaborators report through the error return instead.
type ParseResult struct {
	Valid bool
	Spec  *session.ParsedSpec
	Err   string
}

// Parser turns a specification file into a structured automation spec.
type Parser interface {
	ParseSpecification(ctx context.Context, specPath string, sess *session.Session) (*ParseResult, error)
}

// PlaybookGenerator produces the Ansible playbook and inventory, and refines
// an existing playbook against review findings.
type PlaybookGenerator interface {
	GeneratePlaybook(ctx context.Context, spec *session.ParsedSpec, sess *session.Session) (*session.ArtifactRef, error)
	RefinePlaybook(ctx context.Context, spec *session.ParsedSpec, current *session.ArtifactRef, instruction string, sess *session.Session) (*session.ArtifactRef, error)
}

// DocumentationGenerator produces operator-facing documentation.
type DocumentationGenerator interface {
	GenerateDocumentation(ctx context.Context, spec *session.ParsedSpec, sess *session.Session) (*session.ArtifactRef, error)
}

// Reviewer audits a playbook and reports issues by severity.
type Reviewer interface {
	ReviewPlaybook(ctx context.Context, playbook *session.ArtifactRef, sess *session.Session) (*session.ReviewReport, error)
}

// TestGenerator produces the test suite for a playbook.
type TestGenerator interface {
	GenerateTests(ctx context.Context, spec *session.ParsedSpec, playbook *session.ArtifactRef, sess *session.Session) (*session.ArtifactRef, error)
}

// PipelineGenerator produces the CI/CD pipeline definition. The artifacts map
// holds the paths produced so far, keyed by artifact type.
type PipelineGenerator interface {
	GeneratePipeline(ctx context.Context, spec *session.ParsedSpec, artifacts map[string]string, sess *session.Session) (*session.ArtifactRef, error)
}

// Collaborators bundles the six agents a workflow run coordinates. All fields
// are required.
type Collaborators struct {
	Parser    Parser
	Playbooks PlaybookGenerator
	Docs      DocumentationGenerator
	Reviewer  Reviewer
	Tests     TestGenerator
	Pipelines PipelineGenerator
}
