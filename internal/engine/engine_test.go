package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fabriclabs/factoryd/internal/session"
)

type mockParser struct{ mock.Mock }

func (m *mockParser) ParseSpecification(ctx context.Context, specPath string, sess *session.Session) (*ParseResult, error) {
	args := m.Called(ctx, specPath, sess)
	res, _ := args.Get(0).(*ParseResult)
	return res, args.Error(1)
}

type mockPlaybooks struct{ mock.Mock }

func (m *mockPlaybooks) GeneratePlaybook(ctx context.Context, spec *session.ParsedSpec, sess *session.Session) (*session.ArtifactRef, error) {
	args := m.Called(ctx, spec, sess)
	ref, _ := args.Get(0).(*session.ArtifactRef)
	return ref, args.Error(1)
}

func (m *mockPlaybooks) RefinePlaybook(ctx context.Context, spec *session.ParsedSpec, current *session.ArtifactRef, instruction string, sess *session.Session) (*session.ArtifactRef, error) {
	args := m.Called(ctx, spec, current, instruction, sess)
	ref, _ := args.Get(0).(*session.ArtifactRef)
	return ref, args.Error(1)
}

type mockDocs struct{ mock.Mock }

func (m *mockDocs) GenerateDocumentation(ctx context.Context, spec *session.ParsedSpec, sess *session.Session) (*session.ArtifactRef, error) {
	args := m.Called(ctx, spec, sess)
	ref, _ := args.Get(0).(*session.ArtifactRef)
	return ref, args.Error(1)
}

type mockReviewer struct{ mock.Mock }

func (m *mockReviewer) ReviewPlaybook(ctx context.Context, playbook *session.ArtifactRef, sess *session.Session) (*session.ReviewReport, error) {
	args := m.Called(ctx, playbook, sess)
	rep, _ := args.Get(0).(*session.ReviewReport)
	return rep, args.Error(1)
}

type mockTests struct{ mock.Mock }

func (m *mockTests) GenerateTests(ctx context.Context, spec *session.ParsedSpec, playbook *session.ArtifactRef, sess *session.Session) (*session.ArtifactRef, error) {
	args := m.Called(ctx, spec, playbook, sess)
	ref, _ := args.Get(0).(*session.ArtifactRef)
	return ref, args.Error(1)
}

type mockPipelines struct{ mock.Mock }

func (m *mockPipelines) GeneratePipeline(ctx context.Context, spec *session.ParsedSpec, artifacts map[string]string, sess *session.Session) (*session.ArtifactRef, error) {
	args := m.Called(ctx, spec, artifacts, sess)
	ref, _ := args.Get(0).(*session.ArtifactRef)
	return ref, args.Error(1)
}

type fixture struct {
	parser    *mockParser
	playbooks *mockPlaybooks
	docs      *mockDocs
	reviewer  *mockReviewer
	tests     *mockTests
	pipelines *mockPipelines

	dir  string
	spec *session.ParsedSpec
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return &fixture{
		parser:    &mockParser{},
		playbooks: &mockPlaybooks{},
		docs:      &mockDocs{},
		reviewer:  &mockReviewer{},
		tests:     &mockTests{},
		pipelines: &mockPipelines{},
		dir:       t.TempDir(),
		spec: &session.ParsedSpec{
			Name:        "vlan-rollout",
			Description: "Roll out VLAN 42 to access switches",
			TargetDevices: []session.TargetDevice{
				{Name: "sw-access-01", Platform: "ios"},
			},
			Tasks: []session.TaskSpec{
				{Name: "configure vlan", Module: "ios_vlans"},
			},
		},
	}
}

func (f *fixture) collaborators() Collaborators {
	return Collaborators{
		Parser:    f.parser,
		Playbooks: f.playbooks,
		Docs:      f.docs,
		Reviewer:  f.reviewer,
		Tests:     f.tests,
		Pipelines: f.pipelines,
	}
}

// artifact writes a real file so the validation phase finds it.
func (f *fixture) artifact(t *testing.T, typ, name string) *session.ArtifactRef {
	t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(t, os.WriteFile(path, []byte("---\n"), 0o600))
	return &session.ArtifactRef{Type: typ, Path: path}
}

func (f *fixture) assertExpectations(t *testing.T) {
	t.Helper()
	f.parser.AssertExpectations(t)
	f.playbooks.AssertExpectations(t)
	f.docs.AssertExpectations(t)
	f.reviewer.AssertExpectations(t)
	f.tests.AssertExpectations(t)
	f.pipelines.AssertExpectations(t)
}

func cleanReview(path string) *session.ReviewReport {
	return &session.ReviewReport{ReportPath: path, QualityScore: 5.0, Passed: true}
}

func criticalReview(path string) *session.ReviewReport {
	return &session.ReviewReport{
		ReportPath: path,
		Issues: []session.Issue{
			{Severity: session.SeverityCritical, Message: "hardcoded credential"},
		},
		CriticalCount: 1,
		QualityScore:  4.0,
	}
}

// stubHappyTail sets up review through pipeline generation for a run that
// needs no refinement.
func (f *fixture) stubHappyTail(t *testing.T) {
	t.Helper()
	review := f.artifact(t, ArtifactCodeReview, "review.md")
	f.reviewer.On("ReviewPlaybook", mock.Anything, mock.Anything, mock.Anything).
		Return(cleanReview(review.Path), nil).Once()
	f.tests.On("GenerateTests", mock.Anything, f.spec, mock.Anything, mock.Anything).
		Return(f.artifact(t, ArtifactTests, "molecule.yml"), nil).Once()
	f.pipelines.On("GeneratePipeline", mock.Anything, f.spec, mock.Anything, mock.Anything).
		Return(f.artifact(t, ArtifactPipeline, "pipeline.yml"), nil).Once()
}

func TestRunHappyPath(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, "spec.yaml", mock.Anything).
		Return(&ParseResult{Valid: true, Spec: f.spec}, nil).Once()
	f.docs.On("GenerateDocumentation", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactDocumentation, "README.md"), nil).Once()
	playbook := f.artifact(t, ArtifactPlaybook, "playbook.yml")
	playbook.Metadata = map[string]string{"inventory": f.artifact(t, ArtifactInventory, "hosts.yml").Path}
	f.playbooks.On("GeneratePlaybook", mock.Anything, f.spec, mock.Anything).
		Return(playbook, nil).Once()
	f.stubHappyTail(t)

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml"})

	assert.True(t, res.Success)
	assert.Equal(t, StateComplete, res.FinalState)
	assert.Empty(t, res.Errors)
	assert.NotEmpty(t, res.RunID)
	assert.Len(t, res.Artifacts, 6)
	assert.Equal(t, playbook.Path, res.Artifacts[ArtifactPlaybook])
	assert.Zero(t, res.Metrics.RefinementIterations)
	f.playbooks.AssertNotCalled(t, "RefinePlaybook", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestRunPreservesCallerRunID(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, "spec.yaml", mock.Anything).
		Return(nil, errors.New("boom")).Once()

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml", RunID: "run-42"})
	assert.Equal(t, "run-42", res.RunID)
}

func TestRunParseFailureStopsWorkflow(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, "bad.yaml", mock.Anything).
		Return(&ParseResult{Valid: false, Err: "missing required field: tasks"}, nil).Once()

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "bad.yaml"})

	assert.False(t, res.Success)
	assert.Equal(t, StateParseFailed, res.FinalState)
	assert.Empty(t, res.Artifacts)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "missing required field: tasks")
	f.playbooks.AssertNotCalled(t, "GeneratePlaybook", mock.Anything, mock.Anything, mock.Anything)
	f.docs.AssertNotCalled(t, "GenerateDocumentation", mock.Anything, mock.Anything, mock.Anything)
	f.reviewer.AssertNotCalled(t, "ReviewPlaybook", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunPlaybookFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, mock.Anything, mock.Anything).
		Return(&ParseResult{Valid: true, Spec: f.spec}, nil).Once()
	f.docs.On("GenerateDocumentation", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactDocumentation, "README.md"), nil).Once()
	f.playbooks.On("GeneratePlaybook", mock.Anything, f.spec, mock.Anything).
		Return(nil, errors.New("model unavailable")).Once()

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml"})

	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, res.FinalState)
	// The documentation branch completed before the join, so its artifact
	// survives in the partial result.
	assert.Contains(t, res.Artifacts, ArtifactDocumentation)
	assert.NotContains(t, res.Artifacts, ArtifactPlaybook)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[len(res.Errors)-1], AgentAnsibleGenerator)
	f.reviewer.AssertNotCalled(t, "ReviewPlaybook", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunDocumentationFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, mock.Anything, mock.Anything).
		Return(&ParseResult{Valid: true, Spec: f.spec}, nil).Once()
	f.docs.On("GenerateDocumentation", mock.Anything, f.spec, mock.Anything).
		Return(nil, errors.New("template render failed")).Once()
	f.playbooks.On("GeneratePlaybook", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactPlaybook, "playbook.yml"), nil).Once()
	f.stubHappyTail(t)

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml"})

	assert.True(t, res.Success)
	assert.Equal(t, StateComplete, res.FinalState)
	assert.NotContains(t, res.Artifacts, ArtifactDocumentation)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], AgentDocumentation)
	f.assertExpectations(t)
}

func TestRunRefinementConverges(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, mock.Anything, mock.Anything).
		Return(&ParseResult{Valid: true, Spec: f.spec}, nil).Once()
	f.docs.On("GenerateDocumentation", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactDocumentation, "README.md"), nil).Once()
	f.playbooks.On("GeneratePlaybook", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactPlaybook, "playbook.yml"), nil).Once()

	reviewPath := f.artifact(t, ArtifactCodeReview, "review.md").Path
	// Initial review critical, first refinement still critical, second clean.
	f.reviewer.On("ReviewPlaybook", mock.Anything, mock.Anything, mock.Anything).
		Return(criticalReview(reviewPath), nil).Twice()
	f.reviewer.On("ReviewPlaybook", mock.Anything, mock.Anything, mock.Anything).
		Return(cleanReview(reviewPath), nil).Once()

	refined := f.artifact(t, ArtifactPlaybook, "playbook_refined.yml")
	f.playbooks.On("RefinePlaybook", mock.Anything, f.spec, mock.Anything, mock.Anything, mock.Anything).
		Return(refined, nil).Twice()

	f.tests.On("GenerateTests", mock.Anything, f.spec, refined, mock.Anything).
		Return(f.artifact(t, ArtifactTests, "molecule.yml"), nil).Once()
	f.pipelines.On("GeneratePipeline", mock.Anything, f.spec, mock.Anything, mock.Anything).
		Return(f.artifact(t, ArtifactPipeline, "pipeline.yml"), nil).Once()

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml"})

	assert.True(t, res.Success)
	assert.Equal(t, StateComplete, res.FinalState)
	assert.Empty(t, res.Errors)
	assert.Equal(t, refined.Path, res.Artifacts[ArtifactPlaybook])
	assert.Equal(t, int64(2), res.Metrics.RefinementIterations)
	f.assertExpectations(t)
}

func TestRunRefinementExhaustedIsWarning(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, mock.Anything, mock.Anything).
		Return(&ParseResult{Valid: true, Spec: f.spec}, nil).Once()
	f.docs.On("GenerateDocumentation", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactDocumentation, "README.md"), nil).Once()
	f.playbooks.On("GeneratePlaybook", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactPlaybook, "playbook.yml"), nil).Once()

	reviewPath := f.artifact(t, ArtifactCodeReview, "review.md").Path
	// Reviewer never clears the critical finding.
	f.reviewer.On("ReviewPlaybook", mock.Anything, mock.Anything, mock.Anything).
		Return(criticalReview(reviewPath), nil)

	refined := f.artifact(t, ArtifactPlaybook, "playbook_refined.yml")
	f.playbooks.On("RefinePlaybook", mock.Anything, f.spec, mock.Anything, mock.Anything, mock.Anything).
		Return(refined, nil).Times(2)

	f.tests.On("GenerateTests", mock.Anything, f.spec, refined, mock.Anything).
		Return(f.artifact(t, ArtifactTests, "molecule.yml"), nil).Once()
	f.pipelines.On("GeneratePipeline", mock.Anything, f.spec, mock.Anything, mock.Anything).
		Return(f.artifact(t, ArtifactPipeline, "pipeline.yml"), nil).Once()

	e, err := New(f.collaborators(), WithMaxIterations(2))
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml"})

	// Exhaustion is recorded but the run still completes.
	assert.True(t, res.Success)
	assert.Equal(t, StateComplete, res.FinalState)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "refinement loop exhausted")
	assert.Contains(t, res.Errors[0], "after 2 iterations")
	assert.Equal(t, int64(2), res.Metrics.RefinementIterations)
	assert.Equal(t, refined.Path, res.Artifacts[ArtifactPlaybook])
	f.playbooks.AssertNumberOfCalls(t, "RefinePlaybook", 2)
	// 1 initial review + 2 in-loop reviews.
	f.reviewer.AssertNumberOfCalls(t, "ReviewPlaybook", 3)
}

func TestRunReviewerFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, mock.Anything, mock.Anything).
		Return(&ParseResult{Valid: true, Spec: f.spec}, nil).Once()
	f.docs.On("GenerateDocumentation", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactDocumentation, "README.md"), nil).Once()
	f.playbooks.On("GeneratePlaybook", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactPlaybook, "playbook.yml"), nil).Once()
	f.reviewer.On("ReviewPlaybook", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("report write failed")).Once()

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml"})

	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, res.FinalState)
	f.tests.AssertNotCalled(t, "GenerateTests", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunValidationFindingsDoNotFailRun(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, mock.Anything, mock.Anything).
		Return(&ParseResult{Valid: true, Spec: f.spec}, nil).Once()
	f.docs.On("GenerateDocumentation", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactDocumentation, "README.md"), nil).Once()
	f.playbooks.On("GeneratePlaybook", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactPlaybook, "playbook.yml"), nil).Once()
	review := f.artifact(t, ArtifactCodeReview, "review.md")
	f.reviewer.On("ReviewPlaybook", mock.Anything, mock.Anything, mock.Anything).
		Return(cleanReview(review.Path), nil).Once()
	f.tests.On("GenerateTests", mock.Anything, f.spec, mock.Anything, mock.Anything).
		Return(f.artifact(t, ArtifactTests, "molecule.yml"), nil).Once()
	// Pipeline path is never written to disk.
	f.pipelines.On("GeneratePipeline", mock.Anything, f.spec, mock.Anything, mock.Anything).
		Return(&session.ArtifactRef{Type: ArtifactPipeline, Path: filepath.Join(f.dir, "missing.yml")}, nil).Once()

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml"})

	assert.True(t, res.Success)
	assert.Equal(t, StateComplete, res.FinalState)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], ArtifactPipeline)
	f.assertExpectations(t)
}

func TestRunRecoversFromCollaboratorPanic(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { panic("parser exploded") }).
		Return(nil, nil).Once()

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml"})

	assert.False(t, res.Success)
	assert.Equal(t, StateFailed, res.FinalState)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "parser exploded")
}

func TestRunRecordsTraceSpans(t *testing.T) {
	f := newFixture(t)
	f.parser.On("ParseSpecification", mock.Anything, mock.Anything, mock.Anything).
		Return(&ParseResult{Valid: true, Spec: f.spec}, nil).Once()
	f.docs.On("GenerateDocumentation", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactDocumentation, "README.md"), nil).Once()
	f.playbooks.On("GeneratePlaybook", mock.Anything, f.spec, mock.Anything).
		Return(f.artifact(t, ArtifactPlaybook, "playbook.yml"), nil).Once()
	f.stubHappyTail(t)

	e, err := New(f.collaborators())
	require.NoError(t, err)

	res := e.Run(context.Background(), Request{SpecPath: "spec.yaml", RunID: "trace-run"})
	require.True(t, res.Success)

	spans := e.Tracer().Trace("trace-run")
	require.Len(t, spans, 6)
	seen := map[string]bool{}
	for _, span := range spans {
		seen[span.Operation] = true
		assert.NotEqual(t, "running", string(span.Status), "span %s should be closed", span.Operation)
	}
	for _, agent := range []string{AgentSpecParser, AgentDocumentation, AgentAnsibleGenerator, AgentCodeReviewer, AgentTestGenerator, AgentPipelineGenerator} {
		assert.True(t, seen[agent], "missing span for %s", agent)
	}
}

func TestNewRejectsMissingCollaborators(t *testing.T) {
	f := newFixture(t)
	collab := f.collaborators()
	collab.Reviewer = nil
	_, err := New(collab)
	assert.Error(t, err)
}

func TestNewRejectsBadBounds(t *testing.T) {
	f := newFixture(t)
	_, err := New(f.collaborators(), WithMaxIterations(-1))
	assert.Error(t, err)
	_, err = New(f.collaborators(), WithKeepRecent(0))
	assert.Error(t, err)
}
