// Package engine implements the workflow orchestration for one automation
// run: phase sequencing, the parallel generation fan-out, the bounded
// refinement loop, and result assembly.
package engine

import "time"

// State names the phases of the workflow state machine. PARSE_FAILED,
// COMPLETE and FAILED are terminal.
type State string

const (
	StateInit           State = "INIT"
	StateParsing        State = "PARSING"
	StateParseFailed    State = "PARSE_FAILED"
	StateParsed         State = "PARSED"
	StateParallelGen    State = "PARALLEL_GEN"
	StateReview         State = "REVIEW"
	StateRefinementLoop State = "REFINEMENT_LOOP"
	StateTestGen        State = "TEST_GEN"
	StatePipelineGen    State = "PIPELINE_GEN"
	StateValidation     State = "VALIDATION"
	StateComplete       State = "COMPLETE"
	StateFailed         State = "FAILED"
)

// Artifact-type keys in the result artifact map.
const (
	ArtifactPlaybook      = "ansible_playbook"
	ArtifactInventory     = "inventory"
	ArtifactDocumentation = "documentation"
	ArtifactCodeReview    = "code_review"
	ArtifactTests         = "tests"
	ArtifactPipeline      = "cicd_pipeline"
)

// Collaborator names, used for agent-call metrics and traces.
const (
	AgentSpecParser        = "spec_parser"
	AgentAnsibleGenerator  = "ansible_generator"
	AgentDocumentation     = "documentation_agent"
	AgentCodeReviewer      = "code_reviewer"
	AgentTestGenerator     = "test_generator"
	AgentPipelineGenerator = "cicd_agent"
)

// Request is the immutable input for one workflow run.
type Request struct {
	// SpecPath locates the automation specification YAML.
	SpecPath string

	// OutputDir is the root for generated artifacts.
	OutputDir string

	// RunID uniquely identifies the run. Generated when empty.
	RunID string

	// Metadata is free-form caller context recorded on the session.
	Metadata map[string]string
}

// RunMetrics is the aggregated session-counter snapshot attached to a result.
type RunMetrics struct {
	AgentCalls           int64 `json:"agent_calls"`
	TokensUsed           int64 `json:"tokens_used"`
	RefinementIterations int64 `json:"refinement_iterations"`
	ArtifactsGenerated   int64 `json:"artifacts_generated"`
}

// Result is produced exactly once per run and immutable after Run returns.
//
// Success reflects phase completion only. Validation findings and degraded
// outcomes (missing documentation, unresolved critical issues) appear in
// Errors without flipping Success, so callers should inspect Errors even on
// successful runs.
type Result struct {
	RunID      string            `json:"run_id"`
	Success    bool              `json:"success"`
	FinalState State             `json:"final_state"`
	Artifacts  map[string]string `json:"artifacts"`
	Errors     []string          `json:"errors"`
	Metrics    RunMetrics        `json:"metrics"`
	Duration   time.Duration     `json:"duration"`
}
