package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/memorybank"
	"github.com/fabriclabs/factoryd/internal/metrics"
	"github.com/fabriclabs/factoryd/internal/session"
	"github.com/fabriclabs/factoryd/internal/tracing"
)

// Session metric counter names maintained by the engine and its collaborators.
const (
	MetricAgentCalls  = "agent_calls"
	MetricTokensUsed  = "tokens_used"
	MetricRefinements = "refinements"
	MetricArtifacts   = "artifacts"
)

// Context keys the engine writes to the session.
const (
	ContextKeyParsedSpec      = "parsed_spec"
	ContextKeyPlaybook        = "ansible_playbook"
	ContextKeyDocumentation   = "documentation"
	ContextKeyCodeReview      = "code_review"
	ContextKeyRefinedPlaybook = "refined_playbook"
	ContextKeyTests           = "tests"
	ContextKeyPipeline        = "cicd_pipeline"
)

// Engine drives the workflow state machine for automation runs. Safe for
// concurrent Run calls; each run owns its own session.
type Engine struct {
	collab        Collaborators
	maxIterations int
	keepRecent    int
	required      []string

	collector *metrics.Collector
	tracer    *tracing.Tracer
	bank      *memorybank.Bank
	limiter   *rate.Limiter
	logger    *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxIterations bounds the refinement loop. Zero disables refinement
// entirely.
func WithMaxIterations(n int) Option {
	return func(e *Engine) { e.maxIterations = n }
}

// WithKeepRecent sets the context-compaction width used between refinement
// iterations.
func WithKeepRecent(n int) Option {
	return func(e *Engine) { e.keepRecent = n }
}

// WithRequiredArtifacts overrides the artifact types the validation phase
// checks.
func WithRequiredArtifacts(types []string) Option {
	return func(e *Engine) { e.required = types }
}

// WithMetrics attaches a durable metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.collector = c }
}

// WithTracer attaches an execution tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithMemoryBank attaches a memory bank; completed runs are archived there.
func WithMemoryBank(b *memorybank.Bank) Option {
	return func(e *Engine) { e.bank = b }
}

// WithRateLimit throttles collaborator invocations. perSecond <= 0 disables
// limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(e *Engine) {
		if perSecond <= 0 {
			e.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		e.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger sets the engine logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds an Engine. All six collaborators must be set.
func New(collab Collaborators, opts ...Option) (*Engine, error) {
	switch {
	case collab.Parser == nil:
		return nil, fmt.Errorf("engine: parser collaborator is required")
	case collab.Playbooks == nil:
		return nil, fmt.Errorf("engine: playbook generator collaborator is required")
	case collab.Docs == nil:
		return nil, fmt.Errorf("engine: documentation generator collaborator is required")
	case collab.Reviewer == nil:
		return nil, fmt.Errorf("engine: reviewer collaborator is required")
	case collab.Tests == nil:
		return nil, fmt.Errorf("engine: test generator collaborator is required")
	case collab.Pipelines == nil:
		return nil, fmt.Errorf("engine: pipeline generator collaborator is required")
	}

	e := &Engine{
		collab:        collab,
		maxIterations: 3,
		keepRecent:    3,
		required:      []string{ArtifactPlaybook, ArtifactCodeReview, ArtifactTests, ArtifactPipeline},
		tracer:        tracing.New(),
		logger:        logging.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.maxIterations < 0 {
		return nil, fmt.Errorf("engine: max iterations must be non-negative, got %d", e.maxIterations)
	}
	if e.keepRecent < 1 {
		return nil, fmt.Errorf("engine: keep recent must be positive, got %d", e.keepRecent)
	}
	if e.collector == nil {
		c, err := metrics.NewCollector("", e.logger)
		if err != nil {
			return nil, fmt.Errorf("engine: creating in-memory collector: %w", err)
		}
		e.collector = c
	}
	return e, nil
}

// Tracer returns the tracer runs are recorded on.
func (e *Engine) Tracer() *tracing.Tracer { return e.tracer }

// Run executes the full workflow for one request and always returns a result,
// even when a collaborator panics.
func (e *Engine) Run(ctx context.Context, req Request) (res *Result) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	ctx = logging.WithRunID(ctx, req.RunID)
	start := time.Now()

	md := make(map[string]any, len(req.Metadata)+1)
	for k, v := range req.Metadata {
		md[k] = v
	}
	md["spec_path"] = req.SpecPath
	if req.OutputDir != "" {
		md["output_dir"] = req.OutputDir
	}
	sess := session.New(req.RunID, md)

	res = &Result{
		RunID:      req.RunID,
		FinalState: StateInit,
		Artifacts:  make(map[string]string),
	}

	defer func() {
		if r := recover(); r != nil {
			msg := fmt.Sprintf("workflow panic: %v", r)
			e.logger.Error(ctx, "workflow run panicked", zap.Any("panic", r))
			res.Success = false
			res.FinalState = StateFailed
			res.Errors = append(res.Errors, msg)
			res.Metrics = runMetrics(sess)
			res.Duration = time.Since(start)
			e.collector.RecordRequestFailed(req.RunID, msg)
		}
	}()

	e.collector.RecordRequestStarted(req.RunID)
	e.logger.Info(ctx, "workflow run started", zap.String("spec_path", req.SpecPath))

	// Phase 1: parse the specification.
	res.FinalState = StateParsing
	parse, err := e.parse(ctx, req, sess)
	if err != nil {
		return e.fail(ctx, res, sess, start, StateParseFailed, err)
	}
	res.FinalState = StateParsed
	sess.AddContext(ContextKeyParsedSpec, session.SpecValue(parse.Spec))
	e.logger.Info(ctx, "specification parsed",
		zap.String("name", parse.Spec.Name),
		zap.Int("tasks", len(parse.Spec.Tasks)),
		zap.Int("devices", len(parse.Spec.TargetDevices)))

	// Phase 2: documentation and playbook generation run concurrently.
	// Both branches always run to completion; outcomes are judged after
	// the join so a fast documentation failure never cancels playbook
	// generation.
	res.FinalState = StateParallelGen
	playbook, docErr, pbErr := e.generateParallel(ctx, req, parse.Spec, sess, res)
	if docErr != nil {
		// Documentation is best-effort: record and continue.
		e.logger.Warn(ctx, "documentation generation failed", zap.Error(docErr))
		res.Errors = append(res.Errors, docErr.Error())
	}
	if pbErr != nil {
		return e.fail(ctx, res, sess, start, StateFailed, pbErr)
	}

	// Phase 3: review the generated playbook.
	res.FinalState = StateReview
	review, err := e.review(ctx, req.RunID, playbook, sess)
	if err != nil {
		return e.fail(ctx, res, sess, start, StateFailed, err)
	}
	res.Artifacts[ArtifactCodeReview] = review.ReportPath
	sess.AddContext(ContextKeyCodeReview, session.ReviewValue(review))
	e.logger.Info(ctx, "playbook reviewed",
		zap.Int("critical", review.CriticalCount),
		zap.Int("high", review.HighCount),
		zap.Float64("quality_score", review.QualityScore))

	// Phase 4: refinement loop, entered only on critical findings.
	if review.CriticalCount > 0 && e.maxIterations > 0 {
		res.FinalState = StateRefinementLoop
		refined, converged, err := e.refine(ctx, req.RunID, parse.Spec, playbook, review, sess)
		if err != nil {
			return e.fail(ctx, res, sess, start, StateFailed, err)
		}
		playbook = refined
		res.Artifacts[ArtifactPlaybook] = refined.Path
		sess.AddContext(ContextKeyRefinedPlaybook, session.ArtifactValue(refined))
		if !converged {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"%v: critical issues remain after %d iterations", ErrConvergenceExhausted, e.maxIterations))
		}
	}

	// Phase 5: tests.
	res.FinalState = StateTestGen
	tests, err := e.generateTests(ctx, req.RunID, parse.Spec, playbook, sess)
	if err != nil {
		return e.fail(ctx, res, sess, start, StateFailed, err)
	}
	res.Artifacts[ArtifactTests] = tests.Path
	sess.AddContext(ContextKeyTests, session.ArtifactValue(tests))

	// Phase 6: CI/CD pipeline.
	res.FinalState = StatePipelineGen
	pipeline, err := e.generatePipeline(ctx, req.RunID, parse.Spec, res.Artifacts, sess)
	if err != nil {
		return e.fail(ctx, res, sess, start, StateFailed, err)
	}
	res.Artifacts[ArtifactPipeline] = pipeline.Path
	sess.AddContext(ContextKeyPipeline, session.ArtifactValue(pipeline))

	// Phase 7: validation. Findings are advisory and never fail the run.
	res.FinalState = StateValidation
	for _, missing := range e.validateArtifacts(res.Artifacts) {
		e.logger.Warn(ctx, "artifact validation finding", zap.String("artifact", missing.Type))
		res.Errors = append(res.Errors, missing.Error())
	}

	res.FinalState = StateComplete
	res.Success = true
	res.Metrics = runMetrics(sess)
	res.Duration = time.Since(start)
	e.collector.RecordRequestCompleted(req.RunID, res.Duration, len(res.Artifacts))

	sess.SetMetadata("execution_time", res.Duration.Seconds())
	sess.SetMetadata("success", true)
	if e.bank != nil {
		if err := e.bank.Store(ctx, sess.Snapshot()); err != nil {
			e.logger.Warn(ctx, "memory bank store failed", zap.Error(err))
		}
	}

	e.logger.Info(ctx, "workflow run completed",
		zap.Duration("duration", res.Duration),
		zap.Int("artifacts", len(res.Artifacts)),
		zap.Int("warnings", len(res.Errors)))
	return res
}

// fail finalizes a run in a terminal failure state.
func (e *Engine) fail(ctx context.Context, res *Result, sess *session.Session, start time.Time, state State, cause error) *Result {
	e.logger.Error(ctx, "workflow run failed",
		zap.String("state", string(state)), zap.Error(cause))
	res.Success = false
	res.FinalState = state
	res.Errors = append(res.Errors, cause.Error())
	res.Metrics = runMetrics(sess)
	res.Duration = time.Since(start)
	e.collector.RecordRequestFailed(res.RunID, cause.Error())
	return res
}

// invoke wraps a collaborator call with rate limiting, tracing and agent-call
// accounting. The session agent_calls counter is the collaborator's own
// responsibility; the engine records the durable metrics side.
func (e *Engine) invoke(ctx context.Context, runID, agent string, fn func(context.Context) error) error {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
	ctx = logging.WithPhase(ctx, agent)
	e.tracer.StartTrace(ctx, runID, agent)
	start := time.Now()
	err := fn(ctx)
	e.tracer.EndTrace(runID, agent, err == nil)
	e.collector.RecordAgentCall(agent, runID, time.Since(start), err == nil)
	return err
}

func (e *Engine) parse(ctx context.Context, req Request, sess *session.Session) (*ParseResult, error) {
	var parse *ParseResult
	err := e.invoke(ctx, req.RunID, AgentSpecParser, func(ctx context.Context) error {
		var callErr error
		parse, callErr = e.collab.Parser.ParseSpecification(ctx, req.SpecPath, sess)
		return callErr
	})
	if err != nil {
		return nil, &ValidationError{Path: req.SpecPath, Reason: err.Error()}
	}
	if parse == nil || !parse.Valid || parse.Spec == nil {
		reason := "specification rejected"
		if parse != nil && parse.Err != "" {
			reason = parse.Err
		}
		return nil, &ValidationError{Path: req.SpecPath, Reason: reason}
	}
	return parse, nil
}

// generateParallel fans out documentation and playbook generation and joins on
// both. The returned errors are per-branch; the playbook error is fatal to the
// run, the documentation error is not.
func (e *Engine) generateParallel(ctx context.Context, req Request, spec *session.ParsedSpec, sess *session.Session, res *Result) (playbook *session.ArtifactRef, docErr, pbErr error) {
	var doc *session.ArtifactRef
	var g errgroup.Group

	g.Go(func() error {
		docErr = e.invoke(ctx, req.RunID, AgentDocumentation, func(ctx context.Context) error {
			var err error
			doc, err = e.collab.Docs.GenerateDocumentation(ctx, spec, sess)
			return err
		})
		if docErr != nil {
			docErr = &CollaboratorError{Collaborator: AgentDocumentation, Err: docErr}
		}
		return nil
	})

	g.Go(func() error {
		pbErr = e.invoke(ctx, req.RunID, AgentAnsibleGenerator, func(ctx context.Context) error {
			var err error
			playbook, err = e.collab.Playbooks.GeneratePlaybook(ctx, spec, sess)
			return err
		})
		if pbErr != nil {
			pbErr = &CollaboratorError{Collaborator: AgentAnsibleGenerator, Err: pbErr}
		}
		return nil
	})

	// The closures always return nil; Wait is a pure join.
	_ = g.Wait()

	if docErr == nil && doc != nil {
		res.Artifacts[ArtifactDocumentation] = doc.Path
		sess.AddContext(ContextKeyDocumentation, session.ArtifactValue(doc))
	}
	if pbErr == nil && playbook != nil {
		res.Artifacts[ArtifactPlaybook] = playbook.Path
		if inv, ok := playbook.Metadata["inventory"]; ok && inv != "" {
			res.Artifacts[ArtifactInventory] = inv
		}
		sess.AddContext(ContextKeyPlaybook, session.ArtifactValue(playbook))
	}
	return playbook, docErr, pbErr
}

func (e *Engine) review(ctx context.Context, runID string, playbook *session.ArtifactRef, sess *session.Session) (*session.ReviewReport, error) {
	var review *session.ReviewReport
	err := e.invoke(ctx, runID, AgentCodeReviewer, func(ctx context.Context) error {
		var callErr error
		review, callErr = e.collab.Reviewer.ReviewPlaybook(ctx, playbook, sess)
		return callErr
	})
	if err != nil {
		return nil, &CollaboratorError{Collaborator: AgentCodeReviewer, Err: err}
	}
	return review, nil
}

// refine drives the bounded refinement loop: refine, re-review, stop when no
// critical issues remain or the iteration bound is hit. Returns the last
// produced playbook revision either way; converged reports whether criticals
// reached zero. Context is compacted between iterations that continue.
func (e *Engine) refine(ctx context.Context, runID string, spec *session.ParsedSpec, current *session.ArtifactRef, review *session.ReviewReport, sess *session.Session) (_ *session.ArtifactRef, converged bool, _ error) {
	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		e.logger.Info(ctx, "refinement iteration started",
			zap.Int("iteration", iteration),
			zap.Int("critical_issues", review.CriticalCount))
		sess.IncrementMetric(MetricRefinements, 1)

		instruction := refinementInstruction(review, iteration)

		var refined *session.ArtifactRef
		err := e.invoke(ctx, runID, AgentAnsibleGenerator, func(ctx context.Context) error {
			var callErr error
			refined, callErr = e.collab.Playbooks.RefinePlaybook(ctx, spec, current, instruction, sess)
			return callErr
		})
		if err != nil {
			return nil, false, &CollaboratorError{Collaborator: AgentAnsibleGenerator, Err: err}
		}
		current = refined

		next, err := e.review(ctx, runID, refined, sess)
		if err != nil {
			return nil, false, err
		}
		review = next

		if review.CriticalCount == 0 {
			e.logger.Info(ctx, "refinement converged", zap.Int("iterations", iteration))
			return current, true, nil
		}
		sess.CompactContext(e.keepRecent)
	}
	e.logger.Warn(ctx, "refinement exhausted",
		zap.Int("iterations", e.maxIterations),
		zap.Int("critical_issues", review.CriticalCount))
	return current, false, nil
}

func (e *Engine) generateTests(ctx context.Context, runID string, spec *session.ParsedSpec, playbook *session.ArtifactRef, sess *session.Session) (*session.ArtifactRef, error) {
	var tests *session.ArtifactRef
	err := e.invoke(ctx, runID, AgentTestGenerator, func(ctx context.Context) error {
		var callErr error
		tests, callErr = e.collab.Tests.GenerateTests(ctx, spec, playbook, sess)
		return callErr
	})
	if err != nil {
		return nil, &CollaboratorError{Collaborator: AgentTestGenerator, Err: err}
	}
	return tests, nil
}

func (e *Engine) generatePipeline(ctx context.Context, runID string, spec *session.ParsedSpec, artifacts map[string]string, sess *session.Session) (*session.ArtifactRef, error) {
	// Copy so a collaborator cannot mutate the result map.
	snapshot := make(map[string]string, len(artifacts))
	for k, v := range artifacts {
		snapshot[k] = v
	}
	var pipeline *session.ArtifactRef
	err := e.invoke(ctx, runID, AgentPipelineGenerator, func(ctx context.Context) error {
		var callErr error
		pipeline, callErr = e.collab.Pipelines.GeneratePipeline(ctx, spec, snapshot, sess)
		return callErr
	})
	if err != nil {
		return nil, &CollaboratorError{Collaborator: AgentPipelineGenerator, Err: err}
	}
	return pipeline, nil
}

// validateArtifacts checks that every required artifact type is present in the
// map and exists on disk.
func (e *Engine) validateArtifacts(artifacts map[string]string) []*ArtifactMissingError {
	var missing []*ArtifactMissingError
	for _, typ := range e.required {
		path, ok := artifacts[typ]
		if !ok || path == "" {
			missing = append(missing, &ArtifactMissingError{Type: typ})
			continue
		}
		if _, err := os.Stat(path); err != nil {
			missing = append(missing, &ArtifactMissingError{Type: typ, Path: path})
		}
	}
	return missing
}

// refinementInstruction builds the refinement prompt from the open critical
// findings.
func refinementInstruction(review *session.ReviewReport, iteration int) string {
	var criticals []session.Issue
	for _, issue := range review.Issues {
		if issue.Severity == session.SeverityCritical {
			criticals = append(criticals, issue)
		}
	}
	detail, err := json.MarshalIndent(criticals, "", "  ")
	if err != nil {
		detail = []byte(fmt.Sprintf("%d critical issues", review.CriticalCount))
	}
	return fmt.Sprintf(
		"Refinement iteration %d: resolve the following critical issues found during review.\n%s",
		iteration, detail)
}

func runMetrics(sess *session.Session) RunMetrics {
	return RunMetrics{
		AgentCalls:           sess.GetMetric(MetricAgentCalls, 0),
		TokensUsed:           sess.GetMetric(MetricTokensUsed, 0),
		RefinementIterations: sess.GetMetric(MetricRefinements, 0),
		ArtifactsGenerated:   sess.GetMetric(MetricArtifacts, 0),
	}
}
