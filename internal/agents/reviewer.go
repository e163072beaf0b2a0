package agents

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fabriclabs/factoryd/internal/engine"
	"github.com/fabriclabs/factoryd/internal/logging"
	"github.com/fabriclabs/factoryd/internal/session"
)

// Reviewer audits playbooks with a rule table covering the security and
// quality findings that matter for network automation: inline credentials,
// disabled output masking and non-idempotent task patterns.
type Reviewer struct {
	outputDir string
	logger    *logging.Logger
}

// NewReviewer creates a reviewer writing reports under outputDir.
func NewReviewer(outputDir string, opts ...Option) *Reviewer {
	o := newOptions(opts)
	return &Reviewer{outputDir: outputDir, logger: o.logger}
}

// reviewRule is one line-matching audit rule.
type reviewRule struct {
	match    func(trimmed string) bool
	severity session.Severity
	message  string
}

var reviewRules = []reviewRule{
	{
		match: func(s string) bool {
			for _, key := range []string{"password:", "secret:", "api_key:"} {
				if strings.HasPrefix(s, key) && !strings.Contains(s, "{{ vault_") {
					return true
				}
			}
			return false
		},
		severity: session.SeverityCritical,
		message:  "hardcoded credential, use an Ansible Vault reference",
	},
	{
		match:    func(s string) bool { return strings.HasPrefix(s, "no_log:") && strings.Contains(s, "false") },
		severity: session.SeverityHigh,
		message:  "no_log disabled on a task that may handle credentials",
	},
	{
		match: func(s string) bool {
			return strings.HasPrefix(s, "shell:") || strings.HasPrefix(s, "command:") ||
				strings.HasPrefix(s, "ansible.builtin.shell:") || strings.HasPrefix(s, "ansible.builtin.command:")
		},
		severity: session.SeverityMedium,
		message:  "raw shell/command task, prefer an idempotent module",
	},
	{
		match:    func(s string) bool { return strings.HasPrefix(s, "become:") && strings.Contains(s, "true") },
		severity: session.SeverityMedium,
		message:  "privilege escalation enabled, scope it with become_user",
	},
	{
		match:    func(s string) bool { return strings.HasPrefix(s, "ignore_errors:") && strings.Contains(s, "true") },
		severity: session.SeverityLow,
		message:  "ignore_errors masks task failures",
	},
}

// Severity weights subtracted from the 5.0 baseline quality score.
var severityWeights = map[session.Severity]float64{
	session.SeverityCritical: 1.0,
	session.SeverityHigh:     0.5,
	session.SeverityMedium:   0.25,
	session.SeverityLow:      0.1,
}

// ReviewPlaybook audits the playbook and writes a markdown report under
// reviews/. A playbook passes when it has no critical findings.
func (r *Reviewer) ReviewPlaybook(ctx context.Context, playbook *session.ArtifactRef, sess *session.Session) (*session.ReviewReport, error) {
	sess.IncrementMetric(engine.MetricAgentCalls, 1)

	content, err := os.ReadFile(playbook.Path)
	if err != nil {
		return nil, fmt.Errorf("reading playbook %s: %w", playbook.Path, err)
	}

	report := &session.ReviewReport{QualityScore: 5.0}
	for lineNo, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		for _, rule := range reviewRules {
			if !rule.match(trimmed) {
				continue
			}
			report.Issues = append(report.Issues, session.Issue{
				Severity: rule.severity,
				Message:  rule.message,
				Source:   fmt.Sprintf("%s:%d", filepath.Base(playbook.Path), lineNo+1),
			})
			switch rule.severity {
			case session.SeverityCritical:
				report.CriticalCount++
			case session.SeverityHigh:
				report.HighCount++
			case session.SeverityMedium:
				report.MediumCount++
			case session.SeverityLow:
				report.LowCount++
			}
			report.QualityScore -= severityWeights[rule.severity]
		}
	}
	if report.QualityScore < 0 {
		report.QualityScore = 0
	}
	report.Passed = report.CriticalCount == 0

	reportPath := filepath.Join(r.outputDir, "reviews",
		strings.TrimSuffix(filepath.Base(playbook.Path), filepath.Ext(playbook.Path))+"_review.md")
	if err := writeArtifactFile(reportPath, renderReviewReport(playbook, report)); err != nil {
		return nil, err
	}
	report.ReportPath = reportPath

	sess.IncrementMetric(engine.MetricArtifacts, 1)
	r.logger.Info(ctx, "playbook reviewed",
		zap.String("playbook", playbook.Path),
		zap.Int("findings", len(report.Issues)),
		zap.Float64("quality_score", report.QualityScore),
		zap.Bool("passed", report.Passed))
	return report, nil
}

func renderReviewReport(playbook *session.ArtifactRef, report *session.ReviewReport) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# Code Review: %s\n\n", filepath.Base(playbook.Path))
	fmt.Fprintf(&b, "Reviewed: %s\n\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "Quality score: %.2f / 5.00\n\n", report.QualityScore)
	fmt.Fprintf(&b, "| Severity | Count |\n|---|---|\n")
	fmt.Fprintf(&b, "| critical | %d |\n", report.CriticalCount)
	fmt.Fprintf(&b, "| high | %d |\n", report.HighCount)
	fmt.Fprintf(&b, "| medium | %d |\n", report.MediumCount)
	fmt.Fprintf(&b, "| low | %d |\n\n", report.LowCount)

	if len(report.Issues) == 0 {
		b.WriteString("No findings.\n")
	} else {
		b.WriteString("## Findings\n\n")
		for _, issue := range report.Issues {
			fmt.Fprintf(&b, "- **%s** (%s): %s\n", issue.Severity, issue.Source, issue.Message)
		}
	}
	return []byte(b.String())
}
