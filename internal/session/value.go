package session

// Kind discriminates the payload carried by a Value. The set is closed: these
// are the only payload shapes that flow between workflow phases.
type Kind string

const (
	KindText     Kind = "text"
	KindSpec     Kind = "parsed_spec"
	KindArtifact Kind = "artifact"
	KindReview   Kind = "review"
	KindCounters Kind = "counters"
)

// Value is a tagged union of the payload kinds produced by collaborators.
// Exactly one payload field is set, matching Kind.
type Value struct {
	Kind     Kind             `json:"kind"`
	Text     string           `json:"text,omitempty"`
	Spec     *ParsedSpec      `json:"spec,omitempty"`
	Artifact *ArtifactRef     `json:"artifact,omitempty"`
	Review   *ReviewReport    `json:"review,omitempty"`
	Counters map[string]int64 `json:"counters,omitempty"`
}

// TextValue wraps a plain string payload.
func TextValue(s string) Value { return Value{Kind: KindText, Text: s} }

// SpecValue wraps a parsed specification payload.
func SpecValue(s *ParsedSpec) Value { return Value{Kind: KindSpec, Spec: s} }

// ArtifactValue wraps an artifact descriptor payload.
func ArtifactValue(a *ArtifactRef) Value { return Value{Kind: KindArtifact, Artifact: a} }

// ReviewValue wraps a review report payload.
func ReviewValue(r *ReviewReport) Value { return Value{Kind: KindReview, Review: r} }

// CountersValue wraps a metrics snapshot payload.
func CountersValue(c map[string]int64) Value { return Value{Kind: KindCounters, Counters: c} }

// ParsedSpec is the validated form of an automation specification, produced by
// the parser and consumed by every generator.
type ParsedSpec struct {
	Name          string            `json:"name"`
	Description   string            `json:"description"`
	TargetDevices []TargetDevice    `json:"target_devices"`
	Tasks         []TaskSpec        `json:"tasks"`
	Variables     map[string]string `json:"variables,omitempty"`
	Handlers      []TaskSpec        `json:"handlers,omitempty"`
	Tags          []string          `json:"tags,omitempty"`
	CICD          CICDSpec          `json:"cicd"`
}

// TargetDevice identifies a managed host in the specification.
type TargetDevice struct {
	Name     string `json:"name"`
	Host     string `json:"host,omitempty"`
	Platform string `json:"platform,omitempty"`
	Group    string `json:"group,omitempty"`
}

// TaskSpec is a single automation task from the specification.
type TaskSpec struct {
	Name   string            `json:"name"`
	Module string            `json:"module,omitempty"`
	Args   map[string]string `json:"args,omitempty"`
}

// CICDSpec selects the CI platform for pipeline generation.
type CICDSpec struct {
	Platform string `json:"platform,omitempty"`
}

// ArtifactRef describes a generated artifact on disk.
type ArtifactRef struct {
	Type     string            `json:"type"`
	Path     string            `json:"path"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Severity grades a review finding.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
)

// Issue is a single review finding.
type Issue struct {
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
	Source   string   `json:"source,omitempty"`
}

// ReviewReport aggregates the reviewer's findings for one playbook revision.
type ReviewReport struct {
	ReportPath    string  `json:"report_path"`
	Issues        []Issue `json:"issues"`
	CriticalCount int     `json:"critical_count"`
	HighCount     int     `json:"high_count"`
	MediumCount   int     `json:"medium_count"`
	LowCount      int     `json:"low_count"`
	QualityScore  float64 `json:"quality_score"`
	Passed        bool    `json:"passed"`
}
