// Package tracing records hierarchical spans per workflow run.
//
// The recorded span list is the inspection surface for a run; when an
// OpenTelemetry tracer is configured each span is additionally exported
// through it.
package tracing

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Status of a recorded span.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Span is one named, timed interval within a run.
type Span struct {
	Operation string    `json:"operation"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time,omitempty"`
	Status    Status    `json:"status"`

	otel oteltrace.Span
}

// Tracer records spans keyed by run id.
type Tracer struct {
	mu     sync.Mutex
	traces map[string][]*Span
	otel   oteltrace.Tracer
}

// Option configures a Tracer.
type Option func(*Tracer)

// WithOtelTracer mirrors every recorded span onto the given OpenTelemetry
// tracer.
func WithOtelTracer(t oteltrace.Tracer) Option {
	return func(tr *Tracer) { tr.otel = t }
}

// New creates an empty tracer.
func New(opts ...Option) *Tracer {
	t := &Tracer{traces: make(map[string][]*Span)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// StartTrace opens a span for the operation under the run id. Multiple
// concurrent spans with the same operation name are allowed; nested and
// retried calls each open their own span.
func (t *Tracer) StartTrace(ctx context.Context, runID, operation string) {
	span := &Span{
		Operation: operation,
		StartTime: time.Now(),
		Status:    StatusRunning,
	}
	if t.otel != nil {
		_, span.otel = t.otel.Start(ctx, operation,
			oteltrace.WithAttributes(attribute.String("run_id", runID)))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.traces[runID] = append(t.traces[runID], span)
}

// EndTrace closes the innermost still-running span with the matching
// operation name, scanning newest to oldest. Parallel or retried calls to
// the same operation therefore close LIFO. Unknown run ids and operations
// with no open span are silent no-ops.
func (t *Tracer) EndTrace(runID, operation string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	spans := t.traces[runID]
	for i := len(spans) - 1; i >= 0; i-- {
		s := spans[i]
		if s.Operation != operation || s.Status != StatusRunning {
			continue
		}
		s.EndTime = time.Now()
		if success {
			s.Status = StatusCompleted
		} else {
			s.Status = StatusFailed
		}
		if s.otel != nil {
			if !success {
				s.otel.SetStatus(codes.Error, operation+" failed")
			}
			s.otel.End()
		}
		return
	}
}

// Trace returns the full ordered span list for the run, open and closed.
func (t *Tracer) Trace(runID string) []Span {
	t.mu.Lock()
	defer t.mu.Unlock()

	spans := t.traces[runID]
	out := make([]Span, len(spans))
	for i, s := range spans {
		out[i] = *s
	}
	return out
}
