package logging

import (
	"context"

	"go.uber.org/zap"
)

type contextKey int

const (
	runIDKey contextKey = iota
	phaseKey
)

// WithRunID attaches a workflow run id to the context so that every log entry
// emitted under it carries a run_id field.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID returns the run id attached to the context, or "" when absent.
func RunID(ctx context.Context) string {
	if v, ok := ctx.Value(runIDKey).(string); ok {
		return v
	}
	return ""
}

// WithPhase attaches the current workflow phase name to the context.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, phaseKey, phase)
}

// ContextFields extracts log fields from the context.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if v, ok := ctx.Value(runIDKey).(string); ok && v != "" {
		fields = append(fields, zap.String("run_id", v))
	}
	if v, ok := ctx.Value(phaseKey).(string); ok && v != "" {
		fields = append(fields, zap.String("phase", v))
	}
	return fields
}
