package engine

import (
	"errors"
	"fmt"
)

// ErrConvergenceExhausted signals that the refinement loop hit its iteration
// bound with critical issues still open. It is recorded on the result as a
// warning, not a run failure.
var ErrConvergenceExhausted = errors.New("refinement loop exhausted")

// ValidationError reports a specification that could not be parsed into a
// usable form.
type ValidationError struct {
	Path   string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("specification invalid: %s", e.Reason)
	}
	return fmt.Sprintf("specification %s invalid: %s", e.Path, e.Reason)
}

// CollaboratorError wraps a failure from a named collaborator so callers can
// tell which phase of the workflow broke.
type CollaboratorError struct {
	Collaborator string
	Err          error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s: %v", e.Collaborator, e.Err)
}

func (e *CollaboratorError) Unwrap() error { return e.Err }

// ArtifactMissingError reports a required artifact the validation phase could
// not account for, either absent from the result map or missing on disk.
type ArtifactMissingError struct {
	Type string
	Path string
}

func (e *ArtifactMissingError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("required artifact %q was not produced", e.Type)
	}
	return fmt.Sprintf("required artifact %q not found at %s", e.Type, e.Path)
}
