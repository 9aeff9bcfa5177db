package workflow

import (
	"fmt"
	"strings"
)

// ValidationError reports malformed input to a mutating call, e.g. a
// definition with no end step or a rule with an unknown operator. The caller
// must correct the input; retrying unchanged input cannot succeed.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

// NewValidationError creates a validation error from individual violations
func NewValidationError(violations ...string) *ValidationError {
	return &ValidationError{Violations: violations}
}

// PreconditionError reports an operation attempted against a resource in the
// wrong state. CurrentState carries the actual state so the caller can decide
// the next action without another query.
type PreconditionError struct {
	Resource     string
	ID           string
	CurrentState string
	Message      string
}

func (e *PreconditionError) Error() string {
	if e.CurrentState != "" {
		return fmt.Sprintf("%s %s: %s (current state: %s)", e.Resource, e.ID, e.Message, e.CurrentState)
	}
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Message)
}

// InvalidTransitionError reports a normal transition whose target is not in
// the legal set computed from the current step's rules. LegalNextSteps is
// included so a caller (typically a UI) can present the valid choices.
type InvalidTransitionError struct {
	FromStepCode   string
	ToStepCode     string
	LegalNextSteps []string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("transition from %q to %q is not permitted; legal next steps: [%s]",
		e.FromStepCode, e.ToStepCode, strings.Join(e.LegalNextSteps, ", "))
}

// ConflictError reports a uniqueness or referential violation: duplicate
// approval vote, second start step, deleting a referenced step, an existing
// active instance for the entity, or a lost concurrent-update race. The
// caller must re-read state before retrying.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// NewConflictError creates a conflict error
func NewConflictError(format string, args ...interface{}) *ConflictError {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown definition, step, instance or step
// instance id.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// NewNotFoundError creates a not-found error
func NewNotFoundError(resource string, id interface{}) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: fmt.Sprintf("%v", id)}
}
