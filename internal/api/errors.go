package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
)

// respondError maps the engine's error taxonomy onto HTTP responses. Every
// error carries enough context for the caller to decide the next action:
// validation violations, the actual current state, or the legal next steps.
func respondError(c *gin.Context, err error) {
	var validationErr *workflow.ValidationError
	if errors.As(err, &validationErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":      "validation_failed",
			"message":    validationErr.Error(),
			"violations": validationErr.Violations,
		})
		return
	}

	var notFoundErr *workflow.NotFoundError
	if errors.As(err, &notFoundErr) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":    "not_found",
			"message":  notFoundErr.Error(),
			"resource": notFoundErr.Resource,
		})
		return
	}

	var conflictErr *workflow.ConflictError
	if errors.As(err, &conflictErr) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "conflict",
			"message": conflictErr.Error(),
		})
		return
	}

	var preconditionErr *workflow.PreconditionError
	if errors.As(err, &preconditionErr) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":         "precondition_failed",
			"message":       preconditionErr.Error(),
			"current_state": preconditionErr.CurrentState,
		})
		return
	}

	var transitionErr *workflow.InvalidTransitionError
	if errors.As(err, &transitionErr) {
		legal := transitionErr.LegalNextSteps
		if legal == nil {
			legal = []string{}
		}
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":            "invalid_transition",
			"message":          transitionErr.Error(),
			"from_step_code":   transitionErr.FromStepCode,
			"to_step_code":     transitionErr.ToStepCode,
			"legal_next_steps": legal,
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "unexpected error",
	})
}
