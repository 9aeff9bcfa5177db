package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wmstack/workflow-engine/internal/application/service"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// StepInstanceHandler serves the step execution and approval endpoints
type StepInstanceHandler struct {
	approvals *service.ApprovalService
	queries   *service.QueryService
	logger    *zap.Logger
}

// NewStepInstanceHandler creates a new step instance handler
func NewStepInstanceHandler(approvals *service.ApprovalService, queries *service.QueryService, logger *zap.Logger) *StepInstanceHandler {
	return &StepInstanceHandler{
		approvals: approvals,
		queries:   queries,
		logger:    logger,
	}
}

// Update handles PATCH /api/v1/step-instances/:id
func (h *StepInstanceHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input service.UpdateStepInstanceInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	stepInstance, err := h.approvals.UpdateStepInstance(c.Request.Context(), id, input, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"step_instance": stepInstance})
}

// RecordApproval handles POST /api/v1/step-instances/:id/approvals
func (h *StepInstanceHandler) RecordApproval(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input service.RecordApprovalInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	input.StepInstanceID = id
	if input.ApproverID == "" {
		input.ApproverID = actor(c)
	}

	approval, err := h.approvals.RecordApproval(c.Request.Context(), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"approval": approval})
}

// ListApprovals handles GET /api/v1/step-instances/:id/approvals
func (h *StepInstanceHandler) ListApprovals(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	approvals, err := h.queries.Approvals(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if approvals == nil {
		approvals = []*entity.WorkflowApproval{}
	}
	c.JSON(http.StatusOK, gin.H{"approvals": approvals})
}

// ApprovalSummary handles GET /api/v1/step-instances/:id/approvals/summary
func (h *StepInstanceHandler) ApprovalSummary(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	summary, err := h.approvals.ApprovalSummary(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}
