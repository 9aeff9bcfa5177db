package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/wmstack/workflow-engine/internal/application/service"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// InstanceHandler serves the instance lifecycle endpoints
type InstanceHandler struct {
	instances *service.InstanceService
	queries   *service.QueryService
	logger    *zap.Logger
}

// NewInstanceHandler creates a new instance handler
func NewInstanceHandler(instances *service.InstanceService, queries *service.QueryService, logger *zap.Logger) *InstanceHandler {
	return &InstanceHandler{
		instances: instances,
		queries:   queries,
		logger:    logger,
	}
}

// InstanceResponse is an instance, optionally with the step instance the
// operation opened or touched.
type InstanceResponse struct {
	Instance     *entity.WorkflowInstance     `json:"instance"`
	StepInstance *entity.WorkflowStepInstance `json:"step_instance,omitempty"`
}

// Start handles POST /api/v1/instances
func (h *InstanceHandler) Start(c *gin.Context) {
	var input service.StartInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	instance, stepInstance, err := h.instances.Start(c.Request.Context(), input, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, InstanceResponse{Instance: instance, StepInstance: stepInstance})
}

// Get handles GET /api/v1/instances/:id
func (h *InstanceHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	instance, err := h.queries.GetInstance(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, InstanceResponse{Instance: instance})
}

// Transition handles POST /api/v1/instances/:id/transitions
func (h *InstanceHandler) Transition(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input service.TransitionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	input.InstanceID = id

	instance, stepInstance, err := h.instances.Transition(c.Request.Context(), input, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, InstanceResponse{Instance: instance, StepInstance: stepInstance})
}

// Cancel handles POST /api/v1/instances/:id/cancel
func (h *InstanceHandler) Cancel(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&input); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}

	instance, err := h.instances.Cancel(c.Request.Context(), id, input.Reason, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, InstanceResponse{Instance: instance})
}

// UpdateData handles PATCH /api/v1/instances/:id/data
func (h *InstanceHandler) UpdateData(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var patch entity.JSONMap
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	instance, err := h.instances.UpdateData(c.Request.Context(), id, patch, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, InstanceResponse{Instance: instance})
}

// CurrentStep handles GET /api/v1/instances/:id/current-step
func (h *InstanceHandler) CurrentStep(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	view, err := h.queries.CurrentStep(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// History handles GET /api/v1/instances/:id/history
func (h *InstanceHandler) History(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	transitions, err := h.queries.History(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if transitions == nil {
		transitions = []*entity.WorkflowTransition{}
	}
	c.JSON(http.StatusOK, gin.H{"transitions": transitions})
}

// StepInstances handles GET /api/v1/instances/:id/step-instances
func (h *InstanceHandler) StepInstances(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	stepInstances, err := h.queries.StepInstances(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if stepInstances == nil {
		stepInstances = []*entity.WorkflowStepInstance{}
	}
	c.JSON(http.StatusOK, gin.H{"step_instances": stepInstances})
}

// ListForEntity handles GET /api/v1/entities/:entity_type/:entity_id/instances
func (h *InstanceHandler) ListForEntity(c *gin.Context) {
	instances, err := h.queries.InstancesForEntity(c.Request.Context(), c.Param("entity_type"), c.Param("entity_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if instances == nil {
		instances = []*entity.WorkflowInstance{}
	}
	c.JSON(http.StatusOK, gin.H{"instances": instances})
}

// ActiveForEntity handles GET /api/v1/entities/:entity_type/:entity_id/instances/active
func (h *InstanceHandler) ActiveForEntity(c *gin.Context) {
	instance, err := h.queries.ActiveInstanceForEntity(c.Request.Context(), c.Param("entity_type"), c.Param("entity_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	if instance == nil {
		c.JSON(http.StatusOK, gin.H{"instance": nil})
		return
	}
	c.JSON(http.StatusOK, InstanceResponse{Instance: instance})
}
