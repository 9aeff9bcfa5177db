package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/wmstack/workflow-engine/internal/application/service"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"go.uber.org/zap"
)

// DefinitionHandler serves the workflow definition registry endpoints
type DefinitionHandler struct {
	definitions *service.DefinitionService
	steps       *service.StepService
	queries     *service.QueryService
	logger      *zap.Logger
}

// NewDefinitionHandler creates a new definition handler
func NewDefinitionHandler(
	definitions *service.DefinitionService,
	steps *service.StepService,
	queries *service.QueryService,
	logger *zap.Logger,
) *DefinitionHandler {
	return &DefinitionHandler{
		definitions: definitions,
		steps:       steps,
		queries:     queries,
		logger:      logger,
	}
}

// DefinitionResponse is a definition together with its steps
type DefinitionResponse struct {
	Definition *entity.WorkflowDefinition `json:"definition"`
	Steps      []*entity.WorkflowStep     `json:"steps,omitempty"`
}

// Create handles POST /api/v1/definitions
func (h *DefinitionHandler) Create(c *gin.Context) {
	var input service.CreateDefinitionInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	def, steps, err := h.definitions.CreateDefinition(c.Request.Context(), input, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DefinitionResponse{Definition: def, Steps: steps})
}

// List handles GET /api/v1/definitions
func (h *DefinitionHandler) List(c *gin.Context) {
	var query struct {
		EntityType string `form:"entity_type"`
		ActiveOnly bool   `form:"active_only"`
		Limit      int    `form:"limit"`
		Offset     int    `form:"offset"`
	}
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	defs, err := h.definitions.List(c.Request.Context(), query.EntityType, query.ActiveOnly, query.Limit, query.Offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if defs == nil {
		defs = []*entity.WorkflowDefinition{}
	}
	c.JSON(http.StatusOK, gin.H{"definitions": defs})
}

// Get handles GET /api/v1/definitions/:id
func (h *DefinitionHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	def, steps, err := h.definitions.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, DefinitionResponse{Definition: def, Steps: steps})
}

// Delete handles DELETE /api/v1/definitions/:id
func (h *DefinitionHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.definitions.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CreateVersion handles POST /api/v1/definitions/:id/versions
func (h *DefinitionHandler) CreateVersion(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var overrides service.VersionOverrides
	if err := c.ShouldBindJSON(&overrides); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	def, steps, err := h.definitions.CreateNewVersion(c.Request.Context(), id, overrides, actor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, DefinitionResponse{Definition: def, Steps: steps})
}

// Activate handles POST /api/v1/definitions/:id/activate
func (h *DefinitionHandler) Activate(c *gin.Context) {
	h.setActive(c, true)
}

// Deactivate handles POST /api/v1/definitions/:id/deactivate
func (h *DefinitionHandler) Deactivate(c *gin.Context) {
	h.setActive(c, false)
}

func (h *DefinitionHandler) setActive(c *gin.Context, active bool) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	def, err := h.definitions.SetActive(c.Request.Context(), id, active)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, DefinitionResponse{Definition: def})
}

// ListSteps handles GET /api/v1/definitions/:id/steps
func (h *DefinitionHandler) ListSteps(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	steps, err := h.queries.StepsForDefinition(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if steps == nil {
		steps = []*entity.WorkflowStep{}
	}
	c.JSON(http.StatusOK, gin.H{"steps": steps})
}

// AddStep handles POST /api/v1/definitions/:id/steps
func (h *DefinitionHandler) AddStep(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input service.StepInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	step, err := h.steps.AddStep(c.Request.Context(), id, input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"step": step})
}

// UpdateStep handles PATCH /api/v1/definitions/:id/steps/:step_code
func (h *DefinitionHandler) UpdateStep(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	var input service.UpdateStepInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	step, err := h.steps.UpdateStep(c.Request.Context(), id, c.Param("step_code"), input)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"step": step})
}

// RemoveStep handles DELETE /api/v1/definitions/:id/steps/:step_code
func (h *DefinitionHandler) RemoveStep(c *gin.Context) {
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.steps.RemoveStep(c.Request.Context(), id, c.Param("step_code")); err != nil {
		respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// pathID parses a numeric path parameter, responding 400 on garbage
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "invalid " + name + " path parameter",
		})
		return 0, false
	}
	return id, true
}
