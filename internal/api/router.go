package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wmstack/workflow-engine/internal/application/service"
	"go.uber.org/zap"
)

// Services bundles the application services the router exposes
type Services struct {
	Definitions *service.DefinitionService
	Steps       *service.StepService
	Instances   *service.InstanceService
	Approvals   *service.ApprovalService
	Queries     *service.QueryService
}

// NewRouter builds the HTTP router with all workflow endpoints mounted
// under /api/v1.
func NewRouter(services Services, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(Recovery(logger), RequestLogger(logger), CORS())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	definitions := NewDefinitionHandler(services.Definitions, services.Steps, services.Queries, logger)
	instances := NewInstanceHandler(services.Instances, services.Queries, logger)
	stepInstances := NewStepInstanceHandler(services.Approvals, services.Queries, logger)

	v1 := router.Group("/api/v1")
	{
		defs := v1.Group("/definitions")
		{
			defs.POST("", definitions.Create)
			defs.GET("", definitions.List)
			defs.GET("/:id", definitions.Get)
			defs.DELETE("/:id", definitions.Delete)
			defs.POST("/:id/versions", definitions.CreateVersion)
			defs.POST("/:id/activate", definitions.Activate)
			defs.POST("/:id/deactivate", definitions.Deactivate)
			defs.GET("/:id/steps", definitions.ListSteps)
			defs.POST("/:id/steps", definitions.AddStep)
			defs.PATCH("/:id/steps/:step_code", definitions.UpdateStep)
			defs.DELETE("/:id/steps/:step_code", definitions.RemoveStep)
		}

		insts := v1.Group("/instances")
		{
			insts.POST("", instances.Start)
			insts.GET("/:id", instances.Get)
			insts.POST("/:id/transitions", instances.Transition)
			insts.POST("/:id/cancel", instances.Cancel)
			insts.PATCH("/:id/data", instances.UpdateData)
			insts.GET("/:id/current-step", instances.CurrentStep)
			insts.GET("/:id/history", instances.History)
			insts.GET("/:id/step-instances", instances.StepInstances)
		}

		entities := v1.Group("/entities/:entity_type/:entity_id")
		{
			entities.GET("/instances", instances.ListForEntity)
			entities.GET("/instances/active", instances.ActiveForEntity)
		}

		sis := v1.Group("/step-instances")
		{
			sis.PATCH("/:id", stepInstances.Update)
			sis.POST("/:id/approvals", stepInstances.RecordApproval)
			sis.GET("/:id/approvals", stepInstances.ListApprovals)
			sis.GET("/:id/approvals/summary", stepInstances.ApprovalSummary)
		}
	}

	return router
}
