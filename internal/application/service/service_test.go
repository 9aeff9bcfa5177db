package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
	"github.com/wmstack/workflow-engine/internal/infrastructure/persistence/repository"
	"github.com/wmstack/workflow-engine/migrations"
	"github.com/wmstack/workflow-engine/pkg/database"
	"go.uber.org/zap"
)

// testEnv wires the full service stack against a throwaway SQLite database
type testEnv struct {
	db *database.DB

	definitionRepo   port.DefinitionRepository
	stepRepo         port.StepRepository
	instanceRepo     port.InstanceRepository
	stepInstanceRepo port.StepInstanceRepository
	transitionRepo   port.TransitionRepository
	approvalRepo     port.ApprovalRepository

	definitions *DefinitionService
	steps       *StepService
	instances   *InstanceService
	approvals   *ApprovalService
	queries     *QueryService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "workflow_test.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run(migrations.FS))

	env := &testEnv{
		db:               db,
		definitionRepo:   repository.NewDefinitionRepository(db, logger),
		stepRepo:         repository.NewStepRepository(db, logger),
		instanceRepo:     repository.NewInstanceRepository(db, logger),
		stepInstanceRepo: repository.NewStepInstanceRepository(db, logger),
		transitionRepo:   repository.NewTransitionRepository(db, logger),
		approvalRepo:     repository.NewApprovalRepository(db, logger),
	}

	evaluator := workflow.NewEvaluator()
	env.definitions = NewDefinitionService(db, env.definitionRepo, env.stepRepo, env.instanceRepo, logger)
	env.steps = NewStepService(env.definitionRepo, env.stepRepo, logger)
	env.instances = NewInstanceService(db, env.definitionRepo, env.stepRepo, env.instanceRepo, env.stepInstanceRepo, env.transitionRepo, evaluator, logger)
	env.approvals = NewApprovalService(env.stepRepo, env.stepInstanceRepo, env.approvalRepo, logger)
	env.queries = NewQueryService(env.definitionRepo, env.stepRepo, env.instanceRepo, env.stepInstanceRepo, env.transitionRepo, env.approvalRepo, logger)

	return env
}

// purchaseOrderInput is a small purchase-order approval workflow:
// draft -> review -> approved | rejected, review being an approval step.
func purchaseOrderInput() CreateDefinitionInput {
	return CreateDefinitionInput{
		Code:       "po-approval",
		Name:       "Purchase Order Approval",
		EntityType: "purchase_order",
		IsActive:   true,
		Steps: []StepInput{
			{
				StepCode:    "draft",
				Name:        "Draft",
				StepType:    entity.StepTypeTask,
				IsStartStep: true,
				SortOrder:   1,
				TransitionRules: entity.TransitionRules{
					{
						Condition: entity.RuleCondition{Operator: workflow.OpAlways},
						NextStep:  "review",
					},
				},
			},
			{
				StepCode:  "review",
				Name:      "Manager Review",
				StepType:  entity.StepTypeApproval,
				SortOrder: 2,
				StepConfiguration: entity.JSONMap{
					entity.ConfigKeyApprovalPolicy:    entity.ApprovalPolicyAll,
					entity.ConfigKeyRequiredApprovals: float64(1),
				},
				TransitionRules: entity.TransitionRules{
					{
						Condition: entity.RuleCondition{Operator: workflow.OpEq, Field: "decision", Value: "approved"},
						NextStep:  "approved",
					},
					{
						Condition: entity.RuleCondition{Operator: workflow.OpEq, Field: "decision", Value: "rejected"},
						NextStep:  "rejected",
					},
				},
			},
			{
				StepCode:  "approved",
				Name:      "Approved",
				StepType:  entity.StepTypeTask,
				IsEndStep: true,
				SortOrder: 3,
			},
			{
				StepCode:  "rejected",
				Name:      "Rejected",
				StepType:  entity.StepTypeTask,
				IsEndStep: true,
				SortOrder: 4,
			},
		},
	}
}

// createPurchaseOrderDefinition persists the fixture and returns it
func createPurchaseOrderDefinition(t *testing.T, env *testEnv) *entity.WorkflowDefinition {
	t.Helper()
	def, steps, err := env.definitions.CreateDefinition(context.Background(), purchaseOrderInput(), "tester")
	require.NoError(t, err)
	require.Len(t, steps, 4)
	return def
}
