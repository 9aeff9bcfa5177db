package worker

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/application/service"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
	"github.com/wmstack/workflow-engine/internal/infrastructure/persistence/repository"
	"github.com/wmstack/workflow-engine/migrations"
	"github.com/wmstack/workflow-engine/pkg/database"
	"go.uber.org/zap"
)

type workerEnv struct {
	db               *database.DB
	definitions      *service.DefinitionService
	instances        *service.InstanceService
	queries          *service.QueryService
	stepInstanceRepo port.StepInstanceRepository
}

func newWorkerEnv(t *testing.T) *workerEnv {
	t.Helper()

	logger := zap.NewNop()
	db, err := database.New(database.Config{
		Path: filepath.Join(t.TempDir(), "worker_test.db"),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.NewMigrator(db, logger).Run(migrations.FS))

	definitionRepo := repository.NewDefinitionRepository(db, logger)
	stepRepo := repository.NewStepRepository(db, logger)
	instanceRepo := repository.NewInstanceRepository(db, logger)
	stepInstanceRepo := repository.NewStepInstanceRepository(db, logger)
	transitionRepo := repository.NewTransitionRepository(db, logger)
	approvalRepo := repository.NewApprovalRepository(db, logger)

	evaluator := workflow.NewEvaluator()
	return &workerEnv{
		db:               db,
		definitions:      service.NewDefinitionService(db, definitionRepo, stepRepo, instanceRepo, logger),
		instances:        service.NewInstanceService(db, definitionRepo, stepRepo, instanceRepo, stepInstanceRepo, transitionRepo, evaluator, logger),
		queries:          service.NewQueryService(definitionRepo, stepRepo, instanceRepo, stepInstanceRepo, transitionRepo, approvalRepo, logger),
		stepInstanceRepo: stepInstanceRepo,
	}
}

// startWithTimeout creates a definition whose review step carries the given
// timeout policy and starts an instance sitting at review with an already
// expired timer.
func startWithTimeout(t *testing.T, env *workerEnv, timeoutAction string) *entity.WorkflowInstance {
	t.Helper()
	ctx := context.Background()

	input := service.CreateDefinitionInput{
		Code:       "timed-approval",
		Name:       "Timed Approval",
		EntityType: "purchase_order",
		IsActive:   true,
		Steps: []service.StepInput{
			{
				StepCode:    "review",
				Name:        "Review",
				StepType:    entity.StepTypeApproval,
				IsStartStep: true,
				SortOrder:   1,
				TransitionRules: entity.TransitionRules{
					{Condition: entity.RuleCondition{Operator: workflow.OpAlways}, NextStep: "done"},
				},
				TimeoutMinutes: 30,
				TimeoutAction:  timeoutAction,
			},
			{
				StepCode:  "done",
				Name:      "Done",
				StepType:  entity.StepTypeTask,
				IsEndStep: true,
				SortOrder: 2,
			},
		},
	}
	def, _, err := env.definitions.CreateDefinition(ctx, input, "tester")
	require.NoError(t, err)

	instance, _, err := env.instances.Start(ctx, service.StartInput{
		DefinitionID: def.ID,
		EntityType:   "purchase_order",
		EntityID:     "po-1",
	}, "alice")
	require.NoError(t, err)

	// Backdate the open step instance past its 30 minute timeout
	_, err = env.db.ExecContext(ctx,
		`UPDATE workflow_step_instances SET started_at = datetime('now', '-2 hours') WHERE instance_id = ?`,
		instance.ID)
	require.NoError(t, err)

	return instance
}

func TestSweepCancelsTimedOutInstance(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	instance := startWithTimeout(t, env, entity.TimeoutActionCancel)

	w := NewTimeoutWorker(env.instances, env.stepInstanceRepo, 0, 0, zap.NewNop())
	w.Sweep(ctx)

	loaded, err := env.queries.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusCancelled, loaded.Status)
	assert.Contains(t, loaded.CancelReason, "timed out")

	history, err := env.queries.History(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "system:timeout", history[0].TriggeredBy)
}

func TestSweepSkipsToTargetStep(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	instance := startWithTimeout(t, env, "skip:done")

	w := NewTimeoutWorker(env.instances, env.stepInstanceRepo, 0, 0, zap.NewNop())
	w.Sweep(ctx)

	loaded, err := env.queries.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "done", loaded.CurrentStepCode)
	assert.Equal(t, entity.InstanceStatusCompleted, loaded.Status)

	history, err := env.queries.History(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.TransitionTypeSkip, history[0].TransitionType)
	assert.Equal(t, "system:timeout", history[0].TriggeredBy)
}

func TestSweepIgnoresFreshStepInstances(t *testing.T) {
	env := newWorkerEnv(t)
	ctx := context.Background()

	instance := startWithTimeout(t, env, entity.TimeoutActionCancel)

	// Reset the timer: the step is no longer overdue
	_, err := env.db.ExecContext(ctx,
		`UPDATE workflow_step_instances SET started_at = datetime('now') WHERE instance_id = ?`,
		instance.ID)
	require.NoError(t, err)

	w := NewTimeoutWorker(env.instances, env.stepInstanceRepo, 0, 0, zap.NewNop())
	w.Sweep(ctx)

	loaded, err := env.queries.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusActive, loaded.Status)
}
