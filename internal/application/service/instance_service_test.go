package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
)

func TestStartInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	instance, stepInstance, err := env.instances.Start(ctx, StartInput{
		DefinitionID: def.ID,
		EntityType:   "purchase_order",
		EntityID:     "po-1",
		InitialData:  entity.JSONMap{"amount": 250.0},
	}, "alice")
	require.NoError(t, err)

	assert.Equal(t, entity.InstanceStatusActive, instance.Status)
	assert.Equal(t, "draft", instance.CurrentStepCode)
	assert.Equal(t, "alice", instance.InitiatedBy)
	assert.Equal(t, 250.0, instance.WorkflowData["amount"])

	require.NotNil(t, stepInstance)
	assert.Equal(t, instance.ID, stepInstance.InstanceID)
	assert.Equal(t, "draft", stepInstance.StepCode)
	assert.Equal(t, entity.StepInstanceStatusInProgress, stepInstance.Status)
}

func TestStartInstanceInactiveDefinition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	_, err := env.definitions.SetActive(ctx, def.ID, false)
	require.NoError(t, err)

	_, _, err = env.instances.Start(ctx, StartInput{
		DefinitionID: def.ID,
		EntityType:   "purchase_order",
		EntityID:     "po-1",
	}, "alice")
	var preconditionErr *workflow.PreconditionError
	require.ErrorAs(t, err, &preconditionErr)
	assert.Equal(t, "inactive", preconditionErr.CurrentState)
}

func TestStartInstanceSecondActiveRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	input := StartInput{
		DefinitionID: def.ID,
		EntityType:   "purchase_order",
		EntityID:     "po-1",
	}

	_, _, err := env.instances.Start(ctx, input, "alice")
	require.NoError(t, err)

	_, _, err = env.instances.Start(ctx, input, "alice")
	var conflictErr *workflow.ConflictError
	require.ErrorAs(t, err, &conflictErr)

	// A terminal instance releases the entity for a new run
	active, err := env.queries.ActiveInstanceForEntity(ctx, "purchase_order", "po-1")
	require.NoError(t, err)
	_, err = env.instances.Cancel(ctx, active.ID, "restart", "alice")
	require.NoError(t, err)

	_, _, err = env.instances.Start(ctx, input, "alice")
	require.NoError(t, err)
}

func TestStartInstanceWhereStartIsEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	input := CreateDefinitionInput{
		Code:       "one-shot",
		Name:       "One Shot",
		EntityType: "ticket",
		IsActive:   true,
		Steps: []StepInput{
			{StepCode: "done", Name: "Done", StepType: entity.StepTypeTask, IsStartStep: true, IsEndStep: true},
		},
	}
	def, _, err := env.definitions.CreateDefinition(ctx, input, "alice")
	require.NoError(t, err)

	instance, stepInstance, err := env.instances.Start(ctx, StartInput{
		DefinitionID: def.ID,
		EntityType:   "ticket",
		EntityID:     "t-1",
	}, "alice")
	require.NoError(t, err)

	assert.Equal(t, entity.InstanceStatusCompleted, instance.Status)
	assert.NotNil(t, instance.CompletedAt)
	assert.Equal(t, entity.StepInstanceStatusCompleted, stepInstance.Status)
}

// startPO starts a purchase-order instance at the draft step
func startPO(t *testing.T, env *testEnv, def *entity.WorkflowDefinition, entityID string) *entity.WorkflowInstance {
	t.Helper()
	instance, _, err := env.instances.Start(context.Background(), StartInput{
		DefinitionID: def.ID,
		EntityType:   "purchase_order",
		EntityID:     entityID,
		InitialData:  entity.JSONMap{"amount": 100.0},
	}, "alice")
	require.NoError(t, err)
	return instance
}

func TestTransitionFullApprovalPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	// draft -> review via the always rule
	instance, stepInstance, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "review",
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, "review", instance.CurrentStepCode)
	assert.Equal(t, entity.InstanceStatusActive, instance.Status)
	assert.Equal(t, "review", stepInstance.StepCode)
	assert.Equal(t, entity.StepInstanceStatusInProgress, stepInstance.Status)

	// review -> approved once the decision lands in the data
	instance, stepInstance, err = env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "approved",
		StepData:   entity.JSONMap{"decision": "approved"},
	}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "approved", instance.CurrentStepCode)
	assert.Equal(t, entity.InstanceStatusCompleted, instance.Status)
	assert.NotNil(t, instance.CompletedAt)
	assert.Equal(t, "approved", instance.WorkflowData["decision"])
	assert.Equal(t, entity.StepInstanceStatusCompleted, stepInstance.Status)

	// Transition log: draft -> review, review -> approved
	history, err := env.queries.History(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "draft", history[0].FromStepCode)
	require.NotNil(t, history[0].ToStepCode)
	assert.Equal(t, "review", *history[0].ToStepCode)
	assert.Equal(t, "review", history[1].FromStepCode)
	require.NotNil(t, history[1].ToStepCode)
	assert.Equal(t, "approved", *history[1].ToStepCode)

	// Completed instances accept no further mutations
	_, _, err = env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "review",
	}, "alice")
	var preconditionErr *workflow.PreconditionError
	require.ErrorAs(t, err, &preconditionErr)
	assert.Equal(t, entity.InstanceStatusCompleted, preconditionErr.CurrentState)

	_, err = env.instances.Cancel(ctx, instance.ID, "too late", "alice")
	require.ErrorAs(t, err, &preconditionErr)

	_, err = env.instances.UpdateData(ctx, instance.ID, entity.JSONMap{"x": 1}, "alice")
	require.ErrorAs(t, err, &preconditionErr)
}

func TestTransitionIllegalTarget(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	// From draft only review is legal; jumping straight to approved is not.
	_, _, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "approved",
	}, "alice")
	var transitionErr *workflow.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, "draft", transitionErr.FromStepCode)
	assert.Equal(t, "approved", transitionErr.ToStepCode)
	assert.Equal(t, []string{"review"}, transitionErr.LegalNextSteps)

	// Instance state is untouched by the rejected transition
	loaded, err := env.queries.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", loaded.CurrentStepCode)
}

func TestTransitionLegalSetDependsOnStepData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	_, _, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "review",
	}, "alice")
	require.NoError(t, err)

	// Without a decision in the data nothing from review is legal
	_, _, err = env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "approved",
	}, "bob")
	var transitionErr *workflow.InvalidTransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Empty(t, transitionErr.LegalNextSteps)

	// The decision supplied with the transition makes the target legal
	updated, _, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "rejected",
		StepData:   entity.JSONMap{"decision": "rejected"},
	}, "bob")
	require.NoError(t, err)
	assert.Equal(t, "rejected", updated.CurrentStepCode)
	assert.Equal(t, entity.InstanceStatusCompleted, updated.Status)
}

func TestTransitionUnknownTargetStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	_, _, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "archive",
	}, "alice")
	var notFoundErr *workflow.NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
	assert.Equal(t, "step", notFoundErr.Resource)
}

func TestSkipTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	// Skip bypasses the rules entirely: draft -> approved is fine
	updated, _, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID:     instance.ID,
		ToStepCode:     "approved",
		TransitionType: entity.TransitionTypeSkip,
		Reason:         "pre-approved vendor",
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "approved", updated.CurrentStepCode)
	assert.Equal(t, entity.InstanceStatusCompleted, updated.Status)

	history, err := env.queries.History(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.TransitionTypeSkip, history[0].TransitionType)
	assert.Equal(t, "pre-approved vendor", history[0].Reason)
}

func TestSkipToCurrentStepRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	_, _, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID:     instance.ID,
		ToStepCode:     "draft",
		TransitionType: entity.TransitionTypeSkip,
	}, "admin")
	var validationErr *workflow.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestRollbackTransition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	// Rollback to a never-visited step is rejected
	_, _, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID:     instance.ID,
		ToStepCode:     "review",
		TransitionType: entity.TransitionTypeRollback,
	}, "admin")
	var preconditionErr *workflow.PreconditionError
	require.ErrorAs(t, err, &preconditionErr)

	_, _, err = env.instances.Transition(ctx, TransitionInput{
		InstanceID: instance.ID,
		ToStepCode: "review",
	}, "alice")
	require.NoError(t, err)

	// draft was visited, so review -> draft rolls back
	updated, stepInstance, err := env.instances.Transition(ctx, TransitionInput{
		InstanceID:     instance.ID,
		ToStepCode:     "draft",
		TransitionType: entity.TransitionTypeRollback,
		Reason:         "needs rework",
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "draft", updated.CurrentStepCode)
	assert.Equal(t, entity.InstanceStatusActive, updated.Status)
	assert.Equal(t, entity.StepInstanceStatusInProgress, stepInstance.Status)

	// Three step executions: draft, review, draft again
	stepInstances, err := env.queries.StepInstances(ctx, instance.ID)
	require.NoError(t, err)
	assert.Len(t, stepInstances, 3)
}

func TestCancelInstance(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	cancelled, err := env.instances.Cancel(ctx, instance.ID, "duplicate order", "alice")
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceStatusCancelled, cancelled.Status)
	assert.Equal(t, "duplicate order", cancelled.CancelReason)
	assert.NotNil(t, cancelled.CompletedAt)

	// The open step instance was cancelled alongside
	stepInstances, err := env.queries.StepInstances(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, stepInstances, 1)
	assert.Equal(t, entity.StepInstanceStatusCancelled, stepInstances[0].Status)

	// The cancel transition has no target step
	history, err := env.queries.History(ctx, instance.ID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, entity.TransitionTypeCancel, history[0].TransitionType)
	assert.Nil(t, history[0].ToStepCode)

	// Cancelled is terminal
	_, err = env.instances.Cancel(ctx, instance.ID, "again", "alice")
	var preconditionErr *workflow.PreconditionError
	require.ErrorAs(t, err, &preconditionErr)
}

func TestUpdateData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	updated, err := env.instances.UpdateData(ctx, instance.ID, entity.JSONMap{
		"amount":   999.0,
		"supplier": "acme",
	}, "alice")
	require.NoError(t, err)
	assert.Equal(t, 999.0, updated.WorkflowData["amount"])
	assert.Equal(t, "acme", updated.WorkflowData["supplier"])

	loaded, err := env.queries.GetInstance(ctx, instance.ID)
	require.NoError(t, err)
	assert.Equal(t, "acme", loaded.WorkflowData["supplier"])
}

func TestOptimisticUpdateConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)
	instance := startPO(t, env, def, "po-1")

	// Two readers hold the same version; the second write must lose
	stale, err := env.instanceRepo.GetByID(ctx, instance.ID)
	require.NoError(t, err)

	fresh, err := env.instanceRepo.GetByID(ctx, instance.ID)
	require.NoError(t, err)

	ok, err := env.instanceRepo.Update(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = env.instanceRepo.Update(ctx, stale)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestQueryEntityInstances(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	first := startPO(t, env, def, "po-1")
	_, err := env.instances.Cancel(ctx, first.ID, "redo", "alice")
	require.NoError(t, err)
	second := startPO(t, env, def, "po-1")

	all, err := env.queries.InstancesForEntity(ctx, "purchase_order", "po-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := env.queries.ActiveInstanceForEntity(ctx, "purchase_order", "po-1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	none, err := env.queries.ActiveInstanceForEntity(ctx, "purchase_order", "po-404")
	require.NoError(t, err)
	assert.Nil(t, none)
}
