package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
)

func TestAddStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	step, err := env.steps.AddStep(ctx, def.ID, StepInput{
		StepCode:  "finance_review",
		Name:      "Finance Review",
		StepType:  entity.StepTypeApproval,
		SortOrder: 5,
		TransitionRules: entity.TransitionRules{
			{
				Condition: entity.RuleCondition{Operator: workflow.OpGt, Field: "amount", Value: 1000.0},
				NextStep:  "review",
			},
		},
	})
	require.NoError(t, err)
	assert.NotZero(t, step.ID)
	assert.Equal(t, def.ID, step.DefinitionID)

	steps, err := env.stepRepo.ListByDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 5)
}

func TestAddStepConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	_, err := env.steps.AddStep(ctx, def.ID, StepInput{StepCode: "review", Name: "Dup"})
	var conflictErr *workflow.ConflictError
	require.ErrorAs(t, err, &conflictErr)

	_, err = env.steps.AddStep(ctx, def.ID, StepInput{StepCode: "intake", Name: "Intake", IsStartStep: true})
	require.ErrorAs(t, err, &conflictErr)
	assert.Contains(t, err.Error(), "start step")
}

func TestAddStepBadRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	_, err := env.steps.AddStep(ctx, def.ID, StepInput{
		StepCode: "audit",
		Name:     "Audit",
		TransitionRules: entity.TransitionRules{
			{Condition: entity.RuleCondition{Operator: "sometimes"}, NextStep: "review"},
		},
	})
	var validationErr *workflow.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "unknown operator")
}

func TestUpdateStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	name := "Senior Review"
	timeout := 120
	action := "skip:approved"
	step, err := env.steps.UpdateStep(ctx, def.ID, "review", UpdateStepInput{
		Name:           &name,
		TimeoutMinutes: &timeout,
		TimeoutAction:  &action,
	})
	require.NoError(t, err)
	assert.Equal(t, name, step.Name)
	assert.Equal(t, 120, step.TimeoutMinutes)
	assert.Equal(t, "skip:approved", step.TimeoutAction)

	// Untouched fields survive a partial update
	assert.Equal(t, entity.StepTypeApproval, step.StepType)
	assert.Len(t, step.TransitionRules, 2)
}

func TestUpdateStepRulesValidated(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	rules := entity.TransitionRules{
		{Condition: entity.RuleCondition{Operator: workflow.OpAlways}, NextStep: "vanished"},
	}
	_, err := env.steps.UpdateStep(ctx, def.ID, "review", UpdateStepInput{TransitionRules: &rules})
	var validationErr *workflow.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, err.Error(), "does not exist in the definition")
}

func TestUpdateStepSecondStartRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	isStart := true
	_, err := env.steps.UpdateStep(ctx, def.ID, "review", UpdateStepInput{IsStartStep: &isStart})
	var conflictErr *workflow.ConflictError
	require.ErrorAs(t, err, &conflictErr)
}

func TestRemoveStep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	def := createPurchaseOrderDefinition(t, env)

	// review is referenced by draft's rules
	err := env.steps.RemoveStep(ctx, def.ID, "review")
	var conflictErr *workflow.ConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Contains(t, err.Error(), "draft")

	// rejected has no referrers once review's rule is retargeted
	rules := entity.TransitionRules{
		{
			Condition: entity.RuleCondition{Operator: workflow.OpEq, Field: "decision", Value: "approved"},
			NextStep:  "approved",
		},
	}
	_, err = env.steps.UpdateStep(ctx, def.ID, "review", UpdateStepInput{TransitionRules: &rules})
	require.NoError(t, err)

	require.NoError(t, env.steps.RemoveStep(ctx, def.ID, "rejected"))

	steps, err := env.stepRepo.ListByDefinition(ctx, def.ID)
	require.NoError(t, err)
	assert.Len(t, steps, 3)
}

func TestRemoveStepNotFound(t *testing.T) {
	env := newTestEnv(t)

	def := createPurchaseOrderDefinition(t, env)

	err := env.steps.RemoveStep(context.Background(), def.ID, "ghost")
	var notFoundErr *workflow.NotFoundError
	require.ErrorAs(t, err, &notFoundErr)
}
