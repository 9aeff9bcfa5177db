package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
)

func validSteps() []*entity.WorkflowStep {
	return []*entity.WorkflowStep{
		{
			StepCode:    "draft",
			IsStartStep: true,
			TransitionRules: entity.TransitionRules{
				{Condition: entity.RuleCondition{Operator: OpAlways}, NextStep: "review"},
			},
		},
		{
			StepCode: "review",
			StepType: entity.StepTypeApproval,
			TransitionRules: entity.TransitionRules{
				{Condition: entity.RuleCondition{Operator: OpEq, Field: "decision", Value: "yes"}, NextStep: "approved"},
				{Condition: entity.RuleCondition{Operator: OpEq, Field: "decision", Value: "no"}, NextStep: "rejected"},
			},
		},
		{StepCode: "approved", IsEndStep: true},
		{StepCode: "rejected", IsEndStep: true},
	}
}

func TestBuildGraph(t *testing.T) {
	g, err := BuildGraph(validSteps())
	require.NoError(t, err)

	assert.Equal(t, 4, g.Len())
	assert.Equal(t, "draft", g.Start().StepCode)

	step, ok := g.Step("review")
	require.True(t, ok)
	assert.Equal(t, entity.StepTypeApproval, step.StepType)

	_, ok = g.Step("missing")
	assert.False(t, ok)
}

func TestBuildGraphViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func([]*entity.WorkflowStep) []*entity.WorkflowStep
	}{
		{
			name:   "no steps",
			mutate: func([]*entity.WorkflowStep) []*entity.WorkflowStep { return nil },
		},
		{
			name: "no start step",
			mutate: func(steps []*entity.WorkflowStep) []*entity.WorkflowStep {
				steps[0].IsStartStep = false
				return steps
			},
		},
		{
			name: "two start steps",
			mutate: func(steps []*entity.WorkflowStep) []*entity.WorkflowStep {
				steps[1].IsStartStep = true
				return steps
			},
		},
		{
			name: "no end step",
			mutate: func(steps []*entity.WorkflowStep) []*entity.WorkflowStep {
				steps[2].IsEndStep = false
				steps[3].IsEndStep = false
				return steps
			},
		},
		{
			name: "duplicate step codes",
			mutate: func(steps []*entity.WorkflowStep) []*entity.WorkflowStep {
				steps[3].StepCode = "approved"
				return steps
			},
		},
		{
			name: "rule targets unknown step",
			mutate: func(steps []*entity.WorkflowStep) []*entity.WorkflowStep {
				steps[0].TransitionRules[0].NextStep = "shipped"
				return steps
			},
		},
		{
			name: "rule expression does not compile",
			mutate: func(steps []*entity.WorkflowStep) []*entity.WorkflowStep {
				steps[1].TransitionRules[0].Condition = entity.RuleCondition{Operator: OpExpr, Expression: "decision &&"}
				return steps
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildGraph(tt.mutate(validSteps()))
			require.Error(t, err)

			var validationErr *ValidationError
			assert.True(t, errors.As(err, &validationErr), "expected ValidationError, got %T", err)
		})
	}
}

func TestReferencedBy(t *testing.T) {
	steps := validSteps()

	assert.Equal(t, []string{"review"}, ReferencedBy(steps, "approved"))
	assert.Equal(t, []string{"draft"}, ReferencedBy(steps, "review"))
	assert.Empty(t, ReferencedBy(steps, "draft"))
}
