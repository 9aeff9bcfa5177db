package service

import (
	"context"
	"strings"

	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
	"go.uber.org/zap"
)

// UpdateStepInput carries partial updates to a step definition. The step code
// itself is immutable; other steps' rules may reference it.
type UpdateStepInput struct {
	Name              *string                 `json:"name"`
	Description       *string                 `json:"description"`
	StepType          *string                 `json:"step_type"`
	StepConfiguration entity.JSONMap          `json:"step_configuration"`
	TransitionRules   *entity.TransitionRules `json:"transition_rules"`
	IsStartStep       *bool                   `json:"is_start_step"`
	IsEndStep         *bool                   `json:"is_end_step"`
	SortOrder         *int                    `json:"sort_order"`
	TimeoutMinutes    *int                    `json:"timeout_minutes"`
	TimeoutAction     *string                 `json:"timeout_action"`
}

// StepService is the step definition store: it maintains the steps of a
// definition while keeping the step graph internally consistent.
type StepService struct {
	definitions port.DefinitionRepository
	steps       port.StepRepository
	logger      *zap.Logger
}

// NewStepService creates a new step service
func NewStepService(definitions port.DefinitionRepository, steps port.StepRepository, logger *zap.Logger) *StepService {
	return &StepService{
		definitions: definitions,
		steps:       steps,
		logger:      logger,
	}
}

// AddStep adds a step to an existing definition. Step codes stay unique and
// at most one step holds the start flag.
func (s *StepService) AddStep(ctx context.Context, definitionID int64, input StepInput) (*entity.WorkflowStep, error) {
	existing, err := s.stepsOf(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(input.StepCode) == "" {
		return nil, workflow.NewValidationError("step_code is required")
	}

	codes := make(map[string]bool, len(existing)+1)
	for _, step := range existing {
		if step.StepCode == input.StepCode {
			return nil, workflow.NewConflictError("step_code %q already exists in definition %d", input.StepCode, definitionID)
		}
		if input.IsStartStep && step.IsStartStep {
			return nil, workflow.NewConflictError("definition %d already has start step %q", definitionID, step.StepCode)
		}
		codes[step.StepCode] = true
	}
	codes[input.StepCode] = true

	if violations := workflow.ValidateRules(input.StepCode, input.TransitionRules, codes); len(violations) > 0 {
		return nil, workflow.NewValidationError(violations...)
	}

	step := buildSteps([]StepInput{input})[0]
	step.DefinitionID = definitionID
	if err := s.steps.Create(ctx, step); err != nil {
		return nil, err
	}

	s.logger.Info("Workflow step added",
		zap.Int64("definition_id", definitionID),
		zap.String("step_code", step.StepCode))
	return step, nil
}

// UpdateStep applies a partial update to a step
func (s *StepService) UpdateStep(ctx context.Context, definitionID int64, stepCode string, input UpdateStepInput) (*entity.WorkflowStep, error) {
	existing, err := s.stepsOf(ctx, definitionID)
	if err != nil {
		return nil, err
	}

	var step *entity.WorkflowStep
	codes := make(map[string]bool, len(existing))
	for _, candidate := range existing {
		codes[candidate.StepCode] = true
		if candidate.StepCode == stepCode {
			step = candidate
		}
	}
	if step == nil {
		return nil, workflow.NewNotFoundError("step", stepCode)
	}

	if input.IsStartStep != nil && *input.IsStartStep && !step.IsStartStep {
		for _, other := range existing {
			if other.StepCode != stepCode && other.IsStartStep {
				return nil, workflow.NewConflictError("definition %d already has start step %q", definitionID, other.StepCode)
			}
		}
	}

	if input.Name != nil {
		step.Name = *input.Name
	}
	if input.Description != nil {
		step.Description = *input.Description
	}
	if input.StepType != nil {
		step.StepType = *input.StepType
	}
	if input.StepConfiguration != nil {
		step.StepConfiguration = step.StepConfiguration.Merge(input.StepConfiguration)
	}
	if input.TransitionRules != nil {
		if violations := workflow.ValidateRules(stepCode, *input.TransitionRules, codes); len(violations) > 0 {
			return nil, workflow.NewValidationError(violations...)
		}
		step.TransitionRules = *input.TransitionRules
	}
	if input.IsStartStep != nil {
		step.IsStartStep = *input.IsStartStep
	}
	if input.IsEndStep != nil {
		step.IsEndStep = *input.IsEndStep
	}
	if input.SortOrder != nil {
		step.SortOrder = *input.SortOrder
	}
	if input.TimeoutMinutes != nil {
		step.TimeoutMinutes = *input.TimeoutMinutes
	}
	if input.TimeoutAction != nil {
		step.TimeoutAction = *input.TimeoutAction
	}

	if err := s.steps.Update(ctx, step); err != nil {
		return nil, err
	}

	s.logger.Info("Workflow step updated",
		zap.Int64("definition_id", definitionID),
		zap.String("step_code", stepCode))
	return step, nil
}

// RemoveStep deletes a step unless another step's transition rules still name
// it as a candidate target.
func (s *StepService) RemoveStep(ctx context.Context, definitionID int64, stepCode string) error {
	existing, err := s.stepsOf(ctx, definitionID)
	if err != nil {
		return err
	}

	var step *entity.WorkflowStep
	for _, candidate := range existing {
		if candidate.StepCode == stepCode {
			step = candidate
			break
		}
	}
	if step == nil {
		return workflow.NewNotFoundError("step", stepCode)
	}

	if referrers := workflow.ReferencedBy(existing, stepCode); len(referrers) > 0 {
		return workflow.NewConflictError("step %q is referenced by transition rules of: %s",
			stepCode, strings.Join(referrers, ", "))
	}

	if err := s.steps.Delete(ctx, step.ID); err != nil {
		return err
	}

	s.logger.Info("Workflow step removed",
		zap.Int64("definition_id", definitionID),
		zap.String("step_code", stepCode))
	return nil
}

func (s *StepService) stepsOf(ctx context.Context, definitionID int64) ([]*entity.WorkflowStep, error) {
	def, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, workflow.NewNotFoundError("definition", definitionID)
	}
	return s.steps.ListByDefinition(ctx, definitionID)
}
