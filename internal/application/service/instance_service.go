package service

import (
	"context"
	"errors"
	"time"

	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
	"go.uber.org/zap"
)

// StartInput starts a workflow instance against a business entity
type StartInput struct {
	DefinitionID int64          `json:"definition_id"`
	EntityType   string         `json:"entity_type"`
	EntityID     string         `json:"entity_id"`
	InitialData  entity.JSONMap `json:"initial_data"`
}

// TransitionInput moves an instance to another step
type TransitionInput struct {
	InstanceID     int64          `json:"-"`
	ToStepCode     string         `json:"to_step_code"`
	TransitionType string         `json:"transition_type"`
	Reason         string         `json:"reason"`
	TransitionData entity.JSONMap `json:"transition_data"`
	StepData       entity.JSONMap `json:"step_data"`
}

// InstanceService is the instance lifecycle manager: the state machine that
// starts, advances, cancels and mutates workflow instances. Every multi-row
// mutation runs inside one transaction, and the instance row's version
// counter serializes concurrent mutations: the loser of a race fails with a
// ConflictError instead of double-transitioning.
type InstanceService struct {
	tx            port.TransactionManager
	definitions   port.DefinitionRepository
	steps         port.StepRepository
	instances     port.InstanceRepository
	stepInstances port.StepInstanceRepository
	transitions   port.TransitionRepository
	evaluator     *workflow.Evaluator
	logger        *zap.Logger
}

// NewInstanceService creates a new instance service
func NewInstanceService(
	tx port.TransactionManager,
	definitions port.DefinitionRepository,
	steps port.StepRepository,
	instances port.InstanceRepository,
	stepInstances port.StepInstanceRepository,
	transitions port.TransitionRepository,
	evaluator *workflow.Evaluator,
	logger *zap.Logger,
) *InstanceService {
	return &InstanceService{
		tx:            tx,
		definitions:   definitions,
		steps:         steps,
		instances:     instances,
		stepInstances: stepInstances,
		transitions:   transitions,
		evaluator:     evaluator,
		logger:        logger,
	}
}

// Start creates an instance at the definition's start step together with its
// first in_progress step instance, atomically. At most one active instance
// may exist per (entity_type, entity_id); a second start is rejected.
func (s *InstanceService) Start(ctx context.Context, input StartInput, actor string) (*entity.WorkflowInstance, *entity.WorkflowStepInstance, error) {
	if input.EntityType == "" || input.EntityID == "" {
		return nil, nil, workflow.NewValidationError("entity_type and entity_id are required")
	}

	def, err := s.definitions.GetByID(ctx, input.DefinitionID)
	if err != nil {
		return nil, nil, err
	}
	if def == nil {
		return nil, nil, workflow.NewNotFoundError("definition", input.DefinitionID)
	}
	if !def.IsActive {
		return nil, nil, &workflow.PreconditionError{
			Resource:     "definition",
			ID:           def.Code,
			CurrentState: "inactive",
			Message:      "cannot start an instance of an inactive definition",
		}
	}

	graph, err := s.loadGraph(ctx, def.ID)
	if err != nil {
		return nil, nil, err
	}

	existing, err := s.instances.GetActiveByEntity(ctx, input.EntityType, input.EntityID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return nil, nil, workflow.NewConflictError("entity %s/%s already has active instance %d",
			input.EntityType, input.EntityID, existing.ID)
	}

	now := time.Now()
	start := graph.Start()
	instance := &entity.WorkflowInstance{
		DefinitionID:    def.ID,
		EntityType:      input.EntityType,
		EntityID:        input.EntityID,
		CurrentStepCode: start.StepCode,
		Status:          entity.InstanceStatusActive,
		WorkflowData:    input.InitialData.Clone(),
		InitiatedBy:     actor,
		StartedAt:       now,
	}
	stepInstance := &entity.WorkflowStepInstance{
		StepID:    start.ID,
		StepCode:  start.StepCode,
		Status:    entity.StepInstanceStatusInProgress,
		StepData:  entity.JSONMap{},
		StartedAt: now,
	}

	// A start step that is also an end step completes immediately; an end
	// step is never left open.
	if start.IsEndStep {
		instance.Status = entity.InstanceStatusCompleted
		instance.CompletedAt = &now
		stepInstance.Status = entity.StepInstanceStatusCompleted
		stepInstance.CompletedAt = &now
		stepInstance.CompletedBy = actor
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.instances.Create(ctx, instance); err != nil {
			if errors.Is(err, port.ErrDuplicate) {
				return workflow.NewConflictError("entity %s/%s already has an active instance",
					input.EntityType, input.EntityID)
			}
			return err
		}
		stepInstance.InstanceID = instance.ID
		return s.stepInstances.Create(ctx, stepInstance)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Workflow instance started",
		zap.Int64("instance_id", instance.ID),
		zap.Int64("definition_id", def.ID),
		zap.String("entity_type", input.EntityType),
		zap.String("entity_id", input.EntityID),
		zap.String("start_step", start.StepCode),
		zap.String("actor", actor))

	return instance, stepInstance, nil
}

// Transition moves an active instance to another step. A normal transition
// must target a member of the legal set computed from the current step's
// rules and the workflow data merged with the supplied step data. Skip and
// rollback are explicit operator escape hatches: skip bypasses the rules but
// must target a different existing step; rollback must return to a step the
// instance has already visited.
func (s *InstanceService) Transition(ctx context.Context, input TransitionInput, actor string) (*entity.WorkflowInstance, *entity.WorkflowStepInstance, error) {
	transitionType := input.TransitionType
	if transitionType == "" {
		transitionType = entity.TransitionTypeNormal
	}
	switch transitionType {
	case entity.TransitionTypeNormal, entity.TransitionTypeSkip, entity.TransitionTypeRollback:
	default:
		return nil, nil, workflow.NewValidationError("unknown transition_type " + transitionType)
	}
	if input.ToStepCode == "" {
		return nil, nil, workflow.NewValidationError("to_step_code is required")
	}

	instance, err := s.activeInstance(ctx, input.InstanceID)
	if err != nil {
		return nil, nil, err
	}

	graph, err := s.loadGraph(ctx, instance.DefinitionID)
	if err != nil {
		return nil, nil, err
	}

	current, ok := graph.Step(instance.CurrentStepCode)
	if !ok {
		return nil, nil, &workflow.PreconditionError{
			Resource:     "instance",
			ID:           itoa(instance.ID),
			CurrentState: instance.CurrentStepCode,
			Message:      "current step no longer exists in the definition",
		}
	}
	target, ok := graph.Step(input.ToStepCode)
	if !ok {
		return nil, nil, workflow.NewNotFoundError("step", input.ToStepCode)
	}

	merged := instance.WorkflowData.Merge(input.StepData)

	switch transitionType {
	case entity.TransitionTypeNormal:
		if !s.evaluator.IsLegal(current, merged, target.StepCode) {
			return nil, nil, &workflow.InvalidTransitionError{
				FromStepCode:   current.StepCode,
				ToStepCode:     target.StepCode,
				LegalNextSteps: s.evaluator.LegalNextSteps(current, merged),
			}
		}
	case entity.TransitionTypeSkip:
		if target.StepCode == current.StepCode {
			return nil, nil, workflow.NewValidationError("skip target must differ from the current step")
		}
	case entity.TransitionTypeRollback:
		visited, err := s.transitions.HasVisited(ctx, instance.ID, target.StepCode)
		if err != nil {
			return nil, nil, err
		}
		if !visited && target.StepCode != current.StepCode {
			return nil, nil, &workflow.PreconditionError{
				Resource:     "instance",
				ID:           itoa(instance.ID),
				CurrentState: current.StepCode,
				Message:      "rollback target " + target.StepCode + " was never visited",
			}
		}
	}

	currentStepInstance, err := s.currentStepInstance(ctx, instance.ID)
	if err != nil {
		return nil, nil, err
	}

	now := time.Now()
	toCode := target.StepCode
	var opened *entity.WorkflowStepInstance

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		currentStepInstance.Status = entity.StepInstanceStatusCompleted
		currentStepInstance.StepData = currentStepInstance.StepData.Merge(input.StepData)
		currentStepInstance.CompletedBy = actor
		currentStepInstance.CompletedAt = &now
		if input.Reason != "" {
			currentStepInstance.Notes = input.Reason
		}
		if err := s.stepInstances.Update(ctx, currentStepInstance); err != nil {
			return err
		}

		if err := s.transitions.Create(ctx, &entity.WorkflowTransition{
			InstanceID:     instance.ID,
			FromStepCode:   current.StepCode,
			ToStepCode:     &toCode,
			TransitionType: transitionType,
			Reason:         input.Reason,
			TransitionData: input.TransitionData,
			TriggeredBy:    actor,
		}); err != nil {
			return err
		}

		instance.WorkflowData = merged
		instance.CurrentStepCode = target.StepCode
		if target.IsEndStep {
			instance.Status = entity.InstanceStatusCompleted
			instance.CompletedAt = &now
		}
		updated, err := s.instances.Update(ctx, instance)
		if err != nil {
			return err
		}
		if !updated {
			return workflow.NewConflictError("instance %d was modified concurrently; re-read and retry", instance.ID)
		}

		opened = &entity.WorkflowStepInstance{
			InstanceID: instance.ID,
			StepID:     target.ID,
			StepCode:   target.StepCode,
			Status:     entity.StepInstanceStatusInProgress,
			StepData:   entity.JSONMap{},
			StartedAt:  now,
		}
		if target.IsEndStep {
			opened.Status = entity.StepInstanceStatusCompleted
			opened.CompletedAt = &now
			opened.CompletedBy = actor
		}
		return s.stepInstances.Create(ctx, opened)
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Workflow instance transitioned",
		zap.Int64("instance_id", instance.ID),
		zap.String("from", current.StepCode),
		zap.String("to", target.StepCode),
		zap.String("type", transitionType),
		zap.String("status", instance.Status),
		zap.String("actor", actor))

	return instance, opened, nil
}

// Cancel terminates an active instance: the open step instance is cancelled,
// a cancel transition with a null target is appended, and the instance
// reaches its cancelled terminal state. Nothing can mutate it afterward.
func (s *InstanceService) Cancel(ctx context.Context, instanceID int64, reason, actor string) (*entity.WorkflowInstance, error) {
	instance, err := s.activeInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	currentStepInstance, err := s.currentStepInstance(ctx, instance.ID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		currentStepInstance.Status = entity.StepInstanceStatusCancelled
		currentStepInstance.CompletedBy = actor
		currentStepInstance.CompletedAt = &now
		if reason != "" {
			currentStepInstance.Notes = reason
		}
		if err := s.stepInstances.Update(ctx, currentStepInstance); err != nil {
			return err
		}

		if err := s.transitions.Create(ctx, &entity.WorkflowTransition{
			InstanceID:     instance.ID,
			FromStepCode:   instance.CurrentStepCode,
			ToStepCode:     nil,
			TransitionType: entity.TransitionTypeCancel,
			Reason:         reason,
			TriggeredBy:    actor,
		}); err != nil {
			return err
		}

		instance.Status = entity.InstanceStatusCancelled
		instance.CancelReason = reason
		instance.CompletedAt = &now
		updated, err := s.instances.Update(ctx, instance)
		if err != nil {
			return err
		}
		if !updated {
			return workflow.NewConflictError("instance %d was modified concurrently; re-read and retry", instance.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Workflow instance cancelled",
		zap.Int64("instance_id", instance.ID),
		zap.String("reason", reason),
		zap.String("actor", actor))

	return instance, nil
}

// UpdateData merges a patch into the instance's workflow data without
// touching step state. Shallow key overwrite, active instances only.
func (s *InstanceService) UpdateData(ctx context.Context, instanceID int64, patch entity.JSONMap, actor string) (*entity.WorkflowInstance, error) {
	instance, err := s.activeInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}

	instance.WorkflowData = instance.WorkflowData.Merge(patch)
	updated, err := s.instances.Update(ctx, instance)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, workflow.NewConflictError("instance %d was modified concurrently; re-read and retry", instance.ID)
	}

	s.logger.Debug("Workflow data updated",
		zap.Int64("instance_id", instance.ID),
		zap.String("actor", actor))
	return instance, nil
}

func (s *InstanceService) activeInstance(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error) {
	instance, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, workflow.NewNotFoundError("instance", instanceID)
	}
	if !instance.IsActive() {
		return nil, &workflow.PreconditionError{
			Resource:     "instance",
			ID:           itoa(instance.ID),
			CurrentState: instance.Status,
			Message:      "instance is not active",
		}
	}
	return instance, nil
}

func (s *InstanceService) currentStepInstance(ctx context.Context, instanceID int64) (*entity.WorkflowStepInstance, error) {
	stepInstance, err := s.stepInstances.GetCurrentByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if stepInstance == nil {
		return nil, &workflow.PreconditionError{
			Resource: "instance",
			ID:       itoa(instanceID),
			Message:  "no in_progress step instance found",
		}
	}
	return stepInstance, nil
}

func (s *InstanceService) loadGraph(ctx context.Context, definitionID int64) (*workflow.Graph, error) {
	steps, err := s.steps.ListByDefinition(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	graph, err := workflow.BuildGraph(steps)
	if err != nil {
		return nil, &workflow.PreconditionError{
			Resource: "definition",
			ID:       itoa(definitionID),
			Message:  "definition step graph is not valid: " + err.Error(),
		}
	}
	return graph, nil
}
