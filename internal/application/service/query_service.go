package service

import (
	"context"

	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
	"go.uber.org/zap"
)

// StepInstanceView is a step instance together with its recorded approvals
type StepInstanceView struct {
	StepInstance *entity.WorkflowStepInstance `json:"step_instance"`
	Approvals    []*entity.WorkflowApproval   `json:"approvals"`
}

// QueryService is the read side: projections over instances, step instances,
// transitions and definitions. It never mutates state.
type QueryService struct {
	definitions   port.DefinitionRepository
	steps         port.StepRepository
	instances     port.InstanceRepository
	stepInstances port.StepInstanceRepository
	transitions   port.TransitionRepository
	approvals     port.ApprovalRepository
	logger        *zap.Logger
}

// NewQueryService creates a new query service
func NewQueryService(
	definitions port.DefinitionRepository,
	steps port.StepRepository,
	instances port.InstanceRepository,
	stepInstances port.StepInstanceRepository,
	transitions port.TransitionRepository,
	approvals port.ApprovalRepository,
	logger *zap.Logger,
) *QueryService {
	return &QueryService{
		definitions:   definitions,
		steps:         steps,
		instances:     instances,
		stepInstances: stepInstances,
		transitions:   transitions,
		approvals:     approvals,
		logger:        logger,
	}
}

// GetInstance returns an instance by id
func (s *QueryService) GetInstance(ctx context.Context, instanceID int64) (*entity.WorkflowInstance, error) {
	instance, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if instance == nil {
		return nil, workflow.NewNotFoundError("instance", instanceID)
	}
	return instance, nil
}

// CurrentStep returns the open step instance of an instance, with its
// approvals. For terminal instances there is no current step.
func (s *QueryService) CurrentStep(ctx context.Context, instanceID int64) (*StepInstanceView, error) {
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}

	stepInstance, err := s.stepInstances.GetCurrentByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	if stepInstance == nil {
		return nil, workflow.NewNotFoundError("current step instance for instance", instanceID)
	}

	approvals, err := s.approvals.ListByStepInstance(ctx, stepInstance.ID)
	if err != nil {
		return nil, err
	}

	return &StepInstanceView{StepInstance: stepInstance, Approvals: approvals}, nil
}

// History returns the full transition log of an instance, oldest first
func (s *QueryService) History(ctx context.Context, instanceID int64) ([]*entity.WorkflowTransition, error) {
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.transitions.ListByInstance(ctx, instanceID)
}

// StepInstances returns all step executions of an instance, oldest first
func (s *QueryService) StepInstances(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepInstance, error) {
	if _, err := s.GetInstance(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.stepInstances.ListByInstance(ctx, instanceID)
}

// InstancesForEntity returns every instance, active or historical, bound to
// the entity.
func (s *QueryService) InstancesForEntity(ctx context.Context, entityType, entityID string) ([]*entity.WorkflowInstance, error) {
	return s.instances.ListByEntity(ctx, entityType, entityID)
}

// ActiveInstanceForEntity returns the single active instance for an entity,
// or nil when there is none.
func (s *QueryService) ActiveInstanceForEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error) {
	return s.instances.GetActiveByEntity(ctx, entityType, entityID)
}

// StepsForDefinition returns a definition's steps ordered start-step-first
func (s *QueryService) StepsForDefinition(ctx context.Context, definitionID int64) ([]*entity.WorkflowStep, error) {
	def, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, workflow.NewNotFoundError("definition", definitionID)
	}
	return s.steps.ListByDefinition(ctx, definitionID)
}

// Approvals returns the votes recorded against a step instance
func (s *QueryService) Approvals(ctx context.Context, stepInstanceID int64) ([]*entity.WorkflowApproval, error) {
	stepInstance, err := s.stepInstances.GetByID(ctx, stepInstanceID)
	if err != nil {
		return nil, err
	}
	if stepInstance == nil {
		return nil, workflow.NewNotFoundError("step_instance", stepInstanceID)
	}
	return s.approvals.ListByStepInstance(ctx, stepInstanceID)
}
