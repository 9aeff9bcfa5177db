package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
	"go.uber.org/zap"
)

// UpdateStepInstanceInput carries partial updates to an open step execution
type UpdateStepInstanceInput struct {
	AssignedTo *string        `json:"assigned_to"`
	StepData   entity.JSONMap `json:"step_data"`
	Notes      *string        `json:"notes"`
}

// RecordApprovalInput is one approver's vote against a step instance
type RecordApprovalInput struct {
	StepInstanceID int64  `json:"-"`
	ApproverID     string `json:"approver_id"`
	Decision       string `json:"decision"`
	Comments       string `json:"comments"`
}

// ApprovalService tracks open step executions and the approval votes recorded
// against them. Recording a vote never drives a transition: aggregation
// policy is a caller concern, supported by ApprovalSummary.
type ApprovalService struct {
	steps         port.StepRepository
	stepInstances port.StepInstanceRepository
	approvals     port.ApprovalRepository
	logger        *zap.Logger
}

// NewApprovalService creates a new approval service
func NewApprovalService(
	steps port.StepRepository,
	stepInstances port.StepInstanceRepository,
	approvals port.ApprovalRepository,
	logger *zap.Logger,
) *ApprovalService {
	return &ApprovalService{
		steps:         steps,
		stepInstances: stepInstances,
		approvals:     approvals,
		logger:        logger,
	}
}

// UpdateStepInstance updates assignee, step data or notes of an open step
// instance. Step data is shallow-merged.
func (s *ApprovalService) UpdateStepInstance(ctx context.Context, stepInstanceID int64, input UpdateStepInstanceInput, actor string) (*entity.WorkflowStepInstance, error) {
	stepInstance, err := s.openStepInstance(ctx, stepInstanceID)
	if err != nil {
		return nil, err
	}

	if input.AssignedTo != nil {
		stepInstance.AssignedTo = *input.AssignedTo
	}
	if input.StepData != nil {
		stepInstance.StepData = stepInstance.StepData.Merge(input.StepData)
	}
	if input.Notes != nil {
		stepInstance.Notes = *input.Notes
	}

	if err := s.stepInstances.Update(ctx, stepInstance); err != nil {
		return nil, err
	}

	s.logger.Debug("Step instance updated",
		zap.Int64("step_instance_id", stepInstanceID),
		zap.String("actor", actor))
	return stepInstance, nil
}

// RecordApproval records one approver's vote. The owning step must be
// configured as an approval step and each approver votes at most once per
// step instance.
func (s *ApprovalService) RecordApproval(ctx context.Context, input RecordApprovalInput) (*entity.WorkflowApproval, error) {
	if input.ApproverID == "" {
		return nil, workflow.NewValidationError("approver_id is required")
	}
	if input.Decision != entity.ApprovalDecisionApproved && input.Decision != entity.ApprovalDecisionRejected {
		return nil, workflow.NewValidationError("decision must be approved or rejected")
	}

	stepInstance, err := s.openStepInstance(ctx, input.StepInstanceID)
	if err != nil {
		return nil, err
	}

	step, err := s.steps.GetByID(ctx, stepInstance.StepID)
	if err != nil {
		return nil, err
	}
	if step == nil || !step.RequiresApproval() {
		return nil, &workflow.PreconditionError{
			Resource: "step_instance",
			ID:       itoa(input.StepInstanceID),
			Message:  "owning step is not configured as an approval step",
		}
	}

	existing, err := s.approvals.GetByStepInstanceAndApprover(ctx, input.StepInstanceID, input.ApproverID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, workflow.NewConflictError("approver %s already voted on step instance %d",
			input.ApproverID, input.StepInstanceID)
	}

	approval := &entity.WorkflowApproval{
		StepInstanceID: input.StepInstanceID,
		ApproverID:     input.ApproverID,
		Decision:       input.Decision,
		Comments:       input.Comments,
		RespondedAt:    time.Now(),
	}
	if err := s.approvals.Create(ctx, approval); err != nil {
		if errors.Is(err, port.ErrDuplicate) {
			return nil, workflow.NewConflictError("approver %s already voted on step instance %d",
				input.ApproverID, input.StepInstanceID)
		}
		return nil, err
	}

	s.logger.Info("Approval recorded",
		zap.Int64("step_instance_id", input.StepInstanceID),
		zap.String("approver_id", input.ApproverID),
		zap.String("decision", input.Decision))
	return approval, nil
}

// ApprovalSummary aggregates the votes against a step instance with the
// step's configured policy. Advisory only; callers inspect it before deciding
// to call Transition.
func (s *ApprovalService) ApprovalSummary(ctx context.Context, stepInstanceID int64) (*entity.ApprovalSummary, error) {
	stepInstance, err := s.stepInstances.GetByID(ctx, stepInstanceID)
	if err != nil {
		return nil, err
	}
	if stepInstance == nil {
		return nil, workflow.NewNotFoundError("step_instance", stepInstanceID)
	}

	step, err := s.steps.GetByID(ctx, stepInstance.StepID)
	if err != nil {
		return nil, err
	}

	votes, err := s.approvals.ListByStepInstance(ctx, stepInstanceID)
	if err != nil {
		return nil, err
	}

	summary := &entity.ApprovalSummary{
		StepInstanceID:    stepInstanceID,
		Policy:            entity.ApprovalPolicyAll,
		RequiredApprovals: 1,
	}
	if step != nil && step.StepConfiguration != nil {
		if policy, ok := step.StepConfiguration[entity.ConfigKeyApprovalPolicy].(string); ok {
			summary.Policy = policy
		}
		if required, ok := step.StepConfiguration[entity.ConfigKeyRequiredApprovals].(float64); ok && required > 0 {
			summary.RequiredApprovals = int(required)
		}
	}

	for _, vote := range votes {
		switch vote.Decision {
		case entity.ApprovalDecisionApproved:
			summary.Approved++
		case entity.ApprovalDecisionRejected:
			summary.Rejected++
		}
	}
	summary.AnyRejection = summary.Rejected > 0

	switch summary.Policy {
	case entity.ApprovalPolicyAny:
		summary.PolicySatisfied = summary.Approved >= 1 && !summary.AnyRejection
	default:
		summary.PolicySatisfied = summary.Approved >= summary.RequiredApprovals && !summary.AnyRejection
	}

	return summary, nil
}

func (s *ApprovalService) openStepInstance(ctx context.Context, stepInstanceID int64) (*entity.WorkflowStepInstance, error) {
	stepInstance, err := s.stepInstances.GetByID(ctx, stepInstanceID)
	if err != nil {
		return nil, err
	}
	if stepInstance == nil {
		return nil, workflow.NewNotFoundError("step_instance", stepInstanceID)
	}
	if !stepInstance.IsInProgress() {
		return nil, &workflow.PreconditionError{
			Resource:     "step_instance",
			ID:           itoa(stepInstanceID),
			CurrentState: stepInstance.Status,
			Message:      "step instance is not in progress",
		}
	}
	return stepInstance, nil
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
