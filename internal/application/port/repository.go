package port

import (
	"context"

	"github.com/wmstack/workflow-engine/internal/domain/entity"
)

// TransactionManager runs a function within a database transaction. The
// transaction is carried in the context so that repository calls made inside
// fn join it; a returned error rolls everything back. Multi-row engine
// mutations (start, transition, cancel) rely on this for all-or-nothing
// visibility.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// DefinitionRepository defines persistence operations for WorkflowDefinition.
// Lookups return (nil, nil) when no row matches.
type DefinitionRepository interface {
	Create(ctx context.Context, def *entity.WorkflowDefinition) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error)
	MaxVersionByCode(ctx context.Context, code string) (int, error)
	List(ctx context.Context, entityType string, activeOnly bool, limit, offset int) ([]*entity.WorkflowDefinition, error)
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
}

// StepRepository defines persistence operations for WorkflowStep
type StepRepository interface {
	Create(ctx context.Context, step *entity.WorkflowStep) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowStep, error)
	GetByCode(ctx context.Context, definitionID int64, stepCode string) (*entity.WorkflowStep, error)
	// ListByDefinition returns the definition's steps ordered start-step-first,
	// then by sort order and code.
	ListByDefinition(ctx context.Context, definitionID int64) ([]*entity.WorkflowStep, error)
	Update(ctx context.Context, step *entity.WorkflowStep) error
	Delete(ctx context.Context, id int64) error
	DeleteByDefinition(ctx context.Context, definitionID int64) error
}

// InstanceRepository defines persistence operations for WorkflowInstance.
// Update is optimistic: it matches the row on (id, version) and reports
// whether a row was written; false means the caller lost a concurrent race
// and must re-read.
type InstanceRepository interface {
	Create(ctx context.Context, instance *entity.WorkflowInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	GetActiveByEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error)
	ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.WorkflowInstance, error)
	CountActiveByDefinition(ctx context.Context, definitionID int64) (int, error)
	Update(ctx context.Context, instance *entity.WorkflowInstance) (bool, error)
}

// StepInstanceRepository defines persistence operations for WorkflowStepInstance
type StepInstanceRepository interface {
	Create(ctx context.Context, stepInstance *entity.WorkflowStepInstance) error
	GetByID(ctx context.Context, id int64) (*entity.WorkflowStepInstance, error)
	GetCurrentByInstance(ctx context.Context, instanceID int64) (*entity.WorkflowStepInstance, error)
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepInstance, error)
	Update(ctx context.Context, stepInstance *entity.WorkflowStepInstance) error
	// ListTimedOut returns open step instances of active instances whose
	// step-level timeout elapsed, with the timeout policy to apply.
	ListTimedOut(ctx context.Context, limit int) ([]*entity.TimedOutStepInstance, error)
}

// TransitionRepository defines persistence operations for the append-only
// transition log. There is deliberately no update or delete.
type TransitionRepository interface {
	Create(ctx context.Context, transition *entity.WorkflowTransition) error
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowTransition, error)
	HasVisited(ctx context.Context, instanceID int64, stepCode string) (bool, error)
}

// ApprovalRepository defines persistence operations for WorkflowApproval
type ApprovalRepository interface {
	Create(ctx context.Context, approval *entity.WorkflowApproval) error
	GetByStepInstanceAndApprover(ctx context.Context, stepInstanceID int64, approverID string) (*entity.WorkflowApproval, error)
	ListByStepInstance(ctx context.Context, stepInstanceID int64) ([]*entity.WorkflowApproval, error)
}
