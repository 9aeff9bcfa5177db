package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/pkg/database"
	"go.uber.org/zap"
)

// ApprovalRepository implements port.ApprovalRepository
type ApprovalRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewApprovalRepository creates a new approval repository
func NewApprovalRepository(db *database.DB, logger *zap.Logger) port.ApprovalRepository {
	return &ApprovalRepository{
		db:     db,
		logger: logger,
	}
}

// Create inserts an approval vote. A second vote from the same approver on
// the same step instance trips the unique index and is reported as
// port.ErrDuplicate.
func (r *ApprovalRepository) Create(ctx context.Context, approval *entity.WorkflowApproval) error {
	query := `
		INSERT INTO workflow_approvals (
			step_instance_id, approver_id, decision, comments, responded_at
		) VALUES (?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		approval.StepInstanceID,
		approval.ApproverID,
		approval.Decision,
		approval.Comments,
		approval.RespondedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return port.ErrDuplicate
		}
		r.logger.Error("Failed to create approval",
			zap.Int64("step_instance_id", approval.StepInstanceID),
			zap.String("approver_id", approval.ApproverID),
			zap.Error(err))
		return fmt.Errorf("failed to create approval: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	approval.ID = id
	return nil
}

// GetByStepInstanceAndApprover retrieves a vote; (nil, nil) when absent
func (r *ApprovalRepository) GetByStepInstanceAndApprover(ctx context.Context, stepInstanceID int64, approverID string) (*entity.WorkflowApproval, error) {
	query := `
		SELECT id, step_instance_id, approver_id, decision, comments, responded_at, created_at
		FROM workflow_approvals
		WHERE step_instance_id = ? AND approver_id = ?
	`

	var approval entity.WorkflowApproval
	err := r.db.Executor(ctx).QueryRowContext(ctx, query, stepInstanceID, approverID).Scan(
		&approval.ID,
		&approval.StepInstanceID,
		&approval.ApproverID,
		&approval.Decision,
		&approval.Comments,
		&approval.RespondedAt,
		&approval.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get approval",
			zap.Int64("step_instance_id", stepInstanceID),
			zap.String("approver_id", approverID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get approval: %w", err)
	}
	return &approval, nil
}

// ListByStepInstance returns the votes recorded against a step instance
func (r *ApprovalRepository) ListByStepInstance(ctx context.Context, stepInstanceID int64) ([]*entity.WorkflowApproval, error) {
	query := `
		SELECT id, step_instance_id, approver_id, decision, comments, responded_at, created_at
		FROM workflow_approvals
		WHERE step_instance_id = ?
		ORDER BY id
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, stepInstanceID)
	if err != nil {
		r.logger.Error("Failed to list approvals", zap.Int64("step_instance_id", stepInstanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list approvals: %w", err)
	}
	defer rows.Close()

	var approvals []*entity.WorkflowApproval
	for rows.Next() {
		var approval entity.WorkflowApproval
		err := rows.Scan(
			&approval.ID,
			&approval.StepInstanceID,
			&approval.ApproverID,
			&approval.Decision,
			&approval.Comments,
			&approval.RespondedAt,
			&approval.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval: %w", err)
		}
		approvals = append(approvals, &approval)
	}
	return approvals, rows.Err()
}

var _ port.ApprovalRepository = (*ApprovalRepository)(nil)
