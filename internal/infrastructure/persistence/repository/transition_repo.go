package repository

import (
	"context"
	"fmt"

	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/pkg/database"
	"go.uber.org/zap"
)

// TransitionRepository implements port.TransitionRepository. The transition
// log is append-only: there is no update and no delete.
type TransitionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewTransitionRepository creates a new transition repository
func NewTransitionRepository(db *database.DB, logger *zap.Logger) port.TransitionRepository {
	return &TransitionRepository{
		db:     db,
		logger: logger,
	}
}

// Create appends a transition record
func (r *TransitionRepository) Create(ctx context.Context, transition *entity.WorkflowTransition) error {
	query := `
		INSERT INTO workflow_transitions (
			instance_id, from_step_code, to_step_code, transition_type,
			reason, transition_data, triggered_by
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		transition.InstanceID,
		transition.FromStepCode,
		transition.ToStepCode,
		transition.TransitionType,
		transition.Reason,
		transition.TransitionData,
		transition.TriggeredBy,
	)
	if err != nil {
		r.logger.Error("Failed to create transition",
			zap.Int64("instance_id", transition.InstanceID),
			zap.Error(err))
		return fmt.Errorf("failed to create transition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	transition.ID = id
	return nil
}

// ListByInstance returns the full transition log of an instance, oldest first
func (r *TransitionRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowTransition, error) {
	query := `
		SELECT id, instance_id, from_step_code, to_step_code, transition_type,
			reason, transition_data, triggered_by, created_at
		FROM workflow_transitions
		WHERE instance_id = ?
		ORDER BY id
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to list transitions", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	defer rows.Close()

	var transitions []*entity.WorkflowTransition
	for rows.Next() {
		var transition entity.WorkflowTransition
		err := rows.Scan(
			&transition.ID,
			&transition.InstanceID,
			&transition.FromStepCode,
			&transition.ToStepCode,
			&transition.TransitionType,
			&transition.Reason,
			&transition.TransitionData,
			&transition.TriggeredBy,
			&transition.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transition: %w", err)
		}
		transitions = append(transitions, &transition)
	}
	return transitions, rows.Err()
}

// HasVisited reports whether the instance ever left the given step, i.e. the
// step appears as the source of a recorded transition.
func (r *TransitionRepository) HasVisited(ctx context.Context, instanceID int64, stepCode string) (bool, error) {
	query := `SELECT COUNT(*) FROM workflow_transitions WHERE instance_id = ? AND from_step_code = ?`

	var count int
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, instanceID, stepCode).Scan(&count); err != nil {
		r.logger.Error("Failed to check visited step",
			zap.Int64("instance_id", instanceID),
			zap.String("step_code", stepCode),
			zap.Error(err))
		return false, fmt.Errorf("failed to check visited step: %w", err)
	}
	return count > 0, nil
}

var _ port.TransitionRepository = (*TransitionRepository)(nil)
