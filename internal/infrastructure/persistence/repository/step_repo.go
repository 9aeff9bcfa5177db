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

// StepRepository implements port.StepRepository
type StepRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewStepRepository creates a new step repository
func NewStepRepository(db *database.DB, logger *zap.Logger) port.StepRepository {
	return &StepRepository{
		db:     db,
		logger: logger,
	}
}

const stepColumns = `id, definition_id, step_code, name, description, step_type,
	step_configuration, transition_rules, is_start_step, is_end_step, sort_order,
	timeout_minutes, timeout_action, created_at, updated_at`

// Create inserts a workflow step
func (r *StepRepository) Create(ctx context.Context, step *entity.WorkflowStep) error {
	query := `
		INSERT INTO workflow_steps (
			definition_id, step_code, name, description, step_type,
			step_configuration, transition_rules, is_start_step, is_end_step,
			sort_order, timeout_minutes, timeout_action
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		step.DefinitionID,
		step.StepCode,
		step.Name,
		step.Description,
		step.StepType,
		step.StepConfiguration,
		step.TransitionRules,
		step.IsStartStep,
		step.IsEndStep,
		step.SortOrder,
		step.TimeoutMinutes,
		step.TimeoutAction,
	)
	if err != nil {
		r.logger.Error("Failed to create step",
			zap.Int64("definition_id", step.DefinitionID),
			zap.String("step_code", step.StepCode),
			zap.Error(err))
		return fmt.Errorf("failed to create step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	step.ID = id
	return nil
}

// GetByID retrieves a step by id; (nil, nil) when absent
func (r *StepRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowStep, error) {
	query := `SELECT ` + stepColumns + ` FROM workflow_steps WHERE id = ?`

	step, err := scanStep(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// GetByCode retrieves a step by definition and code; (nil, nil) when absent
func (r *StepRepository) GetByCode(ctx context.Context, definitionID int64, stepCode string) (*entity.WorkflowStep, error) {
	query := `SELECT ` + stepColumns + ` FROM workflow_steps WHERE definition_id = ? AND step_code = ?`

	step, err := scanStep(r.db.Executor(ctx).QueryRowContext(ctx, query, definitionID, stepCode))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step by code",
			zap.Int64("definition_id", definitionID),
			zap.String("step_code", stepCode),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get step: %w", err)
	}
	return step, nil
}

// ListByDefinition returns a definition's steps ordered start-step-first
func (r *StepRepository) ListByDefinition(ctx context.Context, definitionID int64) ([]*entity.WorkflowStep, error) {
	query := `SELECT ` + stepColumns + ` FROM workflow_steps
		WHERE definition_id = ?
		ORDER BY is_start_step DESC, sort_order, step_code`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, definitionID)
	if err != nil {
		r.logger.Error("Failed to list steps", zap.Int64("definition_id", definitionID), zap.Error(err))
		return nil, fmt.Errorf("failed to list steps: %w", err)
	}
	defer rows.Close()

	var steps []*entity.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step: %w", err)
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

// Update rewrites a step row
func (r *StepRepository) Update(ctx context.Context, step *entity.WorkflowStep) error {
	query := `
		UPDATE workflow_steps SET
			name = ?, description = ?, step_type = ?, step_configuration = ?,
			transition_rules = ?, is_start_step = ?, is_end_step = ?,
			sort_order = ?, timeout_minutes = ?, timeout_action = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query,
		step.Name,
		step.Description,
		step.StepType,
		step.StepConfiguration,
		step.TransitionRules,
		step.IsStartStep,
		step.IsEndStep,
		step.SortOrder,
		step.TimeoutMinutes,
		step.TimeoutAction,
		step.ID,
	); err != nil {
		r.logger.Error("Failed to update step", zap.Int64("id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to update step: %w", err)
	}
	return nil
}

// Delete removes a single step
func (r *StepRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM workflow_steps WHERE id = ?`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, id); err != nil {
		r.logger.Error("Failed to delete step", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete step: %w", err)
	}
	return nil
}

// DeleteByDefinition removes all steps of a definition
func (r *StepRepository) DeleteByDefinition(ctx context.Context, definitionID int64) error {
	query := `DELETE FROM workflow_steps WHERE definition_id = ?`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, definitionID); err != nil {
		r.logger.Error("Failed to delete steps", zap.Int64("definition_id", definitionID), zap.Error(err))
		return fmt.Errorf("failed to delete steps: %w", err)
	}
	return nil
}

func scanStep(row rowScanner) (*entity.WorkflowStep, error) {
	var step entity.WorkflowStep
	err := row.Scan(
		&step.ID,
		&step.DefinitionID,
		&step.StepCode,
		&step.Name,
		&step.Description,
		&step.StepType,
		&step.StepConfiguration,
		&step.TransitionRules,
		&step.IsStartStep,
		&step.IsEndStep,
		&step.SortOrder,
		&step.TimeoutMinutes,
		&step.TimeoutAction,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &step, nil
}

var _ port.StepRepository = (*StepRepository)(nil)
