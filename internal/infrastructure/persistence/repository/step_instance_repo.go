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

// StepInstanceRepository implements port.StepInstanceRepository
type StepInstanceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewStepInstanceRepository creates a new step instance repository
func NewStepInstanceRepository(db *database.DB, logger *zap.Logger) port.StepInstanceRepository {
	return &StepInstanceRepository{
		db:     db,
		logger: logger,
	}
}

const stepInstanceColumns = `id, instance_id, step_id, step_code, status, assigned_to,
	step_data, notes, completed_by, started_at, completed_at, created_at, updated_at`

// Create inserts a step instance
func (r *StepInstanceRepository) Create(ctx context.Context, stepInstance *entity.WorkflowStepInstance) error {
	query := `
		INSERT INTO workflow_step_instances (
			instance_id, step_id, step_code, status, assigned_to, step_data,
			notes, completed_by, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		stepInstance.InstanceID,
		stepInstance.StepID,
		stepInstance.StepCode,
		stepInstance.Status,
		stepInstance.AssignedTo,
		stepInstance.StepData,
		stepInstance.Notes,
		stepInstance.CompletedBy,
		stepInstance.StartedAt,
		stepInstance.CompletedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create step instance",
			zap.Int64("instance_id", stepInstance.InstanceID),
			zap.String("step_code", stepInstance.StepCode),
			zap.Error(err))
		return fmt.Errorf("failed to create step instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	stepInstance.ID = id
	return nil
}

// GetByID retrieves a step instance by id; (nil, nil) when absent
func (r *StepInstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowStepInstance, error) {
	query := `SELECT ` + stepInstanceColumns + ` FROM workflow_step_instances WHERE id = ?`

	stepInstance, err := scanStepInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get step instance", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get step instance: %w", err)
	}
	return stepInstance, nil
}

// GetCurrentByInstance retrieves the single in_progress step instance of an
// instance; (nil, nil) when the instance has no open step.
func (r *StepInstanceRepository) GetCurrentByInstance(ctx context.Context, instanceID int64) (*entity.WorkflowStepInstance, error) {
	query := `SELECT ` + stepInstanceColumns + ` FROM workflow_step_instances
		WHERE instance_id = ? AND status = 'in_progress'
		ORDER BY id DESC LIMIT 1`

	stepInstance, err := scanStepInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, instanceID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get current step instance", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to get current step instance: %w", err)
	}
	return stepInstance, nil
}

// ListByInstance returns all step executions of an instance, oldest first
func (r *StepInstanceRepository) ListByInstance(ctx context.Context, instanceID int64) ([]*entity.WorkflowStepInstance, error) {
	query := `SELECT ` + stepInstanceColumns + ` FROM workflow_step_instances
		WHERE instance_id = ? ORDER BY id`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, instanceID)
	if err != nil {
		r.logger.Error("Failed to list step instances", zap.Int64("instance_id", instanceID), zap.Error(err))
		return nil, fmt.Errorf("failed to list step instances: %w", err)
	}
	defer rows.Close()

	var stepInstances []*entity.WorkflowStepInstance
	for rows.Next() {
		stepInstance, err := scanStepInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan step instance: %w", err)
		}
		stepInstances = append(stepInstances, stepInstance)
	}
	return stepInstances, rows.Err()
}

// Update rewrites a step instance's mutable fields
func (r *StepInstanceRepository) Update(ctx context.Context, stepInstance *entity.WorkflowStepInstance) error {
	query := `
		UPDATE workflow_step_instances SET
			status = ?, assigned_to = ?, step_data = ?, notes = ?, completed_by = ?,
			completed_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query,
		stepInstance.Status,
		stepInstance.AssignedTo,
		stepInstance.StepData,
		stepInstance.Notes,
		stepInstance.CompletedBy,
		stepInstance.CompletedAt,
		stepInstance.ID,
	); err != nil {
		r.logger.Error("Failed to update step instance", zap.Int64("id", stepInstance.ID), zap.Error(err))
		return fmt.Errorf("failed to update step instance: %w", err)
	}
	return nil
}

// ListTimedOut returns open step instances of active instances whose
// step-level timeout has elapsed, with the policy the scheduler must apply.
func (r *StepInstanceRepository) ListTimedOut(ctx context.Context, limit int) ([]*entity.TimedOutStepInstance, error) {
	query := `
		SELECT si.id, si.instance_id, si.step_id, si.step_code, si.status, si.assigned_to,
			si.step_data, si.notes, si.completed_by, si.started_at, si.completed_at,
			si.created_at, si.updated_at,
			s.timeout_minutes, s.timeout_action
		FROM workflow_step_instances si
		JOIN workflow_steps s ON s.id = si.step_id
		JOIN workflow_instances i ON i.id = si.instance_id
		WHERE si.status = 'in_progress'
			AND i.status = 'active'
			AND s.timeout_minutes > 0
			AND datetime(si.started_at, '+' || s.timeout_minutes || ' minutes') <= datetime('now')
		ORDER BY si.started_at
		LIMIT ?
	`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, limit)
	if err != nil {
		r.logger.Error("Failed to list timed out step instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list timed out step instances: %w", err)
	}
	defer rows.Close()

	var timedOut []*entity.TimedOutStepInstance
	for rows.Next() {
		var stepInstance entity.WorkflowStepInstance
		var completedAt sql.NullTime
		var timeoutMinutes int
		var timeoutAction string

		err := rows.Scan(
			&stepInstance.ID,
			&stepInstance.InstanceID,
			&stepInstance.StepID,
			&stepInstance.StepCode,
			&stepInstance.Status,
			&stepInstance.AssignedTo,
			&stepInstance.StepData,
			&stepInstance.Notes,
			&stepInstance.CompletedBy,
			&stepInstance.StartedAt,
			&completedAt,
			&stepInstance.CreatedAt,
			&stepInstance.UpdatedAt,
			&timeoutMinutes,
			&timeoutAction,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timed out step instance: %w", err)
		}
		if completedAt.Valid {
			stepInstance.CompletedAt = &completedAt.Time
		}

		timedOut = append(timedOut, &entity.TimedOutStepInstance{
			StepInstance:   &stepInstance,
			TimeoutMinutes: timeoutMinutes,
			TimeoutAction:  timeoutAction,
		})
	}
	return timedOut, rows.Err()
}

func scanStepInstance(row rowScanner) (*entity.WorkflowStepInstance, error) {
	var stepInstance entity.WorkflowStepInstance
	var completedAt sql.NullTime

	err := row.Scan(
		&stepInstance.ID,
		&stepInstance.InstanceID,
		&stepInstance.StepID,
		&stepInstance.StepCode,
		&stepInstance.Status,
		&stepInstance.AssignedTo,
		&stepInstance.StepData,
		&stepInstance.Notes,
		&stepInstance.CompletedBy,
		&stepInstance.StartedAt,
		&completedAt,
		&stepInstance.CreatedAt,
		&stepInstance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		stepInstance.CompletedAt = &completedAt.Time
	}
	return &stepInstance, nil
}

var _ port.StepInstanceRepository = (*StepInstanceRepository)(nil)
