package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/mattn/go-sqlite3"
	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/pkg/database"
	"go.uber.org/zap"
)

// InstanceRepository implements port.InstanceRepository
type InstanceRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewInstanceRepository creates a new instance repository
func NewInstanceRepository(db *database.DB, logger *zap.Logger) port.InstanceRepository {
	return &InstanceRepository{
		db:     db,
		logger: logger,
	}
}

const instanceColumns = `id, definition_id, entity_type, entity_id, current_step_code,
	status, workflow_data, initiated_by, cancel_reason, version, started_at,
	completed_at, created_at, updated_at`

// Create inserts a workflow instance. A second active instance for the same
// entity trips the partial unique index and is reported as port.ErrDuplicate.
func (r *InstanceRepository) Create(ctx context.Context, instance *entity.WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances (
			definition_id, entity_type, entity_id, current_step_code, status,
			workflow_data, initiated_by, cancel_reason, version, started_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		instance.DefinitionID,
		instance.EntityType,
		instance.EntityID,
		instance.CurrentStepCode,
		instance.Status,
		instance.WorkflowData,
		instance.InitiatedBy,
		instance.CancelReason,
		instance.Version,
		instance.StartedAt,
		instance.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return port.ErrDuplicate
		}
		r.logger.Error("Failed to create instance",
			zap.String("entity_type", instance.EntityType),
			zap.String("entity_id", instance.EntityID),
			zap.Error(err))
		return fmt.Errorf("failed to create instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	instance.ID = id
	return nil
}

// GetByID retrieves an instance by id; (nil, nil) when absent
func (r *InstanceRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances WHERE id = ?`

	instance, err := scanInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get instance", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get instance: %w", err)
	}
	return instance, nil
}

// GetActiveByEntity retrieves the single active instance for an entity
func (r *InstanceRepository) GetActiveByEntity(ctx context.Context, entityType, entityID string) (*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances
		WHERE entity_type = ? AND entity_id = ? AND status = 'active'`

	instance, err := scanInstance(r.db.Executor(ctx).QueryRowContext(ctx, query, entityType, entityID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get active instance",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get active instance: %w", err)
	}
	return instance, nil
}

// ListByEntity returns every instance bound to an entity, newest first
func (r *InstanceRepository) ListByEntity(ctx context.Context, entityType, entityID string) ([]*entity.WorkflowInstance, error) {
	query := `SELECT ` + instanceColumns + ` FROM workflow_instances
		WHERE entity_type = ? AND entity_id = ?
		ORDER BY started_at DESC, id DESC`

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, entityType, entityID)
	if err != nil {
		r.logger.Error("Failed to list instances", zap.Error(err))
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	var instances []*entity.WorkflowInstance
	for rows.Next() {
		instance, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan instance: %w", err)
		}
		instances = append(instances, instance)
	}
	return instances, rows.Err()
}

// CountActiveByDefinition counts active instances pinned to a definition
func (r *InstanceRepository) CountActiveByDefinition(ctx context.Context, definitionID int64) (int, error) {
	query := `SELECT COUNT(*) FROM workflow_instances WHERE definition_id = ? AND status = 'active'`

	var count int
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, definitionID).Scan(&count); err != nil {
		r.logger.Error("Failed to count active instances", zap.Int64("definition_id", definitionID), zap.Error(err))
		return 0, fmt.Errorf("failed to count active instances: %w", err)
	}
	return count, nil
}

// Update writes an instance's mutable fields with an optimistic version
// check. It reports false when no row matched (id, version): the caller lost
// a concurrent race and must re-read before retrying.
func (r *InstanceRepository) Update(ctx context.Context, instance *entity.WorkflowInstance) (bool, error) {
	query := `
		UPDATE workflow_instances SET
			current_step_code = ?, status = ?, workflow_data = ?, cancel_reason = ?,
			completed_at = ?, version = version + 1, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		instance.CurrentStepCode,
		instance.Status,
		instance.WorkflowData,
		instance.CancelReason,
		instance.CompletedAt,
		instance.ID,
		instance.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update instance", zap.Int64("id", instance.ID), zap.Error(err))
		return false, fmt.Errorf("failed to update instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return false, nil
	}

	instance.Version++
	return true, nil
}

func scanInstance(row rowScanner) (*entity.WorkflowInstance, error) {
	var instance entity.WorkflowInstance
	var completedAt sql.NullTime

	err := row.Scan(
		&instance.ID,
		&instance.DefinitionID,
		&instance.EntityType,
		&instance.EntityID,
		&instance.CurrentStepCode,
		&instance.Status,
		&instance.WorkflowData,
		&instance.InitiatedBy,
		&instance.CancelReason,
		&instance.Version,
		&instance.StartedAt,
		&completedAt,
		&instance.CreatedAt,
		&instance.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		instance.CompletedAt = &completedAt.Time
	}
	return &instance, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

var _ port.InstanceRepository = (*InstanceRepository)(nil)
