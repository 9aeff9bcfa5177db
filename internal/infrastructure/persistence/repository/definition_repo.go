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

// DefinitionRepository implements port.DefinitionRepository
type DefinitionRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewDefinitionRepository creates a new definition repository
func NewDefinitionRepository(db *database.DB, logger *zap.Logger) port.DefinitionRepository {
	return &DefinitionRepository{
		db:     db,
		logger: logger,
	}
}

const definitionColumns = `id, code, name, description, version, entity_type, schema,
	is_active, created_by, created_at, updated_at`

// Create inserts a workflow definition
func (r *DefinitionRepository) Create(ctx context.Context, def *entity.WorkflowDefinition) error {
	query := `
		INSERT INTO workflow_definitions (
			code, name, description, version, entity_type, schema, is_active, created_by
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.Executor(ctx).ExecContext(ctx, query,
		def.Code,
		def.Name,
		def.Description,
		def.Version,
		def.EntityType,
		def.Schema,
		def.IsActive,
		def.CreatedBy,
	)
	if err != nil {
		r.logger.Error("Failed to create definition", zap.String("code", def.Code), zap.Error(err))
		return fmt.Errorf("failed to create definition: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	def.ID = id
	return nil
}

// GetByID retrieves a definition by id; (nil, nil) when absent
func (r *DefinitionRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE id = ?`

	def, err := scanDefinition(r.db.Executor(ctx).QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get definition", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get definition: %w", err)
	}
	return def, nil
}

// MaxVersionByCode returns the highest version stored for a code, 0 when none
func (r *DefinitionRepository) MaxVersionByCode(ctx context.Context, code string) (int, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM workflow_definitions WHERE code = ?`

	var version int
	if err := r.db.Executor(ctx).QueryRowContext(ctx, query, code).Scan(&version); err != nil {
		r.logger.Error("Failed to get max version", zap.String("code", code), zap.Error(err))
		return 0, fmt.Errorf("failed to get max version: %w", err)
	}
	return version, nil
}

// List retrieves definitions filtered by entity type and active flag
func (r *DefinitionRepository) List(ctx context.Context, entityType string, activeOnly bool, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	query := `SELECT ` + definitionColumns + ` FROM workflow_definitions WHERE 1=1`
	args := make([]interface{}, 0, 4)

	if entityType != "" {
		query += ` AND entity_type = ?`
		args = append(args, entityType)
	}
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY code, version DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.Executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list definitions", zap.Error(err))
		return nil, fmt.Errorf("failed to list definitions: %w", err)
	}
	defer rows.Close()

	var defs []*entity.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan definition: %w", err)
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

// SetActive toggles the is_active flag
func (r *DefinitionRepository) SetActive(ctx context.Context, id int64, active bool) error {
	query := `UPDATE workflow_definitions SET is_active = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, active, id); err != nil {
		r.logger.Error("Failed to set definition active flag", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to set definition active flag: %w", err)
	}
	return nil
}

// Delete removes a definition row. Step rows must be removed first; the
// service enforces the ordering inside one transaction.
func (r *DefinitionRepository) Delete(ctx context.Context, id int64) error {
	query := `DELETE FROM workflow_definitions WHERE id = ?`

	if _, err := r.db.Executor(ctx).ExecContext(ctx, query, id); err != nil {
		r.logger.Error("Failed to delete definition", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to delete definition: %w", err)
	}
	return nil
}

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDefinition(row rowScanner) (*entity.WorkflowDefinition, error) {
	var def entity.WorkflowDefinition
	err := row.Scan(
		&def.ID,
		&def.Code,
		&def.Name,
		&def.Description,
		&def.Version,
		&def.EntityType,
		&def.Schema,
		&def.IsActive,
		&def.CreatedBy,
		&def.CreatedAt,
		&def.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &def, nil
}

var _ port.DefinitionRepository = (*DefinitionRepository)(nil)
