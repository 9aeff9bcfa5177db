package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wmstack/workflow-engine/internal/application/port"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
	"github.com/wmstack/workflow-engine/internal/domain/workflow"
	"go.uber.org/zap"
)

// StepInput describes one step of a definition being created or versioned
type StepInput struct {
	StepCode          string                 `json:"step_code"`
	Name              string                 `json:"name"`
	Description       string                 `json:"description"`
	StepType          string                 `json:"step_type"`
	StepConfiguration entity.JSONMap         `json:"step_configuration"`
	TransitionRules   entity.TransitionRules `json:"transition_rules"`
	IsStartStep       bool                   `json:"is_start_step"`
	IsEndStep         bool                   `json:"is_end_step"`
	SortOrder         int                    `json:"sort_order"`
	TimeoutMinutes    int                    `json:"timeout_minutes"`
	TimeoutAction     string                 `json:"timeout_action"`
}

// CreateDefinitionInput is the atomic definition-plus-steps creation payload
type CreateDefinitionInput struct {
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	EntityType  string         `json:"entity_type"`
	Schema      entity.JSONMap `json:"schema"`
	IsActive    bool           `json:"is_active"`
	Steps       []StepInput    `json:"steps"`
}

// VersionOverrides are the caller-supplied fields of a new definition version
type VersionOverrides struct {
	Name        *string        `json:"name"`
	Description *string        `json:"description"`
	Schema      entity.JSONMap `json:"schema"`
	IsActive    *bool          `json:"is_active"`
}

// DefinitionService is the workflow definition registry: it creates and
// versions definitions with their steps as one atomic unit and guards the
// structural invariants of the step graph.
type DefinitionService struct {
	tx          port.TransactionManager
	definitions port.DefinitionRepository
	steps       port.StepRepository
	instances   port.InstanceRepository
	logger      *zap.Logger
}

// NewDefinitionService creates a new definition service
func NewDefinitionService(
	tx port.TransactionManager,
	definitions port.DefinitionRepository,
	steps port.StepRepository,
	instances port.InstanceRepository,
	logger *zap.Logger,
) *DefinitionService {
	return &DefinitionService{
		tx:          tx,
		definitions: definitions,
		steps:       steps,
		instances:   instances,
		logger:      logger,
	}
}

// CreateDefinition validates and persists a definition with its steps. Either
// every row becomes visible or none does.
func (s *DefinitionService) CreateDefinition(ctx context.Context, input CreateDefinitionInput, actor string) (*entity.WorkflowDefinition, []*entity.WorkflowStep, error) {
	var violations []string
	if strings.TrimSpace(input.Code) == "" {
		violations = append(violations, "code is required")
	}
	if strings.TrimSpace(input.Name) == "" {
		violations = append(violations, "name is required")
	}
	if strings.TrimSpace(input.EntityType) == "" {
		violations = append(violations, "entity_type is required")
	}

	steps := buildSteps(input.Steps)
	graph, err := workflow.BuildGraph(steps)
	if err != nil {
		if validationErr, ok := err.(*workflow.ValidationError); ok {
			violations = append(violations, validationErr.Violations...)
		} else {
			return nil, nil, err
		}
	}
	if graph != nil {
		violations = append(violations, validateTimeouts(graph, steps)...)
	}
	if len(violations) > 0 {
		return nil, nil, workflow.NewValidationError(violations...)
	}

	def := &entity.WorkflowDefinition{
		Code:        input.Code,
		Name:        input.Name,
		Description: input.Description,
		Version:     1,
		EntityType:  input.EntityType,
		Schema:      input.Schema,
		IsActive:    input.IsActive,
		CreatedBy:   actor,
	}

	maxVersion, err := s.definitions.MaxVersionByCode(ctx, input.Code)
	if err != nil {
		return nil, nil, err
	}
	if maxVersion > 0 {
		return nil, nil, workflow.NewConflictError("definition with code %q already exists; use versioning instead", input.Code)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.definitions.Create(ctx, def); err != nil {
			return err
		}
		for _, step := range steps {
			step.DefinitionID = def.ID
			if err := s.steps.Create(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Workflow definition created",
		zap.Int64("definition_id", def.ID),
		zap.String("code", def.Code),
		zap.Int("steps", len(steps)))

	return def, steps, nil
}

// CreateNewVersion copies the full step graph of an existing definition into
// a new definition row with a bumped version. The source definition is left
// untouched; running instances keep referencing it by id.
func (s *DefinitionService) CreateNewVersion(ctx context.Context, definitionID int64, overrides VersionOverrides, actor string) (*entity.WorkflowDefinition, []*entity.WorkflowStep, error) {
	source, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil {
		return nil, nil, err
	}
	if source == nil {
		return nil, nil, workflow.NewNotFoundError("definition", definitionID)
	}

	sourceSteps, err := s.steps.ListByDefinition(ctx, definitionID)
	if err != nil {
		return nil, nil, err
	}

	maxVersion, err := s.definitions.MaxVersionByCode(ctx, source.Code)
	if err != nil {
		return nil, nil, err
	}

	next := &entity.WorkflowDefinition{
		Code:        source.Code,
		Name:        source.Name,
		Description: source.Description,
		Version:     maxVersion + 1,
		EntityType:  source.EntityType,
		Schema:      source.Schema,
		IsActive:    source.IsActive,
		CreatedBy:   actor,
	}
	if overrides.Name != nil {
		next.Name = *overrides.Name
	}
	if overrides.Description != nil {
		next.Description = *overrides.Description
	}
	if overrides.Schema != nil {
		next.Schema = overrides.Schema
	}
	if overrides.IsActive != nil {
		next.IsActive = *overrides.IsActive
	}

	copied := make([]*entity.WorkflowStep, 0, len(sourceSteps))
	for _, src := range sourceSteps {
		step := *src
		step.ID = 0
		step.DefinitionID = 0
		copied = append(copied, &step)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.definitions.Create(ctx, next); err != nil {
			return err
		}
		for _, step := range copied {
			step.DefinitionID = next.ID
			if err := s.steps.Create(ctx, step); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.Info("Workflow definition versioned",
		zap.Int64("source_id", source.ID),
		zap.Int64("definition_id", next.ID),
		zap.Int("version", next.Version))

	return next, copied, nil
}

// SetActive toggles the is_active flag. Running instances are unaffected.
func (s *DefinitionService) SetActive(ctx context.Context, definitionID int64, active bool) (*entity.WorkflowDefinition, error) {
	def, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, workflow.NewNotFoundError("definition", definitionID)
	}

	if err := s.definitions.SetActive(ctx, definitionID, active); err != nil {
		return nil, err
	}
	def.IsActive = active
	def.UpdatedAt = time.Now()
	return def, nil
}

// Delete removes a definition together with its steps, in that explicit
// order, inside one transaction. Definitions referenced by an active instance
// cannot be deleted.
func (s *DefinitionService) Delete(ctx context.Context, definitionID int64) error {
	def, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil {
		return err
	}
	if def == nil {
		return workflow.NewNotFoundError("definition", definitionID)
	}

	activeCount, err := s.instances.CountActiveByDefinition(ctx, definitionID)
	if err != nil {
		return err
	}
	if activeCount > 0 {
		return workflow.NewConflictError("definition %d has %d active instance(s) and cannot be deleted", definitionID, activeCount)
	}

	err = s.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.steps.DeleteByDefinition(ctx, definitionID); err != nil {
			return err
		}
		return s.definitions.Delete(ctx, definitionID)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Workflow definition deleted", zap.Int64("definition_id", definitionID))
	return nil
}

// Get returns a definition with its steps
func (s *DefinitionService) Get(ctx context.Context, definitionID int64) (*entity.WorkflowDefinition, []*entity.WorkflowStep, error) {
	def, err := s.definitions.GetByID(ctx, definitionID)
	if err != nil {
		return nil, nil, err
	}
	if def == nil {
		return nil, nil, workflow.NewNotFoundError("definition", definitionID)
	}

	steps, err := s.steps.ListByDefinition(ctx, definitionID)
	if err != nil {
		return nil, nil, err
	}
	return def, steps, nil
}

// List returns definitions filtered by entity type and active flag
func (s *DefinitionService) List(ctx context.Context, entityType string, activeOnly bool, limit, offset int) ([]*entity.WorkflowDefinition, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.definitions.List(ctx, entityType, activeOnly, limit, offset)
}

func buildSteps(inputs []StepInput) []*entity.WorkflowStep {
	steps := make([]*entity.WorkflowStep, 0, len(inputs))
	for _, in := range inputs {
		steps = append(steps, &entity.WorkflowStep{
			StepCode:          in.StepCode,
			Name:              in.Name,
			Description:       in.Description,
			StepType:          in.StepType,
			StepConfiguration: in.StepConfiguration,
			TransitionRules:   in.TransitionRules,
			IsStartStep:       in.IsStartStep,
			IsEndStep:         in.IsEndStep,
			SortOrder:         in.SortOrder,
			TimeoutMinutes:    in.TimeoutMinutes,
			TimeoutAction:     in.TimeoutAction,
		})
	}
	return steps
}

// validateTimeouts checks timeout policies against the step graph: a timeout
// needs an action, and a skip action must name an existing step.
func validateTimeouts(graph *workflow.Graph, steps []*entity.WorkflowStep) []string {
	var violations []string
	for _, step := range steps {
		violations = append(violations, validateTimeout(graph, step)...)
	}
	return violations
}

func validateTimeout(graph *workflow.Graph, step *entity.WorkflowStep) []string {
	if step.TimeoutMinutes < 0 {
		return []string{fmt.Sprintf("step %q: timeout_minutes must not be negative", step.StepCode)}
	}
	if step.TimeoutMinutes == 0 {
		if step.TimeoutAction != "" {
			return []string{fmt.Sprintf("step %q: timeout_action requires timeout_minutes", step.StepCode)}
		}
		return nil
	}

	switch {
	case step.TimeoutAction == entity.TimeoutActionCancel:
		return nil
	case strings.HasPrefix(step.TimeoutAction, entity.TimeoutActionSkipPrefix):
		target := strings.TrimPrefix(step.TimeoutAction, entity.TimeoutActionSkipPrefix)
		if _, ok := graph.Step(target); !ok {
			return []string{fmt.Sprintf("step %q: timeout skip target %q does not exist", step.StepCode, target)}
		}
		return nil
	default:
		return []string{fmt.Sprintf("step %q: unknown timeout_action %q", step.StepCode, step.TimeoutAction)}
	}
}
