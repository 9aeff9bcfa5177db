package entity

import "time"

// WorkflowInstance is one running (or finished) execution of a definition
// against exactly one business entity. Version is an optimistic concurrency
// counter bumped on every mutation; a stale update affects zero rows and is
// surfaced as a conflict.
type WorkflowInstance struct {
	ID              int64      `json:"id"`
	DefinitionID    int64      `json:"definition_id"`
	EntityType      string     `json:"entity_type"`
	EntityID        string     `json:"entity_id"`
	CurrentStepCode string     `json:"current_step_code"`
	Status          string     `json:"status"`
	WorkflowData    JSONMap    `json:"workflow_data"`
	InitiatedBy     string     `json:"initiated_by"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	Version         int64      `json:"version"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// IsActive reports whether the instance still accepts mutations
func (i *WorkflowInstance) IsActive() bool {
	return i.Status == InstanceStatusActive
}

// IsTerminal reports whether the instance reached a terminal state
func (i *WorkflowInstance) IsTerminal() bool {
	return i.Status == InstanceStatusCompleted || i.Status == InstanceStatusCancelled
}
