package entity

import "time"

// WorkflowTransition is an immutable log record of a step move. ToStepCode is
// nil for cancellations. Rows are append-only: never updated, never deleted.
type WorkflowTransition struct {
	ID             int64     `json:"id"`
	InstanceID     int64     `json:"instance_id"`
	FromStepCode   string    `json:"from_step_code"`
	ToStepCode     *string   `json:"to_step_code"`
	TransitionType string    `json:"transition_type"`
	Reason         string    `json:"reason,omitempty"`
	TransitionData JSONMap   `json:"transition_data,omitempty"`
	TriggeredBy    string    `json:"triggered_by"`
	CreatedAt      time.Time `json:"created_at"`
}
