package entity

import "time"

// WorkflowStepInstance is one execution of a step within an instance. At most
// one in_progress step instance exists per active instance: the current step.
type WorkflowStepInstance struct {
	ID          int64      `json:"id"`
	InstanceID  int64      `json:"instance_id"`
	StepID      int64      `json:"step_id"`
	StepCode    string     `json:"step_code"`
	Status      string     `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	StepData    JSONMap    `json:"step_data"`
	Notes       string     `json:"notes,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsInProgress reports whether the step instance is still open
func (s *WorkflowStepInstance) IsInProgress() bool {
	return s.Status == StepInstanceStatusInProgress
}

// TimedOutStepInstance is an open step instance whose step-level timeout has
// elapsed, joined with the timeout policy the scheduler must apply.
type TimedOutStepInstance struct {
	StepInstance   *WorkflowStepInstance `json:"step_instance"`
	TimeoutMinutes int                   `json:"timeout_minutes"`
	TimeoutAction  string                `json:"timeout_action"`
}
