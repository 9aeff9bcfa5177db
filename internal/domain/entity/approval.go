package entity

import "time"

// WorkflowApproval is one approver's vote against a step instance that is
// configured as an approval step. One vote per (step instance, approver).
type WorkflowApproval struct {
	ID             int64     `json:"id"`
	StepInstanceID int64     `json:"step_instance_id"`
	ApproverID     string    `json:"approver_id"`
	Decision       string    `json:"decision"`
	Comments       string    `json:"comments,omitempty"`
	RespondedAt    time.Time `json:"responded_at"`
	CreatedAt      time.Time `json:"created_at"`
}

// ApprovalSummary aggregates the votes recorded against a step instance
// together with the step's configured policy. It is advisory: the engine
// records votes but never drives a transition from them.
type ApprovalSummary struct {
	StepInstanceID    int64  `json:"step_instance_id"`
	Approved          int    `json:"approved"`
	Rejected          int    `json:"rejected"`
	Policy            string `json:"policy"`
	RequiredApprovals int    `json:"required_approvals"`
	PolicySatisfied   bool   `json:"policy_satisfied"`
	AnyRejection      bool   `json:"any_rejection"`
}
