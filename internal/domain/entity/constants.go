package entity

// Workflow instance statuses
const (
	InstanceStatusActive    = "active"
	InstanceStatusCompleted = "completed"
	InstanceStatusCancelled = "cancelled"
)

// Step instance statuses
const (
	StepInstanceStatusInProgress = "in_progress"
	StepInstanceStatusCompleted  = "completed"
	StepInstanceStatusCancelled  = "cancelled"
)

// Transition types
const (
	TransitionTypeNormal   = "normal"
	TransitionTypeSkip     = "skip"
	TransitionTypeRollback = "rollback"
	TransitionTypeCancel   = "cancel"
)

// Step types. StepType is a free-form classifier; these are the values the
// engine itself gives meaning to.
const (
	StepTypeApproval = "approval"
	StepTypeTask     = "task"
	StepTypeAuto     = "automatic"
)

// Approval decisions
const (
	ApprovalDecisionApproved = "approved"
	ApprovalDecisionRejected = "rejected"
)

// Timeout actions. TimeoutActionSkipPrefix is followed by the target step code,
// e.g. "skip:escalated".
const (
	TimeoutActionCancel     = "cancel"
	TimeoutActionSkipPrefix = "skip:"
)

// Step configuration keys interpreted by the approval tracker
const (
	ConfigKeyRequiresApproval  = "requires_approval"
	ConfigKeyApprovalPolicy    = "approval_policy"
	ConfigKeyRequiredApprovals = "required_approvals"
)

// Approval aggregation policies (advisory, surfaced by ApprovalSummary)
const (
	ApprovalPolicyAll = "all"
	ApprovalPolicyAny = "any"
)
