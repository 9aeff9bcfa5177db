package entity

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RuleCondition is the typed condition of a transition rule: a small
// (field, operator, value) expression evaluated against workflow data.
// Operator "expr" carries an expression-language condition instead; it is
// compiled and checked once, when the definition is created.
type RuleCondition struct {
	Operator   string      `json:"operator"`
	Field      string      `json:"field,omitempty"`
	Value      interface{} `json:"value,omitempty"`
	Expression string      `json:"expression,omitempty"`
}

// TransitionRule maps a condition over workflow data to a candidate next step.
type TransitionRule struct {
	Condition RuleCondition `json:"condition"`
	NextStep  string        `json:"next_step"`
	Label     string        `json:"label,omitempty"`
}

// TransitionRules is the ordered rule list of a step, stored as JSON text.
type TransitionRules []TransitionRule

// Value implements driver.Valuer
func (r TransitionRules) Value() (driver.Value, error) {
	if r == nil {
		return "[]", nil
	}
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transition rules: %w", err)
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (r *TransitionRules) Scan(src interface{}) error {
	if src == nil {
		*r = TransitionRules{}
		return nil
	}

	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for transition rules: %T", src)
	}

	if len(data) == 0 {
		*r = TransitionRules{}
		return nil
	}

	return json.Unmarshal(data, r)
}

// WorkflowStep is a named node of a definition's step graph.
type WorkflowStep struct {
	ID                int64           `json:"id"`
	DefinitionID      int64           `json:"definition_id"`
	StepCode          string          `json:"step_code"`
	Name              string          `json:"name"`
	Description       string          `json:"description,omitempty"`
	StepType          string          `json:"step_type"`
	StepConfiguration JSONMap         `json:"step_configuration,omitempty"`
	TransitionRules   TransitionRules `json:"transition_rules"`
	IsStartStep       bool            `json:"is_start_step"`
	IsEndStep         bool            `json:"is_end_step"`
	SortOrder         int             `json:"sort_order"`
	TimeoutMinutes    int             `json:"timeout_minutes,omitempty"`
	TimeoutAction     string          `json:"timeout_action,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// RequiresApproval reports whether the step is configured as an approval
// step, either by its type or by the requires_approval configuration flag.
func (s *WorkflowStep) RequiresApproval() bool {
	if s.StepType == StepTypeApproval {
		return true
	}
	if s.StepConfiguration == nil {
		return false
	}
	required, ok := s.StepConfiguration[ConfigKeyRequiresApproval].(bool)
	return ok && required
}
