package workflow

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
)

// Rule condition operators. Field operators compare a workflow-data field
// against the rule's literal value; OpExpr evaluates an expression-language
// condition against the whole data map.
const (
	OpAlways    = "always"
	OpEq        = "eq"
	OpNeq       = "neq"
	OpGt        = "gt"
	OpGte       = "gte"
	OpLt        = "lt"
	OpLte       = "lte"
	OpIn        = "in"
	OpNotIn     = "not_in"
	OpExists    = "exists"
	OpNotExists = "not_exists"
	OpExpr      = "expr"
)

var fieldOperators = map[string]bool{
	OpEq:        true,
	OpNeq:       true,
	OpGt:        true,
	OpGte:       true,
	OpLt:        true,
	OpLte:       true,
	OpIn:        true,
	OpNotIn:     true,
	OpExists:    true,
	OpNotExists: true,
}

// ValidateRules checks a step's transition rules for structural soundness:
// known operators, required fields, list values for membership operators,
// compilable expressions, and targets resolving to step codes of the same
// definition. Rules are validated once here, at the edge, so that
// transition-time failures are limited to legality and state issues.
func ValidateRules(stepCode string, rules entity.TransitionRules, stepCodes map[string]bool) []string {
	var violations []string

	for i, rule := range rules {
		prefix := fmt.Sprintf("step %q rule %d", stepCode, i)

		if rule.NextStep == "" {
			violations = append(violations, fmt.Sprintf("%s: next_step is required", prefix))
		} else if !stepCodes[rule.NextStep] {
			violations = append(violations, fmt.Sprintf("%s: next_step %q does not exist in the definition", prefix, rule.NextStep))
		}

		cond := rule.Condition
		switch {
		case cond.Operator == OpAlways:
			// no operands

		case cond.Operator == OpExpr:
			if cond.Expression == "" {
				violations = append(violations, fmt.Sprintf("%s: operator expr requires an expression", prefix))
				continue
			}
			if _, err := expr.Compile(cond.Expression, expr.AsBool(), expr.AllowUndefinedVariables()); err != nil {
				violations = append(violations, fmt.Sprintf("%s: expression does not compile: %v", prefix, err))
			}

		case fieldOperators[cond.Operator]:
			if cond.Field == "" {
				violations = append(violations, fmt.Sprintf("%s: operator %s requires a field", prefix, cond.Operator))
			}
			if cond.Operator == OpIn || cond.Operator == OpNotIn {
				if _, ok := cond.Value.([]interface{}); !ok {
					violations = append(violations, fmt.Sprintf("%s: operator %s requires a list value", prefix, cond.Operator))
				}
			}

		default:
			violations = append(violations, fmt.Sprintf("%s: unknown operator %q", prefix, cond.Operator))
		}
	}

	return violations
}
