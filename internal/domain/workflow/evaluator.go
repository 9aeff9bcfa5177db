package workflow

import (
	"reflect"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/wmstack/workflow-engine/internal/domain/entity"
)

// Evaluator computes the set of legal next steps from a step's transition
// rules and the current workflow data. Evaluation is pure: identical inputs
// always yield the identical set and no stored state is touched. Compiled
// expression programs are memoized per expression text.
type Evaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewEvaluator creates an evaluator with an empty program cache
func NewEvaluator() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// LegalNextSteps evaluates each transition rule of the step against the
// workflow data and returns the target codes of the rules whose condition
// holds, in rule order, deduplicated. An empty or absent rule list yields an
// empty set: there is no default fallthrough.
func (e *Evaluator) LegalNextSteps(step *entity.WorkflowStep, data entity.JSONMap) []string {
	legal := make([]string, 0, len(step.TransitionRules))
	seen := make(map[string]bool, len(step.TransitionRules))

	for _, rule := range step.TransitionRules {
		if seen[rule.NextStep] {
			continue
		}
		if e.conditionHolds(rule.Condition, data) {
			legal = append(legal, rule.NextStep)
			seen[rule.NextStep] = true
		}
	}

	return legal
}

// IsLegal reports whether toStepCode is in the legal set for the step
func (e *Evaluator) IsLegal(step *entity.WorkflowStep, data entity.JSONMap, toStepCode string) bool {
	for _, code := range e.LegalNextSteps(step, data) {
		if code == toStepCode {
			return true
		}
	}
	return false
}

func (e *Evaluator) conditionHolds(cond entity.RuleCondition, data entity.JSONMap) bool {
	switch cond.Operator {
	case OpAlways:
		return true

	case OpExists:
		_, ok := data[cond.Field]
		return ok

	case OpNotExists:
		_, ok := data[cond.Field]
		return !ok

	case OpEq:
		return valuesEqual(data[cond.Field], cond.Value)

	case OpNeq:
		return !valuesEqual(data[cond.Field], cond.Value)

	case OpGt, OpGte, OpLt, OpLte:
		left, lok := asFloat(data[cond.Field])
		right, rok := asFloat(cond.Value)
		if !lok || !rok {
			return false
		}
		switch cond.Operator {
		case OpGt:
			return left > right
		case OpGte:
			return left >= right
		case OpLt:
			return left < right
		default:
			return left <= right
		}

	case OpIn, OpNotIn:
		list, ok := cond.Value.([]interface{})
		if !ok {
			return false
		}
		found := false
		for _, candidate := range list {
			if valuesEqual(data[cond.Field], candidate) {
				found = true
				break
			}
		}
		if cond.Operator == OpIn {
			return found
		}
		return !found

	case OpExpr:
		return e.evaluateExpression(cond.Expression, data)

	default:
		// Unknown operators are rejected at definition creation; a rule that
		// somehow carries one never matches.
		return false
	}
}

// evaluateExpression runs a compiled expression against the workflow data.
// Expressions were compiled successfully at definition creation; a runtime
// failure here means the data shape does not satisfy the expression, which is
// treated as the condition not holding.
func (e *Evaluator) evaluateExpression(expression string, data entity.JSONMap) bool {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()

	if !ok {
		e.mu.Lock()
		if program, ok = e.cache[expression]; !ok {
			compiled, err := expr.Compile(expression, expr.AsBool(), expr.AllowUndefinedVariables())
			if err != nil {
				e.mu.Unlock()
				return false
			}
			program = compiled
			e.cache[expression] = program
		}
		e.mu.Unlock()
	}

	env := map[string]interface{}(data)
	result, err := expr.Run(program, env)
	if err != nil {
		return false
	}

	holds, ok := result.(bool)
	return ok && holds
}

// valuesEqual compares two values with JSON number normalization, so that an
// int literal in a rule matches the float64 a JSON payload decodes to.
func valuesEqual(a, b interface{}) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
