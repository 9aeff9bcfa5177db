package workflow

import (
	"fmt"

	"github.com/wmstack/workflow-engine/internal/domain/entity"
)

// Graph is the immutable step graph of one workflow definition, indexed for
// the lookups the lifecycle manager needs: start step, membership, end-step
// test, and reverse rule references.
type Graph struct {
	steps map[string]*entity.WorkflowStep
	order []string
	start *entity.WorkflowStep
}

// BuildGraph indexes a definition's steps and validates the structural
// invariants: steps non-empty, exactly one start step, at least one end step,
// step codes unique within the definition, and every transition rule
// well-formed with a resolvable target. A nil error means the graph satisfies
// all of them.
func BuildGraph(steps []*entity.WorkflowStep) (*Graph, error) {
	var violations []string

	if len(steps) == 0 {
		violations = append(violations, "definition must have at least one step")
		return nil, NewValidationError(violations...)
	}

	g := &Graph{
		steps: make(map[string]*entity.WorkflowStep, len(steps)),
		order: make([]string, 0, len(steps)),
	}

	endSteps := 0
	for _, step := range steps {
		if step.StepCode == "" {
			violations = append(violations, "step_code is required for every step")
			continue
		}
		if _, exists := g.steps[step.StepCode]; exists {
			violations = append(violations, fmt.Sprintf("duplicate step_code %q", step.StepCode))
			continue
		}
		g.steps[step.StepCode] = step
		g.order = append(g.order, step.StepCode)

		if step.IsStartStep {
			if g.start != nil {
				violations = append(violations, fmt.Sprintf("multiple start steps: %q and %q", g.start.StepCode, step.StepCode))
			} else {
				g.start = step
			}
		}
		if step.IsEndStep {
			endSteps++
		}
	}

	if g.start == nil {
		violations = append(violations, "definition must have exactly one start step")
	}
	if endSteps == 0 {
		violations = append(violations, "definition must have at least one end step")
	}

	codes := make(map[string]bool, len(g.steps))
	for code := range g.steps {
		codes[code] = true
	}
	for _, code := range g.order {
		violations = append(violations, ValidateRules(code, g.steps[code].TransitionRules, codes)...)
	}

	if len(violations) > 0 {
		return nil, NewValidationError(violations...)
	}
	return g, nil
}

// Start returns the unique start step
func (g *Graph) Start() *entity.WorkflowStep {
	return g.start
}

// Step returns the step with the given code, if present
func (g *Graph) Step(code string) (*entity.WorkflowStep, bool) {
	step, ok := g.steps[code]
	return step, ok
}

// Len returns the number of steps in the graph
func (g *Graph) Len() int {
	return len(g.steps)
}

// ReferencedBy returns the codes of steps whose transition rules name the
// given code as a candidate target. A step with references cannot be removed
// without breaking the graph.
func ReferencedBy(steps []*entity.WorkflowStep, code string) []string {
	var referrers []string
	for _, step := range steps {
		if step.StepCode == code {
			continue
		}
		for _, rule := range step.TransitionRules {
			if rule.NextStep == code {
				referrers = append(referrers, step.StepCode)
				break
			}
		}
	}
	return referrers
}
