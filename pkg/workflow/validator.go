package workflow

import (
	"fmt"

	"github.com/convoflow/convoflow/pkg/models"
)

// ValidateGraph checks a workflow's step graph for structural problems.
// It runs at save time so executions never encounter a malformed graph.
func ValidateGraph(workflow *models.Workflow) error {
	if !models.ValidTriggerType(workflow.TriggerType) {
		return fmt.Errorf("unknown trigger type %q", workflow.TriggerType)
	}

	seen := make(map[string]bool, len(workflow.Steps))

	for _, step := range workflow.Steps {
		if step.ID == "" {
			return fmt.Errorf("step %q has no ID", step.Name)
		}

		if seen[step.ID] {
			return fmt.Errorf("duplicate step ID %q", step.ID)
		}

		seen[step.ID] = true
	}

	for _, step := range workflow.Steps {
		if !models.ValidStepType(step.Type) {
			return fmt.Errorf("step %q has unknown type %q", step.ID, step.Type)
		}

		if err := step.Config.Validate(step.Type); err != nil {
			return fmt.Errorf("step %q: %w", step.ID, err)
		}

		for _, next := range step.NextSteps {
			if next != "" && !seen[next] {
				return fmt.Errorf("step %q references unknown step %q", step.ID, next)
			}
		}

		switch step.Type {
		case models.StepTypeCondition:
			if len(step.NextSteps) != 2 {
				return fmt.Errorf("condition step %q requires exactly two successors, has %d", step.ID, len(step.NextSteps))
			}
		case models.StepTypeLoop:
			if len(step.NextSteps) != 2 {
				return fmt.Errorf("loop step %q requires a body and an exit successor, has %d", step.ID, len(step.NextSteps))
			}
		case models.StepTypeParallel:
			if len(step.NextSteps) < 2 {
				return fmt.Errorf("parallel step %q requires at least two branches, has %d", step.ID, len(step.NextSteps))
			}
		case models.StepTypeTrigger, models.StepTypeAction, models.StepTypeDelay,
			models.StepTypeAIResponse, models.StepTypeMerge, models.StepTypeCustomCode:
			if len(step.NextSteps) > 1 {
				return fmt.Errorf("step %q of type %q can have at most one successor", step.ID, step.Type)
			}
		}
	}

	inbound := make(map[string]int, len(workflow.Steps))

	for _, step := range workflow.Steps {
		for _, next := range step.NextSteps {
			if next != "" {
				inbound[next]++
			}
		}
	}

	for _, step := range workflow.Steps {
		if step.Type == models.StepTypeMerge && inbound[step.ID] < 2 {
			return fmt.Errorf("merge step %q requires at least two inbound branches, has %d", step.ID, inbound[step.ID])
		}
	}

	if err := validateAcyclic(workflow); err != nil {
		return err
	}

	if len(workflow.Steps) > 0 {
		if _, ok := workflow.StartStep(); !ok {
			return fmt.Errorf("workflow has no start step")
		}
	}

	return nil
}

const (
	stateVisiting = 1
	stateDone     = 2
)

type graphWalker struct {
	steps  map[string]*models.WorkflowStep
	state  map[string]int
	inBody map[string]bool
}

// validateAcyclic rejects graphs containing cycles. The only cycle a step
// graph may declare is a loop step's body closing back on the loop step
// itself; the executor bounds that one at the loop's iteration cap. Every
// other cycle would walk forever.
func validateAcyclic(workflow *models.Workflow) error {
	walker := &graphWalker{
		steps:  make(map[string]*models.WorkflowStep, len(workflow.Steps)),
		state:  make(map[string]int, len(workflow.Steps)),
		inBody: make(map[string]bool),
	}

	for _, step := range workflow.Steps {
		walker.steps[step.ID] = step
	}

	for _, step := range workflow.Steps {
		if walker.state[step.ID] == 0 {
			if err := walker.visit(step.ID); err != nil {
				return err
			}
		}
	}

	return nil
}

func (w *graphWalker) visit(id string) error {
	step := w.steps[id]
	w.state[id] = stateVisiting

	for i, next := range step.NextSteps {
		if next == "" {
			continue
		}

		body := step.Type == models.StepTypeLoop && i == 0
		if body {
			w.inBody[id] = true
		}

		err := w.follow(next)

		if body {
			delete(w.inBody, id)
		}

		if err != nil {
			return err
		}
	}

	w.state[id] = stateDone

	return nil
}

func (w *graphWalker) follow(id string) error {
	switch w.state[id] {
	case stateVisiting:
		if w.inBody[id] {
			// Loop body closing back on its loop step.
			return nil
		}

		return fmt.Errorf("cycle through step %q outside a loop body", id)
	case stateDone:
		return nil
	}

	return w.visit(id)
}
