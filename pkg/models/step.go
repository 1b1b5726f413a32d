package models

// StepType identifies how the executor interprets a step.
type StepType string

const (
	StepTypeTrigger    StepType = "trigger"
	StepTypeAction     StepType = "action"
	StepTypeCondition  StepType = "condition"
	StepTypeDelay      StepType = "delay"
	StepTypeParallel   StepType = "parallel"
	StepTypeLoop       StepType = "loop"
	StepTypeAIResponse StepType = "ai_response"
	StepTypeMerge      StepType = "merge"
	StepTypeCustomCode StepType = "custom_code"
)

// StepTypes lists every valid step type, for validation.
var StepTypes = []StepType{
	StepTypeTrigger,
	StepTypeAction,
	StepTypeCondition,
	StepTypeDelay,
	StepTypeParallel,
	StepTypeLoop,
	StepTypeAIResponse,
	StepTypeMerge,
	StepTypeCustomCode,
}

// ValidStepType reports whether t is a known step type.
func ValidStepType(t StepType) bool {
	for _, known := range StepTypes {
		if t == known {
			return true
		}
	}

	return false
}

// WorkflowStep is a node in a workflow's step graph.
//
// NextSteps lists successor step IDs within the same workflow. Condition
// steps carry exactly two entries ([true-branch, false-branch]), parallel
// steps fan out to every entry, loop steps carry [body-start, exit]; all
// other types have at most one successor. Position is a canvas layout hint
// only.
type WorkflowStep struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	WorkflowID string     `json:"workflow_id"`
	Type       StepType   `json:"type"       validate:"required"`
	Name       string     `json:"name"       validate:"required,min=1"`
	Config     StepConfig `json:"config"`
	NextSteps  []string   `json:"next_steps"`
	PositionX  int        `json:"position_x"`
	PositionY  int        `json:"position_y"`
}

// TrueBranch returns the successor taken when a condition evaluates true.
func (s *WorkflowStep) TrueBranch() string {
	if len(s.NextSteps) > 0 {
		return s.NextSteps[0]
	}

	return ""
}

// FalseBranch returns the successor taken when a condition evaluates false.
func (s *WorkflowStep) FalseBranch() string {
	if len(s.NextSteps) > 1 {
		return s.NextSteps[1]
	}

	return ""
}
