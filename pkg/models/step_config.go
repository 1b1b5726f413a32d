package models

import (
	"fmt"
	"time"
)

// Condition operators.
const (
	OperatorEquals      = "eq"
	OperatorNotEquals   = "neq"
	OperatorGreaterThan = "gt"
	OperatorLessThan    = "lt"
	OperatorContains    = "contains"
	OperatorExists      = "exists"
)

// StepConfig is the tagged union of per-step-type configuration. Exactly one
// variant matching the step's type must be populated; this is enforced at
// creation time, never at execution time.
type StepConfig struct {
	Action     *ActionConfig     `json:"action,omitempty"`
	Condition  *ConditionConfig  `json:"condition,omitempty"`
	Delay      *DelayConfig      `json:"delay,omitempty"`
	Loop       *LoopConfig       `json:"loop,omitempty"`
	AIResponse *AIResponseConfig `json:"ai_response,omitempty"`
	Merge      *MergeConfig      `json:"merge,omitempty"`
}

// ActionConfig configures an action step: which registered executor runs and
// with what parameters, plus the retry policy for downstream failures.
type ActionConfig struct {
	Kind           string         `json:"kind"   validate:"required"`
	Params         map[string]any `json:"params"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

// Timeout returns the per-attempt timeout, defaulting to 30s.
func (c *ActionConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}

	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ConditionConfig configures a condition step as a single typed predicate
// over the execution context.
type ConditionConfig struct {
	Field    string `json:"field"    validate:"required"`
	Operator string `json:"operator" validate:"required,oneof=eq neq gt lt contains exists"`
	Value    any    `json:"value"`
}

// DelayConfig configures a delay step. The executor persists a resumption
// rather than blocking a worker for the duration.
type DelayConfig struct {
	DurationSeconds int `json:"duration_seconds" validate:"required,min=1"`
}

// Duration returns the configured delay.
func (c *DelayConfig) Duration() time.Duration {
	return time.Duration(c.DurationSeconds) * time.Second
}

// MaxLoopIterations is the hard upper bound on loop step iteration counts.
const MaxLoopIterations = 1000

const defaultLoopIterations = 100

// LoopConfig configures a loop step: repeat the body sub-graph while the
// condition holds, never more than MaxIterations times.
type LoopConfig struct {
	Condition     ConditionConfig `json:"condition"`
	MaxIterations int             `json:"max_iterations"`
}

// IterationCap returns the effective iteration bound.
func (c *LoopConfig) IterationCap() int {
	if c.MaxIterations <= 0 {
		return defaultLoopIterations
	}

	if c.MaxIterations > MaxLoopIterations {
		return MaxLoopIterations
	}

	return c.MaxIterations
}

// AIResponseConfig configures an ai_response step delegating to the
// AI-generation gateway.
type AIResponseConfig struct {
	Prompt         string `json:"prompt"`
	MaxRetries     int    `json:"max_retries"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// Timeout returns the per-attempt timeout, defaulting to 60s.
func (c *AIResponseConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 60 * time.Second
	}

	return time.Duration(c.TimeoutSeconds) * time.Second
}

// MergeConfig configures a merge step. RequiredBranches of zero means all
// inbound branches must arrive before the merge proceeds.
type MergeConfig struct {
	RequiredBranches int `json:"required_branches"`
}

// Clone deep-copies the populated variant so two workflows never share
// config state.
func (c StepConfig) Clone() StepConfig {
	var clone StepConfig

	if c.Action != nil {
		action := *c.Action
		action.Params = cloneParams(c.Action.Params)
		clone.Action = &action
	}

	if c.Condition != nil {
		condition := *c.Condition
		clone.Condition = &condition
	}

	if c.Delay != nil {
		delay := *c.Delay
		clone.Delay = &delay
	}

	if c.Loop != nil {
		loop := *c.Loop
		clone.Loop = &loop
	}

	if c.AIResponse != nil {
		aiResponse := *c.AIResponse
		clone.AIResponse = &aiResponse
	}

	if c.Merge != nil {
		merge := *c.Merge
		clone.Merge = &merge
	}

	return clone
}

func cloneParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}

	clone := make(map[string]any, len(params))
	for key, value := range params {
		clone[key] = value
	}

	return clone
}

// Validate checks that the variant matching the step type is populated and
// internally consistent.
func (c StepConfig) Validate(stepType StepType) error {
	switch stepType {
	case StepTypeAction:
		if c.Action == nil {
			return fmt.Errorf("action step requires action config")
		}

		if c.Action.Kind == "" {
			return fmt.Errorf("action step requires an action kind")
		}
	case StepTypeCondition:
		if c.Condition == nil {
			return fmt.Errorf("condition step requires condition config")
		}

		if err := c.Condition.validate(); err != nil {
			return err
		}
	case StepTypeDelay:
		if c.Delay == nil || c.Delay.DurationSeconds < 1 {
			return fmt.Errorf("delay step requires a positive duration")
		}
	case StepTypeLoop:
		if c.Loop == nil {
			return fmt.Errorf("loop step requires loop config")
		}

		if c.Loop.MaxIterations > MaxLoopIterations {
			return fmt.Errorf("loop max_iterations exceeds hard cap %d", MaxLoopIterations)
		}

		if err := c.Loop.Condition.validate(); err != nil {
			return fmt.Errorf("loop condition: %w", err)
		}
	case StepTypeAIResponse:
		if c.AIResponse == nil {
			return fmt.Errorf("ai_response step requires ai_response config")
		}
	case StepTypeTrigger, StepTypeParallel, StepTypeMerge, StepTypeCustomCode:
		// No required config.
	default:
		return fmt.Errorf("unknown step type %q", stepType)
	}

	return nil
}

func (c *ConditionConfig) validate() error {
	if c.Field == "" {
		return fmt.Errorf("condition requires a field")
	}

	switch c.Operator {
	case OperatorEquals, OperatorNotEquals, OperatorGreaterThan, OperatorLessThan, OperatorContains, OperatorExists:
		return nil
	default:
		return fmt.Errorf("unknown condition operator %q", c.Operator)
	}
}
