package models

import "time"

// ExecutionStatus is the state-machine state of a workflow execution.
// Terminal statuses are immutable.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// WorkflowExecution is a single run of a workflow. It references but does
// not own the workflow, customer, and conversation.
type WorkflowExecution struct {
	ID             string          `json:"id"`
	TenantID       string          `json:"tenant_id"`
	WorkflowID     string          `json:"workflow_id"`
	CustomerID     string          `json:"customer_id,omitempty"`
	ConversationID string          `json:"conversation_id,omitempty"`
	Status         ExecutionStatus `json:"status"`
	Context        map[string]any  `json:"context,omitempty"`
	CurrentStepID  string          `json:"current_step_id,omitempty"`
	Test           bool            `json:"test,omitempty"`
	RetryOfID      string          `json:"retry_of_id,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
}

// StepOutcome classifies one execution-log entry.
type StepOutcome string

const (
	OutcomeSuccess   StepOutcome = "success"
	OutcomeFailure   StepOutcome = "failure"
	OutcomeSkipped   StepOutcome = "skipped"
	OutcomeCancelled StepOutcome = "cancelled"
)

// ExecutionLogEntry is one append-only record of a step transition within an
// execution. Attempt starts at 1 and increments on retries of the same step.
type ExecutionLogEntry struct {
	ID          string      `json:"id"`
	TenantID    string      `json:"tenant_id"`
	ExecutionID string      `json:"execution_id"`
	StepID      string      `json:"step_id"`
	Attempt     int         `json:"attempt"`
	Outcome     StepOutcome `json:"outcome"`
	Branch      string      `json:"branch,omitempty"`
	Error       string      `json:"error,omitempty"`
	ExecutedAt  time.Time   `json:"executed_at"`
}
