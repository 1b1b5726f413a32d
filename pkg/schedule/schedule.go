// Package schedule stores delay resumptions: when an execution hits a delay
// step, a resumption is persisted and the worker moves on; the scheduler
// sweeps due resumptions and re-dispatches the executions.
package schedule

import (
	"context"
	"time"
)

// Resumption is one parked execution waiting for its delay to elapse.
type Resumption struct {
	ExecutionID string    `json:"execution_id"`
	TenantID    string    `json:"tenant_id"`
	StepID      string    `json:"step_id"`
	ResumeAt    time.Time `json:"resume_at"`
}

// DelayStore persists resumptions durably, so in-flight delays survive
// worker restarts.
type DelayStore interface {
	// Schedule parks an execution until ResumeAt.
	Schedule(ctx context.Context, resumption Resumption) error

	// Due pops up to limit resumptions whose ResumeAt is at or before now.
	// Popped resumptions are removed, so each is delivered once.
	Due(ctx context.Context, now time.Time, limit int) ([]Resumption, error)

	// Remove drops any pending resumption for the execution. Used when an
	// execution is cancelled while parked.
	Remove(ctx context.Context, tenantID, executionID string) error

	Close() error
}
