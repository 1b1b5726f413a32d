// Package persistence provides the storage abstraction for workflows,
// executions, and execution logs. Every operation is tenant-scoped: the
// tenant ID is an explicit parameter, never ambient state.
package persistence

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ListWorkflowsOptions filters and paginates workflow listings.
type ListWorkflowsOptions struct {
	Status      *models.WorkflowStatus
	TriggerType *models.TriggerType
	Limit       int
	Offset      int
}

// WorkflowRepository stores workflow definitions and their steps. Reads never
// return soft-deleted workflows; deletes are always soft.
type WorkflowRepository interface {
	List(ctx context.Context, tenantID string, opts ListWorkflowsOptions) ([]*models.Workflow, error)
	GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, tenantID, id string) error

	// ListActiveByTrigger returns active workflows bound to the trigger type,
	// for matching.
	ListActiveByTrigger(ctx context.Context, tenantID string, trigger models.TriggerType) ([]*models.Workflow, error)

	// Statistics aggregates workflow and execution counts for one tenant.
	// Test executions are excluded.
	Statistics(ctx context.Context, tenantID string) (*models.WorkflowStatistics, error)
}

// ListExecutionsOptions filters and paginates execution listings.
type ListExecutionsOptions struct {
	WorkflowID string
	Status     *models.ExecutionStatus
	Limit      int
	Offset     int
}

// ExecutionRepository stores executions and their append-only logs.
//
// TransitionStatus performs a guarded state change: it succeeds only when the
// execution currently holds the expected status, so terminal statuses are
// immutable and concurrent workers cannot both claim a run. AppendLog refuses
// entries for executions already in a terminal status.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.WorkflowExecution) error
	GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error)
	List(ctx context.Context, tenantID string, opts ListExecutionsOptions) ([]*models.WorkflowExecution, error)
	TransitionStatus(ctx context.Context, tenantID, id string, from, to models.ExecutionStatus) error
	SetCurrentStep(ctx context.Context, tenantID, id, stepID string) error
	SaveContext(ctx context.Context, tenantID, id string, execContext map[string]any) error
	SetError(ctx context.Context, tenantID, id, message string) error

	AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error
	Logs(ctx context.Context, tenantID, executionID string) ([]*models.ExecutionLogEntry, error)
}
