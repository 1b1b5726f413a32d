// Package models defines the core domain models for tenant-scoped engagement automation.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, never matched
	WorkflowStatusInactive WorkflowStatus = "inactive" // Deactivated, never matched
	WorkflowStatusActive   WorkflowStatus = "active"   // Eligible for trigger matching
)

// ExecutionMode controls how the step graph is walked.
type ExecutionMode string

const (
	ExecutionModeSequential ExecutionMode = "sequential"
	ExecutionModeParallel   ExecutionMode = "parallel"
	ExecutionModeMixed      ExecutionMode = "mixed"
)

// Workflow is an automation definition owned by exactly one tenant.
// Steps are exclusively owned by the workflow; deleting the workflow
// soft-deletes them with it.
type Workflow struct {
	ID            string         `json:"id"`
	TenantID      string         `json:"tenant_id"      validate:"required"`
	Name          string         `json:"name"           validate:"required,min=3"`
	Description   string         `json:"description"`
	Status        WorkflowStatus `json:"status"         validate:"required,oneof=draft inactive active"`
	TriggerType   TriggerType    `json:"trigger_type"   validate:"required"`
	TriggerConfig TriggerConfig  `json:"trigger_config"`
	ExecutionMode ExecutionMode  `json:"execution_mode" validate:"omitempty,oneof=sequential parallel mixed"`
	Steps         []*WorkflowStep `json:"steps"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     *time.Time     `json:"deleted_at,omitempty"`
}

// IsActive reports whether the workflow is eligible for trigger matching.
func (w *Workflow) IsActive() bool {
	return w.Status == WorkflowStatusActive && w.DeletedAt == nil
}

// StepByID returns the step with the given ID, if present.
func (w *Workflow) StepByID(id string) (*WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.ID == id {
			return step, true
		}
	}

	return nil, false
}

// StartStep returns the entry point of the step graph: the trigger step if one
// exists, otherwise the first step no other step points at.
func (w *Workflow) StartStep() (*WorkflowStep, bool) {
	for _, step := range w.Steps {
		if step.Type == StepTypeTrigger {
			return step, true
		}
	}

	inbound := make(map[string]int, len(w.Steps))
	for _, step := range w.Steps {
		for _, next := range step.NextSteps {
			inbound[next]++
		}
	}

	for _, step := range w.Steps {
		if inbound[step.ID] == 0 {
			return step, true
		}
	}

	return nil, false
}

// WorkflowStatistics aggregates per-tenant workflow and execution counts.
type WorkflowStatistics struct {
	TenantID           string                    `json:"tenant_id"`
	TotalWorkflows     int64                     `json:"total_workflows"`
	ByStatus           map[WorkflowStatus]int64  `json:"by_status"`
	ByTriggerType      map[TriggerType]int64     `json:"by_trigger_type"`
	TotalExecutions    int64                     `json:"total_executions"`
	ExecutionsByStatus map[ExecutionStatus]int64 `json:"executions_by_status"`
}
