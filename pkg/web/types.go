package web

import (
	"time"

	"github.com/convoflow/convoflow/pkg/models"
)

// WorkflowRequest is the request body for creating or updating a workflow.
type WorkflowRequest struct {
	Name          string               `json:"name"           validate:"required,min=3"`
	Description   string               `json:"description"`
	TriggerType   models.TriggerType   `json:"trigger_type"   validate:"required"`
	TriggerConfig models.TriggerConfig `json:"trigger_config"`
	ExecutionMode models.ExecutionMode `json:"execution_mode"`
	Steps         []StepRequest        `json:"steps"          validate:"dive"`
}

// StepRequest is one step in a workflow request body.
type StepRequest struct {
	ID        string            `json:"id"         validate:"required"`
	Type      models.StepType   `json:"type"       validate:"required"`
	Name      string            `json:"name"       validate:"required"`
	Config    models.StepConfig `json:"config"`
	NextSteps []string          `json:"next_steps"`
	PositionX int               `json:"position_x"`
	PositionY int               `json:"position_y"`
}

// ToModel converts the step request into a workflow step model.
func (r *StepRequest) ToModel() *models.WorkflowStep {
	return &models.WorkflowStep{
		ID:        r.ID,
		Type:      r.Type,
		Name:      r.Name,
		Config:    r.Config,
		NextSteps: r.NextSteps,
		PositionX: r.PositionX,
		PositionY: r.PositionY,
	}
}

// ToModel converts the request body into a workflow model.
func (r *WorkflowRequest) ToModel() *models.Workflow {
	steps := make([]*models.WorkflowStep, 0, len(r.Steps))

	for _, step := range r.Steps {
		steps = append(steps, &models.WorkflowStep{
			ID:        step.ID,
			Type:      step.Type,
			Name:      step.Name,
			Config:    step.Config,
			NextSteps: step.NextSteps,
			PositionX: step.PositionX,
			PositionY: step.PositionY,
		})
	}

	return &models.Workflow{
		Name:          r.Name,
		Description:   r.Description,
		TriggerType:   r.TriggerType,
		TriggerConfig: r.TriggerConfig,
		ExecutionMode: r.ExecutionMode,
		Steps:         steps,
	}
}

// TestRunRequest is the request body for running a workflow in test mode.
type TestRunRequest struct {
	TriggerData map[string]any `json:"trigger_data"`
}

// CancelExecutionRequest optionally identifies who cancelled.
type CancelExecutionRequest struct {
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason"`
}

// DomainEventRequest is the request body for ingesting a platform event.
type DomainEventRequest struct {
	Type           models.TriggerType `json:"type"            validate:"required"`
	CustomerID     string             `json:"customer_id"`
	ConversationID string             `json:"conversation_id"`
	Payload        map[string]any     `json:"payload"`
	OccurredAt     *time.Time         `json:"occurred_at"`
}

// ToModel converts the request into a domain event for the given tenant.
func (r *DomainEventRequest) ToModel(id, tenantID string) models.DomainEvent {
	occurredAt := time.Now().UTC()
	if r.OccurredAt != nil {
		occurredAt = *r.OccurredAt
	}

	return models.DomainEvent{
		ID:             id,
		Type:           r.Type,
		TenantID:       tenantID,
		CustomerID:     r.CustomerID,
		ConversationID: r.ConversationID,
		Payload:        r.Payload,
		OccurredAt:     occurredAt,
	}
}
