package services

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/workflow"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// Workflow is the application service for workflow lifecycle management.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validator   *validator.Validate
}

// NewWorkflow creates a new workflow service. The registry is used to
// validate action step params against their schemas at save time; a nil
// registry skips that check.
func NewWorkflow(persistence persistence.Persistence, registry *registry.Registry) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    registry,
		validator:   validator.New(),
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains filtering and pagination options.
type ListWorkflowsRequest struct {
	Status      *models.WorkflowStatus
	TriggerType *models.TriggerType
	Limit       int `validate:"min=0,max=100"`
	Offset      int `validate:"min=0"`
}

// List retrieves a tenant's workflows.
func (w *Workflow) List(ctx context.Context, tenantID string, req ListWorkflowsRequest) ([]*models.Workflow, error) {
	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}

	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}

	if err := w.validator.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if req.Status != nil {
		switch *req.Status {
		case models.WorkflowStatusDraft, models.WorkflowStatusInactive, models.WorkflowStatusActive:
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *req.Status)
		}
	}

	workflows, err := w.persistence.WorkflowRepository().List(ctx, tenantID, persistence.ListWorkflowsOptions{
		Status:      req.Status,
		TriggerType: req.TriggerType,
		Limit:       req.Limit,
		Offset:      req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// Get fetches one workflow with its steps.
func (w *Workflow) Get(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, tenantID, id)
}

// Create validates and stores a new workflow. New workflows always start as
// drafts regardless of the requested status.
func (w *Workflow) Create(ctx context.Context, tenantID string, wf *models.Workflow) (*models.Workflow, error) {
	wf.ID = ""
	wf.TenantID = tenantID
	wf.Status = models.WorkflowStatusDraft

	if err := w.validate(wf); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	return wf, nil
}

// Update replaces a workflow's definition. Active workflows must be
// deactivated first, so running executions never observe a graph change.
func (w *Workflow) Update(ctx context.Context, tenantID, id string, wf *models.Workflow) (*models.Workflow, error) {
	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if existing.Status == models.WorkflowStatusActive {
		return nil, ErrCannotModifyActive
	}

	wf.ID = existing.ID
	wf.TenantID = tenantID
	wf.Status = existing.Status
	wf.CreatedAt = existing.CreatedAt

	if err := w.validate(wf); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	return wf, nil
}

// Delete soft deletes a workflow. It stops matching immediately; in-flight
// executions keep their snapshot semantics and run to completion.
func (w *Workflow) Delete(ctx context.Context, tenantID, id string) error {
	return w.persistence.WorkflowRepository().Delete(ctx, tenantID, id)
}

// Activate turns a draft or inactive workflow live. The graph is
// re-validated so an invalid workflow can never match events.
func (w *Workflow) Activate(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	wf, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if wf.Status == models.WorkflowStatusActive {
		return nil, ErrAlreadyActive
	}

	if len(wf.Steps) == 0 {
		return nil, ErrStepsRequired
	}

	if err := w.validate(wf); err != nil {
		return nil, err
	}

	wf.Status = models.WorkflowStatusActive

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to activate workflow: %w", err)
	}

	return wf, nil
}

// Deactivate takes a workflow out of matching without touching in-flight
// executions.
func (w *Workflow) Deactivate(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	wf, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if wf.Status != models.WorkflowStatusActive {
		return nil, ErrNotActive
	}

	wf.Status = models.WorkflowStatusInactive

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to deactivate workflow: %w", err)
	}

	return wf, nil
}

// Duplicate clones a workflow, steps included, as a new draft. Step IDs are
// regenerated and successor references remapped.
func (w *Workflow) Duplicate(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	source, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	clone := &models.Workflow{
		TenantID:      tenantID,
		Name:          source.Name + " (copy)",
		Description:   source.Description,
		Status:        models.WorkflowStatusDraft,
		TriggerType:   source.TriggerType,
		TriggerConfig: source.TriggerConfig,
		ExecutionMode: source.ExecutionMode,
	}

	idMap := make(map[string]string, len(source.Steps))
	for _, step := range source.Steps {
		idMap[step.ID] = uuid.New().String()
	}

	clone.Steps = make([]*models.WorkflowStep, 0, len(source.Steps))

	for _, step := range source.Steps {
		copied := *step
		copied.ID = idMap[step.ID]
		copied.WorkflowID = ""
		copied.Config = step.Config.Clone()
		copied.NextSteps = make([]string, len(step.NextSteps))

		for i, next := range step.NextSteps {
			copied.NextSteps[i] = idMap[next]
		}

		clone.Steps = append(clone.Steps, &copied)
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, clone); err != nil {
		return nil, fmt.Errorf("failed to duplicate workflow: %w", err)
	}

	return clone, nil
}

// AddStep appends a step to a non-active workflow. The step ID is kept when
// supplied so successors can be wired up front, otherwise generated. The
// full graph is validated again on activation, so a partially built graph
// is fine here.
func (w *Workflow) AddStep(ctx context.Context, tenantID, workflowID string, step *models.WorkflowStep) (*models.WorkflowStep, error) {
	wf, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	if wf.Status == models.WorkflowStatusActive {
		return nil, ErrCannotModifyActive
	}

	if step.ID == "" {
		step.ID = uuid.New().String()
	}

	for _, existing := range wf.Steps {
		if existing.ID == step.ID {
			return nil, fmt.Errorf("%w: duplicate step id %q", ErrInvalidRequest, step.ID)
		}
	}

	step.TenantID = tenantID
	step.WorkflowID = wf.ID

	if err := w.validateStep(step); err != nil {
		return nil, err
	}

	wf.Steps = append(wf.Steps, step)

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to add step: %w", err)
	}

	return step, nil
}

// UpdateStep replaces a step's definition on a non-active workflow. The
// step's identity and type are preserved.
func (w *Workflow) UpdateStep(ctx context.Context, tenantID, workflowID, stepID string, step *models.WorkflowStep) (*models.WorkflowStep, error) {
	wf, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, workflowID)
	if err != nil {
		return nil, err
	}

	if wf.Status == models.WorkflowStatusActive {
		return nil, ErrCannotModifyActive
	}

	existing, ok := wf.StepByID(stepID)
	if !ok {
		return nil, ErrStepNotFound
	}

	existing.Name = step.Name
	existing.Config = step.Config
	existing.NextSteps = step.NextSteps
	existing.PositionX = step.PositionX
	existing.PositionY = step.PositionY

	if err := w.validateStep(existing); err != nil {
		return nil, err
	}

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return nil, fmt.Errorf("failed to update step: %w", err)
	}

	return existing, nil
}

// RemoveStep deletes a step from a non-active workflow and strips it from
// every other step's successor list.
func (w *Workflow) RemoveStep(ctx context.Context, tenantID, workflowID, stepID string) error {
	wf, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, workflowID)
	if err != nil {
		return err
	}

	if wf.Status == models.WorkflowStatusActive {
		return ErrCannotModifyActive
	}

	if _, ok := wf.StepByID(stepID); !ok {
		return ErrStepNotFound
	}

	steps := make([]*models.WorkflowStep, 0, len(wf.Steps)-1)

	for _, step := range wf.Steps {
		if step.ID == stepID {
			continue
		}

		next := make([]string, 0, len(step.NextSteps))

		for _, successor := range step.NextSteps {
			if successor != stepID {
				next = append(next, successor)
			}
		}

		step.NextSteps = next
		steps = append(steps, step)
	}

	wf.Steps = steps

	if err := w.persistence.WorkflowRepository().Save(ctx, wf); err != nil {
		return fmt.Errorf("failed to remove step: %w", err)
	}

	return nil
}

func (w *Workflow) validateStep(step *models.WorkflowStep) error {
	if step.Name == "" {
		return fmt.Errorf("%w: step name is required", ErrInvalidRequest)
	}

	if !models.ValidStepType(step.Type) {
		return fmt.Errorf("%w: unknown step type %q", ErrInvalidRequest, step.Type)
	}

	if err := step.Config.Validate(step.Type); err != nil {
		return fmt.Errorf("%w: step %s: %w", ErrInvalidRequest, step.ID, err)
	}

	if w.registry != nil && step.Type == models.StepTypeAction && step.Config.Action != nil {
		err := w.registry.ValidateActionConfig(step.Config.Action.Kind, step.Config.Action.Params)
		if err != nil {
			return fmt.Errorf("%w: step %s: %w", ErrInvalidRequest, step.ID, err)
		}
	}

	return nil
}

// Statistics aggregates per-tenant workflow and execution counts.
func (w *Workflow) Statistics(ctx context.Context, tenantID string) (*models.WorkflowStatistics, error) {
	return w.persistence.WorkflowRepository().Statistics(ctx, tenantID)
}

// TestRun creates a test execution with the given trigger data and runs it
// synchronously through the executor. Test executions are excluded from
// statistics.
func (w *Workflow) TestRun(ctx context.Context, executor *workflow.Executor, tenantID, id string, triggerData map[string]any) (*models.WorkflowExecution, error) {
	wf, err := w.persistence.WorkflowRepository().GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if triggerData == nil {
		triggerData = map[string]any{}
	}

	execution := &models.WorkflowExecution{
		TenantID:   tenantID,
		WorkflowID: wf.ID,
		Status:     models.ExecutionStatusPending,
		Test:       true,
		Context: map[string]any{
			"trigger_data": triggerData,
		},
	}

	if err := w.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create test execution: %w", err)
	}

	if err := executor.Run(ctx, tenantID, execution.ID); err != nil {
		return nil, fmt.Errorf("test run failed: %w", err)
	}

	return w.persistence.ExecutionRepository().GetByID(ctx, tenantID, execution.ID)
}

func (w *Workflow) validate(wf *models.Workflow) error {
	if wf.Name == "" {
		return ErrWorkflowNameRequired
	}

	if err := w.validator.Struct(wf); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if !models.ValidTriggerType(wf.TriggerType) {
		return fmt.Errorf("%w: %q", ErrInvalidTriggerType, wf.TriggerType)
	}

	if err := workflow.ValidateGraph(wf); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if w.registry != nil {
		for _, step := range wf.Steps {
			if step.Type == models.StepTypeAction && step.Config.Action != nil {
				err := w.registry.ValidateActionConfig(step.Config.Action.Kind, step.Config.Action.Params)
				if err != nil {
					return fmt.Errorf("%w: step %s: %w", ErrInvalidRequest, step.ID, err)
				}
			}
		}
	}

	return nil
}
