package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/schedule"
)

// ErrExecutionNotFound is returned when an execution is not found.
var ErrExecutionNotFound = persistence.ErrExecutionNotFound

// Execution is the application service for execution control: listing,
// cancellation, retry, and enqueueing runs for matched events.
type Execution struct {
	persistence persistence.Persistence
	delays      schedule.DelayStore
	eventBus    eventbus.EventPublisher
	logger      *slog.Logger
}

func NewExecution(
	persistence persistence.Persistence,
	delays schedule.DelayStore,
	eventBus eventbus.EventPublisher,
	logger *slog.Logger,
) *Execution {
	return &Execution{
		persistence: persistence,
		delays:      delays,
		eventBus:    eventBus,
		logger:      logger.With("module", "execution_service"),
	}
}

// ListExecutionsRequest contains filtering and pagination options.
type ListExecutionsRequest struct {
	WorkflowID string
	Status     *models.ExecutionStatus
	Limit      int
	Offset     int
}

// List retrieves a tenant's executions, newest first.
func (s *Execution) List(ctx context.Context, tenantID string, req ListExecutionsRequest) ([]*models.WorkflowExecution, error) {
	if req.Limit <= 0 {
		req.Limit = defaultPageSize
	}

	if req.Limit > maxPageSize {
		req.Limit = maxPageSize
	}

	executions, err := s.persistence.ExecutionRepository().List(ctx, tenantID, persistence.ListExecutionsOptions{
		WorkflowID: req.WorkflowID,
		Status:     req.Status,
		Limit:      req.Limit,
		Offset:     req.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}

	return executions, nil
}

// Get fetches one execution.
func (s *Execution) Get(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	return s.persistence.ExecutionRepository().GetByID(ctx, tenantID, id)
}

// Logs returns the execution's step log, oldest first.
func (s *Execution) Logs(ctx context.Context, tenantID, id string) ([]*models.ExecutionLogEntry, error) {
	if _, err := s.persistence.ExecutionRepository().GetByID(ctx, tenantID, id); err != nil {
		return nil, err
	}

	return s.persistence.ExecutionRepository().Logs(ctx, tenantID, id)
}

// Enqueue creates a pending execution for a matched workflow and announces
// it on the bus for a worker to claim.
func (s *Execution) Enqueue(ctx context.Context, wf *models.Workflow, event models.DomainEvent) (*models.WorkflowExecution, error) {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	execution := &models.WorkflowExecution{
		TenantID:       event.TenantID,
		WorkflowID:     wf.ID,
		CustomerID:     event.CustomerID,
		ConversationID: event.ConversationID,
		Status:         models.ExecutionStatusPending,
		Context: map[string]any{
			"trigger_data": payload,
		},
	}

	if err := s.persistence.ExecutionRepository().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	queued := events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, event.TenantID),
		ExecutionID: execution.ID,
		WorkflowID:  wf.ID,
	}

	if err := s.eventBus.Publish(ctx, execution.ID, queued); err != nil {
		return nil, fmt.Errorf("failed to publish execution queued event: %w", err)
	}

	return execution, nil
}

// Cancel stops a pending or running execution. The cancellation is recorded
// in the execution log before the status flips, any parked delay resumption
// is removed, and no further log entries can be appended afterwards.
func (s *Execution) Cancel(ctx context.Context, tenantID, id, cancelledBy string) (*models.WorkflowExecution, error) {
	execRepo := s.persistence.ExecutionRepository()

	execution, err := execRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if execution.Status.Terminal() {
		return nil, fmt.Errorf("%w: execution is %s", ErrExecutionNotCancellable, execution.Status)
	}

	if execution.CurrentStepID != "" {
		entry := &models.ExecutionLogEntry{
			TenantID:    tenantID,
			ExecutionID: id,
			StepID:      execution.CurrentStepID,
			Attempt:     1,
			Outcome:     models.OutcomeCancelled,
		}

		if err := execRepo.AppendLog(ctx, entry); err != nil {
			s.logger.WarnContext(ctx, "Failed to record cancellation log entry", "execution_id", id, "error", err)
		}
	}

	err = execRepo.TransitionStatus(ctx, tenantID, id, execution.Status, models.ExecutionStatusCancelled)
	if err != nil {
		if persistence.IsInvalidStatusTransition(err) {
			return nil, fmt.Errorf("%w: status changed concurrently", ErrExecutionNotCancellable)
		}

		return nil, fmt.Errorf("failed to cancel execution: %w", err)
	}

	if s.delays != nil {
		if err := s.delays.Remove(ctx, tenantID, id); err != nil {
			s.logger.WarnContext(ctx, "Failed to remove delay resumption", "execution_id", id, "error", err)
		}
	}

	cancelled := events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent, tenantID),
		ExecutionID: id,
		CancelledBy: cancelledBy,
	}

	if err := s.eventBus.Publish(ctx, id, cancelled); err != nil {
		s.logger.WarnContext(ctx, "Failed to publish cancellation event", "execution_id", id, "error", err)
	}

	return execRepo.GetByID(ctx, tenantID, id)
}

// Retry seeds a fresh pending execution from a failed one. The original is
// untouched; the new execution starts from the beginning with the original
// trigger data and references its predecessor.
func (s *Execution) Retry(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	execRepo := s.persistence.ExecutionRepository()

	original, err := execRepo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}

	if original.Status != models.ExecutionStatusFailed {
		return nil, fmt.Errorf("%w: execution is %s", ErrExecutionNotRetryable, original.Status)
	}

	if _, err := s.persistence.WorkflowRepository().GetByID(ctx, tenantID, original.WorkflowID); err != nil {
		return nil, fmt.Errorf("cannot retry execution of missing workflow: %w", err)
	}

	triggerData := map[string]any{}
	if data, ok := original.Context["trigger_data"].(map[string]any); ok {
		triggerData = data
	}

	retry := &models.WorkflowExecution{
		TenantID:       tenantID,
		WorkflowID:     original.WorkflowID,
		CustomerID:     original.CustomerID,
		ConversationID: original.ConversationID,
		Status:         models.ExecutionStatusPending,
		RetryOfID:      original.ID,
		Test:           original.Test,
		Context: map[string]any{
			"trigger_data": triggerData,
		},
	}

	if err := execRepo.Create(ctx, retry); err != nil {
		return nil, fmt.Errorf("failed to create retry execution: %w", err)
	}

	queued := events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, tenantID),
		ExecutionID: retry.ID,
		WorkflowID:  retry.WorkflowID,
	}

	if err := s.eventBus.Publish(ctx, retry.ID, queued); err != nil {
		return nil, fmt.Errorf("failed to publish execution queued event: %w", err)
	}

	return retry, nil
}
