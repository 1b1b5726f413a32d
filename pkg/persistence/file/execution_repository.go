package file

import (
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

// ExecutionRepository implements persistence.ExecutionRepository on the file
// system. Log entries for one execution live in a single JSON document.
type ExecutionRepository struct {
	persistence *Persistence
}

func (r *ExecutionRepository) path(tenantID, id string) string {
	return filepath.Join(r.persistence.tenantDir(tenantID, "executions"), id+".json")
}

func (r *ExecutionRepository) logPath(tenantID, executionID string) string {
	return filepath.Join(r.persistence.tenantDir(tenantID, "execution-logs"), executionID+".json")
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewExecutionError("Create", execution.TenantID, "", err)
		}

		execution.ID = id.String()
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	if execution.Status == "" {
		execution.Status = models.ExecutionStatusPending
	}

	if err := r.persistence.writeJSON(r.path(execution.TenantID, execution.ID), execution); err != nil {
		return persistence.NewExecutionError("Create", execution.TenantID, execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.getLocked(tenantID, id)
}

func (r *ExecutionRepository) getLocked(tenantID, id string) (*models.WorkflowExecution, error) {
	var execution models.WorkflowExecution

	found, err := r.persistence.readJSON(r.path(tenantID, id), &execution)
	if err != nil {
		return nil, persistence.NewExecutionError("GetByID", tenantID, id, err)
	}

	if !found {
		return nil, persistence.NewExecutionError("GetByID", tenantID, id, persistence.ErrExecutionNotFound)
	}

	return &execution, nil
}

func (r *ExecutionRepository) List(ctx context.Context, tenantID string, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.loadAll(tenantID)
	if err != nil {
		return nil, persistence.NewExecutionError("List", tenantID, "", err)
	}

	filtered := make([]*models.WorkflowExecution, 0, len(all))

	for _, execution := range all {
		if opts.WorkflowID != "" && execution.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.Status != nil && execution.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, execution)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*models.WorkflowExecution{}, nil
		}

		filtered = filtered[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}

	return filtered, nil
}

func (r *ExecutionRepository) TransitionStatus(ctx context.Context, tenantID, id string, from, to models.ExecutionStatus) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	execution, err := r.getLocked(tenantID, id)
	if err != nil {
		return err
	}

	if execution.Status != from || execution.Status.Terminal() {
		return persistence.NewExecutionError("TransitionStatus", tenantID, id, persistence.ErrInvalidStatusTransition)
	}

	execution.Status = to

	if to.Terminal() {
		now := time.Now().UTC()
		execution.CompletedAt = &now
	}

	if err := r.persistence.writeJSON(r.path(tenantID, id), execution); err != nil {
		return persistence.NewExecutionError("TransitionStatus", tenantID, id, err)
	}

	return nil
}

func (r *ExecutionRepository) SetCurrentStep(ctx context.Context, tenantID, id, stepID string) error {
	return r.mutate(tenantID, id, "SetCurrentStep", func(execution *models.WorkflowExecution) {
		execution.CurrentStepID = stepID
	})
}

func (r *ExecutionRepository) SaveContext(ctx context.Context, tenantID, id string, execContext map[string]any) error {
	return r.mutate(tenantID, id, "SaveContext", func(execution *models.WorkflowExecution) {
		execution.Context = execContext
	})
}

func (r *ExecutionRepository) SetError(ctx context.Context, tenantID, id, message string) error {
	return r.mutate(tenantID, id, "SetError", func(execution *models.WorkflowExecution) {
		execution.ErrorMessage = message
	})
}

func (r *ExecutionRepository) mutate(tenantID, id, op string, apply func(*models.WorkflowExecution)) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	execution, err := r.getLocked(tenantID, id)
	if err != nil {
		return err
	}

	apply(execution)

	if err := r.persistence.writeJSON(r.path(tenantID, id), execution); err != nil {
		return persistence.NewExecutionError(op, tenantID, id, err)
	}

	return nil
}

func (r *ExecutionRepository) AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	execution, err := r.getLocked(entry.TenantID, entry.ExecutionID)
	if err != nil {
		return err
	}

	if execution.Status.Terminal() {
		return persistence.NewExecutionError("AppendLog", entry.TenantID, entry.ExecutionID, persistence.ErrExecutionTerminal)
	}

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}

	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	var entries []*models.ExecutionLogEntry

	logFile := r.logPath(entry.TenantID, entry.ExecutionID)
	if _, err := r.persistence.readJSON(logFile, &entries); err != nil {
		return persistence.NewExecutionError("AppendLog", entry.TenantID, entry.ExecutionID, err)
	}

	entries = append(entries, entry)

	if err := r.persistence.writeJSON(logFile, entries); err != nil {
		return persistence.NewExecutionError("AppendLog", entry.TenantID, entry.ExecutionID, err)
	}

	return nil
}

func (r *ExecutionRepository) Logs(ctx context.Context, tenantID, executionID string) ([]*models.ExecutionLogEntry, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	var entries []*models.ExecutionLogEntry

	if _, err := r.persistence.readJSON(r.logPath(tenantID, executionID), &entries); err != nil {
		return nil, persistence.NewExecutionError("Logs", tenantID, executionID, err)
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ExecutedAt.Before(entries[j].ExecutedAt)
	})

	return entries, nil
}

func (r *ExecutionRepository) loadAll(tenantID string) ([]*models.WorkflowExecution, error) {
	paths, err := r.persistence.listDir(r.persistence.tenantDir(tenantID, "executions"))
	if err != nil {
		return nil, err
	}

	executions := make([]*models.WorkflowExecution, 0, len(paths))

	for _, path := range paths {
		var execution models.WorkflowExecution

		found, err := r.persistence.readJSON(path, &execution)
		if err != nil {
			return nil, err
		}

		if !found {
			continue
		}

		executions = append(executions, &execution)
	}

	return executions, nil
}
