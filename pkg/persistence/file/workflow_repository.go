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

// WorkflowRepository implements persistence.WorkflowRepository on the file
// system.
type WorkflowRepository struct {
	persistence *Persistence
}

func (r *WorkflowRepository) path(tenantID, id string) string {
	return filepath.Join(r.persistence.tenantDir(tenantID, "workflows"), id+".json")
}

func (r *WorkflowRepository) List(ctx context.Context, tenantID string, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	all, err := r.loadAll(tenantID)
	if err != nil {
		return nil, persistence.NewWorkflowError("List", tenantID, "", err)
	}

	filtered := make([]*models.Workflow, 0, len(all))

	for _, workflow := range all {
		if opts.Status != nil && workflow.Status != *opts.Status {
			continue
		}

		if opts.TriggerType != nil && workflow.TriggerType != *opts.TriggerType {
			continue
		}

		filtered = append(filtered, workflow)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].CreatedAt.After(filtered[j].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*models.Workflow{}, nil
		}

		filtered = filtered[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}

	return filtered, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	return r.getLocked(tenantID, id)
}

func (r *WorkflowRepository) getLocked(tenantID, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	found, err := r.persistence.readJSON(r.path(tenantID, id), &workflow)
	if err != nil {
		return nil, persistence.NewWorkflowError("GetByID", tenantID, id, err)
	}

	if !found || workflow.DeletedAt != nil {
		return nil, persistence.NewWorkflowError("GetByID", tenantID, id, persistence.ErrWorkflowNotFound)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return persistence.NewWorkflowError("Save", workflow.TenantID, "", err)
		}

		workflow.ID = id.String()
	}

	for _, step := range workflow.Steps {
		step.TenantID = workflow.TenantID
		step.WorkflowID = workflow.ID
	}

	if err := r.persistence.writeJSON(r.path(workflow.TenantID, workflow.ID), workflow); err != nil {
		return persistence.NewWorkflowError("Save", workflow.TenantID, workflow.ID, err)
	}

	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, tenantID, id string) error {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	workflow, err := r.getLocked(tenantID, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	workflow.DeletedAt = &now
	workflow.UpdatedAt = now

	if err := r.persistence.writeJSON(r.path(tenantID, id), workflow); err != nil {
		return persistence.NewWorkflowError("Delete", tenantID, id, err)
	}

	return nil
}

func (r *WorkflowRepository) ListActiveByTrigger(ctx context.Context, tenantID string, trigger models.TriggerType) ([]*models.Workflow, error) {
	status := models.WorkflowStatusActive

	return r.List(ctx, tenantID, persistence.ListWorkflowsOptions{
		Status:      &status,
		TriggerType: &trigger,
	})
}

func (r *WorkflowRepository) Statistics(ctx context.Context, tenantID string) (*models.WorkflowStatistics, error) {
	r.persistence.mu.Lock()
	defer r.persistence.mu.Unlock()

	workflows, err := r.loadAll(tenantID)
	if err != nil {
		return nil, persistence.NewWorkflowError("Statistics", tenantID, "", err)
	}

	stats := &models.WorkflowStatistics{
		TenantID:           tenantID,
		ByStatus:           make(map[models.WorkflowStatus]int64),
		ByTriggerType:      make(map[models.TriggerType]int64),
		ExecutionsByStatus: make(map[models.ExecutionStatus]int64),
	}

	for _, workflow := range workflows {
		stats.TotalWorkflows++
		stats.ByStatus[workflow.Status]++
		stats.ByTriggerType[workflow.TriggerType]++
	}

	executions, err := r.persistence.executionRepo.loadAll(tenantID)
	if err != nil {
		return nil, persistence.NewWorkflowError("Statistics", tenantID, "", err)
	}

	for _, execution := range executions {
		if execution.Test {
			continue
		}

		stats.TotalExecutions++
		stats.ExecutionsByStatus[execution.Status]++
	}

	return stats, nil
}

func (r *WorkflowRepository) loadAll(tenantID string) ([]*models.Workflow, error) {
	paths, err := r.persistence.listDir(r.persistence.tenantDir(tenantID, "workflows"))
	if err != nil {
		return nil, err
	}

	workflows := make([]*models.Workflow, 0, len(paths))

	for _, path := range paths {
		var workflow models.Workflow

		found, err := r.persistence.readJSON(path, &workflow)
		if err != nil {
			return nil, err
		}

		if !found || workflow.DeletedAt != nil {
			continue
		}

		workflows = append(workflows, &workflow)
	}

	return workflows, nil
}
