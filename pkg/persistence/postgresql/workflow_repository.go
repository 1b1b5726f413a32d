package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/google/uuid"
)

// WorkflowRepository handles workflow-related database operations. Every
// query is bounded by tenant_id.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const workflowColumns = `
	id
  , tenant_id
  , name
  , description
  , status
  , trigger_type
  , trigger_config
  , execution_mode
  , created_at
  , updated_at
  , deleted_at
`

func (r *WorkflowRepository) List(ctx context.Context, tenantID string, opts persistence.ListWorkflowsOptions) ([]*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE tenant_id = $1 AND deleted_at IS NULL`

	args := []any{tenantID}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	if opts.TriggerType != nil {
		args = append(args, string(*opts.TriggerType))
		query += fmt.Sprintf(" AND trigger_type = $%d", len(args))
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	defer r.closeRows(ctx, rows)

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		if err := r.loadSteps(ctx, workflow); err != nil {
			return nil, fmt.Errorf("failed to load workflow steps: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, tenantID, id string) (*models.Workflow, error) {
	query := `SELECT ` + workflowColumns + `
		FROM workflows
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`

	row := r.db.QueryRowContext(ctx, query, tenantID, id)

	workflow, err := r.scanWorkflow(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("GetByID", tenantID, id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadSteps(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow steps: %w", err)
	}

	return workflow, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	now := time.Now().UTC()

	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	if workflow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate workflow ID: %w", err)
		}

		workflow.ID = id.String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	triggerConfigJSON, err := json.Marshal(workflow.TriggerConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger config: %w", err)
	}

	executionMode := workflow.ExecutionMode
	if executionMode == "" {
		executionMode = models.ExecutionModeSequential
	}

	workflowQuery := `
		INSERT INTO workflows (id, tenant_id, name, description, status,
			trigger_type, trigger_config, execution_mode, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			status = EXCLUDED.status,
			trigger_type = EXCLUDED.trigger_type,
			trigger_config = EXCLUDED.trigger_config,
			execution_mode = EXCLUDED.execution_mode,
			updated_at = EXCLUDED.updated_at,
			deleted_at = EXCLUDED.deleted_at
		WHERE workflows.tenant_id = EXCLUDED.tenant_id
	`

	_, err = tx.ExecContext(ctx, workflowQuery,
		workflow.ID,
		workflow.TenantID,
		workflow.Name,
		workflow.Description,
		workflow.Status,
		workflow.TriggerType,
		triggerConfigJSON,
		executionMode,
		workflow.CreatedAt,
		workflow.UpdatedAt,
		workflow.DeletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_steps WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing steps: %w", err)
	}

	if err = r.saveSteps(ctx, tx, workflow); err != nil {
		return fmt.Errorf("failed to save workflow steps: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Delete soft deletes a workflow by setting deleted_at.
func (r *WorkflowRepository) Delete(ctx context.Context, tenantID, id string) error {
	query := `UPDATE workflows SET deleted_at = NOW()
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewWorkflowError("Delete", tenantID, id, persistence.ErrWorkflowNotFound)
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
	stats := &models.WorkflowStatistics{
		TenantID:           tenantID,
		ByStatus:           make(map[models.WorkflowStatus]int64),
		ByTriggerType:      make(map[models.TriggerType]int64),
		ExecutionsByStatus: make(map[models.ExecutionStatus]int64),
	}

	statusQuery := `SELECT status, trigger_type, COUNT(*)
		FROM workflows
		WHERE tenant_id = $1 AND deleted_at IS NULL
		GROUP BY status, trigger_type`

	rows, err := r.db.QueryContext(ctx, statusQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflow statistics: %w", err)
	}

	defer r.closeRows(ctx, rows)

	for rows.Next() {
		var (
			status      models.WorkflowStatus
			triggerType models.TriggerType
			count       int64
		)

		if err := rows.Scan(&status, &triggerType, &count); err != nil {
			return nil, fmt.Errorf("failed to scan workflow statistics: %w", err)
		}

		stats.TotalWorkflows += count
		stats.ByStatus[status] += count
		stats.ByTriggerType[triggerType] += count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflow statistics: %w", err)
	}

	executionQuery := `SELECT status, COUNT(*)
		FROM workflow_executions
		WHERE tenant_id = $1 AND is_test = FALSE
		GROUP BY status`

	execRows, err := r.db.QueryContext(ctx, executionQuery, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution statistics: %w", err)
	}

	defer r.closeRows(ctx, execRows)

	for execRows.Next() {
		var (
			status models.ExecutionStatus
			count  int64
		)

		if err := execRows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan execution statistics: %w", err)
		}

		stats.TotalExecutions += count
		stats.ExecutionsByStatus[status] += count
	}

	if err := execRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution statistics: %w", err)
	}

	return stats, nil
}

func (r *WorkflowRepository) loadSteps(ctx context.Context, workflow *models.Workflow) error {
	query := `SELECT id, tenant_id, step_type, name, config, next_steps, position_x, position_y
		FROM workflow_steps
		WHERE workflow_id = $1
		ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query workflow steps: %w", err)
	}

	defer r.closeRows(ctx, rows)

	var steps []*models.WorkflowStep

	for rows.Next() {
		var (
			step                      models.WorkflowStep
			configJSON, nextStepsJSON []byte
		)

		err := rows.Scan(
			&step.ID,
			&step.TenantID,
			&step.Type,
			&step.Name,
			&configJSON,
			&nextStepsJSON,
			&step.PositionX,
			&step.PositionY,
		)
		if err != nil {
			return fmt.Errorf("failed to scan step: %w", err)
		}

		if err := json.Unmarshal(configJSON, &step.Config); err != nil {
			return fmt.Errorf("failed to unmarshal step config: %w", err)
		}

		if err := json.Unmarshal(nextStepsJSON, &step.NextSteps); err != nil {
			return fmt.Errorf("failed to unmarshal step successors: %w", err)
		}

		step.WorkflowID = workflow.ID
		steps = append(steps, &step)
	}

	if err := rows.Err(); err != nil {
		return fmt.Errorf("error iterating steps: %w", err)
	}

	workflow.Steps = steps

	return nil
}

func (r *WorkflowRepository) saveSteps(ctx context.Context, tx *sql.Tx, workflow *models.Workflow) error {
	query := `
		INSERT INTO workflow_steps (workflow_id, id, tenant_id, step_type, name, config, next_steps, position_x, position_y)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	for _, step := range workflow.Steps {
		configJSON, err := json.Marshal(step.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal step config: %w", err)
		}

		nextSteps := step.NextSteps
		if nextSteps == nil {
			nextSteps = []string{}
		}

		nextStepsJSON, err := json.Marshal(nextSteps)
		if err != nil {
			return fmt.Errorf("failed to marshal step successors: %w", err)
		}

		_, err = tx.ExecContext(ctx, query,
			workflow.ID,
			step.ID,
			workflow.TenantID,
			step.Type,
			step.Name,
			configJSON,
			nextStepsJSON,
			step.PositionX,
			step.PositionY,
		)
		if err != nil {
			return fmt.Errorf("failed to save step %s: %w", step.ID, err)
		}
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflow(scanner interface {
	Scan(dest ...any) error
}) (*models.Workflow, error) {
	var (
		workflow          models.Workflow
		triggerConfigJSON []byte
	)

	err := scanner.Scan(
		&workflow.ID,
		&workflow.TenantID,
		&workflow.Name,
		&workflow.Description,
		&workflow.Status,
		&workflow.TriggerType,
		&triggerConfigJSON,
		&workflow.ExecutionMode,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
		&workflow.DeletedAt,
	)
	if err != nil {
		return nil, err
	}

	if triggerConfigJSON != nil {
		if err := json.Unmarshal(triggerConfigJSON, &workflow.TriggerConfig); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger config: %w", err)
		}
	}

	return &workflow, nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}
