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

// ExecutionRepository handles execution and execution-log database
// operations. Status changes go through guarded UPDATEs so that terminal
// executions stay immutable even under concurrent workers.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const executionColumns = `
	id
  , tenant_id
  , workflow_id
  , customer_id
  , conversation_id
  , status
  , context
  , current_step_id
  , is_test
  , retry_of_id
  , error_message
  , created_at
  , completed_at
`

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.WorkflowExecution) error {
	if execution.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate execution ID: %w", err)
		}

		execution.ID = id.String()
	}

	if execution.Status == "" {
		execution.Status = models.ExecutionStatusPending
	}

	if execution.CreatedAt.IsZero() {
		execution.CreatedAt = time.Now().UTC()
	}

	execContext := execution.Context
	if execContext == nil {
		execContext = map[string]any{}
	}

	contextJSON, err := json.Marshal(execContext)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `
		INSERT INTO workflow_executions (id, tenant_id, workflow_id, customer_id,
			conversation_id, status, context, current_step_id, is_test,
			retry_of_id, error_message, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.TenantID,
		execution.WorkflowID,
		nullString(execution.CustomerID),
		nullString(execution.ConversationID),
		execution.Status,
		contextJSON,
		nullString(execution.CurrentStepID),
		execution.Test,
		nullString(execution.RetryOfID),
		nullString(execution.ErrorMessage),
		execution.CreatedAt,
		execution.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, tenantID, id string) (*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE tenant_id = $1 AND id = $2`

	row := r.db.QueryRowContext(ctx, query, tenantID, id)

	execution, err := r.scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", tenantID, id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return execution, nil
}

func (r *ExecutionRepository) List(ctx context.Context, tenantID string, opts persistence.ListExecutionsOptions) ([]*models.WorkflowExecution, error) {
	query := `SELECT ` + executionColumns + `
		FROM workflow_executions
		WHERE tenant_id = $1`

	args := []any{tenantID}

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, string(*opts.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
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
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer r.closeRows(ctx, rows)

	executions := make([]*models.WorkflowExecution, 0)

	for rows.Next() {
		execution, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

// TransitionStatus moves an execution from one status to another. The WHERE
// clause carries the expected current status, so a stale or concurrent
// transition affects zero rows and is reported as a conflict.
func (r *ExecutionRepository) TransitionStatus(ctx context.Context, tenantID, id string, from, to models.ExecutionStatus) error {
	var completedAt *time.Time

	if to.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	query := `UPDATE workflow_executions
		SET status = $1, completed_at = COALESCE($2, completed_at)
		WHERE tenant_id = $3 AND id = $4 AND status = $5`

	result, err := r.db.ExecContext(ctx, query, to, completedAt, tenantID, id, from)
	if err != nil {
		return fmt.Errorf("failed to transition execution status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := r.GetByID(ctx, tenantID, id); err != nil {
			return err
		}

		return persistence.NewExecutionError("TransitionStatus", tenantID, id, persistence.ErrInvalidStatusTransition)
	}

	return nil
}

func (r *ExecutionRepository) SetCurrentStep(ctx context.Context, tenantID, id, stepID string) error {
	query := `UPDATE workflow_executions SET current_step_id = $1
		WHERE tenant_id = $2 AND id = $3`

	return r.update(ctx, "SetCurrentStep", tenantID, id, query, nullString(stepID), tenantID, id)
}

func (r *ExecutionRepository) SaveContext(ctx context.Context, tenantID, id string, execContext map[string]any) error {
	if execContext == nil {
		execContext = map[string]any{}
	}

	contextJSON, err := json.Marshal(execContext)
	if err != nil {
		return fmt.Errorf("failed to marshal execution context: %w", err)
	}

	query := `UPDATE workflow_executions SET context = $1
		WHERE tenant_id = $2 AND id = $3`

	return r.update(ctx, "SaveContext", tenantID, id, query, contextJSON, tenantID, id)
}

func (r *ExecutionRepository) SetError(ctx context.Context, tenantID, id, message string) error {
	query := `UPDATE workflow_executions SET error_message = $1
		WHERE tenant_id = $2 AND id = $3`

	return r.update(ctx, "SetError", tenantID, id, query, message, tenantID, id)
}

// AppendLog records one step transition. The INSERT is guarded by a subquery
// on the owning execution's status: once an execution is terminal, its log is
// closed.
func (r *ExecutionRepository) AppendLog(ctx context.Context, entry *models.ExecutionLogEntry) error {
	if entry.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate log entry ID: %w", err)
		}

		entry.ID = id.String()
	}

	if entry.Attempt <= 0 {
		entry.Attempt = 1
	}

	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO workflow_execution_logs (id, tenant_id, execution_id, step_id,
			attempt, outcome, branch, error, executed_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8, $9
		WHERE EXISTS (
			SELECT 1 FROM workflow_executions
			WHERE tenant_id = $2 AND id = $3
				AND status NOT IN ('completed', 'failed', 'cancelled')
		)
	`

	result, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.TenantID,
		entry.ExecutionID,
		entry.StepID,
		entry.Attempt,
		entry.Outcome,
		nullString(entry.Branch),
		nullString(entry.Error),
		entry.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		if _, err := r.GetByID(ctx, entry.TenantID, entry.ExecutionID); err != nil {
			return err
		}

		return persistence.NewExecutionError("AppendLog", entry.TenantID, entry.ExecutionID, persistence.ErrExecutionTerminal)
	}

	return nil
}

func (r *ExecutionRepository) Logs(ctx context.Context, tenantID, executionID string) ([]*models.ExecutionLogEntry, error) {
	query := `SELECT id, tenant_id, execution_id, step_id, attempt, outcome, branch, error, executed_at
		FROM workflow_execution_logs
		WHERE tenant_id = $1 AND execution_id = $2
		ORDER BY executed_at, id`

	rows, err := r.db.QueryContext(ctx, query, tenantID, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer r.closeRows(ctx, rows)

	entries := make([]*models.ExecutionLogEntry, 0)

	for rows.Next() {
		var (
			entry           models.ExecutionLogEntry
			branch, errText sql.NullString
		)

		err := rows.Scan(
			&entry.ID,
			&entry.TenantID,
			&entry.ExecutionID,
			&entry.StepID,
			&entry.Attempt,
			&entry.Outcome,
			&branch,
			&errText,
			&entry.ExecutedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}

		entry.Branch = branch.String
		entry.Error = errText.String
		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return entries, nil
}

func (r *ExecutionRepository) update(ctx context.Context, op, tenantID, id, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return persistence.NewExecutionError(op, tenantID, id, persistence.ErrExecutionNotFound)
	}

	return nil
}

func (r *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.WorkflowExecution, error) {
	var (
		execution                                 models.WorkflowExecution
		customerID, conversationID, currentStepID sql.NullString
		retryOfID, errorMessage                   sql.NullString
		contextJSON                               []byte
	)

	err := scanner.Scan(
		&execution.ID,
		&execution.TenantID,
		&execution.WorkflowID,
		&customerID,
		&conversationID,
		&execution.Status,
		&contextJSON,
		&currentStepID,
		&execution.Test,
		&retryOfID,
		&errorMessage,
		&execution.CreatedAt,
		&execution.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	execution.CustomerID = customerID.String
	execution.ConversationID = conversationID.String
	execution.CurrentStepID = currentStepID.String
	execution.RetryOfID = retryOfID.String
	execution.ErrorMessage = errorMessage.String

	if contextJSON != nil {
		if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal execution context: %w", err)
		}
	}

	return &execution, nil
}

func (r *ExecutionRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
