package file

import (
	"testing"

	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkflow(tenantID, name string, status models.WorkflowStatus) *models.Workflow {
	return &models.Workflow{
		TenantID:    tenantID,
		Name:        name,
		Status:      status,
		TriggerType: models.TriggerCustomerCreated,
		Steps: []*models.WorkflowStep{
			{ID: "start", Name: "Trigger", Type: models.StepTypeTrigger},
		},
	}
}

func TestWorkflowRepository_SaveAndGet(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.WorkflowRepository()

	workflow := testWorkflow("tenant-1", "Welcome flow", models.WorkflowStatusDraft)

	require.NoError(t, repo.Save(t.Context(), workflow))
	assert.NotEmpty(t, workflow.ID)
	assert.False(t, workflow.CreatedAt.IsZero())

	loaded, err := repo.GetByID(t.Context(), "tenant-1", workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Welcome flow", loaded.Name)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, workflow.ID, loaded.Steps[0].WorkflowID)
	assert.Equal(t, "tenant-1", loaded.Steps[0].TenantID)
}

func TestWorkflowRepository_GetByID_TenantScoped(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.WorkflowRepository()

	workflow := testWorkflow("tenant-1", "Welcome flow", models.WorkflowStatusDraft)
	require.NoError(t, repo.Save(t.Context(), workflow))

	_, err := repo.GetByID(t.Context(), "tenant-2", workflow.ID)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_SoftDelete(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.WorkflowRepository()

	workflow := testWorkflow("tenant-1", "Welcome flow", models.WorkflowStatusActive)
	require.NoError(t, repo.Save(t.Context(), workflow))
	require.NoError(t, repo.Delete(t.Context(), "tenant-1", workflow.ID))

	_, err := repo.GetByID(t.Context(), "tenant-1", workflow.ID)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)

	listed, err := repo.List(t.Context(), "tenant-1", persistence.ListWorkflowsOptions{})
	require.NoError(t, err)
	assert.Empty(t, listed)

	// Deleting twice reports not found.
	err = repo.Delete(t.Context(), "tenant-1", workflow.ID)
	assert.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestWorkflowRepository_ListFilters(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.WorkflowRepository()

	require.NoError(t, repo.Save(t.Context(), testWorkflow("tenant-1", "Active flow", models.WorkflowStatusActive)))
	require.NoError(t, repo.Save(t.Context(), testWorkflow("tenant-1", "Draft flow", models.WorkflowStatusDraft)))

	other := testWorkflow("tenant-1", "Closed conversations", models.WorkflowStatusActive)
	other.TriggerType = models.TriggerConversationClosed
	require.NoError(t, repo.Save(t.Context(), other))

	active := models.WorkflowStatusActive

	listed, err := repo.List(t.Context(), "tenant-1", persistence.ListWorkflowsOptions{Status: &active})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	trigger := models.TriggerConversationClosed

	listed, err = repo.List(t.Context(), "tenant-1", persistence.ListWorkflowsOptions{TriggerType: &trigger})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Closed conversations", listed[0].Name)

	listed, err = repo.ListActiveByTrigger(t.Context(), "tenant-1", models.TriggerCustomerCreated)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, "Active flow", listed[0].Name)
}

func createExecution(t *testing.T, p *Persistence, status models.ExecutionStatus) *models.WorkflowExecution {
	t.Helper()

	execution := &models.WorkflowExecution{
		TenantID:   "tenant-1",
		WorkflowID: "wf-1",
		Status:     status,
	}

	require.NoError(t, p.ExecutionRepository().Create(t.Context(), execution))

	return execution
}

func TestExecutionRepository_TransitionStatus_Guarded(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	execution := createExecution(t, p, models.ExecutionStatusPending)

	// First claim wins.
	err := repo.TransitionStatus(t.Context(), "tenant-1", execution.ID,
		models.ExecutionStatusPending, models.ExecutionStatusRunning)
	require.NoError(t, err)

	// Second claim loses the guard.
	err = repo.TransitionStatus(t.Context(), "tenant-1", execution.ID,
		models.ExecutionStatusPending, models.ExecutionStatusRunning)
	assert.ErrorIs(t, err, persistence.ErrInvalidStatusTransition)
}

func TestExecutionRepository_TerminalIsImmutable(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	execution := createExecution(t, p, models.ExecutionStatusCompleted)

	err := repo.TransitionStatus(t.Context(), "tenant-1", execution.ID,
		models.ExecutionStatusCompleted, models.ExecutionStatusRunning)
	assert.ErrorIs(t, err, persistence.ErrInvalidStatusTransition)
}

func TestExecutionRepository_CompletedAtSetOnTerminal(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	execution := createExecution(t, p, models.ExecutionStatusRunning)

	err := repo.TransitionStatus(t.Context(), "tenant-1", execution.ID,
		models.ExecutionStatusRunning, models.ExecutionStatusCompleted)
	require.NoError(t, err)

	loaded, err := repo.GetByID(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)
	assert.NotNil(t, loaded.CompletedAt)
}

func TestExecutionRepository_AppendLog_RefusesTerminal(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	running := createExecution(t, p, models.ExecutionStatusRunning)

	err := repo.AppendLog(t.Context(), &models.ExecutionLogEntry{
		TenantID:    "tenant-1",
		ExecutionID: running.ID,
		StepID:      "start",
		Attempt:     1,
		Outcome:     models.OutcomeSuccess,
	})
	require.NoError(t, err)

	cancelled := createExecution(t, p, models.ExecutionStatusCancelled)

	err = repo.AppendLog(t.Context(), &models.ExecutionLogEntry{
		TenantID:    "tenant-1",
		ExecutionID: cancelled.ID,
		StepID:      "start",
		Attempt:     1,
		Outcome:     models.OutcomeSuccess,
	})
	assert.ErrorIs(t, err, persistence.ErrExecutionTerminal)
}

func TestExecutionRepository_Logs_Ordered(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	execution := createExecution(t, p, models.ExecutionStatusRunning)

	for _, stepID := range []string{"start", "check", "send"} {
		require.NoError(t, repo.AppendLog(t.Context(), &models.ExecutionLogEntry{
			TenantID:    "tenant-1",
			ExecutionID: execution.ID,
			StepID:      stepID,
			Attempt:     1,
			Outcome:     models.OutcomeSuccess,
		}))
	}

	logs, err := repo.Logs(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, "start", logs[0].StepID)
	assert.Equal(t, "check", logs[1].StepID)
	assert.Equal(t, "send", logs[2].StepID)

	for _, entry := range logs {
		assert.NotEmpty(t, entry.ID)
		assert.False(t, entry.ExecutedAt.IsZero())
	}
}

func TestExecutionRepository_ListFilters(t *testing.T) {
	p := NewPersistence(t.TempDir())
	repo := p.ExecutionRepository()

	createExecution(t, p, models.ExecutionStatusCompleted)
	createExecution(t, p, models.ExecutionStatusFailed)

	otherWorkflow := &models.WorkflowExecution{
		TenantID:   "tenant-1",
		WorkflowID: "wf-2",
		Status:     models.ExecutionStatusFailed,
	}
	require.NoError(t, repo.Create(t.Context(), otherWorkflow))

	failed := models.ExecutionStatusFailed

	listed, err := repo.List(t.Context(), "tenant-1", persistence.ListExecutionsOptions{Status: &failed})
	require.NoError(t, err)
	assert.Len(t, listed, 2)

	listed, err = repo.List(t.Context(), "tenant-1", persistence.ListExecutionsOptions{WorkflowID: "wf-2"})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, models.ExecutionStatusFailed, listed[0].Status)
}

func TestStatistics_ExcludesTestExecutions(t *testing.T) {
	p := NewPersistence(t.TempDir())

	require.NoError(t, p.WorkflowRepository().Save(t.Context(),
		testWorkflow("tenant-1", "Welcome flow", models.WorkflowStatusActive)))

	createExecution(t, p, models.ExecutionStatusCompleted)

	test := &models.WorkflowExecution{
		TenantID:   "tenant-1",
		WorkflowID: "wf-1",
		Status:     models.ExecutionStatusCompleted,
		Test:       true,
	}
	require.NoError(t, p.ExecutionRepository().Create(t.Context(), test))

	stats, err := p.WorkflowRepository().Statistics(t.Context(), "tenant-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), stats.TotalWorkflows)
	assert.Equal(t, int64(1), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.ExecutionsByStatus[models.ExecutionStatusCompleted])
}
