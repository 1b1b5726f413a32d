package workflow

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/actions/sendmessage"
	"github.com/convoflow/convoflow/pkg/actions/tagging"
	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence/file"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/schedule"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// capturingBus records published events for assertions.
type capturingBus struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (b *capturingBus) Publish(_ context.Context, _ string, event eventbus.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, event)

	return nil
}

func (b *capturingBus) types() []events.EventType {
	b.mu.Lock()
	defer b.mu.Unlock()

	types := make([]events.EventType, 0, len(b.events))
	for _, event := range b.events {
		types = append(types, event.GetType())
	}

	return types
}

type executorEnv struct {
	persistence *file.Persistence
	delays      *schedule.MemoryDelayStore
	bus         *capturingBus
	executor    *Executor
}

func newExecutorEnv(t *testing.T, gatewayHandler http.HandlerFunc) *executorEnv {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	server := httptest.NewServer(gatewayHandler)
	t.Cleanup(server.Close)

	client := gateway.NewClient(gateway.Config{BaseURL: server.URL}, logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(sendmessage.NewActionFactory(client))
	reg.RegisterAction(tagging.NewActionFactory(client))

	persistence := file.NewPersistence(t.TempDir())
	delays := schedule.NewMemoryDelayStore()
	bus := &capturingBus{}

	executor := NewExecutor("worker-test", persistence, reg, delays, bus, logger, WithRetryBase(time.Millisecond))

	return &executorEnv{
		persistence: persistence,
		delays:      delays,
		bus:         bus,
		executor:    executor,
	}
}

func okGateway() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id": "msg-1", "status": "sent"}`))
	}
}

func (env *executorEnv) createWorkflow(t *testing.T, workflow *models.Workflow) *models.Workflow {
	t.Helper()

	err := env.persistence.WorkflowRepository().Save(t.Context(), workflow)
	require.NoError(t, err)

	return workflow
}

func (env *executorEnv) createExecution(t *testing.T, workflowID string, triggerData map[string]any) *models.WorkflowExecution {
	t.Helper()

	execution := &models.WorkflowExecution{
		TenantID:   "tenant-1",
		WorkflowID: workflowID,
		CustomerID: "cust-1",
		Status:     models.ExecutionStatusPending,
		Context: map[string]any{
			"trigger_data": triggerData,
		},
	}

	err := env.persistence.ExecutionRepository().Create(t.Context(), execution)
	require.NoError(t, err)

	return execution
}

func (env *executorEnv) reload(t *testing.T, id string) *models.WorkflowExecution {
	t.Helper()

	execution, err := env.persistence.ExecutionRepository().GetByID(t.Context(), "tenant-1", id)
	require.NoError(t, err)

	return execution
}

func (env *executorEnv) logs(t *testing.T, id string) []*models.ExecutionLogEntry {
	t.Helper()

	entries, err := env.persistence.ExecutionRepository().Logs(t.Context(), "tenant-1", id)
	require.NoError(t, err)

	return entries
}

func welcomeWorkflow() *models.Workflow {
	return &models.Workflow{
		TenantID:    "tenant-1",
		Name:        "Welcome message",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerCustomerCreated,
		Steps: []*models.WorkflowStep{
			{
				ID:        "start",
				Name:      "On signup",
				Type:      models.StepTypeTrigger,
				NextSteps: []string{"send"},
			},
			{
				ID:   "send",
				Name: "Send welcome",
				Type: models.StepTypeAction,
				Config: models.StepConfig{
					Action: &models.ActionConfig{
						Kind:   "send_message",
						Params: map[string]any{"message": "Welcome, {{.trigger_data.customer_name}}!"},
					},
				},
			},
		},
	}
}

func TestExecutor_Run_WelcomeWorkflow(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, welcomeWorkflow())
	execution := env.createExecution(t, workflow.ID, map[string]any{"customer_name": "Ada"})

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, reloaded.Status)
	require.NotNil(t, reloaded.CompletedAt)

	results, ok := reloaded.Context["step_results"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, results, "send")

	entries := env.logs(t, execution.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, "start", entries[0].StepID)
	assert.Equal(t, models.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "send", entries[1].StepID)
	assert.Equal(t, models.OutcomeSuccess, entries[1].Outcome)

	assert.Contains(t, env.bus.types(), events.ExecutionCompletedEvent)
}

func TestExecutor_Run_ConditionBranches(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, &models.Workflow{
		TenantID:    "tenant-1",
		Name:        "VIP routing",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerMessageReceived,
		Steps: []*models.WorkflowStep{
			{
				ID:        "start",
				Name:      "On message",
				Type:      models.StepTypeTrigger,
				NextSteps: []string{"check"},
			},
			{
				ID:   "check",
				Name: "Is VIP",
				Type: models.StepTypeCondition,
				Config: models.StepConfig{
					Condition: &models.ConditionConfig{
						Field:    "customer_type",
						Operator: models.OperatorEquals,
						Value:    "vip",
					},
				},
				NextSteps: []string{"greet-vip", "greet-regular"},
			},
			{
				ID:   "greet-vip",
				Name: "VIP greeting",
				Type: models.StepTypeAction,
				Config: models.StepConfig{
					Action: &models.ActionConfig{
						Kind:   "send_message",
						Params: map[string]any{"message": "Welcome back!"},
					},
				},
			},
			{
				ID:   "greet-regular",
				Name: "Regular greeting",
				Type: models.StepTypeAction,
				Config: models.StepConfig{
					Action: &models.ActionConfig{
						Kind:   "send_message",
						Params: map[string]any{"message": "Hi there"},
					},
				},
			},
		},
	})

	execution := env.createExecution(t, workflow.ID, map[string]any{"customer_type": "regular"})

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, reloaded.Status)

	entries := env.logs(t, execution.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, "check", entries[1].StepID)
	assert.Equal(t, "false", entries[1].Branch)
	assert.Equal(t, "greet-regular", entries[2].StepID)

	results := reloaded.Context["step_results"].(map[string]any)
	assert.Contains(t, results, "greet-regular")
	assert.NotContains(t, results, "greet-vip")
}

func TestExecutor_Run_RetriesExhausted(t *testing.T) {
	env := newExecutorEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusInternalServerError)
	})

	workflow := welcomeWorkflow()
	workflow.Steps[1].Config.Action.MaxRetries = 2
	env.createWorkflow(t, workflow)

	execution := env.createExecution(t, workflow.ID, map[string]any{"customer_name": "Ada"})

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "after 3 attempts")

	// One log entry per attempt plus the trigger step.
	entries := env.logs(t, execution.ID)
	require.Len(t, entries, 4)

	attempts := []int{}

	for _, entry := range entries[1:] {
		assert.Equal(t, "send", entry.StepID)
		assert.Equal(t, models.OutcomeFailure, entry.Outcome)

		attempts = append(attempts, entry.Attempt)
	}

	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Contains(t, env.bus.types(), events.ExecutionFailedEvent)
}

func TestExecutor_Run_RetrySucceeds(t *testing.T) {
	var calls int

	var mu sync.Mutex

	env := newExecutorEnv(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		failFirst := calls == 1
		mu.Unlock()

		if failFirst {
			http.Error(w, "transient", http.StatusInternalServerError)

			return
		}

		okGateway()(w, r)
	})

	workflow := welcomeWorkflow()
	workflow.Steps[1].Config.Action.MaxRetries = 2
	env.createWorkflow(t, workflow)

	execution := env.createExecution(t, workflow.ID, map[string]any{"customer_name": "Ada"})

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, reloaded.Status)

	entries := env.logs(t, execution.ID)
	require.Len(t, entries, 3)
	assert.Equal(t, models.OutcomeFailure, entries[1].Outcome)
	assert.Equal(t, 1, entries[1].Attempt)
	assert.Equal(t, models.OutcomeSuccess, entries[2].Outcome)
	assert.Equal(t, 2, entries[2].Attempt)
}

func TestExecutor_Run_DelayParksAndResumes(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, &models.Workflow{
		TenantID:    "tenant-1",
		Name:        "Follow up later",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerConversationClosed,
		Steps: []*models.WorkflowStep{
			{
				ID:        "start",
				Name:      "On close",
				Type:      models.StepTypeTrigger,
				NextSteps: []string{"wait"},
			},
			{
				ID:   "wait",
				Name: "Wait a day",
				Type: models.StepTypeDelay,
				Config: models.StepConfig{
					Delay: &models.DelayConfig{DurationSeconds: 86400},
				},
				NextSteps: []string{"followup"},
			},
			{
				ID:   "followup",
				Name: "Follow up",
				Type: models.StepTypeAction,
				Config: models.StepConfig{
					Action: &models.ActionConfig{
						Kind:   "send_message",
						Params: map[string]any{"message": "How did we do?"},
					},
				},
			},
		},
	})

	execution := env.createExecution(t, workflow.ID, nil)

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	// The execution stays running while parked, without occupying a worker.
	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, reloaded.Status)

	due, err := env.delays.Due(t.Context(), time.Now().UTC().Add(48*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, execution.ID, due[0].ExecutionID)
	assert.Equal(t, "wait", due[0].StepID)

	err = env.executor.Resume(t.Context(), "tenant-1", execution.ID, "wait")
	require.NoError(t, err)

	reloaded = env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, reloaded.Status)

	results := reloaded.Context["step_results"].(map[string]any)
	assert.Contains(t, results, "followup")
}

func TestExecutor_Resume_DropsTerminalExecution(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, welcomeWorkflow())
	execution := env.createExecution(t, workflow.ID, nil)

	err := env.persistence.ExecutionRepository().TransitionStatus(t.Context(),
		"tenant-1", execution.ID,
		models.ExecutionStatusPending, models.ExecutionStatusCancelled,
	)
	require.NoError(t, err)

	err = env.executor.Resume(t.Context(), "tenant-1", execution.ID, "start")
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCancelled, reloaded.Status)
	assert.Empty(t, env.logs(t, execution.ID))
}

func TestExecutor_Run_LoopStopsAtIterationCap(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, &models.Workflow{
		TenantID:    "tenant-1",
		Name:        "Nudge loop",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerMessageReceived,
		Steps: []*models.WorkflowStep{
			{
				ID:        "start",
				Name:      "On message",
				Type:      models.StepTypeTrigger,
				NextSteps: []string{"loop"},
			},
			{
				// The condition always holds, so only the cap stops the loop.
				ID:   "loop",
				Name: "Nudge until reply",
				Type: models.StepTypeLoop,
				Config: models.StepConfig{
					Loop: &models.LoopConfig{
						Condition: models.ConditionConfig{
							Field:    "channel",
							Operator: models.OperatorExists,
						},
						MaxIterations: 3,
					},
				},
				NextSteps: []string{"nudge", "done"},
			},
			{
				ID:   "nudge",
				Name: "Send nudge",
				Type: models.StepTypeAction,
				Config: models.StepConfig{
					Action: &models.ActionConfig{
						Kind:   "send_message",
						Params: map[string]any{"message": "Still there?"},
					},
				},
				NextSteps: []string{"loop"},
			},
			{
				ID:   "done",
				Name: "Done",
				Type: models.StepTypeMerge,
			},
		},
	})

	execution := env.createExecution(t, workflow.ID, map[string]any{"channel": "webchat"})

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, reloaded.Status)

	results := reloaded.Context["step_results"].(map[string]any)
	loopResult, ok := results["loop"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(3), loopResult["iterations"])
}

func TestExecutor_Run_ParallelBranchesJoinAtMerge(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, &models.Workflow{
		TenantID:    "tenant-1",
		Name:        "Onboard in parallel",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerCustomerCreated,
		Steps: []*models.WorkflowStep{
			{
				ID:        "start",
				Name:      "On signup",
				Type:      models.StepTypeTrigger,
				NextSteps: []string{"fan"},
			},
			{
				ID:        "fan",
				Name:      "Fan out",
				Type:      models.StepTypeParallel,
				NextSteps: []string{"greet", "tag"},
			},
			{
				ID:   "greet",
				Name: "Greet",
				Type: models.StepTypeAction,
				Config: models.StepConfig{
					Action: &models.ActionConfig{
						Kind:   "send_message",
						Params: map[string]any{"message": "Welcome!"},
					},
				},
				NextSteps: []string{"join"},
			},
			{
				ID:   "tag",
				Name: "Tag as new",
				Type: models.StepTypeAction,
				Config: models.StepConfig{
					Action: &models.ActionConfig{
						Kind:   "apply_tags",
						Params: map[string]any{"tags": []any{"new-customer"}},
					},
				},
				NextSteps: []string{"join"},
			},
			{
				ID:        "join",
				Name:      "Join",
				Type:      models.StepTypeMerge,
				NextSteps: []string{"confirm"},
			},
			{
				ID:   "confirm",
				Name: "Confirm",
				Type: models.StepTypeAction,
				Config: models.StepConfig{
					Action: &models.ActionConfig{
						Kind:   "send_message",
						Params: map[string]any{"message": "All set."},
					},
				},
			},
		},
	})

	execution := env.createExecution(t, workflow.ID, nil)

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, reloaded.Status)

	results := reloaded.Context["step_results"].(map[string]any)
	assert.Contains(t, results, "greet")
	assert.Contains(t, results, "tag")
	assert.Contains(t, results, "confirm")
}

func TestExecutor_Run_CustomCodeFails(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, &models.Workflow{
		TenantID:    "tenant-1",
		Name:        "Legacy script",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerMessageReceived,
		Steps: []*models.WorkflowStep{
			{
				ID:        "start",
				Name:      "On message",
				Type:      models.StepTypeTrigger,
				NextSteps: []string{"script"},
			},
			{
				ID:   "script",
				Name: "Custom script",
				Type: models.StepTypeCustomCode,
			},
		},
	})

	execution := env.createExecution(t, workflow.ID, nil)

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, reloaded.Status)
	assert.Contains(t, reloaded.ErrorMessage, "custom_code")
}

func TestExecutor_Run_NotClaimable(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, welcomeWorkflow())
	execution := env.createExecution(t, workflow.ID, nil)

	// Another worker already claimed the execution.
	err := env.persistence.ExecutionRepository().TransitionStatus(t.Context(),
		"tenant-1", execution.ID,
		models.ExecutionStatusPending, models.ExecutionStatusRunning,
	)
	require.NoError(t, err)

	err = env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	assert.Empty(t, env.logs(t, execution.ID))
	assert.Empty(t, env.bus.types())
}

func TestExecutor_Run_EmptyWorkflowCompletes(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := env.createWorkflow(t, &models.Workflow{
		TenantID:    "tenant-1",
		Name:        "No steps yet",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerMessageReceived,
	})

	execution := env.createExecution(t, workflow.ID, nil)

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusCompleted, reloaded.Status)
}

func TestExecutor_Run_InvalidActionParams(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	workflow := welcomeWorkflow()
	workflow.Steps[1].Config.Action.Params = map[string]any{"unexpected": true}
	env.createWorkflow(t, workflow)

	execution := env.createExecution(t, workflow.ID, nil)

	err := env.executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	// Config errors are permanent: exactly one failure entry, no retries.
	reloaded := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, reloaded.Status)

	entries := env.logs(t, execution.ID)
	require.Len(t, entries, 2)
	assert.Equal(t, models.OutcomeFailure, entries[1].Outcome)
}

func TestExecutor_Run_AbortsRunawayWalk(t *testing.T) {
	env := newExecutorEnv(t, okGateway())

	// A cyclic graph saved without validation must not walk forever.
	wf := env.createWorkflow(t, &models.Workflow{
		TenantID:    "tenant-1",
		Name:        "Runaway",
		Status:      models.WorkflowStatusActive,
		TriggerType: models.TriggerCustomerCreated,
		Steps: []*models.WorkflowStep{
			{
				ID:        "start",
				Name:      "On signup",
				Type:      models.StepTypeTrigger,
				NextSteps: []string{"a"},
			},
			{
				ID:        "a",
				Name:      "First hop",
				Type:      models.StepTypeMerge,
				NextSteps: []string{"b"},
			},
			{
				ID:        "b",
				Name:      "Second hop",
				Type:      models.StepTypeMerge,
				NextSteps: []string{"a"},
			},
		},
	})

	execution := env.createExecution(t, wf.ID, map[string]any{})

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	executor := NewExecutor("worker-test", env.persistence, registry.NewRegistry(logger),
		env.delays, env.bus, logger, WithMaxSteps(25))

	err := executor.Run(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)

	updated := env.reload(t, execution.ID)
	assert.Equal(t, models.ExecutionStatusFailed, updated.Status)
	assert.Contains(t, updated.ErrorMessage, "exceeded 25 steps")
	assert.Contains(t, env.bus.types(), events.ExecutionFailedEvent)
}

func TestExecutor_MaxStepsScalesWithGraphSize(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	executor := NewExecutor("worker-test", nil, nil, nil, nil, logger)

	small := &models.Workflow{}
	assert.Equal(t, models.MaxLoopIterations, executor.maxStepsFor(small))

	larger := &models.Workflow{Steps: []*models.WorkflowStep{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	assert.Equal(t, 3*models.MaxLoopIterations, executor.maxStepsFor(larger))

	capped := NewExecutor("worker-test", nil, nil, nil, nil, logger, WithMaxSteps(10))
	assert.Equal(t, 10, capped.maxStepsFor(larger))
}
