package main

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/actions/sendmessage"
	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/models"
	"github.com/convoflow/convoflow/pkg/persistence/file"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/schedule"
)

// Mock event bus for testing
type MockEventBus struct {
	publishedEvents []eventbus.Event
}

func (m *MockEventBus) Handle(eventType events.EventType, handler eventbus.EventHandler) error {
	return nil
}

func (m *MockEventBus) Publish(ctx context.Context, key string, event eventbus.Event) error {
	m.publishedEvents = append(m.publishedEvents, event)

	return nil
}

func (m *MockEventBus) Subscribe(ctx context.Context) error {
	return nil
}

func (m *MockEventBus) Close() error {
	return nil
}

func (m *MockEventBus) GenerateID() string {
	return uuid.New().String()
}

func newTestWorkerManager(t *testing.T) (*WorkerManager, *file.Persistence, *MockEventBus) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message_id":"msg-1","status":"sent"}`))
	}))
	t.Cleanup(server.Close)

	client := gateway.NewClient(gateway.Config{BaseURL: server.URL}, logger)

	reg := registry.NewRegistry(logger)
	reg.RegisterAction(sendmessage.NewActionFactory(client))

	persistence := file.NewPersistence(t.TempDir())
	eventBus := &MockEventBus{}

	wm := NewWorkerManager("test-worker-1", persistence, eventBus, schedule.NewMemoryDelayStore(), reg, logger)

	return wm, persistence, eventBus
}

func saveActiveWorkflow(t *testing.T, persistence *file.Persistence) *models.Workflow {
	t.Helper()

	wf := &models.Workflow{
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

	require.NoError(t, persistence.WorkflowRepository().Save(t.Context(), wf))

	return wf
}

func TestNewWorkerManager(t *testing.T) {
	wm, persistence, eventBus := newTestWorkerManager(t)

	assert.NotNil(t, wm)
	assert.Equal(t, "test-worker-1", wm.id)
	assert.Equal(t, persistence, wm.persistence)
	assert.Equal(t, eventBus, wm.eventBus)
	assert.NotNil(t, wm.matcher)
	assert.NotNil(t, wm.executor)
	assert.NotNil(t, wm.executionService)
	assert.NotNil(t, wm.logger)
}

func TestWorkerManager_HandleDomainEvent_InvalidEvent(t *testing.T) {
	wm, _, _ := newTestWorkerManager(t)

	// Should not return error but log it
	err := wm.handleDomainEvent(t.Context(), "invalid-event")
	assert.NoError(t, err)
}

func TestWorkerManager_HandleDomainEvent_EnqueuesMatchedWorkflows(t *testing.T) {
	wm, persistence, eventBus := newTestWorkerManager(t)

	wf := saveActiveWorkflow(t, persistence)

	received := &events.DomainEventReceived{
		BaseEvent: events.NewBaseEvent(events.DomainEventReceivedType, "tenant-1"),
		Event: models.DomainEvent{
			ID:         "evt-1",
			Type:       models.TriggerCustomerCreated,
			TenantID:   "tenant-1",
			CustomerID: "cust-1",
			Payload:    map[string]any{"customer_name": "Ada"},
			OccurredAt: time.Now().UTC(),
		},
	}

	err := wm.handleDomainEvent(t.Context(), received)
	require.NoError(t, err)

	// One execution queued for the matched workflow
	require.Len(t, eventBus.publishedEvents, 1)
	queued, ok := eventBus.publishedEvents[0].(events.ExecutionQueued)
	require.True(t, ok)
	assert.Equal(t, wf.ID, queued.WorkflowID)
	assert.Equal(t, "tenant-1", queued.TenantID)

	execution, err := persistence.ExecutionRepository().GetByID(t.Context(), "tenant-1", queued.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, execution.Status)
	assert.Equal(t, "cust-1", execution.CustomerID)
}

func TestWorkerManager_HandleDomainEvent_NoMatchIsQuiet(t *testing.T) {
	wm, persistence, eventBus := newTestWorkerManager(t)

	saveActiveWorkflow(t, persistence)

	received := &events.DomainEventReceived{
		BaseEvent: events.NewBaseEvent(events.DomainEventReceivedType, "tenant-1"),
		Event: models.DomainEvent{
			ID:         "evt-2",
			Type:       models.TriggerConversationClosed,
			TenantID:   "tenant-1",
			OccurredAt: time.Now().UTC(),
		},
	}

	err := wm.handleDomainEvent(t.Context(), received)
	require.NoError(t, err)
	assert.Empty(t, eventBus.publishedEvents)
}

func TestWorkerManager_HandleExecutionQueued_RunsToCompletion(t *testing.T) {
	wm, persistence, _ := newTestWorkerManager(t)

	wf := saveActiveWorkflow(t, persistence)

	execution := &models.WorkflowExecution{
		TenantID:   "tenant-1",
		WorkflowID: wf.ID,
		CustomerID: "cust-1",
		Status:     models.ExecutionStatusPending,
		Context: map[string]any{
			"trigger_data": map[string]any{"customer_name": "Ada"},
		},
	}
	require.NoError(t, persistence.ExecutionRepository().Create(t.Context(), execution))

	queued := &events.ExecutionQueued{
		BaseEvent:   events.NewBaseEvent(events.ExecutionQueuedEvent, "tenant-1"),
		ExecutionID: execution.ID,
		WorkflowID:  wf.ID,
	}

	err := wm.handleExecutionQueued(t.Context(), queued)
	require.NoError(t, err)

	updated, err := persistence.ExecutionRepository().GetByID(t.Context(), "tenant-1", execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, updated.Status)
}

func TestWorkerManager_HandleExecutionQueued_InvalidEvent(t *testing.T) {
	wm, _, _ := newTestWorkerManager(t)

	err := wm.handleExecutionQueued(t.Context(), "invalid-event")
	assert.NoError(t, err)
}

func TestWorkerManager_HandleExecutionResumed_InvalidEvent(t *testing.T) {
	wm, _, _ := newTestWorkerManager(t)

	err := wm.handleExecutionResumed(t.Context(), "invalid-event")
	assert.NoError(t, err)
}
