// Package main provides the Convoflow worker: it matches domain events to
// workflows and drives executions through their step graphs.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/otelhelper"
	"github.com/convoflow/convoflow/pkg/persistence"
	"github.com/convoflow/convoflow/pkg/registry"
	"github.com/convoflow/convoflow/pkg/schedule"
	"github.com/convoflow/convoflow/pkg/services"
	"github.com/convoflow/convoflow/pkg/workflow"
)

type WorkerManager struct {
	id               string
	logger           *slog.Logger
	persistence      persistence.Persistence
	eventBus         eventbus.EventBus
	matcher          *workflow.TriggerMatcher
	executor         *workflow.Executor
	executionService *services.Execution
	tracer           trace.Tracer
}

func NewWorkerManager(
	id string,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
	delays schedule.DelayStore,
	registry *registry.Registry,
	logger *slog.Logger,
) *WorkerManager {
	logger = logger.With("module", "convoflow-worker", "worker_id", id)

	return &WorkerManager{
		id:               id,
		logger:           logger,
		persistence:      persistence,
		eventBus:         eventBus,
		matcher:          workflow.NewTriggerMatcher(persistence, logger),
		executor:         workflow.NewExecutor(id, persistence, registry, delays, eventBus, logger),
		executionService: services.NewExecution(persistence, delays, eventBus, logger),
	}
}

func (w *WorkerManager) Start(ctx context.Context) error {
	w.logger.InfoContext(ctx, "Starting worker manager")

	tracer, err := otelhelper.NewTracer(ctx, "convoflow-worker")
	if err != nil {
		return err
	}

	w.tracer = tracer

	if err := w.eventBus.Handle(events.DomainEventReceivedType, w.handleDomainEvent); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.ExecutionQueuedEvent, w.handleExecutionQueued); err != nil {
		return err
	}

	if err := w.eventBus.Handle(events.ExecutionResumedEvent, w.handleExecutionResumed); err != nil {
		return err
	}

	if err := w.eventBus.Subscribe(ctx); err != nil {
		w.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	w.logger.InfoContext(ctx, "Worker started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	w.logger.InfoContext(ctx, "Shutting down worker...")

	return nil
}

// startSpan opens a tracing span when the tracer is configured and is a
// no-op otherwise.
func (w *WorkerManager) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if w.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}

	return otelhelper.StartSpan(ctx, w.tracer, name, attrs...)
}

// handleDomainEvent runs trigger matching and enqueues one execution per
// matched workflow.
func (w *WorkerManager) handleDomainEvent(ctx context.Context, event any) error {
	received, ok := event.(*events.DomainEventReceived)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for DomainEventReceived")

		return nil
	}

	ctx, span := w.startSpan(ctx, "handle_domain_event",
		attribute.String(otelhelper.TenantIDKey, received.Event.TenantID),
		attribute.String(otelhelper.EventIDKey, received.Event.ID),
		attribute.String(otelhelper.TriggerTypeKey, string(received.Event.Type)),
		attribute.String(otelhelper.WorkerIDKey, w.id),
	)
	defer span.End()

	logger := w.logger.With(
		"event_id", received.Event.ID,
		"event_type", received.Event.Type,
		"tenant_id", received.Event.TenantID,
	)
	logger.InfoContext(ctx, "Matching domain event")

	matched, err := w.matcher.Match(ctx, received.Event)
	if err != nil {
		logger.ErrorContext(ctx, "Trigger matching failed", "error", err)

		return err
	}

	for _, wf := range matched {
		execution, err := w.executionService.Enqueue(ctx, wf, received.Event)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to enqueue execution", "workflow_id", wf.ID, "error", err)

			return err
		}

		logger.InfoContext(ctx, "Enqueued execution", "workflow_id", wf.ID, "execution_id", execution.ID)
	}

	return nil
}

func (w *WorkerManager) handleExecutionQueued(ctx context.Context, event any) error {
	queued, ok := event.(*events.ExecutionQueued)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionQueued")

		return nil
	}

	ctx, span := w.startSpan(ctx, "handle_execution_queued",
		attribute.String(otelhelper.TenantIDKey, queued.TenantID),
		attribute.String(otelhelper.ExecutionIDKey, queued.ExecutionID),
		attribute.String(otelhelper.WorkflowIDKey, queued.WorkflowID),
	)
	defer span.End()

	return w.executor.Run(ctx, queued.TenantID, queued.ExecutionID)
}

func (w *WorkerManager) handleExecutionResumed(ctx context.Context, event any) error {
	resumed, ok := event.(*events.ExecutionResumed)
	if !ok {
		w.logger.ErrorContext(ctx, "Invalid event type for ExecutionResumed")

		return nil
	}

	ctx, span := w.startSpan(ctx, "handle_execution_resumed",
		attribute.String(otelhelper.TenantIDKey, resumed.TenantID),
		attribute.String(otelhelper.ExecutionIDKey, resumed.ExecutionID),
		attribute.String(otelhelper.StepIDKey, resumed.StepID),
	)
	defer span.End()

	return w.executor.Resume(ctx, resumed.TenantID, resumed.ExecutionID, resumed.StepID)
}
