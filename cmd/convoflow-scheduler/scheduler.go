// Package main provides the Convoflow scheduler: a cron-driven sweep that
// wakes executions parked on delay steps.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/schedule"
)

type Scheduler struct {
	delays    schedule.DelayStore
	eventBus  eventbus.EventBus
	logger    *slog.Logger
	batchSize int
}

func NewScheduler(delays schedule.DelayStore, eventBus eventbus.EventBus, logger *slog.Logger, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &Scheduler{
		delays:    delays,
		eventBus:  eventBus,
		logger:    logger.With("module", "scheduler"),
		batchSize: batchSize,
	}
}

// Start runs sweeps on the given cron schedule until a shutdown signal.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	runner := cron.New()

	_, err := runner.AddFunc(spec, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.ErrorContext(ctx, "Sweep failed", "error", err)
		}
	})
	if err != nil {
		return err
	}

	runner.Start()
	s.logger.InfoContext(ctx, "Scheduler started", "schedule", spec)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	s.logger.InfoContext(ctx, "Shutting down scheduler...")

	stopCtx := runner.Stop()
	<-stopCtx.Done()

	return nil
}

// Sweep pops due resumptions and publishes a resume event for each. A
// resumption that fails to publish is re-scheduled so it is not lost.
func (s *Scheduler) Sweep(ctx context.Context) error {
	due, err := s.delays.Due(ctx, time.Now().UTC(), s.batchSize)
	if err != nil {
		return err
	}

	for _, resumption := range due {
		resumed := events.ExecutionResumed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionResumedEvent, resumption.TenantID),
			ExecutionID: resumption.ExecutionID,
			StepID:      resumption.StepID,
		}

		if err := s.eventBus.Publish(ctx, resumption.ExecutionID, resumed); err != nil {
			s.logger.ErrorContext(ctx, "Failed to publish resumption, re-scheduling",
				"execution_id", resumption.ExecutionID,
				"error", err,
			)

			if scheduleErr := s.delays.Schedule(ctx, resumption); scheduleErr != nil {
				s.logger.ErrorContext(ctx, "Failed to re-schedule resumption",
					"execution_id", resumption.ExecutionID,
					"error", scheduleErr,
				)
			}

			continue
		}

		s.logger.InfoContext(ctx, "Dispatched resumption",
			"execution_id", resumption.ExecutionID,
			"step_id", resumption.StepID,
		)
	}

	return nil
}
