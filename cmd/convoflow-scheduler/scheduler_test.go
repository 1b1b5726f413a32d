package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoflow/convoflow/pkg/channels/gochannel"
	"github.com/convoflow/convoflow/pkg/eventbus"
	"github.com/convoflow/convoflow/pkg/events"
	"github.com/convoflow/convoflow/pkg/schedule"
)

func TestScheduler_Sweep(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	t.Cleanup(func() { _ = bus.Close() })

	var (
		mu      sync.Mutex
		resumed []*events.ExecutionResumed
	)

	err = bus.Handle(events.ExecutionResumedEvent, func(_ context.Context, event any) error {
		resumption, ok := event.(*events.ExecutionResumed)
		require.True(t, ok)

		mu.Lock()
		defer mu.Unlock()

		resumed = append(resumed, resumption)

		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	require.NoError(t, bus.Subscribe(ctx))

	delays := schedule.NewMemoryDelayStore()
	now := time.Now().UTC()

	require.NoError(t, delays.Schedule(ctx, schedule.Resumption{
		ExecutionID: "exec-1",
		TenantID:    "tenant-1",
		StepID:      "wait",
		ResumeAt:    now.Add(-time.Minute),
	}))
	require.NoError(t, delays.Schedule(ctx, schedule.Resumption{
		ExecutionID: "exec-2",
		TenantID:    "tenant-1",
		StepID:      "wait",
		ResumeAt:    now.Add(time.Hour),
	}))

	scheduler := NewScheduler(delays, bus, logger, 10)

	require.NoError(t, scheduler.Sweep(ctx))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()

		return len(resumed) == 1
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, "exec-1", resumed[0].ExecutionID)
	assert.Equal(t, "wait", resumed[0].StepID)
	assert.Equal(t, "tenant-1", resumed[0].TenantID)
	mu.Unlock()

	// The due resumption was popped; the future one stays parked.
	due, err := delays.Due(ctx, now.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "exec-2", due[0].ExecutionID)
}

func TestNewScheduler_DefaultsBatchSize(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	scheduler := NewScheduler(schedule.NewMemoryDelayStore(), nil, logger, 0)

	assert.Equal(t, defaultBatchSize, scheduler.batchSize)
}
