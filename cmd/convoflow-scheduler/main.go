package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/convoflow/convoflow/pkg/cmd"
	"github.com/convoflow/convoflow/pkg/log"
)

const defaultBatchSize = 100

func main() {
	logger := log.WithModule("convoflow-scheduler")

	command := &cli.Command{
		Name:                  "convoflow-scheduler",
		EnableShellCompletion: true,
		Usage:                 "Sweep due delay resumptions and re-dispatch parked executions",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "delay-store-url",
				Usage:    "Resumption store URL (redis://... or memory)",
				Required: true,
				Sources:  cli.EnvVars("DELAY_STORE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "sweep-schedule",
				Usage:   "Cron schedule for resumption sweeps",
				Value:   "@every 5s",
				Sources: cli.EnvVars("SWEEP_SCHEDULE"),
			},
			&cli.IntFlag{
				Name:    "batch-size",
				Usage:   "Maximum resumptions dispatched per sweep",
				Value:   defaultBatchSize,
				Sources: cli.EnvVars("SWEEP_BATCH_SIZE"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger.InfoContext(ctx, "Initializing Convoflow Scheduler")

			delays, err := cmd.NewDelayStore(command.String("delay-store-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := delays.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close delay store", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			scheduler := NewScheduler(delays, eventBus, logger, command.Int("batch-size"))

			return scheduler.Start(ctx, command.String("sweep-schedule"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
