package main

import (
	"context"
	"os"

	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/cmd"
	"github.com/convoflow/convoflow/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "convoflow-worker",
		EnableShellCompletion: true,
		Usage:                 "Start workers to run engagement workflows",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:     "event-bus",
				Usage:    "Event bus type (kafka, gochannel)",
				Required: true,
				Sources:  cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:     "delay-store-url",
				Usage:    "Resumption store URL (redis://... or memory)",
				Required: true,
				Sources:  cli.EnvVars("DELAY_STORE_URL"),
			},
			&cli.StringFlag{
				Name:     "gateway-url",
				Usage:    "Engagement platform gateway base URL",
				Required: true,
				Sources:  cli.EnvVars("GATEWAY_URL"),
			},
			&cli.StringFlag{
				Name:    "gateway-token",
				Usage:   "Bearer token for the engagement gateway",
				Sources: cli.EnvVars("GATEWAY_TOKEN"),
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

			workerID := command.String("worker-id")
			if workerID == "" {
				workerID = "worker-" + uuid.New().String()[:8]
			}

			logger := log.WithModule("convoflow-worker").With("worker_id", workerID)

			logger.InfoContext(ctx, "Initializing Convoflow Worker")

			registry := cmd.NewRegistry(logger, gateway.Config{
				BaseURL: command.String("gateway-url"),
				Token:   command.String("gateway-token"),
			})

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persistence.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			delays, err := cmd.NewDelayStore(command.String("delay-store-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := delays.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close delay store", "error", err)
				}
			}()

			worker := NewWorkerManager(workerID, persistence, eventBus, delays, registry, logger)

			return worker.Start(ctx)
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
