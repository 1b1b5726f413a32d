package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/convoflow/convoflow/pkg/actions/gateway"
	"github.com/convoflow/convoflow/pkg/cmd"
	"github.com/convoflow/convoflow/pkg/log"
	"github.com/convoflow/convoflow/pkg/web"
)

const defaultPort = 9091

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "convoflow-api",
		Usage:                 "Create and manage engagement workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
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
				Name:     "tenant-tokens",
				Usage:    "Comma-separated token:tenant pairs for API authentication",
				Required: true,
				Sources:  cli.EnvVars("TENANT_TOKENS"),
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

			logger.InfoContext(ctx, "Initializing Convoflow API")

			registry := cmd.NewRegistry(logger, gateway.Config{
				BaseURL: command.String("gateway-url"),
				Token:   command.String("gateway-token"),
			})

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

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			resolver, err := web.NewTenantResolver(command.String("tenant-tokens"))
			if err != nil {
				return err
			}

			api := NewAPI(logger, persistence, registry, eventBus, delays, resolver)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
