// Package main provides the tokenflow API server binary.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"

	"github.com/dukex/tokenflow/pkg/cmd"
	"github.com/dukex/tokenflow/pkg/engine"
	"github.com/dukex/tokenflow/pkg/events"
	"github.com/dukex/tokenflow/pkg/log"
	"github.com/dukex/tokenflow/pkg/otelhelper"
	"github.com/dukex/tokenflow/pkg/version"
	"github.com/dukex/tokenflow/pkg/web"
)

const defaultPort = 9091

func main() {
	command := &cli.Command{
		Name:                  "tokenflow",
		Usage:                 "Token-based workflow runtime",
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
				Usage:    "Database connection URL for persistence (file:// or postgres://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the distributed lock store (optional)",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (none, gochannel, kafka)",
				Value:   "none",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "lock-sweep",
				Usage:   "Cron spec for the expired-lock sweep",
				Value:   "@every 30s",
				Sources: cli.EnvVars("LOCK_SWEEP"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export OTLP traces",
				Sources: cli.EnvVars("TRACING_ENABLED"),
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

			logger := log.WithModule("api")
			logger.InfoContext(ctx, "Initializing tokenflow")

			store := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			defer func() {
				if err := store.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus := cmd.NewEventBus(command.String("event-bus"), logger)
			if eventBus != nil {
				defer func() {
					if err := eventBus.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
					}
				}()
			}

			versions := version.NewManager(store.VersionRepository(), logger)

			cfg := engine.Config{
				Persistence: store,
				Locks:       cmd.NewLockManager(store, command.String("redis-url"), logger),
				Events:      events.NewManager(eventBus, logger),
				Versions:    versions,
				Logger:      logger,
			}

			if command.Bool("tracing") {
				tracer, err := otelhelper.NewTracer(ctx, "tokenflow")
				if err != nil {
					return err
				}

				cfg.Tracer = tracer
			}

			eng, err := engine.NewEngine(cfg)
			if err != nil {
				return err
			}

			janitor := engine.NewJanitor(cfg.Locks, logger)
			if err := janitor.Start(command.String("lock-sweep")); err != nil {
				return err
			}
			defer janitor.Stop()

			api := web.NewAPI(eng, store, versions)

			return api.Start(command.Int("port"))
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
