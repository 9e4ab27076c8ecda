package main

import (
	"context"
	"os"
	"time"

	cli "github.com/urfave/cli/v3"

	"github.com/nodeflow-io/nodeflow/pkg/cmd"
	"github.com/nodeflow-io/nodeflow/pkg/dispatcher"
	"github.com/nodeflow-io/nodeflow/pkg/gateway"
	"github.com/nodeflow-io/nodeflow/pkg/log"
	"github.com/nodeflow-io/nodeflow/pkg/otelhelper"
	"github.com/nodeflow-io/nodeflow/pkg/partition"
)

const defaultPort = 9080

func main() {
	logger := log.WithModule("api")

	command := &cli.Command{
		Name:                  "nodeflow-api",
		Usage:                 "Coordinate workflow executions between triggers and the execution engine",
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
				Name:    "redis-url",
				Usage:   "Redis connection URL for the job channel and rate limits",
				Value:   "redis://localhost:6379",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "channel-provider",
				Usage:   "Job channel provider (redis, kafka)",
				Value:   "redis",
				Sources: cli.EnvVars("CHANNEL_PROVIDER"),
			},
			&cli.IntFlag{
				Name:    "partition-count",
				Usage:   "Number of job channel partitions, must match the engine's consumers",
				Value:   partition.DefaultCount,
				Sources: cli.EnvVars("PARTITION_COUNT"),
			},
			&cli.StringFlag{
				Name:     "base-url",
				Usage:    "Externally reachable base URL used for engine callback URLs",
				Required: true,
				Sources:  cli.EnvVars("BASE_URL"),
			},
			&cli.StringFlag{
				Name:     "encryption-key",
				Usage:    "Base64-encoded 32-byte key for credential and auth config decryption",
				Required: true,
				Sources:  cli.EnvVars("ENCRYPTION_KEY"),
			},
			&cli.BoolFlag{
				Name:    "webhook-fail-closed",
				Usage:   "Reject webhook calls whose auth config cannot be decrypted",
				Sources: cli.EnvVars("WEBHOOK_FAIL_CLOSED"),
			},
			&cli.BoolFlag{
				Name:    "enable-scheduler",
				Usage:   "Run the schedule trigger inside this instance",
				Value:   true,
				Sources: cli.EnvVars("ENABLE_SCHEDULER"),
			},
			&cli.BoolFlag{
				Name:    "tracing",
				Usage:   "Export traces over OTLP, configured through the OTEL_EXPORTER_* environment",
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

			logger.InfoContext(ctx, "Initializing NodeFlow coordination API")

			if command.Bool("tracing") {
				if _, err := otelhelper.NewTracer(ctx, "nodeflow-api"); err != nil {
					return err
				}
			}

			persistence, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := persistence.Close(closeCtx); err != nil {
					logger.Error("Failed to close persistence", "error", err)
				}
			}()

			publisher, err := cmd.NewPublisher(ctx, logger, command.String("channel-provider"), command.String("redis-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := publisher.Close(); err != nil {
					logger.Error("Failed to close publisher", "error", err)
				}
			}()

			decryptor, err := cmd.NewDecryptor(command.String("encryption-key"))
			if err != nil {
				return err
			}

			api := NewAPI(
				logger,
				persistence,
				publisher,
				decryptor,
				cmd.NewRateLimiter(logger, command.String("redis-url")),
				dispatcher.Config{
					PartitionCount: command.Int("partition-count"),
					BaseURL:        command.String("base-url"),
				},
				gateway.Config{
					FailClosed: command.Bool("webhook-fail-closed"),
				},
				command.Bool("enable-scheduler"),
			)

			if err := api.Start(ctx, command.Int("port")); err != nil {
				logger.ErrorContext(ctx, "Failed to start API server", "error", err)

				return err
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
