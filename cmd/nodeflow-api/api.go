// Package main provides the NodeFlow coordination API server.
package main

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/healthcheck"
	"github.com/gofiber/fiber/v3/middleware/logger"

	"github.com/nodeflow-io/nodeflow/pkg/channel"
	"github.com/nodeflow-io/nodeflow/pkg/dispatcher"
	"github.com/nodeflow-io/nodeflow/pkg/gateway"
	"github.com/nodeflow-io/nodeflow/pkg/ingestor"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
	"github.com/nodeflow-io/nodeflow/pkg/ratelimit"
	"github.com/nodeflow-io/nodeflow/pkg/scheduler"
	"github.com/nodeflow-io/nodeflow/pkg/secrets"
	"github.com/nodeflow-io/nodeflow/pkg/services"
	"github.com/nodeflow-io/nodeflow/pkg/web"
)

type API struct {
	logger      *slog.Logger
	persistence persistence.Persistence
	publisher   channel.Publisher
	decryptor   secrets.Decryptor
	limiter     ratelimit.Limiter
	validate    *validator.Validate

	dispatcherConfig dispatcher.Config
	gatewayConfig    gateway.Config
	enableScheduler  bool

	sched *scheduler.Scheduler
}

func NewAPI(
	logger *slog.Logger,
	persistence persistence.Persistence,
	publisher channel.Publisher,
	decryptor secrets.Decryptor,
	limiter ratelimit.Limiter,
	dispatcherConfig dispatcher.Config,
	gatewayConfig gateway.Config,
	enableScheduler bool,
) *API {
	return &API{
		logger:           logger,
		persistence:      persistence,
		publisher:        publisher,
		decryptor:        decryptor,
		limiter:          limiter,
		validate:         validator.New(validator.WithRequiredStructEnabled()),
		dispatcherConfig: dispatcherConfig,
		gatewayConfig:    gatewayConfig,
		enableScheduler:  enableScheduler,
	}
}

func (a *API) App() *fiber.App {
	jobDispatcher := dispatcher.NewDispatcher(a.persistence, a.publisher, a.decryptor, a.dispatcherConfig, a.logger)
	ing := ingestor.NewIngestor(a.persistence, a.logger)
	gw := gateway.NewGateway(a.persistence, jobDispatcher, a.decryptor, a.limiter, a.gatewayConfig, a.logger)
	executions := services.NewExecutionService(a.persistence, jobDispatcher, a.logger)

	a.sched = scheduler.NewScheduler(a.persistence, jobDispatcher, a.logger)

	handlers := web.NewAPIHandlers(ing, gw, executions, a.validate)

	app := fiber.New()
	app.Use(cors.New())
	app.Use(logger.New(logger.Config{
		DisableColors: true,
	}))

	app.Get(healthcheck.DefaultLivenessEndpoint, healthcheck.NewHealthChecker())
	app.Get(healthcheck.DefaultReadinessEndpoint, healthcheck.NewHealthChecker(healthcheck.Config{
		Probe: func(c fiber.Ctx) bool {
			return a.persistence.HealthCheck(c.Context()) == nil
		},
	}))

	app.Get("/health", func(c fiber.Ctx) error {
		if err := a.persistence.HealthCheck(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unhealthy"})
		}

		return c.JSON(fiber.Map{"status": "healthy"})
	})

	app.Get("/", func(c fiber.Ctx) error {
		return c.SendString("NodeFlow Coordination API")
	})

	api := app.Group("/api/v1")

	jobs := api.Group("/jobs")
	jobs.Post("/callback", handlers.JobCallback)
	jobs.Post("/progress", handlers.JobProgress)

	api.Post("/workflows/:id/run", handlers.RunWorkflow)

	executionsGroup := api.Group("/executions")
	executionsGroup.Get("/:id", handlers.GetExecution)
	executionsGroup.Get("/:id/nodes", handlers.GetExecutionNodes)
	executionsGroup.Get("/:id/logs", handlers.GetExecutionLogs)
	executionsGroup.Post("/:id/retry", handlers.RetryExecution)
	executionsGroup.Post("/:id/cancel", handlers.CancelExecution)

	app.All("/webhooks/:uuid", handlers.ReceiveWebhook)
	app.All("/webhooks/:uuid/:path", handlers.ReceiveWebhook)

	return app
}

func (a *API) Start(ctx context.Context, port int) error {
	app := a.App()

	if a.enableScheduler {
		if err := a.sched.Start(ctx); err != nil {
			return err
		}
	}

	return app.Listen(":" + strconv.Itoa(port))
}
