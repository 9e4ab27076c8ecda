// Package gateway accepts inbound webhook calls, validates them against the
// trigger descriptor, and converts accepted calls into pending executions
// handed to the dispatcher.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/otelhelper"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
	"github.com/nodeflow-io/nodeflow/pkg/ratelimit"
	"github.com/nodeflow-io/nodeflow/pkg/secrets"
)

var tracer = otel.Tracer("github.com/nodeflow-io/nodeflow/pkg/gateway")

// RateLimitWindow is the fixed window the per-webhook limits count against.
const RateLimitWindow = time.Minute

// JobDispatcher is the slice of the dispatcher the gateway needs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, execution *models.Execution, workflow *models.Workflow) (*models.JobStatus, error)
}

// Config carries the gateway policy knobs.
type Config struct {
	// FailClosed rejects webhook calls whose auth config cannot be
	// decrypted or is empty, instead of letting them through.
	FailClosed bool
	// SynchronousDispatch publishes the job before responding to the
	// caller instead of in the background.
	SynchronousDispatch bool
}

// Request is one inbound webhook call, already parsed by the transport.
type Request struct {
	WebhookUUID string
	SubPath     string
	Method      string
	Headers     map[string]string
	Query       map[string]string
	Body        map[string]any
	IP          string
	UserAgent   string
}

// Result is what the transport should answer with on acceptance.
type Result struct {
	StatusCode  int
	Body        map[string]any
	ExecutionID string
}

// Gateway runs the validation chain for webhook calls and creates executions.
type Gateway struct {
	store      persistence.Persistence
	dispatcher JobDispatcher
	decryptor  secrets.Decryptor
	limiter    ratelimit.Limiter
	config     Config
	logger     *slog.Logger
}

func NewGateway(
	store persistence.Persistence,
	dispatcher JobDispatcher,
	decryptor secrets.Decryptor,
	limiter ratelimit.Limiter,
	config Config,
	logger *slog.Logger,
) *Gateway {
	return &Gateway{
		store:      store,
		dispatcher: dispatcher,
		decryptor:  decryptor,
		limiter:    limiter,
		config:     config,
		logger:     logger.With("module", "gateway"),
	}
}

// Receive runs the full validation chain and, on acceptance, records the
// execution and hands it to the dispatcher. The checks run in a fixed order:
// existence, path, method, auth, rate limit, payload schema. Unknown uuids
// and path mismatches are indistinguishable to the caller.
func (g *Gateway) Receive(ctx context.Context, req *Request) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, tracer, "gateway.receive",
		attribute.String(otelhelper.WebhookIDKey, req.WebhookUUID),
	)
	defer span.End()

	webhook, err := g.store.Webhooks().ActiveWebhookByUUID(ctx, req.WebhookUUID)
	if err != nil {
		return nil, err
	}

	if !webhook.MatchesPath(req.SubPath) {
		return nil, persistence.ErrWebhookNotFound
	}

	workflow, err := g.store.Workflows().WorkflowByID(ctx, webhook.WorkflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.Active {
		return nil, persistence.ErrWebhookNotFound
	}

	if !webhook.IsMethodAllowed(req.Method) {
		return nil, ErrMethodNotAllowed
	}

	if err := g.authorize(webhook, req); err != nil {
		return nil, err
	}

	if err := g.checkRateLimit(ctx, webhook, req.IP); err != nil {
		return nil, err
	}

	if err := g.validatePayload(webhook, req.Body); err != nil {
		return nil, err
	}

	execution := models.NewExecution(webhook.WorkflowID, webhook.WorkspaceID, models.ExecutionModeWebhook, triggerSnapshot(webhook, req))
	execution.IPAddress = req.IP
	execution.UserAgent = req.UserAgent

	if err := g.store.Executions().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	if err := g.store.Webhooks().IncrementCallCount(ctx, webhook.ID); err != nil {
		g.logger.WarnContext(ctx, "failed to bump webhook call count",
			"webhook_id", webhook.ID, "error", err)
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, execution.ID))

	g.handoff(ctx, execution, workflow)

	return buildResult(webhook, execution), nil
}

// handoff dispatches in the background so slow brokers never block the
// webhook response. The dispatcher records its own failures on the
// execution, so an error here only needs logging.
func (g *Gateway) handoff(ctx context.Context, execution *models.Execution, workflow *models.Workflow) {
	dispatch := func(ctx context.Context) {
		if _, err := g.dispatcher.Dispatch(ctx, execution, workflow); err != nil {
			g.logger.ErrorContext(ctx, "dispatch failed",
				"execution_id", execution.ID,
				"workflow_id", workflow.ID,
				"error", err)
		}
	}

	if g.config.SynchronousDispatch {
		dispatch(ctx)

		return
	}

	go dispatch(context.WithoutCancel(ctx))
}

func (g *Gateway) checkRateLimit(ctx context.Context, webhook *models.Webhook, ip string) error {
	// No configured limit means unlimited.
	if webhook.RateLimit == nil {
		return nil
	}

	limit := *webhook.RateLimit
	if limit <= 0 {
		return nil
	}

	key := webhook.ID + ":" + ip

	allowed, err := g.limiter.Allow(ctx, key, limit, RateLimitWindow)
	if err != nil {
		// A broken limiter backend should not take webhook ingestion down.
		g.logger.WarnContext(ctx, "rate limiter unavailable", "webhook_id", webhook.ID, "error", err)

		return nil
	}

	if !allowed {
		return ErrRateLimited
	}

	return nil
}

func (g *Gateway) validatePayload(webhook *models.Webhook, body map[string]any) error {
	if !webhook.HasPayloadSchema() {
		return nil
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(webhook.PayloadSchema),
		gojsonschema.NewGoLoader(body),
	)
	if err != nil {
		return fmt.Errorf("failed to validate payload: %w", err)
	}

	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}

	return &PayloadError{Violations: violations}
}

// triggerSnapshot freezes the request into the execution's trigger data so
// retries replay the original call even if the webhook changes later.
func triggerSnapshot(webhook *models.Webhook, req *Request) map[string]any {
	return map[string]any{
		"webhook_id": webhook.ID,
		"method":     req.Method,
		"path":       req.SubPath,
		"headers":    req.Headers,
		"query":      req.Query,
		"body":       req.Body,
		"ip":         req.IP,
	}
}

func buildResult(webhook *models.Webhook, execution *models.Execution) *Result {
	if webhook.ResponseStatus != 0 {
		return &Result{
			StatusCode:  webhook.ResponseStatus,
			Body:        webhook.ResponseBody,
			ExecutionID: execution.ID,
		}
	}

	return &Result{
		StatusCode: 200,
		Body: map[string]any{
			"success":      true,
			"execution_id": execution.ID,
		},
		ExecutionID: execution.ID,
	}
}

// IsNotFound reports whether err should surface as the uniform not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, persistence.ErrWebhookNotFound) ||
		errors.Is(err, persistence.ErrWorkflowNotFound)
}
