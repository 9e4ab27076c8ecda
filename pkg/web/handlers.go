package web

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/nodeflow-io/nodeflow/pkg/gateway"
	"github.com/nodeflow-io/nodeflow/pkg/ingestor"
	"github.com/nodeflow-io/nodeflow/pkg/services"
)

type APIHandlers struct {
	ingestor   *ingestor.Ingestor
	gateway    *gateway.Gateway
	executions *services.ExecutionService
	validator  *validator.Validate
}

func NewAPIHandlers(
	ing *ingestor.Ingestor,
	gw *gateway.Gateway,
	executions *services.ExecutionService,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		ingestor:   ing,
		gateway:    gw,
		executions: executions,
		validator:  validate,
	}
}

// JobCallback applies the engine's terminal callback for a job.
func (h *APIHandlers) JobCallback(c fiber.Ctx) error {
	var req JobCallbackRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid callback: "+err.Error())
	}

	result, err := h.ingestor.HandleTerminal(c.Context(), req.toIngestorRequest())
	if err != nil {
		return handleCallbackError(c, err)
	}

	return c.JSON(CallbackResponse{
		Success:     true,
		ExecutionID: result.ExecutionID,
		Status:      string(result.Status),
		Idempotent:  result.Idempotent,
	})
}

// JobProgress records an advisory progress update for a running job.
func (h *APIHandlers) JobProgress(c fiber.Ctx) error {
	var req JobProgressRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, "Invalid progress update: "+err.Error())
	}

	result, err := h.ingestor.HandleProgress(c.Context(), &ingestor.ProgressRequest{
		JobID:         req.JobID,
		CallbackToken: req.CallbackToken,
		Progress:      req.Progress,
		Message:       req.Message,
	})
	if err != nil {
		return handleCallbackError(c, err)
	}

	return c.JSON(CallbackResponse{
		Success:     true,
		ExecutionID: result.ExecutionID,
		Status:      string(result.Status),
		Idempotent:  result.Idempotent,
	})
}

// ReceiveWebhook funnels any method on /webhooks/:uuid[/:path] through the
// gateway's validation chain.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	result, err := h.gateway.Receive(c.Context(), h.webhookRequest(c))
	if err != nil {
		return handleWebhookError(c, err)
	}

	return c.Status(result.StatusCode).JSON(result.Body)
}

func (h *APIHandlers) webhookRequest(c fiber.Ctx) *gateway.Request {
	headers := make(map[string]string)
	for key, values := range c.GetReqHeaders() {
		if len(values) > 0 {
			headers[key] = values[0]
		}
	}

	// A non-JSON or empty body is passed through as nil; only webhooks with
	// a payload schema care about the shape.
	var body map[string]any
	if raw := c.Body(); len(raw) > 0 {
		_ = json.Unmarshal(raw, &body)
	}

	return &gateway.Request{
		WebhookUUID: c.Params("uuid"),
		SubPath:     c.Params("path"),
		Method:      c.Method(),
		Headers:     headers,
		Query:       c.Queries(),
		Body:        body,
		IP:          c.IP(),
		UserAgent:   c.Get("User-Agent"),
	}
}

// RunWorkflow creates and dispatches a manual execution.
func (h *APIHandlers) RunWorkflow(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Workflow ID is required")
	}

	var req RunWorkflowRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
	}

	execution, err := h.executions.Run(c.Context(), id, req.TriggeredBy, req.TriggerData, c.IP(), c.Get("User-Agent"))
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformExecutionResponse(execution, nil))
}

// RetryExecution creates the next attempt of a failed execution.
func (h *APIHandlers) RetryExecution(c fiber.Ctx) error {
	var req RetryExecutionRequest
	if len(c.Body()) > 0 {
		if err := c.Bind().JSON(&req); err != nil {
			return badRequest(c, "Invalid request body: "+err.Error())
		}
	}

	retry, err := h.executions.Retry(c.Context(), c.Params("id"), req.TriggeredBy, c.IP(), c.Get("User-Agent"))
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(TransformExecutionResponse(retry, nil))
}

// CancelExecution moves an active execution to cancelled.
func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	execution, err := h.executions.Cancel(c.Context(), c.Params("id"))
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(TransformExecutionResponse(execution, nil))
}

// GetExecution returns one execution with its job shadow.
func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, job, err := h.executions.Get(c.Context(), c.Params("id"))
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(TransformExecutionResponse(execution, job))
}

// GetExecutionNodes returns the per-node results in sequence order.
func (h *APIHandlers) GetExecutionNodes(c fiber.Ctx) error {
	nodes, err := h.executions.Nodes(c.Context(), c.Params("id"))
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(fiber.Map{"nodes": nodes})
}

// GetExecutionLogs returns the execution's log entries in append order.
func (h *APIHandlers) GetExecutionLogs(c fiber.Ctx) error {
	logs, err := h.executions.Logs(c.Context(), c.Params("id"))
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(fiber.Map{"logs": logs})
}
