package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/nodeflow-io/nodeflow/pkg/gateway"
	"github.com/nodeflow-io/nodeflow/pkg/ingestor"
	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
	"github.com/nodeflow-io/nodeflow/pkg/services"
)

func isNotFound(err error) bool {
	return persistence.IsNotFound(err)
}

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func unauthorized(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(401).
		WithInstance(c.Path()).
		WithType("unauthorized").
		WithDetail(detail)

	return c.Status(fiber.StatusUnauthorized).JSON(problem)
}

func forbidden(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(403).
		WithInstance(c.Path()).
		WithType("forbidden").
		WithDetail(detail)

	return c.Status(fiber.StatusForbidden).JSON(problem)
}

func unprocessable(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(422).
		WithInstance(c.Path()).
		WithType("invalid_state").
		WithDetail(detail)

	return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleCallbackError maps ingestor errors onto the callback contract: bad
// tokens are 401, unknown jobs and executions 404, cross-reference mismatches
// 403, state rejections 422.
func handleCallbackError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, ingestor.ErrInvalidToken):
		return unauthorized(c, "invalid callback token")
	case isNotFound(err):
		return notFound(c, "job not found")
	case errors.Is(err, ingestor.ErrExecutionMismatch):
		return forbidden(c, "execution does not match job")
	case errors.Is(err, ingestor.ErrInvalidStatus):
		return unprocessable(c, "status must be completed or failed")
	case errors.Is(err, models.ErrInvalidProgress):
		return unprocessable(c, "progress must be between 0 and 100")
	default:
		return internalError(c, err)
	}
}

// handleWebhookError maps gateway rejections. Unknown uuids and path
// mismatches share one 404 so callers cannot probe which part was wrong.
func handleWebhookError(c fiber.Ctx, err error) error {
	switch {
	case gateway.IsNotFound(err):
		return notFound(c, "webhook not found")
	case errors.Is(err, gateway.ErrMethodNotAllowed):
		problem := problems.NewStatusProblem(405).
			WithInstance(c.Path()).
			WithType("method_not_allowed").
			WithDetail("method not allowed for this webhook")

		return c.Status(fiber.StatusMethodNotAllowed).JSON(problem)
	case errors.Is(err, gateway.ErrUnauthorized):
		return unauthorized(c, "webhook authentication failed")
	case errors.Is(err, gateway.ErrRateLimited):
		problem := problems.NewStatusProblem(429).
			WithInstance(c.Path()).
			WithType("rate_limited").
			WithDetail("rate limit exceeded")

		return c.Status(fiber.StatusTooManyRequests).JSON(problem)
	case errors.Is(err, gateway.ErrInvalidPayload):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("invalid_payload").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)
	default:
		return internalError(c, err)
	}
}

// handleExecutionError maps execution lifecycle rejections: unknown ids are
// 404, impossible state transitions 422.
func handleExecutionError(c fiber.Ctx, err error) error {
	switch {
	case isNotFound(err):
		return notFound(c, "not found")
	case errors.Is(err, services.ErrWorkflowInactive):
		return unprocessable(c, "workflow is not active")
	case errors.Is(err, models.ErrCannotRetry):
		return unprocessable(c, "execution cannot be retried")
	case errors.Is(err, models.ErrCannotCancel):
		return unprocessable(c, "execution cannot be cancelled")
	default:
		return internalError(c, err)
	}
}
