// Package services implements the execution management operations exposed by
// the API: manual runs, retries, cancellation, and execution reads.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

// ErrWorkflowInactive indicates a run was requested for a deactivated
// workflow.
var ErrWorkflowInactive = errors.New("workflow is not active")

// JobDispatcher is the slice of the dispatcher the service needs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, execution *models.Execution, workflow *models.Workflow) (*models.JobStatus, error)
}

// ExecutionService coordinates execution lifecycle operations.
type ExecutionService struct {
	store      persistence.Persistence
	dispatcher JobDispatcher
	logger     *slog.Logger
}

func NewExecutionService(store persistence.Persistence, dispatcher JobDispatcher, logger *slog.Logger) *ExecutionService {
	return &ExecutionService{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.With("module", "executions"),
	}
}

// Run creates and dispatches a manual execution of an active workflow.
func (s *ExecutionService) Run(ctx context.Context, workflowID string, triggeredBy *string, triggerData map[string]any, ip, userAgent string) (*models.Execution, error) {
	workflow, err := s.store.Workflows().WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	if !workflow.Active {
		return nil, ErrWorkflowInactive
	}

	execution := models.NewExecution(workflow.ID, workflow.WorkspaceID, models.ExecutionModeManual, triggerData)
	execution.TriggeredBy = triggeredBy
	execution.IPAddress = ip
	execution.UserAgent = userAgent

	if err := s.store.Executions().Create(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	if _, err := s.dispatcher.Dispatch(ctx, execution, workflow); err != nil {
		// The dispatcher already recorded the failure on the execution.
		return nil, err
	}

	return execution, nil
}

// Retry creates the next attempt of a failed execution and dispatches it.
// The original attempt is never mutated.
func (s *ExecutionService) Retry(ctx context.Context, executionID string, triggeredBy *string, ip, userAgent string) (*models.Execution, error) {
	execution, err := s.store.Executions().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, err
	}

	retry, err := execution.NewRetry(triggeredBy, ip, userAgent)
	if err != nil {
		return nil, err
	}

	workflow, err := s.store.Workflows().WorkflowByID(ctx, execution.WorkflowID)
	if err != nil {
		return nil, err
	}

	if err := s.store.Executions().Create(ctx, retry); err != nil {
		return nil, fmt.Errorf("failed to create retry execution: %w", err)
	}

	s.logger.InfoContext(ctx, "execution retried",
		"execution_id", retry.ID,
		"parent_execution_id", execution.ID,
		"attempt", retry.Attempt)

	if _, err := s.dispatcher.Dispatch(ctx, retry, workflow); err != nil {
		return nil, err
	}

	return retry, nil
}

// Cancel moves an active execution to cancelled. The job row, if present and
// still open, is closed in the same transaction so a later engine callback
// cannot overwrite the cancellation.
func (s *ExecutionService) Cancel(ctx context.Context, executionID string) (*models.Execution, error) {
	var cancelled *models.Execution

	err := s.store.WithinTx(ctx, func(tx persistence.Transaction) error {
		execution, err := tx.ExecutionByID(ctx, executionID)
		if err != nil {
			return err
		}

		if err := execution.Cancel(); err != nil {
			return err
		}

		if err := tx.UpdateExecution(ctx, execution); err != nil {
			return err
		}

		cancelled = execution

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.closeJob(ctx, executionID)

	return cancelled, nil
}

// closeJob marks the execution's job failed so the engine's eventual
// callback is absorbed as a replay instead of resurrecting the execution.
func (s *ExecutionService) closeJob(ctx context.Context, executionID string) {
	job, err := s.store.Jobs().JobByExecutionID(ctx, executionID)
	if err != nil {
		if !errors.Is(err, persistence.ErrJobNotFound) {
			s.logger.WarnContext(ctx, "failed to load job for cancelled execution",
				"execution_id", executionID, "error", err)
		}

		return
	}

	if job.IsTerminal() {
		return
	}

	err = s.store.WithinTx(ctx, func(tx persistence.Transaction) error {
		locked, err := tx.JobForUpdate(ctx, job.JobID)
		if err != nil {
			return err
		}

		if locked.IsTerminal() {
			return nil
		}

		locked.MarkFailed(map[string]any{"message": "execution cancelled"})

		return tx.UpdateJob(ctx, locked)
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to close job for cancelled execution",
			"execution_id", executionID, "error", err)
	}
}

// Get returns an execution and its job shadow, if one was dispatched.
func (s *ExecutionService) Get(ctx context.Context, executionID string) (*models.Execution, *models.JobStatus, error) {
	execution, err := s.store.Executions().ExecutionByID(ctx, executionID)
	if err != nil {
		return nil, nil, err
	}

	job, err := s.store.Jobs().JobByExecutionID(ctx, executionID)
	if err != nil {
		if errors.Is(err, persistence.ErrJobNotFound) {
			return execution, nil, nil
		}

		return nil, nil, err
	}

	return execution, job, nil
}

// Nodes returns the per-node results of an execution in sequence order.
func (s *ExecutionService) Nodes(ctx context.Context, executionID string) ([]*models.ExecutionNode, error) {
	if _, err := s.store.Executions().ExecutionByID(ctx, executionID); err != nil {
		return nil, err
	}

	return s.store.Executions().NodesByExecutionID(ctx, executionID)
}

// Logs returns the execution's log entries in append order.
func (s *ExecutionService) Logs(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	if _, err := s.store.Executions().ExecutionByID(ctx, executionID); err != nil {
		return nil, err
	}

	return s.store.Executions().LogsByExecutionID(ctx, executionID)
}
