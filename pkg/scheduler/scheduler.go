// Package scheduler fires schedule-triggered workflows. Each active workflow
// with a cron expression in its settings gets an entry; a tick creates a
// pending execution and hands it to the dispatcher like any other trigger.
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

// JobDispatcher is the slice of the dispatcher the scheduler needs.
type JobDispatcher interface {
	Dispatch(ctx context.Context, execution *models.Execution, workflow *models.Workflow) (*models.JobStatus, error)
}

// Scheduler owns the cron runner and keeps its entries in sync with the
// store's scheduled workflows.
type Scheduler struct {
	store      persistence.Persistence
	dispatcher JobDispatcher
	logger     *slog.Logger
	cron       *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func NewScheduler(store persistence.Persistence, dispatcher JobDispatcher, logger *slog.Logger) *Scheduler {
	logger = logger.With("module", "scheduler")

	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))

	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger,
		cron: cron.New(cron.WithChain(
			cron.SkipIfStillRunning(cronLogger),
			cron.Recover(cronLogger),
		)),
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads the scheduled workflows, registers their entries, and starts
// the runner. Entries are re-synced every minute so workflow changes are
// picked up without a restart.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.Reload(ctx); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc("@every 1m", func() {
		if err := s.Reload(context.Background()); err != nil {
			s.logger.Error("failed to reload scheduled workflows", "error", err)
		}
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.logger.InfoContext(ctx, "scheduler started")

	return nil
}

// Stop halts the runner and waits for in-flight ticks.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopCtx := s.cron.Stop()

	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "scheduler stopped")

	return nil
}

// Reload syncs cron entries with the store: new schedules are added, removed
// or deactivated ones are dropped, changed expressions re-registered.
func (s *Scheduler) Reload(ctx context.Context) error {
	workflows, err := s.store.Workflows().ScheduledWorkflows(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := make(map[string]struct{}, len(workflows))

	for _, workflow := range workflows {
		expr := workflow.ScheduleExpression()
		if expr == "" {
			continue
		}

		current[workflow.ID] = struct{}{}

		if id, ok := s.entries[workflow.ID]; ok {
			s.cron.Remove(id)
		}

		workflowID := workflow.ID

		entryID, err := s.cron.AddFunc(expr, func() { s.fire(workflowID) })
		if err != nil {
			s.logger.Warn("invalid schedule expression, skipping workflow",
				"workflow_id", workflow.ID, "schedule", expr, "error", err)

			delete(s.entries, workflow.ID)

			continue
		}

		s.entries[workflow.ID] = entryID
	}

	for workflowID, entryID := range s.entries {
		if _, ok := current[workflowID]; !ok {
			s.cron.Remove(entryID)
			delete(s.entries, workflowID)
		}
	}

	return nil
}

// fire creates and dispatches one scheduled execution. The workflow is
// re-read at tick time so a deactivation between reloads is respected.
func (s *Scheduler) fire(workflowID string) {
	ctx := context.Background()

	workflow, err := s.store.Workflows().WorkflowByID(ctx, workflowID)
	if err != nil {
		s.logger.Error("failed to load workflow for scheduled run",
			"workflow_id", workflowID, "error", err)

		return
	}

	if !workflow.Active {
		return
	}

	execution := models.NewExecution(workflow.ID, workflow.WorkspaceID, models.ExecutionModeSchedule, map[string]any{
		"schedule": workflow.ScheduleExpression(),
	})

	if err := s.store.Executions().Create(ctx, execution); err != nil {
		s.logger.Error("failed to create scheduled execution",
			"workflow_id", workflowID, "error", err)

		return
	}

	if _, err := s.dispatcher.Dispatch(ctx, execution, workflow); err != nil {
		s.logger.Error("failed to dispatch scheduled execution",
			"workflow_id", workflowID,
			"execution_id", execution.ID,
			"error", err)
	}
}
