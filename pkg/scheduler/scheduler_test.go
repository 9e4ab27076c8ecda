package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence/memory"
)

type countingDispatcher struct {
	mu         sync.Mutex
	dispatched []*models.Execution
}

func (d *countingDispatcher) Dispatch(_ context.Context, execution *models.Execution, _ *models.Workflow) (*models.JobStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dispatched = append(d.dispatched, execution)

	return nil, nil
}

func (d *countingDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.dispatched)
}

func scheduledWorkflow(expr string) *models.Workflow {
	return &models.Workflow{
		ID:          models.NewID(),
		WorkspaceID: 7,
		Name:        "nightly sync",
		Active:      true,
		Nodes:       []models.Node{{ID: "n1", Type: "http.request"}},
		Settings:    map[string]any{"schedule": expr},
	}
}

func TestReload_RegistersScheduledWorkflows(t *testing.T) {
	store := memory.NewPersistence()
	dispatcher := &countingDispatcher{}
	s := NewScheduler(store, dispatcher, slog.Default())

	store.SaveWorkflow(scheduledWorkflow("0 3 * * *"))
	store.SaveWorkflow(scheduledWorkflow("*/5 * * * *"))

	require.NoError(t, s.Reload(context.Background()))
	assert.Len(t, s.entries, 2)
}

func TestReload_SkipsInvalidExpression(t *testing.T) {
	store := memory.NewPersistence()
	s := NewScheduler(store, &countingDispatcher{}, slog.Default())

	store.SaveWorkflow(scheduledWorkflow("not a cron expr"))

	require.NoError(t, s.Reload(context.Background()))
	assert.Empty(t, s.entries)
}

func TestReload_DropsRemovedWorkflows(t *testing.T) {
	store := memory.NewPersistence()
	s := NewScheduler(store, &countingDispatcher{}, slog.Default())

	workflow := scheduledWorkflow("0 3 * * *")
	store.SaveWorkflow(workflow)

	require.NoError(t, s.Reload(context.Background()))
	require.Len(t, s.entries, 1)

	workflow.Settings = map[string]any{}
	store.SaveWorkflow(workflow)

	require.NoError(t, s.Reload(context.Background()))
	assert.Empty(t, s.entries)
}

func TestFire_CreatesAndDispatchesExecution(t *testing.T) {
	store := memory.NewPersistence()
	dispatcher := &countingDispatcher{}
	s := NewScheduler(store, dispatcher, slog.Default())

	workflow := scheduledWorkflow("0 3 * * *")
	store.SaveWorkflow(workflow)

	s.fire(workflow.ID)

	require.Equal(t, 1, dispatcher.count())
	execution := dispatcher.dispatched[0]
	assert.Equal(t, models.ExecutionModeSchedule, execution.Mode)
	assert.Equal(t, workflow.ID, execution.WorkflowID)
	assert.Equal(t, "0 3 * * *", execution.TriggerData["schedule"])

	stored, err := store.Executions().ExecutionByID(context.Background(), execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, stored.Status)
}

func TestFire_SkipsDeactivatedWorkflow(t *testing.T) {
	store := memory.NewPersistence()
	dispatcher := &countingDispatcher{}
	s := NewScheduler(store, dispatcher, slog.Default())

	workflow := scheduledWorkflow("0 3 * * *")
	workflow.Active = false
	store.SaveWorkflow(workflow)

	s.fire(workflow.ID)

	assert.Zero(t, dispatcher.count())
}
