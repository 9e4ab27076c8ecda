package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

func TestExecutionRepository(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	execution := models.NewExecution(models.NewID(), 42, models.ExecutionModeManual, nil)
	require.NoError(t, store.Executions().Create(ctx, execution))

	loaded, err := store.Executions().ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, loaded.ID)

	// Mutating the returned copy must not affect the stored row.
	loaded.Status = models.ExecutionStatusFailed

	fresh, err := store.Executions().ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusPending, fresh.Status)

	_, err = store.Executions().ExecutionByID(ctx, models.NewID())
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestJobRepository_DuplicatePerExecution(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	execution := models.NewExecution(models.NewID(), 42, models.ExecutionModeManual, nil)
	require.NoError(t, store.Executions().Create(ctx, execution))

	job, err := models.NewJobStatus(execution.ID, 3)
	require.NoError(t, err)
	require.NoError(t, store.Jobs().Create(ctx, job))

	second, err := models.NewJobStatus(execution.ID, 3)
	require.NoError(t, err)

	err = store.Jobs().Create(ctx, second)
	assert.ErrorIs(t, err, persistence.ErrDuplicateJob)
}

func TestNodesAreSortedBySequence(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	execution := models.NewExecution(models.NewID(), 42, models.ExecutionModeManual, nil)
	require.NoError(t, store.Executions().Create(ctx, execution))

	err := store.WithinTx(ctx, func(tx persistence.Transaction) error {
		for _, seq := range []int{3, 1, 2} {
			node := &models.ExecutionNode{
				ID:          models.NewID(),
				ExecutionID: execution.ID,
				NodeID:      "n" + string(rune('0'+seq)),
				NodeType:    "transform",
				Status:      models.NodeRunCompleted,
				Sequence:    seq,
			}
			if _, err := tx.UpsertExecutionNode(ctx, node); err != nil {
				return err
			}
		}

		return nil
	})
	require.NoError(t, err)

	nodes, err := store.Executions().NodesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, 1, nodes[0].Sequence)
	assert.Equal(t, 2, nodes[1].Sequence)
	assert.Equal(t, 3, nodes[2].Sequence)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	execution := models.NewExecution(models.NewID(), 42, models.ExecutionModeManual, nil)
	require.NoError(t, store.Executions().Create(ctx, execution))

	job, err := models.NewJobStatus(execution.ID, 3)
	require.NoError(t, err)
	require.NoError(t, store.Jobs().Create(ctx, job))

	boom := errors.New("boom")

	err = store.WithinTx(ctx, func(tx persistence.Transaction) error {
		locked, err := tx.JobForUpdate(ctx, job.JobID)
		if err != nil {
			return err
		}

		locked.MarkCompleted(nil)
		if err := tx.UpdateJob(ctx, locked); err != nil {
			return err
		}

		node := &models.ExecutionNode{
			ID:          models.NewID(),
			ExecutionID: execution.ID,
			NodeID:      "n1",
			NodeType:    "transform",
			Status:      models.NodeRunCompleted,
		}
		if _, err := tx.UpsertExecutionNode(ctx, node); err != nil {
			return err
		}

		entry := &models.ExecutionLog{
			ID:          models.NewID(),
			ExecutionID: execution.ID,
			Level:       models.LogLevelInfo,
			Message:     "doomed",
			LoggedAt:    time.Now().UTC(),
		}
		if err := tx.AppendExecutionLog(ctx, entry); err != nil {
			return err
		}

		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := store.Jobs().JobByID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, loaded.Status)

	nodes, err := store.Executions().NodesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, nodes)

	logs, err := store.Executions().LogsByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestWebhookRepository(t *testing.T) {
	store := NewPersistence()
	ctx := context.Background()

	webhook := &models.Webhook{
		ID:       models.NewID(),
		UUID:     models.NewID(),
		AuthType: models.WebhookAuthNone,
		Active:   true,
	}
	store.SaveWebhook(webhook)

	loaded, err := store.Webhooks().ActiveWebhookByUUID(ctx, webhook.UUID)
	require.NoError(t, err)
	assert.Equal(t, webhook.ID, loaded.ID)

	require.NoError(t, store.Webhooks().IncrementCallCount(ctx, webhook.ID))

	reloaded, err := store.Webhooks().ActiveWebhookByUUID(ctx, webhook.UUID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.CallCount)

	inactive := &models.Webhook{ID: models.NewID(), UUID: models.NewID(), Active: false}
	store.SaveWebhook(inactive)

	_, err = store.Webhooks().ActiveWebhookByUUID(ctx, inactive.UUID)
	assert.ErrorIs(t, err, persistence.ErrWebhookNotFound)
}
