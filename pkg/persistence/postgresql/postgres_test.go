package postgresql_test

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
	"github.com/nodeflow-io/nodeflow/pkg/persistence/postgresql"
)

var postgresContainer *postgres.PostgresContainer

func dropDB(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	// Drop tables in reverse dependency order (children first, parents last)
	for _, table := range []string{
		"execution_logs", "execution_nodes", "job_statuses", "executions",
		"webhooks", "workflows", "credentials", "workspace_variables", "schema_migrations",
	} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("nodeflow_test"),
			postgres.WithUsername("nodeflow"),
			postgres.WithPassword("nodeflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDB(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	store, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDB(ctx, t, databaseURL)

		err = store.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return store, ctx, databaseURL
}

func seedWorkflowRow(ctx context.Context, t *testing.T, databaseURL, id string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { require.NoError(t, db.Close()) }()

	_, err = db.ExecContext(ctx, `
		INSERT INTO workflows (id, workspace_id, name, active, nodes, edges, settings)
		VALUES ($1, 42, 'integration workflow', TRUE,
			'[{"id":"n1","type":"http.request","position":{"x":0,"y":0}}]',
			'[]', '{"schedule":"0 3 * * *"}')
	`, id)
	require.NoError(t, err)
}

func TestNewPersistence_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { require.NoError(t, db.Close()) }()

	for _, table := range []string{
		"executions", "job_statuses", "execution_nodes", "execution_logs",
		"webhooks", "workflows", "credentials", "workspace_variables",
	} {
		var exists bool
		err = db.QueryRowContext(ctx,
			"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", table,
		).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist after migrations", table)
	}
}

func TestExecutionRepository_RoundTrip(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	workflowID := models.NewID()
	seedWorkflowRow(ctx, t, databaseURL, workflowID)

	execution := models.NewExecution(workflowID, 42, models.ExecutionModeWebhook, map[string]any{"body": map[string]any{"k": "v"}})
	execution.IPAddress = "10.0.0.1"
	execution.UserAgent = "integration-test"

	require.NoError(t, store.Executions().Create(ctx, execution))

	loaded, err := store.Executions().ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, execution.ID, loaded.ID)
	assert.Equal(t, models.ExecutionStatusPending, loaded.Status)
	assert.Equal(t, int64(42), loaded.WorkspaceID)
	assert.Equal(t, map[string]any{"k": "v"}, loaded.TriggerData["body"])
	assert.Equal(t, "10.0.0.1", loaded.IPAddress)

	require.NoError(t, loaded.Start())
	require.NoError(t, loaded.Finalize(models.ExecutionStatusCompleted, nil, nil))
	require.NoError(t, store.Executions().Update(ctx, loaded))

	final, err := store.Executions().ExecutionByID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, final.Status)
	assert.NotNil(t, final.StartedAt)
	assert.NotNil(t, final.FinishedAt)
	assert.NotNil(t, final.DurationMs)

	_, err = store.Executions().ExecutionByID(ctx, models.NewID())
	assert.ErrorIs(t, err, persistence.ErrExecutionNotFound)
}

func TestJobRepository_UniquePerExecution(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	workflowID := models.NewID()
	seedWorkflowRow(ctx, t, databaseURL, workflowID)

	execution := models.NewExecution(workflowID, 42, models.ExecutionModeManual, nil)
	require.NoError(t, store.Executions().Create(ctx, execution))

	job, err := models.NewJobStatus(execution.ID, 10)
	require.NoError(t, err)
	require.NoError(t, store.Jobs().Create(ctx, job))

	second, err := models.NewJobStatus(execution.ID, 10)
	require.NoError(t, err)

	err = store.Jobs().Create(ctx, second)
	assert.ErrorIs(t, err, persistence.ErrDuplicateJob)

	loaded, err := store.Jobs().JobByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, job.JobID, loaded.JobID)
	assert.Equal(t, job.CallbackToken, loaded.CallbackToken)
}

func TestWithinTx_TerminalCallbackIsAtomicAndReplayable(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	workflowID := models.NewID()
	seedWorkflowRow(ctx, t, databaseURL, workflowID)

	execution := models.NewExecution(workflowID, 42, models.ExecutionModeWebhook, nil)
	require.NoError(t, execution.Start())
	require.NoError(t, store.Executions().Create(ctx, execution))

	job, err := models.NewJobStatus(execution.ID, 10)
	require.NoError(t, err)
	job.MarkProcessing()
	require.NoError(t, store.Jobs().Create(ctx, job))

	apply := func() error {
		return store.WithinTx(ctx, func(tx persistence.Transaction) error {
			locked, err := tx.JobForUpdate(ctx, job.JobID)
			if err != nil {
				return err
			}

			if locked.IsTerminal() {
				return nil
			}

			node := &models.ExecutionNode{
				ID:          models.NewID(),
				ExecutionID: execution.ID,
				NodeID:      "n1",
				NodeType:    "http.request",
				Status:      models.NodeRunCompleted,
				Sequence:    1,
			}

			stored, err := tx.UpsertExecutionNode(ctx, node)
			if err != nil {
				return err
			}

			entry := &models.ExecutionLog{
				ID:              models.NewID(),
				ExecutionID:     execution.ID,
				ExecutionNodeID: &stored.ID,
				Level:           models.LogLevelInfo,
				Message:         "node n1 completed",
				LoggedAt:        time.Now().UTC(),
			}
			if err := tx.AppendExecutionLog(ctx, entry); err != nil {
				return err
			}

			locked.MarkCompleted(map[string]any{"nodes_count": 1})

			return tx.UpdateJob(ctx, locked)
		})
	}

	require.NoError(t, apply())
	require.NoError(t, apply(), "replay must be a no-op")

	nodes, err := store.Executions().NodesByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Len(t, nodes, 1)

	logs, err := store.Executions().LogsByExecutionID(ctx, execution.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	loaded, err := store.Jobs().JobByID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStateCompleted, loaded.Status)
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	workflowID := models.NewID()
	seedWorkflowRow(ctx, t, databaseURL, workflowID)

	execution := models.NewExecution(workflowID, 42, models.ExecutionModeWebhook, nil)
	require.NoError(t, store.Executions().Create(ctx, execution))

	job, err := models.NewJobStatus(execution.ID, 10)
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

		return boom
	})
	require.ErrorIs(t, err, boom)

	loaded, err := store.Jobs().JobByID(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatePending, loaded.Status, "failed transaction must leave no trace")
}

func TestWebhookRepository(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { require.NoError(t, db.Close()) }()

	id := models.NewID()
	uuid := models.NewID()
	workflowID := models.NewID()

	_, err = db.ExecContext(ctx, `
		INSERT INTO webhooks (id, uuid, workflow_id, workspace_id, path, methods, auth_type,
			rate_limit, response_status, payload_schema, active)
		VALUES ($1, $2, $3, 42, '', '["POST"]', 'none', 30, 200,
			'{"type":"object"}', TRUE)
	`, id, uuid, workflowID)
	require.NoError(t, err)

	webhook, err := store.Webhooks().ActiveWebhookByUUID(ctx, uuid)
	require.NoError(t, err)
	assert.Equal(t, id, webhook.ID)
	assert.Equal(t, []string{"POST"}, webhook.Methods)
	require.NotNil(t, webhook.RateLimit)
	assert.Equal(t, 30, *webhook.RateLimit)
	assert.True(t, webhook.HasPayloadSchema())

	require.NoError(t, store.Webhooks().IncrementCallCount(ctx, id))

	reloaded, err := store.Webhooks().ActiveWebhookByUUID(ctx, uuid)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reloaded.CallCount)

	// Deactivated webhooks are invisible to the gateway.
	_, err = db.ExecContext(ctx, "UPDATE webhooks SET active = FALSE WHERE id = $1", id)
	require.NoError(t, err)

	_, err = store.Webhooks().ActiveWebhookByUUID(ctx, uuid)
	assert.ErrorIs(t, err, persistence.ErrWebhookNotFound)
}

func TestWorkflowRepository(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	workflowID := models.NewID()
	seedWorkflowRow(ctx, t, databaseURL, workflowID)

	workflow, err := store.Workflows().WorkflowByID(ctx, workflowID)
	require.NoError(t, err)
	assert.Equal(t, int64(42), workflow.WorkspaceID)
	require.Len(t, workflow.Nodes, 1)
	assert.Equal(t, "http.request", workflow.Nodes[0].Type)
	assert.Equal(t, "0 3 * * *", workflow.ScheduleExpression())

	scheduled, err := store.Workflows().ScheduledWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, scheduled, 1)
	assert.Equal(t, workflowID, scheduled[0].ID)
}

func TestCredentialAndVariableRepositories(t *testing.T) {
	store, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() { require.NoError(t, db.Close()) }()

	credID := models.NewID()

	_, err = db.ExecContext(ctx,
		"INSERT INTO credentials (id, workspace_id, type, data) VALUES ($1, 42, 'api_key', 'ciphertext')", credID)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx,
		"INSERT INTO workspace_variables (workspace_id, key, value, is_secret) VALUES (42, 'region', 'eu-west-1', FALSE)")
	require.NoError(t, err)

	creds, err := store.Credentials().CredentialsByIDs(ctx, 42, []string{credID, models.NewID()})
	require.NoError(t, err)
	require.Len(t, creds, 1)
	assert.Equal(t, "api_key", creds[0].Type)
	assert.Equal(t, "ciphertext", creds[0].Data)

	// Credentials from another workspace never resolve.
	creds, err = store.Credentials().CredentialsByIDs(ctx, 99, []string{credID})
	require.NoError(t, err)
	assert.Empty(t, creds)

	vars, err := store.Variables().VariablesByWorkspace(ctx, 42)
	require.NoError(t, err)
	require.Len(t, vars, 1)
	assert.Equal(t, "region", vars[0].Key)
	assert.Equal(t, "eu-west-1", vars[0].Value)
	assert.False(t, vars[0].IsSecret)
}
