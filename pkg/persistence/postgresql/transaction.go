package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

// transaction implements persistence.Transaction on top of *sql.Tx.
type transaction struct {
	tx *sql.Tx
}

// JobForUpdate loads the job row with FOR UPDATE, so concurrent callbacks
// for the same job block here until the winning transaction commits.
func (t *transaction) JobForUpdate(ctx context.Context, jobID string) (*models.JobStatus, error) {
	query := `SELECT ` + jobColumns + ` FROM job_statuses WHERE job_id = $1 FOR UPDATE`

	return scanJob(t.tx.QueryRowContext(ctx, query, jobID), jobID)
}

func (t *transaction) UpdateJob(ctx context.Context, job *models.JobStatus) error {
	return updateJob(ctx, t.tx, job)
}

func (t *transaction) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1 FOR UPDATE`

	return scanExecution(t.tx.QueryRowContext(ctx, query, id), id)
}

func (t *transaction) UpdateExecution(ctx context.Context, execution *models.Execution) error {
	return updateExecution(ctx, t.tx, execution)
}

func (t *transaction) UpsertExecutionNode(ctx context.Context, node *models.ExecutionNode) (*models.ExecutionNode, error) {
	if node.ID == "" {
		node.ID = models.NewID()
	}

	output, err := marshalJSON(node.Output)
	if err != nil {
		return nil, err
	}

	errorData, err := marshalJSON(node.Error)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO execution_nodes (
			id, execution_id, node_id, node_type, node_name, status, output,
			error, started_at, finished_at, sequence
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id, node_id) DO UPDATE SET
			node_type = EXCLUDED.node_type,
			node_name = EXCLUDED.node_name,
			status = EXCLUDED.status,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at,
			sequence = EXCLUDED.sequence
		RETURNING id
	`

	var persistedID string

	err = t.tx.QueryRowContext(ctx, query,
		node.ID,
		node.ExecutionID,
		node.NodeID,
		node.NodeType,
		nullableString(node.NodeName),
		node.Status,
		output,
		errorData,
		node.StartedAt,
		node.FinishedAt,
		node.Sequence,
	).Scan(&persistedID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("UpsertExecutionNode", node.NodeID, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewStoreError("UpsertExecutionNode", node.NodeID, err)
	}

	persisted := *node
	persisted.ID = persistedID

	return &persisted, nil
}

func (t *transaction) AppendExecutionLog(ctx context.Context, entry *models.ExecutionLog) error {
	if entry.ID == "" {
		entry.ID = models.NewID()
	}

	contextData, err := marshalJSON(entry.Context)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO execution_logs (id, execution_id, execution_node_id, level, message, context, logged_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = t.tx.ExecContext(ctx, query,
		entry.ID,
		entry.ExecutionID,
		entry.ExecutionNodeID,
		entry.Level,
		entry.Message,
		contextData,
		entry.LoggedAt,
	)
	if err != nil {
		return persistence.NewStoreError("AppendExecutionLog", entry.ExecutionID, err)
	}

	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}

	return s
}
