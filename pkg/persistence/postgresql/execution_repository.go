package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

const executionColumns = `
	id, workflow_id, workspace_id, status, mode, trigger_data, result_data,
	error, started_at, finished_at, duration_ms, attempt, max_attempts,
	parent_execution_id, triggered_by, ip_address, user_agent, created_at, updated_at
`

// ExecutionRepository handles execution-related database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

func (r *ExecutionRepository) Create(ctx context.Context, execution *models.Execution) error {
	return insertExecution(ctx, r.db, execution)
}

func (r *ExecutionRepository) ExecutionByID(ctx context.Context, id string) (*models.Execution, error) {
	query := `SELECT ` + executionColumns + ` FROM executions WHERE id = $1`

	return scanExecution(r.db.QueryRowContext(ctx, query, id), id)
}

func (r *ExecutionRepository) Update(ctx context.Context, execution *models.Execution) error {
	return updateExecution(ctx, r.db, execution)
}

func (r *ExecutionRepository) NodesByExecutionID(ctx context.Context, executionID string) ([]*models.ExecutionNode, error) {
	query := `
		SELECT id, execution_id, node_id, node_type, node_name, status, output,
			   error, started_at, finished_at, sequence
		FROM execution_nodes
		WHERE execution_id = $1
		ORDER BY sequence
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution nodes: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var nodes []*models.ExecutionNode

	for rows.Next() {
		node, err := scanExecutionNode(rows)
		if err != nil {
			return nil, err
		}

		nodes = append(nodes, node)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution nodes: %w", err)
	}

	return nodes, nil
}

func (r *ExecutionRepository) LogsByExecutionID(ctx context.Context, executionID string) ([]*models.ExecutionLog, error) {
	query := `
		SELECT id, execution_id, execution_node_id, level, message, context, logged_at
		FROM execution_logs
		WHERE execution_id = $1
		ORDER BY logged_at
	`

	rows, err := r.db.QueryContext(ctx, query, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var entries []*models.ExecutionLog

	for rows.Next() {
		entry := &models.ExecutionLog{}

		var (
			nodeID  sql.NullString
			rawCtx  []byte
			context map[string]any
		)

		err := rows.Scan(&entry.ID, &entry.ExecutionID, &nodeID, &entry.Level,
			&entry.Message, &rawCtx, &entry.LoggedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution log: %w", err)
		}

		if nodeID.Valid {
			entry.ExecutionNodeID = &nodeID.String
		}

		if err := unmarshalJSON(rawCtx, &context); err != nil {
			return nil, err
		}

		entry.Context = context
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating execution logs: %w", err)
	}

	return entries, nil
}

// execer abstracts *sql.DB and *sql.Tx so the transaction can reuse the same
// statements.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func insertExecution(ctx context.Context, db execer, execution *models.Execution) error {
	triggerData, err := marshalJSON(execution.TriggerData)
	if err != nil {
		return err
	}

	resultData, err := marshalJSON(execution.ResultData)
	if err != nil {
		return err
	}

	errorData, err := marshalJSON(execution.Error)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO executions (` + executionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err = db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.WorkspaceID,
		execution.Status,
		execution.Mode,
		triggerData,
		resultData,
		errorData,
		execution.StartedAt,
		execution.FinishedAt,
		execution.DurationMs,
		execution.Attempt,
		execution.MaxAttempts,
		execution.ParentExecutionID,
		execution.TriggeredBy,
		execution.IPAddress,
		execution.UserAgent,
		execution.CreatedAt,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("CreateExecution", execution.ID, err)
	}

	return nil
}

func updateExecution(ctx context.Context, db execer, execution *models.Execution) error {
	resultData, err := marshalJSON(execution.ResultData)
	if err != nil {
		return err
	}

	errorData, err := marshalJSON(execution.Error)
	if err != nil {
		return err
	}

	query := `
		UPDATE executions SET
			status = $2, result_data = $3, error = $4, started_at = $5,
			finished_at = $6, duration_ms = $7, updated_at = $8
		WHERE id = $1
	`

	result, err := db.ExecContext(ctx, query,
		execution.ID,
		execution.Status,
		resultData,
		errorData,
		execution.StartedAt,
		execution.FinishedAt,
		execution.DurationMs,
		execution.UpdatedAt,
	)
	if err != nil {
		return persistence.NewStoreError("UpdateExecution", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}

	if affected == 0 {
		return persistence.NewStoreError("UpdateExecution", execution.ID, persistence.ErrExecutionNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner, id string) (*models.Execution, error) {
	execution := &models.Execution{}

	var (
		triggerRaw, resultRaw, errorRaw []byte
		startedAt, finishedAt           sql.NullTime
		durationMs                      sql.NullInt64
		parentID, triggeredBy           sql.NullString
		ipAddress, userAgent            sql.NullString
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.WorkspaceID,
		&execution.Status,
		&execution.Mode,
		&triggerRaw,
		&resultRaw,
		&errorRaw,
		&startedAt,
		&finishedAt,
		&durationMs,
		&execution.Attempt,
		&execution.MaxAttempts,
		&parentID,
		&triggeredBy,
		&ipAddress,
		&userAgent,
		&execution.CreatedAt,
		&execution.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("ExecutionByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if err := unmarshalJSON(triggerRaw, &execution.TriggerData); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(resultRaw, &execution.ResultData); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(errorRaw, &execution.Error); err != nil {
		return nil, err
	}

	if startedAt.Valid {
		execution.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		execution.FinishedAt = &finishedAt.Time
	}

	if durationMs.Valid {
		execution.DurationMs = &durationMs.Int64
	}

	if parentID.Valid {
		execution.ParentExecutionID = &parentID.String
	}

	if triggeredBy.Valid {
		execution.TriggeredBy = &triggeredBy.String
	}

	if ipAddress.Valid {
		execution.IPAddress = ipAddress.String
	}

	if userAgent.Valid {
		execution.UserAgent = userAgent.String
	}

	return execution, nil
}

func scanExecutionNode(row rowScanner) (*models.ExecutionNode, error) {
	node := &models.ExecutionNode{}

	var (
		nodeName              sql.NullString
		outputRaw, errorRaw   []byte
		startedAt, finishedAt sql.NullTime
	)

	err := row.Scan(
		&node.ID,
		&node.ExecutionID,
		&node.NodeID,
		&node.NodeType,
		&nodeName,
		&node.Status,
		&outputRaw,
		&errorRaw,
		&startedAt,
		&finishedAt,
		&node.Sequence,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan execution node: %w", err)
	}

	if nodeName.Valid {
		node.NodeName = nodeName.String
	}

	if err := unmarshalJSON(outputRaw, &node.Output); err != nil {
		return nil, err
	}

	if err := unmarshalJSON(errorRaw, &node.Error); err != nil {
		return nil, err
	}

	if startedAt.Valid {
		node.StartedAt = &startedAt.Time
	}

	if finishedAt.Valid {
		node.FinishedAt = &finishedAt.Time
	}

	return node, nil
}
