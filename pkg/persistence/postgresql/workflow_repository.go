package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

// WorkflowRepository reads workflow definitions.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger}
}

func (r *WorkflowRepository) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	query := `
		SELECT id, workspace_id, name, active, nodes, edges, settings
		FROM workflows
		WHERE id = $1
	`

	workflow, err := scanWorkflow(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewStoreError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, err
	}

	return workflow, nil
}

func (r *WorkflowRepository) ScheduledWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	query := `
		SELECT id, workspace_id, name, active, nodes, edges, settings
		FROM workflows
		WHERE active = TRUE AND settings->>'schedule' IS NOT NULL
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query scheduled workflows: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var workflows []*models.Workflow

	for rows.Next() {
		workflow, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	return workflows, nil
}

func scanWorkflow(row rowScanner) (*models.Workflow, error) {
	workflow := &models.Workflow{}

	var nodesRaw, edgesRaw, settingsRaw []byte

	err := row.Scan(
		&workflow.ID,
		&workflow.WorkspaceID,
		&workflow.Name,
		&workflow.Active,
		&nodesRaw,
		&edgesRaw,
		&settingsRaw,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := json.Unmarshal(nodesRaw, &workflow.Nodes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow nodes: %w", err)
	}

	if err := json.Unmarshal(edgesRaw, &workflow.Edges); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow edges: %w", err)
	}

	if err := unmarshalJSON(settingsRaw, &workflow.Settings); err != nil {
		return nil, err
	}

	return workflow, nil
}

// CredentialRepository reads encrypted credentials for dispatch.
type CredentialRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *sql.DB, logger *slog.Logger) *CredentialRepository {
	return &CredentialRepository{db: db, logger: logger}
}

func (r *CredentialRepository) CredentialsByIDs(ctx context.Context, workspaceID int64, ids []string) ([]*models.Credential, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := `
		SELECT id, workspace_id, type, data
		FROM credentials
		WHERE workspace_id = $1 AND id = ANY($2)
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var credentials []*models.Credential

	for rows.Next() {
		credential := &models.Credential{}

		err := rows.Scan(&credential.ID, &credential.WorkspaceID, &credential.Type, &credential.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}

		credentials = append(credentials, credential)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating credentials: %w", err)
	}

	return credentials, nil
}

// VariableRepository reads workspace variables for dispatch.
type VariableRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewVariableRepository creates a new variable repository.
func NewVariableRepository(db *sql.DB, logger *slog.Logger) *VariableRepository {
	return &VariableRepository{db: db, logger: logger}
}

func (r *VariableRepository) VariablesByWorkspace(ctx context.Context, workspaceID int64) ([]*models.Variable, error) {
	query := `
		SELECT workspace_id, key, value, is_secret
		FROM workspace_variables
		WHERE workspace_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query workspace variables: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	var variables []*models.Variable

	for rows.Next() {
		variable := &models.Variable{}

		err := rows.Scan(&variable.WorkspaceID, &variable.Key, &variable.Value, &variable.IsSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to scan variable: %w", err)
		}

		variables = append(variables, variable)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating variables: %w", err)
	}

	return variables, nil
}
