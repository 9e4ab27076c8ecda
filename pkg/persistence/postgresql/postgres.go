// Package postgresql provides the PostgreSQL persistence implementation for
// the coordination layer.
package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq" // postgres driver

	"github.com/nodeflow-io/nodeflow/pkg/persistence"
	"github.com/nodeflow-io/nodeflow/pkg/persistence/sqlbase"
)

// Persistence implements the persistence layer for PostgreSQL.
type Persistence struct {
	db             *sql.DB
	logger         *slog.Logger
	executionRepo  *ExecutionRepository
	jobRepo        *JobRepository
	webhookRepo    *WebhookRepository
	workflowRepo   *WorkflowRepository
	credentialRepo *CredentialRepository
	variableRepo   *VariableRepository
}

// NewPersistence connects to PostgreSQL and runs pending migrations.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	database, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Persistence{
		db:             database,
		logger:         logger,
		executionRepo:  NewExecutionRepository(database, logger),
		jobRepo:        NewJobRepository(database, logger),
		webhookRepo:    NewWebhookRepository(database, logger),
		workflowRepo:   NewWorkflowRepository(database, logger),
		credentialRepo: NewCredentialRepository(database, logger),
		variableRepo:   NewVariableRepository(database, logger),
	}, nil
}

func (p *Persistence) Executions() persistence.ExecutionRepository { return p.executionRepo }
func (p *Persistence) Jobs() persistence.JobRepository             { return p.jobRepo }
func (p *Persistence) Webhooks() persistence.WebhookRepository     { return p.webhookRepo }
func (p *Persistence) Workflows() persistence.WorkflowRepository   { return p.workflowRepo }
func (p *Persistence) Credentials() persistence.CredentialRepository {
	return p.credentialRepo
}
func (p *Persistence) Variables() persistence.VariableRepository { return p.variableRepo }

// WithinTx runs fn inside one database transaction. The transaction's job
// lookups take row locks, so concurrent callbacks for the same job serialize
// here and the idempotency check is evaluated under the lock.
func (p *Persistence) WithinTx(ctx context.Context, fn func(tx persistence.Transaction) error) error {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	err = fn(&transaction{tx: dbTx})
	if err != nil {
		if rollbackErr := dbTx.Rollback(); rollbackErr != nil {
			p.logger.ErrorContext(ctx, "failed to roll back transaction", "error", rollbackErr)
		}

		return err
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (p *Persistence) Close(ctx context.Context) error {
	if p.db != nil {
		err := p.db.Close()
		if err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}

// marshalJSON serializes a possibly-nil map for a JSONB column.
func marshalJSON(value map[string]any) ([]byte, error) {
	if value == nil {
		return nil, nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON column: %w", err)
	}

	return data, nil
}

// unmarshalJSON deserializes a nullable JSONB column.
func unmarshalJSON(raw []byte, dest *map[string]any) error {
	if len(raw) == 0 {
		return nil
	}

	if err := json.Unmarshal(raw, dest); err != nil {
		return fmt.Errorf("failed to unmarshal JSON column: %w", err)
	}

	return nil
}
