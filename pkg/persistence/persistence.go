// Package persistence provides the durable store abstraction for the
// coordination layer. All cross-request coordination happens through the
// store's transactions, never through in-process locks, because the two
// halves of a job's lifecycle run in different processes.
package persistence

import (
	"context"

	"github.com/nodeflow-io/nodeflow/pkg/models"
)

// Persistence aggregates the repositories and the transactional boundary.
type Persistence interface {
	Executions() ExecutionRepository
	Jobs() JobRepository
	Webhooks() WebhookRepository
	Workflows() WorkflowRepository
	Credentials() CredentialRepository
	Variables() VariableRepository

	// WithinTx runs fn inside one atomic transaction. Everything fn writes
	// commits together or not at all.
	WithinTx(ctx context.Context, fn func(tx Transaction) error) error

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Transaction exposes the mutations the callback ingestor performs
// atomically. JobForUpdate locks the job row for the duration of the
// transaction so racing callbacks for the same job serialize on the store.
type Transaction interface {
	JobForUpdate(ctx context.Context, jobID string) (*models.JobStatus, error)
	UpdateJob(ctx context.Context, job *models.JobStatus) error

	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	UpdateExecution(ctx context.Context, execution *models.Execution) error

	UpsertExecutionNode(ctx context.Context, node *models.ExecutionNode) (*models.ExecutionNode, error)
	AppendExecutionLog(ctx context.Context, entry *models.ExecutionLog) error
}

// ExecutionRepository stores execution attempts.
type ExecutionRepository interface {
	Create(ctx context.Context, execution *models.Execution) error
	ExecutionByID(ctx context.Context, id string) (*models.Execution, error)
	Update(ctx context.Context, execution *models.Execution) error
	NodesByExecutionID(ctx context.Context, executionID string) ([]*models.ExecutionNode, error)
	LogsByExecutionID(ctx context.Context, executionID string) ([]*models.ExecutionLog, error)
}

// JobRepository stores the dispatch-side job shadows.
type JobRepository interface {
	Create(ctx context.Context, job *models.JobStatus) error
	JobByID(ctx context.Context, jobID string) (*models.JobStatus, error)
	JobByExecutionID(ctx context.Context, executionID string) (*models.JobStatus, error)
	Update(ctx context.Context, job *models.JobStatus) error
}

// WebhookRepository reads trigger descriptors owned by the management API.
type WebhookRepository interface {
	ActiveWebhookByUUID(ctx context.Context, uuid string) (*models.Webhook, error)
	IncrementCallCount(ctx context.Context, id string) error
}

// WorkflowRepository reads workflow definitions owned by the management API.
type WorkflowRepository interface {
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	ScheduledWorkflows(ctx context.Context) ([]*models.Workflow, error)
}

// CredentialRepository reads encrypted credentials. Only the ids referenced
// by a workflow's nodes are ever requested.
type CredentialRepository interface {
	CredentialsByIDs(ctx context.Context, workspaceID int64, ids []string) ([]*models.Credential, error)
}

// VariableRepository reads workspace variables, secret values encrypted.
type VariableRepository interface {
	VariablesByWorkspace(ctx context.Context, workspaceID int64) ([]*models.Variable, error)
}
