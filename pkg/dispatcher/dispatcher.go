// Package dispatcher hands accepted executions to the remote engine. It
// owns job identity, callback secrets, partition routing, payload assembly,
// and the bounded publish retry policy.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nodeflow-io/nodeflow/pkg/channel"
	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/otelhelper"
	"github.com/nodeflow-io/nodeflow/pkg/partition"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
	"github.com/nodeflow-io/nodeflow/pkg/secrets"
)

var tracer = otel.Tracer("github.com/nodeflow-io/nodeflow/pkg/dispatcher")

// DefaultBackoff is the wait schedule between publish attempts. The number
// of attempts equals len(schedule); the wait after the last attempt is never
// taken.
var DefaultBackoff = []time.Duration{10 * time.Second, 60 * time.Second, 300 * time.Second}

const (
	callbackPath = "/api/v1/jobs/callback"
	progressPath = "/api/v1/jobs/progress"
)

// Config carries the dispatch policy knobs.
type Config struct {
	// PartitionCount is the number of job channel partitions. Changing it
	// re-routes workspaces, so it must match the engine's consumer layout.
	PartitionCount int
	// BaseURL is the externally reachable base of this service, used to
	// build the callback and progress URLs handed to the engine.
	BaseURL string
	// Backoff overrides DefaultBackoff; mainly for tests.
	Backoff []time.Duration
}

// Dispatcher publishes one job per execution to the partitioned channel.
type Dispatcher struct {
	store     persistence.Persistence
	publisher channel.Publisher
	decryptor secrets.Decryptor
	config    Config
	logger    *slog.Logger
}

func NewDispatcher(
	store persistence.Persistence,
	publisher channel.Publisher,
	decryptor secrets.Decryptor,
	config Config,
	logger *slog.Logger,
) *Dispatcher {
	if config.PartitionCount <= 0 {
		config.PartitionCount = partition.DefaultCount
	}

	if len(config.Backoff) == 0 {
		config.Backoff = DefaultBackoff
	}

	return &Dispatcher{
		store:     store,
		publisher: publisher,
		decryptor: decryptor,
		config:    config,
		logger:    logger.With("module", "dispatcher"),
	}
}

// Dispatch delegates a pending execution to the engine. It is idempotent per
// execution: a repeat call returns the existing job without publishing again.
// On unrecoverable failure both the job and the execution are marked failed
// before the error is returned.
func (d *Dispatcher) Dispatch(ctx context.Context, execution *models.Execution, workflow *models.Workflow) (*models.JobStatus, error) {
	ctx, span := otelhelper.StartSpan(ctx, tracer, "dispatcher.dispatch",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowIDKey, workflow.ID),
		attribute.Int64(otelhelper.WorkspaceIDKey, workflow.WorkspaceID),
	)
	defer span.End()

	if existing, err := d.store.Jobs().JobByExecutionID(ctx, execution.ID); err == nil {
		d.logger.InfoContext(ctx, "execution already dispatched",
			"execution_id", execution.ID, "job_id", existing.JobID)

		return existing, nil
	} else if !errors.Is(err, persistence.ErrJobNotFound) {
		return nil, fmt.Errorf("failed to check for existing job: %w", err)
	}

	partitionNum := partition.Route(workflow.WorkspaceID, d.config.PartitionCount)
	span.SetAttributes(attribute.Int(otelhelper.PartitionKey, partitionNum))

	job, err := models.NewJobStatus(execution.ID, partitionNum)
	if err != nil {
		return nil, err
	}

	if err := d.store.Jobs().Create(ctx, job); err != nil {
		// Lost the race to another dispatcher for the same execution.
		if errors.Is(err, persistence.ErrDuplicateJob) {
			return d.store.Jobs().JobByExecutionID(ctx, execution.ID)
		}

		return nil, fmt.Errorf("failed to create job status: %w", err)
	}

	msg, err := d.buildMessage(ctx, execution, workflow, job)
	if err != nil {
		d.fail(ctx, execution, job, err)

		return nil, err
	}

	if err := d.publishWithRetry(ctx, partitionNum, msg); err != nil {
		d.fail(ctx, execution, job, err)

		return nil, err
	}

	job.MarkProcessing()
	if err := d.store.Jobs().Update(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to mark job processing: %w", err)
	}

	if err := execution.Start(); err != nil {
		return nil, err
	}

	if err := d.store.Executions().Update(ctx, execution); err != nil {
		return nil, fmt.Errorf("failed to mark execution running: %w", err)
	}

	d.logger.InfoContext(ctx, "job dispatched",
		"job_id", job.JobID,
		"execution_id", execution.ID,
		"workflow_id", workflow.ID,
		"partition", partitionNum)

	return job, nil
}

func (d *Dispatcher) buildMessage(ctx context.Context, execution *models.Execution, workflow *models.Workflow, job *models.JobStatus) (*channel.JobMessage, error) {
	credentials, err := d.resolveCredentials(ctx, workflow)
	if err != nil {
		return nil, err
	}

	variables, err := d.resolveVariables(ctx, workflow.WorkspaceID)
	if err != nil {
		return nil, err
	}

	priority, _ := workflow.Settings["priority"].(string)
	if priority == "" {
		priority = "normal"
	}

	return &channel.JobMessage{
		JobID:         job.JobID,
		CallbackToken: job.CallbackToken,
		ExecutionID:   execution.ID,
		WorkflowID:    workflow.ID,
		WorkspaceID:   workflow.WorkspaceID,
		Partition:     job.Partition,
		Priority:      priority,
		Workflow: channel.WorkflowPayload{
			Nodes:    workflow.Nodes,
			Edges:    workflow.Edges,
			Settings: workflow.Settings,
		},
		TriggerData: execution.TriggerData,
		Credentials: credentials,
		Variables:   variables,
		CallbackURL: d.config.BaseURL + callbackPath,
		ProgressURL: d.config.BaseURL + progressPath,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// resolveCredentials decrypts exactly the credentials the workflow's nodes
// reference, keyed by credential id.
func (d *Dispatcher) resolveCredentials(ctx context.Context, workflow *models.Workflow) (map[string]channel.CredentialPayload, error) {
	ids := workflow.CredentialIDs()
	if len(ids) == 0 {
		return nil, nil
	}

	creds, err := d.store.Credentials().CredentialsByIDs(ctx, workflow.WorkspaceID, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	resolved := make(map[string]channel.CredentialPayload, len(creds))

	for _, cred := range creds {
		plaintext, err := d.decryptor.Decrypt(cred.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt credential %s: %w", cred.ID, err)
		}

		var data map[string]any
		if err := json.Unmarshal([]byte(plaintext), &data); err != nil {
			return nil, fmt.Errorf("credential %s holds malformed data: %w", cred.ID, err)
		}

		resolved[cred.ID] = channel.CredentialPayload{Type: cred.Type, Data: data}
	}

	return resolved, nil
}

func (d *Dispatcher) resolveVariables(ctx context.Context, workspaceID int64) (map[string]any, error) {
	vars, err := d.store.Variables().VariablesByWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load variables: %w", err)
	}

	if len(vars) == 0 {
		return nil, nil
	}

	resolved := make(map[string]any, len(vars))

	for _, v := range vars {
		value := v.Value

		if v.IsSecret {
			plaintext, err := d.decryptor.Decrypt(v.Value)
			if err != nil {
				return nil, fmt.Errorf("failed to decrypt variable %s: %w", v.Key, err)
			}

			value = plaintext
		}

		resolved[v.Key] = value
	}

	return resolved, nil
}

func (d *Dispatcher) publishWithRetry(ctx context.Context, partitionNum int, msg *channel.JobMessage) error {
	var lastErr error

	for attempt, wait := range d.config.Backoff {
		lastErr = d.publisher.Publish(ctx, partitionNum, msg)
		if lastErr == nil {
			return nil
		}

		d.logger.WarnContext(ctx, "publish attempt failed",
			"job_id", msg.JobID,
			"partition", partitionNum,
			"attempt", attempt+1,
			"error", lastErr)

		if attempt == len(d.config.Backoff)-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}

	return fmt.Errorf("failed to publish job after %d attempts: %w", len(d.config.Backoff), lastErr)
}

// fail records a dispatch-side terminal failure on both sides of the job so
// the attempt is visible and retryable through the normal retry path.
func (d *Dispatcher) fail(ctx context.Context, execution *models.Execution, job *models.JobStatus, cause error) {
	errPayload := map[string]any{"message": cause.Error(), "source": "dispatch"}

	job.MarkFailed(errPayload)
	if err := d.store.Jobs().Update(ctx, job); err != nil {
		d.logger.ErrorContext(ctx, "failed to record job failure", "job_id", job.JobID, "error", err)
	}

	if err := execution.Finalize(models.ExecutionStatusFailed, errPayload, nil); err == nil {
		if err := d.store.Executions().Update(ctx, execution); err != nil {
			d.logger.ErrorContext(ctx, "failed to record execution failure",
				"execution_id", execution.ID, "error", err)
		}
	}
}
