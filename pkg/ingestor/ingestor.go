// Package ingestor applies engine callbacks to the coordination state. A
// terminal callback commits the node results, the execution outcome, and the
// job's terminal state in one transaction, so a replayed delivery either
// sees none of it or all of it.
package ingestor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/nodeflow-io/nodeflow/pkg/models"
	"github.com/nodeflow-io/nodeflow/pkg/otelhelper"
	"github.com/nodeflow-io/nodeflow/pkg/persistence"
)

var tracer = otel.Tracer("github.com/nodeflow-io/nodeflow/pkg/ingestor")

var (
	// ErrInvalidToken indicates the presented callback token does not match
	// the one issued at dispatch.
	ErrInvalidToken = errors.New("invalid callback token")

	// ErrExecutionMismatch indicates the callback names an execution other
	// than the one the job belongs to.
	ErrExecutionMismatch = errors.New("execution does not match job")

	// ErrInvalidStatus indicates a terminal callback with a status other
	// than completed or failed.
	ErrInvalidStatus = errors.New("invalid terminal status")
)

// NodeResult is one node's outcome as reported by the engine.
type NodeResult struct {
	NodeID     string
	NodeType   string
	NodeName   string
	Status     models.NodeRunStatus
	Output     map[string]any
	Error      map[string]any
	StartedAt  *time.Time
	FinishedAt *time.Time
	Sequence   int
}

// TerminalRequest is the engine's end-of-job callback.
type TerminalRequest struct {
	JobID         string
	CallbackToken string
	ExecutionID   string
	Status        models.ExecutionStatus
	Nodes         []NodeResult
	Result        map[string]any
	Error         map[string]any
	DurationMs    *int64
}

// ProgressRequest is an advisory progress update for a running job.
type ProgressRequest struct {
	JobID         string
	CallbackToken string
	Progress      int
	Message       string
}

// Result reports what a callback did.
type Result struct {
	ExecutionID string
	Status      models.ExecutionStatus
	// Idempotent is set when the job was already terminal and the callback
	// changed nothing.
	Idempotent bool
}

// Ingestor validates and applies engine callbacks.
type Ingestor struct {
	store  persistence.Persistence
	logger *slog.Logger
}

func NewIngestor(store persistence.Persistence, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		store:  store,
		logger: logger.With("module", "ingestor"),
	}
}

// HandleTerminal applies a terminal callback. The job row is locked for the
// whole transaction, so two replayed deliveries serialize and the second one
// observes the terminal state and becomes a no-op.
func (i *Ingestor) HandleTerminal(ctx context.Context, req *TerminalRequest) (*Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, tracer, "ingestor.terminal",
		attribute.String(otelhelper.JobIDKey, req.JobID),
	)
	defer span.End()

	if req.Status != models.ExecutionStatusCompleted && req.Status != models.ExecutionStatusFailed {
		return nil, ErrInvalidStatus
	}

	var result *Result

	err := i.store.WithinTx(ctx, func(tx persistence.Transaction) error {
		job, err := tx.JobForUpdate(ctx, req.JobID)
		if err != nil {
			return err
		}

		if !job.TokenMatches(req.CallbackToken) {
			return ErrInvalidToken
		}

		// The redelivery check comes before the execution cross-check so a
		// replayed callback carrying a stale execution_id is still absorbed.
		if job.IsTerminal() {
			result = &Result{
				ExecutionID: job.ExecutionID,
				Status:      terminalExecutionStatus(job),
				Idempotent:  true,
			}

			return nil
		}

		if req.ExecutionID != "" && req.ExecutionID != job.ExecutionID {
			return ErrExecutionMismatch
		}

		execution, err := tx.ExecutionByID(ctx, job.ExecutionID)
		if err != nil {
			return err
		}

		if err := i.applyNodes(ctx, tx, execution, req.Nodes); err != nil {
			return err
		}

		if err := i.finalizeExecution(ctx, tx, execution, req); err != nil {
			return err
		}

		if req.Status == models.ExecutionStatusCompleted {
			job.MarkCompleted(map[string]any{
				"duration_ms": execution.DurationMs,
				"nodes_count": len(req.Nodes),
			})
		} else {
			job.MarkFailed(req.Error)
		}

		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}

		result = &Result{ExecutionID: execution.ID, Status: req.Status}

		return nil
	})
	if err != nil {
		otelhelper.SetError(span, err)

		return nil, err
	}

	if result.Idempotent {
		i.logger.InfoContext(ctx, "terminal callback replayed", "job_id", req.JobID)
	} else {
		i.logger.InfoContext(ctx, "terminal callback applied",
			"job_id", req.JobID,
			"execution_id", result.ExecutionID,
			"status", result.Status,
			"nodes", len(req.Nodes))
	}

	return result, nil
}

// applyNodes upserts each reported node result and appends one log line per
// node, linked to the upserted row.
func (i *Ingestor) applyNodes(ctx context.Context, tx persistence.Transaction, execution *models.Execution, nodes []NodeResult) error {
	for _, nr := range nodes {
		node := &models.ExecutionNode{
			ID:          models.NewID(),
			ExecutionID: execution.ID,
			NodeID:      nr.NodeID,
			NodeType:    nr.NodeType,
			NodeName:    nr.NodeName,
			Status:      nr.Status,
			Output:      nr.Output,
			Error:       nr.Error,
			StartedAt:   nr.StartedAt,
			FinishedAt:  nr.FinishedAt,
			Sequence:    nr.Sequence,
		}

		stored, err := tx.UpsertExecutionNode(ctx, node)
		if err != nil {
			return fmt.Errorf("failed to upsert node %s: %w", nr.NodeID, err)
		}

		entry := &models.ExecutionLog{
			ID:              models.NewID(),
			ExecutionID:     execution.ID,
			ExecutionNodeID: &stored.ID,
			Level:           models.LogLevelInfo,
			Message:         fmt.Sprintf("node %s %s", nr.NodeID, nr.Status),
			LoggedAt:        time.Now().UTC(),
		}

		if nr.Status == models.NodeRunFailed {
			entry.Level = models.LogLevelError
			entry.Context = nr.Error
		}

		if err := tx.AppendExecutionLog(ctx, entry); err != nil {
			return fmt.Errorf("failed to append log for node %s: %w", nr.NodeID, err)
		}
	}

	return nil
}

// finalizeExecution moves the execution to its terminal state. A dispatch
// race can leave the execution still pending when the callback lands, so
// started_at is back-filled from the earliest node. An execution that was
// cancelled in the meantime keeps its cancelled outcome; only the job is
// closed then.
func (i *Ingestor) finalizeExecution(ctx context.Context, tx persistence.Transaction, execution *models.Execution, req *TerminalRequest) error {
	if execution.StartedAt == nil {
		if started := earliestStart(req.Nodes); started != nil {
			execution.StartedAt = started
		}
	}

	execution.ResultData = req.Result

	if err := execution.Finalize(req.Status, req.Error, req.DurationMs); err != nil {
		i.logger.WarnContext(ctx, "execution already terminal, keeping its outcome",
			"execution_id", execution.ID, "status", execution.Status)

		return nil
	}

	if err := tx.UpdateExecution(ctx, execution); err != nil {
		return fmt.Errorf("failed to update execution %s: %w", execution.ID, err)
	}

	return nil
}

// HandleProgress records an advisory progress value. Updates after the job
// reached a terminal state are ignored, not errors.
func (i *Ingestor) HandleProgress(ctx context.Context, req *ProgressRequest) (*Result, error) {
	var result *Result

	err := i.store.WithinTx(ctx, func(tx persistence.Transaction) error {
		job, err := tx.JobForUpdate(ctx, req.JobID)
		if err != nil {
			return err
		}

		if !job.TokenMatches(req.CallbackToken) {
			return ErrInvalidToken
		}

		if job.IsTerminal() {
			result = &Result{
				ExecutionID: job.ExecutionID,
				Status:      terminalExecutionStatus(job),
				Idempotent:  true,
			}

			return nil
		}

		if err := job.UpdateProgress(req.Progress); err != nil {
			return err
		}

		if err := tx.UpdateJob(ctx, job); err != nil {
			return err
		}

		if req.Message != "" {
			entry := &models.ExecutionLog{
				ID:          models.NewID(),
				ExecutionID: job.ExecutionID,
				Level:       models.LogLevelInfo,
				Message:     req.Message,
				Context:     map[string]any{"progress": req.Progress},
				LoggedAt:    time.Now().UTC(),
			}
			if err := tx.AppendExecutionLog(ctx, entry); err != nil {
				return err
			}
		}

		result = &Result{ExecutionID: job.ExecutionID, Status: models.ExecutionStatusRunning}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func terminalExecutionStatus(job *models.JobStatus) models.ExecutionStatus {
	if job.Status == models.JobStateCompleted {
		return models.ExecutionStatusCompleted
	}

	return models.ExecutionStatusFailed
}

// earliestStart returns the earliest node start time, if any node has one.
func earliestStart(nodes []NodeResult) *time.Time {
	var earliest *time.Time

	for _, n := range nodes {
		if n.StartedAt == nil {
			continue
		}

		if earliest == nil || n.StartedAt.Before(*earliest) {
			earliest = n.StartedAt
		}
	}

	return earliest
}
