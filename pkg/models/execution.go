// Package models defines the core domain entities of the workflow execution
// coordination layer: executions, job statuses, node results, and webhooks.
package models

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusWaiting   ExecutionStatus = "waiting"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
)

// IsActive reports whether the execution may still make progress.
func (s ExecutionStatus) IsActive() bool {
	return s == ExecutionStatusPending || s == ExecutionStatusRunning || s == ExecutionStatusWaiting
}

// IsTerminal reports whether the execution reached a final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed || s == ExecutionStatusCancelled
}

// ExecutionMode records what triggered an execution.
type ExecutionMode string

const (
	ExecutionModeManual   ExecutionMode = "manual"
	ExecutionModeWebhook  ExecutionMode = "webhook"
	ExecutionModeSchedule ExecutionMode = "schedule"
	ExecutionModeRetry    ExecutionMode = "retry"
	ExecutionModeEvent    ExecutionMode = "event"
)

// DefaultMaxAttempts bounds how many attempt rows a single logical run may
// produce through retries.
const DefaultMaxAttempts = 3

// Execution is one recorded attempt at running a workflow. A retry never
// mutates a prior attempt; it creates a new row linked by ParentExecutionID.
type Execution struct {
	ID                string          `json:"id"`
	WorkflowID        string          `json:"workflow_id"`
	WorkspaceID       int64           `json:"workspace_id"`
	Status            ExecutionStatus `json:"status"`
	Mode              ExecutionMode   `json:"mode"`
	TriggerData       map[string]any  `json:"trigger_data,omitempty"`
	ResultData        map[string]any  `json:"result_data,omitempty"`
	Error             map[string]any  `json:"error,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	FinishedAt        *time.Time      `json:"finished_at,omitempty"`
	DurationMs        *int64          `json:"duration_ms,omitempty"`
	Attempt           int             `json:"attempt"`
	MaxAttempts       int             `json:"max_attempts"`
	ParentExecutionID *string         `json:"parent_execution_id,omitempty"`
	TriggeredBy       *string         `json:"triggered_by,omitempty"`
	IPAddress         string          `json:"ip_address,omitempty"`
	UserAgent         string          `json:"user_agent,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewExecution creates a pending execution for a workflow.
func NewExecution(workflowID string, workspaceID int64, mode ExecutionMode, triggerData map[string]any) *Execution {
	now := time.Now().UTC()

	return &Execution{
		ID:          NewID(),
		WorkflowID:  workflowID,
		WorkspaceID: workspaceID,
		Status:      ExecutionStatusPending,
		Mode:        mode,
		TriggerData: triggerData,
		Attempt:     1,
		MaxAttempts: DefaultMaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Start transitions a pending execution to running and stamps started_at.
func (e *Execution) Start() error {
	if e.Status != ExecutionStatusPending {
		return NewTransitionError("start", string(e.Status), ErrInvalidTransition)
	}

	now := time.Now().UTC()
	e.Status = ExecutionStatusRunning
	e.StartedAt = &now
	e.UpdatedAt = now

	return nil
}

// Finalize moves a non-terminal execution to completed or failed. The started
// timestamp may be back-filled by the caller before finalizing; duration is
// taken from the caller when the engine measured it, otherwise derived.
func (e *Execution) Finalize(status ExecutionStatus, errPayload map[string]any, durationMs *int64) error {
	if status != ExecutionStatusCompleted && status != ExecutionStatusFailed {
		return NewTransitionError("finalize", string(status), ErrInvalidTransition)
	}

	if e.Status.IsTerminal() {
		return NewTransitionError("finalize", string(e.Status), ErrInvalidTransition)
	}

	now := time.Now().UTC()
	e.Status = status
	e.Error = errPayload
	e.FinishedAt = &now
	e.UpdatedAt = now

	switch {
	case durationMs != nil:
		e.DurationMs = durationMs
	case e.StartedAt != nil:
		elapsed := now.Sub(*e.StartedAt).Milliseconds()
		e.DurationMs = &elapsed
	}

	return nil
}

// Cancel transitions an active execution to cancelled. Attempt bookkeeping is
// untouched; a cancelled attempt still counts against max_attempts.
func (e *Execution) Cancel() error {
	if !e.CanCancel() {
		return NewTransitionError("cancel", string(e.Status), ErrCannotCancel)
	}

	now := time.Now().UTC()
	e.Status = ExecutionStatusCancelled
	e.FinishedAt = &now
	e.UpdatedAt = now

	if e.StartedAt != nil {
		elapsed := now.Sub(*e.StartedAt).Milliseconds()
		e.DurationMs = &elapsed
	}

	return nil
}

// CanRetry reports whether a new attempt may be created from this execution.
func (e *Execution) CanRetry() bool {
	return e.Status == ExecutionStatusFailed && e.Attempt < e.MaxAttempts
}

// CanCancel reports whether the execution is still cancellable.
func (e *Execution) CanCancel() bool {
	return e.Status.IsActive()
}

// NewRetry creates the next attempt as a fresh pending execution linked to
// this one. The parent row is never mutated.
func (e *Execution) NewRetry(triggeredBy *string, ip, userAgent string) (*Execution, error) {
	if !e.CanRetry() {
		return nil, NewTransitionError("retry", string(e.Status), ErrCannotRetry)
	}

	retry := NewExecution(e.WorkflowID, e.WorkspaceID, ExecutionModeRetry, e.TriggerData)
	retry.Attempt = e.Attempt + 1
	retry.MaxAttempts = e.MaxAttempts
	retry.ParentExecutionID = &e.ID
	retry.TriggeredBy = triggeredBy
	retry.IPAddress = ip
	retry.UserAgent = userAgent

	return retry, nil
}

// NewID generates a time-ordered identifier, falling back to a random UUID
// when the monotonic source is exhausted.
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
