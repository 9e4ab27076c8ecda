package models

import "time"

// NodeRunStatus is the reported state of a single node inside an execution.
type NodeRunStatus string

const (
	NodeRunPending   NodeRunStatus = "pending"
	NodeRunRunning   NodeRunStatus = "running"
	NodeRunCompleted NodeRunStatus = "completed"
	NodeRunFailed    NodeRunStatus = "failed"
	NodeRunSkipped   NodeRunStatus = "skipped"
)

// ExecutionNode is the per-node result snapshot within an execution, keyed
// uniquely by (execution_id, node_id) and ordered by sequence.
type ExecutionNode struct {
	ID          string         `json:"id"`
	ExecutionID string         `json:"execution_id"`
	NodeID      string         `json:"node_id"`
	NodeType    string         `json:"node_type"`
	NodeName    string         `json:"node_name,omitempty"`
	Status      NodeRunStatus  `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Error       map[string]any `json:"error,omitempty"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	Sequence    int            `json:"sequence"`
}

// LogLevel classifies execution log entries.
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ExecutionLog is one append-only structured log line tied to an execution
// and optionally to one of its nodes.
type ExecutionLog struct {
	ID              string         `json:"id"`
	ExecutionID     string         `json:"execution_id"`
	ExecutionNodeID *string        `json:"execution_node_id,omitempty"`
	Level           LogLevel       `json:"level"`
	Message         string         `json:"message"`
	Context         map[string]any `json:"context,omitempty"`
	LoggedAt        time.Time      `json:"logged_at"`
}
