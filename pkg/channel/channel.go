// Package channel defines the partitioned job channel between the
// coordination layer and the remote execution engine, plus the wire format
// of the messages it carries.
package channel

import (
	"context"
	"time"

	"github.com/nodeflow-io/nodeflow/pkg/models"
)

// Publisher appends a job message to one partition's channel. The engine
// consumes each partition independently; delivery is at-least-once and the
// callback ingestor compensates with idempotent application.
type Publisher interface {
	Publish(ctx context.Context, partition int, msg *JobMessage) error
	Close() error
}

// JobMessage is the payload handed to the engine for one job.
type JobMessage struct {
	JobID         string                       `json:"job_id"`
	CallbackToken string                       `json:"callback_token"`
	ExecutionID   string                       `json:"execution_id"`
	WorkflowID    string                       `json:"workflow_id"`
	WorkspaceID   int64                        `json:"workspace_id"`
	Partition     int                          `json:"partition"`
	Priority      string                       `json:"priority"`
	Workflow      WorkflowPayload              `json:"workflow"`
	TriggerData   map[string]any               `json:"trigger_data,omitempty"`
	Credentials   map[string]CredentialPayload `json:"credentials,omitempty"`
	Variables     map[string]any               `json:"variables,omitempty"`
	CallbackURL   string                       `json:"callback_url"`
	ProgressURL   string                       `json:"progress_url"`
	CreatedAt     time.Time                    `json:"created_at"`
}

// WorkflowPayload is the graph the engine interprets node by node.
type WorkflowPayload struct {
	Nodes    []models.Node  `json:"nodes"`
	Edges    []models.Edge  `json:"edges"`
	Settings map[string]any `json:"settings,omitempty"`
}

// CredentialPayload is one decrypted credential referenced by the workflow.
type CredentialPayload struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}
