// Package web provides the HTTP surface of the coordination layer: engine
// callbacks, the webhook gateway, and execution management endpoints.
package web

import (
	"time"

	"github.com/nodeflow-io/nodeflow/pkg/ingestor"
	"github.com/nodeflow-io/nodeflow/pkg/models"
)

// NodeResultRequest is one node outcome inside a terminal callback.
type NodeResultRequest struct {
	NodeID     string         `json:"node_id"               validate:"required"`
	NodeType   string         `json:"node_type"`
	NodeName   string         `json:"node_name,omitempty"`
	Status     string         `json:"status"                validate:"required,oneof=pending running completed failed skipped"`
	Output     map[string]any `json:"output,omitempty"`
	Error      map[string]any `json:"error,omitempty"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Sequence   int            `json:"sequence"`
}

// JobCallbackRequest is the engine's terminal callback body.
type JobCallbackRequest struct {
	JobID         string              `json:"job_id"         validate:"required,uuid"`
	CallbackToken string              `json:"callback_token" validate:"required,len=64"`
	ExecutionID   string              `json:"execution_id"   validate:"required,uuid"`
	Status        string              `json:"status"         validate:"required,oneof=completed failed"`
	Nodes         []NodeResultRequest `json:"nodes"          validate:"omitempty,dive"`
	Result        map[string]any      `json:"result,omitempty"`
	Error         map[string]any      `json:"error,omitempty"`
	DurationMs    *int64              `json:"duration_ms,omitempty"`
}

// JobProgressRequest is the engine's advisory progress callback body.
type JobProgressRequest struct {
	JobID         string `json:"job_id"         validate:"required,uuid"`
	CallbackToken string `json:"callback_token" validate:"required,len=64"`
	Progress      int    `json:"progress"       validate:"min=0,max=100"`
	Message       string `json:"message,omitempty"`
}

// RunWorkflowRequest is the body for manually running a workflow.
type RunWorkflowRequest struct {
	TriggeredBy *string        `json:"triggered_by,omitempty"`
	TriggerData map[string]any `json:"trigger_data,omitempty"`
}

// RetryExecutionRequest is the body for retrying a failed execution.
type RetryExecutionRequest struct {
	TriggeredBy *string `json:"triggered_by,omitempty"`
}

// CallbackResponse acknowledges an applied or replayed callback.
type CallbackResponse struct {
	Success     bool   `json:"success"`
	ExecutionID string `json:"execution_id"`
	Status      string `json:"status"`
	Idempotent  bool   `json:"idempotent,omitempty"`
}

// JobStatusResponse is the dispatch-side view of an execution's job. The
// callback token is never included.
type JobStatusResponse struct {
	JobID     string     `json:"job_id"`
	Status    string     `json:"status"`
	Progress  int        `json:"progress"`
	Partition int        `json:"partition"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// ExecutionResponse is the full execution view returned by the read and
// lifecycle endpoints.
type ExecutionResponse struct {
	ID                string             `json:"id"`
	WorkflowID        string             `json:"workflow_id"`
	WorkspaceID       int64              `json:"workspace_id"`
	Status            string             `json:"status"`
	Mode              string             `json:"mode"`
	TriggerData       map[string]any     `json:"trigger_data,omitempty"`
	ResultData        map[string]any     `json:"result_data,omitempty"`
	Error             map[string]any     `json:"error,omitempty"`
	StartedAt         *time.Time         `json:"started_at,omitempty"`
	FinishedAt        *time.Time         `json:"finished_at,omitempty"`
	DurationMs        *int64             `json:"duration_ms,omitempty"`
	Attempt           int                `json:"attempt"`
	MaxAttempts       int                `json:"max_attempts"`
	ParentExecutionID *string            `json:"parent_execution_id,omitempty"`
	TriggeredBy       *string            `json:"triggered_by,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	Job               *JobStatusResponse `json:"job,omitempty"`
}

// TransformExecutionResponse builds the API view of an execution and its
// optional job shadow.
func TransformExecutionResponse(execution *models.Execution, job *models.JobStatus) ExecutionResponse {
	response := ExecutionResponse{
		ID:                execution.ID,
		WorkflowID:        execution.WorkflowID,
		WorkspaceID:       execution.WorkspaceID,
		Status:            string(execution.Status),
		Mode:              string(execution.Mode),
		TriggerData:       execution.TriggerData,
		ResultData:        execution.ResultData,
		Error:             execution.Error,
		StartedAt:         execution.StartedAt,
		FinishedAt:        execution.FinishedAt,
		DurationMs:        execution.DurationMs,
		Attempt:           execution.Attempt,
		MaxAttempts:       execution.MaxAttempts,
		ParentExecutionID: execution.ParentExecutionID,
		TriggeredBy:       execution.TriggeredBy,
		CreatedAt:         execution.CreatedAt,
	}

	if job != nil {
		response.Job = &JobStatusResponse{
			JobID:     job.JobID,
			Status:    string(job.Status),
			Progress:  job.Progress,
			Partition: job.Partition,
			StartedAt: job.StartedAt,
		}
	}

	return response
}

func (r *JobCallbackRequest) toIngestorRequest() *ingestor.TerminalRequest {
	nodes := make([]ingestor.NodeResult, 0, len(r.Nodes))
	for _, n := range r.Nodes {
		nodes = append(nodes, ingestor.NodeResult{
			NodeID:     n.NodeID,
			NodeType:   n.NodeType,
			NodeName:   n.NodeName,
			Status:     models.NodeRunStatus(n.Status),
			Output:     n.Output,
			Error:      n.Error,
			StartedAt:  n.StartedAt,
			FinishedAt: n.FinishedAt,
			Sequence:   n.Sequence,
		})
	}

	return &ingestor.TerminalRequest{
		JobID:         r.JobID,
		CallbackToken: r.CallbackToken,
		ExecutionID:   r.ExecutionID,
		Status:        models.ExecutionStatus(r.Status),
		Nodes:         nodes,
		Result:        r.Result,
		Error:         r.Error,
		DurationMs:    r.DurationMs,
	}
}
