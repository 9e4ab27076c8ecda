package models

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"time"
)

// JobState represents the dispatch-side lifecycle of a delegated job.
type JobState string

const (
	JobStatePending    JobState = "pending"
	JobStateProcessing JobState = "processing"
	JobStateCompleted  JobState = "completed"
	JobStateFailed     JobState = "failed"
)

const callbackTokenBytes = 32

// JobStatus is the dispatch-side shadow of one execution's delegation to the
// remote engine. The job_id is the lookup key on callbacks; the callback
// token is the actual secret and is generated exactly once at dispatch time.
type JobStatus struct {
	JobID         string         `json:"job_id"`
	ExecutionID   string         `json:"execution_id"`
	Partition     int            `json:"partition"`
	CallbackToken string         `json:"-"`
	Status        JobState       `json:"status"`
	Progress      int            `json:"progress"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	Result        map[string]any `json:"result,omitempty"`
	Error         map[string]any `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// NewJobStatus creates a pending job status for an execution with a fresh
// job id and a 64-char hex callback token from the CSPRNG.
func NewJobStatus(executionID string, partitionNum int) (*JobStatus, error) {
	raw := make([]byte, callbackTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate callback token: %w", err)
	}

	now := time.Now().UTC()

	return &JobStatus{
		JobID:         NewID(),
		ExecutionID:   executionID,
		Partition:     partitionNum,
		CallbackToken: hex.EncodeToString(raw),
		Status:        JobStatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// TokenMatches compares a presented callback token against the stored one in
// constant time. The job id may leak through logs or be enumerable, so the
// token comparison must not reveal a prefix match through timing.
func (j *JobStatus) TokenMatches(presented string) bool {
	return subtle.ConstantTimeCompare([]byte(j.CallbackToken), []byte(presented)) == 1
}

// IsTerminal reports whether the job reached an absorbing state.
func (j *JobStatus) IsTerminal() bool {
	return j.Status == JobStateCompleted || j.Status == JobStateFailed
}

// MarkProcessing transitions the job to processing after a successful publish.
func (j *JobStatus) MarkProcessing() {
	now := time.Now().UTC()
	j.Status = JobStateProcessing
	j.StartedAt = &now
	j.UpdatedAt = now
}

// MarkCompleted records the terminal success state with its result payload.
func (j *JobStatus) MarkCompleted(result map[string]any) {
	j.Status = JobStateCompleted
	j.Progress = 100
	j.Result = result
	j.UpdatedAt = time.Now().UTC()
}

// MarkFailed records the terminal failure state with its error payload.
func (j *JobStatus) MarkFailed(errPayload map[string]any) {
	j.Status = JobStateFailed
	j.Error = errPayload
	j.UpdatedAt = time.Now().UTC()
}

// UpdateProgress records the latest advisory progress value, last write wins.
func (j *JobStatus) UpdateProgress(progress int) error {
	if progress < 0 || progress > 100 {
		return ErrInvalidProgress
	}

	j.Progress = progress
	j.UpdatedAt = time.Now().UTC()

	return nil
}
