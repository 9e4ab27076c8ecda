package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobStatus(t *testing.T) {
	job, err := NewJobStatus("exec-1", 3)
	require.NoError(t, err)

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, "exec-1", job.ExecutionID)
	assert.Equal(t, 3, job.Partition)
	assert.Equal(t, JobStatePending, job.Status)
	assert.Len(t, job.CallbackToken, 64)

	other, err := NewJobStatus("exec-1", 3)
	require.NoError(t, err)
	assert.NotEqual(t, job.CallbackToken, other.CallbackToken)
}

func TestJobStatus_TokenMatches(t *testing.T) {
	job, err := NewJobStatus("exec-1", 0)
	require.NoError(t, err)

	assert.True(t, job.TokenMatches(job.CallbackToken))
	assert.False(t, job.TokenMatches(""))

	// A single flipped byte must not match.
	tampered := []byte(job.CallbackToken)
	if tampered[0] == 'a' {
		tampered[0] = 'b'
	} else {
		tampered[0] = 'a'
	}

	assert.False(t, job.TokenMatches(string(tampered)))
}

func TestJobStatus_TokenNeverSerialized(t *testing.T) {
	job, err := NewJobStatus("exec-1", 0)
	require.NoError(t, err)

	payload, err := json.Marshal(job)
	require.NoError(t, err)
	assert.NotContains(t, string(payload), job.CallbackToken)
}

func TestJobStatus_Lifecycle(t *testing.T) {
	job, err := NewJobStatus("exec-1", 0)
	require.NoError(t, err)

	job.MarkProcessing()
	assert.Equal(t, JobStateProcessing, job.Status)
	require.NotNil(t, job.StartedAt)
	assert.False(t, job.IsTerminal())

	job.MarkCompleted(map[string]any{"nodes_count": 2})
	assert.Equal(t, JobStateCompleted, job.Status)
	assert.Equal(t, 100, job.Progress)
	assert.True(t, job.IsTerminal())
}

func TestJobStatus_MarkFailed(t *testing.T) {
	job, err := NewJobStatus("exec-1", 0)
	require.NoError(t, err)

	job.MarkFailed(map[string]any{"message": "engine crashed"})
	assert.Equal(t, JobStateFailed, job.Status)
	assert.True(t, job.IsTerminal())
	assert.Equal(t, "engine crashed", job.Error["message"])
}

func TestJobStatus_UpdateProgress(t *testing.T) {
	job, err := NewJobStatus("exec-1", 0)
	require.NoError(t, err)

	require.NoError(t, job.UpdateProgress(55))
	assert.Equal(t, 55, job.Progress)

	assert.ErrorIs(t, job.UpdateProgress(-1), ErrInvalidProgress)
	assert.ErrorIs(t, job.UpdateProgress(101), ErrInvalidProgress)
	assert.Equal(t, 55, job.Progress)
}
