package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewExecution(t *testing.T) {
	execution := NewExecution("wf-1", 42, ExecutionModeWebhook, map[string]any{"body": "x"})

	assert.NotEmpty(t, execution.ID)
	assert.Equal(t, ExecutionStatusPending, execution.Status)
	assert.Equal(t, ExecutionModeWebhook, execution.Mode)
	assert.Equal(t, 1, execution.Attempt)
	assert.Equal(t, DefaultMaxAttempts, execution.MaxAttempts)
	assert.Nil(t, execution.StartedAt)
}

func TestExecution_Start(t *testing.T) {
	execution := NewExecution("wf-1", 1, ExecutionModeManual, nil)

	require.NoError(t, execution.Start())
	assert.Equal(t, ExecutionStatusRunning, execution.Status)
	require.NotNil(t, execution.StartedAt)

	// A second start is an invalid transition.
	err := execution.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExecution_Finalize(t *testing.T) {
	execution := NewExecution("wf-1", 1, ExecutionModeManual, nil)
	require.NoError(t, execution.Start())

	require.NoError(t, execution.Finalize(ExecutionStatusCompleted, nil, nil))
	assert.Equal(t, ExecutionStatusCompleted, execution.Status)
	require.NotNil(t, execution.FinishedAt)
	require.NotNil(t, execution.DurationMs)

	// Terminal executions cannot be finalized again.
	err := execution.Finalize(ExecutionStatusFailed, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExecution_FinalizeRejectsNonTerminalTarget(t *testing.T) {
	execution := NewExecution("wf-1", 1, ExecutionModeManual, nil)

	err := execution.Finalize(ExecutionStatusRunning, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestExecution_FinalizePrefersEngineDuration(t *testing.T) {
	execution := NewExecution("wf-1", 1, ExecutionModeManual, nil)
	require.NoError(t, execution.Start())

	reported := int64(1234)
	require.NoError(t, execution.Finalize(ExecutionStatusFailed, map[string]any{"message": "boom"}, &reported))
	require.NotNil(t, execution.DurationMs)
	assert.Equal(t, reported, *execution.DurationMs)
	assert.Equal(t, "boom", execution.Error["message"])
}

func TestExecution_Cancel(t *testing.T) {
	execution := NewExecution("wf-1", 1, ExecutionModeManual, nil)
	require.NoError(t, execution.Start())
	attemptBefore := execution.Attempt

	require.NoError(t, execution.Cancel())
	assert.Equal(t, ExecutionStatusCancelled, execution.Status)
	assert.NotNil(t, execution.FinishedAt)
	assert.Equal(t, attemptBefore, execution.Attempt)

	// Cancelling a terminal execution is rejected.
	err := execution.Cancel()
	assert.ErrorIs(t, err, ErrCannotCancel)
}

func TestExecution_NewRetry(t *testing.T) {
	execution := NewExecution("wf-1", 7, ExecutionModeWebhook, map[string]any{"k": "v"})
	require.NoError(t, execution.Start())
	require.NoError(t, execution.Finalize(ExecutionStatusFailed, map[string]any{"message": "boom"}, nil))

	actor := "user-1"

	retry, err := execution.NewRetry(&actor, "10.0.0.1", "curl/8")
	require.NoError(t, err)

	assert.NotEqual(t, execution.ID, retry.ID)
	assert.Equal(t, ExecutionStatusPending, retry.Status)
	assert.Equal(t, ExecutionModeRetry, retry.Mode)
	assert.Equal(t, execution.Attempt+1, retry.Attempt)
	assert.Equal(t, execution.MaxAttempts, retry.MaxAttempts)
	require.NotNil(t, retry.ParentExecutionID)
	assert.Equal(t, execution.ID, *retry.ParentExecutionID)
	assert.Equal(t, execution.TriggerData, retry.TriggerData)
	assert.LessOrEqual(t, retry.Attempt, retry.MaxAttempts)

	// The parent row is untouched.
	assert.Equal(t, ExecutionStatusFailed, execution.Status)
	assert.Equal(t, 1, execution.Attempt)
}

func TestExecution_NewRetryRejected(t *testing.T) {
	t.Run("non-failed execution", func(t *testing.T) {
		execution := NewExecution("wf-1", 1, ExecutionModeManual, nil)
		require.NoError(t, execution.Start())
		require.NoError(t, execution.Finalize(ExecutionStatusCompleted, nil, nil))

		_, err := execution.NewRetry(nil, "", "")
		assert.ErrorIs(t, err, ErrCannotRetry)
	})

	t.Run("attempts exhausted", func(t *testing.T) {
		execution := NewExecution("wf-1", 1, ExecutionModeManual, nil)
		execution.Attempt = execution.MaxAttempts
		require.NoError(t, execution.Start())
		require.NoError(t, execution.Finalize(ExecutionStatusFailed, nil, nil))

		_, err := execution.NewRetry(nil, "", "")
		assert.ErrorIs(t, err, ErrCannotRetry)
	})
}
