package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJobValidate(t *testing.T) {
	base := func() *Job {
		return &Job{JobID: "job-1", Owner: "alice", Progress: 0, NumInputGranules: 1}
	}

	t.Run("valid job passes", func(t *testing.T) {
		assert.NoError(t, base().Validate())
	})

	t.Run("missing job id", func(t *testing.T) {
		j := base()
		j.JobID = ""
		assert.Error(t, j.Validate())
	})

	t.Run("missing owner", func(t *testing.T) {
		j := base()
		j.Owner = ""
		assert.Error(t, j.Validate())
	})

	t.Run("progress out of range", func(t *testing.T) {
		j := base()
		j.Progress = 101
		assert.Error(t, j.Validate())
	})

	t.Run("negative granule count", func(t *testing.T) {
		j := base()
		j.NumInputGranules = -1
		assert.Error(t, j.Validate())
	})

	t.Run("synchronous job must have exactly one granule", func(t *testing.T) {
		j := base()
		j.IsSynchronous = true
		j.NumInputGranules = 2
		assert.Error(t, j.Validate())
	})

	t.Run("synchronous job with one granule is valid", func(t *testing.T) {
		j := base()
		j.IsSynchronous = true
		j.NumInputGranules = 1
		assert.NoError(t, j.Validate())
	})
}

func TestJobStatusIsTerminal(t *testing.T) {
	terminal := []JobStatus{JobSuccessful, JobFailed, JobCanceled, JobCompleteWithErrors}
	for _, s := range terminal {
		assert.Truef(t, s.IsTerminal(), "%s should be terminal", s)
	}

	nonTerminal := []JobStatus{JobAccepted, JobPreviewing, JobRunning, JobRunningWithErrors, JobPaused}
	for _, s := range nonTerminal {
		assert.Falsef(t, s.IsTerminal(), "%s should not be terminal", s)
	}
}

func TestTruncateMessage(t *testing.T) {
	short := "a short failure message"
	assert.Equal(t, short, TruncateMessage(short))

	long := strings.Repeat("x", MaxMessageLength+50)
	truncated := TruncateMessage(long)
	assert.Len(t, truncated, MaxMessageLength)
}
