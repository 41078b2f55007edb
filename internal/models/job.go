// -----------------------------------------------------------------------
// Job Model - the top-level unit of orchestrated work
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a Job. Transitions are enforced by the
// progress engine, never by direct assignment outside that package.
type JobStatus string

const (
	JobAccepted           JobStatus = "accepted"
	JobPreviewing         JobStatus = "previewing"
	JobRunning            JobStatus = "running"
	JobRunningWithErrors  JobStatus = "running_with_errors"
	JobCompleteWithErrors JobStatus = "complete_with_errors"
	JobSuccessful         JobStatus = "successful"
	JobFailed             JobStatus = "failed"
	JobCanceled           JobStatus = "canceled"
	JobPaused             JobStatus = "paused"
)

// IsTerminal reports whether status admits no further transitions, aside
// from label edits which are permitted on terminal jobs.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobSuccessful, JobFailed, JobCanceled, JobCompleteWithErrors:
		return true
	default:
		return false
	}
}

// MaxMessageLength bounds Job.Message per the user-visible failure contract.
const MaxMessageLength = 3096

// Job is the durable record of one transformation request, owning its
// WorkflowSteps and WorkItems. Children reference it only by JobID; Job
// never holds pointers back into its children.
type Job struct {
	JobID             string    `json:"job_id" db:"job_id"`
	Owner             string    `json:"owner" db:"owner"`
	Status            JobStatus `json:"status" db:"status"`
	Progress          int       `json:"progress" db:"progress"` // 0..100
	Message           string    `json:"message" db:"message"`
	Request           string    `json:"request" db:"request"` // origin URI
	NumInputGranules  int       `json:"num_input_granules" db:"num_input_granules"`
	IgnoreErrors      bool      `json:"ignore_errors" db:"ignore_errors"`
	IsSynchronous     bool      `json:"is_synchronous" db:"is_synchronous"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
	TerminalReason    string    `json:"terminal_reason,omitempty" db:"terminal_reason"`
	DestinationURL    string    `json:"destination_url,omitempty" db:"destination_url"`
	CollectionIDs     []string  `json:"collection_ids" db:"-"`
	PreviewSkipped    bool      `json:"preview_skipped" db:"preview_skipped"`
}

// Validate checks the structural invariants of §3 that hold independent of
// any particular transition (full transition legality lives in the
// progress engine, which has the old-status/new-status pair in hand).
func (j *Job) Validate() error {
	if j.JobID == "" {
		return fmt.Errorf("job id is required")
	}
	if j.Owner == "" {
		return fmt.Errorf("job owner is required")
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("job progress %d out of range [0,100]", j.Progress)
	}
	if j.NumInputGranules < 0 {
		return fmt.Errorf("job numInputGranules cannot be negative")
	}
	if j.IsSynchronous && j.NumInputGranules != 1 {
		return fmt.Errorf("synchronous job must have exactly one input granule, got %d", j.NumInputGranules)
	}
	return nil
}

// TruncateMessage enforces the ≤3096 character bound on terminal failure
// messages (§7).
func TruncateMessage(msg string) string {
	if len(msg) <= MaxMessageLength {
		return msg
	}
	return msg[:MaxMessageLength]
}
