package models

import (
	"fmt"
	"time"
)

// WorkItemStatus is the lifecycle state of a single unit of work.
type WorkItemStatus string

const (
	ItemReady      WorkItemStatus = "ready"
	ItemQueued     WorkItemStatus = "queued"
	ItemRunning    WorkItemStatus = "running"
	ItemSuccessful WorkItemStatus = "successful"
	ItemFailed     WorkItemStatus = "failed"
	ItemWarning    WorkItemStatus = "warning"
	ItemCanceled   WorkItemStatus = "canceled"
)

// IsTerminal reports whether status admits no further change (aside from
// the cancel-cascade, which is a forced override).
func (s WorkItemStatus) IsTerminal() bool {
	switch s {
	case ItemSuccessful, ItemFailed, ItemWarning, ItemCanceled:
		return true
	default:
		return false
	}
}

// WorkItem is a single unit of work dispatched to one worker at a time.
// Exactly one WorkItem exists per unit of work per step (§3 invariant).
type WorkItem struct {
	ID                   int64          `json:"id" db:"id"`
	JobID                string         `json:"job_id" db:"job_id"`
	StepIndex            int            `json:"step_index" db:"step_index"`
	ServiceImage         string         `json:"service_image" db:"service_image"`
	Status               WorkItemStatus `json:"status" db:"status"`
	RetryCount           int            `json:"retry_count" db:"retry_count"`
	StacCatalogLocation  string         `json:"stac_catalog_location" db:"stac_catalog_location"`
	ResultURIs           []string       `json:"result_uris" db:"-"`
	OutputItemSizes      []int64        `json:"output_item_sizes" db:"-"`
	SortIndex            int            `json:"sort_index" db:"sort_index"`
	ErrorMessage         string         `json:"error_message,omitempty" db:"error_message"`
	StartedAt            *time.Time     `json:"started_at,omitempty" db:"started_at"`
	LeasedUntil          *time.Time     `json:"leased_until,omitempty" db:"leased_until"`
	UpdatedAt            time.Time      `json:"updated_at" db:"updated_at"`
}

// Validate checks structural invariants independent of the current
// transition (transition legality is enforced by the pool under lock).
func (w *WorkItem) Validate() error {
	if w.JobID == "" {
		return fmt.Errorf("work item job id is required")
	}
	if w.StepIndex < 1 {
		return fmt.Errorf("work item step index must be >= 1, got %d", w.StepIndex)
	}
	if w.ServiceImage == "" {
		return fmt.Errorf("work item service image is required")
	}
	if w.RetryCount < 0 {
		return fmt.Errorf("work item retry count cannot be negative")
	}
	return nil
}

// CanTransitionTo reports whether moving from w.Status to next is legal per
// the transition table of §3: ready → queued → running →
// {successful|failed|warning}; any non-terminal or failed → canceled;
// failed → ready on retry.
func (w *WorkItem) CanTransitionTo(next WorkItemStatus) bool {
	if next == ItemCanceled {
		return !w.Status.IsTerminal() || w.Status == ItemFailed
	}
	switch w.Status {
	case ItemReady:
		return next == ItemQueued || next == ItemRunning
	case ItemQueued:
		return next == ItemRunning
	case ItemRunning:
		return next == ItemSuccessful || next == ItemFailed || next == ItemWarning
	case ItemFailed:
		return next == ItemReady // retry
	default:
		return false
	}
}
