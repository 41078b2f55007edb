package models

import "fmt"

// Operation is one of the data-transformation operations a service may
// declare support for.
type Operation string

const (
	OpConcatenate      Operation = "concatenate"
	OpDimensionSubset  Operation = "dimensionSubset"
	OpExtend           Operation = "extend"
	OpReproject        Operation = "reproject"
	OpShapefileSubset  Operation = "shapefileSubset"
	OpSpatialSubset    Operation = "spatialSubset"
	OpTemporalSubset   Operation = "temporalSubset"
	OpVariableSubset   Operation = "variableSubset"
)

// WorkflowStep is one stage of a job's pipeline. Identified by (JobID,
// StepIndex); StepIndex values are a dense 1..N sequence per job.
type WorkflowStep struct {
	JobID              string      `json:"job_id" db:"job_id"`
	StepIndex          int         `json:"step_index" db:"step_index"`
	ServiceImage       string      `json:"service_image" db:"service_image"`
	OperationTemplate  string      `json:"operation_template" db:"operation_template"` // opaque JSON blob
	WorkItemCount      int         `json:"work_item_count" db:"work_item_count"`
	CompletedCount     int         `json:"completed_count" db:"completed_count"`
	ProgressWeight     float64     `json:"progress_weight" db:"progress_weight"`
	IsSequential       bool        `json:"is_sequential" db:"is_sequential"`
	HasAggregatedOutput bool       `json:"has_aggregated_output" db:"has_aggregated_output"`
	Operations         []Operation `json:"operations" db:"-"`
}

// Validate checks the structural invariants that apply to a single step in
// isolation (dense-sequence and cross-step weight-sum invariants are
// checked by the planner across the whole set).
func (w *WorkflowStep) Validate() error {
	if w.JobID == "" {
		return fmt.Errorf("workflow step job id is required")
	}
	if w.StepIndex < 1 {
		return fmt.Errorf("workflow step index must be >= 1, got %d", w.StepIndex)
	}
	if w.ServiceImage == "" {
		return fmt.Errorf("workflow step service image is required")
	}
	if w.CompletedCount > w.WorkItemCount {
		return fmt.Errorf("workflow step completedCount %d exceeds workItemCount %d", w.CompletedCount, w.WorkItemCount)
	}
	return nil
}

// IsComplete reports whether every work item attached to this step has
// reached a terminal outcome.
func (w *WorkflowStep) IsComplete() bool {
	return w.CompletedCount >= w.WorkItemCount
}

// FractionComplete returns completedCount/workItemCount, or 0 if the step
// has not yet had any items seeded.
func (w *WorkflowStep) FractionComplete() float64 {
	if w.WorkItemCount == 0 {
		return 0
	}
	return float64(w.CompletedCount) / float64(w.WorkItemCount)
}
