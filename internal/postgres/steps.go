package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/models"
)

// CreateSteps inserts a job's full set of WorkflowStep rows in one
// transaction, emitted by the Planner as a dense 1..N sequence (§3).
func (s *Store) CreateSteps(ctx context.Context, steps []models.WorkflowStep) error {
	if len(steps) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperrors.Server(err, "failed to begin steps transaction")
	}
	defer tx.Rollback(ctx)

	for _, step := range steps {
		ops := make([]string, len(step.Operations))
		for i, op := range step.Operations {
			ops[i] = string(op)
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO workflow_steps (job_id, step_index, service_image, operation_template,
				work_item_count, completed_count, progress_weight, is_sequential,
				has_aggregated_output, operations)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
			step.JobID, step.StepIndex, step.ServiceImage, step.OperationTemplate,
			step.WorkItemCount, step.CompletedCount, step.ProgressWeight, step.IsSequential,
			step.HasAggregatedOutput, ops,
		)
		if err != nil {
			return apperrors.Server(err, "failed to insert workflow step %d for job %s", step.StepIndex, step.JobID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Server(err, "failed to commit steps transaction")
	}
	return nil
}

func scanStep(row interface{ Scan(...any) error }) (*models.WorkflowStep, error) {
	var step models.WorkflowStep
	var ops []string
	if err := row.Scan(&step.JobID, &step.StepIndex, &step.ServiceImage, &step.OperationTemplate,
		&step.WorkItemCount, &step.CompletedCount, &step.ProgressWeight, &step.IsSequential,
		&step.HasAggregatedOutput, &ops); err != nil {
		return nil, err
	}
	step.Operations = make([]models.Operation, len(ops))
	for i, op := range ops {
		step.Operations[i] = models.Operation(op)
	}
	return &step, nil
}

// GetStep reads one (jobID, stepIndex) row.
func (s *Store) GetStep(ctx context.Context, jobID string, stepIndex int) (*models.WorkflowStep, error) {
	row := s.db.QueryRow(ctx, `
		SELECT job_id, step_index, service_image, operation_template, work_item_count,
			completed_count, progress_weight, is_sequential, has_aggregated_output, operations
		FROM workflow_steps WHERE job_id=$1 AND step_index=$2`, jobID, stepIndex)

	step, err := scanStep(row)
	if err == pgx.ErrNoRows {
		return nil, apperrors.Validation("workflow step %d for job %s not found", stepIndex, jobID)
	}
	if err != nil {
		return nil, apperrors.Server(err, "failed to read workflow step %d for job %s", stepIndex, jobID)
	}
	return step, nil
}

// ListSteps returns every step of jobID ordered by stepIndex.
func (s *Store) ListSteps(ctx context.Context, jobID string) ([]models.WorkflowStep, error) {
	rows, err := s.db.Query(ctx, `
		SELECT job_id, step_index, service_image, operation_template, work_item_count,
			completed_count, progress_weight, is_sequential, has_aggregated_output, operations
		FROM workflow_steps WHERE job_id=$1 ORDER BY step_index ASC`, jobID)
	if err != nil {
		return nil, apperrors.Server(err, "failed to list workflow steps for job %s", jobID)
	}
	defer rows.Close()

	var steps []models.WorkflowStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, apperrors.Server(err, "failed to scan workflow step")
		}
		steps = append(steps, *step)
	}
	return steps, nil
}

// IncrementCompletedCount atomically bumps a step's completedCount by
// delta (§4.4.a: "Increment the step's completedCount").
func (s *Store) IncrementCompletedCount(ctx context.Context, jobID string, stepIndex int, delta int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workflow_steps SET completed_count = completed_count + $3
		WHERE job_id=$1 AND step_index=$2`, jobID, stepIndex, delta)
	if err != nil {
		return apperrors.Server(err, "failed to increment completed count for step %d of job %s", stepIndex, jobID)
	}
	return nil
}

// IncrementWorkItemCount atomically bumps a step's workItemCount by delta
// (§4.4.b: "Increment next step's workItemCount by that count").
func (s *Store) IncrementWorkItemCount(ctx context.Context, jobID string, stepIndex int, delta int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE workflow_steps SET work_item_count = work_item_count + $3
		WHERE job_id=$1 AND step_index=$2`, jobID, stepIndex, delta)
	if err != nil {
		return apperrors.Server(err, "failed to increment work item count for step %d of job %s", stepIndex, jobID)
	}
	return nil
}
