// Package progress implements the Progress Engine of §4.4: on each
// worker report it updates job progress, propagates outputs as the next
// step's inputs (item-per-output or aggregated), decides step/job terminal
// states, applies retry-on-failure, enforces ignoreErrors, and serves the
// pause/resume/cancel/skipPreview control-plane operations.
package progress

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/catalog"
	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/pool"
)

// Engine is the Progress Engine component.
type Engine struct {
	jobs                  interfaces.JobStore
	steps                 interfaces.StepStore
	pool                  *pool.Pool
	objectStore           interfaces.ObjectStore
	broker                interfaces.CompletionBroker
	aggregateStacPageSize int
	logger                arbor.ILogger
}

// New constructs a Progress Engine.
func New(jobs interfaces.JobStore, steps interfaces.StepStore, pool *pool.Pool, objectStore interfaces.ObjectStore, broker interfaces.CompletionBroker, aggregateStacPageSize int, logger arbor.ILogger) *Engine {
	return &Engine{
		jobs:                  jobs,
		steps:                 steps,
		pool:                  pool,
		objectStore:           objectStore,
		broker:                broker,
		aggregateStacPageSize: aggregateStacPageSize,
		logger:                logger,
	}
}

// Report is a worker's completion report for one WorkItem (§6 PUT /work/{id}).
type Report struct {
	ItemID          int64
	Outcome         models.WorkItemStatus // successful | failed | canceled | warning
	ResultURIs      []string
	OutputItemSizes []int64
	ErrorMessage    string
}

// ReportOutcome processes one worker report end to end (§4.4). It rejects
// reports for terminal items or terminal jobs, except a canceled report
// against a canceled job (see reportCanceled), and treats warning the same
// as successful (both terminal outcomes that advance the workflow; only
// failed and canceled carry special handling).
func (e *Engine) ReportOutcome(ctx context.Context, report Report) error {
	item, err := e.pool.GetItem(ctx, report.ItemID)
	if err != nil {
		return err
	}
	if item.Status.IsTerminal() {
		return apperrors.Conflict("work item %d is already terminal", report.ItemID)
	}

	job, err := e.jobs.GetJob(ctx, item.JobID)
	if err != nil {
		return err
	}
	if job.Status.IsTerminal() && !(job.Status == models.JobCanceled && report.Outcome == models.ItemCanceled) {
		return apperrors.Conflict("job %s is already terminal", job.JobID)
	}

	switch report.Outcome {
	case models.ItemSuccessful, models.ItemWarning:
		return e.reportSuccess(ctx, item, report)
	case models.ItemFailed:
		return e.reportFailure(ctx, item, report.ErrorMessage)
	case models.ItemCanceled:
		return e.reportCanceled(ctx, item, job)
	default:
		return apperrors.Validation("unrecognized outcome %q", report.Outcome)
	}
}

func (e *Engine) reportSuccess(ctx context.Context, item *models.WorkItem, report Report) error {
	if _, err := e.pool.Complete(ctx, item.ID, report.Outcome, report.ResultURIs, report.OutputItemSizes, ""); err != nil {
		return err
	}

	if err := e.steps.IncrementCompletedCount(ctx, item.JobID, item.StepIndex, 1); err != nil {
		return err
	}

	step, err := e.steps.GetStep(ctx, item.JobID, item.StepIndex)
	if err != nil {
		return err
	}

	next, err := e.steps.GetStep(ctx, item.JobID, item.StepIndex+1)
	hasNext := err == nil

	switch {
	case !hasNext:
		if err := e.appendJobLinks(ctx, item.JobID, report.ResultURIs); err != nil {
			return err
		}
	case !next.HasAggregatedOutput:
		if err := e.fanOutNonAggregating(ctx, item, next, report.ResultURIs); err != nil {
			return err
		}
	default:
		if step.IsComplete() {
			if err := e.emitAggregate(ctx, item.JobID, step, next); err != nil {
				return err
			}
		}
	}

	return e.advanceJob(ctx, item.JobID)
}

func (e *Engine) appendJobLinks(ctx context.Context, jobID string, resultURIs []string) error {
	for _, uri := range resultURIs {
		link := &models.JobLink{JobID: jobID, Href: uri, Rel: "item"}
		if err := e.jobs.AppendJobLink(ctx, link); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) fanOutNonAggregating(ctx context.Context, current *models.WorkItem, next *models.WorkflowStep, resultURIs []string) error {
	created := 0
	for i, uri := range resultURIs {
		key := fmt.Sprintf("%s-item-%d", current.JobID, current.ID*1000+int64(i))
		fragmentKey, err := catalog.StoreItemFragment(e.objectStore, key, catalog.BuildItemFragment(key, []string{uri}))
		if err != nil {
			return apperrors.Server(err, "failed to store item fragment for %s", current.JobID)
		}

		item := &models.WorkItem{
			JobID:               current.JobID,
			StepIndex:           next.StepIndex,
			ServiceImage:        next.ServiceImage,
			StacCatalogLocation: fragmentKey,
			SortIndex:           i,
		}
		if err := e.pool.Insert(ctx, item); err != nil {
			return err
		}
		created++
	}
	if created > 0 {
		return e.steps.IncrementWorkItemCount(ctx, current.JobID, next.StepIndex, created)
	}
	return nil
}

// emitAggregateIfStepComplete fires the aggregating next step's single
// WorkItem once every item of the given step has reached a terminal
// outcome (success or permanent failure) — mirroring the aggregate branch
// of reportSuccess's switch, but reusable from the failure/cancel paths so
// an ignoreErrors-degraded step still unblocks its aggregating successor.
func (e *Engine) emitAggregateIfStepComplete(ctx context.Context, jobID string, stepIndex int) error {
	step, err := e.steps.GetStep(ctx, jobID, stepIndex)
	if err != nil {
		return err
	}
	if !step.IsComplete() {
		return nil
	}

	next, err := e.steps.GetStep(ctx, jobID, stepIndex+1)
	if err != nil || !next.HasAggregatedOutput {
		return nil
	}
	return e.emitAggregate(ctx, jobID, step, next)
}

// emitAggregate builds one STAC catalog (paged if necessary) unioning all
// successful outputs of step and inserts exactly one next-step WorkItem
// pointing to its head page (§4.4.b aggregating branch, §8 S4/S5).
func (e *Engine) emitAggregate(ctx context.Context, jobID string, step *models.WorkflowStep, next *models.WorkflowStep) error {
	outputs, err := e.pool.ListSuccessfulOutputs(ctx, jobID, step.StepIndex)
	if err != nil {
		return err
	}

	headKey, err := catalog.BuildAggregatePages(e.objectStore, jobID, step.StepIndex, e.aggregateStacPageSize, outputs)
	if err != nil {
		return apperrors.Server(err, "failed to build aggregate catalog for job %s", jobID)
	}

	item := &models.WorkItem{
		JobID:               jobID,
		StepIndex:           next.StepIndex,
		ServiceImage:        next.ServiceImage,
		StacCatalogLocation: headKey,
		SortIndex:           0,
	}
	if err := e.pool.Insert(ctx, item); err != nil {
		return err
	}
	return e.steps.IncrementWorkItemCount(ctx, jobID, next.StepIndex, 1)
}

// reportFailure implements §4.4's failed branch: retry while under the
// limit, otherwise record the permanent failure and apply ignoreErrors.
func (e *Engine) reportFailure(ctx context.Context, item *models.WorkItem, errorMessage string) error {
	retried, err := e.pool.RequeueOnFailure(ctx, item.ID, item.RetryCount)
	if err != nil {
		return err
	}
	if retried {
		return nil
	}

	if _, err := e.pool.Complete(ctx, item.ID, models.ItemFailed, nil, nil, errorMessage); err != nil {
		return err
	}
	if err := e.steps.IncrementCompletedCount(ctx, item.JobID, item.StepIndex, 1); err != nil {
		return err
	}

	jobErr := &models.JobError{JobID: item.JobID, ItemID: item.ID, Message: errorMessage}
	if err := e.jobs.RecordJobError(ctx, jobErr); err != nil {
		return err
	}

	if err := e.emitAggregateIfStepComplete(ctx, item.JobID, item.StepIndex); err != nil {
		return err
	}

	if err := e.applyPermanentFailure(ctx, item.JobID, errorMessage); err != nil {
		return err
	}
	return e.advanceJob(ctx, item.JobID)
}

// reportCanceled implements §4.4's canceled branch, resolving the open
// question of worker-reported cancels as recorded in DESIGN.md: caller-initiated
// cancel (job already in status=canceled) is accepted as terminal;
// otherwise a worker-reported cancel retries once then fails.
func (e *Engine) reportCanceled(ctx context.Context, item *models.WorkItem, job *models.Job) error {
	if job.Status == models.JobCanceled {
		if _, err := e.pool.Complete(ctx, item.ID, models.ItemCanceled, nil, nil, ""); err != nil {
			return err
		}
		return e.steps.IncrementCompletedCount(ctx, item.JobID, item.StepIndex, 1)
	}

	if item.RetryCount == 0 {
		if _, err := e.pool.RequeueOnFailure(ctx, item.ID, item.RetryCount); err != nil {
			return err
		}
		return nil
	}

	if _, err := e.pool.Complete(ctx, item.ID, models.ItemFailed, nil, nil, "worker reported cancel"); err != nil {
		return err
	}
	if err := e.steps.IncrementCompletedCount(ctx, item.JobID, item.StepIndex, 1); err != nil {
		return err
	}
	jobErr := &models.JobError{JobID: item.JobID, ItemID: item.ID, Message: "worker reported cancel"}
	if err := e.jobs.RecordJobError(ctx, jobErr); err != nil {
		return err
	}
	if err := e.emitAggregateIfStepComplete(ctx, item.JobID, item.StepIndex); err != nil {
		return err
	}
	if err := e.applyPermanentFailure(ctx, item.JobID, "worker reported cancel"); err != nil {
		return err
	}
	return e.advanceJob(ctx, item.JobID)
}

// applyPermanentFailure implements §4.4.b(i)/(ii): when ignoreErrors is
// set, the job degrades to running_with_errors and continues (advanceJob
// then finishes it as complete_with_errors once every step is complete);
// otherwise the whole job is canceled and marked failed.
func (e *Engine) applyPermanentFailure(ctx context.Context, jobID string, message string) error {
	return e.jobs.WithJobLock(ctx, jobID, func(ctx context.Context, job *models.Job) error {
		if job.Status.IsTerminal() {
			return nil
		}

		if job.IgnoreErrors {
			job.Status = models.JobRunningWithErrors
			job.Message = models.TruncateMessage(message)
			return nil
		}

		if err := e.pool.CancelAllForJob(ctx, jobID); err != nil {
			return err
		}
		job.Status = models.JobFailed
		job.Message = models.TruncateMessage(message)
		job.TerminalReason = message
		e.broker.Publish(jobID, models.JobFailed)
		return nil
	})
}

// advanceJob recomputes progress and, if every step is now complete,
// transitions the job to its terminal outcome (§4.4.d/e).
func (e *Engine) advanceJob(ctx context.Context, jobID string) error {
	steps, err := e.steps.ListSteps(ctx, jobID)
	if err != nil {
		return err
	}

	progress := 0.0
	allComplete := true
	for _, step := range steps {
		progress += step.FractionComplete() * step.ProgressWeight
		if !step.IsComplete() {
			allComplete = false
		}
	}
	progressPct := int(progress * 100)
	if progressPct > 100 {
		progressPct = 100
	}

	return e.jobs.WithJobLock(ctx, jobID, func(ctx context.Context, job *models.Job) error {
		if job.Status.IsTerminal() {
			return nil
		}
		if progressPct > job.Progress {
			job.Progress = progressPct // progress is monotonic (§3, §8)
		}

		if allComplete {
			hadFailures := job.Status == models.JobRunningWithErrors
			if hadFailures {
				job.Status = models.JobCompleteWithErrors
			} else {
				job.Status = models.JobSuccessful
			}
			job.Progress = 100
			e.broker.Publish(jobID, job.Status)
		}
		return nil
	})
}

// Pause implements §4.4's pause(jobID): only valid from
// {running, running_with_errors, previewing}.
func (e *Engine) Pause(ctx context.Context, jobID string) error {
	return e.jobs.WithJobLock(ctx, jobID, func(ctx context.Context, job *models.Job) error {
		switch job.Status {
		case models.JobRunning, models.JobRunningWithErrors, models.JobPreviewing:
			job.Status = models.JobPaused
			return nil
		default:
			return apperrors.Conflict("job %s cannot be paused from status %s", jobID, job.Status)
		}
	})
}

// Resume implements §4.4's resume(jobID): only valid from paused or
// previewing.
func (e *Engine) Resume(ctx context.Context, jobID string) error {
	return e.jobs.WithJobLock(ctx, jobID, func(ctx context.Context, job *models.Job) error {
		switch job.Status {
		case models.JobPaused, models.JobPreviewing:
			job.Status = models.JobRunning
			return nil
		default:
			return apperrors.Conflict("job %s cannot be resumed from status %s", jobID, job.Status)
		}
	})
}

// Cancel implements §4.4's cancel(jobID): valid from any non-terminal
// state; idempotent after the first call (§8 round-trip law).
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	err := e.jobs.WithJobLock(ctx, jobID, func(ctx context.Context, job *models.Job) error {
		if job.Status.IsTerminal() {
			return nil // idempotent: second cancel is a no-op
		}
		job.Status = models.JobCanceled
		job.TerminalReason = "canceled by request"
		return nil
	})
	if err != nil {
		return err
	}
	if err := e.pool.CancelAllForJob(ctx, jobID); err != nil {
		return err
	}
	e.broker.Publish(jobID, models.JobCanceled)
	return nil
}

// SkipPreview implements §4.4's skipPreview(jobID): valid from previewing;
// equivalent to resume but records that preview was skipped.
func (e *Engine) SkipPreview(ctx context.Context, jobID string) error {
	return e.jobs.WithJobLock(ctx, jobID, func(ctx context.Context, job *models.Job) error {
		if job.Status != models.JobPreviewing {
			return apperrors.Conflict("job %s cannot skip preview from status %s", jobID, job.Status)
		}
		job.Status = models.JobRunning
		job.PreviewSkipped = true
		return nil
	})
}

// AwaitSynchronous blocks until jobID (a synchronous job) reaches a
// terminal state, per §4.4's synchronous-job signal contract.
func (e *Engine) AwaitSynchronous(ctx context.Context, jobID string) (models.JobStatus, error) {
	return e.broker.Await(ctx, jobID)
}
