package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/models"
)

// selectCandidateSQL implements the §4.3 fair-queueing algorithm as a
// single query: filter ready items of serviceImage in non-terminal jobs,
// pick the owner with fewest runningCount (tie-break oldest
// lastWorkedAt), then that owner's oldest job (tie-break sync before
// async), then that job's smallest (stepIndex, sortIndex) item.
const selectCandidateSQL = `
WITH candidates AS (
	SELECT wi.id, wi.job_id, wi.step_index, wi.sort_index, j.owner, j.updated_at, j.is_synchronous
	FROM work_items wi
	JOIN jobs j ON j.job_id = wi.job_id
	WHERE wi.service_image = $1
	  AND wi.status = 'ready'
	  AND wi.ready_not_before <= now()
	  AND j.status NOT IN ('paused', 'canceled', 'failed')
),
owner_stats AS (
	SELECT c.owner AS owner,
	       COALESCE(uw.running_count, 0) AS running_count,
	       COALESCE(uw.last_worked_at, 'epoch'::timestamptz) AS last_worked_at
	FROM (SELECT DISTINCT owner FROM candidates) c
	LEFT JOIN user_work uw ON uw.owner = c.owner AND uw.service_image = $1
),
best_owner AS (
	SELECT owner FROM owner_stats
	ORDER BY running_count ASC, last_worked_at ASC
	LIMIT 1
),
best_job AS (
	SELECT c.job_id FROM candidates c
	JOIN best_owner bo ON bo.owner = c.owner
	ORDER BY c.updated_at ASC, (CASE WHEN c.is_synchronous THEN 0 ELSE 1 END) ASC
	LIMIT 1
)
SELECT c.id, c.owner FROM candidates c
JOIN best_job bj ON bj.job_id = c.job_id
ORDER BY c.step_index ASC, c.sort_index ASC
LIMIT 1`

// Insert creates a new ready WorkItem and increments UserWork.readyCount
// for its (owner, serviceImage) pair (§4.2 insert).
func (s *Store) Insert(ctx context.Context, item *models.WorkItem) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperrors.Server(err, "failed to begin insert transaction")
	}
	defer tx.Rollback(ctx)

	var owner string
	if err := tx.QueryRow(ctx, `SELECT owner FROM jobs WHERE job_id=$1`, item.JobID).Scan(&owner); err != nil {
		return apperrors.Server(err, "failed to resolve owner for job %s", item.JobID)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO work_items (job_id, step_index, service_image, status, retry_count,
			stac_catalog_location, sort_index, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7, now())
		RETURNING id, updated_at`,
		item.JobID, item.StepIndex, item.ServiceImage, models.ItemReady, item.RetryCount,
		item.StacCatalogLocation, item.SortIndex,
	).Scan(&item.ID, &item.UpdatedAt)
	if err != nil {
		return apperrors.Server(err, "failed to insert work item for job %s step %d", item.JobID, item.StepIndex)
	}
	item.Status = models.ItemReady

	if err := upsertUserWorkDelta(ctx, tx, owner, item.ServiceImage, 1, 0, false); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Server(err, "failed to commit insert transaction")
	}
	return nil
}

// Lease implements §4.2's lease(serviceImage) and the §4.3 selection
// algorithm: the candidate CTE pre-filters eligible items, then the chosen
// row is locked FOR UPDATE SKIP LOCKED — the pattern the spec names
// explicitly — so a concurrent caller racing for the same row simply sees
// no candidate rather than blocking or double-leasing.
func (s *Store) Lease(ctx context.Context, serviceImage string, visibilityTimeout time.Duration) (*models.WorkItem, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apperrors.Server(err, "failed to begin lease transaction")
	}
	defer tx.Rollback(ctx)

	var itemID int64
	var owner string
	err = tx.QueryRow(ctx, selectCandidateSQL, serviceImage).Scan(&itemID, &owner)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Server(err, "failed to select lease candidate for %s", serviceImage)
	}

	row := tx.QueryRow(ctx, `
		SELECT id, job_id, step_index, service_image, status, retry_count, stac_catalog_location,
			result_uris, output_item_sizes, sort_index, error_message, started_at, leased_until, updated_at
		FROM work_items WHERE id = $1 AND status = 'ready'
		FOR UPDATE SKIP LOCKED`, itemID)

	item, err := scanWorkItem(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Server(err, "failed to lock work item %d", itemID)
	}

	now := time.Now()
	leasedUntil := now.Add(visibilityTimeout)
	_, err = tx.Exec(ctx, `
		UPDATE work_items SET status='running', leased_until=$2,
			started_at = COALESCE(started_at, $3), updated_at=$3
		WHERE id=$1`, item.ID, leasedUntil, now)
	if err != nil {
		return nil, apperrors.Server(err, "failed to lease work item %d", item.ID)
	}
	item.Status = models.ItemRunning
	item.LeasedUntil = &leasedUntil
	item.StartedAt = &now
	item.UpdatedAt = now

	if err := upsertUserWorkDelta(ctx, tx, owner, serviceImage, -1, 1, true); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Server(err, "failed to commit lease transaction")
	}
	return item, nil
}

// Complete validates the caller-provided transition and records a terminal
// outcome (§4.2 complete).
func (s *Store) Complete(ctx context.Context, itemID int64, outcome models.WorkItemStatus, resultURIs []string, outputSizes []int64, errorMessage string) (*models.WorkItem, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apperrors.Server(err, "failed to begin complete transaction")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT wi.id, wi.job_id, wi.step_index, wi.service_image, wi.status, wi.retry_count,
			wi.stac_catalog_location, wi.result_uris, wi.output_item_sizes, wi.sort_index,
			wi.error_message, wi.started_at, wi.leased_until, wi.updated_at
		FROM work_items wi WHERE wi.id = $1 FOR UPDATE`, itemID)

	item, err := scanWorkItem(row)
	if err == pgx.ErrNoRows {
		return nil, apperrors.Validation("work item %d not found", itemID)
	}
	if err != nil {
		return nil, apperrors.Server(err, "failed to lock work item %d", itemID)
	}

	if item.Status.IsTerminal() {
		return nil, apperrors.Conflict("work item %d is already terminal (%s)", itemID, item.Status)
	}
	if !item.CanTransitionTo(outcome) {
		return nil, apperrors.Conflict("work item %d cannot transition %s -> %s", itemID, item.Status, outcome)
	}

	var owner string
	if err := tx.QueryRow(ctx, `SELECT owner FROM jobs WHERE job_id=$1`, item.JobID).Scan(&owner); err != nil {
		return nil, apperrors.Server(err, "failed to resolve owner for job %s", item.JobID)
	}

	now := time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE work_items SET status=$2, result_uris=$3, output_item_sizes=$4,
			error_message=$5, leased_until=NULL, updated_at=$6
		WHERE id=$1`, itemID, outcome, resultURIs, outputSizes, errorMessage, now)
	if err != nil {
		return nil, apperrors.Server(err, "failed to complete work item %d", itemID)
	}
	item.Status = outcome
	item.ResultURIs = resultURIs
	item.OutputItemSizes = outputSizes
	item.ErrorMessage = errorMessage
	item.LeasedUntil = nil
	item.UpdatedAt = now

	if err := upsertUserWorkDelta(ctx, tx, owner, item.ServiceImage, 0, -1, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Server(err, "failed to commit complete transaction")
	}
	return item, nil
}

// Requeue clears an item's lease, sets it back to ready, and increments
// retryCount (§4.2 requeue). Fails if retryCount >= retryLimit.
// readyNotBefore staggers the item's re-ready visibility by a jitter to
// avoid a thundering herd of simultaneously-expired leases (see
// SPEC_FULL.md Supplemented Features: retry jitter) — a zero value means
// "ready immediately".
func (s *Store) Requeue(ctx context.Context, itemID int64, retryLimit int, readyNotBefore time.Time) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperrors.Server(err, "failed to begin requeue transaction")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT wi.id, wi.job_id, wi.service_image, wi.retry_count
		FROM work_items wi WHERE wi.id=$1 FOR UPDATE`, itemID)

	var jobID, serviceImage string
	var retryCount int
	if err := row.Scan(&itemID, &jobID, &serviceImage, &retryCount); err != nil {
		if err == pgx.ErrNoRows {
			return apperrors.Validation("work item %d not found", itemID)
		}
		return apperrors.Server(err, "failed to lock work item %d", itemID)
	}

	if retryCount >= retryLimit {
		return apperrors.Conflict("work item %d has exhausted its retry limit (%d)", itemID, retryLimit)
	}

	var owner string
	if err := tx.QueryRow(ctx, `SELECT owner FROM jobs WHERE job_id=$1`, jobID).Scan(&owner); err != nil {
		return apperrors.Server(err, "failed to resolve owner for job %s", jobID)
	}

	_, err = tx.Exec(ctx, `
		UPDATE work_items SET status='ready', leased_until=NULL, retry_count=retry_count+1,
			ready_not_before=$2, updated_at=now()
		WHERE id=$1`, itemID, readyNotBefore)
	if err != nil {
		return apperrors.Server(err, "failed to requeue work item %d", itemID)
	}

	if err := upsertUserWorkDelta(ctx, tx, owner, serviceImage, 1, -1, false); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Server(err, "failed to commit requeue transaction")
	}
	return nil
}

// CancelAllForJob transitions every non-terminal item of jobID to canceled
// (§4.2 cancelAllForJob, cascades from the control-plane cancel operation)
// and, like Insert/Lease/Complete/Requeue, keeps UserWork.readyCount and
// runningCount in sync with the items it cancels so the owner's
// §4.3 fair-queueing tie-break isn't skewed by counters that never unwind.
func (s *Store) CancelAllForJob(ctx context.Context, jobID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperrors.Server(err, "failed to begin cancel transaction")
	}
	defer tx.Rollback(ctx)

	var owner string
	if err := tx.QueryRow(ctx, `SELECT owner FROM jobs WHERE job_id=$1`, jobID).Scan(&owner); err != nil {
		return apperrors.Server(err, "failed to resolve owner for job %s", jobID)
	}

	rows, err := tx.Query(ctx, `
		SELECT service_image, status FROM work_items
		WHERE job_id=$1 AND status NOT IN ('successful','failed','warning','canceled')
		FOR UPDATE`, jobID)
	if err != nil {
		return apperrors.Server(err, "failed to select work items to cancel for job %s", jobID)
	}

	type delta struct{ ready, running int }
	deltas := map[string]*delta{}
	for rows.Next() {
		var serviceImage string
		var status models.WorkItemStatus
		if err := rows.Scan(&serviceImage, &status); err != nil {
			rows.Close()
			return apperrors.Server(err, "failed to scan work item to cancel")
		}
		d, ok := deltas[serviceImage]
		if !ok {
			d = &delta{}
			deltas[serviceImage] = d
		}
		switch status {
		case models.ItemReady:
			d.ready++
		case models.ItemRunning:
			d.running++
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return apperrors.Server(err, "failed to read work items to cancel for job %s", jobID)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE work_items SET status='canceled', leased_until=NULL, updated_at=now()
		WHERE job_id=$1 AND status NOT IN ('successful','failed','warning','canceled')`, jobID); err != nil {
		return apperrors.Server(err, "failed to cancel work items for job %s", jobID)
	}

	for serviceImage, d := range deltas {
		if d.ready == 0 && d.running == 0 {
			continue
		}
		if err := upsertUserWorkDelta(ctx, tx, owner, serviceImage, -d.ready, -d.running, false); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Server(err, "failed to commit cancel transaction")
	}
	return nil
}

// ListSuccessfulOutputs returns the flattened result URIs of every
// successful item of (jobID, stepIndex), ordered by sortIndex, for an
// aggregating next step to union as its single logical input (§4.4.b).
func (s *Store) ListSuccessfulOutputs(ctx context.Context, jobID string, stepIndex int) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT result_uris FROM work_items
		WHERE job_id=$1 AND step_index=$2 AND status='successful'
		ORDER BY sort_index ASC`, jobID, stepIndex)
	if err != nil {
		return nil, apperrors.Server(err, "failed to list successful outputs for step %d of job %s", stepIndex, jobID)
	}
	defer rows.Close()

	var all []string
	for rows.Next() {
		var uris []string
		if err := rows.Scan(&uris); err != nil {
			return nil, apperrors.Server(err, "failed to scan successful outputs")
		}
		all = append(all, uris...)
	}
	return all, nil
}

// GetItem reads one work item by ID without locking.
func (s *Store) GetItem(ctx context.Context, itemID int64) (*models.WorkItem, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, job_id, step_index, service_image, status, retry_count, stac_catalog_location,
			result_uris, output_item_sizes, sort_index, error_message, started_at, leased_until, updated_at
		FROM work_items WHERE id=$1`, itemID)
	item, err := scanWorkItem(row)
	if err == pgx.ErrNoRows {
		return nil, apperrors.Validation("work item %d not found", itemID)
	}
	if err != nil {
		return nil, apperrors.Server(err, "failed to read work item %d", itemID)
	}
	return item, nil
}

// ListExpiredLeases returns up to limit running items whose lease expired
// before now (§4.5 Lease Reaper input set).
func (s *Store) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]models.WorkItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, job_id, step_index, service_image, status, retry_count, stac_catalog_location,
			result_uris, output_item_sizes, sort_index, error_message, started_at, leased_until, updated_at
		FROM work_items
		WHERE status = 'running' AND leased_until < $1
		ORDER BY leased_until ASC
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, apperrors.Server(err, "failed to list expired leases")
	}
	defer rows.Close()

	var items []models.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, apperrors.Server(err, "failed to scan expired lease")
		}
		items = append(items, *item)
	}
	return items, nil
}

func scanWorkItem(row interface{ Scan(...any) error }) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := row.Scan(&item.ID, &item.JobID, &item.StepIndex, &item.ServiceImage, &item.Status,
		&item.RetryCount, &item.StacCatalogLocation, &item.ResultURIs, &item.OutputItemSizes,
		&item.SortIndex, &item.ErrorMessage, &item.StartedAt, &item.LeasedUntil, &item.UpdatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

// upsertUserWorkDelta adjusts UserWork(owner, serviceImage) by
// (readyDelta, runningDelta), creating the row if absent, and optionally
// stamping lastWorkedAt = now (on lease).
func upsertUserWorkDelta(ctx context.Context, tx pgx.Tx, owner, serviceImage string, readyDelta, runningDelta int, touchLastWorked bool) error {
	if touchLastWorked {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_work (owner, service_image, ready_count, running_count, last_worked_at)
			VALUES ($1,$2, GREATEST($3,0), GREATEST($4,0), now())
			ON CONFLICT (owner, service_image) DO UPDATE SET
				ready_count = GREATEST(user_work.ready_count + $3, 0),
				running_count = GREATEST(user_work.running_count + $4, 0),
				last_worked_at = now()`,
			owner, serviceImage, readyDelta, runningDelta)
		return err
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO user_work (owner, service_image, ready_count, running_count, last_worked_at)
		VALUES ($1,$2, GREATEST($3,0), GREATEST($4,0), 'epoch')
		ON CONFLICT (owner, service_image) DO UPDATE SET
			ready_count = GREATEST(user_work.ready_count + $3, 0),
			running_count = GREATEST(user_work.running_count + $4, 0)`,
		owner, serviceImage, readyDelta, runningDelta)
	return err
}
