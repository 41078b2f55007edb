package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/models"
)

// CreateJob inserts a new job row. Called by the Planner once it has
// computed the job's initial status and granule count.
func (s *Store) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO jobs (job_id, owner, status, progress, message, request,
			num_input_granules, ignore_errors, is_synchronous, created_at,
			updated_at, terminal_reason, destination_url, preview_skipped)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		job.JobID, job.Owner, job.Status, job.Progress, job.Message, job.Request,
		job.NumInputGranules, job.IgnoreErrors, job.IsSynchronous, job.CreatedAt,
		job.UpdatedAt, job.TerminalReason, job.DestinationURL, job.PreviewSkipped,
	)
	if err != nil {
		return apperrors.Server(err, "failed to create job %s", job.JobID)
	}
	return nil
}

// GetJob reads one job row by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	row := s.db.QueryRow(ctx, `
		SELECT job_id, owner, status, progress, message, request, num_input_granules,
			ignore_errors, is_synchronous, created_at, updated_at, terminal_reason,
			destination_url, preview_skipped
		FROM jobs WHERE job_id = $1`, jobID)

	var job models.Job
	err := row.Scan(&job.JobID, &job.Owner, &job.Status, &job.Progress, &job.Message,
		&job.Request, &job.NumInputGranules, &job.IgnoreErrors, &job.IsSynchronous,
		&job.CreatedAt, &job.UpdatedAt, &job.TerminalReason, &job.DestinationURL,
		&job.PreviewSkipped)
	if err == pgx.ErrNoRows {
		return nil, apperrors.Validation("job %s not found", jobID)
	}
	if err != nil {
		return nil, apperrors.Server(err, "failed to read job %s", jobID)
	}
	return &job, nil
}

// UpdateJob persists every mutable field of job. Callers (the progress
// engine, control-plane operations) are responsible for row-level
// serialisation — see WithJobLock.
func (s *Store) UpdateJob(ctx context.Context, job *models.Job) error {
	_, err := s.db.Exec(ctx, `
		UPDATE jobs SET status=$2, progress=$3, message=$4, ignore_errors=$5,
			updated_at=$6, terminal_reason=$7, destination_url=$8, preview_skipped=$9
		WHERE job_id=$1`,
		job.JobID, job.Status, job.Progress, job.Message, job.IgnoreErrors,
		job.UpdatedAt, job.TerminalReason, job.DestinationURL, job.PreviewSkipped,
	)
	if err != nil {
		return apperrors.Server(err, "failed to update job %s", job.JobID)
	}
	return nil
}

// WithJobLock runs fn with the job row locked FOR UPDATE for the duration
// of a single transaction, serialising concurrent operations against the
// same job per §5's "per-job: operations on a single job are serialised
// via row-level locks" ordering guarantee.
func (s *Store) WithJobLock(ctx context.Context, jobID string, fn func(ctx context.Context, job *models.Job) error) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperrors.Server(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT job_id, owner, status, progress, message, request, num_input_granules,
			ignore_errors, is_synchronous, created_at, updated_at, terminal_reason,
			destination_url, preview_skipped
		FROM jobs WHERE job_id = $1 FOR UPDATE`, jobID)

	var job models.Job
	err = row.Scan(&job.JobID, &job.Owner, &job.Status, &job.Progress, &job.Message,
		&job.Request, &job.NumInputGranules, &job.IgnoreErrors, &job.IsSynchronous,
		&job.CreatedAt, &job.UpdatedAt, &job.TerminalReason, &job.DestinationURL,
		&job.PreviewSkipped)
	if err == pgx.ErrNoRows {
		return apperrors.Validation("job %s not found", jobID)
	}
	if err != nil {
		return apperrors.Server(err, "failed to lock job %s", jobID)
	}

	if err := fn(ctx, &job); err != nil {
		return err
	}

	job.UpdatedAt = time.Now()
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status=$2, progress=$3, message=$4, ignore_errors=$5,
			updated_at=$6, terminal_reason=$7, destination_url=$8, preview_skipped=$9
		WHERE job_id=$1`,
		job.JobID, job.Status, job.Progress, job.Message, job.IgnoreErrors,
		job.UpdatedAt, job.TerminalReason, job.DestinationURL, job.PreviewSkipped,
	)
	if err != nil {
		return apperrors.Server(err, "failed to persist job %s", jobID)
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Server(err, "failed to commit job %s transaction", jobID)
	}
	return nil
}

// AppendJobLink appends one output descriptor to jobID's link list,
// preserving append order via a computed position.
func (s *Store) AppendJobLink(ctx context.Context, link *models.JobLink) error {
	var bbox []float64
	if link.BBox != nil {
		bbox = link.BBox
	}
	var start, end *string
	if link.Temporal != nil {
		if link.Temporal.Start != "" {
			start = &link.Temporal.Start
		}
		if link.Temporal.End != "" {
			end = &link.Temporal.End
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO job_links (job_id, position, href, rel, type, bbox, temporal_start, temporal_end)
		VALUES ($1, (SELECT COALESCE(MAX(position)+1, 0) FROM job_links WHERE job_id=$1), $2,$3,$4,$5,$6,$7)`,
		link.JobID, link.Href, link.Rel, link.Type, bbox, start, end,
	)
	if err != nil {
		return apperrors.Server(err, "failed to append job link for %s", link.JobID)
	}
	return nil
}

// ListJobLinks returns jobID's links in append order.
func (s *Store) ListJobLinks(ctx context.Context, jobID string) ([]models.JobLink, error) {
	rows, err := s.db.Query(ctx, `
		SELECT job_id, position, href, rel, type, bbox, temporal_start, temporal_end
		FROM job_links WHERE job_id=$1 ORDER BY position ASC`, jobID)
	if err != nil {
		return nil, apperrors.Server(err, "failed to list job links for %s", jobID)
	}
	defer rows.Close()

	var links []models.JobLink
	for rows.Next() {
		var link models.JobLink
		var start, end *string
		if err := rows.Scan(&link.JobID, &link.Position, &link.Href, &link.Rel, &link.Type,
			&link.BBox, &start, &end); err != nil {
			return nil, apperrors.Server(err, "failed to scan job link")
		}
		if start != nil || end != nil {
			link.Temporal = &models.TemporalExtent{}
			if start != nil {
				link.Temporal.Start = *start
			}
			if end != nil {
				link.Temporal.End = *end
			}
		}
		links = append(links, link)
	}
	return links, nil
}

// RecordJobError appends one permanent item-failure row (see
// SPEC_FULL.md Supplemented Features: job error accumulation).
func (s *Store) RecordJobError(ctx context.Context, jobErr *models.JobError) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO job_errors (job_id, item_id, url, message) VALUES ($1,$2,$3,$4)`,
		jobErr.JobID, jobErr.ItemID, jobErr.URL, jobErr.Message,
	)
	if err != nil {
		return apperrors.Server(err, "failed to record job error for %s", jobErr.JobID)
	}
	return nil
}

// ListJobErrors returns every accumulated permanent failure for jobID.
func (s *Store) ListJobErrors(ctx context.Context, jobID string) ([]models.JobError, error) {
	rows, err := s.db.Query(ctx, `
		SELECT job_id, item_id, url, message FROM job_errors WHERE job_id=$1 ORDER BY id ASC`, jobID)
	if err != nil {
		return nil, apperrors.Server(err, "failed to list job errors for %s", jobID)
	}
	defer rows.Close()

	var errs []models.JobError
	for rows.Next() {
		var e models.JobError
		if err := rows.Scan(&e.JobID, &e.ItemID, &e.URL, &e.Message); err != nil {
			return nil, apperrors.Server(err, "failed to scan job error")
		}
		errs = append(errs, e)
	}
	return errs, nil
}

// AddLabels normalizes (lowercase, trim), dedupes, and attaches labels to
// jobID via the raw_labels / jobs_raw_labels join tables (§6).
func (s *Store) AddLabels(ctx context.Context, jobID string, labels []string) error {
	normalized := models.NormalizeLabels(labels)
	if len(normalized) == 0 {
		return nil
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return apperrors.Server(err, "failed to begin label transaction")
	}
	defer tx.Rollback(ctx)

	for _, value := range normalized {
		var labelID int64
		err := tx.QueryRow(ctx, `
			INSERT INTO raw_labels (value) VALUES ($1)
			ON CONFLICT (value) DO UPDATE SET value = EXCLUDED.value
			RETURNING id`, value).Scan(&labelID)
		if err != nil {
			return apperrors.Server(err, "failed to upsert label %q", value)
		}

		_, err = tx.Exec(ctx, `
			INSERT INTO jobs_raw_labels (job_id, label_id) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, jobID, labelID)
		if err != nil {
			return apperrors.Server(err, "failed to attach label %q to job %s", value, jobID)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Server(err, "failed to commit label transaction")
	}
	return nil
}

// RemoveLabel detaches label from jobID, if attached.
func (s *Store) RemoveLabel(ctx context.Context, jobID string, label string) error {
	normalized := models.NormalizeLabel(label)
	_, err := s.db.Exec(ctx, `
		DELETE FROM jobs_raw_labels
		WHERE job_id = $1 AND label_id = (SELECT id FROM raw_labels WHERE value = $2)`,
		jobID, normalized)
	if err != nil {
		return apperrors.Server(err, "failed to remove label %q from job %s", label, jobID)
	}
	return nil
}

// ListLabels returns jobID's labels sorted lexicographically (§6: labels
// are normalized, sorted, deduplicated).
func (s *Store) ListLabels(ctx context.Context, jobID string) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		SELECT rl.value FROM raw_labels rl
		JOIN jobs_raw_labels jrl ON jrl.label_id = rl.id
		WHERE jrl.job_id = $1 ORDER BY rl.value ASC`, jobID)
	if err != nil {
		return nil, apperrors.Server(err, "failed to list labels for job %s", jobID)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			return nil, apperrors.Server(err, "failed to scan label")
		}
		labels = append(labels, value)
	}
	return labels, nil
}
