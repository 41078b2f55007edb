// Package pool implements the Work-Item Pool of §4.2: a thin domain layer
// over interfaces.Pool (backed by internal/postgres) that injects the
// operator-configured retry limit and visibility timeout the raw store
// methods need but don't own, and logs each transition the way the
// teacher's queue package logs dispatch/completion events.
package pool

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/metrics"
	"github.com/ternarybob/quaero/internal/models"
)

// Pool is the Work-Item Pool component.
type Pool struct {
	store             interfaces.Pool
	logger            arbor.ILogger
	retryLimit        int
	visibilityTimeout time.Duration
	jitterMax         time.Duration
}

// New constructs a Pool.
func New(store interfaces.Pool, logger arbor.ILogger, retryLimit int, visibilityTimeout, jitterMax time.Duration) *Pool {
	return &Pool{
		store:             store,
		logger:            logger,
		retryLimit:        retryLimit,
		visibilityTimeout: visibilityTimeout,
		jitterMax:         jitterMax,
	}
}

// Insert creates a new ready WorkItem (§4.2 insert).
func (p *Pool) Insert(ctx context.Context, item *models.WorkItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if err := p.store.Insert(ctx, item); err != nil {
		return err
	}
	p.logger.Debug().Str("job_id", item.JobID).Int("step_index", item.StepIndex).Int64("item_id", item.ID).
		Msg("work item inserted")
	return nil
}

// Lease atomically picks the best ready item for serviceImage per the
// Dispatcher's fair-queueing policy and leases it (§4.2 lease).
func (p *Pool) Lease(ctx context.Context, serviceImage string) (*models.WorkItem, error) {
	item, err := p.store.Lease(ctx, serviceImage, p.visibilityTimeout)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}
	p.logger.Debug().Str("job_id", item.JobID).Int64("item_id", item.ID).Str("service_image", serviceImage).
		Msg("work item leased")
	metrics.WorkItemsLeased.WithLabelValues(serviceImage).Inc()
	return item, nil
}

// Complete records a terminal outcome for itemID (§4.2 complete).
func (p *Pool) Complete(ctx context.Context, itemID int64, outcome models.WorkItemStatus, resultURIs []string, outputSizes []int64, errorMessage string) (*models.WorkItem, error) {
	item, err := p.store.Complete(ctx, itemID, outcome, resultURIs, outputSizes, errorMessage)
	if err != nil {
		return nil, err
	}
	p.logger.Debug().Int64("item_id", itemID).Str("outcome", string(outcome)).Msg("work item completed")
	metrics.WorkItemsCompleted.WithLabelValues(string(outcome)).Inc()
	return item, nil
}

// RequeueOnFailure clears the lease and bumps retryCount, staggering the
// item's re-ready visibility by a random jitter in [0, jitterMax] to avoid
// a thundering herd of simultaneously-expired leases (see SPEC_FULL.md
// Supplemented Features: retry jitter). Returns false if the item has
// exhausted its retry limit and must instead be routed through the
// permanent-failure path.
func (p *Pool) RequeueOnFailure(ctx context.Context, itemID int64, retryCount int) (bool, error) {
	if retryCount >= p.retryLimit {
		return false, nil
	}

	readyAt := time.Now()
	if p.jitterMax > 0 {
		readyAt = readyAt.Add(time.Duration(rand.Int63n(int64(p.jitterMax) + 1)))
	}

	if err := p.store.Requeue(ctx, itemID, p.retryLimit, readyAt); err != nil {
		return false, err
	}
	p.logger.Debug().Int64("item_id", itemID).Time("ready_not_before", readyAt).Msg("work item requeued")
	metrics.WorkItemsRequeued.Inc()
	return true, nil
}

// CancelAllForJob transitions every non-terminal item of jobID to canceled
// (§4.2 cancelAllForJob).
func (p *Pool) CancelAllForJob(ctx context.Context, jobID string) error {
	if err := p.store.CancelAllForJob(ctx, jobID); err != nil {
		return err
	}
	p.logger.Debug().Str("job_id", jobID).Msg("all work items canceled for job")
	return nil
}

// GetItem reads one item by ID.
func (p *Pool) GetItem(ctx context.Context, itemID int64) (*models.WorkItem, error) {
	return p.store.GetItem(ctx, itemID)
}

// ListSuccessfulOutputs returns the flattened, ordered result URIs of
// every successful item of (jobID, stepIndex).
func (p *Pool) ListSuccessfulOutputs(ctx context.Context, jobID string, stepIndex int) ([]string, error) {
	return p.store.ListSuccessfulOutputs(ctx, jobID, stepIndex)
}

// ListExpiredLeases returns up to limit running items whose lease expired
// before now, for the Lease Reaper to reclaim (§4.5).
func (p *Pool) ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]models.WorkItem, error) {
	return p.store.ListExpiredLeases(ctx, now, limit)
}

// RetryLimit returns the configured retry limit, exposed so callers
// (the Progress Engine) can decide whether a given retryCount is exhausted
// without duplicating the configuration value.
func (p *Pool) RetryLimit() int {
	return p.retryLimit
}
