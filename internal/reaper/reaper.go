// Package reaper implements the Lease Reaper of §4.5: a periodic sweep
// that reclaims work items whose lease expired without a worker report,
// grounded on the teacher's staleJobDetectorLoop ticker pattern.
package reaper

import (
	"context"
	"math/rand"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/quaero/internal/metrics"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/pool"
	"github.com/ternarybob/quaero/internal/progress"
)

// Reaper periodically reclaims work items whose worker went silent past
// its lease deadline (§4.5). A reclaimed item is either requeued (under
// the retry limit) or routed to the same permanent-failure path a worker's
// own failure report would take.
type Reaper struct {
	pool     *pool.Pool
	progress *progress.Engine
	interval time.Duration
	jitter   time.Duration
	batch    int
	logger   arbor.ILogger
}

// New constructs a Reaper. interval is the base tick period; jitter adds a
// random stagger before each sweep so that, with multiple orchestrator
// replicas, reaper sweeps don't all land in lockstep.
func New(pool *pool.Pool, progress *progress.Engine, interval, jitter time.Duration, batch int, logger arbor.ILogger) *Reaper {
	return &Reaper{
		pool:     pool,
		progress: progress,
		interval: interval,
		jitter:   jitter,
		batch:    batch,
		logger:   logger,
	}
}

// Run blocks sweeping on a ticker until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug().Msg("lease reaper stopping")
			return
		case <-ticker.C:
			if err := r.sweepWithJitter(ctx); err != nil {
				r.logger.Error().Err(err).Msg("lease reaper sweep failed")
			}
		}
	}
}

func (r *Reaper) sweepWithJitter(ctx context.Context) error {
	if r.jitter > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(randomJitter(r.jitter)):
		}
	}
	return r.Sweep(ctx)
}

// Sweep runs one reclamation pass: every running item whose lease expired
// is fed through the same outcome path a worker's own failure report would
// take, so retry/permanent-fail/ignoreErrors semantics stay in one place
// (the Progress Engine) rather than being duplicated here.
func (r *Reaper) Sweep(ctx context.Context) error {
	expired, err := r.pool.ListExpiredLeases(ctx, time.Now(), r.batch)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		return nil
	}

	r.logger.Debug().Int("count", len(expired)).Msg("reaping expired leases")
	for _, item := range expired {
		report := progress.Report{
			ItemID:       item.ID,
			Outcome:      models.ItemFailed,
			ErrorMessage: "lease expired without a worker report",
		}
		if err := r.progress.ReportOutcome(ctx, report); err != nil {
			r.logger.Error().Err(err).Int64("item_id", item.ID).Msg("failed to reap expired lease")
			continue
		}
		metrics.LeasesReclaimed.Inc()
	}
	return nil
}

func randomJitter(max time.Duration) time.Duration {
	return time.Duration(rand.Int63n(int64(max) + 1))
}
