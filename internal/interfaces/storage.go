// Package interfaces collects the collaborator contracts the core depends
// on but does not implement itself — the catalog-metadata client, the
// object store, the metadata cache, and the completion-signal broker are
// all named as out-of-scope or cross-cutting collaborators in spec.md §1;
// expressing them as interfaces here lets the core packages (planner,
// pool, dispatcher, progress, reaper) depend on behaviour, not on the
// concrete postgres/objectstore/cache packages.
package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/quaero/internal/models"
)

// JobStore is the transactional store of Job rows (§3 Job entity, §4.4
// control-plane operations).
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, jobID string) (*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	// WithJobLock runs fn with the job row locked for the duration of one
	// transaction (§5: "operations on a single job are serialised via
	// row-level locks on the Job row"), persisting whatever fn mutates on
	// the job pointer once fn returns without error.
	WithJobLock(ctx context.Context, jobID string, fn func(ctx context.Context, job *models.Job) error) error
	AppendJobLink(ctx context.Context, link *models.JobLink) error
	ListJobLinks(ctx context.Context, jobID string) ([]models.JobLink, error)
	RecordJobError(ctx context.Context, jobErr *models.JobError) error
	ListJobErrors(ctx context.Context, jobID string) ([]models.JobError, error)
	AddLabels(ctx context.Context, jobID string, labels []string) error
	RemoveLabel(ctx context.Context, jobID string, label string) error
	ListLabels(ctx context.Context, jobID string) ([]string, error)
}

// StepStore is the transactional store of WorkflowStep rows (§3 WorkflowStep
// entity).
type StepStore interface {
	CreateSteps(ctx context.Context, steps []models.WorkflowStep) error
	GetStep(ctx context.Context, jobID string, stepIndex int) (*models.WorkflowStep, error)
	ListSteps(ctx context.Context, jobID string) ([]models.WorkflowStep, error)
	IncrementCompletedCount(ctx context.Context, jobID string, stepIndex int, delta int) error
	IncrementWorkItemCount(ctx context.Context, jobID string, stepIndex int, delta int) error
}

// Pool is the transactional Work-Item Pool of §4.2: insert, lease,
// complete, requeue, cancelAllForJob, each atomic per the spec's naming.
type Pool interface {
	Insert(ctx context.Context, item *models.WorkItem) error
	Lease(ctx context.Context, serviceImage string, visibilityTimeout time.Duration) (*models.WorkItem, error)
	Complete(ctx context.Context, itemID int64, outcome models.WorkItemStatus, resultURIs []string, outputSizes []int64, errorMessage string) (*models.WorkItem, error)
	Requeue(ctx context.Context, itemID int64, retryLimit int, readyNotBefore time.Time) error
	CancelAllForJob(ctx context.Context, jobID string) error
	GetItem(ctx context.Context, itemID int64) (*models.WorkItem, error)
	ListExpiredLeases(ctx context.Context, now time.Time, limit int) ([]models.WorkItem, error)
	// ListSuccessfulOutputs returns the flattened, sortIndex-ordered result
	// URIs of every successful item of (jobID, stepIndex) — the input set
	// an aggregating next step unions into one logical input (§4.4.b).
	ListSuccessfulOutputs(ctx context.Context, jobID string, stepIndex int) ([]string, error)
}

// UserWorkStore maintains the materialised per-(owner, serviceImage) view
// the Dispatcher selects against (§3 UserWork entity).
type UserWorkStore interface {
	Get(ctx context.Context, owner, serviceImage string) (*models.UserWork, error)
	TouchLastWorkedAt(ctx context.Context, owner, serviceImage string, at time.Time) error
}

// ObjectStore is the blob store used for stored query parameters, STAC
// catalog fragments, and output items, keyed by (jobID, itemID, filename)
// per §5. The core never parses a value it reads back — only writes and
// reads opaque bytes.
type ObjectStore interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Delete(key string) error
	DeletePrefix(prefix string) error
}

// MetadataCache is the process-wide catalog-metadata cache of §5/§9:
// single-flight coalesced and TTL-bounded. It is not byte-capped.
type MetadataCache interface {
	Get(key string, fetch func() ([]byte, error)) ([]byte, error)
	Invalidate(key string) error
}

// CompletionBroker publishes the one-shot per-job terminal signal a
// synchronous job's HTTP handler blocks on (§4.4, §9). Modeled as a
// narrowed, single-event specialisation of the teacher's pub/sub
// EventService pattern rather than a general event bus, since the core
// needs exactly one signal per job, published at most once.
type CompletionBroker interface {
	// Await blocks until jobID's terminal signal fires, ctx is canceled, or
	// the deadline in ctx is reached, whichever first. Returns the job's
	// terminal status.
	Await(ctx context.Context, jobID string) (models.JobStatus, error)
	// Publish fires jobID's terminal signal exactly once; subsequent calls
	// for the same jobID are no-ops.
	Publish(jobID string, status models.JobStatus)
}
