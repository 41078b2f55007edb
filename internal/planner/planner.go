// Package planner implements the Workflow Planner of §4.1: from a
// resolved catalog entry and request parameters it builds a job's
// WorkflowSteps, seeds the Pool with the first step's single WorkItem, and
// computes the job's initial status.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ternarybob/arbor"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/pool"
)

// Request is the in-scope shape of a validated transformation request —
// the HTTP ingest layer that parses and validates the wire request is an
// out-of-scope collaborator per §1; this is what it hands the Planner.
type Request struct {
	Owner                  string
	OriginURI              string
	CollectionID           string
	ExplicitGranuleID      string // set when the request names exactly one granule
	RequestedGranuleLimit  int    // 0 means "no caller-supplied limit"
	IgnoreErrors           bool
	Query                  map[string]string // passed through to the catalog resolver and stored as the query payload
}

// Planner is the Workflow Planner component.
type Planner struct {
	catalog          interfaces.CatalogClient
	jobs             interfaces.JobStore
	steps            interfaces.StepStore
	objectStore      interfaces.ObjectStore
	pool             *pool.Pool
	maxGranuleLimit  int
	previewThreshold int
	logger           arbor.ILogger
}

// New constructs a Planner.
func New(catalog interfaces.CatalogClient, jobs interfaces.JobStore, steps interfaces.StepStore, objectStore interfaces.ObjectStore, pool *pool.Pool, maxGranuleLimit, previewThreshold int, logger arbor.ILogger) *Planner {
	return &Planner{
		catalog:          catalog,
		jobs:             jobs,
		steps:            steps,
		objectStore:      objectStore,
		pool:             pool,
		maxGranuleLimit:  maxGranuleLimit,
		previewThreshold: previewThreshold,
		logger:           logger,
	}
}

// Plan resolves the catalog entry, decomposes req into a Job plus its
// WorkflowSteps, and seeds the Pool with the first step's single WorkItem
// (§4.1). It returns the newly created job.
func (p *Planner) Plan(ctx context.Context, req Request) (*models.Job, error) {
	if req.CollectionID == "" {
		return nil, apperrors.Validation("request must target a collection")
	}

	collection, err := p.catalog.ResolveCollection(ctx, req.CollectionID, req.Query)
	if err != nil {
		return nil, err
	}

	numInputGranules, advisory := computeNumInputGranules(req.RequestedGranuleLimit, collection.PerCollectionLimit, collection.ServiceGlobalLimit, p.maxGranuleLimit, collection.GranuleHits)
	if numInputGranules == 0 {
		return nil, apperrors.Validation("request resolves to zero input granules")
	}

	isSynchronous := req.ExplicitGranuleID != "" && numInputGranules == 1 && !collection.ForceAsync

	job := &models.Job{
		JobID:            uuid.NewString(),
		Owner:            req.Owner,
		Status:           models.JobAccepted,
		Request:          req.OriginURI,
		NumInputGranules: numInputGranules,
		IgnoreErrors:     req.IgnoreErrors,
		IsSynchronous:    isSynchronous,
		CreatedAt:        time.Now(),
		UpdatedAt:        time.Now(),
		Message:          advisory,
		CollectionIDs:    []string{req.CollectionID},
	}
	job.Status = computeInitialStatus(isSynchronous, numInputGranules, p.previewThreshold)

	if err := job.Validate(); err != nil {
		return nil, apperrors.Validation("%v", err)
	}

	steps := buildSteps(job.JobID, collection.Pipeline)

	queryPayload, err := json.Marshal(req.Query)
	if err != nil {
		return nil, apperrors.Server(err, "failed to marshal query payload for job %s", job.JobID)
	}
	queryKey := fmt.Sprintf("%s/query.json", job.JobID)
	if err := p.objectStore.Put(queryKey, queryPayload); err != nil {
		return nil, apperrors.Server(err, "failed to store query payload for job %s", job.JobID)
	}

	if err := p.jobs.CreateJob(ctx, job); err != nil {
		return nil, err
	}
	if err := p.steps.CreateSteps(ctx, steps); err != nil {
		return nil, err
	}

	seed := &models.WorkItem{
		JobID:               job.JobID,
		StepIndex:           1,
		ServiceImage:        steps[0].ServiceImage,
		StacCatalogLocation: queryKey,
		SortIndex:           0,
	}
	if err := p.pool.Insert(ctx, seed); err != nil {
		return nil, err
	}
	if err := p.steps.IncrementWorkItemCount(ctx, job.JobID, 1, 1); err != nil {
		return nil, err
	}

	p.logger.Info().Str("job_id", job.JobID).Str("owner", job.Owner).Int("num_input_granules", numInputGranules).
		Bool("is_synchronous", isSynchronous).Msg("job planned")
	return job, nil
}

// computeNumInputGranules implements §4.1's min-of-limits rule, returning
// an advisory message naming the binding limit (empty if the requested
// count itself won).
func computeNumInputGranules(requested, perCollection, serviceGlobal, systemGlobal, granuleHits int) (int, string) {
	n := granuleHits
	if requested > 0 && requested < n {
		n = requested
	}
	binding := ""
	if perCollection > 0 && perCollection < n {
		n = perCollection
		binding = "per-collection limit"
	}
	if serviceGlobal > 0 && serviceGlobal < n {
		n = serviceGlobal
		binding = "service-global limit"
	}
	if systemGlobal > 0 && systemGlobal < n {
		n = systemGlobal
		binding = "system-global limit"
	}
	if binding == "" {
		return n, ""
	}
	return n, fmt.Sprintf("granule count capped by %s to %d", binding, n)
}

// computeInitialStatus implements §4.1's initial-status rule: synchronous
// jobs and preview-threshold-exceeded asynchronous jobs start as
// previewing; all others start running.
func computeInitialStatus(isSynchronous bool, numInputGranules, previewThreshold int) models.JobStatus {
	if isSynchronous {
		return models.JobPreviewing
	}
	if previewThreshold > 0 && numInputGranules > previewThreshold {
		return models.JobPreviewing
	}
	return models.JobRunning
}

// buildSteps emits the always-sequential catalog-query first step followed
// by one WorkflowStep per pipeline entry, distributing any unassigned
// progress weight uniformly across steps that did not declare one so the
// weights still sum to 1 (§4.1).
func buildSteps(jobID string, pipeline []interfaces.PipelineStep) []models.WorkflowStep {
	steps := make([]models.WorkflowStep, 0, len(pipeline)+1)
	steps = append(steps, models.WorkflowStep{
		JobID:        jobID,
		StepIndex:    1,
		ServiceImage: "catalog-query",
		IsSequential: true,
	})
	for i, pstep := range pipeline {
		steps = append(steps, models.WorkflowStep{
			JobID:               jobID,
			StepIndex:           i + 2,
			ServiceImage:        pstep.ServiceImage,
			HasAggregatedOutput: pstep.HasAggregatedOutput,
			ProgressWeight:      pstep.ProgressWeight,
			Operations:          operationsOf(pstep.Operations),
		})
	}

	var assigned float64
	unassigned := 0
	for _, s := range steps {
		if s.ProgressWeight > 0 {
			assigned += s.ProgressWeight
		} else {
			unassigned++
		}
	}
	if unassigned > 0 {
		share := (1 - assigned) / float64(unassigned)
		if share < 0 {
			share = 0
		}
		for i := range steps {
			if steps[i].ProgressWeight == 0 {
				steps[i].ProgressWeight = share
			}
		}
	}
	return steps
}

func operationsOf(names []string) []models.Operation {
	ops := make([]models.Operation, 0, len(names))
	for _, n := range names {
		ops = append(ops, models.Operation(n))
	}
	return ops
}
