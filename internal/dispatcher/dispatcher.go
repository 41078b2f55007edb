// Package dispatcher implements the Dispatcher of §4.3: on a worker pull
// for a serviceImage, lease the next item per the fair-queueing policy and
// assemble the payload (operation + input catalog) the worker needs to
// execute it.
package dispatcher

import (
	"context"

	"github.com/ternarybob/arbor"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/models"
	"github.com/ternarybob/quaero/internal/pool"
)

// Payload is the worker-facing response to GET /work (§6): the leased
// item, its step's operation template, the input catalog fragment it
// points to, and the catalog-query page size for the first (sequential
// catalog-query) step.
type Payload struct {
	WorkItem          *models.WorkItem
	OperationTemplate string
	InputCatalog      []byte
	MaxCmrGranules    *int
}

// Dispatcher is the Dispatcher component.
type Dispatcher struct {
	pool        *pool.Pool
	steps       interfaces.StepStore
	objectStore interfaces.ObjectStore
	cmrPageSize int
	logger      arbor.ILogger
}

// New constructs a Dispatcher.
func New(pool *pool.Pool, steps interfaces.StepStore, objectStore interfaces.ObjectStore, cmrPageSize int, logger arbor.ILogger) *Dispatcher {
	return &Dispatcher{pool: pool, steps: steps, objectStore: objectStore, cmrPageSize: cmrPageSize, logger: logger}
}

// Dispatch leases the next ready item for serviceImage and assembles its
// worker-facing payload. Returns (nil, nil) when there is no work
// available — the boundary maps that to HTTP 404 per §6.
func (d *Dispatcher) Dispatch(ctx context.Context, serviceImage string) (*Payload, error) {
	item, err := d.pool.Lease(ctx, serviceImage)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, nil
	}

	step, err := d.steps.GetStep(ctx, item.JobID, item.StepIndex)
	if err != nil {
		return nil, err
	}

	var catalog []byte
	if item.StacCatalogLocation != "" {
		catalog, err = d.objectStore.Get(item.StacCatalogLocation)
		if err != nil {
			return nil, apperrors.Server(err, "failed to read input catalog for item %d", item.ID)
		}
	}

	payload := &Payload{
		WorkItem:          item,
		OperationTemplate: step.OperationTemplate,
		InputCatalog:      catalog,
	}
	if step.StepIndex == 1 {
		maxGranules := d.cmrPageSize
		payload.MaxCmrGranules = &maxGranules
	}

	d.logger.Debug().Str("job_id", item.JobID).Int64("item_id", item.ID).Str("service_image", serviceImage).
		Msg("dispatched work item")

	return payload, nil
}
