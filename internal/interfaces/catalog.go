package interfaces

import "context"

// PipelineStep is one entry in a service's declared processing pipeline
// (§4.1 "subsequent steps mirror the service's declared pipeline").
type PipelineStep struct {
	ServiceImage        string
	Operations          []string
	HasAggregatedOutput bool
	ProgressWeight      float64 // 0 means "distribute remaining weight uniformly"
}

// CatalogCollection describes the resolved service-catalog entry the
// Planner consults: granule hits for the request's target collection, the
// per-collection and service-global granule limits, the variable and
// visualization associations bound to it, and the service's declared
// processing pipeline. The catalog-metadata client itself (and its wire
// format) is an out-of-scope collaborator per §1; this struct is the
// in-scope shape the Planner reads.
type CatalogCollection struct {
	CollectionID       string
	GranuleHits        int
	PerCollectionLimit int // 0 means unset (no per-collection cap)
	ServiceGlobalLimit int // 0 means unset (no service-global cap)
	Variables          []string
	Visualizations     []string
	Pipeline           []PipelineStep // ordered, excludes the implicit catalog-query first step
	ForceAsync         bool
}

// CatalogClient resolves datasets, variables and services — the out-of-scope
// collaborator named in §1. The Planner depends on this interface only; the
// concrete implementation (internal/catalog) wraps the real HTTP call in a
// circuit breaker so that UpstreamUnavailable failures (§7) stop hammering
// an already-failing catalog service.
type CatalogClient interface {
	ResolveCollection(ctx context.Context, collectionID string, params map[string]string) (*CatalogCollection, error)
}
