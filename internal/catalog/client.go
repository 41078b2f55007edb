// Package catalog provides the in-scope half of the catalog-metadata
// boundary: a circuit-breaker-wrapped HTTP client satisfying
// interfaces.CatalogClient, and the STAC catalog-fragment construction and
// paging logic the Progress Engine uses to build aggregated inputs (§4.4).
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"
	"github.com/ternarybob/arbor"

	apperrors "github.com/ternarybob/quaero/internal/errors"
	"github.com/ternarybob/quaero/internal/httpclient"
	"github.com/ternarybob/quaero/internal/interfaces"
)

// Client resolves collection/variable/service metadata over HTTP from the
// upstream catalog, wrapped in a circuit breaker (grounded on
// jordigilh-kubernaut's use of sony/gobreaker around its own external
// calls) so repeated 5xx responses trip the breaker instead of being
// retried indefinitely by the core.
type Client struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	maxPageSize int
	logger     arbor.ILogger
}

// Config configures the catalog client's resilience behaviour.
type Config struct {
	BaseURL            string
	RequestTimeout     time.Duration
	MaxPageSize        int
	BreakerMaxFailures uint32
	BreakerOpenTimeout time.Duration
}

// NewClient constructs a Client with a breaker named after the catalog
// endpoint, tripping after BreakerMaxFailures consecutive failures and
// staying open for BreakerOpenTimeout before allowing a probe request.
func NewClient(cfg Config, logger arbor.ILogger) *Client {
	settings := gobreaker.Settings{
		Name:    "catalog-metadata-client",
		Timeout: cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("catalog client circuit breaker state change")
		},
	}

	return &Client{
		baseURL:     cfg.BaseURL,
		httpClient:  httpclient.NewDefaultHTTPClient(cfg.RequestTimeout),
		breaker:     gobreaker.NewCircuitBreaker(settings),
		maxPageSize: cfg.MaxPageSize,
		logger:      logger,
	}
}

// ResolveCollection implements interfaces.CatalogClient.
func (c *Client) ResolveCollection(ctx context.Context, collectionID string, params map[string]string) (*interfaces.CatalogCollection, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		return c.doResolve(ctx, collectionID, params)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, apperrors.Upstream(err, "catalog client breaker open for collection %s", collectionID)
		}
		if apperrors.KindOf(err) == apperrors.KindRequestValidation {
			return nil, err
		}
		return nil, apperrors.Upstream(err, "failed to resolve collection %s", collectionID)
	}
	return result.(*interfaces.CatalogCollection), nil
}

func (c *Client) doResolve(ctx context.Context, collectionID string, params map[string]string) (*interfaces.CatalogCollection, error) {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	q.Set("page_size", fmt.Sprintf("%d", c.maxPageSize))

	reqURL := fmt.Sprintf("%s/collections/%s?%s", c.baseURL, collectionID, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("building catalog request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("catalog request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("catalog returned %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return nil, apperrors.Validation("catalog rejected request with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading catalog response: %w", err)
	}

	var collection interfaces.CatalogCollection
	if err := json.Unmarshal(body, &collection); err != nil {
		return nil, fmt.Errorf("decoding catalog response: %w", err)
	}
	return &collection, nil
}
