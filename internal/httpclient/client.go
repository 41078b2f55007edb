package httpclient

import (
	"net/http"
	"time"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout, the
// same idiom the rest of the core uses wherever it needs a plain client
// (kept as the base constructor the catalog client builds on).
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}
