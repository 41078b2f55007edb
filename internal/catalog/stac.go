package catalog

import (
	"encoding/json"
	"fmt"

	"github.com/ternarybob/quaero/internal/interfaces"
	"github.com/ternarybob/quaero/internal/objectstore"
)

// Link is one entry in a STAC catalog's links array (§6 Catalog-fragment
// format).
type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"` // "item", "prev", "next"
	Type string `json:"type,omitempty"`
}

// Fragment is the opaque JSON STAC catalog the core writes to the object
// store and hands to the next step as its input pointer. The core never
// parses a fragment's item payloads, only builds and chains fragments of
// its own outputs.
type Fragment struct {
	ID    string `json:"id"`
	Links []Link `json:"links"`
}

const (
	relItem = "item"
	relPrev = "prev"
	relNext = "next"
)

// BuildItemFragment wraps a single successful output's result URIs as the
// next step's non-aggregating input pointer (§4.4.b, non-aggregating
// branch: "insert one ready WorkItem per output STAC item").
func BuildItemFragment(id string, resultURIs []string) *Fragment {
	links := make([]Link, 0, len(resultURIs))
	for _, uri := range resultURIs {
		links = append(links, Link{Href: uri, Rel: relItem})
	}
	return &Fragment{ID: id, Links: links}
}

// BuildAggregatePages unions every successful output of the current step
// into one or more linked STAC catalog pages (§4.4.b aggregating branch,
// §8 scenarios S4/S5). If len(outputURIs) <= maxPageSize a single page is
// produced with no prev/next links; otherwise outputURIs is chunked into
// pages of at most maxPageSize items, each page linking rel=prev/rel=next
// to its neighbours, head with no prev, tail with no next.
//
// Pages are written to store under (jobID, stepIndex-as-pseudo-item,
// page-N) keys; the returned string is the object-store key of the head
// page, which becomes the new WorkItem's StacCatalogLocation.
func BuildAggregatePages(store interfaces.ObjectStore, jobID string, stepIndex, maxPageSize int, outputURIs []string) (string, error) {
	if maxPageSize <= 0 {
		maxPageSize = len(outputURIs)
		if maxPageSize == 0 {
			maxPageSize = 1
		}
	}

	var pages [][]string
	for i := 0; i < len(outputURIs); i += maxPageSize {
		end := i + maxPageSize
		if end > len(outputURIs) {
			end = len(outputURIs)
		}
		pages = append(pages, outputURIs[i:end])
	}
	if len(pages) == 0 {
		pages = [][]string{{}}
	}

	keys := make([]string, len(pages))
	for i := range pages {
		keys[i] = objectstore.Key(jobID, int64(stepIndex), fmt.Sprintf("aggregate-page-%d.json", i))
	}

	for i, pageURIs := range pages {
		fragment := &Fragment{ID: keys[i]}
		for _, uri := range pageURIs {
			fragment.Links = append(fragment.Links, Link{Href: uri, Rel: relItem})
		}
		if i > 0 {
			fragment.Links = append(fragment.Links, Link{Href: keys[i-1], Rel: relPrev})
		}
		if i < len(pages)-1 {
			fragment.Links = append(fragment.Links, Link{Href: keys[i+1], Rel: relNext})
		}

		data, err := json.Marshal(fragment)
		if err != nil {
			return "", fmt.Errorf("marshaling aggregate catalog page %d: %w", i, err)
		}
		if err := store.Put(keys[i], data); err != nil {
			return "", fmt.Errorf("storing aggregate catalog page %d: %w", i, err)
		}
	}

	return keys[0], nil
}

// StoreItemFragment marshals and persists fragment under key, returning
// the key unchanged for convenience at call sites that chain it directly
// into a WorkItem's StacCatalogLocation.
func StoreItemFragment(store interfaces.ObjectStore, key string, fragment *Fragment) (string, error) {
	data, err := json.Marshal(fragment)
	if err != nil {
		return "", fmt.Errorf("marshaling item catalog fragment: %w", err)
	}
	if err := store.Put(key, data); err != nil {
		return "", fmt.Errorf("storing item catalog fragment: %w", err)
	}
	return key, nil
}
