package models

import (
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// WorkItem represents a URL and its depth to be processed by a crawl worker
type WorkItem struct {
	URL   string
	Depth int
}

// DiscoveryMethod records how a URL entered the frontier
type DiscoveryMethod string

const (
	DiscoverySeed     DiscoveryMethod = "seed"
	DiscoveryStatic   DiscoveryMethod = "static"
	DiscoveryRendered DiscoveryMethod = "rendered"
	DiscoverySitemap  DiscoveryMethod = "sitemap"
)

// DiscoveredURL is one entry in a crawl's discovery result
type DiscoveredURL struct {
	URL    string          `json:"url"`
	Depth  int             `json:"depth"`
	Method DiscoveryMethod `json:"discovery_method"`
	Source string          `json:"source,omitempty"` // URL of the page that linked here ("" for seeds)
}

// FetchedPage holds everything one fetch attempt produced: the static
// response, the optional rendered snapshot, and timing. Immutable once
// constructed; the fetcher is the only producer.
type FetchedPage struct {
	URL        string // Canonical absolute URL after redirect resolution
	StatusCode int
	Headers    http.Header

	StaticHTML string            // Raw HTML as returned by the server
	StaticDoc  *goquery.Document // Parsed static HTML; nil on fetch failure

	RenderedHTML string            // Post-render snapshot; "" if rendering disabled/failed
	RenderedDoc  *goquery.Document // Parsed rendered HTML; nil if absent

	StaticSize   int64
	RenderedSize int64

	StaticFetchDuration   time.Duration
	RenderedFetchDuration time.Duration

	// Named numeric vitals (paint timings etc.) reported by the rendering
	// capability; opaque to the crawl/cache core.
	PerformanceMetrics map[string]float64

	FetchedAt time.Time
}

// HasStatic reports whether a static document was captured.
func (p *FetchedPage) HasStatic() bool { return p.StaticHTML != "" }

// HasRendered reports whether a rendered snapshot was captured.
func (p *FetchedPage) HasRendered() bool { return p.RenderedHTML != "" }

// CacheEntry is the persisted metadata record for one cached page. Field
// names match the on-disk metadata.json schema. The has_static/has_rendered
// flags must agree with blob presence under the entry namespace.
type CacheEntry struct {
	URL                string              `json:"url"`
	CachedAt           time.Time           `json:"cached_at"`
	StatusCode         int                 `json:"status_code"`
	ResponseHeaders    map[string][]string `json:"response_headers"`
	StaticLoadTime     float64             `json:"static_load_time"` // seconds
	RenderedLoadTime   float64             `json:"rendered_load_time,omitempty"`
	PerformanceMetrics map[string]float64  `json:"performance_metrics,omitempty"`
	HasStatic          bool                `json:"has_static"`
	HasRendered        bool                `json:"has_rendered"`
	StaticSize         int64               `json:"static_size"`
	RenderedSize       int64               `json:"rendered_size"`
}
