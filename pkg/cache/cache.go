package cache

import (
	"time"

	"site-auditor/pkg/models"
)

// NoMaxAge disables age-based invalidation on Get: any stored entry is
// returned regardless of how long ago it was written.
const NoMaxAge time.Duration = -1

// SiteStats summarizes a site's cache namespace. The timestamps are zero
// when the namespace is empty.
type SiteStats struct {
	EntryCount        int       `json:"total_urls"`
	TotalBytes        int64     `json:"total_size_bytes"`
	StaticBytes       int64     `json:"static_size_bytes"`
	RenderedBytes     int64     `json:"rendered_size_bytes"`
	WithRenderedCount int       `json:"with_rendered_count"`
	WithCSSCount      int       `json:"with_css_count"`
	OldestCachedAt    time.Time `json:"oldest_cached_at"`
	NewestCachedAt    time.Time `json:"newest_cached_at"`
}

// observeCachedAt folds one entry's timestamp into the oldest/newest bounds.
func (s *SiteStats) observeCachedAt(cachedAt time.Time) {
	if s.OldestCachedAt.IsZero() || cachedAt.Before(s.OldestCachedAt) {
		s.OldestCachedAt = cachedAt
	}
	if cachedAt.After(s.NewestCachedAt) {
		s.NewestCachedAt = cachedAt
	}
}

// Store is a content cache keyed by (site, url). Entries are immutable once
// written: Put always writes a full replacement. A stale or corrupt entry is
// reported as a miss (nil, nil), never as an error the caller must branch on.
type Store interface {
	// Put stores the page under the site namespace, replacing any existing
	// entry for the same URL. When persistCSS is set, inline style blocks
	// and external stylesheet URLs are stored alongside the content blobs.
	Put(site string, page *models.FetchedPage, persistCSS bool) error

	// Get returns the cached page for the URL, or (nil, nil) on a miss.
	// An entry older than maxAge is a miss; it is left in place, not
	// deleted. Pass NoMaxAge to accept entries of any age. A maxAge of 0
	// accepts only entries cached at the same instant or later.
	Get(site, url string, maxAge time.Duration) (*models.FetchedPage, error)

	// ListURLs returns the URLs of all readable entries in the site
	// namespace, in unspecified order.
	ListURLs(site string) ([]string, error)

	// Stats summarizes the site namespace.
	Stats(site string) (SiteStats, error)

	// Clear removes every entry in the site namespace.
	Clear(site string) error

	// Close releases backend resources.
	Close() error
}
