package orchestrate

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"site-auditor/pkg/cache"
	"site-auditor/pkg/config"
	"site-auditor/pkg/fetch"
	"site-auditor/pkg/models"
)

// CachedSource is a crawler.PageSource that consults the content cache
// before fetching. Fresh entries are served from the cache; misses and
// stale entries go to the network and the result is written back.
type CachedSource struct {
	site    string
	store   cache.Store
	fetcher *fetch.Fetcher
	siteCfg config.SiteConfig

	// With bestEffort set, cache write failures are logged and the fetched
	// page is still returned; otherwise they surface as errors.
	bestEffort bool

	log *logrus.Entry

	hits   atomic.Int64
	misses atomic.Int64
}

func NewCachedSource(site string, store cache.Store, fetcher *fetch.Fetcher, siteCfg config.SiteConfig, bestEffort bool, log *logrus.Entry) *CachedSource {
	return &CachedSource{
		site:       site,
		store:      store,
		fetcher:    fetcher,
		siteCfg:    siteCfg,
		bestEffort: bestEffort,
		log:        log,
	}
}

// maxAge maps the config convention (0 = no limit) onto the store's.
func (s *CachedSource) maxAge() time.Duration {
	if s.siteCfg.MaxCacheAge == 0 {
		return cache.NoMaxAge
	}
	return s.siteCfg.MaxCacheAge
}

func (s *CachedSource) Page(ctx context.Context, pageURL string) (*models.FetchedPage, error) {
	cached, err := s.store.Get(s.site, pageURL, s.maxAge())
	if err != nil {
		return nil, err
	}
	if cached != nil {
		s.hits.Add(1)
		s.log.WithField("url", pageURL).Debug("Cache hit")
		return cached, nil
	}

	s.misses.Add(1)
	page, err := s.fetcher.FetchPage(ctx, pageURL, s.siteCfg)
	if err != nil {
		return nil, err
	}

	if err := s.store.Put(s.site, page, s.siteCfg.PersistCSS); err != nil {
		if !s.bestEffort {
			return nil, err
		}
		s.log.WithField("url", pageURL).Warnf("Cache write failed, continuing uncached: %v", err)
	}
	return page, nil
}

// Hits and Misses report cache effectiveness for the run summary.
func (s *CachedSource) Hits() int64   { return s.hits.Load() }
func (s *CachedSource) Misses() int64 { return s.misses.Load() }
