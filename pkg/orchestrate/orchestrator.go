package orchestrate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"site-auditor/pkg/audit"
	"site-auditor/pkg/cache"
	"site-auditor/pkg/config"
	"site-auditor/pkg/crawler"
	"site-auditor/pkg/fetch"
	"site-auditor/pkg/models"
	"site-auditor/pkg/utils"
)

// SiteResult describes the outcome of one site's run.
type SiteResult struct {
	SiteKey     string
	RunID       string
	Success     bool
	Error       error
	Discovered  int
	Failed      int
	Skipped     int
	CacheHits   int64
	CacheMisses int64
	Verdicts    int
	Duration    time.Duration
}

// Orchestrator runs crawl or audit passes over the configured sites,
// sharing the HTTP client, rate limiter, and request semaphore across
// them. One store instance backs all sites; entries are namespaced per
// site inside the store.
type Orchestrator struct {
	appCfg   *config.AppConfig
	store    cache.Store
	registry *audit.Registry
	log      *logrus.Entry

	fetcher         *fetch.Fetcher
	rateLimiter     *fetch.RateLimiter
	globalSemaphore *semaphore.Weighted

	resultsMu sync.Mutex
	results   []SiteResult
}

// OpenStore creates the configured cache backend rooted at cache_dir.
func OpenStore(appCfg *config.AppConfig, log *logrus.Entry) (cache.Store, error) {
	switch appCfg.CacheBackend {
	case "", "fs":
		return cache.NewFSStore(appCfg.CacheDir, log)
	case "badger":
		return cache.NewBadgerStore(appCfg.CacheDir, log)
	default:
		return nil, fmt.Errorf("%w: unknown cache_backend %q", utils.ErrConfigValidation, appCfg.CacheBackend)
	}
}

// New wires the shared fetch stack. The registry may be nil for crawl-only
// use; Audit requires one.
func New(appCfg *config.AppConfig, store cache.Store, registry *audit.Registry, log *logrus.Entry) *Orchestrator {
	client := fetch.NewClient(appCfg.HTTPClientSettings, log.Logger)
	rateLimiter := fetch.NewRateLimiter(appCfg.DefaultDelayPerHost, log.Logger)
	hostSems := fetch.NewHostSemaphorePool(appCfg.MaxRequestsPerHost, log)

	var renderer fetch.Renderer
	if appCfg.EnableRendering {
		renderer = fetch.NewChromedpRenderer(fetch.RenderOptions{
			Timeout:            appCfg.RenderTimeout,
			UserAgent:          appCfg.DefaultUserAgent,
			MaxBodyBytes:       appCfg.MaxPageSizeBytes,
			ConcurrentSessions: appCfg.RenderSessions,
		}, log.Logger)
	}

	maxRequests := int64(appCfg.MaxRequests)
	if maxRequests <= 0 {
		maxRequests = 1
	}
	globalSem := semaphore.NewWeighted(maxRequests)

	fetcher := fetch.NewFetcher(client, appCfg, rateLimiter, hostSems, globalSem, renderer, log.Logger)

	return &Orchestrator{
		appCfg:          appCfg,
		store:           store,
		registry:        registry,
		log:             log,
		fetcher:         fetcher,
		rateLimiter:     rateLimiter,
		globalSemaphore: globalSem,
	}
}

// Crawl discovers each site in parallel, filling the cache as a side effect,
// and returns per-site results alongside the discovery records.
func (o *Orchestrator) Crawl(ctx context.Context, siteKeys []string) ([]SiteResult, map[string]*crawler.Result) {
	crawls := make(map[string]*crawler.Result, len(siteKeys))
	var crawlsMu sync.Mutex

	o.runSites(ctx, siteKeys, func(ctx context.Context, key string, siteCfg config.SiteConfig, result *SiteResult) error {
		crawlResult, src, err := o.crawlSite(ctx, key, siteCfg)
		if err != nil {
			return err
		}
		crawlsMu.Lock()
		crawls[key] = crawlResult
		crawlsMu.Unlock()
		o.fillCrawlStats(result, crawlResult, src)
		return nil
	})
	return o.takeResults(), crawls
}

// Audit runs discovery through the cache, then applies the registered rules
// to every discovered page and writes verdicts as JSON lines under the
// output dir. Each site's run gets a fresh run ID.
func (o *Orchestrator) Audit(ctx context.Context, siteKeys []string) []SiteResult {
	o.runSites(ctx, siteKeys, func(ctx context.Context, key string, siteCfg config.SiteConfig, result *SiteResult) error {
		crawlResult, src, err := o.crawlSite(ctx, key, siteCfg)
		if err != nil {
			return err
		}
		o.fillCrawlStats(result, crawlResult, src)

		verdicts, err := o.auditPages(ctx, siteCfg, crawlResult)
		if err != nil {
			return err
		}
		result.Verdicts = len(verdicts)

		return o.writeVerdicts(key, result.RunID, verdicts)
	})
	return o.takeResults()
}

type siteRun func(ctx context.Context, key string, siteCfg config.SiteConfig, result *SiteResult) error

func (o *Orchestrator) runSites(ctx context.Context, siteKeys []string, run siteRun) {
	var wg sync.WaitGroup
	for _, siteKey := range siteKeys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()

			start := time.Now()
			result := SiteResult{SiteKey: key, RunID: uuid.NewString()}
			siteLog := o.log.WithFields(logrus.Fields{"site": key, "run_id": result.RunID})

			siteCfg, exists := o.appCfg.Sites[key]
			if !exists {
				result.Error = fmt.Errorf("%w: site %q not found in configuration", utils.ErrConfigValidation, key)
				siteLog.Error(result.Error)
			} else if err := run(ctx, key, siteCfg, &result); err != nil {
				result.Error = err
				siteLog.Errorf("Site run failed: %v", err)
			} else {
				result.Success = true
			}

			result.Duration = time.Since(start)
			o.resultsMu.Lock()
			o.results = append(o.results, result)
			o.resultsMu.Unlock()
		}(siteKey)
	}
	wg.Wait()
}

func (o *Orchestrator) crawlSite(ctx context.Context, key string, siteCfg config.SiteConfig) (*crawler.Result, *CachedSource, error) {
	if len(siteCfg.SeedURLs) == 0 {
		return nil, nil, fmt.Errorf("%w: site %q has no seed URLs", utils.ErrConfigValidation, key)
	}
	siteLog := o.log.WithField("site", key)

	src := NewCachedSource(siteCfg.SeedURLs[0], o.store, o.fetcher, siteCfg, o.appCfg.BestEffortCache, siteLog)

	// The robots handler announces sitemap URLs back to the crawler, but it
	// has to exist before the crawler does; the proxy breaks the cycle.
	var notifier sitemapProxy
	c := crawler.New(o.appCfg, siteCfg, src, o.fetcher, o.robotsFor(siteCfg, &notifier, siteLog), siteLog)
	notifier.target = c

	crawlResult, err := c.Discover(ctx)
	if err != nil {
		return nil, nil, err
	}
	return crawlResult, src, nil
}

type sitemapProxy struct {
	target fetch.SitemapDiscoverer
}

func (p *sitemapProxy) FoundSitemap(sitemapURL string) {
	if p.target != nil {
		p.target.FoundSitemap(sitemapURL)
	}
}

func (o *Orchestrator) robotsFor(siteCfg config.SiteConfig, notifier fetch.SitemapDiscoverer, siteLog *logrus.Entry) *fetch.RobotsHandler {
	if !siteCfg.RespectRobots {
		return nil
	}
	return fetch.NewRobotsHandler(o.fetcher, o.rateLimiter, o.globalSemaphore, notifier, o.appCfg, siteLog)
}

func (o *Orchestrator) fillCrawlStats(result *SiteResult, crawlResult *crawler.Result, src *CachedSource) {
	result.Discovered = crawlResult.Stats.DiscoveredCount
	result.Failed = crawlResult.Stats.FailedCount
	result.Skipped = crawlResult.Stats.SkippedCount
	result.CacheHits = src.Hits()
	result.CacheMisses = src.Misses()
}

// auditPages reads each discovered page back and applies the rule set. The
// crawl just wrote these entries, so reads are cache hits; pages that
// failed to fetch or cache are skipped here and already counted as failed.
func (o *Orchestrator) auditPages(ctx context.Context, siteCfg config.SiteConfig, crawlResult *crawler.Result) ([]models.Verdict, error) {
	if o.registry == nil {
		return nil, fmt.Errorf("no audit rules registered")
	}
	site := siteCfg.SeedURLs[0]

	var verdicts []models.Verdict
	for _, d := range crawlResult.Discovered {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := o.store.Get(site, d.URL, cache.NoMaxAge)
		if err != nil {
			return nil, err
		}
		if page == nil {
			continue
		}
		verdicts = append(verdicts, o.registry.Run(page)...)
	}
	return verdicts, nil
}

func (o *Orchestrator) writeVerdicts(siteKey, runID string, verdicts []models.Verdict) error {
	dir := filepath.Join(o.appCfg.OutputBaseDir, utils.SanitizeFilename(siteKey))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("verdicts-%s.jsonl", runID))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating verdict file %s: %w", path, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, v := range verdicts {
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("writing verdicts to %s: %w", path, err)
		}
	}

	o.log.WithFields(logrus.Fields{
		"site":     siteKey,
		"verdicts": len(verdicts),
		"path":     path,
	}).Info("Verdicts written")
	return f.Sync()
}

func (o *Orchestrator) takeResults() []SiteResult {
	o.resultsMu.Lock()
	defer o.resultsMu.Unlock()
	out := o.results
	o.results = nil
	return out
}

// LogSummary prints a run summary in the style of the crawl logs.
func (o *Orchestrator) LogSummary(results []SiteResult) {
	success, failed := 0, 0
	for _, r := range results {
		if r.Success {
			success++
		} else {
			failed++
		}
		entry := o.log.WithFields(logrus.Fields{
			"site":         r.SiteKey,
			"discovered":   r.Discovered,
			"failed_urls":  r.Failed,
			"cache_hits":   r.CacheHits,
			"cache_misses": r.CacheMisses,
			"duration":     r.Duration.Round(time.Millisecond),
		})
		if r.Success {
			entry.Info("Site run succeeded")
		} else {
			entry.Errorf("Site run failed: %v", r.Error)
		}
	}
	o.log.Infof("Run complete: %d sites (%d succeeded, %d failed)", len(results), success, failed)
}

// ValidateSiteKeys checks the requested keys against the configuration.
func ValidateSiteKeys(appCfg *config.AppConfig, siteKeys []string) error {
	for _, key := range siteKeys {
		if _, exists := appCfg.Sites[key]; !exists {
			available := make([]string, 0, len(appCfg.Sites))
			for k := range appCfg.Sites {
				available = append(available, k)
			}
			return fmt.Errorf("%w: site %q not found, available: %v", utils.ErrConfigValidation, key, available)
		}
	}
	return nil
}

// AllSiteKeys returns every configured site key.
func AllSiteKeys(appCfg *config.AppConfig) []string {
	keys := make([]string, 0, len(appCfg.Sites))
	for k := range appCfg.Sites {
		keys = append(keys, k)
	}
	return keys
}
