package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"site-auditor/pkg/config"
	"site-auditor/pkg/extract"
	"site-auditor/pkg/fetch"
	"site-auditor/pkg/models"
	"site-auditor/pkg/parse"
	"site-auditor/pkg/queue"
	"site-auditor/pkg/utils"
)

// PageSource supplies page content for a URL. The direct implementation
// fetches over the network; the cache-backed implementation consults the
// content cache first.
type PageSource interface {
	Page(ctx context.Context, pageURL string) (*models.FetchedPage, error)
}

// FetcherSource adapts a Fetcher into a PageSource for a single site.
type FetcherSource struct {
	Fetcher *fetch.Fetcher
	SiteCfg config.SiteConfig
}

func (s *FetcherSource) Page(ctx context.Context, pageURL string) (*models.FetchedPage, error) {
	return s.Fetcher.FetchPage(ctx, pageURL, s.SiteCfg)
}

// Stats summarizes one crawl run.
type Stats struct {
	DiscoveredCount int           `json:"discovered_count"`
	ProcessedCount  int           `json:"processed_count"`
	FailedCount     int           `json:"failed_count"`
	SkippedCount    int           `json:"skipped_count"`
	PerDepth        map[int]int   `json:"per_depth"`
	BudgetHit       bool          `json:"budget_hit"`
	Duration        time.Duration `json:"duration"`
}

// Result is the outcome of a discovery crawl. Failed maps URL to an error
// category; Skipped maps URL to the reason it was not fetched (robots).
type Result struct {
	Discovered []models.DiscoveredURL `json:"discovered"`
	Failed     map[string]string      `json:"failed,omitempty"`
	Skipped    map[string]string      `json:"skipped,omitempty"`
	Stats      Stats                  `json:"stats"`
}

// Crawler walks a site breadth-first from its seed URLs, discovering links
// from both the static and the rendered DOM of each page.
type Crawler struct {
	cfg     *config.AppConfig
	siteCfg config.SiteConfig
	source  PageSource
	fetcher *fetch.Fetcher        // raw fetches (sitemaps)
	robots  *fetch.RobotsHandler  // nil unless respect_robots is set
	log     *logrus.Entry

	siteRoot    string   // normalized first seed, defines the site scope
	siteRootURL *url.URL // parsed form of siteRoot for same-site checks

	frontier *Frontier
	queue    *queue.FrontierQueue

	mu                sync.Mutex
	failed            map[string]string
	skipped           map[string]string
	processedCount    int
	processedSitemaps map[string]struct{}
}

// maxSitemapFetches caps sitemap-index recursion per crawl.
const maxSitemapFetches = 50

// New creates a Crawler for one site.
func New(cfg *config.AppConfig, siteCfg config.SiteConfig, source PageSource, fetcher *fetch.Fetcher, robots *fetch.RobotsHandler, log *logrus.Entry) *Crawler {
	q := queue.NewFrontierQueue(log.Logger)
	return &Crawler{
		cfg:               cfg,
		siteCfg:           siteCfg,
		source:            source,
		fetcher:           fetcher,
		robots:            robots,
		log:               log,
		queue:             q,
		frontier:          NewFrontier(siteCfg.MaxURLs, q, log),
		failed:            make(map[string]string),
		skipped:           make(map[string]string),
		processedSitemaps: make(map[string]struct{}),
	}
}

// Discover runs the breadth-first crawl and returns every admitted URL in
// (depth, admission) order. Fetch failures are recorded, never fatal; the
// only error returns are unusable seeds and context cancellation.
func (c *Crawler) Discover(ctx context.Context) (*Result, error) {
	start := time.Now()

	seeds, err := c.normalizeSeeds()
	if err != nil {
		return nil, err
	}
	c.siteRoot = seeds[0]
	c.siteRootURL, err = url.Parse(c.siteRoot)
	if err != nil {
		return nil, fmt.Errorf("%w: seed %q: %v", utils.ErrConfigValidation, c.siteRoot, err)
	}

	for _, seed := range seeds {
		c.frontier.Enqueue(seed, 0, models.DiscoverySeed, "")
	}
	if c.siteCfg.SeedFromSitemap {
		c.seedSitemap(ctx, c.siteRoot)
	}

	if c.frontier.VisitedCount() == 0 {
		c.queue.Close()
	}

	// Close the queue on cancellation so blocked workers exit
	stopWatch := context.AfterFunc(ctx, c.queue.Close)
	defer stopWatch()

	numWorkers := c.cfg.WorkerConcurrency
	if numWorkers <= 0 {
		numWorkers = 1
	}
	c.log.WithFields(logrus.Fields{"workers": numWorkers, "seeds": len(seeds)}).Info("Starting discovery crawl")

	var wg sync.WaitGroup
	for i := range numWorkers {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			c.worker(ctx, workerID)
		}(i)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("crawl aborted: %w", err)
	}

	result := c.buildResult(time.Since(start))
	c.log.WithFields(logrus.Fields{
		"discovered": result.Stats.DiscoveredCount,
		"failed":     result.Stats.FailedCount,
		"skipped":    result.Stats.SkippedCount,
		"duration":   result.Stats.Duration,
	}).Info("Discovery crawl complete")
	return result, nil
}

func (c *Crawler) normalizeSeeds() ([]string, error) {
	if len(c.siteCfg.SeedURLs) == 0 {
		return nil, fmt.Errorf("%w: no seed URLs configured", utils.ErrConfigValidation)
	}
	var seeds []string
	for _, raw := range c.siteCfg.SeedURLs {
		normalized, _, err := parse.ParseAndNormalize(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: seed %q: %v", utils.ErrConfigValidation, raw, err)
		}
		seeds = append(seeds, normalized)
	}
	return seeds, nil
}

func (c *Crawler) worker(ctx context.Context, workerID int) {
	workerLog := c.log.WithField("worker_id", workerID)
	workerLog.Debug("Worker started")

	for {
		item, ok := c.queue.Pop()
		if !ok {
			workerLog.Debug("Queue closed, worker exiting")
			return
		}
		if ctx.Err() != nil {
			return
		}
		c.processTask(ctx, item)
		c.frontier.TaskDone()
	}
}

func (c *Crawler) processTask(ctx context.Context, item *models.WorkItem) {
	taskLog := c.log.WithFields(logrus.Fields{"url": item.URL, "depth": item.Depth})

	if c.siteCfg.RespectRobots && c.robots != nil {
		if target, err := url.Parse(item.URL); err == nil {
			agent := config.EffectiveUserAgent(c.siteCfg, *c.cfg)
			if !c.robots.TestAgent(ctx, target, agent) {
				taskLog.Info("URL disallowed by robots.txt, skipping")
				c.recordSkipped(item.URL, "robots_disallowed")
				return
			}
		}
	}

	page, err := c.source.Page(ctx, item.URL)
	c.mu.Lock()
	c.processedCount++
	c.mu.Unlock()

	if err != nil {
		category := utils.CategorizeError(err)
		taskLog.WithField("category", category).Warnf("Fetch failed: %v", err)
		c.recordFailed(item.URL, category)
		return
	}
	if page == nil || page.StaticDoc == nil {
		c.recordFailed(item.URL, "Empty_Content")
		return
	}

	// Pages at the depth limit are fetched but their links are not followed;
	// max_depth 0 means seeds only
	if item.Depth+1 > c.siteCfg.MaxDepth {
		taskLog.Debug("Depth limit reached, not expanding links")
		return
	}

	c.expandLinks(page, item)
}

func (c *Crawler) expandLinks(page *models.FetchedPage, item *models.WorkItem) {
	admitted := 0
	for _, link := range extract.PageLinks(page) {
		if !c.admissible(link.URL) {
			continue
		}
		if c.frontier.Enqueue(link.URL, item.Depth+1, link.Method, item.URL) {
			admitted++
		}
	}
	if admitted > 0 {
		c.log.WithFields(logrus.Fields{"url": item.URL, "admitted": admitted}).Debug("Links admitted to frontier")
	}
}

// admissible applies the scope filters: same site as the first seed, a
// crawlable scheme, and not a binary/asset extension.
func (c *Crawler) admissible(normalizedURL string) bool {
	u, err := url.Parse(normalizedURL)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	if !parse.SameSite(c.siteRootURL, u, c.siteCfg.AllowSubdomains) {
		return false
	}
	return !extract.HasExcludedExtension(u)
}

// FoundSitemap implements fetch.SitemapDiscoverer: sitemap URLs announced by
// robots.txt are folded into seeding when seed_from_sitemap is enabled.
func (c *Crawler) FoundSitemap(sitemapURL string) {
	if !c.siteCfg.SeedFromSitemap {
		return
	}
	// Context of the current crawl; robots discovery only happens mid-crawl
	c.seedSitemap(context.Background(), sitemapURL)
}

// seedSitemap fetches a sitemap (or sitemap index) and admits its page URLs
// at depth 0. Child sitemaps are followed; recursion is bounded by
// maxSitemapFetches per crawl.
func (c *Crawler) seedSitemap(ctx context.Context, from string) {
	sitemapURL := from
	if from == c.siteRoot {
		root, err := url.Parse(c.siteRoot)
		if err != nil {
			return
		}
		root.Path = "/sitemap.xml"
		root.RawQuery = ""
		sitemapURL = root.String()
	}
	c.processSitemap(ctx, sitemapURL, 0)
}

func (c *Crawler) processSitemap(ctx context.Context, sitemapURL string, depth int) {
	c.mu.Lock()
	if len(c.processedSitemaps) >= maxSitemapFetches {
		c.mu.Unlock()
		return
	}
	if _, seen := c.processedSitemaps[sitemapURL]; seen {
		c.mu.Unlock()
		return
	}
	c.processedSitemaps[sitemapURL] = struct{}{}
	c.mu.Unlock()

	smLog := c.log.WithField("sitemap_url", sitemapURL)

	data, err := c.fetchRaw(ctx, sitemapURL)
	if err != nil {
		smLog.Warnf("Sitemap fetch failed: %v", err)
		return
	}

	content, err := parse.ParseSitemap(data)
	if err != nil {
		smLog.Warnf("Sitemap parse failed: %v", err)
		return
	}

	admitted := 0
	for _, pageURL := range content.PageURLs {
		normalized, _, err := parse.ParseAndNormalize(pageURL)
		if err != nil || !c.admissible(normalized) {
			continue
		}
		if c.frontier.Enqueue(normalized, 0, models.DiscoverySitemap, sitemapURL) {
			admitted++
		}
	}
	smLog.WithFields(logrus.Fields{"admitted": admitted, "children": len(content.SitemapURLs)}).Info("Sitemap processed")

	for _, child := range content.SitemapURLs {
		c.processSitemap(ctx, child, depth+1)
	}
}

func (c *Crawler) fetchRaw(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", config.EffectiveUserAgent(c.siteCfg, *c.cfg))

	resp, err := c.fetcher.FetchWithRetry(ctx, req)
	if err != nil {
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (c *Crawler) recordFailed(pageURL, category string) {
	c.mu.Lock()
	c.failed[pageURL] = category
	c.mu.Unlock()
}

func (c *Crawler) recordSkipped(pageURL, reason string) {
	c.mu.Lock()
	c.skipped[pageURL] = reason
	c.mu.Unlock()
}

func (c *Crawler) buildResult(duration time.Duration) *Result {
	discovered := c.frontier.Discovered()
	// Admission order already interleaves depths under concurrency; a stable
	// sort by depth restores (depth, admission) order.
	sort.SliceStable(discovered, func(i, j int) bool {
		return discovered[i].Depth < discovered[j].Depth
	})

	perDepth := make(map[int]int)
	for _, d := range discovered {
		perDepth[d.Depth]++
	}

	c.mu.Lock()
	failed := make(map[string]string, len(c.failed))
	for k, v := range c.failed {
		failed[k] = v
	}
	skipped := make(map[string]string, len(c.skipped))
	for k, v := range c.skipped {
		skipped[k] = v
	}
	processed := c.processedCount
	c.mu.Unlock()

	return &Result{
		Discovered: discovered,
		Failed:     failed,
		Skipped:    skipped,
		Stats: Stats{
			DiscoveredCount: len(discovered),
			ProcessedCount:  processed,
			FailedCount:     len(failed),
			SkippedCount:    len(skipped),
			PerDepth:        perDepth,
			BudgetHit:       c.frontier.BudgetHit(),
			Duration:        duration,
		},
	}
}
