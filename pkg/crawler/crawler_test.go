package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"site-auditor/pkg/config"
	"site-auditor/pkg/fetch"
	"site-auditor/pkg/models"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func testAppConfig(workers int) *config.AppConfig {
	return &config.AppConfig{
		WorkerConcurrency:       workers,
		MaxRetries:              0,
		InitialRetryDelay:       time.Millisecond,
		MaxRetryDelay:           5 * time.Millisecond,
		SemaphoreAcquireTimeout: 5 * time.Second,
		MaxPageSizeBytes:        10 * 1024 * 1024,
		DefaultUserAgent:        "site-auditor-test/1.0",
	}
}

// pageHandler serves a static site described by a map of path -> HTML body.
func pageHandler(pages map[string]string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, body)
	})
}

func linkPage(hrefs ...string) string {
	page := "<html><head><title>t</title></head><body>"
	for _, h := range hrefs {
		page += fmt.Sprintf(`<a href="%s">link</a>`, h)
	}
	return page + "</body></html>"
}

func newTestCrawler(t *testing.T, server *httptest.Server, siteCfg config.SiteConfig, workers int) *Crawler {
	t.Helper()
	appCfg := testAppConfig(workers)
	log := testLogger()
	rl := fetch.NewRateLimiter(0, log.Logger)
	pool := fetch.NewHostSemaphorePool(8, log)
	fetcher := fetch.NewFetcher(server.Client(), appCfg, rl, pool, semaphore.NewWeighted(8), nil, log.Logger)
	source := &FetcherSource{Fetcher: fetcher, SiteCfg: siteCfg}
	return New(appCfg, siteCfg, source, fetcher, nil, log)
}

func discoveredURLs(result *Result) []string {
	urls := make([]string, len(result.Discovered))
	for i, d := range result.Discovered {
		urls[i] = d.URL
	}
	return urls
}

func TestDiscover_SimpleSiteWithBudget(t *testing.T) {
	// A links to B and C; B links to D; budget 3 excludes D
	server := httptest.NewServer(pageHandler(map[string]string{
		"/":  linkPage("/b", "/c"),
		"/b": linkPage("/d"),
		"/c": linkPage(),
		"/d": linkPage(),
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL + "/"},
		MaxDepth: 2,
		MaxURLs:  3,
	}, 1)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{
		server.URL + "/",
		server.URL + "/b",
		server.URL + "/c",
	}, discoveredURLs(result))
	assert.Equal(t, []int{0, 1, 1}, []int{
		result.Discovered[0].Depth,
		result.Discovered[1].Depth,
		result.Discovered[2].Depth,
	})
	assert.True(t, result.Stats.BudgetHit)
	assert.Empty(t, result.Failed)
}

func TestDiscover_DepthLimit(t *testing.T) {
	server := httptest.NewServer(pageHandler(map[string]string{
		"/":      linkPage("/d1"),
		"/d1":    linkPage("/d2"),
		"/d2":    linkPage("/d3"),
		"/d3":    linkPage(),
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL},
		MaxDepth: 2,
		MaxURLs:  100,
	}, 2)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{
		server.URL + "/",
		server.URL + "/d1",
		server.URL + "/d2",
	}, discoveredURLs(result), "links beyond max_depth must not be admitted")

	for _, d := range result.Discovered {
		assert.LessOrEqual(t, d.Depth, 2)
	}
}

func TestDiscover_OffSiteAndAssetLinksFiltered(t *testing.T) {
	server := httptest.NewServer(pageHandler(map[string]string{
		"/": linkPage(
			"/ok",
			"https://elsewhere.example.org/page",
			"/styles.css",
			"/report.pdf",
			"mailto:x@example.com",
		),
		"/ok": linkPage(),
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL},
		MaxDepth: 1,
		MaxURLs:  100,
	}, 1)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{server.URL + "/", server.URL + "/ok"}, discoveredURLs(result))
}

func TestDiscover_FetchFailureMidCrawl(t *testing.T) {
	pages := map[string]string{
		"/":   linkPage("/bad", "/c"),
		"/c":  linkPage("/c2"),
		"/c2": linkPage(),
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		pageHandler(pages).ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL},
		MaxDepth: 3,
		MaxURLs:  100,
	}, 2)

	result, err := c.Discover(context.Background())
	require.NoError(t, err, "per-URL failures must never fail the crawl")

	assert.Contains(t, result.Failed, server.URL+"/bad")
	assert.ElementsMatch(t, []string{
		server.URL + "/",
		server.URL + "/bad",
		server.URL + "/c",
		server.URL + "/c2",
	}, discoveredURLs(result), "failure of one branch must not stop the other")
	assert.Equal(t, 1, result.Stats.FailedCount)
}

func TestDiscover_NoDuplicates(t *testing.T) {
	// Mutually linking pages plus self links and fragment variants
	server := httptest.NewServer(pageHandler(map[string]string{
		"/":  linkPage("/a", "/b"),
		"/a": linkPage("/b", "/a", "/#top", "/a#section"),
		"/b": linkPage("/a", "/"),
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL},
		MaxDepth: 5,
		MaxURLs:  100,
	}, 4)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	urls := discoveredURLs(result)
	seen := make(map[string]int)
	for _, u := range urls {
		seen[u]++
	}
	for u, n := range seen {
		assert.Equal(t, 1, n, "URL %s discovered %d times", u, n)
	}
	assert.Len(t, urls, 3)
}

func TestDiscover_DepthsNonDecreasing(t *testing.T) {
	server := httptest.NewServer(pageHandler(map[string]string{
		"/":   linkPage("/a", "/b"),
		"/a":  linkPage("/a1", "/a2"),
		"/b":  linkPage("/b1"),
		"/a1": linkPage(),
		"/a2": linkPage(),
		"/b1": linkPage(),
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL},
		MaxDepth: 3,
		MaxURLs:  100,
	}, 4)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	last := 0
	for _, d := range result.Discovered {
		assert.GreaterOrEqual(t, d.Depth, last, "discovered order must be non-decreasing in depth")
		last = d.Depth
	}
	assert.Equal(t, map[int]int{0: 1, 1: 2, 2: 3}, result.Stats.PerDepth)
}

func TestDiscover_DiscoveryMethodsRecorded(t *testing.T) {
	server := httptest.NewServer(pageHandler(map[string]string{
		"/":  linkPage("/a"),
		"/a": linkPage(),
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL},
		MaxDepth: 1,
		MaxURLs:  10,
	}, 1)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Discovered, 2)
	assert.Equal(t, models.DiscoverySeed, result.Discovered[0].Method)
	assert.Empty(t, result.Discovered[0].Source)
	assert.Equal(t, models.DiscoveryStatic, result.Discovered[1].Method)
	assert.Equal(t, server.URL+"/", result.Discovered[1].Source)
}

func TestDiscover_SitemapSeeding(t *testing.T) {
	var server *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/sitemap.xml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>%s/orphan</loc></url>
  <url><loc>%s/</loc></url>
</urlset>`, server.URL, server.URL)
	})
	mux.Handle("/", pageHandler(map[string]string{
		"/":       linkPage(),
		"/orphan": linkPage(),
	}))
	server = httptest.NewServer(mux)
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs:        []string{server.URL},
		MaxDepth:        1,
		MaxURLs:         10,
		SeedFromSitemap: true,
	}, 1)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	byURL := make(map[string]models.DiscoveredURL)
	for _, d := range result.Discovered {
		byURL[d.URL] = d
	}

	orphan, ok := byURL[server.URL+"/orphan"]
	require.True(t, ok, "orphan page should be admitted via sitemap")
	assert.Equal(t, models.DiscoverySitemap, orphan.Method)
	assert.Equal(t, 0, orphan.Depth)

	// Seed admission wins over the sitemap duplicate
	assert.Equal(t, models.DiscoverySeed, byURL[server.URL+"/"].Method)
}

func TestDiscover_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		io.WriteString(w, linkPage("/x"))
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL},
		MaxDepth: 3,
		MaxURLs:  1000,
	}, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Discover(ctx)
	assert.Error(t, err, "cancelled crawl must report the abort")
}

func TestDiscover_NoSeedsIsFatal(t *testing.T) {
	server := httptest.NewServer(pageHandler(nil))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{MaxDepth: 1, MaxURLs: 10}, 1)
	_, err := c.Discover(context.Background())
	assert.Error(t, err)
}

func TestDiscover_LinksFollowDocumentOrder(t *testing.T) {
	paths := []string{"/p1", "/p2", "/p3", "/p4", "/p5", "/p6", "/p7", "/p8"}
	pages := map[string]string{"/": linkPage(paths...)}
	for _, p := range paths {
		pages[p] = linkPage()
	}
	server := httptest.NewServer(pageHandler(pages))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL + "/"},
		MaxDepth: 1,
		MaxURLs:  20,
	}, 1)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	expected := []string{server.URL + "/"}
	for _, p := range paths {
		expected = append(expected, server.URL+p)
	}
	assert.Equal(t, expected, discoveredURLs(result), "links must be admitted in source-document order")
}

func TestDiscover_DepthIsShortestPathUnderConcurrency(t *testing.T) {
	// The root links B (slow) and C; C leads to D, D to X, but B also links
	// X directly. A fast walk down C's branch must not record X deeper than
	// the two-hop path through B.
	pages := map[string]string{
		"/":  linkPage("/b", "/c"),
		"/b": linkPage("/x"),
		"/c": linkPage("/d"),
		"/d": linkPage("/x"),
		"/x": linkPage(),
	}
	inner := pageHandler(pages)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/b" {
			time.Sleep(150 * time.Millisecond)
		}
		inner.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)

	c := newTestCrawler(t, server, config.SiteConfig{
		SeedURLs: []string{server.URL + "/"},
		MaxDepth: 3,
		MaxURLs:  10,
	}, 2)

	result, err := c.Discover(context.Background())
	require.NoError(t, err)

	byURL := make(map[string]int)
	for _, d := range result.Discovered {
		byURL[d.URL] = d.Depth
	}
	assert.Equal(t, 2, byURL[server.URL+"/d"])
	assert.Equal(t, 2, byURL[server.URL+"/x"], "X is two hops from the root regardless of fetch timing")
}
