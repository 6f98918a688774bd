package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"site-auditor/pkg/config"
	"site-auditor/pkg/models"
	"site-auditor/pkg/utils"
)

// Fetcher retrieves pages over HTTP with configured retry logic and, when a
// Renderer is attached, captures the JavaScript-rendered DOM as well.
type Fetcher struct {
	client      *http.Client
	cfg         *config.AppConfig
	rateLimiter *RateLimiter
	hostSems    *HostSemaphorePool
	globalSem   *semaphore.Weighted // caps concurrent requests across all hosts
	renderer    Renderer            // nil when rendering is disabled
	log         *logrus.Logger
}

// NewFetcher creates a new Fetcher instance
func NewFetcher(client *http.Client, cfg *config.AppConfig, rateLimiter *RateLimiter, hostSems *HostSemaphorePool, globalSem *semaphore.Weighted, renderer Renderer, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:      client,
		cfg:         cfg,
		rateLimiter: rateLimiter,
		hostSems:    hostSems,
		globalSem:   globalSem,
		renderer:    renderer,
		log:         log,
	}
}

// FetchWithRetry performs an HTTP request with exponential backoff and jitter
// for transient network errors and retryable HTTP statuses (5xx, 429).
// On a non-retryable status the response is returned alongside the error so
// the caller can inspect it; the caller must close the body in that case.
func (f *Fetcher) FetchWithRetry(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	var currentResp *http.Response

	reqLog := f.log.WithField("url", req.URL.String())

	maxRetries := f.cfg.MaxRetries
	initialRetryDelay := f.cfg.InitialRetryDelay
	maxRetryDelay := f.cfg.MaxRetryDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			reqLog.Warnf("Context cancelled before attempt %d: %v", attempt, ctx.Err())
			if lastErr != nil {
				return nil, fmt.Errorf("context cancelled (%v) during retry backoff after error: %w", ctx.Err(), lastErr)
			}
			return nil, fmt.Errorf("context cancelled before first attempt: %w", ctx.Err())
		default:
		}

		// Backoff only before retry attempts, not the first
		if attempt > 0 {
			backoff := float64(initialRetryDelay) * math.Pow(2, float64(attempt-1))
			delay := time.Duration(backoff)
			if delay <= 0 || delay > maxRetryDelay {
				delay = maxRetryDelay
			}

			// Jitter: +/- 10% of the calculated delay
			var jitter time.Duration
			if delay > 0 {
				jitter = time.Duration(rand.Int63n(int64(delay)/5)) - (delay / 10)
			}
			finalDelay := delay + jitter
			if finalDelay < 0 {
				finalDelay = 0
			}

			reqLog.WithFields(logrus.Fields{"attempt": attempt, "max_retries": maxRetries, "delay": finalDelay}).Warn("Retrying request...")

			select {
			case <-time.After(finalDelay):
			case <-ctx.Done():
				reqLog.Warnf("Context cancelled during retry sleep: %v", ctx.Err())
				if lastErr != nil {
					return nil, fmt.Errorf("context cancelled (%v) during retry delay after error: %w", ctx.Err(), lastErr)
				}
				return nil, fmt.Errorf("context cancelled during retry delay: %w", ctx.Err())
			}
		}

		reqWithCtx := req.WithContext(ctx)
		currentResp, lastErr = f.client.Do(reqWithCtx)

		// Errors before an HTTP response (DNS, TCP, TLS)
		if lastErr != nil {
			if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
				reqLog.Warnf("Context cancelled/timed out during HTTP request execution: %v", lastErr)
				if currentResp != nil {
					io.Copy(io.Discard, currentResp.Body)
					currentResp.Body.Close()
				}
				return nil, lastErr
			}

			reqLog.WithField("attempt", attempt).Errorf("Network error: %v", lastErr)
			if currentResp != nil {
				io.Copy(io.Discard, currentResp.Body)
				currentResp.Body.Close()
			}
			continue
		}

		statusCode := currentResp.StatusCode
		resLog := reqLog.WithFields(logrus.Fields{"status_code": statusCode, "status": currentResp.Status, "attempt": attempt})

		switch {
		case statusCode >= 200 && statusCode < 300:
			resLog.Debug("Successfully fetched")
			return currentResp, nil

		case statusCode >= 500:
			resLog.Warn("Server error, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrServerHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		case statusCode == http.StatusTooManyRequests:
			resLog.Warn("Received 429 Too Many Requests, retrying...")
			lastErr = fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)
			io.Copy(io.Discard, currentResp.Body)
			currentResp.Body.Close()
			continue

		case statusCode >= 400 && statusCode < 500:
			resLog.Warn("Client error (4xx), not retrying")
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrClientHTTPError, statusCode, currentResp.Status)

		default:
			resLog.Warnf("Non-retryable/unexpected status: %d", statusCode)
			return currentResp, fmt.Errorf("%w: status %d %s", utils.ErrOtherHTTPError, statusCode, currentResp.Status)
		}
	}

	reqLog.Errorf("All %d fetch retries failed. Last error: %v", maxRetries+1, lastErr)
	if currentResp != nil {
		io.Copy(io.Discard, currentResp.Body)
		currentResp.Body.Close()
	}

	if lastErr != nil {
		if errors.Is(lastErr, context.Canceled) || errors.Is(lastErr, context.DeadlineExceeded) {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %w", utils.ErrRetryFailed, lastErr)
	}
	return nil, utils.ErrRetryFailed
}

// FetchPage retrieves both representations of a page: the static HTML from a
// plain GET and, when rendering is enabled, the DOM after JavaScript
// execution. Politeness (per-host delay and semaphore) and the global
// request cap are applied around the static request; the renderer bounds its
// own concurrency.
//
// A page with a usable static document is returned even when rendering fails;
// the render error surfaces only through logs and the absent rendered fields.
func (f *Fetcher) FetchPage(ctx context.Context, pageURL string, siteCfg config.SiteConfig) (*models.FetchedPage, error) {
	pageLog := f.log.WithField("url", pageURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", utils.ErrRequestCreation, err)
	}
	req.Header.Set("User-Agent", config.EffectiveUserAgent(siteCfg, *f.cfg))
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	req.Header.Set("Accept-Encoding", "gzip, deflate, br")

	host := req.URL.Hostname()

	semTimeout := f.cfg.SemaphoreAcquireTimeout
	ctxAcquire, cancelAcquire := context.WithTimeout(ctx, semTimeout)
	err = f.hostSems.Acquire(ctxAcquire, host)
	cancelAcquire()
	if err != nil {
		pageLog.Errorf("Error acquiring host semaphore: %v", err)
		return nil, fmt.Errorf("%w: host %s: %v", utils.ErrSemaphoreTimeout, host, err)
	}
	defer f.hostSems.Release(host)

	f.rateLimiter.ApplyDelay(ctx, host, config.EffectiveDelayPerHost(siteCfg, *f.cfg))

	ctxAcquire, cancelAcquire = context.WithTimeout(ctx, semTimeout)
	err = f.globalSem.Acquire(ctxAcquire, 1)
	cancelAcquire()
	if err != nil {
		pageLog.Errorf("Error acquiring global request semaphore: %v", err)
		return nil, fmt.Errorf("%w: global: %v", utils.ErrSemaphoreTimeout, err)
	}

	staticStart := time.Now()
	resp, fetchErr := f.FetchWithRetry(ctx, req)
	f.rateLimiter.UpdateLastRequestTime(host)
	f.globalSem.Release(1)

	page := &models.FetchedPage{
		URL:       pageURL,
		FetchedAt: time.Now(),
	}

	if fetchErr != nil {
		if resp != nil {
			// Non-retryable status: record it, drain, and report the error
			page.StatusCode = resp.StatusCode
			page.Headers = resp.Header
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return page, classifyFetchError(fetchErr)
	}
	defer resp.Body.Close()

	page.StatusCode = resp.StatusCode
	page.Headers = resp.Header

	body, err := readDecodedBody(resp, f.cfg.MaxPageSizeBytes)
	if err != nil {
		pageLog.Errorf("Error reading response body: %v", err)
		return page, fmt.Errorf("%w: %v", utils.ErrResponseBodyRead, err)
	}
	page.StaticFetchDuration = time.Since(staticStart)
	page.StaticHTML = string(body)
	page.StaticSize = int64(len(body))

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.StaticHTML))
	if err != nil {
		pageLog.Errorf("Error parsing static HTML: %v", err)
		return page, fmt.Errorf("%w: %v", utils.ErrParsing, err)
	}
	page.StaticDoc = doc

	if f.renderer != nil && f.cfg.EnableRendering {
		renderStart := time.Now()
		html, metrics, renderErr := f.renderer.Render(ctx, pageURL)
		if renderErr != nil {
			pageLog.Warnf("Rendered fetch failed, continuing with static only: %v", renderErr)
		} else {
			page.RenderedFetchDuration = time.Since(renderStart)
			page.RenderedHTML = html
			page.RenderedSize = int64(len(html))
			page.PerformanceMetrics = metrics
			renderedDoc, parseErr := goquery.NewDocumentFromReader(strings.NewReader(html))
			if parseErr != nil {
				pageLog.Warnf("Error parsing rendered HTML: %v", parseErr)
			} else {
				page.RenderedDoc = renderedDoc
			}
		}
	}

	return page, nil
}

// classifyFetchError maps transport-level failures onto the fetch sentinels
// so callers can branch on timeout vs connection errors.
func classifyFetchError(err error) error {
	var netErr net.Error
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", utils.ErrFetchTimeout, err)
	case errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", utils.ErrFetchTimeout, err)
	case errors.Is(err, utils.ErrClientHTTPError),
		errors.Is(err, utils.ErrServerHTTPError),
		errors.Is(err, utils.ErrOtherHTTPError),
		errors.Is(err, utils.ErrRetryFailed),
		errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", utils.ErrFetchConnection, err)
	}
}
