package fetch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"site-auditor/pkg/utils"
)

// Renderer captures a page's DOM after JavaScript execution. Implementations
// return the serialized HTML and any timing metrics the engine exposes.
type Renderer interface {
	Render(ctx context.Context, pageURL string) (html string, metrics map[string]float64, err error)
}

// RenderOptions configures the headless browser pipeline.
type RenderOptions struct {
	Timeout            time.Duration
	UserAgent          string
	MaxBodyBytes       int64
	ConcurrentSessions int
	CaptureDelay       time.Duration // settle time after document ready
}

// ChromedpRenderer executes headless Chrome sessions using chromedp.
// Concurrency is bounded by a session semaphore so a wide crawl doesn't
// spawn an unbounded number of browser processes.
type ChromedpRenderer struct {
	opts      RenderOptions
	semaphore chan struct{}
	log       *logrus.Logger
}

// NewChromedpRenderer constructs a renderer with bounded concurrency.
func NewChromedpRenderer(opts RenderOptions, log *logrus.Logger) *ChromedpRenderer {
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 10 * 1024 * 1024
	}
	if opts.ConcurrentSessions <= 0 {
		opts.ConcurrentSessions = 1
	}
	if opts.CaptureDelay <= 0 {
		opts.CaptureDelay = 250 * time.Millisecond
	}
	return &ChromedpRenderer{
		opts:      opts,
		semaphore: make(chan struct{}, opts.ConcurrentSessions),
		log:       log,
	}
}

// Render navigates to the target URL, waits for the document to settle, and
// exports the final DOM outer HTML plus navigation timing metrics.
func (r *ChromedpRenderer) Render(parentCtx context.Context, pageURL string) (string, map[string]float64, error) {
	renderLog := r.log.WithFields(logrus.Fields{"url": pageURL, "timeout": r.opts.Timeout})

	select {
	case r.semaphore <- struct{}{}:
		defer func() { <-r.semaphore }()
	case <-parentCtx.Done():
		return "", nil, parentCtx.Err()
	}

	ctx, cancel := context.WithTimeout(parentCtx, r.opts.Timeout)
	defer cancel()

	execOpts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
	}
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		execOpts = append(execOpts, chromedp.UserAgent(ua))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOpts...)
	defer allocCancel()

	chromeCtx, chromeCancel := chromedp.NewContext(allocCtx)
	defer chromeCancel()

	start := time.Now()
	var html string
	var timing map[string]float64

	err := chromedp.Run(chromeCtx,
		chromedp.Navigate(pageURL),
		waitForDocumentReady(renderLog),
		chromedp.Sleep(r.opts.CaptureDelay),
		chromedp.Evaluate(navigationTimingScript, &timing),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		renderLog.Errorf("chromedp run failed: %v", err)
		return "", nil, fmt.Errorf("%w: %v", utils.ErrRenderUnavailable, err)
	}

	if int64(len(html)) > r.opts.MaxBodyBytes {
		html = html[:r.opts.MaxBodyBytes]
	}

	latency := time.Since(start)
	if timing == nil {
		timing = make(map[string]float64)
	}
	timing["render_duration_ms"] = float64(latency.Milliseconds())

	renderLog.WithFields(logrus.Fields{
		"latency_ms": latency.Milliseconds(),
		"html_bytes": len(html),
	}).Debug("chromedp render complete")
	return html, timing, nil
}

// navigationTimingScript derives coarse page-load metrics from the
// Navigation Timing API. Values are milliseconds since navigation start.
const navigationTimingScript = `(() => {
	const t = performance.timing;
	const base = t.navigationStart;
	const m = {};
	if (t.responseStart > 0) m.time_to_first_byte_ms = t.responseStart - base;
	if (t.domContentLoadedEventEnd > 0) m.dom_content_loaded_ms = t.domContentLoadedEventEnd - base;
	if (t.loadEventEnd > 0) m.load_event_ms = t.loadEventEnd - base;
	return m;
})()`

func waitForDocumentReady(log *logrus.Entry) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				log.Warnf("waitForDocumentReady evaluate failed: %v", err)
				return err
			}
			if readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
