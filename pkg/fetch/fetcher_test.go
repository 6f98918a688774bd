package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"site-auditor/pkg/config"
	"site-auditor/pkg/utils"
)

// testConfig returns an AppConfig with fast retry delays for testing
func testConfig(maxRetries int) *config.AppConfig {
	return &config.AppConfig{
		MaxRetries:              maxRetries,
		InitialRetryDelay:       10 * time.Millisecond,
		MaxRetryDelay:           50 * time.Millisecond,
		SemaphoreAcquireTimeout: 5 * time.Second,
		MaxPageSizeBytes:        10 * 1024 * 1024,
		DefaultUserAgent:        "site-auditor-test/1.0",
	}
}

// testLogger returns a logger that discards output
func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// testClient returns an http.Client suitable for testing
func testClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}

// newTestFetcher wires a Fetcher with no renderer and permissive limits
func newTestFetcher(t *testing.T, maxRetries int) *Fetcher {
	t.Helper()
	log := testLogger()
	rl := NewRateLimiter(0, log)
	pool := NewHostSemaphorePool(10, logrus.NewEntry(log))
	return NewFetcher(testClient(), testConfig(maxRetries), rl, pool, semaphore.NewWeighted(10), nil, log)
}

func TestFetchPage_GlobalRequestCap(t *testing.T) {
	var inFlight, peak atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := inFlight.Add(1)
		for {
			old := peak.Load()
			if now <= old || peak.CompareAndSwap(old, now) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, "<html><body>ok</body></html>")
	}))
	t.Cleanup(server.Close)

	log := testLogger()
	rl := NewRateLimiter(0, log)
	pool := NewHostSemaphorePool(10, logrus.NewEntry(log))
	f := NewFetcher(server.Client(), testConfig(0), rl, pool, semaphore.NewWeighted(1), nil, log)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.FetchPage(context.Background(), server.URL+"/", config.SiteConfig{}); err != nil {
				t.Errorf("FetchPage failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := peak.Load(); got != 1 {
		t.Errorf("expected at most 1 request in flight under a weight-1 cap, saw %d", got)
	}
}

// mockServer creates an httptest.Server that returns status codes in sequence.
// Returns the server and an atomic counter tracking request attempts.
func mockServer(t *testing.T, statusCodes []int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	attemptCount := &atomic.Int32{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idx := int(attemptCount.Add(1)) - 1
		if idx >= len(statusCodes) {
			idx = len(statusCodes) - 1 // repeat last status
		}
		w.WriteHeader(statusCodes[idx])
	}))
	t.Cleanup(server.Close)
	return server, attemptCount
}

func TestFetchWithRetry_Success(t *testing.T) {
	tests := []struct {
		name       string
		statusCode int
	}{
		{"200 OK", http.StatusOK},
		{"201 Created", http.StatusCreated},
		{"204 No Content", http.StatusNoContent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server, attempts := mockServer(t, []int{tt.statusCode})

			fetcher := newTestFetcher(t, 3)
			req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

			resp, err := fetcher.FetchWithRetry(context.Background(), req)
			if err != nil {
				t.Fatalf("expected success, got error: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.statusCode {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.statusCode)
			}
			if got := attempts.Load(); got != 1 {
				t.Errorf("attempts = %d, want 1", got)
			}
		})
	}
}

func TestFetchWithRetry_RetriesServerErrors(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusOK})

	fetcher := newTestFetcher(t, 3)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(context.Background(), req)
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestFetchWithRetry_DoesNotRetryClientErrors(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusNotFound})

	fetcher := newTestFetcher(t, 3)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(context.Background(), req)
	if err == nil {
		t.Fatal("expected error for 404, got nil")
	}
	if resp == nil {
		t.Fatal("expected response alongside 4xx error")
	}
	defer resp.Body.Close()

	if !errors.Is(err, utils.ErrClientHTTPError) {
		t.Errorf("error = %v, want ErrClientHTTPError", err)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1 (no retries on 4xx)", got)
	}
}

func TestFetchWithRetry_Retries429(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusTooManyRequests, http.StatusOK})

	fetcher := newTestFetcher(t, 3)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	resp, err := fetcher.FetchWithRetry(context.Background(), req)
	if err != nil {
		t.Fatalf("expected eventual success, got error: %v", err)
	}
	defer resp.Body.Close()

	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestFetchWithRetry_ExhaustsRetries(t *testing.T) {
	server, attempts := mockServer(t, []int{http.StatusInternalServerError})

	fetcher := newTestFetcher(t, 2)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	_, err := fetcher.FetchWithRetry(context.Background(), req)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, utils.ErrRetryFailed) {
		t.Errorf("error = %v, want ErrRetryFailed", err)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", got)
	}
}

func TestFetchWithRetry_ContextCancellation(t *testing.T) {
	server, _ := mockServer(t, []int{http.StatusInternalServerError})

	fetcher := newTestFetcher(t, 5)
	req, _ := http.NewRequest(http.MethodGet, server.URL, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := fetcher.FetchWithRetry(ctx, req)
	if err == nil {
		t.Fatal("expected error with cancelled context")
	}
}

func TestFetchPage_StaticOnly(t *testing.T) {
	const body = `<html><head><title>Home</title></head><body><a href="/about">About</a></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if ua := r.Header.Get("User-Agent"); ua != "site-auditor-test/1.0" {
			t.Errorf("User-Agent = %q, want site-auditor-test/1.0", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, body)
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(t, 1)
	page, err := fetcher.FetchPage(context.Background(), server.URL, config.SiteConfig{})
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}

	if page.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want 200", page.StatusCode)
	}
	if !page.HasStatic() {
		t.Fatal("expected static document to be present")
	}
	if page.HasRendered() {
		t.Error("expected no rendered document without a renderer")
	}
	if page.StaticSize != int64(len(body)) {
		t.Errorf("StaticSize = %d, want %d", page.StaticSize, len(body))
	}
	if title := page.StaticDoc.Find("title").Text(); title != "Home" {
		t.Errorf("parsed title = %q, want Home", title)
	}
	if page.StaticFetchDuration <= 0 {
		t.Error("expected positive StaticFetchDuration")
	}
}

func TestFetchPage_GzipEncodedBody(t *testing.T) {
	const body = `<html><head><title>Compressed</title></head><body></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/html")
		gz := gzip.NewWriter(w)
		io.WriteString(gz, body)
		gz.Close()
	}))
	t.Cleanup(server.Close)

	fetcher := newTestFetcher(t, 1)
	// Disable the client's automatic decompression so our decoder is exercised
	fetcher.client.Transport.(*http.Transport).DisableCompression = true

	page, err := fetcher.FetchPage(context.Background(), server.URL, config.SiteConfig{})
	if err != nil {
		t.Fatalf("FetchPage failed: %v", err)
	}
	if page.StaticHTML != body {
		t.Errorf("decoded body mismatch:\ngot:  %q\nwant: %q", page.StaticHTML, body)
	}
	if title := page.StaticDoc.Find("title").Text(); title != "Compressed" {
		t.Errorf("parsed title = %q, want Compressed", title)
	}
}

func TestFetchPage_NotFoundReturnsPageAndError(t *testing.T) {
	server, _ := mockServer(t, []int{http.StatusNotFound})

	fetcher := newTestFetcher(t, 1)
	page, err := fetcher.FetchPage(context.Background(), server.URL, config.SiteConfig{})
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !errors.Is(err, utils.ErrClientHTTPError) {
		t.Errorf("error = %v, want ErrClientHTTPError", err)
	}
	if page == nil {
		t.Fatal("expected page record even on failure")
	}
	if page.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", page.StatusCode)
	}
	if page.HasStatic() {
		t.Error("expected no static document on 404")
	}
}
