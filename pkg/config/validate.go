package config

import (
	"fmt"
	"net/url"
	"time"

	"site-auditor/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// WorkerConcurrency
	if c.WorkerConcurrency < 0 {
		return warnings, fmt.Errorf("%w: worker_concurrency cannot be negative (%d)",
			utils.ErrConfigValidation, c.WorkerConcurrency)
	}
	if c.WorkerConcurrency == 0 {
		warnings = append(warnings, "worker_concurrency not set, defaulting to 4")
		c.WorkerConcurrency = 4
	}

	// MaxRequests
	if c.MaxRequests <= 0 {
		warnings = append(warnings, "max_requests should be > 0, defaulting to 10")
		c.MaxRequests = 10
	}

	// MaxRequestsPerHost
	if c.MaxRequestsPerHost <= 0 {
		warnings = append(warnings, "max_requests_per_host should be > 0, defaulting to 2")
		c.MaxRequestsPerHost = 2
	}

	// RequestTimeout
	if c.RequestTimeout < 0 {
		warnings = append(warnings, "request_timeout cannot be negative, defaulting to 30s")
		c.RequestTimeout = 0
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 30 * time.Second
	}

	// MaxRetries
	if c.MaxRetries < 0 {
		warnings = append(warnings, "max_retries cannot be negative, setting to 0")
		c.MaxRetries = 0
	}
	if c.MaxRetries == 0 && c.InitialRetryDelay == 0 {
		c.MaxRetries = 3
	}

	// Retry delays (only if retries enabled)
	if c.MaxRetries > 0 {
		if c.InitialRetryDelay <= 0 {
			c.InitialRetryDelay = 1 * time.Second
		}
		if c.MaxRetryDelay <= 0 {
			c.MaxRetryDelay = 30 * time.Second
		}
	}
	if c.InitialRetryDelay > c.MaxRetryDelay && c.MaxRetryDelay > 0 {
		warnings = append(warnings, fmt.Sprintf(
			"initial_retry_delay (%v) > max_retry_delay (%v), using max_retry_delay for initial",
			c.InitialRetryDelay, c.MaxRetryDelay))
		c.InitialRetryDelay = c.MaxRetryDelay
	}

	// SemaphoreAcquireTimeout
	if c.SemaphoreAcquireTimeout <= 0 {
		c.SemaphoreAcquireTimeout = 30 * time.Second
	}

	// GlobalCrawlTimeout
	if c.GlobalCrawlTimeout < 0 {
		warnings = append(warnings, "global_crawl_timeout cannot be negative, disabling timeout")
		c.GlobalCrawlTimeout = 0
	}

	// MaxPageSizeBytes
	if c.MaxPageSizeBytes <= 0 {
		c.MaxPageSizeBytes = 10 << 20 // 10 MiB
	}

	// Rendering
	if c.RenderTimeout <= 0 {
		c.RenderTimeout = 60 * time.Second
	}
	if c.RenderSessions <= 0 {
		c.RenderSessions = 2
	}

	// CacheDir
	if c.CacheDir == "" {
		warnings = append(warnings, "cache_dir is empty, defaulting to './content_cache'")
		c.CacheDir = "./content_cache"
	}

	// CacheBackend
	switch c.CacheBackend {
	case "":
		c.CacheBackend = "fs"
	case "fs", "badger":
	default:
		return warnings, fmt.Errorf("%w: unknown cache_backend '%s' (want 'fs' or 'badger')",
			utils.ErrConfigValidation, c.CacheBackend)
	}

	// OutputBaseDir
	if c.OutputBaseDir == "" {
		warnings = append(warnings, "output_base_dir is empty, defaulting to './audit_output'")
		c.OutputBaseDir = "./audit_output"
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = c.RequestTimeout
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 100
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 4
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.ExpectContinueTimeout <= 0 {
		h.ExpectContinueTimeout = 1 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
}

// Validate checks SiteConfig fields. Errors here are fatal at crawl-start
// time, before any network activity.
func (sc *SiteConfig) Validate() (warnings []string, err error) {
	if len(sc.SeedURLs) == 0 {
		return warnings, fmt.Errorf("%w: seed_urls must not be empty", utils.ErrConfigValidation)
	}
	for _, seed := range sc.SeedURLs {
		parsed, parseErr := url.ParseRequestURI(seed)
		if parseErr != nil {
			return warnings, fmt.Errorf("%w: invalid seed URL '%s': %v",
				utils.ErrConfigValidation, seed, parseErr)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return warnings, fmt.Errorf("%w: seed URL '%s' must be http(s)",
				utils.ErrConfigValidation, seed)
		}
		if parsed.Hostname() == "" {
			return warnings, fmt.Errorf("%w: seed URL '%s' missing host",
				utils.ErrConfigValidation, seed)
		}
	}

	if sc.MaxDepth < 0 {
		return warnings, fmt.Errorf("%w: max_depth cannot be negative (%d)",
			utils.ErrConfigValidation, sc.MaxDepth)
	}
	if sc.MaxDepth == 0 {
		warnings = append(warnings, "max_depth not set, defaulting to 3")
		sc.MaxDepth = 3
	}

	if sc.MaxURLs < 0 {
		return warnings, fmt.Errorf("%w: max_urls cannot be negative (%d)",
			utils.ErrConfigValidation, sc.MaxURLs)
	}
	if sc.MaxURLs == 0 {
		warnings = append(warnings, "max_urls not set, defaulting to 1000")
		sc.MaxURLs = 1000
	}

	if sc.MaxCacheAge < 0 {
		warnings = append(warnings, "max_cache_age cannot be negative, treating as no limit")
		sc.MaxCacheAge = 0
	}

	return warnings, nil
}
