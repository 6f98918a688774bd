package config

import "time"

// SiteConfig holds configuration specific to a single audited site
type SiteConfig struct {
	SeedURLs        []string      `yaml:"seed_urls"`
	MaxDepth        int           `yaml:"max_depth"`
	MaxURLs         int           `yaml:"max_urls"`
	AllowSubdomains bool          `yaml:"allow_subdomains,omitempty"`
	RespectRobots   bool          `yaml:"respect_robots,omitempty"`
	SeedFromSitemap bool          `yaml:"seed_from_sitemap,omitempty"`
	UserAgent       string        `yaml:"user_agent,omitempty"`
	DelayPerHost    time.Duration `yaml:"delay_per_host,omitempty"`
	MaxCacheAge     time.Duration `yaml:"max_cache_age,omitempty"` // 0 = no limit
	PersistCSS      bool          `yaml:"persist_css,omitempty"`
}

// AppConfig holds the global application configuration
type AppConfig struct {
	DefaultUserAgent    string        `yaml:"default_user_agent"`
	DefaultDelayPerHost time.Duration `yaml:"default_delay_per_host"`

	WorkerConcurrency  int           `yaml:"worker_concurrency"`
	MaxRequests        int           `yaml:"max_requests"`
	MaxRequestsPerHost int           `yaml:"max_requests_per_host"`
	RequestTimeout     time.Duration `yaml:"request_timeout,omitempty"`
	GlobalCrawlTimeout time.Duration `yaml:"global_crawl_timeout,omitempty"`

	MaxRetries        int           `yaml:"max_retries,omitempty"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay,omitempty"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay,omitempty"`

	SemaphoreAcquireTimeout time.Duration `yaml:"semaphore_acquire_timeout,omitempty"`
	MaxPageSizeBytes        int64         `yaml:"max_page_size_bytes,omitempty"`

	EnableRendering bool          `yaml:"enable_rendering,omitempty"`
	RenderTimeout   time.Duration `yaml:"render_timeout,omitempty"`
	RenderSessions  int           `yaml:"render_sessions,omitempty"` // concurrent browser pages

	CacheDir        string `yaml:"cache_dir"`
	CacheBackend    string `yaml:"cache_backend,omitempty"` // "fs" (default) or "badger"
	BestEffortCache bool   `yaml:"best_effort_cache,omitempty"`

	OutputBaseDir string `yaml:"output_base_dir"`

	HTTPClientSettings HTTPClientConfig      `yaml:"http_client_settings,omitempty"`
	Sites              map[string]SiteConfig `yaml:"sites"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout               time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns          int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost   int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout       time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout   time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	ExpectContinueTimeout time.Duration `yaml:"expect_continue_timeout,omitempty"` // Timeout for 100-continue
	ForceAttemptHTTP2     *bool         `yaml:"force_attempt_http2,omitempty"`     // nil=default, true=force, false=disable
	DialerTimeout         time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive       time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
}

// EffectiveUserAgent returns the site user agent, falling back to the global
// default and finally a hardcoded string.
func EffectiveUserAgent(siteCfg SiteConfig, appCfg AppConfig) string {
	if siteCfg.UserAgent != "" {
		return siteCfg.UserAgent
	}
	if appCfg.DefaultUserAgent != "" {
		return appCfg.DefaultUserAgent
	}
	return "site-auditor/1.0"
}

// EffectiveDelayPerHost returns the site politeness delay, falling back to
// the global default.
func EffectiveDelayPerHost(siteCfg SiteConfig, appCfg AppConfig) time.Duration {
	if siteCfg.DelayPerHost > 0 {
		return siteCfg.DelayPerHost
	}
	return appCfg.DefaultDelayPerHost
}
