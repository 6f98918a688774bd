package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestAppConfigValidateDefaults(t *testing.T) {
	var cfg AppConfig

	warnings, err := cfg.Validate()
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)

	assert.Equal(t, 4, cfg.WorkerConcurrency)
	assert.Equal(t, 10, cfg.MaxRequests)
	assert.Equal(t, 2, cfg.MaxRequestsPerHost)
	assert.Equal(t, 30*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialRetryDelay)
	assert.Equal(t, "fs", cfg.CacheBackend)
	assert.Equal(t, "./content_cache", cfg.CacheDir)
	assert.Equal(t, "./audit_output", cfg.OutputBaseDir)
	assert.EqualValues(t, 10<<20, cfg.MaxPageSizeBytes)
	assert.Equal(t, cfg.RequestTimeout, cfg.HTTPClientSettings.Timeout)
}

func TestAppConfigValidateFatal(t *testing.T) {
	cfg := AppConfig{WorkerConcurrency: -1}
	_, err := cfg.Validate()
	assert.Error(t, err)

	cfg = AppConfig{CacheBackend: "sqlite"}
	_, err = cfg.Validate()
	assert.Error(t, err)
}

func TestSiteConfigValidate(t *testing.T) {
	sc := SiteConfig{SeedURLs: []string{"https://example.com/"}}

	warnings, err := sc.Validate()
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Equal(t, 3, sc.MaxDepth)
	assert.Equal(t, 1000, sc.MaxURLs)
}

func TestSiteConfigValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  SiteConfig
	}{
		{"no seeds", SiteConfig{}},
		{"unparseable seed", SiteConfig{SeedURLs: []string{"::not a url"}}},
		{"non-http scheme", SiteConfig{SeedURLs: []string{"ftp://example.com/"}}},
		{"missing host", SiteConfig{SeedURLs: []string{"https:///path"}}},
		{"negative depth", SiteConfig{SeedURLs: []string{"https://example.com/"}, MaxDepth: -1}},
		{"negative budget", SiteConfig{SeedURLs: []string{"https://example.com/"}, MaxURLs: -5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.cfg.Validate()
			assert.Error(t, err)
		})
	}
}

func TestSiteConfigNegativeCacheAgeBecomesNoLimit(t *testing.T) {
	sc := SiteConfig{SeedURLs: []string{"https://example.com/"}, MaxCacheAge: -time.Hour}
	warnings, err := sc.Validate()
	require.NoError(t, err)
	assert.NotEmpty(t, warnings)
	assert.Equal(t, time.Duration(0), sc.MaxCacheAge)
}

func TestEffectiveUserAgent(t *testing.T) {
	app := AppConfig{DefaultUserAgent: "global-ua"}

	assert.Equal(t, "site-ua", EffectiveUserAgent(SiteConfig{UserAgent: "site-ua"}, app))
	assert.Equal(t, "global-ua", EffectiveUserAgent(SiteConfig{}, app))
	assert.Equal(t, "site-auditor/1.0", EffectiveUserAgent(SiteConfig{}, AppConfig{}))
}

func TestEffectiveDelayPerHost(t *testing.T) {
	app := AppConfig{DefaultDelayPerHost: 2 * time.Second}

	assert.Equal(t, time.Second, EffectiveDelayPerHost(SiteConfig{DelayPerHost: time.Second}, app))
	assert.Equal(t, 2*time.Second, EffectiveDelayPerHost(SiteConfig{}, app))
}

func TestConfigUnmarshalYAML(t *testing.T) {
	raw := `
default_user_agent: "auditor/2.0"
worker_concurrency: 8
cache_dir: /var/cache/auditor
cache_backend: badger
sites:
  demo:
    seed_urls: ["https://example.com/"]
    max_depth: 2
    max_urls: 50
    max_cache_age: 24h
    persist_css: true
    seed_from_sitemap: true
`
	var cfg AppConfig
	require.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	assert.Equal(t, "auditor/2.0", cfg.DefaultUserAgent)
	assert.Equal(t, 8, cfg.WorkerConcurrency)
	assert.Equal(t, "badger", cfg.CacheBackend)

	site, ok := cfg.Sites["demo"]
	require.True(t, ok)
	assert.Equal(t, []string{"https://example.com/"}, site.SeedURLs)
	assert.Equal(t, 2, site.MaxDepth)
	assert.Equal(t, 50, site.MaxURLs)
	assert.Equal(t, 24*time.Hour, site.MaxCacheAge)
	assert.True(t, site.PersistCSS)
	assert.True(t, site.SeedFromSitemap)
}
