package parse

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"lowercases scheme and host", "HTTP://Example.COM/Path", "http://example.com/Path"},
		{"strips default http port", "http://example.com:80/a", "http://example.com/a"},
		{"strips default https port", "https://example.com:443/a", "https://example.com/a"},
		{"keeps non-default port", "http://example.com:8080/a", "http://example.com:8080/a"},
		{"empty path becomes root", "https://example.com", "https://example.com/"},
		{"root slash kept", "https://example.com/", "https://example.com/"},
		{"trailing slash trimmed", "https://example.com/docs/", "https://example.com/docs"},
		{"fragment removed", "https://example.com/a#section", "https://example.com/a"},
		{"query kept", "https://example.com/a?page=2", "https://example.com/a?page=2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeURL(mustURL(t, tt.in)))
		})
	}
}

func TestNormalizeURLNil(t *testing.T) {
	assert.Equal(t, "", NormalizeURL(nil))
}

func TestNormalizeURLDoesNotMutateInput(t *testing.T) {
	u := mustURL(t, "HTTPS://Example.com/docs/#frag")
	_ = NormalizeURL(u)
	assert.Equal(t, "Example.com", u.Host)
	assert.Equal(t, "frag", u.Fragment)
}

func TestParseAndNormalize(t *testing.T) {
	normalized, parsed, err := ParseAndNormalize("https://Example.com/a/")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", normalized)
	assert.Equal(t, "Example.com", parsed.Host)

	_, _, err = ParseAndNormalize("not a url")
	assert.Error(t, err)

	// ParseRequestURI requires an absolute URL
	_, _, err = ParseAndNormalize("/relative/only")
	assert.NoError(t, err) // absolute path is accepted by ParseRequestURI
	_, _, err = ParseAndNormalize("relative/only")
	assert.Error(t, err)
}

func TestSiteHost(t *testing.T) {
	assert.Equal(t, "example.com", SiteHost(mustURL(t, "https://Example.com/x")))
	assert.Equal(t, "example.com", SiteHost(mustURL(t, "https://www.example.com/")))
	assert.Equal(t, "example.com", SiteHost(mustURL(t, "https://example.com:8443/")))
	assert.Equal(t, "", SiteHost(nil))
}

func TestSameSite(t *testing.T) {
	seed := mustURL(t, "https://example.com/")

	tests := []struct {
		name            string
		candidate       string
		allowSubdomains bool
		want            bool
	}{
		{"same host", "https://example.com/page", false, true},
		{"www variant", "https://www.example.com/page", false, true},
		{"different host", "https://other.org/page", false, false},
		{"subdomain rejected by default", "https://blog.example.com/x", false, false},
		{"subdomain allowed when enabled", "https://blog.example.com/x", true, true},
		{"suffix that is not a subdomain", "https://notexample.com/x", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SameSite(seed, mustURL(t, tt.candidate), tt.allowSubdomains)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseSitemapURLSet(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc>https://example.com/</loc><lastmod>2024-01-01</lastmod></url>
  <url><loc>https://example.com/about</loc></url>
  <url><loc></loc></url>
</urlset>`)

	content, err := ParseSitemap(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.com/", "https://example.com/about"}, content.PageURLs)
	assert.Empty(t, content.SitemapURLs)
}

func TestParseSitemapIndex(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="UTF-8"?>
<sitemapindex xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <sitemap><loc>https://example.com/sitemap-pages.xml</loc></sitemap>
  <sitemap><loc>https://example.com/sitemap-posts.xml</loc></sitemap>
</sitemapindex>`)

	content, err := ParseSitemap(data)
	require.NoError(t, err)
	assert.Empty(t, content.PageURLs)
	assert.Equal(t, []string{
		"https://example.com/sitemap-pages.xml",
		"https://example.com/sitemap-posts.xml",
	}, content.SitemapURLs)
}

func TestParseSitemapRejectsOtherXML(t *testing.T) {
	_, err := ParseSitemap([]byte(`<rss version="2.0"><channel></channel></rss>`))
	assert.Error(t, err)

	_, err = ParseSitemap([]byte(`not xml at all`))
	assert.Error(t, err)
}
