package cache

import (
	"site-auditor/pkg/parse"
	"site-auditor/pkg/utils"
)

// SiteID derives the per-site namespace identifier from the site root URL.
// The URL is normalized first so equivalent spellings of the root map to the
// same namespace. The result is a one-way hash: the URL is recoverable only
// from entry metadata, never from the identifier.
func SiteID(rootURL string) string {
	normalized, _, err := parse.ParseAndNormalize(rootURL)
	if err != nil {
		normalized = rootURL
	}
	return utils.HashID(normalized)
}

// EntryID derives the per-URL identifier within a site namespace.
func EntryID(pageURL string) string {
	normalized, _, err := parse.ParseAndNormalize(pageURL)
	if err != nil {
		normalized = pageURL
	}
	return utils.HashID(normalized)
}
