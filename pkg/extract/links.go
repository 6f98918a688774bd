package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"site-auditor/pkg/models"
	"site-auditor/pkg/parse"
)

// excludedExtensions lists path suffixes that are never crawlable pages
// (binary assets, media, and machine-readable formats).
var excludedExtensions = []string{
	".pdf", ".jpg", ".jpeg", ".png", ".gif", ".svg", ".webp",
	".zip", ".tar", ".gz", ".mp4", ".mp3", ".avi", ".mov",
	".doc", ".docx", ".xls", ".xlsx", ".ppt", ".pptx",
	".css", ".js", ".xml", ".json", ".txt",
}

// nonNavigableSchemes are href prefixes that never resolve to a fetchable page.
var nonNavigableSchemes = []string{"#", "javascript:", "mailto:", "tel:", "data:"}

// HasExcludedExtension reports whether the URL path ends in a file extension
// that should not be enqueued for crawling.
func HasExcludedExtension(u *url.URL) bool {
	lowerPath := strings.ToLower(u.Path)
	for _, ext := range excludedExtensions {
		if strings.HasSuffix(lowerPath, ext) {
			return true
		}
	}
	return false
}

// DocLinks extracts anchor hrefs from a parsed document, resolves them
// against base, and returns the absolute URL strings. Non-navigable hrefs
// (fragments, javascript:, mailto:, tel:) and unparseable values are skipped.
// No same-site or extension filtering happens here.
func DocLinks(doc *goquery.Document, base *url.URL) []string {
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" {
			return
		}
		for _, prefix := range nonNavigableSchemes {
			if strings.HasPrefix(strings.ToLower(href), prefix) {
				return
			}
		}
		resolved, err := base.Parse(href)
		if err != nil {
			return
		}
		links = append(links, resolved.String())
	})
	return links
}

// PageLink is one candidate link together with the DOM it was found in.
type PageLink struct {
	URL    string
	Method models.DiscoveryMethod
}

// PageLinks extracts the union of links from a page's static and rendered
// documents, deduplicated by normalized URL with the first occurrence
// winning. Order is deterministic: static links in source-document order
// first, then links that only appear after JavaScript execution, in rendered
// order. Links present in the static DOM are attributed to static discovery.
func PageLinks(page *models.FetchedPage) []PageLink {
	base, err := url.Parse(page.URL)
	if err != nil {
		return nil
	}

	var links []PageLink
	seen := make(map[string]struct{})
	collect := func(doc *goquery.Document, method models.DiscoveryMethod) {
		if doc == nil {
			return
		}
		for _, link := range DocLinks(doc, base) {
			normalized, _, err := parse.ParseAndNormalize(link)
			if err != nil {
				continue
			}
			if _, dup := seen[normalized]; dup {
				continue
			}
			seen[normalized] = struct{}{}
			links = append(links, PageLink{URL: normalized, Method: method})
		}
	}

	collect(page.StaticDoc, models.DiscoveryStatic)
	collect(page.RenderedDoc, models.DiscoveryRendered)
	return links
}
