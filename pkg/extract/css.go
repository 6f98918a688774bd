package extract

import (
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// inlineBlockSeparator delimits concatenated <style> blocks so the combined
// stylesheet remains attributable to its source blocks.
const inlineBlockSeparator = "\n\n/* ===== INLINE STYLE BLOCK ===== */\n\n"

// CSSArtifacts holds the style information extracted from a document.
type CSSArtifacts struct {
	// Inline is the concatenation of all <style> element contents,
	// separated by block markers. Empty when the page has no inline styles.
	Inline string
	// ExternalURLs are the resolved hrefs of <link rel="stylesheet"> elements.
	ExternalURLs []string
}

// ExtractCSS collects inline style blocks and external stylesheet references
// from a parsed document. Relative stylesheet hrefs are resolved against base.
func ExtractCSS(doc *goquery.Document, base *url.URL) CSSArtifacts {
	var artifacts CSSArtifacts

	var inlineBlocks []string
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		text := s.Text()
		if strings.TrimSpace(text) != "" {
			inlineBlocks = append(inlineBlocks, text)
		}
	})
	artifacts.Inline = strings.Join(inlineBlocks, inlineBlockSeparator)

	doc.Find(`link[rel="stylesheet"]`).Each(func(_ int, s *goquery.Selection) {
		href, exists := s.Attr("href")
		if !exists || strings.TrimSpace(href) == "" {
			return
		}
		resolved, err := base.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		artifacts.ExternalURLs = append(artifacts.ExternalURLs, resolved.String())
	})

	return artifacts
}
