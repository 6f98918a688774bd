package parse

import (
	"encoding/xml"
	"fmt"

	"site-auditor/pkg/utils"
)

// --- XML Structs for Sitemap Parsing ---

// XMLURL represents a <url> element in a sitemap
type XMLURL struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLURLSet represents a <urlset> element in a sitemap
type XMLURLSet struct {
	XMLName xml.Name `xml:"urlset"`
	URLs    []XMLURL `xml:"url"`
}

// XMLSitemap represents a <sitemap> element in a sitemap index file
type XMLSitemap struct {
	Loc     string `xml:"loc"`
	LastMod string `xml:"lastmod,omitempty"`
}

// XMLSitemapIndex represents a <sitemapindex> element
type XMLSitemapIndex struct {
	XMLName  xml.Name     `xml:"sitemapindex"`
	Sitemaps []XMLSitemap `xml:"sitemap"`
}

// SitemapContent holds the result of parsing one sitemap document: either
// page URLs (urlset) or nested sitemap URLs (sitemapindex), never both.
type SitemapContent struct {
	PageURLs    []string
	SitemapURLs []string
}

// ParseSitemap decodes sitemap XML, accepting both <urlset> and
// <sitemapindex> roots.
func ParseSitemap(data []byte) (*SitemapContent, error) {
	var urlset XMLURLSet
	if err := xml.Unmarshal(data, &urlset); err == nil && urlset.XMLName.Local == "urlset" {
		content := &SitemapContent{}
		for _, u := range urlset.URLs {
			if u.Loc != "" {
				content.PageURLs = append(content.PageURLs, u.Loc)
			}
		}
		return content, nil
	}

	var index XMLSitemapIndex
	if err := xml.Unmarshal(data, &index); err == nil && index.XMLName.Local == "sitemapindex" {
		content := &SitemapContent{}
		for _, sm := range index.Sitemaps {
			if sm.Loc != "" {
				content.SitemapURLs = append(content.SitemapURLs, sm.Loc)
			}
		}
		return content, nil
	}

	return nil, fmt.Errorf("%w: XML is neither urlset nor sitemapindex", utils.ErrParsing)
}
