package audit

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"site-auditor/pkg/models"
)

// generatorSignature identifies a site generator / CMS from DOM traits when
// no meta generator tag is present.
type generatorSignature struct {
	name     string
	selector string
}

var generatorSignatures = []generatorSignature{
	{"Next.js", "script#__NEXT_DATA__"},
	{"Nuxt", "#__nuxt"},
	{"Gatsby", "#___gatsby"},
	{"Docusaurus", "#__docusaurus"},
	{"WordPress", `link[href*="wp-content"]`},
	{"Shopify", `link[href*="cdn.shopify.com"]`},
	{"Squarespace", `script[src*="squarespace"]`},
}

// RegisterGeneratorRule installs the generator-detection rule. It only ever
// produces info verdicts; knowing the CMS helps interpret the rest of an
// audit report.
func RegisterGeneratorRule(r *Registry) error {
	return r.Register(Rule{
		ID:       "tech-generator",
		Name:     "Site generator detection",
		Category: "technology",
		Severity: "info",
		Check:    checkGenerator,
	})
}

func checkGenerator(page *models.FetchedPage) *models.Verdict {
	doc := auditDoc(page)
	if doc == nil {
		return nil
	}

	if name := detectGenerator(doc); name != "" {
		return &models.Verdict{
			Status:  models.VerdictInfo,
			Message: fmt.Sprintf("generator detected: %s", name),
		}
	}
	return &models.Verdict{
		Status:  models.VerdictInfo,
		Message: "no generator detected",
	}
}

func detectGenerator(doc *goquery.Document) string {
	// The meta tag is authoritative when present
	if content, ok := doc.Find(`head meta[name="generator"]`).First().Attr("content"); ok {
		if content = strings.TrimSpace(content); content != "" {
			return content
		}
	}
	for _, sig := range generatorSignatures {
		if doc.Find(sig.selector).Length() > 0 {
			return sig.name
		}
	}
	return ""
}
