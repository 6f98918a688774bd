package audit

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"site-auditor/pkg/models"
)

// RegisterBuiltinRules installs the built-in single-page checks.
func RegisterBuiltinRules(r *Registry) error {
	rules := []Rule{
		{
			ID:       "meta-title-present",
			Name:     "Title tag present",
			Category: "meta",
			Severity: "high",
			Check:    checkTitlePresent,
		},
		{
			ID:       "meta-description-present",
			Name:     "Meta description present",
			Category: "meta",
			Severity: "medium",
			Check:    checkMetaDescription,
		},
		{
			ID:       "headings-single-h1",
			Name:     "Exactly one H1",
			Category: "headings",
			Severity: "medium",
			Check:    checkSingleH1,
		},
		{
			ID:       "indexability-noindex",
			Name:     "Page is indexable",
			Category: "indexability",
			Severity: "high",
			Check:    checkNoindex,
		},
		{
			ID:       "http-status-ok",
			Name:     "HTTP status is successful",
			Category: "http",
			Severity: "high",
			Check:    checkStatusClass,
		},
	}
	for _, rule := range rules {
		if err := r.Register(rule); err != nil {
			return err
		}
	}
	return nil
}

// auditDoc prefers the rendered DOM when one was captured: meta tags
// injected by client-side code are part of what search engines see.
func auditDoc(page *models.FetchedPage) *goquery.Document {
	if page.RenderedDoc != nil {
		return page.RenderedDoc
	}
	return page.StaticDoc
}

func checkTitlePresent(page *models.FetchedPage) *models.Verdict {
	doc := auditDoc(page)
	if doc == nil {
		return nil
	}
	title := strings.TrimSpace(doc.Find("head title").First().Text())
	if title == "" {
		return &models.Verdict{
			Status:         models.VerdictFail,
			Message:        "page has no <title> tag or it is empty",
			Recommendation: "add a unique, descriptive title of roughly 50-60 characters",
		}
	}
	return &models.Verdict{
		Status:  models.VerdictPass,
		Message: fmt.Sprintf("title present (%d characters)", len(title)),
	}
}

func checkMetaDescription(page *models.FetchedPage) *models.Verdict {
	doc := auditDoc(page)
	if doc == nil {
		return nil
	}
	desc, exists := doc.Find(`head meta[name="description"]`).First().Attr("content")
	desc = strings.TrimSpace(desc)
	if !exists || desc == "" {
		return &models.Verdict{
			Status:         models.VerdictFail,
			Message:        "no meta description",
			Recommendation: "add a meta description summarizing the page in 150-160 characters",
		}
	}
	return &models.Verdict{
		Status:  models.VerdictPass,
		Message: fmt.Sprintf("meta description present (%d characters)", len(desc)),
	}
}

func checkSingleH1(page *models.FetchedPage) *models.Verdict {
	doc := auditDoc(page)
	if doc == nil {
		return nil
	}
	count := doc.Find("h1").Length()
	switch {
	case count == 1:
		return &models.Verdict{Status: models.VerdictPass, Message: "exactly one H1"}
	case count == 0:
		return &models.Verdict{
			Status:         models.VerdictFail,
			Message:        "no H1 heading",
			Recommendation: "add a single H1 describing the page topic",
		}
	default:
		return &models.Verdict{
			Status:         models.VerdictWarning,
			Message:        fmt.Sprintf("%d H1 headings found", count),
			Recommendation: "keep one H1 per page and demote the rest",
		}
	}
}

func checkNoindex(page *models.FetchedPage) *models.Verdict {
	// X-Robots-Tag applies regardless of document parsing
	for _, v := range page.Headers.Values("X-Robots-Tag") {
		if strings.Contains(strings.ToLower(v), "noindex") {
			return &models.Verdict{
				Status:         models.VerdictFail,
				Message:        "X-Robots-Tag header contains noindex",
				Recommendation: "remove the noindex directive if this page should rank",
			}
		}
	}

	doc := auditDoc(page)
	if doc == nil {
		return nil
	}
	noindex := false
	doc.Find(`head meta[name="robots"]`).Each(func(_ int, s *goquery.Selection) {
		if strings.Contains(strings.ToLower(s.AttrOr("content", "")), "noindex") {
			noindex = true
		}
	})
	if noindex {
		return &models.Verdict{
			Status:         models.VerdictFail,
			Message:        "robots meta tag contains noindex",
			Recommendation: "remove the noindex directive if this page should rank",
		}
	}
	return &models.Verdict{Status: models.VerdictPass, Message: "page is indexable"}
}

func checkStatusClass(page *models.FetchedPage) *models.Verdict {
	switch {
	case page.StatusCode >= 200 && page.StatusCode < 300:
		return &models.Verdict{
			Status:  models.VerdictPass,
			Message: fmt.Sprintf("status %d", page.StatusCode),
		}
	case page.StatusCode >= 300 && page.StatusCode < 400:
		return &models.Verdict{
			Status:         models.VerdictWarning,
			Message:        fmt.Sprintf("redirect status %d served as page content", page.StatusCode),
			Recommendation: "link directly to the redirect target",
		}
	default:
		return &models.Verdict{
			Status:         models.VerdictFail,
			Message:        fmt.Sprintf("error status %d", page.StatusCode),
			Recommendation: "fix or remove links to this URL",
		}
	}
}
