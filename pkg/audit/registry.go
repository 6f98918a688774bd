package audit

import (
	"fmt"
	"sort"

	"site-auditor/pkg/models"
)

// Rule is a single-page audit check. Check receives a fetched page and
// returns its verdict; a nil verdict means the rule does not apply to the
// page (e.g. non-HTML responses).
type Rule struct {
	ID       string
	Name     string
	Category string
	Severity string
	Check    func(page *models.FetchedPage) *models.Verdict
}

// Registry holds the rules an audit run executes. Rules are registered
// explicitly at startup; there is no init-time magic.
type Registry struct {
	rules []Rule
	byID  map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]struct{})}
}

// Register adds a rule. Duplicate IDs and rules without a Check function
// are programming errors and rejected.
func (r *Registry) Register(rule Rule) error {
	if rule.ID == "" || rule.Check == nil {
		return fmt.Errorf("rule must have an ID and a Check function")
	}
	if _, exists := r.byID[rule.ID]; exists {
		return fmt.Errorf("duplicate rule ID %q", rule.ID)
	}
	r.byID[rule.ID] = struct{}{}
	r.rules = append(r.rules, rule)
	return nil
}

// Rules returns registered rules sorted by ID for deterministic run order.
func (r *Registry) Rules() []Rule {
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Run applies every registered rule to the page. A panicking rule is
// converted into an error verdict so one bad rule cannot abort a run.
func (r *Registry) Run(page *models.FetchedPage) []models.Verdict {
	var verdicts []models.Verdict
	for _, rule := range r.Rules() {
		v := runRule(rule, page)
		if v != nil {
			verdicts = append(verdicts, *v)
		}
	}
	return verdicts
}

func runRule(rule Rule, page *models.FetchedPage) (verdict *models.Verdict) {
	defer func() {
		if rec := recover(); rec != nil {
			verdict = &models.Verdict{
				URL:      page.URL,
				RuleID:   rule.ID,
				Name:     rule.Name,
				Category: rule.Category,
				Status:   models.VerdictError,
				Severity: rule.Severity,
				Message:  fmt.Sprintf("rule panicked: %v", rec),
			}
		}
	}()

	v := rule.Check(page)
	if v == nil {
		return nil
	}
	// The rule only has to fill URL-independent fields
	if v.URL == "" {
		v.URL = page.URL
	}
	v.RuleID = rule.ID
	if v.Name == "" {
		v.Name = rule.Name
	}
	if v.Category == "" {
		v.Category = rule.Category
	}
	if v.Severity == "" {
		v.Severity = rule.Severity
	}
	return v
}
