package models

// VerdictStatus is the outcome of one audit rule on one page
type VerdictStatus string

const (
	VerdictPass    VerdictStatus = "pass"
	VerdictFail    VerdictStatus = "fail"
	VerdictWarning VerdictStatus = "warning"
	VerdictInfo    VerdictStatus = "info"
	VerdictError   VerdictStatus = "error" // The rule itself could not run
)

// String implements fmt.Stringer for logging
func (s VerdictStatus) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the status is a known operational value
func (s VerdictStatus) IsValid() bool {
	switch s {
	case VerdictPass, VerdictFail, VerdictWarning, VerdictInfo, VerdictError:
		return true
	}
	return false
}

// Verdict is the boundary record produced by the rule catalog. The core
// collects and serializes these; it never interprets them.
type Verdict struct {
	URL            string        `json:"url"`
	RuleID         string        `json:"rule_id"`
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	Status         VerdictStatus `json:"status"`
	Severity       string        `json:"severity"`
	Message        string        `json:"message"`
	Recommendation string        `json:"recommendation,omitempty"`
}
