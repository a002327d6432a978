package domain

// ReviewVerdict represents the outcome of a code review
type ReviewVerdict string

const (
	VerdictApproved         ReviewVerdict = "approved"
	VerdictChangesRequested ReviewVerdict = "changes_requested"
	VerdictNeedsDiscussion  ReviewVerdict = "needs_discussion"
	VerdictPending          ReviewVerdict = "pending"
)

// Severity represents the severity of a review issue
type Severity string

const (
	SeverityNitpick  Severity = "nitpick"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// severityRank orders severities from nitpick (lowest) to critical (highest)
var severityRank = map[Severity]int{
	SeverityNitpick:  0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the severity's position in the total order, -1 if unknown
func (s Severity) Rank() int {
	if r, ok := severityRank[s]; ok {
		return r
	}
	return -1
}

// Blocking returns true if the severity blocks a merge
func (s Severity) Blocking() bool {
	return s.Rank() >= severityRank[SeverityHigh]
}

// ReviewIssue represents a single issue raised during review
type ReviewIssue struct {
	Severity    Severity
	Description string
	Location    string // "file:line", empty if the issue has no location
	Suggestion  string
}

// ReviewResult represents a parsed review with verdict and ordered issues
type ReviewResult struct {
	Verdict ReviewVerdict
	Issues  []ReviewIssue
	Summary string
}

// HasBlockingIssue returns true if any issue is severe enough to block merge
func (r ReviewResult) HasBlockingIssue() bool {
	for _, issue := range r.Issues {
		if issue.Severity.Blocking() {
			return true
		}
	}
	return false
}
