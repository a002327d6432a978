// Package review parses free-text review output into structured results.
// The parser sits behind a small interface so that a structured review
// source (provider API, annotated JSON) can replace it without touching
// evaluator decision logic.
package review

import (
	"regexp"
	"strings"

	"github.com/hanibalsk/autodev/internal/domain"
)

// Parser turns raw review output into a structured ReviewResult
type Parser interface {
	Parse(text string) domain.ReviewResult
}

// TextParser parses free-text reviews with an explicit verdict marker,
// keyword inference, and bracketed severity issue lines.
type TextParser struct{}

// NewTextParser creates a free-text review parser
func NewTextParser() *TextParser {
	return &TextParser{}
}

var (
	// Explicit "Verdict: CHANGES_REQUESTED" style marker
	verdictPattern = regexp.MustCompile(`(?im)^\s*verdict:\s*([a-z_ ]+?)\s*$`)

	// "file.go:42: [high] description" with a source location
	locatedIssuePattern = regexp.MustCompile(`(?im)^\s*([\w./\-]+:\d+):?\s*\[(\w+)\]\s*(.+?)\s*$`)

	// "[high] description" without a location
	bareIssuePattern = regexp.MustCompile(`(?im)^\s*\[(\w+)\]\s*(.+?)\s*$`)
)

// Parse extracts the verdict and ordered issues from review text
func (p *TextParser) Parse(text string) domain.ReviewResult {
	return domain.ReviewResult{
		Verdict: p.parseVerdict(text),
		Issues:  p.parseIssues(text),
		Summary: firstLine(text),
	}
}

func (p *TextParser) parseVerdict(text string) domain.ReviewVerdict {
	if m := verdictPattern.FindStringSubmatch(text); m != nil {
		if verdict, ok := normalizeVerdict(m[1]); ok {
			return verdict
		}
	}

	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "changes requested") || strings.Contains(lower, "request changes"):
		return domain.VerdictChangesRequested
	case strings.Contains(lower, "needs discussion"):
		return domain.VerdictNeedsDiscussion
	case strings.Contains(lower, "approved") || strings.Contains(lower, "lgtm"):
		return domain.VerdictApproved
	default:
		return domain.VerdictPending
	}
}

// parseIssues extracts located issues first, then standalone bracketed
// issues whose spans do not overlap an already-consumed location match.
func (p *TextParser) parseIssues(text string) []domain.ReviewIssue {
	var issues []domain.ReviewIssue
	var spans [][]int

	for _, m := range locatedIssuePattern.FindAllStringSubmatchIndex(text, -1) {
		severity, ok := normalizeSeverity(text[m[4]:m[5]])
		if !ok {
			continue
		}
		issues = append(issues, domain.ReviewIssue{
			Severity:    severity,
			Description: text[m[6]:m[7]],
			Location:    text[m[2]:m[3]],
		})
		spans = append(spans, []int{m[0], m[1]})
	}

	for _, m := range bareIssuePattern.FindAllStringSubmatchIndex(text, -1) {
		if overlapsAny(m[0], m[1], spans) {
			continue
		}
		severity, ok := normalizeSeverity(text[m[2]:m[3]])
		if !ok {
			continue
		}
		issues = append(issues, domain.ReviewIssue{
			Severity:    severity,
			Description: text[m[4]:m[5]],
		})
		spans = append(spans, []int{m[0], m[1]})
	}

	return issues
}

func overlapsAny(start, end int, spans [][]int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}

func normalizeVerdict(raw string) (domain.ReviewVerdict, bool) {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), " ", "_") {
	case "approved", "approve", "lgtm":
		return domain.VerdictApproved, true
	case "changes_requested", "request_changes":
		return domain.VerdictChangesRequested, true
	case "needs_discussion":
		return domain.VerdictNeedsDiscussion, true
	case "pending":
		return domain.VerdictPending, true
	default:
		return "", false
	}
}

func normalizeSeverity(raw string) (domain.Severity, bool) {
	switch strings.ToLower(raw) {
	case "nit", "nitpick":
		return domain.SeverityNitpick, true
	case "low", "minor":
		return domain.SeverityLow, true
	case "medium":
		return domain.SeverityMedium, true
	case "high", "major":
		return domain.SeverityHigh, true
	case "critical":
		return domain.SeverityCritical, true
	default:
		return "", false
	}
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
