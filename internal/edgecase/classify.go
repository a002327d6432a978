// Package edgecase classifies failures during autonomous execution into
// known categories and decides the recovery action for each.
package edgecase

import (
	"strings"

	"github.com/hanibalsk/autodev/internal/domain"
)

// ClassifyContext carries non-message signals that sharpen classification
type ClassifyContext struct {
	Operation  string // "merge", "review", "test", "dependency", ...
	StatusCode int    // HTTP status from the failing call, 0 if none
}

// classifyRule matches a failure message or context against one category
type classifyRule struct {
	edgeType domain.EdgeCaseType
	match    func(msg string, ctx ClassifyContext) bool
}

// classifyRules are evaluated in order; the first match wins. Order
// matters: auth errors before rate limits before generic network noise.
var classifyRules = []classifyRule{
	{domain.EdgeAuthError, func(msg string, ctx ClassifyContext) bool {
		return ctx.StatusCode == 401 || ctx.StatusCode == 403 ||
			containsAny(msg, "permission denied", "unauthorized", "forbidden", "authentication failed", "invalid credentials", "bad credentials")
	}},
	{domain.EdgeRateLimit, func(msg string, ctx ClassifyContext) bool {
		return ctx.StatusCode == 429 ||
			containsAny(msg, "rate limit", "too many requests", "quota exceeded")
	}},
	{domain.EdgeContextOverflow, func(msg string, ctx ClassifyContext) bool {
		return containsAny(msg, "context length", "context window", "token limit", "maximum context", "prompt too long")
	}},
	{domain.EdgeMergeConflict, func(msg string, ctx ClassifyContext) bool {
		return containsAny(msg, "merge conflict", "cannot be merged", "conflicting files") ||
			(ctx.Operation == "merge" && containsAny(msg, "conflict"))
	}},
	{domain.EdgeFlakyTest, func(msg string, ctx ClassifyContext) bool {
		return containsAny(msg, "flaky") ||
			(ctx.Operation == "test" && containsAny(msg, "intermittent", "passed on retry"))
	}},
	{domain.EdgeDependencyFailure, func(msg string, ctx ClassifyContext) bool {
		return ctx.Operation == "dependency" ||
			containsAny(msg, "dependency failed", "blocked by dependency", "prerequisite failed")
	}},
	{domain.EdgeReviewPingPong, func(msg string, ctx ClassifyContext) bool {
		return containsAny(msg, "ping-pong", "ping pong", "review iteration limit")
	}},
	{domain.EdgeDelayedReview, func(msg string, ctx ClassifyContext) bool {
		return ctx.Operation == "review" && containsAny(msg, "no response", "still pending", "awaiting", "not responded")
	}},
	{domain.EdgeServiceDowntime, func(msg string, ctx ClassifyContext) bool {
		return ctx.StatusCode == 502 || ctx.StatusCode == 503 || ctx.StatusCode == 504 ||
			containsAny(msg, "service unavailable", "bad gateway", "downtime", "maintenance", "connection refused")
	}},
	{domain.EdgeTimeout, func(msg string, ctx ClassifyContext) bool {
		return containsAny(msg, "timed out", "timeout", "deadline exceeded")
	}},
	{domain.EdgeNetworkError, func(msg string, ctx ClassifyContext) bool {
		return containsAny(msg, "connection reset", "network", "dial tcp", "dns", "broken pipe", "unexpected eof")
	}},
}

// Classify maps a failure message and context to a known category,
// falling back to Unknown
func Classify(message string, ctx ClassifyContext) domain.EdgeCaseType {
	msg := strings.ToLower(message)
	for _, rule := range classifyRules {
		if rule.match(msg, ctx) {
			return rule.edgeType
		}
	}
	return domain.EdgeUnknown
}

func containsAny(msg string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
