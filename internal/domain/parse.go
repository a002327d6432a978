package domain

import "fmt"

// ParseError reports a persisted string that matches no known enum value
type ParseError struct {
	Kind  string
	Value string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Value)
}

func parse[T ~string](kind, value string, valid ...T) (T, error) {
	for _, v := range valid {
		if string(v) == value {
			return v, nil
		}
	}
	var zero T
	return zero, &ParseError{Kind: kind, Value: value}
}

// ParseStoryProcessingStatus parses a persisted story status string
func ParseStoryProcessingStatus(s string) (StoryProcessingStatus, error) {
	return parse("story processing status", s,
		StoryPending, StoryWaiting, StoryInProgress, StoryAwaitingReview,
		StoryAwaitingMerge, StoryCompleted, StoryFailed, StoryBlocked, StorySkipped)
}

// ParseAgentStatus parses a persisted agent status string
func ParseAgentStatus(s string) (AgentStatus, error) {
	return parse("agent status", s,
		AgentWorking, AgentComplete, AgentBlocked, AgentError)
}

// ParseCiStatus parses a persisted CI status string
func ParseCiStatus(s string) (CiStatus, error) {
	return parse("ci status", s,
		CiRunning, CiPassed, CiFailed, CiCancelled, CiTimeout, CiPending)
}

// ParsePrStatus parses a persisted pull request status string
func ParsePrStatus(s string) (PrStatus, error) {
	return parse("pr status", s,
		PrStatusPending, PrStatusMergeable, PrStatusConflicts, PrStatusBlocked)
}

// ParseReviewVerdict parses a persisted review verdict string
func ParseReviewVerdict(s string) (ReviewVerdict, error) {
	return parse("review verdict", s,
		VerdictApproved, VerdictChangesRequested, VerdictNeedsDiscussion, VerdictPending)
}

// ParseSeverity parses a persisted severity string
func ParseSeverity(s string) (Severity, error) {
	return parse("severity", s,
		SeverityNitpick, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical)
}

// ParseWorkCompletionStatus parses a persisted completion status string
func ParseWorkCompletionStatus(s string) (WorkCompletionStatus, error) {
	return parse("work completion status", s,
		WorkComplete, WorkInProgress, WorkBlocked, WorkFailed, WorkNeedsCiFixes,
		WorkNeedsReviewFixes, WorkNeedsReview, WorkNeedsPrApproval, WorkReadyToMerge)
}

// ParseEdgeCaseType parses a persisted edge-case type string
func ParseEdgeCaseType(s string) (EdgeCaseType, error) {
	return parse("edge case type", s,
		EdgeFlakyTest, EdgeMergeConflict, EdgeServiceDowntime, EdgeDelayedReview,
		EdgeDependencyFailure, EdgeReviewPingPong, EdgeContextOverflow,
		EdgeRateLimit, EdgeTimeout, EdgeNetworkError, EdgeAuthError, EdgeUnknown)
}

// ParseEdgeCaseResolution parses a persisted edge-case resolution string
func ParseEdgeCaseResolution(s string) (EdgeCaseResolution, error) {
	return parse("edge case resolution", s,
		ResolutionPending, ResolutionRetrying, ResolutionWaiting, ResolutionEscalated,
		ResolutionBlocked, ResolutionResolved, ResolutionAbandoned)
}
