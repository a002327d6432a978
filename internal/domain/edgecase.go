package domain

import "time"

// EdgeCaseType represents a recognized category of transient or exceptional failure
type EdgeCaseType string

const (
	EdgeFlakyTest         EdgeCaseType = "flaky_test"
	EdgeMergeConflict     EdgeCaseType = "merge_conflict"
	EdgeServiceDowntime   EdgeCaseType = "service_downtime"
	EdgeDelayedReview     EdgeCaseType = "delayed_review"
	EdgeDependencyFailure EdgeCaseType = "dependency_failure"
	EdgeReviewPingPong    EdgeCaseType = "review_ping_pong"
	EdgeContextOverflow   EdgeCaseType = "context_overflow"
	EdgeRateLimit         EdgeCaseType = "rate_limit"
	EdgeTimeout           EdgeCaseType = "timeout"
	EdgeNetworkError      EdgeCaseType = "network_error"
	EdgeAuthError         EdgeCaseType = "auth_error"
	EdgeUnknown           EdgeCaseType = "unknown"
)

// EdgeCaseResolution represents the resolution state of an edge-case event
type EdgeCaseResolution string

const (
	ResolutionPending   EdgeCaseResolution = "pending"
	ResolutionRetrying  EdgeCaseResolution = "retrying"
	ResolutionWaiting   EdgeCaseResolution = "waiting"
	ResolutionEscalated EdgeCaseResolution = "escalated"
	ResolutionBlocked   EdgeCaseResolution = "blocked"
	ResolutionResolved  EdgeCaseResolution = "resolved"
	ResolutionAbandoned EdgeCaseResolution = "abandoned"
)

// EdgeCaseEvent represents one detected failure and its handling state
type EdgeCaseEvent struct {
	ID         string
	Type       EdgeCaseType
	Resolution EdgeCaseResolution
	Message    string
	RetryCount int
	SessionID  string
	AgentID    string
	StoryID    string
	DetectedAt time.Time
	ResolvedAt *time.Time
}

// NewEdgeCaseEvent creates an event with the default pending resolution
func NewEdgeCaseEvent(eventType EdgeCaseType, message string, detectedAt time.Time) EdgeCaseEvent {
	return EdgeCaseEvent{
		Type:       eventType,
		Resolution: ResolutionPending,
		Message:    message,
		DetectedAt: detectedAt,
	}
}
