package engine

import (
	"context"

	"github.com/hanibalsk/autodev/internal/domain"
)

// AgentResult carries the signals an agent session reports when it stops
// working on a story
type AgentResult struct {
	SessionID string
	AgentID   string
	Status    domain.AgentStatus
	Criteria  []domain.CriterionCheck
	PrID      string
	Branch    string
}

// AgentRunner runs coding agent sessions. Implementations wrap whatever
// actually performs the work; tests use stubs.
type AgentRunner interface {
	// Implement runs an agent session that implements the story from
	// scratch and opens a pull request.
	Implement(ctx context.Context, story domain.Story) (*AgentResult, error)

	// Revise runs a follow-up session that addresses the given feedback
	// on the story's existing pull request.
	Revise(ctx context.Context, story domain.Story, feedback []domain.FeedbackItem) (*AgentResult, error)
}

// PrSnapshot is the forge's current view of a pull request
type PrSnapshot struct {
	Status       domain.PrStatus
	CiChecks     []domain.CiCheckResult
	ReviewText   string
	HasReview    bool
	HasConflicts bool
}

// Forge abstracts the code host the orchestrator observes and drives
type Forge interface {
	// Snapshot fetches the pull request's current CI, review and merge
	// signals in one call.
	Snapshot(ctx context.Context, prID string) (*PrSnapshot, error)

	// Merge merges the pull request.
	Merge(ctx context.Context, prID string) error

	// Cleanup runs post-merge cleanup steps for the pull request.
	Cleanup(ctx context.Context, prID string, steps []string) error
}
