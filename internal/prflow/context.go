package prflow

import (
	"time"

	"github.com/hanibalsk/autodev/internal/domain"
)

// HistoryEntry records one state transition. Entries are immutable once
// appended.
type HistoryEntry struct {
	From      State
	To        State
	Reason    string
	Timestamp time.Time
}

// Context holds one pull request's workflow state and the signals the
// machine decides on. The state field changes only through Transition.
type Context struct {
	PrID    string
	StoryID string
	Branch  string

	State           State
	CiChecks        []domain.CiCheckResult
	CiUpdatedAt     time.Time
	ReviewVerdict   domain.ReviewVerdict
	ReviewIteration int
	HasConflicts    bool

	History     []HistoryEntry
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewContext creates a workflow context for a freshly opened pull request
func NewContext(prID, storyID, branch string, now time.Time) *Context {
	return &Context{
		PrID:          prID,
		StoryID:       storyID,
		Branch:        branch,
		State:         StateCreating,
		ReviewVerdict: domain.VerdictPending,
		CreatedAt:     now,
	}
}

// CiAggregate returns the aggregate status of the tracked CI checks
func (c *Context) CiAggregate() domain.CiStatus {
	return domain.AggregateCi(c.CiChecks)
}

// UpdateCi replaces the tracked CI checks and stamps the update time
func (c *Context) UpdateCi(checks []domain.CiCheckResult, now time.Time) {
	c.CiChecks = append([]domain.CiCheckResult(nil), checks...)
	c.CiUpdatedAt = now
}

// UpdateReview records a new review verdict. A changes_requested verdict
// bumps the review iteration counter.
func (c *Context) UpdateReview(verdict domain.ReviewVerdict) {
	if verdict == domain.VerdictChangesRequested && c.ReviewVerdict != domain.VerdictChangesRequested {
		c.ReviewIteration++
	}
	c.ReviewVerdict = verdict
}

// SetConflicts records whether the pull request currently has merge conflicts
func (c *Context) SetConflicts(hasConflicts bool) {
	c.HasConflicts = hasConflicts
}

// CiStale returns true if the CI aggregate has not been updated within
// the given timeout. The machine holds no timers; callers pass "now".
func (c *Context) CiStale(now time.Time, timeout time.Duration) bool {
	if c.CiUpdatedAt.IsZero() {
		return false
	}
	return now.Sub(c.CiUpdatedAt) > timeout
}

// FailedChecks returns the names of CI checks currently failing
func (c *Context) FailedChecks() []string {
	var names []string
	for _, check := range c.CiChecks {
		if check.Status.IsFailure() {
			names = append(names, check.Name)
		}
	}
	return names
}

// Transition moves the context to a new state, appending an immutable
// history entry. CompletedAt is set exactly once, on first terminal entry.
func (c *Context) Transition(to State, reason string, now time.Time) {
	c.History = append(c.History, HistoryEntry{
		From:      c.State,
		To:        to,
		Reason:    reason,
		Timestamp: now,
	})
	c.State = to

	if to.IsTerminal() && c.CompletedAt == nil {
		completed := now
		c.CompletedAt = &completed
	}
}

// Fail forces the workflow into the failed state from any non-terminal state
func (c *Context) Fail(reason string, now time.Time) bool {
	if c.State.IsTerminal() {
		return false
	}
	c.Transition(StateFailed, reason, now)
	return true
}
