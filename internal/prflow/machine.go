package prflow

import (
	"fmt"
	"strings"
	"time"

	"github.com/hanibalsk/autodev/internal/domain"
)

// Config controls the optional gates of the workflow
type Config struct {
	ReviewRequired bool
	AutoMerge      bool
	CleanupSteps   []string // Branch deletion, worktree removal, etc.
}

// Machine computes workflow transitions for pull request contexts.
// NextState is a pure mapping from the context's current state and
// signals; it keeps no memory of its own.
type Machine struct {
	config Config
}

// NewMachine creates a workflow state machine with the given gates
func NewMachine(config Config) *Machine {
	return &Machine{config: config}
}

// NextState determines the state the context should move to. It returns
// the current state and false when no transition applies yet.
func (m *Machine) NextState(c *Context) (State, string, bool) {
	switch c.State {
	case StateCreating:
		return StateAwaitingCi, "pull request created", true

	case StateAwaitingCi:
		switch c.CiAggregate() {
		case domain.CiFailed:
			return StateFixingCi, "ci checks failed", true
		case domain.CiPassed:
			if !m.config.ReviewRequired {
				return StateReadyToMerge, "ci passed, review not required", true
			}
			return StateAwaitingReview, "ci passed", true
		}
		return c.State, "", false

	case StateAwaitingReview:
		switch c.ReviewVerdict {
		case domain.VerdictApproved:
			if c.HasConflicts {
				return StateResolvingConflicts, "approved with merge conflicts", true
			}
			return StateReadyToMerge, "review approved", true
		case domain.VerdictChangesRequested:
			return StateFixingReview, "review requested changes", true
		}
		return c.State, "", false

	case StateFixingCi:
		// Once CI is no longer failing, go back to waiting on a fresh run
		if c.CiAggregate() != domain.CiFailed {
			return StateAwaitingCi, "ci fixes pushed", true
		}
		return c.State, "", false

	case StateFixingReview:
		if c.ReviewVerdict == domain.VerdictChangesRequested {
			return c.State, "", false
		}
		// Re-check the opposite signal before returning to review
		if c.CiAggregate() == domain.CiFailed {
			return StateAwaitingCi, "ci regressed during review fixes", true
		}
		return StateAwaitingReview, "review feedback addressed", true

	case StateResolvingConflicts:
		if !c.HasConflicts {
			return StateReadyToMerge, "conflicts resolved", true
		}
		return c.State, "", false

	case StateReadyToMerge:
		if m.config.AutoMerge {
			return StateMerging, "auto-merge enabled", true
		}
		return c.State, "", false // Manual merge gate

	case StateMerging:
		if len(m.config.CleanupSteps) > 0 {
			return StateCleaningUp, "merge complete", true
		}
		return StateCompleted, "merge complete, no cleanup configured", true

	case StateCleaningUp:
		return StateCompleted, "cleanup complete", true
	}

	// Terminal states never transition
	return c.State, "", false
}

// Step applies NextState to the context, transitioning if a new state is
// due. Returns true if a transition happened.
func (m *Machine) Step(c *Context, now time.Time) bool {
	next, reason, changed := m.NextState(c)
	if !changed {
		return false
	}
	c.Transition(next, reason, now)
	return true
}

// ActionFor returns the action the orchestration loop should execute for
// the context's current state
func (m *Machine) ActionFor(c *Context) Action {
	switch c.State {
	case StateAwaitingCi:
		return Action{Type: ActionWaitForCi, Description: "wait for ci checks to finish"}
	case StateAwaitingReview:
		return Action{Type: ActionWaitForReview, Description: "wait for a review verdict"}
	case StateFixingCi:
		failed := c.FailedChecks()
		return Action{
			Type:         ActionFixCiFailures,
			Description:  fmt.Sprintf("fix failing ci checks: %s", strings.Join(failed, ", ")),
			FailedChecks: failed,
		}
	case StateFixingReview:
		return Action{Type: ActionAddressReviewFeedback, Description: "address review feedback"}
	case StateResolvingConflicts:
		return Action{Type: ActionResolveConflicts, Description: "resolve merge conflicts against the target branch"}
	case StateReadyToMerge:
		return Action{Type: ActionMerge, Description: "merge the pull request"}
	case StateMerging:
		return Action{Type: ActionExecuteMerge, Description: "execute the merge"}
	case StateCleaningUp:
		return Action{
			Type:        ActionCleanup,
			Description: fmt.Sprintf("run cleanup steps: %s", strings.Join(m.config.CleanupSteps, ", ")),
		}
	default:
		return Action{Type: ActionNone, Description: "no action required"}
	}
}
