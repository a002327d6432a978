// Package prflow owns a pull request's lifecycle from creation through
// merge and cleanup, consuming CI, review, and conflict signals.
package prflow

// State represents a pull request workflow state
type State string

const (
	StateCreating           State = "creating"
	StateAwaitingCi         State = "awaiting_ci"
	StateFixingCi           State = "fixing_ci"
	StateAwaitingReview     State = "awaiting_review"
	StateFixingReview       State = "fixing_review"
	StateResolvingConflicts State = "resolving_conflicts"
	StateReadyToMerge       State = "ready_to_merge"
	StateMerging            State = "merging"
	StateCleaningUp         State = "cleaning_up"
	StateCompleted          State = "completed"
	StateFailed             State = "failed"
)

// AllStates returns every workflow state
func AllStates() []State {
	return []State{
		StateCreating, StateAwaitingCi, StateFixingCi, StateAwaitingReview,
		StateFixingReview, StateResolvingConflicts, StateReadyToMerge,
		StateMerging, StateCleaningUp, StateCompleted, StateFailed,
	}
}

// NeedsAction returns true for states where the agent must do work
// rather than wait on an external system
func (s State) NeedsAction() bool {
	return s == StateFixingCi || s == StateFixingReview || s == StateResolvingConflicts
}

// IsTerminal returns true for states the workflow never leaves
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// ParseState parses a persisted workflow state string
func ParseState(s string) (State, error) {
	for _, state := range AllStates() {
		if string(state) == s {
			return state, nil
		}
	}
	return "", &UnknownStateError{Value: s}
}

// UnknownStateError reports a persisted state string that matches no
// known workflow state
type UnknownStateError struct {
	Value string
}

func (e *UnknownStateError) Error() string {
	return "unknown pr workflow state \"" + e.Value + "\""
}

// ActionType represents the kind of action the orchestration loop should take
type ActionType string

const (
	ActionWaitForCi             ActionType = "wait_for_ci"
	ActionWaitForReview         ActionType = "wait_for_review"
	ActionFixCiFailures         ActionType = "fix_ci_failures"
	ActionAddressReviewFeedback ActionType = "address_review_feedback"
	ActionResolveConflicts      ActionType = "resolve_conflicts"
	ActionMerge                 ActionType = "merge"
	ActionExecuteMerge          ActionType = "execute_merge"
	ActionCleanup               ActionType = "cleanup"
	ActionNone                  ActionType = "none"
)

// Action represents the next step the orchestration loop should execute
// for a pull request
type Action struct {
	Type         ActionType
	Description  string
	FailedChecks []string // Set for ActionFixCiFailures
}
