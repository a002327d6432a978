package prflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/autodev/internal/domain"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newContext() *Context {
	return NewContext("pr-17", "auth/login", "story/auth-login", t0)
}

func passing() []domain.CiCheckResult {
	return []domain.CiCheckResult{
		{Name: "build", Status: domain.CiPassed},
		{Name: "test", Status: domain.CiPassed},
	}
}

func TestMachine_CreatingAlwaysAdvances(t *testing.T) {
	m := NewMachine(Config{ReviewRequired: true})
	c := newContext()

	require.True(t, m.Step(c, t0))
	assert.Equal(t, StateAwaitingCi, c.State)
}

func TestMachine_AwaitingCi(t *testing.T) {
	tests := []struct {
		name           string
		checks         []domain.CiCheckResult
		reviewRequired bool
		expected       State
		holds          bool
	}{
		{
			name:           "failure goes to fixing",
			checks:         []domain.CiCheckResult{{Name: "test", Status: domain.CiFailed}},
			reviewRequired: true,
			expected:       StateFixingCi,
		},
		{
			name:           "all passed goes to review",
			checks:         passing(),
			reviewRequired: true,
			expected:       StateAwaitingReview,
		},
		{
			name:           "all passed skips review when not required",
			checks:         passing(),
			reviewRequired: false,
			expected:       StateReadyToMerge,
		},
		{
			name:           "still running holds",
			checks:         []domain.CiCheckResult{{Name: "test", Status: domain.CiRunning}},
			reviewRequired: true,
			holds:          true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMachine(Config{ReviewRequired: tt.reviewRequired})
			c := newContext()
			c.Transition(StateAwaitingCi, "test setup", t0)
			c.UpdateCi(tt.checks, t0)

			changed := m.Step(c, t0.Add(time.Minute))
			if tt.holds {
				assert.False(t, changed)
				assert.Equal(t, StateAwaitingCi, c.State)
			} else {
				assert.True(t, changed)
				assert.Equal(t, tt.expected, c.State)
			}
		})
	}
}

func TestMachine_AwaitingReview(t *testing.T) {
	m := NewMachine(Config{ReviewRequired: true})

	t.Run("approval goes to ready", func(t *testing.T) {
		c := newContext()
		c.Transition(StateAwaitingReview, "test setup", t0)
		c.UpdateReview(domain.VerdictApproved)

		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateReadyToMerge, c.State)
	})

	t.Run("approval with conflicts resolves first", func(t *testing.T) {
		c := newContext()
		c.Transition(StateAwaitingReview, "test setup", t0)
		c.UpdateReview(domain.VerdictApproved)
		c.SetConflicts(true)

		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateResolvingConflicts, c.State)
	})

	t.Run("changes requested goes to fixing", func(t *testing.T) {
		c := newContext()
		c.Transition(StateAwaitingReview, "test setup", t0)
		c.UpdateReview(domain.VerdictChangesRequested)

		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateFixingReview, c.State)
		assert.Equal(t, 1, c.ReviewIteration)
	})

	t.Run("pending holds", func(t *testing.T) {
		c := newContext()
		c.Transition(StateAwaitingReview, "test setup", t0)

		assert.False(t, m.Step(c, t0))
	})

	t.Run("needs discussion holds", func(t *testing.T) {
		c := newContext()
		c.Transition(StateAwaitingReview, "test setup", t0)
		c.UpdateReview(domain.VerdictNeedsDiscussion)

		assert.False(t, m.Step(c, t0))
	})
}

func TestMachine_FixThenRecheckCycle(t *testing.T) {
	m := NewMachine(Config{ReviewRequired: true})

	t.Run("fixing ci returns to awaiting ci once cleared", func(t *testing.T) {
		c := newContext()
		c.Transition(StateFixingCi, "test setup", t0)
		c.UpdateCi([]domain.CiCheckResult{{Name: "test", Status: domain.CiFailed}}, t0)

		assert.False(t, m.Step(c, t0), "holds while ci still failing")

		c.UpdateCi([]domain.CiCheckResult{{Name: "test", Status: domain.CiRunning}}, t0)
		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateAwaitingCi, c.State)
	})

	t.Run("fixing review returns to awaiting review once cleared", func(t *testing.T) {
		c := newContext()
		c.Transition(StateFixingReview, "test setup", t0)
		c.UpdateCi(passing(), t0)
		c.UpdateReview(domain.VerdictChangesRequested)

		assert.False(t, m.Step(c, t0), "holds while changes still requested")

		c.UpdateReview(domain.VerdictPending)
		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateAwaitingReview, c.State)
	})

	t.Run("fixing review re-checks ci first", func(t *testing.T) {
		c := newContext()
		c.Transition(StateFixingReview, "test setup", t0)
		c.UpdateCi([]domain.CiCheckResult{{Name: "build", Status: domain.CiFailed}}, t0)
		c.UpdateReview(domain.VerdictPending)

		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateAwaitingCi, c.State)
	})
}

func TestMachine_ConflictsAndMergeGates(t *testing.T) {
	t.Run("conflicts clear to ready", func(t *testing.T) {
		m := NewMachine(Config{})
		c := newContext()
		c.Transition(StateResolvingConflicts, "test setup", t0)
		c.SetConflicts(true)

		assert.False(t, m.Step(c, t0))

		c.SetConflicts(false)
		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateReadyToMerge, c.State)
	})

	t.Run("manual merge gate holds", func(t *testing.T) {
		m := NewMachine(Config{AutoMerge: false})
		c := newContext()
		c.Transition(StateReadyToMerge, "test setup", t0)

		assert.False(t, m.Step(c, t0))
	})

	t.Run("auto merge advances", func(t *testing.T) {
		m := NewMachine(Config{AutoMerge: true})
		c := newContext()
		c.Transition(StateReadyToMerge, "test setup", t0)

		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateMerging, c.State)
	})

	t.Run("merging with cleanup configured", func(t *testing.T) {
		m := NewMachine(Config{CleanupSteps: []string{"delete-branch"}})
		c := newContext()
		c.Transition(StateMerging, "test setup", t0)

		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateCleaningUp, c.State)

		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateCompleted, c.State)
	})

	t.Run("merging without cleanup completes directly", func(t *testing.T) {
		m := NewMachine(Config{})
		c := newContext()
		c.Transition(StateMerging, "test setup", t0)

		require.True(t, m.Step(c, t0))
		assert.Equal(t, StateCompleted, c.State)
	})
}

func TestContext_HistoryAndCompletedAt(t *testing.T) {
	m := NewMachine(Config{AutoMerge: true})
	c := newContext()
	c.UpdateCi(passing(), t0)
	c.UpdateReview(domain.VerdictApproved)

	now := t0
	for i := 0; i < 10 && !c.State.IsTerminal(); i++ {
		now = now.Add(time.Minute)
		if !m.Step(c, now) {
			break
		}
	}

	require.Equal(t, StateCompleted, c.State)
	require.NotNil(t, c.CompletedAt)
	completedAt := *c.CompletedAt

	// History records every hop in order
	require.NotEmpty(t, c.History)
	assert.Equal(t, StateCreating, c.History[0].From)
	for i := 1; i < len(c.History); i++ {
		assert.Equal(t, c.History[i-1].To, c.History[i].From)
		assert.False(t, c.History[i].Timestamp.Before(c.History[i-1].Timestamp))
	}

	// Terminal state never transitions again, completed_at never moves
	assert.False(t, m.Step(c, now.Add(time.Hour)))
	assert.Equal(t, completedAt, *c.CompletedAt)
}

func TestContext_FailFromAnyNonTerminalState(t *testing.T) {
	for _, state := range AllStates() {
		if state.IsTerminal() {
			continue
		}
		c := newContext()
		c.Transition(state, "test setup", t0)

		require.True(t, c.Fail("caller cancelled", t0.Add(time.Second)), string(state))
		assert.Equal(t, StateFailed, c.State)
		require.NotNil(t, c.CompletedAt)
	}

	c := newContext()
	c.Transition(StateCompleted, "test setup", t0)
	assert.False(t, c.Fail("too late", t0), "terminal state cannot fail")
}

func TestState_Predicates(t *testing.T) {
	assert.True(t, StateFixingCi.NeedsAction())
	assert.True(t, StateFixingReview.NeedsAction())
	assert.True(t, StateResolvingConflicts.NeedsAction())
	assert.False(t, StateAwaitingCi.NeedsAction())
	assert.False(t, StateCompleted.NeedsAction())

	assert.True(t, StateCompleted.IsTerminal())
	assert.True(t, StateFailed.IsTerminal())
	assert.False(t, StateMerging.IsTerminal())
}

func TestMachine_ActionFor(t *testing.T) {
	m := NewMachine(Config{CleanupSteps: []string{"delete-branch", "remove-worktree"}})
	c := newContext()
	c.Transition(StateFixingCi, "test setup", t0)
	c.UpdateCi([]domain.CiCheckResult{
		{Name: "build", Status: domain.CiPassed},
		{Name: "unit-tests", Status: domain.CiFailed},
		{Name: "lint", Status: domain.CiTimeout},
	}, t0)

	action := m.ActionFor(c)
	assert.Equal(t, ActionFixCiFailures, action.Type)
	assert.Equal(t, []string{"unit-tests", "lint"}, action.FailedChecks)
	assert.Contains(t, action.Description, "unit-tests")

	c.Transition(StateCleaningUp, "test setup", t0)
	cleanup := m.ActionFor(c)
	assert.Equal(t, ActionCleanup, cleanup.Type)
	assert.Contains(t, cleanup.Description, "delete-branch")
}

func TestContext_CiStale(t *testing.T) {
	c := newContext()
	assert.False(t, c.CiStale(t0, time.Minute), "no ci yet is not stale")

	c.UpdateCi(passing(), t0)
	assert.False(t, c.CiStale(t0.Add(30*time.Second), time.Minute))
	assert.True(t, c.CiStale(t0.Add(2*time.Minute), time.Minute))
}
