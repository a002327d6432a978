package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCriterionCheck_ClampsConfidence(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		expected   float64
	}{
		{
			name:       "negative is clamped to zero",
			confidence: -0.5,
			expected:   0,
		},
		{
			name:       "above one is clamped to one",
			confidence: 1.7,
			expected:   1,
		},
		{
			name:       "in range is preserved",
			confidence: 0.85,
			expected:   0.85,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check := NewCriterionCheck("tests pass", true, "", tt.confidence)
			assert.Equal(t, tt.expected, check.Confidence)
		})
	}
}

func TestAggregateCi(t *testing.T) {
	tests := []struct {
		name     string
		checks   []CiCheckResult
		expected CiStatus
	}{
		{
			name:     "empty is pending",
			checks:   nil,
			expected: CiPending,
		},
		{
			name: "any failed wins",
			checks: []CiCheckResult{
				{Name: "build", Status: CiPassed},
				{Name: "test", Status: CiFailed},
				{Name: "lint", Status: CiRunning},
			},
			expected: CiFailed,
		},
		{
			name: "timeout counts as failure",
			checks: []CiCheckResult{
				{Name: "build", Status: CiPassed},
				{Name: "test", Status: CiTimeout},
			},
			expected: CiFailed,
		},
		{
			name: "cancelled counts as failure",
			checks: []CiCheckResult{
				{Name: "test", Status: CiCancelled},
			},
			expected: CiFailed,
		},
		{
			name: "running beats pending",
			checks: []CiCheckResult{
				{Name: "build", Status: CiPassed},
				{Name: "test", Status: CiRunning},
				{Name: "lint", Status: CiPending},
			},
			expected: CiRunning,
		},
		{
			name: "all passed",
			checks: []CiCheckResult{
				{Name: "build", Status: CiPassed},
				{Name: "test", Status: CiPassed},
			},
			expected: CiPassed,
		},
		{
			name: "passed plus pending is pending",
			checks: []CiCheckResult{
				{Name: "build", Status: CiPassed},
				{Name: "test", Status: CiPending},
			},
			expected: CiPending,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AggregateCi(tt.checks))
		})
	}
}

func TestSeverity_Ordering(t *testing.T) {
	ordered := []Severity{SeverityNitpick, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}
	for i := 1; i < len(ordered); i++ {
		assert.Less(t, ordered[i-1].Rank(), ordered[i].Rank())
	}
}

func TestSeverity_Blocking(t *testing.T) {
	assert.False(t, SeverityNitpick.Blocking())
	assert.False(t, SeverityLow.Blocking())
	assert.False(t, SeverityMedium.Blocking())
	assert.True(t, SeverityHigh.Blocking())
	assert.True(t, SeverityCritical.Blocking())
}

func TestReviewResult_HasBlockingIssue(t *testing.T) {
	review := ReviewResult{
		Verdict: VerdictPending,
		Issues: []ReviewIssue{
			{Severity: SeverityLow, Description: "naming"},
			{Severity: SeverityHigh, Description: "race condition"},
		},
	}
	assert.True(t, review.HasBlockingIssue())

	review.Issues = review.Issues[:1]
	assert.False(t, review.HasBlockingIssue())
}

func TestStoryProcessingStatus_IsTerminal(t *testing.T) {
	terminal := []StoryProcessingStatus{StoryCompleted, StoryFailed, StorySkipped}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), string(s))
	}

	active := []StoryProcessingStatus{
		StoryPending, StoryWaiting, StoryInProgress, StoryAwaitingReview, StoryAwaitingMerge, StoryBlocked,
	}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), string(s))
	}
}

func TestStory_FullID(t *testing.T) {
	story := Story{EpicID: "auth", StoryID: "login-flow"}
	assert.Equal(t, "auth/login-flow", story.FullID())

	epic, id, err := SplitFullID("auth/login-flow")
	assert.NoError(t, err)
	assert.Equal(t, "auth", epic)
	assert.Equal(t, "login-flow", id)

	_, _, err = SplitFullID("no-separator")
	assert.Error(t, err)
}
