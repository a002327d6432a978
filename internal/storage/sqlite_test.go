package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/prflow"
)

func createTestStory(epicID, storyID string, status domain.StoryProcessingStatus) domain.Story {
	return domain.Story{
		EpicID:   epicID,
		StoryID:  storyID,
		Title:    "Test Story: " + storyID,
		Priority: 1,
		Status:   status,
	}
}

func createTestWorkflow(prID, storyID string, now time.Time) *prflow.Context {
	wf := prflow.NewContext(prID, storyID, "feature/"+storyID, now)
	wf.UpdateCi([]domain.CiCheckResult{
		{Name: "build", Status: domain.CiPassed},
		{Name: "test", Status: domain.CiRunning},
	}, now.Add(time.Minute))
	return wf
}

func TestNewSQLiteStorage(t *testing.T) {
	t.Run("creates in-memory storage", func(t *testing.T) {
		s, err := NewSQLiteStorage(":memory:")
		require.NoError(t, err)
		require.NotNil(t, s)
		defer s.Close()
	})

	t.Run("creates file-based storage", func(t *testing.T) {
		tempDir := t.TempDir()
		dbPath := tempDir + "/test.db"

		s, err := NewSQLiteStorage(dbPath)
		require.NoError(t, err)
		require.NotNil(t, s)
		defer s.Close()
	})
}

func TestNewInMemoryStorage(t *testing.T) {
	s, err := NewInMemoryStorage()
	require.NoError(t, err)
	require.NotNil(t, s)
	defer s.Close()
}

func TestSQLiteStorage_Stories(t *testing.T) {
	ctx := context.Background()

	t.Run("upsert and get round-trip", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		story := createTestStory("auth", "login", domain.StoryPending)
		story.DependsOn = []string{"core/setup", "core/models"}

		require.NoError(t, s.UpsertStory(ctx, story))

		got, err := s.GetStory(ctx, "auth/login")
		require.NoError(t, err)
		assert.Equal(t, "auth", got.EpicID)
		assert.Equal(t, "login", got.StoryID)
		assert.Equal(t, []string{"core/setup", "core/models"}, got.DependsOn)
		assert.Equal(t, domain.StoryPending, got.Status)
	})

	t.Run("upsert replaces existing row", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		story := createTestStory("auth", "login", domain.StoryPending)
		require.NoError(t, s.UpsertStory(ctx, story))

		story.Status = domain.StoryInProgress
		story.Priority = 5
		require.NoError(t, s.UpsertStory(ctx, story))

		got, err := s.GetStory(ctx, "auth/login")
		require.NoError(t, err)
		assert.Equal(t, domain.StoryInProgress, got.Status)
		assert.Equal(t, 5, got.Priority)

		stories, err := s.ListStories(ctx)
		require.NoError(t, err)
		assert.Len(t, stories, 1)
	})

	t.Run("get missing story fails", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		_, err := s.GetStory(ctx, "nope/missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list orders by epic then priority", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		low := createTestStory("auth", "b-low", domain.StoryPending)
		low.Priority = 1
		high := createTestStory("auth", "a-high", domain.StoryPending)
		high.Priority = 9
		other := createTestStory("billing", "invoice", domain.StoryPending)

		require.NoError(t, s.UpsertStory(ctx, low))
		require.NoError(t, s.UpsertStory(ctx, other))
		require.NoError(t, s.UpsertStory(ctx, high))

		stories, err := s.ListStories(ctx)
		require.NoError(t, err)
		require.Len(t, stories, 3)
		assert.Equal(t, "auth/a-high", stories[0].FullID())
		assert.Equal(t, "auth/b-low", stories[1].FullID())
		assert.Equal(t, "billing/invoice", stories[2].FullID())
	})

	t.Run("update status", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		require.NoError(t, s.UpsertStory(ctx, createTestStory("auth", "login", domain.StoryPending)))
		require.NoError(t, s.UpdateStoryStatus(ctx, "auth/login", domain.StoryCompleted))

		got, err := s.GetStory(ctx, "auth/login")
		require.NoError(t, err)
		assert.Equal(t, domain.StoryCompleted, got.Status)
	})

	t.Run("update status of missing story fails", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		err := s.UpdateStoryStatus(ctx, "nope/missing", domain.StoryCompleted)
		assert.Error(t, err)
	})
}

func TestSQLiteStorage_Workflows(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("save and get round-trip", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		wf := createTestWorkflow("pr-1", "auth/login", now)
		wf.Transition(prflow.StateAwaitingCi, "pr opened", now)
		require.NoError(t, s.SaveWorkflow(ctx, wf))

		got, err := s.GetWorkflow(ctx, "pr-1")
		require.NoError(t, err)
		assert.Equal(t, "auth/login", got.StoryID)
		assert.Equal(t, "feature/auth/login", got.Branch)
		assert.Equal(t, prflow.StateAwaitingCi, got.State)
		assert.Equal(t, domain.VerdictPending, got.ReviewVerdict)
		require.Len(t, got.CiChecks, 2)
		assert.Equal(t, domain.CiRunning, got.CiChecks[1].Status)
		require.Len(t, got.History, 1)
		assert.Equal(t, prflow.StateCreating, got.History[0].From)
		assert.Equal(t, "pr opened", got.History[0].Reason)
		assert.True(t, got.CreatedAt.Equal(now))
		assert.Nil(t, got.CompletedAt)
	})

	t.Run("save preserves completed at", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		wf := createTestWorkflow("pr-2", "auth/login", now)
		require.True(t, wf.Fail("agent gave up", now.Add(time.Hour)))
		require.NoError(t, s.SaveWorkflow(ctx, wf))

		got, err := s.GetWorkflow(ctx, "pr-2")
		require.NoError(t, err)
		assert.Equal(t, prflow.StateFailed, got.State)
		require.NotNil(t, got.CompletedAt)
		assert.True(t, got.CompletedAt.Equal(now.Add(time.Hour)))
	})

	t.Run("resave replaces checks and history", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		wf := createTestWorkflow("pr-3", "auth/login", now)
		require.NoError(t, s.SaveWorkflow(ctx, wf))

		wf.UpdateCi([]domain.CiCheckResult{{Name: "build", Status: domain.CiPassed}}, now.Add(time.Hour))
		wf.Transition(prflow.StateAwaitingCi, "pr opened", now)
		require.NoError(t, s.SaveWorkflow(ctx, wf))

		got, err := s.GetWorkflow(ctx, "pr-3")
		require.NoError(t, err)
		assert.Len(t, got.CiChecks, 1)
		assert.Len(t, got.History, 1)
	})

	t.Run("get missing workflow fails", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		_, err := s.GetWorkflow(ctx, "pr-none")
		assert.Error(t, err)
	})

	t.Run("list filters by state", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		open := createTestWorkflow("pr-4", "auth/login", now)
		require.NoError(t, s.SaveWorkflow(ctx, open))

		failed := createTestWorkflow("pr-5", "auth/logout", now)
		require.True(t, failed.Fail("boom", now))
		require.NoError(t, s.SaveWorkflow(ctx, failed))

		all, err := s.ListWorkflows(ctx, "")
		require.NoError(t, err)
		assert.Len(t, all, 2)

		onlyFailed, err := s.ListWorkflows(ctx, prflow.StateFailed)
		require.NoError(t, err)
		require.Len(t, onlyFailed, 1)
		assert.Equal(t, "pr-5", onlyFailed[0].PrID)
	})
}

func TestSQLiteStorage_Events(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	t.Run("save assigns id and round-trips", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		event := domain.NewEdgeCaseEvent(domain.EdgeFlakyTest, "TestFoo failed intermittently", now)
		event.SessionID = "sess-1"
		event.AgentID = "agent-1"
		event.StoryID = "auth/login"
		require.NoError(t, s.SaveEvent(ctx, event))

		events, err := s.ListEvents(ctx, &EventFilter{})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.NotEmpty(t, events[0].ID)
		assert.Equal(t, domain.EdgeFlakyTest, events[0].Type)
		assert.Equal(t, "sess-1", events[0].SessionID)
		assert.Nil(t, events[0].ResolvedAt)
	})

	t.Run("resave updates resolution", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		event := domain.NewEdgeCaseEvent(domain.EdgeRateLimit, "429", now)
		event.ID = "evt-1"
		require.NoError(t, s.SaveEvent(ctx, event))

		resolved := now.Add(time.Minute)
		event.Resolution = domain.ResolutionRetrying
		event.ResolvedAt = &resolved
		require.NoError(t, s.SaveEvent(ctx, event))

		count, err := s.CountEvents(ctx, &EventFilter{})
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		pending, err := s.CountEvents(ctx, &EventFilter{Pending: true})
		require.NoError(t, err)
		assert.Equal(t, 0, pending)
	})

	t.Run("filters narrow results", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		flaky := domain.NewEdgeCaseEvent(domain.EdgeFlakyTest, "flaky", now)
		flaky.SessionID = "sess-1"
		require.NoError(t, s.SaveEvent(ctx, flaky))

		limited := domain.NewEdgeCaseEvent(domain.EdgeRateLimit, "429", now.Add(time.Hour))
		limited.SessionID = "sess-2"
		require.NoError(t, s.SaveEvent(ctx, limited))

		byType, err := s.ListEvents(ctx, &EventFilter{Type: domain.EdgeFlakyTest})
		require.NoError(t, err)
		require.Len(t, byType, 1)
		assert.Equal(t, "flaky", byType[0].Message)

		bySession, err := s.ListEvents(ctx, &EventFilter{SessionID: "sess-2"})
		require.NoError(t, err)
		require.Len(t, bySession, 1)

		after := now.Add(30 * time.Minute)
		recent, err := s.ListEvents(ctx, &EventFilter{After: &after})
		require.NoError(t, err)
		require.Len(t, recent, 1)
		assert.Equal(t, domain.EdgeRateLimit, recent[0].Type)
	})

	t.Run("newest first with limit", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		for i := 0; i < 5; i++ {
			event := domain.NewEdgeCaseEvent(domain.EdgeNetworkError, "conn reset", now.Add(time.Duration(i)*time.Minute))
			require.NoError(t, s.SaveEvent(ctx, event))
		}

		events, err := s.ListEvents(ctx, &EventFilter{Limit: 3})
		require.NoError(t, err)
		require.Len(t, events, 3)
		assert.True(t, events[0].DetectedAt.After(events[1].DetectedAt))
	})
}

func TestSQLiteStorage_Counters(t *testing.T) {
	ctx := context.Background()

	t.Run("save and load round-trip", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		counters := map[string]int{
			"sess-1:agent-1:flaky_test": 2,
			"none:none:rate_limit":      4,
		}
		require.NoError(t, s.SaveCounters(ctx, counters))

		got, err := s.LoadCounters(ctx)
		require.NoError(t, err)
		assert.Equal(t, counters, got)
	})

	t.Run("save replaces previous set", func(t *testing.T) {
		s, _ := NewInMemoryStorage()
		defer s.Close()

		require.NoError(t, s.SaveCounters(ctx, map[string]int{"a": 1, "b": 2}))
		require.NoError(t, s.SaveCounters(ctx, map[string]int{"b": 3}))

		got, err := s.LoadCounters(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]int{"b": 3}, got)
	})
}

func TestSQLiteStorage_GetStats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

	s, _ := NewInMemoryStorage()
	defer s.Close()

	require.NoError(t, s.UpsertStory(ctx, createTestStory("auth", "login", domain.StoryCompleted)))
	require.NoError(t, s.UpsertStory(ctx, createTestStory("auth", "logout", domain.StoryPending)))
	require.NoError(t, s.UpsertStory(ctx, createTestStory("billing", "invoice", domain.StoryFailed)))
	require.NoError(t, s.SaveWorkflow(ctx, createTestWorkflow("pr-1", "auth/login", now)))
	require.NoError(t, s.SaveEvent(ctx, domain.NewEdgeCaseEvent(domain.EdgeFlakyTest, "flaky", now)))
	require.NoError(t, s.SaveEvent(ctx, domain.NewEdgeCaseEvent(domain.EdgeFlakyTest, "flaky again", now)))

	stats, err := s.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalStories)
	assert.Equal(t, 1, stats.StoriesByStatus[domain.StoryCompleted])
	assert.InDelta(t, 33.3, stats.CompletionRate, 0.1)
	assert.Equal(t, 1, stats.TotalWorkflows)
	assert.Equal(t, 1, stats.WorkflowsByState[prflow.StateCreating])
	assert.Equal(t, 2, stats.EventsByType[domain.EdgeFlakyTest])
	assert.Equal(t, 2, stats.UnresolvedEvents)
	assert.Len(t, stats.RecentEvents, 2)
}
