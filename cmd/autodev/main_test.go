package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/engine"
	"github.com/hanibalsk/autodev/internal/events"
	"github.com/hanibalsk/autodev/internal/logger"
	"github.com/hanibalsk/autodev/internal/testutil"
)

func TestSyncStories(t *testing.T) {
	t.Run("parses and persists stories", func(t *testing.T) {
		cfg := testutil.NewTestConfig(t)
		store := testutil.NewTestStorage(t)

		stories, err := syncStories(context.Background(), cfg.EpicsPath, store, logger.NewNop())
		require.NoError(t, err)
		require.Len(t, stories, 2)

		stored, err := store.ListStories(context.Background())
		require.NoError(t, err)
		assert.Len(t, stored, 2)
	})

	t.Run("keeps terminal status of known stories", func(t *testing.T) {
		cfg := testutil.NewTestConfig(t)
		store := testutil.NewTestStorage(t)

		done := testutil.CreateTestStory("auth/schema", domain.StoryCompleted)
		require.NoError(t, store.UpsertStory(context.Background(), done))

		stories, err := syncStories(context.Background(), cfg.EpicsPath, store, logger.NewNop())
		require.NoError(t, err)

		byID := make(map[string]domain.Story)
		for _, s := range stories {
			byID[s.FullID()] = s
		}
		assert.Equal(t, domain.StoryCompleted, byID["auth/schema"].Status)
		assert.Equal(t, domain.StoryPending, byID["auth/login"].Status)
	})

	t.Run("unparseable epics file returns error", func(t *testing.T) {
		store := testutil.NewTestStorage(t)
		path := testutil.WriteEpicsFile(t, t.TempDir(), testutil.MalformedYAML())

		_, err := syncStories(context.Background(), path, store, logger.NewNop())
		assert.Error(t, err)
	})
}

func TestDryRunCollaborators_EndToEnd(t *testing.T) {
	cfg := testutil.NewTestConfig(t)
	store := testutil.NewTestStorage(t)
	log := logger.NewNop()

	stories, err := syncStories(context.Background(), cfg.EpicsPath, store, log)
	require.NoError(t, err)

	eng := engine.New(cfg, log, store, events.NewBus(), newDryRunAgent(log), newDryRunForge(log))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, eng.Run(ctx, stories))

	stored, err := store.ListStories(context.Background())
	require.NoError(t, err)
	for _, s := range stored {
		assert.Equal(t, domain.StoryCompleted, s.Status, s.FullID())
	}

	progress := eng.Progress()
	assert.Equal(t, 2, progress.Completed)
	assert.Zero(t, progress.Failed)
}
