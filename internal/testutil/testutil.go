// Package testutil provides test utilities and helpers for the autodev tests.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hanibalsk/autodev/internal/config"
	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/storage"
)

// NewTestConfig creates a Config with temp paths for testing. A valid
// epics file is written so discovery and pre-flight checks pass. All temp
// directories are automatically cleaned up when the test completes.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()

	cfg := config.New()
	cfg.EpicsPath = WriteEpicsFile(t, dir, ValidEpicsYAML())
	cfg.DatabasePath = filepath.Join(dir, "test.db")
	cfg.WorkingDir = dir
	cfg.MaxWorkers = 1
	cfg.TickSeconds = 0
	cfg.AutoMerge = true
	cfg.WatchEnabled = false
	cfg.APIEnabled = false
	return cfg
}

// NewTestStorage creates an in-memory SQLite storage for testing.
// The storage is automatically closed when the test completes.
func NewTestStorage(t *testing.T) *storage.SQLiteStorage {
	t.Helper()

	s, err := storage.NewInMemoryStorage()
	if err != nil {
		t.Fatalf("failed to create in-memory storage: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})

	return s
}

// WriteEpicsFile writes an epics file with the given content into dir and
// returns its path.
func WriteEpicsFile(t *testing.T, dir, content string) string {
	t.Helper()

	path := filepath.Join(dir, "epics.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write epics file: %v", err)
	}
	return path
}

// CreateTestStory creates a Story for testing with the given full id,
// status and dependencies.
func CreateTestStory(fullID string, status domain.StoryProcessingStatus, deps ...string) domain.Story {
	epicID, storyID, err := domain.SplitFullID(fullID)
	if err != nil {
		epicID, storyID = "test", fullID
	}
	return domain.Story{
		EpicID:    epicID,
		StoryID:   storyID,
		Title:     "Test Story: " + storyID,
		Status:    status,
		DependsOn: deps,
	}
}

// Epics file fixtures for common test scenarios

// ValidEpicsYAML returns a well-formed epics file with a dependency chain.
func ValidEpicsYAML() string {
	return `epics:
  - id: auth
    title: Authentication
    stories:
      - id: schema
        title: User schema
        priority: 2
      - id: login
        title: Login flow
        priority: 1
        depends_on:
          - schema
`
}

// CyclicEpicsYAML returns an epics file whose dependency graph has a cycle.
func CyclicEpicsYAML() string {
	return `epics:
  - id: auth
    stories:
      - id: a
        depends_on:
          - b
      - id: b
        depends_on:
          - a
`
}

// MalformedYAML returns content that does not parse as YAML.
func MalformedYAML() string {
	return `epics: [not valid
  - broken
`
}
