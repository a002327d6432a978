package domain

import (
	"fmt"
	"strings"
)

// StoryProcessingStatus represents the processing status of a story
type StoryProcessingStatus string

const (
	StoryPending        StoryProcessingStatus = "pending"
	StoryWaiting        StoryProcessingStatus = "waiting"
	StoryInProgress     StoryProcessingStatus = "in_progress"
	StoryAwaitingReview StoryProcessingStatus = "awaiting_review"
	StoryAwaitingMerge  StoryProcessingStatus = "awaiting_merge"
	StoryCompleted      StoryProcessingStatus = "completed"
	StoryFailed         StoryProcessingStatus = "failed"
	StoryBlocked        StoryProcessingStatus = "blocked"
	StorySkipped        StoryProcessingStatus = "skipped"
)

// IsTerminal returns true if the status is a terminal state
func (s StoryProcessingStatus) IsTerminal() bool {
	return s == StoryCompleted || s == StoryFailed || s == StorySkipped
}

// Story represents a single unit of work within an epic
type Story struct {
	EpicID    string
	StoryID   string
	Title     string
	DependsOn []string // Full ids ("epic/story") this story depends on
	Priority  int
	Status    StoryProcessingStatus
}

// FullID returns the story's full identifier in "epic/story" form
func (s Story) FullID() string {
	return s.EpicID + "/" + s.StoryID
}

// SplitFullID splits a full id into its epic and story parts
func SplitFullID(fullID string) (epicID, storyID string, err error) {
	parts := strings.SplitN(fullID, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid story id %q: want epic/story", fullID)
	}
	return parts[0], parts[1], nil
}
