package storage

import (
	"context"
	"errors"
	"time"

	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/prflow"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// EventFilter provides filtering options for listing edge-case events
type EventFilter struct {
	Type      domain.EdgeCaseType // Filter by event type
	SessionID string              // Filter by session
	AgentID   string              // Filter by agent
	StoryID   string              // Filter by story
	After     *time.Time          // Detected at or after
	Pending   bool                // Only unresolved events
	Limit     int                 // Max results (default 100)
	Offset    int                 // Pagination offset
}

// Stats represents aggregate run statistics
type Stats struct {
	TotalStories     int
	StoriesByStatus  map[domain.StoryProcessingStatus]int
	TotalWorkflows   int
	WorkflowsByState map[prflow.State]int
	TotalEvents      int
	EventsByType     map[domain.EdgeCaseType]int
	UnresolvedEvents int
	CompletionRate   float64
	RecentEvents     []domain.EdgeCaseEvent
}

// Storage defines the interface for persistence operations
type Storage interface {
	// Lifecycle
	Close() error

	// Stories
	UpsertStory(ctx context.Context, story domain.Story) error
	GetStory(ctx context.Context, fullID string) (*domain.Story, error)
	ListStories(ctx context.Context) ([]domain.Story, error)
	UpdateStoryStatus(ctx context.Context, fullID string, status domain.StoryProcessingStatus) error

	// Pull request workflows
	SaveWorkflow(ctx context.Context, wf *prflow.Context) error
	GetWorkflow(ctx context.Context, prID string) (*prflow.Context, error)
	ListWorkflows(ctx context.Context, state prflow.State) ([]*prflow.Context, error)

	// Edge-case events
	SaveEvent(ctx context.Context, event domain.EdgeCaseEvent) error
	ListEvents(ctx context.Context, filter *EventFilter) ([]domain.EdgeCaseEvent, error)
	CountEvents(ctx context.Context, filter *EventFilter) (int, error)

	// Retry counters survive restarts so backoff schedules resume
	// where they left off
	SaveCounters(ctx context.Context, counters map[string]int) error
	LoadCounters(ctx context.Context) (map[string]int, error)

	// Statistics
	GetStats(ctx context.Context) (*Stats, error)
}
