package events

import (
	"sync"
	"time"

	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/prflow"
)

// Type identifies the kind of event carried in an envelope
type Type string

const (
	TypeRunStarted   Type = "run_started"
	TypeRunPaused    Type = "run_paused"
	TypeRunResumed   Type = "run_resumed"
	TypeRunCancelled Type = "run_cancelled"
	TypeRunFinished  Type = "run_finished"

	TypeStoryReady     Type = "story_ready"
	TypeStoryStarted   Type = "story_started"
	TypeStoryStatus    Type = "story_status"
	TypeStoryCompleted Type = "story_completed"
	TypeStoryFailed    Type = "story_failed"

	TypeEvaluation   Type = "evaluation"
	TypePrTransition Type = "pr_transition"
	TypeEdgeCase     Type = "edge_case"
)

// Event is the envelope broadcast to subscribers and WebSocket clients
type Event struct {
	Type      Type      `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New creates an event stamped with the current time
func New(eventType Type, data any) Event {
	return Event{Type: eventType, Data: data, Timestamp: time.Now()}
}

// StoryUpdate describes a story's processing status change
type StoryUpdate struct {
	StoryID string                       `json:"story_id"`
	Status  domain.StoryProcessingStatus `json:"status"`
	Reason  string                       `json:"reason,omitempty"`
}

// EvaluationUpdate carries one completion evaluation outcome
type EvaluationUpdate struct {
	StoryID  string                      `json:"story_id"`
	Status   domain.WorkCompletionStatus `json:"status"`
	Feedback []domain.FeedbackItem       `json:"feedback,omitempty"`
}

// PrTransition describes one pull request state machine step
type PrTransition struct {
	PrID    string       `json:"pr_id"`
	StoryID string       `json:"story_id"`
	From    prflow.State `json:"from"`
	To      prflow.State `json:"to"`
	Reason  string       `json:"reason,omitempty"`
}

// EdgeCaseUpdate describes a handled failure and the chosen action
type EdgeCaseUpdate struct {
	EventID  string              `json:"event_id"`
	Type     domain.EdgeCaseType `json:"edge_type"`
	StoryID  string              `json:"story_id,omitempty"`
	Action   string              `json:"action"`
	Message  string              `json:"message,omitempty"`
	Severity string              `json:"severity,omitempty"`
}

// RunUpdate summarizes the orchestration run's progress
type RunUpdate struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Active    int `json:"active"`
}

// Bus fans events out to subscribers. Slow subscribers drop events rather
// than block the emitter, matching broadcast semantics of the WebSocket hub.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]bool
}

// NewBus creates an event bus with no subscribers
func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]bool)}
}

// Subscribe registers a buffered channel that receives future events.
// The returned cancel function removes the subscription and closes the
// channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 64)

	b.mu.Lock()
	b.subs[ch] = true
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if b.subs[ch] {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber with room in its buffer
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// Subscriber buffer full, drop
		}
	}
}

// Emit is shorthand for publishing a freshly stamped event
func (b *Bus) Emit(eventType Type, data any) {
	b.Publish(New(eventType, data))
}

// SubscriberCount returns the number of active subscriptions
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
