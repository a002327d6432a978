package edgecase

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hanibalsk/autodev/internal/domain"
)

// ActionType represents the kind of recovery the coordinator recommends
type ActionType string

const (
	ActionRetry         ActionType = "retry"
	ActionWait          ActionType = "wait"
	ActionEscalate      ActionType = "escalate"
	ActionBlock         ActionType = "block"
	ActionSpawnResolver ActionType = "spawn_resolver"
	ActionSummarize     ActionType = "summarize"
	ActionContinue      ActionType = "continue"
)

// EscalationSeverity represents how urgently a human should look at an escalation
type EscalationSeverity string

const (
	EscalationLow      EscalationSeverity = "low"
	EscalationMedium   EscalationSeverity = "medium"
	EscalationHigh     EscalationSeverity = "high"
	EscalationCritical EscalationSeverity = "critical"
)

// Action represents the recommended recovery step
type Action struct {
	Type         ActionType
	Delay        time.Duration      // Set for retry/wait actions
	Severity     EscalationSeverity // Set for escalate actions
	TargetTokens int                // Set for summarize actions
}

// HandlerResult carries the recommended action, whether the story's
// processing should continue, and the updated event for persistence
type HandlerResult struct {
	Action         Action
	ShouldContinue bool
	Message        string
	Event          domain.EdgeCaseEvent
}

// Config holds the per-category recovery policy knobs
type Config struct {
	FlakyMaxRetries  int
	FlakyBackoffBase time.Duration

	DowntimeWaitBudget time.Duration
	DowntimeRecheck    time.Duration

	ReviewWaitBudget time.Duration
	ReviewRecheck    time.Duration

	PingPongThreshold int

	TokenCeiling int

	RateLimitBase    time.Duration
	RateLimitCeiling time.Duration

	TimeoutMaxRetries int
	TimeoutRetryDelay time.Duration

	NetworkAutoRetry   bool
	NetworkMaxRetries  int
	NetworkBackoffStep time.Duration
}

// DefaultConfig returns the default recovery policy
func DefaultConfig() Config {
	return Config{
		FlakyMaxRetries:    3,
		FlakyBackoffBase:   10 * time.Second,
		DowntimeWaitBudget: 15 * time.Minute,
		DowntimeRecheck:    30 * time.Second,
		ReviewWaitBudget:   2 * time.Hour,
		ReviewRecheck:      5 * time.Minute,
		PingPongThreshold:  4,
		TokenCeiling:       200_000,
		RateLimitBase:      time.Second,
		RateLimitCeiling:   5 * time.Minute,
		TimeoutMaxRetries:  2,
		TimeoutRetryDelay:  60 * time.Second,
		NetworkAutoRetry:   true,
		NetworkMaxRetries:  3,
		NetworkBackoffStep: 10 * time.Second,
	}
}

// Coordinator owns the per-context retry, iteration, and backoff state.
// One instance is shared by the orchestration loop's workers; counters
// are mutex-guarded.
type Coordinator struct {
	config Config

	mu       sync.Mutex
	retries  map[string]int // Counter key -> attempts so far
	rateHits map[string]int // Counter key -> rate limit hits
}

// NewCoordinator creates a Coordinator with the given policy
func NewCoordinator(config Config) *Coordinator {
	return &Coordinator{
		config:   config,
		retries:  make(map[string]int),
		rateHits: make(map[string]int),
	}
}

// counterKey builds the per-context counter key. Missing correlation ids
// collapse to "none" so unrelated failures never share a counter by accident.
func counterKey(sessionID, agentID string, edgeType domain.EdgeCaseType) string {
	if sessionID == "" {
		sessionID = "none"
	}
	if agentID == "" {
		agentID = "none"
	}
	return fmt.Sprintf("%s:%s:%s", sessionID, agentID, edgeType)
}

// Handle applies the category policy to the event and returns the
// recommended action. The returned event carries updated resolution and
// retry state for persistence.
func (c *Coordinator) Handle(event domain.EdgeCaseEvent, now time.Time) HandlerResult {
	switch event.Type {
	case domain.EdgeFlakyTest:
		return c.handleFlakyTest(event, now)
	case domain.EdgeMergeConflict:
		return c.handleMergeConflict(event)
	case domain.EdgeServiceDowntime:
		return c.handleBoundedWait(event, now, c.config.DowntimeWaitBudget, c.config.DowntimeRecheck, EscalationHigh, "service still unavailable")
	case domain.EdgeDelayedReview:
		return c.handleBoundedWait(event, now, c.config.ReviewWaitBudget, c.config.ReviewRecheck, EscalationMedium, "review wait budget exhausted")
	case domain.EdgeDependencyFailure:
		return c.handleDependencyFailure(event, now)
	case domain.EdgeReviewPingPong:
		return c.handlePingPong(event, now)
	case domain.EdgeContextOverflow:
		return c.handleContextOverflow(event)
	case domain.EdgeRateLimit:
		return c.handleRateLimit(event)
	case domain.EdgeTimeout:
		return c.handleTimeout(event, now)
	case domain.EdgeNetworkError:
		return c.handleNetworkError(event, now)
	case domain.EdgeAuthError:
		return c.escalate(event, now, EscalationCritical, "authentication or permission failure, not retrying")
	default:
		return c.escalate(event, now, EscalationLow, "unrecognized failure category")
	}
}

func (c *Coordinator) handleFlakyTest(event domain.EdgeCaseEvent, now time.Time) HandlerResult {
	attempt := c.bumpRetry(event)
	if attempt > c.config.FlakyMaxRetries {
		return c.escalate(event, now, EscalationMedium,
			fmt.Sprintf("flaky test persisted after %d retries", c.config.FlakyMaxRetries))
	}

	event.Resolution = domain.ResolutionRetrying
	event.RetryCount = attempt
	delay := c.config.FlakyBackoffBase * time.Duration(attempt)
	return HandlerResult{
		Action:         Action{Type: ActionRetry, Delay: delay},
		ShouldContinue: true,
		Message:        fmt.Sprintf("retrying flaky test in %s (attempt %d/%d)", delay, attempt, c.config.FlakyMaxRetries),
		Event:          event,
	}
}

func (c *Coordinator) handleMergeConflict(event domain.EdgeCaseEvent) HandlerResult {
	event.Resolution = domain.ResolutionPending
	return HandlerResult{
		Action:         Action{Type: ActionSpawnResolver},
		ShouldContinue: true,
		Message:        "spawning conflict resolver",
		Event:          event,
	}
}

// handleBoundedWait implements the wait-with-budget policy shared by
// service downtime and delayed external reviews. The budget is elapsed
// time since detection, not a retry count.
func (c *Coordinator) handleBoundedWait(event domain.EdgeCaseEvent, now time.Time, budget, recheck time.Duration, severity EscalationSeverity, exhausted string) HandlerResult {
	if now.Sub(event.DetectedAt) >= budget {
		return c.escalate(event, now, severity, exhausted)
	}

	event.Resolution = domain.ResolutionWaiting
	return HandlerResult{
		Action:         Action{Type: ActionWait, Delay: recheck},
		ShouldContinue: true,
		Message:        fmt.Sprintf("waiting, next check in %s", recheck),
		Event:          event,
	}
}

func (c *Coordinator) handleDependencyFailure(event domain.EdgeCaseEvent, now time.Time) HandlerResult {
	event.Resolution = domain.ResolutionBlocked
	resolved := now
	event.ResolvedAt = &resolved
	return HandlerResult{
		Action:         Action{Type: ActionBlock},
		ShouldContinue: false,
		Message:        "blocked by failed dependency",
		Event:          event,
	}
}

func (c *Coordinator) handlePingPong(event domain.EdgeCaseEvent, now time.Time) HandlerResult {
	iteration := c.bumpRetry(event)
	if iteration >= c.config.PingPongThreshold {
		return c.escalate(event, now,
			EscalationHigh, fmt.Sprintf("review ping-pong hit %d iterations", iteration))
	}

	event.Resolution = domain.ResolutionPending
	event.RetryCount = iteration
	return HandlerResult{
		Action:         Action{Type: ActionContinue},
		ShouldContinue: true,
		Message:        fmt.Sprintf("review iteration %d/%d", iteration, c.config.PingPongThreshold),
		Event:          event,
	}
}

func (c *Coordinator) handleContextOverflow(event domain.EdgeCaseEvent) HandlerResult {
	target := c.config.TokenCeiling / 2
	event.Resolution = domain.ResolutionRetrying
	return HandlerResult{
		Action:         Action{Type: ActionSummarize, TargetTokens: target},
		ShouldContinue: true,
		Message:        fmt.Sprintf("requesting summarization to %d tokens", target),
		Event:          event,
	}
}

func (c *Coordinator) handleRateLimit(event domain.EdgeCaseEvent) HandlerResult {
	hits := c.bumpRateHits(event)

	delay := c.config.RateLimitBase
	for i := 1; i < hits; i++ {
		delay *= 2
		if delay >= c.config.RateLimitCeiling {
			delay = c.config.RateLimitCeiling
			break
		}
	}

	event.Resolution = domain.ResolutionWaiting
	event.RetryCount = hits
	return HandlerResult{
		Action:         Action{Type: ActionWait, Delay: delay},
		ShouldContinue: true,
		Message:        fmt.Sprintf("rate limited, backing off %s (hit %d)", delay, hits),
		Event:          event,
	}
}

func (c *Coordinator) handleTimeout(event domain.EdgeCaseEvent, now time.Time) HandlerResult {
	attempt := c.bumpRetry(event)
	if attempt > c.config.TimeoutMaxRetries {
		return c.escalate(event, now, EscalationMedium,
			fmt.Sprintf("operation timed out after %d retries", c.config.TimeoutMaxRetries))
	}

	event.Resolution = domain.ResolutionRetrying
	event.RetryCount = attempt
	return HandlerResult{
		Action:         Action{Type: ActionRetry, Delay: c.config.TimeoutRetryDelay},
		ShouldContinue: true,
		Message:        fmt.Sprintf("retrying after timeout (attempt %d/%d)", attempt, c.config.TimeoutMaxRetries),
		Event:          event,
	}
}

func (c *Coordinator) handleNetworkError(event domain.EdgeCaseEvent, now time.Time) HandlerResult {
	if !c.config.NetworkAutoRetry {
		return c.escalate(event, now, EscalationMedium, "network error, auto-retry disabled")
	}

	attempt := c.bumpRetry(event)
	if attempt > c.config.NetworkMaxRetries {
		return c.escalate(event, now, EscalationMedium,
			fmt.Sprintf("network error persisted after %d retries", c.config.NetworkMaxRetries))
	}

	event.Resolution = domain.ResolutionRetrying
	event.RetryCount = attempt
	delay := c.config.NetworkBackoffStep * time.Duration(attempt)
	return HandlerResult{
		Action:         Action{Type: ActionRetry, Delay: delay},
		ShouldContinue: true,
		Message:        fmt.Sprintf("retrying network operation in %s (attempt %d/%d)", delay, attempt, c.config.NetworkMaxRetries),
		Event:          event,
	}
}

func (c *Coordinator) escalate(event domain.EdgeCaseEvent, now time.Time, severity EscalationSeverity, message string) HandlerResult {
	event.Resolution = domain.ResolutionEscalated
	resolved := now
	event.ResolvedAt = &resolved
	return HandlerResult{
		Action:         Action{Type: ActionEscalate, Severity: severity},
		ShouldContinue: false,
		Message:        message,
		Event:          event,
	}
}

func (c *Coordinator) bumpRetry(event domain.EdgeCaseEvent) int {
	key := counterKey(event.SessionID, event.AgentID, event.Type)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[key]++
	return c.retries[key]
}

func (c *Coordinator) bumpRateHits(event domain.EdgeCaseEvent) int {
	key := counterKey(event.SessionID, event.AgentID, event.Type)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rateHits[key]++
	return c.rateHits[key]
}

// ResetSession drops all counters recorded for the given session
func (c *Coordinator) ResetSession(sessionID string) {
	c.resetPrefix(sessionID + ":")
}

// ResetAgent drops all counters recorded for the given agent
func (c *Coordinator) ResetAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	marker := ":" + agentID + ":"
	for key := range c.retries {
		if strings.Contains(key, marker) {
			delete(c.retries, key)
		}
	}
	for key := range c.rateHits {
		if strings.Contains(key, marker) {
			delete(c.rateHits, key)
		}
	}
}

func (c *Coordinator) resetPrefix(prefix string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.retries {
		if strings.HasPrefix(key, prefix) {
			delete(c.retries, key)
		}
	}
	for key := range c.rateHits {
		if strings.HasPrefix(key, prefix) {
			delete(c.rateHits, key)
		}
	}
}

// RetryCount reports the current counter for a context, for observability
func (c *Coordinator) RetryCount(sessionID, agentID string, edgeType domain.EdgeCaseType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.retries[counterKey(sessionID, agentID, edgeType)]
}

// SnapshotCounters returns a copy of the retry and rate limit counters
// keyed for persistence. Rate limit keys carry a "rate:" prefix so the two
// counter families restore into the right map.
func (c *Coordinator) SnapshotCounters() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	snapshot := make(map[string]int, len(c.retries)+len(c.rateHits))
	for key, count := range c.retries {
		snapshot[key] = count
	}
	for key, count := range c.rateHits {
		snapshot["rate:"+key] = count
	}
	return snapshot
}

// RestoreCounters loads previously snapshotted counters, replacing any
// current state. Used on startup so backoff schedules survive restarts.
func (c *Coordinator) RestoreCounters(counters map[string]int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.retries = make(map[string]int)
	c.rateHits = make(map[string]int)
	for key, count := range counters {
		if rest, ok := strings.CutPrefix(key, "rate:"); ok {
			c.rateHits[rest] = count
		} else {
			c.retries[key] = count
		}
	}
}
