// Package engine runs the orchestration loop: it schedules stories whose
// dependencies are complete, drives agent sessions over them, and shepherds
// each resulting pull request through CI, review and merge.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hanibalsk/autodev/internal/config"
	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/edgecase"
	"github.com/hanibalsk/autodev/internal/evaluator"
	"github.com/hanibalsk/autodev/internal/events"
	"github.com/hanibalsk/autodev/internal/logger"
	"github.com/hanibalsk/autodev/internal/prflow"
	"github.com/hanibalsk/autodev/internal/review"
	"github.com/hanibalsk/autodev/internal/scheduler"
	"github.com/hanibalsk/autodev/internal/storage"
)

// Engine coordinates the decision components over a batch of stories
type Engine struct {
	cfg    *config.Config
	log    logger.Logger
	store  storage.Storage
	bus    *events.Bus
	runner AgentRunner
	forge  Forge

	parser  review.Parser
	eval    *evaluator.Evaluator
	machine *prflow.Machine
	coord   *edgecase.Coordinator
	control *Control

	tick time.Duration

	mu        sync.Mutex
	running   bool
	stories   map[string]domain.Story
	sched     *scheduler.Scheduler
	total     int
	completed int
	failed    int
	active    int
}

// New creates an Engine wired to the given collaborators
func New(cfg *config.Config, log logger.Logger, store storage.Storage, bus *events.Bus, runner AgentRunner, forge Forge) *Engine {
	policy := edgecase.DefaultConfig()
	policy.FlakyMaxRetries = cfg.FlakyMaxRetries
	policy.FlakyBackoffBase = cfg.FlakyBackoffBase()
	policy.NetworkAutoRetry = cfg.NetworkAutoRetry
	policy.NetworkMaxRetries = cfg.NetworkMaxRetries
	policy.PingPongThreshold = cfg.PingPongThreshold
	policy.TokenCeiling = cfg.TokenCeiling

	return &Engine{
		cfg:    cfg,
		log:    log,
		store:  store,
		bus:    bus,
		runner: runner,
		forge:  forge,

		parser: review.NewTextParser(),
		eval:   evaluator.New(cfg.ReviewRequired),
		machine: prflow.NewMachine(prflow.Config{
			ReviewRequired: cfg.ReviewRequired,
			AutoMerge:      cfg.AutoMerge,
			CleanupSteps:   cfg.CleanupSteps,
		}),
		coord:   edgecase.NewCoordinator(policy),
		control: NewControl(),
		tick:    cfg.TickInterval(),
		stories: make(map[string]domain.Story),
	}
}

// Pause suspends dispatching and worker progress at the next checkpoint
func (e *Engine) Pause() {
	e.control.Pause()
	e.bus.Emit(events.TypeRunPaused, nil)
}

// Resume continues a paused run
func (e *Engine) Resume() {
	e.control.Resume()
	e.bus.Emit(events.TypeRunResumed, nil)
}

// Cancel stops the run; in-flight workers stop at their next checkpoint
func (e *Engine) Cancel() {
	e.control.Cancel()
	e.bus.Emit(events.TypeRunCancelled, nil)
}

// IsRunning reports whether a run is in progress
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Progress returns a snapshot of the run's counters
func (e *Engine) Progress() events.RunUpdate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return events.RunUpdate{
		Total:     e.total,
		Completed: e.completed,
		Failed:    e.failed,
		Active:    e.active,
	}
}

// Run processes the given stories to completion. It returns once every
// story is completed, failed, or blocked behind a failure, or when the
// context is canceled. Only one run may be active at a time.
func (e *Engine) Run(ctx context.Context, stories []domain.Story) error {
	graph := scheduler.NewGraph()
	for _, story := range stories {
		graph.AddStory(story.FullID(), story.DependsOn)
	}
	if _, err := graph.TopologicalOrder(); err != nil {
		return fmt.Errorf("dependency graph rejected: %w", err)
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("run already in progress")
	}
	e.running = true
	e.sched = scheduler.New(graph)
	e.stories = make(map[string]domain.Story, len(stories))
	e.total = len(stories)
	e.completed = 0
	e.failed = 0
	e.active = 0
	for _, story := range stories {
		e.stories[story.FullID()] = story
		if story.Status == domain.StoryCompleted {
			e.sched.MarkCompleted(story.FullID())
			e.completed++
		}
	}
	sched := e.sched
	e.mu.Unlock()

	e.control.Reset()
	e.restoreCounters(ctx)
	e.bus.Emit(events.TypeRunStarted, e.Progress())
	e.log.Info("run started", "stories", len(stories))

	var wg sync.WaitGroup

	for {
		e.control.WaitIfPaused(nil)

		if e.interrupted(ctx) {
			break
		}

		dispatched := e.dispatch(ctx, sched, &wg)

		e.mu.Lock()
		idle := e.active == 0
		e.mu.Unlock()

		if !dispatched && idle && len(e.readyIDs(sched)) == 0 {
			// Nothing running and nothing can become ready anymore
			break
		}

		if !sleepCtx(ctx, e.tick) {
			break
		}
	}

	wg.Wait()
	e.saveCounters(ctx)

	e.mu.Lock()
	e.running = false
	e.mu.Unlock()

	progress := e.Progress()
	e.bus.Emit(events.TypeRunFinished, progress)
	e.log.Info("run finished",
		"completed", progress.Completed, "failed", progress.Failed, "total", progress.Total)
	return ctx.Err()
}

// dispatch claims ready stories up to the worker limit and starts a
// worker goroutine per claim. Returns true if any story was dispatched.
func (e *Engine) dispatch(ctx context.Context, sched *scheduler.Scheduler, wg *sync.WaitGroup) bool {
	dispatched := false
	for _, id := range e.readyIDs(sched) {
		e.mu.Lock()
		if e.active >= e.cfg.MaxWorkers {
			e.mu.Unlock()
			break
		}
		e.mu.Unlock()

		if !sched.Claim(id) {
			continue
		}

		e.mu.Lock()
		e.active++
		e.mu.Unlock()

		dispatched = true
		wg.Add(1)
		go func(storyID string) {
			defer wg.Done()
			defer func() {
				e.mu.Lock()
				e.active--
				e.mu.Unlock()
			}()
			e.processStory(ctx, storyID)
		}(id)
	}
	return dispatched
}

// readyIDs filters the scheduler's ready set down to stories this run
// still considers pending
func (e *Engine) readyIDs(sched *scheduler.Scheduler) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	var ids []string
	for _, id := range sched.Ready() {
		story, ok := e.stories[id]
		if !ok {
			continue
		}
		switch story.Status {
		case domain.StoryFailed, domain.StoryBlocked, domain.StorySkipped, domain.StoryCompleted:
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// processStory drives one story end to end: agent session, pull request
// workflow, merge.
func (e *Engine) processStory(ctx context.Context, storyID string) {
	e.mu.Lock()
	story := e.stories[storyID]
	e.mu.Unlock()

	e.setStoryStatus(ctx, storyID, domain.StoryInProgress, "agent session started")
	e.bus.Emit(events.TypeStoryStarted, events.StoryUpdate{StoryID: storyID, Status: domain.StoryInProgress})
	e.log.Info("story started", "story", storyID)

	result, ok := e.runAgent(ctx, story, func() (*AgentResult, error) {
		return e.runner.Implement(ctx, story)
	})
	if !ok {
		if e.interrupted(ctx) {
			e.setStoryStatus(ctx, storyID, domain.StoryWaiting, "run stopped")
			return
		}
		e.failStory(ctx, storyID, "agent session failed")
		return
	}

	if result.Status == domain.AgentBlocked {
		e.failStory(ctx, storyID, "agent reported blocked")
		return
	}
	if result.PrID == "" {
		e.failStory(ctx, storyID, "agent finished without opening a pull request")
		return
	}

	wf := prflow.NewContext(result.PrID, storyID, result.Branch, time.Now())
	e.stepWorkflow(wf)
	e.persistWorkflow(ctx, wf)

	if e.driveWorkflow(ctx, wf, story, result) {
		e.completeStory(ctx, storyID)
	} else if e.interrupted(ctx) {
		e.setStoryStatus(ctx, storyID, domain.StoryWaiting, "run stopped")
	} else {
		e.failStory(ctx, storyID, "pull request workflow failed")
	}
}

// interrupted reports whether the run was cancelled rather than failing
// on its own
func (e *Engine) interrupted(ctx context.Context) bool {
	return e.control.IsCanceled() || ctx.Err() != nil
}

// driveWorkflow polls forge signals and advances the pull request state
// machine until the workflow reaches a terminal state. Returns true when
// the workflow completed successfully.
func (e *Engine) driveWorkflow(ctx context.Context, wf *prflow.Context, story domain.Story, agent *AgentResult) bool {
	lastStatus := domain.StoryInProgress
	for {
		e.control.WaitIfPaused(nil)
		if e.interrupted(ctx) {
			return false
		}

		snap, err := e.forge.Snapshot(ctx, wf.PrID)
		if err != nil {
			if !e.recoverFrom(ctx, story, agent, "forge", err) {
				return false
			}
			continue
		}

		reviewResult := e.observe(wf, snap)

		evaluation := e.eval.Evaluate(evaluator.Inputs{
			AgentStatus: agent.Status,
			Criteria:    agent.Criteria,
			CiChecks:    wf.CiChecks,
			Review:      reviewResult,
			PrStatus:    snap.Status,
		})
		e.bus.Emit(events.TypeEvaluation, events.EvaluationUpdate{
			StoryID:  story.FullID(),
			Status:   evaluation.Status,
			Feedback: evaluation.Feedback,
		})

		e.stepWorkflow(wf)

		if status := storyStatusFor(wf.State); status != "" && status != lastStatus {
			lastStatus = status
			e.setStoryStatus(ctx, story.FullID(), status, "pr "+string(wf.State))
			e.bus.Emit(events.TypeStoryStatus, events.StoryUpdate{StoryID: story.FullID(), Status: status})
		}

		if wf.State.IsTerminal() {
			e.persistWorkflow(ctx, wf)
			return wf.State == prflow.StateCompleted
		}

		if !e.act(ctx, wf, story, agent, evaluation.Feedback) {
			wf.Fail("workflow action failed", time.Now())
			e.persistWorkflow(ctx, wf)
			return false
		}

		if wf.State == prflow.StateAwaitingCi && wf.CiStale(time.Now(), e.cfg.CiTimeout()) {
			if !e.recoverFrom(ctx, story, agent, "ci", fmt.Errorf("ci checks made no progress within %s: timed out", e.cfg.CiTimeout())) {
				wf.Fail("ci checks timed out", time.Now())
				e.persistWorkflow(ctx, wf)
				return false
			}
			wf.UpdateCi(wf.CiChecks, time.Now())
		}

		e.persistWorkflow(ctx, wf)

		if !sleepCtx(ctx, e.tick) {
			return false
		}
	}
}

// storyStatusFor maps a workflow state to the story status it implies,
// or "" for states that imply no change
func storyStatusFor(state prflow.State) domain.StoryProcessingStatus {
	switch state {
	case prflow.StateAwaitingReview, prflow.StateFixingReview:
		return domain.StoryAwaitingReview
	case prflow.StateReadyToMerge, prflow.StateMerging, prflow.StateCleaningUp:
		return domain.StoryAwaitingMerge
	case prflow.StateAwaitingCi, prflow.StateFixingCi, prflow.StateResolvingConflicts:
		return domain.StoryInProgress
	}
	return ""
}

// observe folds a forge snapshot into the workflow context and returns
// the parsed review, if one is available
func (e *Engine) observe(wf *prflow.Context, snap *PrSnapshot) *domain.ReviewResult {
	wf.UpdateCi(snap.CiChecks, time.Now())
	wf.SetConflicts(snap.HasConflicts || snap.Status == domain.PrStatusConflicts)

	if !snap.HasReview {
		return nil
	}
	parsed := e.parser.Parse(snap.ReviewText)
	wf.UpdateReview(parsed.Verdict)
	return &parsed
}

// act executes the state machine's recommended action. Returns false when
// the story can no longer make progress.
func (e *Engine) act(ctx context.Context, wf *prflow.Context, story domain.Story, agent *AgentResult, feedback []domain.FeedbackItem) bool {
	action := e.machine.ActionFor(wf)

	switch action.Type {
	case prflow.ActionFixCiFailures, prflow.ActionAddressReviewFeedback, prflow.ActionResolveConflicts:
		if action.Type == prflow.ActionAddressReviewFeedback && !e.reviewIterationOk(ctx, wf, story, agent) {
			return false
		}
		result, ok := e.runAgent(ctx, story, func() (*AgentResult, error) {
			return e.runner.Revise(ctx, story, feedback)
		})
		if !ok {
			return false
		}
		*agent = *result

	case prflow.ActionExecuteMerge:
		for {
			err := e.forge.Merge(ctx, wf.PrID)
			if err == nil {
				break
			}
			if !e.recoverFrom(ctx, story, agent, "merge", err) {
				return false
			}
		}

	case prflow.ActionCleanup:
		if err := e.forge.Cleanup(ctx, wf.PrID, e.cfg.CleanupSteps); err != nil {
			e.log.Warn("cleanup failed", "pr", wf.PrID, "error", err)
		}
	}

	return true
}

// reviewIterationOk routes repeated changes_requested rounds through the
// ping-pong policy before another revision is attempted
func (e *Engine) reviewIterationOk(ctx context.Context, wf *prflow.Context, story domain.Story, agent *AgentResult) bool {
	event := domain.NewEdgeCaseEvent(domain.EdgeReviewPingPong,
		fmt.Sprintf("review iteration %d on %s", wf.ReviewIteration, wf.PrID), time.Now())
	event.StoryID = story.FullID()
	event.SessionID = agent.SessionID
	event.AgentID = agent.AgentID

	return e.handleEdgeCase(ctx, event)
}

// recoverFrom classifies an operational failure and applies the
// coordinator's policy. Returns true when the caller should retry.
func (e *Engine) recoverFrom(ctx context.Context, story domain.Story, agent *AgentResult, operation string, err error) bool {
	event := domain.NewEdgeCaseEvent(
		edgecase.Classify(err.Error(), edgecase.ClassifyContext{Operation: operation}),
		err.Error(), time.Now())
	event.StoryID = story.FullID()
	if agent != nil {
		event.SessionID = agent.SessionID
		event.AgentID = agent.AgentID
	}

	return e.handleEdgeCase(ctx, event)
}

// handleEdgeCase runs one event through the coordinator, persists and
// publishes the outcome, and sleeps out any mandated delay
func (e *Engine) handleEdgeCase(ctx context.Context, event domain.EdgeCaseEvent) bool {
	result := e.coord.Handle(event, time.Now())

	if err := e.store.SaveEvent(ctx, result.Event); err != nil {
		e.log.Warn("failed to persist edge case event", "error", err)
	}
	e.bus.Emit(events.TypeEdgeCase, events.EdgeCaseUpdate{
		EventID:  result.Event.ID,
		Type:     result.Event.Type,
		StoryID:  result.Event.StoryID,
		Action:   string(result.Action.Type),
		Message:  result.Message,
		Severity: string(result.Action.Severity),
	})
	e.log.Info("edge case handled",
		"type", result.Event.Type, "action", result.Action.Type, "story", result.Event.StoryID)

	if !result.ShouldContinue {
		return false
	}
	if result.Action.Delay > 0 {
		return sleepCtx(ctx, result.Action.Delay)
	}
	return true
}

// runAgent invokes an agent call, routing errors through the edge-case
// coordinator and retrying per its policy
func (e *Engine) runAgent(ctx context.Context, story domain.Story, call func() (*AgentResult, error)) (*AgentResult, bool) {
	for {
		if e.interrupted(ctx) {
			return nil, false
		}

		result, err := call()
		if err == nil {
			return result, true
		}

		if !e.recoverFrom(ctx, story, nil, "agent", err) {
			return nil, false
		}
	}
}

// stepWorkflow advances the state machine by at most one transition per
// call so the state's action runs before the next transition is taken.
// Publishes the transition when one happens.
func (e *Engine) stepWorkflow(wf *prflow.Context) bool {
	from := wf.State
	if !e.machine.Step(wf, time.Now()) {
		return false
	}
	entry := wf.History[len(wf.History)-1]
	e.bus.Emit(events.TypePrTransition, events.PrTransition{
		PrID:    wf.PrID,
		StoryID: wf.StoryID,
		From:    from,
		To:      wf.State,
		Reason:  entry.Reason,
	})
	e.log.Debug("pr transition", "pr", wf.PrID, "from", from, "to", wf.State)
	return true
}

func (e *Engine) completeStory(ctx context.Context, storyID string) {
	e.mu.Lock()
	e.sched.MarkCompleted(storyID)
	story := e.stories[storyID]
	story.Status = domain.StoryCompleted
	e.stories[storyID] = story
	e.completed++
	e.mu.Unlock()

	e.setStoryStatus(ctx, storyID, domain.StoryCompleted, "merged")
	e.bus.Emit(events.TypeStoryCompleted, events.StoryUpdate{StoryID: storyID, Status: domain.StoryCompleted})
	e.log.Info("story completed", "story", storyID)
}

// failStory marks the story failed and blocks every story that can no
// longer run because of it
func (e *Engine) failStory(ctx context.Context, storyID, reason string) {
	e.mu.Lock()
	story := e.stories[storyID]
	story.Status = domain.StoryFailed
	e.stories[storyID] = story
	e.failed++
	blocked := e.blockDependentsLocked(storyID)
	e.mu.Unlock()

	e.setStoryStatus(ctx, storyID, domain.StoryFailed, reason)
	e.bus.Emit(events.TypeStoryFailed, events.StoryUpdate{StoryID: storyID, Status: domain.StoryFailed, Reason: reason})
	e.log.Warn("story failed", "story", storyID, "reason", reason)

	for _, id := range blocked {
		event := domain.NewEdgeCaseEvent(domain.EdgeDependencyFailure,
			fmt.Sprintf("dependency %s failed", storyID), time.Now())
		event.StoryID = id
		e.handleEdgeCase(ctx, event)

		e.setStoryStatus(ctx, id, domain.StoryBlocked, "dependency failed: "+storyID)
		e.bus.Emit(events.TypeStoryStatus, events.StoryUpdate{StoryID: id, Status: domain.StoryBlocked, Reason: "dependency failed: " + storyID})
	}
}

// blockDependentsLocked marks all transitive dependents of the failed
// story blocked and returns their ids. Caller holds e.mu.
func (e *Engine) blockDependentsLocked(storyID string) []string {
	var blocked []string
	queue := []string{storyID}
	seen := map[string]bool{storyID: true}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, dep := range e.sched.Graph().Dependents(current) {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			queue = append(queue, dep)

			story, ok := e.stories[dep]
			if !ok || story.Status != domain.StoryPending && story.Status != domain.StoryWaiting {
				continue
			}
			story.Status = domain.StoryBlocked
			e.stories[dep] = story
			blocked = append(blocked, dep)
		}
	}
	return blocked
}

func (e *Engine) setStoryStatus(ctx context.Context, storyID string, status domain.StoryProcessingStatus, reason string) {
	if err := e.store.UpdateStoryStatus(ctx, storyID, status); err != nil {
		e.log.Warn("failed to persist story status", "story", storyID, "error", err)
	}
	e.log.Debug("story status", "story", storyID, "status", status, "reason", reason)
}

func (e *Engine) persistWorkflow(ctx context.Context, wf *prflow.Context) {
	if err := e.store.SaveWorkflow(ctx, wf); err != nil {
		e.log.Warn("failed to persist workflow", "pr", wf.PrID, "error", err)
	}
}

func (e *Engine) restoreCounters(ctx context.Context) {
	counters, err := e.store.LoadCounters(ctx)
	if err != nil {
		e.log.Warn("failed to load retry counters", "error", err)
		return
	}
	if len(counters) > 0 {
		e.coord.RestoreCounters(counters)
	}
}

func (e *Engine) saveCounters(ctx context.Context) {
	if err := e.store.SaveCounters(ctx, e.coord.SnapshotCounters()); err != nil {
		e.log.Warn("failed to save retry counters", "error", err)
	}
}

// sleepCtx sleeps for d unless the context is canceled first. Returns
// false on cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
