package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hanibalsk/autodev/internal/domain"
	"github.com/hanibalsk/autodev/internal/prflow"
)

// SQLiteStorage implements Storage using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable foreign keys and WAL mode for better performance
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// NewInMemoryStorage creates an in-memory SQLite storage (for testing)
func NewInMemoryStorage() (*SQLiteStorage, error) {
	return NewSQLiteStorage(":memory:")
}

// migrate runs database migrations
func (s *SQLiteStorage) migrate() error {
	_, err := s.db.Exec(initialMigration)
	if err != nil {
		return fmt.Errorf("failed to execute migration: %w", err)
	}

	return nil
}

const initialMigration = `
CREATE TABLE IF NOT EXISTS stories (
    full_id TEXT PRIMARY KEY,
    epic_id TEXT NOT NULL,
    story_id TEXT NOT NULL,
    title TEXT,
    depends_on TEXT,
    priority INTEGER DEFAULT 0,
    status TEXT NOT NULL,
    updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS pr_workflows (
    pr_id TEXT PRIMARY KEY,
    story_id TEXT NOT NULL,
    branch TEXT,
    state TEXT NOT NULL,
    review_verdict TEXT NOT NULL,
    review_iteration INTEGER DEFAULT 0,
    has_conflicts BOOLEAN DEFAULT FALSE,
    ci_updated_at TEXT,
    created_at TEXT NOT NULL,
    completed_at TEXT
);

CREATE TABLE IF NOT EXISTS pr_ci_checks (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pr_id TEXT NOT NULL,
    check_name TEXT NOT NULL,
    status TEXT NOT NULL,
    FOREIGN KEY (pr_id) REFERENCES pr_workflows(pr_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS pr_history (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    pr_id TEXT NOT NULL,
    from_state TEXT NOT NULL,
    to_state TEXT NOT NULL,
    reason TEXT,
    timestamp TEXT NOT NULL,
    FOREIGN KEY (pr_id) REFERENCES pr_workflows(pr_id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS edge_case_events (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    resolution TEXT NOT NULL,
    message TEXT,
    retry_count INTEGER DEFAULT 0,
    session_id TEXT,
    agent_id TEXT,
    story_id TEXT,
    detected_at TEXT NOT NULL,
    resolved_at TEXT
);

CREATE TABLE IF NOT EXISTS retry_counters (
    key TEXT PRIMARY KEY,
    count INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_stories_status ON stories(status);
CREATE INDEX IF NOT EXISTS idx_workflows_state ON pr_workflows(state);
CREATE INDEX IF NOT EXISTS idx_workflows_story ON pr_workflows(story_id);
CREATE INDEX IF NOT EXISTS idx_history_pr ON pr_history(pr_id);
CREATE INDEX IF NOT EXISTS idx_events_type ON edge_case_events(type);
CREATE INDEX IF NOT EXISTS idx_events_detected_at ON edge_case_events(detected_at DESC);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

INSERT OR IGNORE INTO schema_version (version) VALUES (1);
`

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// UpsertStory inserts or replaces a story row keyed by its full id
func (s *SQLiteStorage) UpsertStory(ctx context.Context, story domain.Story) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stories (full_id, epic_id, story_id, title, depends_on, priority, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, datetime('now'))
		ON CONFLICT(full_id) DO UPDATE SET
			title = excluded.title,
			depends_on = excluded.depends_on,
			priority = excluded.priority,
			status = excluded.status,
			updated_at = excluded.updated_at
	`,
		story.FullID(),
		story.EpicID,
		story.StoryID,
		story.Title,
		strings.Join(story.DependsOn, ","),
		story.Priority,
		string(story.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert story: %w", err)
	}
	return nil
}

// GetStory retrieves a story by its full id
func (s *SQLiteStorage) GetStory(ctx context.Context, fullID string) (*domain.Story, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT epic_id, story_id, title, depends_on, priority, status
		FROM stories WHERE full_id = ?
	`, fullID)

	story, err := scanStory(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("story %s: %w", fullID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get story: %w", err)
	}
	return story, nil
}

// ListStories retrieves all stories ordered by epic, priority and id
func (s *SQLiteStorage) ListStories(ctx context.Context) ([]domain.Story, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT epic_id, story_id, title, depends_on, priority, status
		FROM stories
		ORDER BY epic_id, priority DESC, story_id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query stories: %w", err)
	}
	defer rows.Close()

	var stories []domain.Story
	for rows.Next() {
		story, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		stories = append(stories, *story)
	}
	return stories, rows.Err()
}

// UpdateStoryStatus sets the processing status of a stored story
func (s *SQLiteStorage) UpdateStoryStatus(ctx context.Context, fullID string, status domain.StoryProcessingStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stories SET status = ?, updated_at = datetime('now') WHERE full_id = ?
	`, string(status), fullID)
	if err != nil {
		return fmt.Errorf("failed to update story status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("story %s: %w", fullID, ErrNotFound)
	}
	return nil
}

// SaveWorkflow persists a pull request workflow context together with its
// CI checks and transition history. The row is replaced wholesale so the
// stored shape always matches the in-memory context.
func (s *SQLiteStorage) SaveWorkflow(ctx context.Context, wf *prflow.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO pr_workflows
			(pr_id, story_id, branch, state, review_verdict, review_iteration, has_conflicts, ci_updated_at, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		wf.PrID,
		wf.StoryID,
		wf.Branch,
		string(wf.State),
		string(wf.ReviewVerdict),
		wf.ReviewIteration,
		wf.HasConflicts,
		nullableTime(wf.CiUpdatedAt),
		wf.CreatedAt.Format(time.RFC3339),
		nullableTimePtr(wf.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pr_ci_checks WHERE pr_id = ?", wf.PrID); err != nil {
		return fmt.Errorf("failed to clear ci checks: %w", err)
	}
	for _, check := range wf.CiChecks {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pr_ci_checks (pr_id, check_name, status) VALUES (?, ?, ?)
		`, wf.PrID, check.Name, string(check.Status))
		if err != nil {
			return fmt.Errorf("failed to insert ci check: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM pr_history WHERE pr_id = ?", wf.PrID); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	for _, entry := range wf.History {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO pr_history (pr_id, from_state, to_state, reason, timestamp)
			VALUES (?, ?, ?, ?, ?)
		`, wf.PrID, string(entry.From), string(entry.To), entry.Reason, entry.Timestamp.Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to insert history entry: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetWorkflow retrieves a workflow context with its history by PR id
func (s *SQLiteStorage) GetWorkflow(ctx context.Context, prID string) (*prflow.Context, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT pr_id, story_id, branch, state, review_verdict, review_iteration, has_conflicts, ci_updated_at, created_at, completed_at
		FROM pr_workflows WHERE pr_id = ?
	`, prID)

	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("workflow %s: %w", prID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	if err := s.loadWorkflowDetails(ctx, wf); err != nil {
		return nil, err
	}
	return wf, nil
}

// ListWorkflows retrieves workflow contexts, optionally filtered by state.
// Histories and CI checks are loaded per workflow.
func (s *SQLiteStorage) ListWorkflows(ctx context.Context, state prflow.State) ([]*prflow.Context, error) {
	query := `
		SELECT pr_id, story_id, branch, state, review_verdict, review_iteration, has_conflicts, ci_updated_at, created_at, completed_at
		FROM pr_workflows
	`
	var args []any
	if state != "" {
		query += " WHERE state = ?"
		args = append(args, string(state))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}
	defer rows.Close()

	var workflows []*prflow.Context
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, wf := range workflows {
		if err := s.loadWorkflowDetails(ctx, wf); err != nil {
			return nil, err
		}
	}
	return workflows, nil
}

func (s *SQLiteStorage) loadWorkflowDetails(ctx context.Context, wf *prflow.Context) error {
	checkRows, err := s.db.QueryContext(ctx, `
		SELECT check_name, status FROM pr_ci_checks WHERE pr_id = ? ORDER BY id
	`, wf.PrID)
	if err != nil {
		return fmt.Errorf("failed to query ci checks: %w", err)
	}
	defer checkRows.Close()

	for checkRows.Next() {
		var name, status string
		if err := checkRows.Scan(&name, &status); err != nil {
			return err
		}
		wf.CiChecks = append(wf.CiChecks, domain.CiCheckResult{Name: name, Status: domain.CiStatus(status)})
	}
	if err := checkRows.Err(); err != nil {
		return err
	}

	histRows, err := s.db.QueryContext(ctx, `
		SELECT from_state, to_state, reason, timestamp FROM pr_history WHERE pr_id = ? ORDER BY id
	`, wf.PrID)
	if err != nil {
		return fmt.Errorf("failed to query history: %w", err)
	}
	defer histRows.Close()

	for histRows.Next() {
		var from, to, reason, ts string
		if err := histRows.Scan(&from, &to, &reason, &ts); err != nil {
			return err
		}
		entry := prflow.HistoryEntry{
			From:   prflow.State(from),
			To:     prflow.State(to),
			Reason: reason,
		}
		entry.Timestamp, _ = time.Parse(time.RFC3339, ts)
		wf.History = append(wf.History, entry)
	}
	return histRows.Err()
}

// SaveEvent persists an edge-case event, assigning an id when missing
func (s *SQLiteStorage) SaveEvent(ctx context.Context, event domain.EdgeCaseEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO edge_case_events
			(id, type, resolution, message, retry_count, session_id, agent_id, story_id, detected_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID,
		string(event.Type),
		string(event.Resolution),
		event.Message,
		event.RetryCount,
		nullableString(event.SessionID),
		nullableString(event.AgentID),
		nullableString(event.StoryID),
		event.DetectedAt.Format(time.RFC3339),
		nullableTimePtr(event.ResolvedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// ListEvents retrieves edge-case events matching the filter, newest first
func (s *SQLiteStorage) ListEvents(ctx context.Context, filter *EventFilter) ([]domain.EdgeCaseEvent, error) {
	query := `
		SELECT id, type, resolution, message, retry_count, session_id, agent_id, story_id, detected_at, resolved_at
		FROM edge_case_events
	`
	where, args := buildEventWhere(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY detected_at DESC, id"

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(" LIMIT %d OFFSET %d", limit, filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []domain.EdgeCaseEvent
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEvents returns the count of events matching the filter
func (s *SQLiteStorage) CountEvents(ctx context.Context, filter *EventFilter) (int, error) {
	query := `SELECT COUNT(*) FROM edge_case_events`
	where, args := buildEventWhere(filter)
	if where != "" {
		query += " WHERE " + where
	}

	var count int
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// SaveCounters replaces the stored retry counters with the given set
func (s *SQLiteStorage) SaveCounters(ctx context.Context, counters map[string]int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM retry_counters"); err != nil {
		return fmt.Errorf("failed to clear counters: %w", err)
	}
	for key, count := range counters {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO retry_counters (key, count) VALUES (?, ?)
		`, key, count)
		if err != nil {
			return fmt.Errorf("failed to insert counter: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// LoadCounters retrieves all stored retry counters
func (s *SQLiteStorage) LoadCounters(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key, count FROM retry_counters")
	if err != nil {
		return nil, fmt.Errorf("failed to query counters: %w", err)
	}
	defer rows.Close()

	counters := make(map[string]int)
	for rows.Next() {
		var key string
		var count int
		if err := rows.Scan(&key, &count); err != nil {
			return nil, err
		}
		counters[key] = count
	}
	return counters, rows.Err()
}

// GetStats returns aggregate statistics across stories, workflows and events
func (s *SQLiteStorage) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		StoriesByStatus:  make(map[domain.StoryProcessingStatus]int),
		WorkflowsByState: make(map[prflow.State]int),
		EventsByType:     make(map[domain.EdgeCaseType]int),
	}

	storyRows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM stories GROUP BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get story stats: %w", err)
	}
	defer storyRows.Close()

	for storyRows.Next() {
		var status string
		var count int
		if err := storyRows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats.StoriesByStatus[domain.StoryProcessingStatus(status)] = count
		stats.TotalStories += count
	}
	if err := storyRows.Err(); err != nil {
		return nil, err
	}

	if stats.TotalStories > 0 {
		stats.CompletionRate = float64(stats.StoriesByStatus[domain.StoryCompleted]) / float64(stats.TotalStories) * 100
	}

	wfRows, err := s.db.QueryContext(ctx, `
		SELECT state, COUNT(*) FROM pr_workflows GROUP BY state
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow stats: %w", err)
	}
	defer wfRows.Close()

	for wfRows.Next() {
		var state string
		var count int
		if err := wfRows.Scan(&state, &count); err != nil {
			return nil, err
		}
		stats.WorkflowsByState[prflow.State(state)] = count
		stats.TotalWorkflows += count
	}
	if err := wfRows.Err(); err != nil {
		return nil, err
	}

	eventRows, err := s.db.QueryContext(ctx, `
		SELECT type, COUNT(*) FROM edge_case_events GROUP BY type
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get event stats: %w", err)
	}
	defer eventRows.Close()

	for eventRows.Next() {
		var eventType string
		var count int
		if err := eventRows.Scan(&eventType, &count); err != nil {
			return nil, err
		}
		stats.EventsByType[domain.EdgeCaseType(eventType)] = count
		stats.TotalEvents += count
	}
	if err := eventRows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM edge_case_events WHERE resolved_at IS NULL
	`).Scan(&stats.UnresolvedEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to count unresolved events: %w", err)
	}

	stats.RecentEvents, err = s.ListEvents(ctx, &EventFilter{Limit: 10})
	if err != nil {
		return nil, fmt.Errorf("failed to get recent events: %w", err)
	}

	return stats, nil
}

// scanner abstracts sql.Row and sql.Rows for shared scan helpers
type scanner interface {
	Scan(dest ...any) error
}

func scanStory(row scanner) (*domain.Story, error) {
	var story domain.Story
	var title, dependsOn sql.NullString
	var status string

	err := row.Scan(&story.EpicID, &story.StoryID, &title, &dependsOn, &story.Priority, &status)
	if err != nil {
		return nil, err
	}

	story.Title = title.String
	story.Status = domain.StoryProcessingStatus(status)
	if dependsOn.String != "" {
		story.DependsOn = strings.Split(dependsOn.String, ",")
	}
	return &story, nil
}

func scanWorkflow(row scanner) (*prflow.Context, error) {
	var wf prflow.Context
	var branch, ciUpdatedAt, completedAt sql.NullString
	var state, verdict, createdAt string

	err := row.Scan(
		&wf.PrID,
		&wf.StoryID,
		&branch,
		&state,
		&verdict,
		&wf.ReviewIteration,
		&wf.HasConflicts,
		&ciUpdatedAt,
		&createdAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	wf.Branch = branch.String
	wf.State = prflow.State(state)
	wf.ReviewVerdict = domain.ReviewVerdict(verdict)
	wf.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	if ciUpdatedAt.Valid {
		wf.CiUpdatedAt, _ = time.Parse(time.RFC3339, ciUpdatedAt.String)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339, completedAt.String)
		if err == nil {
			wf.CompletedAt = &t
		}
	}
	return &wf, nil
}

func scanEvent(row scanner) (domain.EdgeCaseEvent, error) {
	var event domain.EdgeCaseEvent
	var eventType, resolution, detectedAt string
	var sessionID, agentID, storyID, resolvedAt sql.NullString

	err := row.Scan(
		&event.ID,
		&eventType,
		&resolution,
		&event.Message,
		&event.RetryCount,
		&sessionID,
		&agentID,
		&storyID,
		&detectedAt,
		&resolvedAt,
	)
	if err != nil {
		return domain.EdgeCaseEvent{}, err
	}

	event.Type = domain.EdgeCaseType(eventType)
	event.Resolution = domain.EdgeCaseResolution(resolution)
	event.SessionID = sessionID.String
	event.AgentID = agentID.String
	event.StoryID = storyID.String
	event.DetectedAt, _ = time.Parse(time.RFC3339, detectedAt)
	if resolvedAt.Valid {
		t, err := time.Parse(time.RFC3339, resolvedAt.String)
		if err == nil {
			event.ResolvedAt = &t
		}
	}
	return event, nil
}

func buildEventWhere(filter *EventFilter) (string, []any) {
	var clauses []string
	var args []any

	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if filter.AgentID != "" {
		clauses = append(clauses, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.StoryID != "" {
		clauses = append(clauses, "story_id = ?")
		args = append(args, filter.StoryID)
	}
	if filter.After != nil {
		clauses = append(clauses, "detected_at >= ?")
		args = append(args, filter.After.Format(time.RFC3339))
	}
	if filter.Pending {
		clauses = append(clauses, "resolved_at IS NULL")
	}

	return strings.Join(clauses, " AND "), args
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.Format(time.RFC3339)
}

func nullableTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}
