package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apierrors "agentex/internal/errors"
	"agentex/internal/events/domain"
	"agentex/internal/logging"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000

	// appendRetries bounds how often an append re-runs its transaction
	// after losing a sequence race to a concurrent appender on the same
	// task. Different tasks never contend.
	appendRetries = 3
)

const pgUniqueViolation = "23505"

// PostgresStore persists events, trackers, and task state in Postgres. All
// multi-statement operations run inside a transaction so sequence
// assignment and cursor comparison are atomic with their writes.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

// NewPostgresStore wires the store onto an existing pool.
func NewPostgresStore(pool *pgxpool.Pool, logger logging.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logging.OrNop(logger)}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS task_sequences (
			task_id TEXT PRIMARY KEY,
			last_sequence_id BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS events (
			id UUID PRIMARY KEY,
			task_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			sequence_id BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			content JSONB NOT NULL,
			CONSTRAINT events_task_sequence_unique UNIQUE (task_id, sequence_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_task_sequence ON events (task_id, sequence_id)`,
		`CREATE TABLE IF NOT EXISTS task_trackers (
			id UUID PRIMARY KEY,
			agent_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			last_processed_event_id UUID,
			status TEXT NOT NULL,
			status_reason TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL,
			CONSTRAINT task_trackers_pair_unique UNIQUE (agent_id, task_id)
		)`,
		`CREATE TABLE IF NOT EXISTS task_states (
			task_id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Append assigns the next sequence for the task and inserts the event, both
// inside one transaction. The counter row serializes appenders on the same
// task; the unique constraint backstops the counter, and a violation
// triggers a bounded retry.
func (s *PostgresStore) Append(ctx context.Context, event domain.Event) (domain.Event, error) {
	if event.TaskID == "" {
		return domain.Event{}, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	if err := event.Content.Validate(); err != nil {
		return domain.Event{}, err
	}

	var lastErr error
	for attempt := 0; attempt < appendRetries; attempt++ {
		stored, err := s.appendOnce(ctx, event)
		if err == nil {
			return stored, nil
		}
		if !isUniqueViolation(err) {
			return domain.Event{}, err
		}
		lastErr = err
		s.logger.Debug("append sequence conflict on task %s, attempt %d", event.TaskID, attempt+1)
	}
	return domain.Event{}, apierrors.Wrap(apierrors.CodeSequenceConflict,
		fmt.Sprintf("append on task %s kept losing the sequence race", event.TaskID), lastErr)
}

func (s *PostgresStore) appendOnce(ctx context.Context, event domain.Event) (domain.Event, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.Event{}, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO task_sequences (task_id, last_sequence_id)
		VALUES ($1, 1)
		ON CONFLICT (task_id)
		DO UPDATE SET last_sequence_id = task_sequences.last_sequence_id + 1
		RETURNING last_sequence_id`, event.TaskID).Scan(&seq)
	if err != nil {
		return domain.Event{}, fmt.Errorf("advance sequence: %w", err)
	}

	content, err := json.Marshal(event.Content)
	if err != nil {
		return domain.Event{}, fmt.Errorf("encode content: %w", err)
	}

	event.ID = uuid.NewString()
	event.SequenceID = seq
	event.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)

	_, err = tx.Exec(ctx, `
		INSERT INTO events (id, task_id, agent_id, sequence_id, created_at, content)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.TaskID, event.AgentID, event.SequenceID, event.CreatedAt, content)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.Event{}, fmt.Errorf("commit append: %w", err)
	}
	return event, nil
}

// Get returns the event by id.
func (s *PostgresStore) Get(ctx context.Context, id string) (domain.Event, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, task_id, agent_id, sequence_id, created_at, content
		FROM events WHERE id = $1`, id)
	event, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Event{}, apierrors.Newf(apierrors.CodeNotFound, "event %s not found", id)
	}
	if err != nil {
		return domain.Event{}, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// ListAfter returns events with sequence strictly greater than afterSeq,
// ascending, up to limit.
func (s *PostgresStore) ListAfter(ctx context.Context, taskID string, afterSeq int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, agent_id, sequence_id, created_at, content
		FROM events
		WHERE task_id = $1 AND sequence_id > $2
		ORDER BY sequence_id ASC
		LIMIT $3`, taskID, afterSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, limit)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// EventTaskID returns the owning task of an event.
func (s *PostgresStore) EventTaskID(ctx context.Context, eventID string) (string, error) {
	var taskID string
	err := s.pool.QueryRow(ctx, `SELECT task_id FROM events WHERE id = $1`, eventID).Scan(&taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apierrors.Newf(apierrors.CodeNotFound, "event %s not found", eventID)
	}
	if err != nil {
		return "", fmt.Errorf("event owner: %w", err)
	}
	return taskID, nil
}

// StateTaskID confirms the state document exists. State selectors are task
// ids, so the owner is the selector itself.
func (s *PostgresStore) StateTaskID(ctx context.Context, stateID string) (string, error) {
	var taskID string
	err := s.pool.QueryRow(ctx, `SELECT task_id FROM task_states WHERE task_id = $1`, stateID).Scan(&taskID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apierrors.Newf(apierrors.CodeNotFound, "state for task %s not found", stateID)
	}
	if err != nil {
		return "", fmt.Errorf("state owner: %w", err)
	}
	return taskID, nil
}

// GetOrCreate returns the tracker for the pair, inserting it on first use.
// ON CONFLICT makes concurrent creators converge on the one existing row.
func (s *PostgresStore) GetOrCreate(ctx context.Context, agentID, taskID string) (domain.TaskTracker, error) {
	if agentID == "" || taskID == "" {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "agent_id and task_id are required")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_trackers (id, agent_id, task_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (agent_id, task_id) DO NOTHING`,
		uuid.NewString(), agentID, taskID, domain.TrackerIdle, now)
	if err != nil {
		return domain.TaskTracker{}, fmt.Errorf("create tracker: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, task_id, last_processed_event_id, status, status_reason, created_at, updated_at
		FROM task_trackers WHERE agent_id = $1 AND task_id = $2`, agentID, taskID)
	tracker, err := scanTracker(row)
	if err != nil {
		return domain.TaskTracker{}, fmt.Errorf("load tracker: %w", err)
	}
	return tracker, nil
}

// GetTracker returns the tracker by id.
func (s *PostgresStore) GetTracker(ctx context.Context, id string) (domain.TaskTracker, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, agent_id, task_id, last_processed_event_id, status, status_reason, created_at, updated_at
		FROM task_trackers WHERE id = $1`, id)
	tracker, err := scanTracker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TaskTracker{}, apierrors.Newf(apierrors.CodeNotFound, "tracker %s not found", id)
	}
	if err != nil {
		return domain.TaskTracker{}, fmt.Errorf("get tracker: %w", err)
	}
	return tracker, nil
}

// Commit applies the update under the forward-only cursor rule. The tracker
// row is locked for the duration of the transaction, so the comparison and
// the write form one atomic step against concurrent commits.
func (s *PostgresStore) Commit(ctx context.Context, id string, update domain.TrackerUpdate) (domain.TaskTracker, error) {
	if update.IsEmpty() {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "update has no fields")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return domain.TaskTracker{}, fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, agent_id, task_id, last_processed_event_id, status, status_reason, created_at, updated_at
		FROM task_trackers WHERE id = $1 FOR UPDATE`, id)
	tracker, err := scanTracker(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TaskTracker{}, apierrors.Newf(apierrors.CodeNotFound, "tracker %s not found", id)
	}
	if err != nil {
		return domain.TaskTracker{}, fmt.Errorf("lock tracker: %w", err)
	}

	if update.LastProcessedEventID != nil {
		proposed, current, err := s.cursorSequences(ctx, tx, tracker, *update.LastProcessedEventID)
		if err != nil {
			return domain.TaskTracker{}, err
		}
		if proposed < current {
			return domain.TaskTracker{}, apierrors.Newf(apierrors.CodeCursorRegression,
				"cursor would move from sequence %d to %d", current, proposed)
		}
		tracker.LastProcessedEventID = *update.LastProcessedEventID
	}
	if update.Status != nil {
		tracker.Status = *update.Status
	}
	if update.StatusReason != nil {
		tracker.StatusReason = *update.StatusReason
	}
	tracker.UpdatedAt = time.Now().UTC().Truncate(time.Millisecond)

	var lastEventID *string
	if tracker.LastProcessedEventID != "" {
		lastEventID = &tracker.LastProcessedEventID
	}
	_, err = tx.Exec(ctx, `
		UPDATE task_trackers
		SET last_processed_event_id = $2, status = $3, status_reason = $4, updated_at = $5
		WHERE id = $1`,
		tracker.ID, lastEventID, tracker.Status, tracker.StatusReason, tracker.UpdatedAt)
	if err != nil {
		return domain.TaskTracker{}, fmt.Errorf("update tracker: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return domain.TaskTracker{}, fmt.Errorf("commit tracker: %w", err)
	}
	return tracker, nil
}

// cursorSequences resolves the proposed and current cursor event ids to
// sequences within the same transaction. An unset cursor compares as zero.
func (s *PostgresStore) cursorSequences(ctx context.Context, tx pgx.Tx, tracker domain.TaskTracker, proposedID string) (proposed, current int64, err error) {
	var taskID string
	err = tx.QueryRow(ctx, `SELECT task_id, sequence_id FROM events WHERE id = $1`, proposedID).Scan(&taskID, &proposed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, apierrors.Newf(apierrors.CodeNotFound, "event %s not found", proposedID)
	}
	if err != nil {
		return 0, 0, fmt.Errorf("resolve proposed cursor: %w", err)
	}
	if taskID != tracker.TaskID {
		return 0, 0, apierrors.Newf(apierrors.CodeInvalidArgument, "event %s does not belong to task %s", proposedID, tracker.TaskID)
	}

	if tracker.LastProcessedEventID != "" {
		err = tx.QueryRow(ctx, `SELECT sequence_id FROM events WHERE id = $1`, tracker.LastProcessedEventID).Scan(&current)
		if err != nil {
			return 0, 0, fmt.Errorf("resolve current cursor: %w", err)
		}
	}
	return proposed, current, nil
}

// GetState returns the task's state document.
func (s *PostgresStore) GetState(ctx context.Context, taskID string) (domain.TaskState, error) {
	var state domain.TaskState
	err := s.pool.QueryRow(ctx, `SELECT task_id, data, updated_at FROM task_states WHERE task_id = $1`, taskID).
		Scan(&state.TaskID, &state.Data, &state.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.TaskState{}, apierrors.Newf(apierrors.CodeNotFound, "state for task %s not found", taskID)
	}
	if err != nil {
		return domain.TaskState{}, fmt.Errorf("get state: %w", err)
	}
	return state, nil
}

// PutState upserts the task's state document.
func (s *PostgresStore) PutState(ctx context.Context, taskID string, data json.RawMessage) (domain.TaskState, error) {
	if taskID == "" {
		return domain.TaskState{}, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	if !json.Valid(data) {
		return domain.TaskState{}, apierrors.New(apierrors.CodeInvalidArgument, "state data must be valid JSON")
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	_, err := s.pool.Exec(ctx, `
		INSERT INTO task_states (task_id, data, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (task_id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		taskID, []byte(data), now)
	if err != nil {
		return domain.TaskState{}, fmt.Errorf("put state: %w", err)
	}
	return domain.TaskState{TaskID: taskID, Data: data, UpdatedAt: now}, nil
}

func scanEvent(row pgx.Row) (domain.Event, error) {
	var (
		event   domain.Event
		content []byte
	)
	if err := row.Scan(&event.ID, &event.TaskID, &event.AgentID, &event.SequenceID, &event.CreatedAt, &content); err != nil {
		return domain.Event{}, err
	}
	if err := json.Unmarshal(content, &event.Content); err != nil {
		return domain.Event{}, fmt.Errorf("decode content: %w", err)
	}
	return event, nil
}

func scanTracker(row pgx.Row) (domain.TaskTracker, error) {
	var (
		tracker     domain.TaskTracker
		lastEventID *string
	)
	err := row.Scan(&tracker.ID, &tracker.AgentID, &tracker.TaskID, &lastEventID,
		&tracker.Status, &tracker.StatusReason, &tracker.CreatedAt, &tracker.UpdatedAt)
	if err != nil {
		return domain.TaskTracker{}, err
	}
	if lastEventID != nil {
		tracker.LastProcessedEventID = *lastEventID
	}
	return tracker, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation ||
			strings.Contains(pgErr.ConstraintName, "events_task_sequence_unique")
	}
	return false
}
