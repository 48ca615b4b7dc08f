package ports

import (
	"context"
	"encoding/json"

	"agentex/internal/events/domain"
)

// EventStore persists the per-task ordered event log. Append assigns the
// sequence atomically with respect to concurrent appenders on the same
// task; appends on different tasks do not contend. Implementations read
// the latest persisted sequence inside the append transaction; no value is
// cached across calls.
type EventStore interface {
	// Append stores the event, assigning SequenceID (max+1, or 1 for an
	// empty log) and returning the stored event.
	Append(ctx context.Context, event domain.Event) (domain.Event, error)

	// Get returns the event by id.
	Get(ctx context.Context, id string) (domain.Event, error)

	// ListAfter returns events for the task with sequence strictly greater
	// than afterSeq, ascending, up to limit.
	ListAfter(ctx context.Context, taskID string, afterSeq int64, limit int) ([]domain.Event, error)
}

// TrackerStore persists per-(agent, task) consumption cursors. Commit is a
// compare-and-swap: the cursor comparison and the update happen inside one
// transaction, visible to readers only after commit.
type TrackerStore interface {
	// GetOrCreate returns the single tracker row for the pair, creating it
	// on first use. Concurrent creators converge on one row.
	GetOrCreate(ctx context.Context, agentID, taskID string) (domain.TaskTracker, error)

	// GetTracker returns the tracker by id.
	GetTracker(ctx context.Context, id string) (domain.TaskTracker, error)

	// Commit applies the update. A cursor whose sequence is strictly less
	// than the stored cursor's sequence fails with CURSOR_REGRESSION and
	// leaves the row unchanged.
	Commit(ctx context.Context, id string, update domain.TrackerUpdate) (domain.TaskTracker, error)
}

// StateStore persists the single state document per task.
type StateStore interface {
	GetState(ctx context.Context, taskID string) (domain.TaskState, error)
	PutState(ctx context.Context, taskID string, data json.RawMessage) (domain.TaskState, error)
}
