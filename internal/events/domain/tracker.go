package domain

import (
	"encoding/json"
	"time"
)

// TrackerStatus describes an agent's consumption state for one task. The
// set is open: these are the well-known values, but no transition graph is
// enforced and callers may record others.
type TrackerStatus string

const (
	TrackerIdle       TrackerStatus = "idle"
	TrackerProcessing TrackerStatus = "processing"
	TrackerFailed     TrackerStatus = "failed"
	TrackerCompleted  TrackerStatus = "completed"
)

// TaskTracker records how far one agent has consumed one task's event log.
// One row exists per (agent_id, task_id) pair. The sequence of the event
// referenced by LastProcessedEventID is monotonically non-decreasing across
// all commits.
type TaskTracker struct {
	ID                   string        `json:"id"`
	AgentID              string        `json:"agent_id"`
	TaskID               string        `json:"task_id"`
	LastProcessedEventID string        `json:"last_processed_event_id,omitempty"`
	Status               TrackerStatus `json:"status"`
	StatusReason         string        `json:"status_reason,omitempty"`
	CreatedAt            time.Time     `json:"created_at"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// TrackerUpdate carries the optional fields of one commit. Nil fields are
// left untouched. The cursor field participates in the forward-only
// comparison; status and reason update unconditionally.
type TrackerUpdate struct {
	LastProcessedEventID *string
	Status               *TrackerStatus
	StatusReason         *string
}

// IsEmpty reports whether the update would change nothing.
func (u TrackerUpdate) IsEmpty() bool {
	return u.LastProcessedEventID == nil && u.Status == nil && u.StatusReason == nil
}

// TaskState is the single mutable state document attached to a task.
type TaskState struct {
	TaskID    string          `json:"task_id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}
