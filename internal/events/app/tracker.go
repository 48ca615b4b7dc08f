package app

import (
	"context"
	"encoding/json"

	apierrors "agentex/internal/errors"
	"agentex/internal/events/domain"
	"agentex/internal/events/ports"
	"agentex/internal/logging"
)

// TrackerService manages per-(agent, task) consumption cursors and the
// task state document. Cursor values always come from storage; nothing
// here caches a sequence or cursor in process.
type TrackerService struct {
	trackers ports.TrackerStore
	states   ports.StateStore
	logger   logging.Logger
}

// NewTrackerService wires the service.
func NewTrackerService(trackers ports.TrackerStore, states ports.StateStore, logger logging.Logger) *TrackerService {
	return &TrackerService{trackers: trackers, states: states, logger: logging.OrNop(logger)}
}

// GetOrCreate returns the single tracker for the pair, creating it idle
// with an unset cursor on first use. Repeated and concurrent calls all
// converge on the same row.
func (t *TrackerService) GetOrCreate(ctx context.Context, agentID, taskID string) (domain.TaskTracker, error) {
	if agentID == "" {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "agent_id is required")
	}
	if taskID == "" {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	return t.trackers.GetOrCreate(ctx, agentID, taskID)
}

// Get returns the tracker by id.
func (t *TrackerService) Get(ctx context.Context, id string) (domain.TaskTracker, error) {
	if id == "" {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "tracker id is required")
	}
	return t.trackers.GetTracker(ctx, id)
}

// Commit applies a cursor or status update. A cursor that moves backwards
// is the caller's error: the store rejects it with CURSOR_REGRESSION and
// leaves the row unchanged, it is never clamped to the stored value.
func (t *TrackerService) Commit(ctx context.Context, id string, update domain.TrackerUpdate) (domain.TaskTracker, error) {
	if id == "" {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "tracker id is required")
	}
	if update.IsEmpty() {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "update has no fields")
	}

	tracker, err := t.trackers.Commit(ctx, id, update)
	if err != nil {
		if apierrors.HasCode(err, apierrors.CodeCursorRegression) {
			t.logger.Warn("rejected cursor regression on tracker %s", id)
		}
		return domain.TaskTracker{}, err
	}
	return tracker, nil
}

// GetState returns the task's state document.
func (t *TrackerService) GetState(ctx context.Context, taskID string) (domain.TaskState, error) {
	if taskID == "" {
		return domain.TaskState{}, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	return t.states.GetState(ctx, taskID)
}

// PutState replaces the task's state document.
func (t *TrackerService) PutState(ctx context.Context, taskID string, data json.RawMessage) (domain.TaskState, error) {
	if taskID == "" {
		return domain.TaskState{}, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	if len(data) == 0 {
		return domain.TaskState{}, apierrors.New(apierrors.CodeInvalidArgument, "state data is required")
	}
	return t.states.PutState(ctx, taskID, data)
}
