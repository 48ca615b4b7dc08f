// Package adapters provides the storage implementations behind the event,
// tracker, and state ports: an in-memory store for tests and single-node
// development, and a Postgres store for production.
package adapters

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apierrors "agentex/internal/errors"
	"agentex/internal/events/domain"
)

// MemoryStore keeps events, trackers, and task state in process memory. A
// single mutex covers all maps: sequence assignment and cursor comparison
// must be atomic with their writes, and the scale here never justifies
// finer locking.
type MemoryStore struct {
	mu       sync.Mutex
	events   map[string]domain.Event   // by event id
	byTask   map[string][]domain.Event // ascending by sequence
	nextSeq  map[string]int64
	trackers map[string]domain.TaskTracker // by tracker id
	byPair   map[string]string             // agent_id+task_id -> tracker id
	states   map[string]domain.TaskState
	now      func() time.Time
}

// NewMemoryStore builds an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:   make(map[string]domain.Event),
		byTask:   make(map[string][]domain.Event),
		nextSeq:  make(map[string]int64),
		trackers: make(map[string]domain.TaskTracker),
		byPair:   make(map[string]string),
		states:   make(map[string]domain.TaskState),
		now:      time.Now,
	}
}

// Append assigns the next sequence for the event's task and stores it.
func (s *MemoryStore) Append(_ context.Context, event domain.Event) (domain.Event, error) {
	if event.TaskID == "" {
		return domain.Event{}, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	if err := event.Content.Validate(); err != nil {
		return domain.Event{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq[event.TaskID]++
	event.ID = uuid.NewString()
	event.SequenceID = s.nextSeq[event.TaskID]
	event.CreatedAt = s.now().UTC().Truncate(time.Millisecond)

	s.events[event.ID] = event
	s.byTask[event.TaskID] = append(s.byTask[event.TaskID], event)
	return event, nil
}

// Get returns the event by id.
func (s *MemoryStore) Get(_ context.Context, id string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[id]
	if !ok {
		return domain.Event{}, apierrors.Newf(apierrors.CodeNotFound, "event %s not found", id)
	}
	return event, nil
}

// ListAfter returns events with sequence strictly greater than afterSeq.
func (s *MemoryStore) ListAfter(_ context.Context, taskID string, afterSeq int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.byTask[taskID]
	// Events append in sequence order, so the slice is already sorted.
	idx := sort.Search(len(log), func(i int) bool { return log[i].SequenceID > afterSeq })
	out := make([]domain.Event, 0, limit)
	for _, ev := range log[idx:] {
		if len(out) == limit {
			break
		}
		out = append(out, ev)
	}
	return out, nil
}

// EventTaskID returns the owning task of an event, for ownership mapping.
func (s *MemoryStore) EventTaskID(ctx context.Context, eventID string) (string, error) {
	event, err := s.Get(ctx, eventID)
	if err != nil {
		return "", err
	}
	return event.TaskID, nil
}

// StateTaskID returns the owning task of a state document. State selectors
// are task ids, so this only confirms the document exists.
func (s *MemoryStore) StateTaskID(_ context.Context, stateID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.states[stateID]; !ok {
		return "", apierrors.Newf(apierrors.CodeNotFound, "state for task %s not found", stateID)
	}
	return stateID, nil
}

// GetOrCreate returns the tracker for the pair, creating it on first use.
func (s *MemoryStore) GetOrCreate(_ context.Context, agentID, taskID string) (domain.TaskTracker, error) {
	if agentID == "" || taskID == "" {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "agent_id and task_id are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := agentID + "\x00" + taskID
	if id, ok := s.byPair[key]; ok {
		return s.trackers[id], nil
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	tracker := domain.TaskTracker{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		TaskID:    taskID,
		Status:    domain.TrackerIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.trackers[tracker.ID] = tracker
	s.byPair[key] = tracker.ID
	return tracker, nil
}

// GetTracker returns the tracker by id.
func (s *MemoryStore) GetTracker(_ context.Context, id string) (domain.TaskTracker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tracker, ok := s.trackers[id]
	if !ok {
		return domain.TaskTracker{}, apierrors.Newf(apierrors.CodeNotFound, "tracker %s not found", id)
	}
	return tracker, nil
}

// Commit applies the update under the forward-only cursor rule. The
// comparison resolves both event ids to sequences while holding the lock,
// so concurrent commits serialize against each other and against appends.
func (s *MemoryStore) Commit(_ context.Context, id string, update domain.TrackerUpdate) (domain.TaskTracker, error) {
	if update.IsEmpty() {
		return domain.TaskTracker{}, apierrors.New(apierrors.CodeInvalidArgument, "update has no fields")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tracker, ok := s.trackers[id]
	if !ok {
		return domain.TaskTracker{}, apierrors.Newf(apierrors.CodeNotFound, "tracker %s not found", id)
	}

	if update.LastProcessedEventID != nil {
		proposed, ok := s.events[*update.LastProcessedEventID]
		if !ok {
			return domain.TaskTracker{}, apierrors.Newf(apierrors.CodeNotFound, "event %s not found", *update.LastProcessedEventID)
		}
		if proposed.TaskID != tracker.TaskID {
			return domain.TaskTracker{}, apierrors.Newf(apierrors.CodeInvalidArgument, "event %s does not belong to task %s", proposed.ID, tracker.TaskID)
		}
		var current int64 // unset cursor compares as sequence zero
		if tracker.LastProcessedEventID != "" {
			current = s.events[tracker.LastProcessedEventID].SequenceID
		}
		if proposed.SequenceID < current {
			return domain.TaskTracker{}, apierrors.Newf(apierrors.CodeCursorRegression,
				"cursor would move from sequence %d to %d", current, proposed.SequenceID)
		}
		tracker.LastProcessedEventID = proposed.ID
	}
	if update.Status != nil {
		tracker.Status = *update.Status
	}
	if update.StatusReason != nil {
		tracker.StatusReason = *update.StatusReason
	}
	tracker.UpdatedAt = s.now().UTC().Truncate(time.Millisecond)

	s.trackers[id] = tracker
	return tracker, nil
}

// GetState returns the task's state document.
func (s *MemoryStore) GetState(_ context.Context, taskID string) (domain.TaskState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.states[taskID]
	if !ok {
		return domain.TaskState{}, apierrors.Newf(apierrors.CodeNotFound, "state for task %s not found", taskID)
	}
	return state, nil
}

// PutState replaces the task's state document.
func (s *MemoryStore) PutState(_ context.Context, taskID string, data json.RawMessage) (domain.TaskState, error) {
	if taskID == "" {
		return domain.TaskState{}, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	if !json.Valid(data) {
		return domain.TaskState{}, apierrors.New(apierrors.CodeInvalidArgument, "state data must be valid JSON")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.TaskState{
		TaskID:    taskID,
		Data:      append(json.RawMessage(nil), data...),
		UpdatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	s.states[taskID] = state
	return state, nil
}
