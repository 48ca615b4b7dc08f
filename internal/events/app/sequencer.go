// Package app holds the event-log services: sequenced appends, cursor
// tracking, task state, and live fan-out to subscribers.
package app

import (
	"context"

	apierrors "agentex/internal/errors"
	"agentex/internal/events/domain"
	"agentex/internal/events/ports"
	"agentex/internal/logging"
)

// Sequencer is the write and read path of the per-task event log. Sequence
// assignment itself lives in the store, atomic with the insert; this layer
// validates input, resolves cursors for reads, and feeds the broadcaster.
type Sequencer struct {
	store       ports.EventStore
	broadcaster *Broadcaster
	logger      logging.Logger
}

// NewSequencer wires the sequencer. The broadcaster may be nil when live
// fan-out is not needed.
func NewSequencer(store ports.EventStore, broadcaster *Broadcaster, logger logging.Logger) *Sequencer {
	return &Sequencer{store: store, broadcaster: broadcaster, logger: logging.OrNop(logger)}
}

// Append validates and stores a new event on the task's log, then fans it
// out to live subscribers. The returned event carries its assigned id,
// sequence, and timestamp.
func (s *Sequencer) Append(ctx context.Context, taskID, agentID string, content domain.Content) (domain.Event, error) {
	if taskID == "" {
		return domain.Event{}, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	if agentID == "" {
		return domain.Event{}, apierrors.New(apierrors.CodeInvalidArgument, "agent_id is required")
	}
	if err := content.Validate(); err != nil {
		return domain.Event{}, err
	}

	event, err := s.store.Append(ctx, domain.Event{TaskID: taskID, AgentID: agentID, Content: content})
	if err != nil {
		return domain.Event{}, err
	}
	s.logger.Debug("appended event %s seq %d on task %s", event.ID, event.SequenceID, event.TaskID)

	if s.broadcaster != nil {
		s.broadcaster.Publish(event)
	}
	return event, nil
}

// Get returns one event by id.
func (s *Sequencer) Get(ctx context.Context, id string) (domain.Event, error) {
	if id == "" {
		return domain.Event{}, apierrors.New(apierrors.CodeInvalidArgument, "event id is required")
	}
	return s.store.Get(ctx, id)
}

// ListQuery selects a slice of a task's log. AfterEventID and AfterSequence
// are alternative cursors; at most one may be set. With neither, listing
// starts from the beginning of the log.
type ListQuery struct {
	TaskID        string
	AfterEventID  string
	AfterSequence int64
	Limit         int
}

// List returns events strictly after the query's cursor, in sequence
// order. An event-id cursor resolves through the store, so a stale or
// foreign id fails rather than silently returning the wrong window.
func (s *Sequencer) List(ctx context.Context, q ListQuery) ([]domain.Event, error) {
	if q.TaskID == "" {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "task_id is required")
	}
	if q.AfterEventID != "" && q.AfterSequence != 0 {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "last_processed_event_id and after_sequence_id are mutually exclusive")
	}
	if q.AfterSequence < 0 {
		return nil, apierrors.New(apierrors.CodeInvalidArgument, "after_sequence_id must not be negative")
	}

	afterSeq := q.AfterSequence
	if q.AfterEventID != "" {
		cursor, err := s.store.Get(ctx, q.AfterEventID)
		if err != nil {
			return nil, err
		}
		if cursor.TaskID != q.TaskID {
			return nil, apierrors.Newf(apierrors.CodeInvalidArgument, "event %s does not belong to task %s", q.AfterEventID, q.TaskID)
		}
		afterSeq = cursor.SequenceID
	}

	return s.store.ListAfter(ctx, q.TaskID, afterSeq, q.Limit)
}
