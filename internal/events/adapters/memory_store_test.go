package adapters

import (
	"context"
	"fmt"
	"sync"
	"testing"

	apierrors "agentex/internal/errors"
	"agentex/internal/events/domain"
)

func textEvent(taskID, agentID, text string) domain.Event {
	return domain.Event{
		TaskID:  taskID,
		AgentID: agentID,
		Content: domain.Content{Kind: domain.ContentText, Author: agentID, Text: text},
	}
}

func TestMemoryStoreAppendAssignsSequence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.Append(ctx, textEvent("task-1", "agent-a", "one"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if first.SequenceID != 1 {
		t.Errorf("first sequence = %d, want 1", first.SequenceID)
	}
	if first.ID == "" {
		t.Error("expected assigned event id")
	}

	second, err := store.Append(ctx, textEvent("task-1", "agent-a", "two"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if second.SequenceID != 2 {
		t.Errorf("second sequence = %d, want 2", second.SequenceID)
	}

	// A different task starts its own log at 1.
	other, err := store.Append(ctx, textEvent("task-2", "agent-a", "hello"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if other.SequenceID != 1 {
		t.Errorf("other task sequence = %d, want 1", other.SequenceID)
	}
}

func TestMemoryStoreConcurrentAppends(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 16
	const perWorker = 25

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := store.Append(ctx, textEvent("task-1", fmt.Sprintf("agent-%d", w), "msg"))
				if err != nil {
					t.Errorf("append: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	events, err := store.ListAfter(ctx, "task-1", 0, workers*perWorker+1)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != workers*perWorker {
		t.Fatalf("got %d events, want %d", len(events), workers*perWorker)
	}
	for i, ev := range events {
		want := int64(i + 1)
		if ev.SequenceID != want {
			t.Fatalf("sequence at index %d = %d, want %d", i, ev.SequenceID, want)
		}
	}
}

func TestMemoryStoreListAfter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := store.Append(ctx, textEvent("task-1", "agent-a", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := store.ListAfter(ctx, "task-1", 2, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	if events[0].SequenceID != 3 {
		t.Errorf("first sequence = %d, want 3", events[0].SequenceID)
	}

	limited, err := store.ListAfter(ctx, "task-1", 0, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("got %d events, want 2", len(limited))
	}

	empty, err := store.ListAfter(ctx, "task-1", 5, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("got %d events past the end, want 0", len(empty))
	}
}

func TestMemoryStoreListAfterClampsLimit(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < maxListLimit+5; i++ {
		if _, err := store.Append(ctx, textEvent("task-1", "agent-a", fmt.Sprintf("msg-%d", i))); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	events, err := store.ListAfter(ctx, "task-1", 0, maxListLimit*10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != maxListLimit {
		t.Errorf("got %d events, want the %d cap", len(events), maxListLimit)
	}
}

func TestMemoryStoreGetOrCreateIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "agent-a", "task-1")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if first.Status != domain.TrackerIdle {
		t.Errorf("status = %q, want %q", first.Status, domain.TrackerIdle)
	}

	second, err := store.GetOrCreate(ctx, "agent-a", "task-1")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("second call returned a different tracker: %s vs %s", second.ID, first.ID)
	}

	other, err := store.GetOrCreate(ctx, "agent-b", "task-1")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}
	if other.ID == first.ID {
		t.Error("distinct pair returned the same tracker")
	}
}

func TestMemoryStoreConcurrentGetOrCreate(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	const workers = 16
	ids := make([]string, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			tracker, err := store.GetOrCreate(ctx, "agent-a", "task-1")
			if err != nil {
				t.Errorf("get_or_create: %v", err)
				return
			}
			ids[w] = tracker.ID
		}(w)
	}
	wg.Wait()

	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("concurrent creators diverged: %s vs %s", id, ids[0])
		}
	}
}

func TestMemoryStoreCommitForwardOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var events []domain.Event
	for i := 0; i < 3; i++ {
		ev, err := store.Append(ctx, textEvent("task-1", "agent-a", fmt.Sprintf("msg-%d", i)))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		events = append(events, ev)
	}

	tracker, err := store.GetOrCreate(ctx, "agent-a", "task-1")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}

	// Forward commit succeeds.
	updated, err := store.Commit(ctx, tracker.ID, domain.TrackerUpdate{LastProcessedEventID: &events[1].ID})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if updated.LastProcessedEventID != events[1].ID {
		t.Errorf("cursor = %s, want %s", updated.LastProcessedEventID, events[1].ID)
	}

	// Re-committing the same cursor is a no-op success.
	if _, err := store.Commit(ctx, tracker.ID, domain.TrackerUpdate{LastProcessedEventID: &events[1].ID}); err != nil {
		t.Fatalf("idempotent commit: %v", err)
	}

	// A strictly smaller cursor is rejected and the row is untouched.
	_, err = store.Commit(ctx, tracker.ID, domain.TrackerUpdate{LastProcessedEventID: &events[0].ID})
	if !apierrors.HasCode(err, apierrors.CodeCursorRegression) {
		t.Fatalf("regressing commit error = %v, want %s", err, apierrors.CodeCursorRegression)
	}
	current, err := store.GetTracker(ctx, tracker.ID)
	if err != nil {
		t.Fatalf("get tracker: %v", err)
	}
	if current.LastProcessedEventID != events[1].ID {
		t.Errorf("cursor after rejected commit = %s, want %s", current.LastProcessedEventID, events[1].ID)
	}
}

func TestMemoryStoreCommitValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.Append(ctx, textEvent("task-1", "agent-a", "msg")); err != nil {
		t.Fatalf("append: %v", err)
	}
	foreign, err := store.Append(ctx, textEvent("task-2", "agent-a", "msg"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	tracker, err := store.GetOrCreate(ctx, "agent-a", "task-1")
	if err != nil {
		t.Fatalf("get_or_create: %v", err)
	}

	if _, err := store.Commit(ctx, tracker.ID, domain.TrackerUpdate{}); !apierrors.HasCode(err, apierrors.CodeInvalidArgument) {
		t.Errorf("empty update error = %v, want %s", err, apierrors.CodeInvalidArgument)
	}

	missing := "b8a1f6ab-0000-0000-0000-000000000000"
	if _, err := store.Commit(ctx, tracker.ID, domain.TrackerUpdate{LastProcessedEventID: &missing}); !apierrors.HasCode(err, apierrors.CodeNotFound) {
		t.Errorf("missing event error = %v, want %s", err, apierrors.CodeNotFound)
	}

	if _, err := store.Commit(ctx, tracker.ID, domain.TrackerUpdate{LastProcessedEventID: &foreign.ID}); !apierrors.HasCode(err, apierrors.CodeInvalidArgument) {
		t.Errorf("cross-task cursor error = %v, want %s", err, apierrors.CodeInvalidArgument)
	}

	status := domain.TrackerProcessing
	reason := "replaying"
	updated, err := store.Commit(ctx, tracker.ID, domain.TrackerUpdate{Status: &status, StatusReason: &reason})
	if err != nil {
		t.Fatalf("status commit: %v", err)
	}
	if updated.Status != domain.TrackerProcessing || updated.StatusReason != "replaying" {
		t.Errorf("status update not applied: %+v", updated)
	}
}

func TestMemoryStoreState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if _, err := store.GetState(ctx, "task-1"); !apierrors.HasCode(err, apierrors.CodeNotFound) {
		t.Errorf("missing state error = %v, want %s", err, apierrors.CodeNotFound)
	}

	state, err := store.PutState(ctx, "task-1", []byte(`{"step":1}`))
	if err != nil {
		t.Fatalf("put state: %v", err)
	}
	if string(state.Data) != `{"step":1}` {
		t.Errorf("data = %s", state.Data)
	}

	if _, err := store.PutState(ctx, "task-1", []byte(`{broken`)); !apierrors.HasCode(err, apierrors.CodeInvalidArgument) {
		t.Errorf("invalid json error = %v, want %s", err, apierrors.CodeInvalidArgument)
	}

	loaded, err := store.GetState(ctx, "task-1")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if string(loaded.Data) != `{"step":1}` {
		t.Errorf("loaded data = %s", loaded.Data)
	}

	if _, err := store.StateTaskID(ctx, "task-1"); err != nil {
		t.Errorf("state owner: %v", err)
	}
	if _, err := store.StateTaskID(ctx, "task-9"); !apierrors.HasCode(err, apierrors.CodeNotFound) {
		t.Errorf("missing state owner error = %v, want %s", err, apierrors.CodeNotFound)
	}
}
