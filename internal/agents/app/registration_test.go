package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentex/internal/agents/adapters"
	"agentex/internal/agents/domain"
	apierrors "agentex/internal/errors"
)

type countingWorkflow struct {
	calls atomic.Int64
	err   error
}

func (w *countingWorkflow) CreateWorkflow(_ context.Context, agentName string) (string, error) {
	n := w.calls.Add(1)
	if w.err != nil {
		return "", w.err
	}
	return fmt.Sprintf("wf-%s-%d", agentName, n), nil
}

func newRegistrar(workflow *countingWorkflow) (*Registrar, *adapters.MemoryLockProvider) {
	locks := adapters.NewMemoryLockProvider()
	return NewRegistrar(
		adapters.NewMemoryAgentStore(),
		workflow,
		locks,
		"test-owner",
		nil,
	), locks
}

func TestRegisterProvisionsOnce(t *testing.T) {
	workflow := &countingWorkflow{}
	registrar, _ := newRegistrar(workflow)
	ctx := context.Background()

	first, err := registrar.Register(ctx, "researcher", "does research")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if first.WorkflowID == "" {
		t.Fatal("expected workflow id")
	}
	if first.Status != domain.AgentStatusActive {
		t.Errorf("status = %s, want %s", first.Status, domain.AgentStatusActive)
	}

	second, err := registrar.Register(ctx, "researcher", "does research")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if second.ID != first.ID || second.WorkflowID != first.WorkflowID {
		t.Errorf("re-registration returned a different agent: %+v vs %+v", second, first)
	}
	if got := workflow.calls.Load(); got != 1 {
		t.Errorf("workflow provisioned %d times, want 1", got)
	}
}

func TestRegisterConcurrentSingleSideEffect(t *testing.T) {
	workflow := &countingWorkflow{}
	registrar, _ := newRegistrar(workflow)
	ctx := context.Background()

	const racers = 12
	ids := make([]string, racers)

	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			agent, err := registrar.Register(ctx, "researcher", "does research")
			if err != nil {
				t.Errorf("register: %v", err)
				return
			}
			ids[i] = agent.ID
		}(i)
	}
	wg.Wait()

	if got := workflow.calls.Load(); got != 1 {
		t.Fatalf("workflow provisioned %d times under contention, want 1", got)
	}
	for _, id := range ids[1:] {
		if id != ids[0] {
			t.Fatalf("racing registrations diverged: %s vs %s", id, ids[0])
		}
	}
}

func TestRegisterWorkflowFailureLeavesNothingBehind(t *testing.T) {
	workflow := &countingWorkflow{err: apierrors.New(apierrors.CodeWorkflowUnavailable, "down")}
	registrar, locks := newRegistrar(workflow)
	ctx := context.Background()

	_, err := registrar.Register(ctx, "researcher", "")
	if !apierrors.HasCode(err, apierrors.CodeWorkflowUnavailable) {
		t.Fatalf("register error = %v, want %s", err, apierrors.CodeWorkflowUnavailable)
	}

	// The registration lock must be free again after the failed attempt.
	lockCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	retryLock := locks.NewLock(registrationLockPrefix+"researcher", "other-owner")
	if ok, err := retryLock.Acquire(lockCtx); err != nil || !ok {
		t.Fatalf("registration lock still held after workflow failure: ok=%v err=%v", ok, err)
	}
	if err := retryLock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}

	if _, err := registrar.Get(ctx, "researcher"); !apierrors.HasCode(err, apierrors.CodeNotFound) {
		t.Errorf("agent persisted despite workflow failure: err = %v", err)
	}

	// A retry after recovery provisions cleanly.
	workflow.err = nil
	agent, err := registrar.Register(ctx, "researcher", "")
	if err != nil {
		t.Fatalf("retry register: %v", err)
	}
	if agent.WorkflowID == "" {
		t.Error("expected workflow id on retry")
	}
}

func TestRegisterNameValidation(t *testing.T) {
	registrar, _ := newRegistrar(&countingWorkflow{})
	ctx := context.Background()

	for _, name := range []string{"", "UPPER", "has space", "-leading", "trailing-"} {
		if _, err := registrar.Register(ctx, name, ""); !apierrors.HasCode(err, apierrors.CodeInvalidArgument) {
			t.Errorf("name %q error = %v, want %s", name, err, apierrors.CodeInvalidArgument)
		}
	}
}

func TestListAgents(t *testing.T) {
	registrar, _ := newRegistrar(&countingWorkflow{})
	ctx := context.Background()

	for _, name := range []string{"writer", "researcher"} {
		if _, err := registrar.Register(ctx, name, ""); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	agents, err := registrar.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(agents) != 2 || agents[0].Name != "researcher" || agents[1].Name != "writer" {
		t.Errorf("list = %+v", agents)
	}
}
