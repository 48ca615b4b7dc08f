package ports

import (
	"context"
	"errors"
	"testing"
)

type recordingLock struct {
	acquireErr  error
	acquired    bool
	released    bool
	releasedCtx context.Context
}

func (l *recordingLock) Acquire(context.Context) (bool, error) {
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	l.acquired = true
	return true, nil
}

func (l *recordingLock) Release(ctx context.Context) error {
	l.released = true
	l.releasedCtx = ctx
	return nil
}

type recordingProvider struct {
	lock *recordingLock
	name string
}

func (p *recordingProvider) NewLock(name, _ string) Lock {
	p.name = name
	return p.lock
}

func TestWithLockReleasesOnSuccess(t *testing.T) {
	provider := &recordingProvider{lock: &recordingLock{}}

	ran := false
	err := WithLock(context.Background(), provider, "agent-registration:researcher", "owner-a", nil, func(context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("with lock: %v", err)
	}
	if !ran {
		t.Fatal("fn did not run")
	}
	if !provider.lock.acquired || !provider.lock.released {
		t.Fatalf("acquired=%v released=%v", provider.lock.acquired, provider.lock.released)
	}
	if provider.name != "agent-registration:researcher" {
		t.Errorf("lock name = %q", provider.name)
	}
}

func TestWithLockReleasesOnFnError(t *testing.T) {
	provider := &recordingProvider{lock: &recordingLock{}}
	boom := errors.New("workflow down")

	err := WithLock(context.Background(), provider, "agent-registration:researcher", "owner-a", nil, func(context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("error = %v, want fn error", err)
	}
	if !provider.lock.released {
		t.Fatal("lock not released after fn error")
	}
}

func TestWithLockAcquireFailureSkipsFn(t *testing.T) {
	provider := &recordingProvider{lock: &recordingLock{acquireErr: errors.New("pool exhausted")}}

	err := WithLock(context.Background(), provider, "agent-registration:researcher", "owner-a", nil, func(context.Context) error {
		t.Fatal("fn ran despite acquire failure")
		return nil
	})
	if err == nil {
		t.Fatal("expected acquire error")
	}
	if provider.lock.released {
		t.Error("release called for a lock that was never acquired")
	}
}

func TestWithLockReleaseSurvivesCancellation(t *testing.T) {
	provider := &recordingProvider{lock: &recordingLock{}}

	ctx, cancel := context.WithCancel(context.Background())
	err := WithLock(ctx, provider, "agent-registration:researcher", "owner-a", nil, func(context.Context) error {
		cancel()
		return ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v", err)
	}
	if !provider.lock.released {
		t.Fatal("lock not released after cancellation")
	}
	if provider.lock.releasedCtx.Err() != nil {
		t.Error("release ran on a cancelled context")
	}
}
