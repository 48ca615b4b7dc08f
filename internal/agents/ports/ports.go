package ports

import (
	"context"
	"fmt"

	"agentex/internal/agents/domain"
	"agentex/internal/logging"
)

// AgentStore persists agent registry records.
type AgentStore interface {
	// Create inserts the agent. A name collision fails with ALREADY_EXISTS.
	Create(ctx context.Context, agent domain.Agent) (domain.Agent, error)

	// GetByName returns the agent with the given handle.
	GetByName(ctx context.Context, name string) (domain.Agent, error)

	// List returns all registered agents, ordered by name.
	List(ctx context.Context) ([]domain.Agent, error)
}

// WorkflowEngine provisions the backing workflow for a newly registered
// agent. Provisioning is the one-time side effect the registration lock
// guards; implementations need not be idempotent.
type WorkflowEngine interface {
	CreateWorkflow(ctx context.Context, agentName string) (workflowID string, err error)
}

// Lock is one advisory lock instance. Acquire blocks, retrying until the
// lock is held or the context ends; Release is a no-op when the lock was
// never acquired.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// LockProvider mints named advisory locks. Two locks with the same name
// exclude each other across all processes sharing the backing store.
type LockProvider interface {
	NewLock(name, owner string) Lock
}

// WithLock runs fn while holding the named lock, releasing it on every
// exit path. Release uses a context detached from cancellation so a
// cancelled fn still frees the lock. A failed release is logged rather
// than surfaced: a session-level lock dies with its connection regardless.
func WithLock(ctx context.Context, provider LockProvider, name, owner string, logger logging.Logger, fn func(context.Context) error) error {
	lock := provider.NewLock(name, owner)
	if _, err := lock.Acquire(ctx); err != nil {
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			logging.OrNop(logger).Error("release lock %s: %v", name, err)
		}
	}()
	return fn(ctx)
}
