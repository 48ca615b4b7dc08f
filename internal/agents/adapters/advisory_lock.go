// Package adapters provides the agent registry storage, the workflow
// engine client, and the Postgres advisory lock behind the registration
// critical section.
package adapters

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"agentex/internal/agents/ports"
	"agentex/internal/logging"
)

// advisoryConn is the slice of a pooled connection the lock needs. The
// lock pins one connection for its whole hold: session-level advisory
// locks die with their session, so the connection must not return to the
// pool until release.
type advisoryConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Release()
}

type acquireConnFn func(ctx context.Context) (advisoryConn, error)

// postgresAdvisoryLock holds one named pg advisory lock. The name hashes
// to the lock key inside Postgres via hashtext, so any process agreeing on
// the name excludes any other.
type postgresAdvisoryLock struct {
	acquireConn   acquireConnFn
	name          string
	owner         string
	retryInterval time.Duration
	logger        logging.Logger

	mu   sync.Mutex
	conn advisoryConn
}

func newPostgresAdvisoryLockWithAcquire(acquireConn acquireConnFn, name, owner string, retryInterval time.Duration, logger logging.Logger) *postgresAdvisoryLock {
	if retryInterval <= 0 {
		retryInterval = 500 * time.Millisecond
	}
	return &postgresAdvisoryLock{
		acquireConn:   acquireConn,
		name:          name,
		owner:         owner,
		retryInterval: retryInterval,
		logger:        logging.OrNop(logger),
	}
}

// Acquire blocks until the lock is held or the context ends. Each attempt
// takes a fresh pooled connection and releases it on failure, so waiting
// never starves the pool.
func (l *postgresAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	for {
		conn, err := l.acquireConn(ctx)
		if err != nil {
			return false, fmt.Errorf("acquire lock connection: %w", err)
		}

		var locked bool
		err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, l.name).Scan(&locked)
		if err != nil {
			conn.Release()
			return false, fmt.Errorf("try advisory lock %s: %w", l.name, err)
		}
		if locked {
			l.mu.Lock()
			l.conn = conn
			l.mu.Unlock()
			l.logger.Debug("advisory lock %s acquired by %s", l.name, l.owner)
			return true, nil
		}
		conn.Release()

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

// Release unlocks and returns the pinned connection. Releasing a lock that
// was never acquired is a no-op.
func (l *postgresAdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	conn := l.conn
	l.conn = nil
	l.mu.Unlock()

	if conn == nil {
		return nil
	}
	defer conn.Release()

	var unlocked bool
	if err := conn.QueryRow(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, l.name).Scan(&unlocked); err != nil {
		return fmt.Errorf("advisory unlock %s: %w", l.name, err)
	}
	if !unlocked {
		l.logger.Warn("advisory lock %s was not held at unlock time", l.name)
	}
	return nil
}

// PostgresLockProvider mints advisory locks over a pgx pool.
type PostgresLockProvider struct {
	pool          *pgxpool.Pool
	retryInterval time.Duration
	logger        logging.Logger
}

// NewPostgresLockProvider wires the provider.
func NewPostgresLockProvider(pool *pgxpool.Pool, retryInterval time.Duration, logger logging.Logger) *PostgresLockProvider {
	return &PostgresLockProvider{pool: pool, retryInterval: retryInterval, logger: logging.OrNop(logger)}
}

// NewLock returns a lock bound to the given name.
func (p *PostgresLockProvider) NewLock(name, owner string) ports.Lock {
	return newPostgresAdvisoryLockWithAcquire(
		func(ctx context.Context) (advisoryConn, error) {
			conn, err := p.pool.Acquire(ctx)
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
		name, owner, p.retryInterval, p.logger,
	)
}

// MemoryLockProvider serializes lock holders within one process. It backs
// tests and single-node development, where no Postgres session exists to
// carry the advisory lock.
type MemoryLockProvider struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewMemoryLockProvider builds an empty provider.
func NewMemoryLockProvider() *MemoryLockProvider {
	return &MemoryLockProvider{locks: make(map[string]*sync.Mutex)}
}

// NewLock returns an in-process lock bound to the name.
func (p *MemoryLockProvider) NewLock(name, _ string) ports.Lock {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locks[name] == nil {
		p.locks[name] = &sync.Mutex{}
	}
	return &memoryLock{mu: p.locks[name]}
}

type memoryLock struct {
	mu   *sync.Mutex
	held bool
}

func (l *memoryLock) Acquire(ctx context.Context) (bool, error) {
	done := make(chan struct{})
	go func() {
		l.mu.Lock()
		close(done)
	}()
	select {
	case <-done:
		l.held = true
		return true, nil
	case <-ctx.Done():
		// The goroutine may still obtain the mutex later; hand it back.
		go func() {
			<-done
			l.mu.Unlock()
		}()
		return false, ctx.Err()
	}
}

func (l *memoryLock) Release(context.Context) error {
	if !l.held {
		return nil
	}
	l.held = false
	l.mu.Unlock()
	return nil
}
