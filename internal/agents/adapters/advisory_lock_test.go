package adapters

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeLockTable stands in for the Postgres advisory lock state: one slot
// per lock name, shared by every connection minted against it.
type fakeLockTable struct {
	mu   sync.Mutex
	held map[string]bool

	conns    int
	releases int
}

func newFakeLockTable() *fakeLockTable {
	return &fakeLockTable{held: make(map[string]bool)}
}

func (t *fakeLockTable) tryLock(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.held[name] {
		return false
	}
	t.held[name] = true
	return true
}

func (t *fakeLockTable) unlock(name string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.held[name]
	delete(t.held, name)
	return was
}

func (t *fakeLockTable) openConns() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns - t.releases
}

func (t *fakeLockTable) acquireConn(context.Context) (advisoryConn, error) {
	t.mu.Lock()
	t.conns++
	t.mu.Unlock()
	return &tableConn{table: t}, nil
}

type tableConn struct {
	table    *fakeLockTable
	queryErr error
}

type boolRow struct {
	value bool
	err   error
}

func (r boolRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.value
	return nil
}

func (c *tableConn) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if c.queryErr != nil {
		return boolRow{err: c.queryErr}
	}
	name := args[0].(string)
	switch {
	case strings.Contains(sql, "pg_try_advisory_lock"):
		return boolRow{value: c.table.tryLock(name)}
	case strings.Contains(sql, "pg_advisory_unlock"):
		return boolRow{value: c.table.unlock(name)}
	default:
		return boolRow{err: errors.New("unexpected query: " + sql)}
	}
}

func (c *tableConn) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.NewCommandTag(""), nil
}

func (c *tableConn) Release() {
	c.table.mu.Lock()
	c.table.releases++
	c.table.mu.Unlock()
}

func registrationLock(table *fakeLockTable, owner string) *postgresAdvisoryLock {
	return newPostgresAdvisoryLockWithAcquire(
		table.acquireConn, "agent-registration:researcher", owner, time.Millisecond, nil)
}

func TestRegistrationLocksExcludeAcrossHolders(t *testing.T) {
	table := newFakeLockTable()
	winner := registrationLock(table, "proc-a")
	loser := registrationLock(table, "proc-b")

	if ok, err := winner.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("winner acquire: ok=%v err=%v", ok, err)
	}

	acquired := make(chan error, 1)
	go func() {
		_, err := loser.Acquire(context.Background())
		acquired <- err
	}()

	select {
	case <-acquired:
		t.Fatal("second holder acquired while the first held the lock")
	case <-time.After(20 * time.Millisecond):
	}

	if err := winner.Release(context.Background()); err != nil {
		t.Fatalf("winner release: %v", err)
	}

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("loser acquire after release: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("lock not handed over after release")
	}

	if err := loser.Release(context.Background()); err != nil {
		t.Fatalf("loser release: %v", err)
	}
	if table.openConns() != 0 {
		t.Errorf("%d connections still pinned after both releases", table.openConns())
	}
	if table.held["agent-registration:researcher"] {
		t.Error("lock slot still held after release")
	}
}

func TestRegistrationLockPinsOneConnWhileHeld(t *testing.T) {
	table := newFakeLockTable()
	lock := registrationLock(table, "proc-a")

	if ok, err := lock.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	if table.openConns() != 1 {
		t.Fatalf("open connections while held = %d, want the single pinned one", table.openConns())
	}

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if table.openConns() != 0 {
		t.Errorf("pinned connection not returned on release")
	}
}

func TestRegistrationLockWaiterReleasesFailedAttemptConns(t *testing.T) {
	table := newFakeLockTable()
	table.held["agent-registration:researcher"] = true
	lock := registrationLock(table, "proc-b")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if ok, err := lock.Acquire(ctx); err == nil || ok {
		t.Fatalf("acquire against a held slot: ok=%v err=%v", ok, err)
	}

	// Every retry took a fresh connection and gave it back.
	if table.conns == 0 {
		t.Fatal("no acquire attempts recorded")
	}
	if table.openConns() != 0 {
		t.Errorf("%d connections leaked by failed attempts", table.openConns())
	}
}

func TestRegistrationLockConnFailure(t *testing.T) {
	lock := newPostgresAdvisoryLockWithAcquire(
		func(context.Context) (advisoryConn, error) { return nil, errors.New("pool exhausted") },
		"agent-registration:researcher", "proc-a", time.Millisecond, nil)

	if ok, err := lock.Acquire(context.Background()); err == nil || ok {
		t.Fatalf("acquire with failing pool: ok=%v err=%v", ok, err)
	}
}

func TestRegistrationLockQueryFailureReleasesConn(t *testing.T) {
	table := newFakeLockTable()
	lock := newPostgresAdvisoryLockWithAcquire(
		func(ctx context.Context) (advisoryConn, error) {
			table.mu.Lock()
			table.conns++
			table.mu.Unlock()
			return &tableConn{table: table, queryErr: errors.New("connection reset")}, nil
		},
		"agent-registration:researcher", "proc-a", time.Millisecond, nil)

	if ok, err := lock.Acquire(context.Background()); err == nil || ok {
		t.Fatalf("acquire with failing query: ok=%v err=%v", ok, err)
	}
	if table.openConns() != 0 {
		t.Errorf("connection leaked after query failure")
	}
}

func TestRegistrationLockReleaseWithoutAcquireIsNoop(t *testing.T) {
	lock := newPostgresAdvisoryLockWithAcquire(
		func(context.Context) (advisoryConn, error) {
			return nil, errors.New("should not be called")
		},
		"agent-registration:researcher", "proc-a", time.Millisecond, nil)

	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release without acquire: %v", err)
	}
}

func TestMemoryLockProviderExcludes(t *testing.T) {
	provider := NewMemoryLockProvider()
	first := provider.NewLock("agent-registration:researcher", "a")
	second := provider.NewLock("agent-registration:researcher", "b")

	if ok, err := first.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if ok, err := second.Acquire(ctx); err == nil || ok {
		t.Fatalf("second acquire while held: ok=%v err=%v", ok, err)
	}

	if err := first.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
	if ok, err := second.Acquire(context.Background()); err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	if err := second.Release(context.Background()); err != nil {
		t.Fatalf("release: %v", err)
	}
}
