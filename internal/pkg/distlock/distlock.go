// Package distlock guards work that must not run twice at the same time
// across orchestrator instances: one dispatch attempt per (contact, channel)
// and one recovery sweep per cluster.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking.
// Implementations must be safe for use from a single goroutine;
// concurrent use across goroutines requires separate lock instances.
type DistLock interface {
	// Acquire tries to acquire the lock. Returns true if successful.
	Acquire(ctx context.Context) (bool, error)
	// Release releases the lock if we still own it.
	Release(ctx context.Context) error
}

// Factory builds locks for keys against whichever backend is configured.
type Factory struct {
	redis *redis.Client
	db    *sql.DB
	local *localTable
}

// NewFactory picks Redis when available, then PostgreSQL advisory locks,
// then an in-process table for single-instance deployments.
func NewFactory(redisClient *redis.Client, db *sql.DB) *Factory {
	return &Factory{redis: redisClient, db: db, local: &localTable{held: make(map[string]struct{})}}
}

// Backend names the backend new locks will use.
func (f *Factory) Backend() string {
	switch {
	case f.redis != nil:
		return "redis"
	case f.db != nil:
		return "postgres"
	default:
		return "local"
	}
}

// Lock returns a lock for key. The ttl only applies to Redis; advisory and
// local locks are held until Release.
func (f *Factory) Lock(key string, ttl time.Duration) DistLock {
	switch {
	case f.redis != nil:
		return NewRedisLock(f.redis, key, ttl)
	case f.db != nil:
		return NewPGAdvisoryLock(f.db, key)
	default:
		return &LocalLock{table: f.local, key: key}
	}
}

// DispatchKey is the lock key for one channel attempt on one contact.
func DispatchKey(contactID, channel string) string {
	return fmt.Sprintf("dispatch:%s:%s", contactID, channel)
}

// =============================================================================
// PostgreSQL Advisory Lock (fallback when Redis is unavailable)
// =============================================================================
// pg_try_advisory_lock is session-scoped, so the lock pins one pooled
// connection between Acquire and Release. Dropping that connection releases
// the lock, which gives crash-safety similar to a Redis TTL.

// PGAdvisoryLock implements DistLock using PostgreSQL advisory locks.
type PGAdvisoryLock struct {
	db     *sql.DB
	conn   *sql.Conn
	lockID int64
}

// NewPGAdvisoryLock creates a PG advisory lock with a deterministic lock ID
// derived from the given key string.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{
		db:     db,
		lockID: int64(h.Sum64()),
	}
}

// Acquire tries to acquire the advisory lock. Returns true if successful.
// Uses pg_try_advisory_lock which returns immediately (non-blocking).
func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, fmt.Errorf("distlock: reserve connection: %w", err)
	}
	var acquired bool
	if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired); err != nil {
		conn.Close()
		return false, err
	}
	if !acquired {
		conn.Close()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Release releases the advisory lock and returns the connection to the pool.
func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	defer func() {
		l.conn.Close()
		l.conn = nil
	}()
	_, err := l.conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}

// =============================================================================
// Local lock (no Redis, no Postgres)
// =============================================================================

type localTable struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// LocalLock is a non-blocking in-process lock keyed by string. Locks from the
// same Factory exclude each other; separate processes are not coordinated.
type LocalLock struct {
	table *localTable
	key   string
	owned bool
}

func (l *LocalLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.table.mu.Lock()
	defer l.table.mu.Unlock()
	if _, busy := l.table.held[l.key]; busy {
		return false, nil
	}
	l.table.held[l.key] = struct{}{}
	l.owned = true
	return true, nil
}

func (l *LocalLock) Release(ctx context.Context) error {
	if !l.owned {
		return nil
	}
	l.table.mu.Lock()
	delete(l.table.held, l.key)
	l.table.mu.Unlock()
	l.owned = false
	return nil
}
