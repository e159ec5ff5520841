// Package distlock provides mutual exclusion across engine processes, used to
// keep periodic jobs such as the metrics rollup to one runner per tick.
package distlock

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistLock is the interface for distributed locking. A lock instance is not
// safe for concurrent use; create one per goroutine.
type DistLock interface {
	// Acquire tries to take the lock without blocking.
	Acquire(ctx context.Context) (bool, error)
	// Release gives the lock up if this instance still owns it.
	Release(ctx context.Context) error
}

// NewLock prefers Redis when a client is configured and falls back to a
// PostgreSQL advisory lock otherwise.
func NewLock(redisClient *redis.Client, db *sql.DB, key string, ttl time.Duration) DistLock {
	if redisClient != nil {
		return NewRedisLock(redisClient, key, ttl)
	}
	return NewPGAdvisoryLock(db, key)
}

// Run executes fn while holding l. It reports ran=false without calling fn
// when another holder owns the lock.
func Run(ctx context.Context, l DistLock, fn func(ctx context.Context) error) (ran bool, err error) {
	ok, err := l.Acquire(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	defer func() {
		// Release on a fresh context so a cancelled run still frees the lock.
		relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if relErr := l.Release(relCtx); relErr != nil && err == nil {
			err = fmt.Errorf("release lock: %w", relErr)
		}
	}()
	return true, fn(ctx)
}

// PGAdvisoryLock implements DistLock with pg_try_advisory_lock. The lock is
// session scoped, so it disappears with the connection.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
}

// NewPGAdvisoryLock derives a stable advisory lock id from key.
func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	var acquired bool
	err := l.db.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockID).Scan(&acquired)
	return acquired, err
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
