// Package distlock provides named, non-blocking mutual exclusion across
// processes. Mass-mail batches use it so two triggers never work the same job.
package distlock

import (
	"context"
	"database/sql"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lock is a single named lock. A Lock value is owned by one goroutine;
// concurrent callers must each ask the Factory for their own.
type Lock interface {
	// Acquire tries to take the lock without waiting and reports whether it did.
	Acquire(ctx context.Context) (bool, error)
	// Extend renews the hold for long-running work. It reports false once the
	// lock has been lost, after which the caller no longer has exclusion.
	Extend(ctx context.Context) (bool, error)
	// Release gives the lock back if it is still held by this Lock.
	Release(ctx context.Context) error
}

type Factory interface {
	NewLock(key string) Lock
}

// NewFactory picks the strongest backend available: Redis when a client is
// configured, PostgreSQL advisory locks when a database is, and an
// in-process lock table otherwise.
func NewFactory(redisClient *redis.Client, db *sql.DB, ttl time.Duration) Factory {
	switch {
	case redisClient != nil:
		return NewRedisFactory(redisClient, ttl)
	case db != nil:
		return NewPGFactory(db)
	default:
		return NewLocalFactory()
	}
}
