package distlock

import (
	"context"
	"database/sql"
	"errors"
	"hash/fnv"
)

type pgFactory struct {
	db *sql.DB
}

func NewPGFactory(db *sql.DB) Factory {
	return &pgFactory{db: db}
}

func (f *pgFactory) NewLock(key string) Lock {
	return NewPGAdvisoryLock(f.db, key)
}

// PGAdvisoryLock uses session-level advisory locks. Lock and unlock must run
// on the same session, so the lock pins one pooled connection while held.
// A dropped connection releases the lock on the server side.
type PGAdvisoryLock struct {
	db     *sql.DB
	lockID int64
	conn   *sql.Conn
}

func NewPGAdvisoryLock(db *sql.DB, key string) *PGAdvisoryLock {
	h := fnv.New64a()
	h.Write([]byte(key))
	return &PGAdvisoryLock{db: db, lockID: int64(h.Sum64())}
}

func (l *PGAdvisoryLock) Acquire(ctx context.Context) (bool, error) {
	if l.conn != nil {
		return false, errors.New("advisory lock already held by this instance")
	}
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return false, err
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

// Extend checks that the pinned session is still alive. Advisory locks have
// no TTL, so a live session means the lock is still ours.
func (l *PGAdvisoryLock) Extend(ctx context.Context) (bool, error) {
	if l.conn == nil {
		return false, nil
	}
	if err := l.conn.PingContext(ctx); err != nil {
		conn := l.conn
		l.conn = nil
		conn.Close()
		return false, nil
	}
	return true, nil
}

func (l *PGAdvisoryLock) Release(ctx context.Context) error {
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil
	defer conn.Close()

	_, err := conn.ExecContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockID)
	return err
}
