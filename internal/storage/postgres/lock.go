package postgres

import (
	"context"
	"hash/fnv"
)

// AdvisoryLocker serializes work across processes sharing the database with
// session-level advisory locks. Each held lock pins one pooled connection, so
// holders are capped below the pool size and the work done under a lock
// always finds a free connection.
type AdvisoryLocker struct {
	store *Store
}

func (s *Store) Locker() *AdvisoryLocker { return &AdvisoryLocker{store: s} }

// lockID folds key into the bigint space used by pg_advisory_lock.
func lockID(key string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return int64(h.Sum64())
}

// Lock blocks until the advisory lock for key is held or ctx is done.
func (l *AdvisoryLocker) Lock(ctx context.Context, key string) (func(), error) {
	if err := l.store.lockSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	conn, err := l.store.pool.Acquire(ctx)
	if err != nil {
		l.store.lockSlots.Release(1)
		return nil, err
	}
	id := lockID(key)
	if _, err := conn.Exec(ctx, `select pg_advisory_lock($1)`, id); err != nil {
		conn.Release()
		l.store.lockSlots.Release(1)
		return nil, err
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		if _, err := conn.Exec(context.Background(), `select pg_advisory_unlock($1)`, id); err != nil {
			// A connection that may still hold the lock must not go back to the pool.
			_ = conn.Conn().Close(context.Background())
		}
		conn.Release()
		l.store.lockSlots.Release(1)
	}, nil
}
