package settlement

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/tinoosan/settlements/internal/ledger"
)

// Locker serializes settlement writes for one key. unlock must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// PeriodKey is the lock key for a user's settlement period.
func PeriodKey(userID uuid.UUID, p ledger.Period) string {
	return "settlement:" + userID.String() + ":" + p.String()
}

// KeyedLocker is an in-process Locker. Entries are dropped once no caller holds or waits on them.
type KeyedLocker struct {
	mu   sync.Mutex
	keys map[string]*keyLock
}

type keyLock struct {
	sem  *semaphore.Weighted
	refs int
}

func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{keys: make(map[string]*keyLock)}
}

// Lock blocks until key is free or ctx is done.
func (l *KeyedLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	kl, ok := l.keys[key]
	if !ok {
		kl = &keyLock{sem: semaphore.NewWeighted(1)}
		l.keys[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	if err := kl.sem.Acquire(ctx, 1); err != nil {
		l.drop(key, kl)
		return nil, err
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			kl.sem.Release(1)
			l.drop(key, kl)
		})
	}, nil
}

func (l *KeyedLocker) drop(key string, kl *keyLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.keys, key)
	}
}

// held returns the number of keys currently tracked.
func (l *KeyedLocker) held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
