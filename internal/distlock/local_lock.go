package distlock

import (
	"context"
	"sync"
)

// localFactory serializes within one process only. It backs the memory
// database driver and tests.
type localFactory struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalFactory() Factory {
	return &localFactory{held: make(map[string]struct{})}
}

func (f *localFactory) NewLock(key string) Lock {
	return &localLock{factory: f, key: key}
}

type localLock struct {
	factory *localFactory
	key     string
	owned   bool
}

func (l *localLock) Acquire(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.factory.mu.Lock()
	defer l.factory.mu.Unlock()
	if _, taken := l.factory.held[l.key]; taken {
		return false, nil
	}
	l.factory.held[l.key] = struct{}{}
	l.owned = true
	return true, nil
}

func (l *localLock) Extend(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.owned, nil
}

func (l *localLock) Release(ctx context.Context) error {
	if !l.owned {
		return nil
	}
	l.factory.mu.Lock()
	delete(l.factory.held, l.key)
	l.factory.mu.Unlock()
	l.owned = false
	return nil
}
