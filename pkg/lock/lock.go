// Package lock provides keyed critical sections for the relay: per-address
// gas funding and per-deposit in-flight markers.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrHeld = errors.New("lock is held")

type Release func()

type Locker interface {
	// TryAcquire fails with ErrHeld when the key is already held.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
	// Acquire waits until the key is free or ctx is done.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

// LocalLocker serializes holders inside one process. The ttl is ignored.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]chan struct{})}
}

func (l *LocalLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrHeld
	}
	done := make(chan struct{})
	l.held[key] = done
	return l.release(key, done), nil
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, _ time.Duration) (Release, error) {
	for {
		l.mu.Lock()
		current, ok := l.held[key]
		if !ok {
			done := make(chan struct{})
			l.held[key] = done
			l.mu.Unlock()
			return l.release(key, done), nil
		}
		l.mu.Unlock()
		select {
		case <-current:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (l *LocalLocker) release(key string, done chan struct{}) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			if l.held[key] == done {
				delete(l.held, key)
			}
			l.mu.Unlock()
			close(done)
		})
	}
}
