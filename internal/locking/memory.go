package locking

import (
	"context"
	"sync"
	"time"
)

// MemoryLocker serializes holders within one process. Each key owns a
// one-slot channel; holding the lock means owning the slot.
type MemoryLocker struct {
	config Config

	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker(config Config) *MemoryLocker {
	return &MemoryLocker{
		config: config,
		slots:  make(map[string]chan struct{}),
	}
}

func (l *MemoryLocker) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[key] = ch
	}
	return ch
}

// Acquire waits up to the configured wait timeout for key
func (l *MemoryLocker) Acquire(ctx context.Context, key string) (Lock, error) {
	ch := l.slot(key)

	select {
	case ch <- struct{}{}:
		return &memoryLock{slot: ch}, nil
	default:
	}
	if l.config.WaitTimeout <= 0 {
		return nil, ErrNotAcquired
	}

	timer := time.NewTimer(l.config.WaitTimeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return &memoryLock{slot: ch}, nil
	case <-timer.C:
		return nil, ErrNotAcquired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type memoryLock struct {
	once sync.Once
	slot chan struct{}
}

// Release frees the slot. Releasing twice is a no-op.
func (m *memoryLock) Release(ctx context.Context) error {
	m.once.Do(func() { <-m.slot })
	return nil
}
