package cache

import (
	"context"
	"sync"
	"time"
)

type lease struct {
	token     uint64
	expiresAt time.Time
}

// InMemoryRunLock implements the publish lease inside one process.
// It does not coordinate separate processes.
type InMemoryRunLock struct {
	mu     sync.Mutex
	leases map[string]lease
	next   uint64
	now    func() time.Time
}

// NewInMemoryRunLock creates an in-process lease table
func NewInMemoryRunLock() *InMemoryRunLock {
	return &InMemoryRunLock{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

// TryLock takes the lease unless an unexpired one exists
func (l *InMemoryRunLock) TryLock(_ context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if held, exists := l.leases[key]; exists && now.Before(held.expiresAt) {
		return nil, false, nil
	}

	l.next++
	token := l.next
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}

	unlock := func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		if held, exists := l.leases[key]; exists && held.token == token {
			delete(l.leases, key)
		}
		return nil
	}
	return unlock, true, nil
}

// Size returns the number of leases held, expired ones included
func (l *InMemoryRunLock) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.leases)
}

// Close is a no-op
func (l *InMemoryRunLock) Close() error {
	return nil
}
