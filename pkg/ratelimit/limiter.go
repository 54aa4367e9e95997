package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter admits at most max events per key within window.
type Limiter interface {
	Allow(ctx context.Context, key string, max int, window time.Duration) (bool, error)
	Reset(ctx context.Context, key string) error
}

type MemoryLimiter struct {
	attempts map[string][]time.Time
	mu       sync.Mutex
	now      func() time.Time
	stop     chan struct{}
	once     sync.Once
}

func NewMemoryLimiter() *MemoryLimiter {
	l := &MemoryLimiter{
		attempts: make(map[string][]time.Time),
		now:      time.Now,
		stop:     make(chan struct{}),
	}
	go l.cleanup()
	return l
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, maxAttempts int, window time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-window)

	var validAttempts []time.Time
	for _, timestamp := range l.attempts[key] {
		if timestamp.After(cutoff) {
			validAttempts = append(validAttempts, timestamp)
		}
	}

	if len(validAttempts) >= maxAttempts {
		l.attempts[key] = validAttempts
		return false, nil
	}

	l.attempts[key] = append(validAttempts, now)
	return true, nil
}

func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, key)
	return nil
}

func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			l.prune(24 * time.Hour)
		}
	}
}

func (l *MemoryLimiter) prune(maxAge time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, attempts := range l.attempts {
		var validAttempts []time.Time
		for _, timestamp := range attempts {
			if now.Sub(timestamp) < maxAge {
				validAttempts = append(validAttempts, timestamp)
			}
		}
		if len(validAttempts) == 0 {
			delete(l.attempts, key)
		} else {
			l.attempts[key] = validAttempts
		}
	}
}
