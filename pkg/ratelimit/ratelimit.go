// Package ratelimit implements fixed-window request limiting for webhook
// endpoints, keyed by webhook and caller IP.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter reports whether one more request is allowed for key within the
// current window. limit is the maximum number of requests per window.
type Limiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Memory is a process-local fixed-window Limiter.
type Memory struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int
}

func NewMemory() *Memory {
	return &Memory{
		windows: make(map[string]*memoryWindow),
		now:     time.Now,
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()

	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= window {
		m.windows[key] = &memoryWindow{start: now, count: 1}

		return true, nil
	}

	w.count++

	return w.count <= limit, nil
}
