package rate

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	startAt time.Time
}

// MemoryLimiter keeps counters in process memory. Budgets are per instance, so
// it is only correct when a single server handles the traffic.
type MemoryLimiter struct {
	config Config
	now    func() time.Time

	mu        sync.Mutex
	windows   map[string]*window
	lastSweep time.Time
}

// NewMemory creates an in-process [MemoryLimiter].
func NewMemory(cfg Config) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &MemoryLimiter{
		config:  cfg,
		now:     time.Now,
		windows: make(map[string]*window),
	}, nil
}

// SetClock replaces the time source. A nil now restores time.Now.
func (l *MemoryLimiter) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	l.now = now
}

// Allow increments the counter for key. Expired windows are swept at most
// once per window length.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()
	k := l.config.Prefix + key

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.config.Window {
		for name, w := range l.windows {
			if now.Sub(w.startAt) >= l.config.Window {
				delete(l.windows, name)
			}
		}
		l.lastSweep = now
	}

	w, ok := l.windows[k]
	if ok && now.Sub(w.startAt) >= l.config.Window {
		ok = false
	}
	if !ok {
		w = &window{startAt: now}
		l.windows[k] = w
	}
	w.count++

	return decide(l.config, w.count, w.startAt.Add(l.config.Window)), nil
}

// Reset drops the counter for key.
func (l *MemoryLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	delete(l.windows, l.config.Prefix+key)
	l.mu.Unlock()
	return nil
}

// Len reports how many windows are currently tracked.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
