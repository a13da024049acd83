package rate

import (
	"context"
	"errors"
	"time"
)

// Config holds the budget of one limiter.
type Config struct {
	Prefix string
	Window time.Duration
	Max    int
}

func (c Config) validate() error {
	if c.Window <= 0 {
		return errors.New("rate: window must be > 0")
	}
	if c.Max <= 0 {
		return errors.New("rate: max must be > 0")
	}
	return nil
}

// Decision is the outcome of one counted hit.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the time left until the window resets, rounded up to a second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	left := d.ResetAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return (left + time.Second - 1) / time.Second * time.Second
}

// Limiter counts a hit for key and reports whether it fits in the window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Store is a Limiter whose counters can be cleared, e.g. after a successful login.
type Store interface {
	Limiter
	Reset(ctx context.Context, key string) error
}

// Check is Allow reduced to an error: nil, ErrRateLimited or a backend error.
func Check(ctx context.Context, l Limiter, key string) error {
	d, err := l.Allow(ctx, key)
	if err != nil {
		return err
	}
	if !d.Allowed {
		return ErrRateLimited
	}
	return nil
}

func decide(cfg Config, count int64, resetAt time.Time) Decision {
	remaining := int64(cfg.Max) - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Allowed:   count <= int64(cfg.Max),
		Limit:     cfg.Max,
		Remaining: int(remaining),
		ResetAt:   resetAt,
	}
}
