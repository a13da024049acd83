package rate

import "errors"

var (
	// ErrRateLimited is returned by Check when the key has exhausted its window.
	ErrRateLimited = errors.New("rate limited")
	// ErrBackendUnavailable wraps failures of the counter backend.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)
