package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medmarket/tgauth/internal/rate"
)

// Decision is the outcome of one limiter check.
type Decision = rate.Decision

// Limiter counts requests per key in a fixed window.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// NewMemoryLimiter returns an in-process limiter. Counters are per instance,
// so use NewRedisLimiter when more than one replica serves traffic.
func NewMemoryLimiter(window time.Duration, max int) (Limiter, error) {
	l, err := rate.NewMemory(rate.Config{Prefix: "http:", Window: window, Max: max})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// NewRedisLimiter returns a limiter whose counters are shared through Redis.
func NewRedisLimiter(client redis.UniversalClient, prefix string, window time.Duration, max int) (Limiter, error) {
	l, err := rate.NewRedis(client, rate.Config{Prefix: prefix, Window: window, Max: max})
	if err != nil {
		return nil, err
	}
	return l, nil
}

// RateLimitOptions configures RateLimit.
type RateLimitOptions struct {
	// Key derives the bucket of a request. Defaults to the client IP.
	Key func(*http.Request) string
	// Message is the "error" field of the 429 body.
	Message string
	// FailOpen lets requests through when the limiter backend errors.
	FailOpen bool
	Logger   *slog.Logger
	Now      func() time.Time
}

// RateLimitBody is the JSON body of a 429 response.
type RateLimitBody struct {
	Error      string `json:"error"`
	RetryAfter int64  `json:"retryAfter"`
}

// RateLimit enforces l on every request and reports the budget in
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset.
func RateLimit(l Limiter, opts RateLimitOptions) func(http.Handler) http.Handler {
	if opts.Key == nil {
		opts.Key = ClientIP
	}
	if opts.Message == "" {
		opts.Message = "Too many requests, please try again later."
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d, err := l.Allow(r.Context(), opts.Key(r))
			if err != nil {
				opts.Logger.ErrorContext(r.Context(), "rate limiter unavailable", slog.Any("error", err))
				if opts.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				writeJSON(w, http.StatusServiceUnavailable, RateLimitBody{Error: "Rate limiter unavailable."})
				return
			}

			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))

			if !d.Allowed {
				retry := int64(d.RetryAfter(opts.Now()) / time.Second)
				h.Set("Retry-After", strconv.FormatInt(retry, 10))
				writeJSON(w, http.StatusTooManyRequests, RateLimitBody{Error: opts.Message, RetryAfter: retry})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the host part of r.RemoteAddr. Put chi's RealIP in front
// when running behind a trusted proxy.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
