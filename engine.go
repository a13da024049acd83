package tgauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/medmarket/tgauth/internal/audit"
	"github.com/medmarket/tgauth/internal/flows"
	"github.com/medmarket/tgauth/internal/rate"
	"github.com/medmarket/tgauth/jwt"
	"github.com/medmarket/tgauth/password"
	"github.com/medmarket/tgauth/telegram"
)

// Engine is the server-side auth core: it validates Telegram payloads and
// staff passwords, issues role-scoped token pairs and verifies access tokens.
// It is immutable after Build and safe for concurrent use.
type Engine struct {
	config       Config
	now          func() time.Time
	logger       *slog.Logger
	jwtManager   *jwt.Manager
	validators   map[telegram.Scheme]*telegram.Validator
	hasher       *password.Hasher
	userProvider UserProvider

	telegramLimiter rate.Store
	passwordLimiter rate.Store
	refreshLimiter  rate.Store

	audit   *audit.Dispatcher
	metrics *Metrics
	flows   flows.Deps
}

// Close flushes pending audit events.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// AuditDropped reports how many audit events were dropped because the buffer was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a copy of the Engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

// Issue mints a token pair for identity without any login check. It is meant
// for trusted callers such as seeding scripts and tests.
func (e *Engine) Issue(identity Identity) (TokenPair, error) {
	pair, err := e.jwtManager.Issue(jwt.Subject{
		UserID:           identity.UserID,
		Role:             string(identity.Role),
		ProfileCompleted: identity.ProfileCompleted,
	})
	if err != nil {
		return TokenPair{}, err
	}
	return pairFromJWT(pair), nil
}

// Validate verifies an access token and returns the identity it carries.
// Errors are ErrAuthorizationMissing, ErrTokenExpired or ErrTokenInvalid,
// all of which match ErrUnauthorized.
func (e *Engine) Validate(ctx context.Context, accessToken string) (*AuthResult, error) {
	if e.metrics.LatencyEnabled() {
		start := e.now()
		defer func() { e.metrics.Observe(MetricValidateLatency, e.now().Sub(start)) }()
	}

	res := flows.RunValidate(accessToken, e.flows.Validate)
	switch res.Failure {
	case flows.ValidateFailureNone:
	case flows.ValidateFailureMissing:
		e.metricInc(MetricValidateInvalid)
		return nil, ErrAuthorizationMissing
	case flows.ValidateFailureExpired:
		e.metricInc(MetricValidateExpired)
		return nil, ErrTokenExpired
	default:
		e.metricInc(MetricValidateInvalid)
		e.logger.DebugContext(ctx, "access token rejected", slog.Any("error", res.Err))
		return nil, ErrTokenInvalid
	}

	e.metricInc(MetricValidateSuccess)
	result := &AuthResult{
		Identity: identityFromClaims(res.Claims),
		TokenID:  res.Claims.ID,
	}
	if res.Claims.IssuedAt != nil {
		result.IssuedAt = res.Claims.IssuedAt.Time
	}
	if res.Claims.ExpiresAt != nil {
		result.ExpiresAt = res.Claims.ExpiresAt.Time
	}
	return result, nil
}

// Profile returns the public profile of userID.
func (e *Engine) Profile(ctx context.Context, userID string) (UserProfile, error) {
	user, err := e.userProvider.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return UserProfile{}, ErrUserNotFound
		}
		return UserProfile{}, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return user.Profile(), nil
}

func (e *Engine) knownRole(role string) bool {
	r, ok := ParseRole(role)
	return ok && e.jwtManager.HasRole(string(r))
}

func (e *Engine) clientIP(ctx context.Context) string {
	return ClientIPFromContext(ctx)
}

func (e *Engine) warn(msg string, args ...any) {
	e.logger.Warn(msg, args...)
}

func checkRate(l rate.Store) func(context.Context, string) error {
	if l == nil {
		return nil
	}
	return func(ctx context.Context, key string) error {
		return rate.Check(ctx, l, key)
	}
}

func resetRate(l rate.Store) func(context.Context, string) error {
	if l == nil {
		return nil
	}
	return l.Reset
}

func flowUser(u UserRecord) flows.UserRecord {
	return flows.UserRecord{
		UserID:           u.ID,
		Role:             string(u.Role),
		ProfileCompleted: u.ProfileCompleted,
		Disabled:         u.Disabled,
		PasswordHash:     u.PasswordHash,
	}
}
