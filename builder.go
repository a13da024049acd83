package tgauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/medmarket/tgauth/internal/audit"
	"github.com/medmarket/tgauth/internal/flows"
	"github.com/medmarket/tgauth/internal/rate"
	"github.com/medmarket/tgauth/jwt"
	"github.com/medmarket/tgauth/password"
	"github.com/medmarket/tgauth/telegram"
)

// Builder assembles an Engine. Configure it once during start-up; a Builder
// can be built only once.
type Builder struct {
	config Config
	redis  redis.UniversalClient

	userProvider UserProvider
	auditSink    AuditSink
	logger       *slog.Logger
	now          func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs the rate limiters with Redis so limits hold across
// replicas. Without it the Engine uses per-process counters.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets the audit destination. Audit.Enabled must also be set.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for tokens, payload freshness and
// rate-limit windows. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the Engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		config:       cloneConfig(cfg),
		now:          now,
		logger:       logger.With(slog.String("component", "tgauth")),
		userProvider: b.userProvider,
		validators:   make(map[telegram.Scheme]*telegram.Validator, 2),
		metrics:      NewMetrics(cfg.Metrics),
		audit: audit.NewDispatcher(audit.Config{
			Enabled:    cfg.Audit.Enabled,
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, b.auditSink),
	}

	// -------- TOKENS --------
	keys := make(map[string][]byte, len(cfg.JWT.Secrets))
	for role, secret := range cfg.JWT.Secrets {
		keys[string(role)] = cloneBytes(secret)
	}
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		RefreshTTL: cfg.JWT.RefreshTTL,
		Keys:       keys,
		Issuer:     cfg.JWT.Issuer,
		Audience:   cfg.JWT.Audience,
		Leeway:     cfg.JWT.Leeway,
		Now:        now,
	})
	if err != nil {
		engine.audit.Close()
		return nil, fmt.Errorf("jwt: %w", err)
	}
	engine.jwtManager = jm

	// -------- TELEGRAM --------
	// Both schemes share the bot token: the Mini App sends initData, the
	// website widget sends its own field set.
	if cfg.Telegram.BotToken != "" {
		for _, scheme := range []telegram.Scheme{telegram.SchemeWebApp, telegram.SchemeWidget} {
			v, err := telegram.NewValidator(telegram.Config{
				BotToken: cfg.Telegram.BotToken,
				Scheme:   scheme,
				MaxAge:   cfg.Telegram.MaxAge,
				Now:      now,
			})
			if err != nil {
				engine.audit.Close()
				return nil, fmt.Errorf("telegram: %w", err)
			}
			engine.validators[scheme] = v
		}
	}

	// -------- PASSWORDS --------
	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		engine.audit.Close()
		return nil, fmt.Errorf("password: %w", err)
	}
	engine.hasher = hasher

	// -------- RATE LIMITS --------
	if cfg.RateLimit.Enabled {
		if engine.telegramLimiter, err = b.newLimiter(cfg.RateLimit, cfg.RateLimit.TelegramLoginMax, now); err == nil {
			if engine.passwordLimiter, err = b.newLimiter(cfg.RateLimit, cfg.RateLimit.PasswordLoginMax, now); err == nil {
				engine.refreshLimiter, err = b.newLimiter(cfg.RateLimit, cfg.RateLimit.RefreshMax, now)
			}
		}
		if err != nil {
			engine.audit.Close()
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}

	engine.flows = engine.buildFlowDeps()
	b.built = true

	return engine, nil
}

func (b *Builder) newLimiter(cfg RateLimitConfig, max int, now func() time.Time) (rate.Store, error) {
	rc := rate.Config{Prefix: cfg.Prefix, Window: cfg.Window, Max: max}
	if b.redis != nil {
		return rate.NewRedis(b.redis, rc)
	}
	l, err := rate.NewMemory(rc)
	if err != nil {
		return nil, err
	}
	l.SetClock(now)
	return l, nil
}

func (e *Engine) buildFlowDeps() flows.Deps {
	issue := e.jwtManager.Issue
	return flows.Deps{
		TelegramLogin: flows.TelegramLoginDeps{
			ClientIP:    e.clientIP,
			CheckRate:   checkRate(e.telegramLimiter),
			RateLimited: rate.ErrRateLimited,
			Issue:       issue,
		},
		PasswordLogin: flows.PasswordLoginDeps{
			ClientIP:           e.clientIP,
			CheckRate:          checkRate(e.passwordLimiter),
			ResetRate:          resetRate(e.passwordLimiter),
			RateLimited:        rate.ErrRateLimited,
			UserNotFound:       ErrUserNotFound,
			VerifyPassword:     e.hasher.Verify,
			NeedsUpgrade:       e.hasher.NeedsUpgrade,
			HashPassword:       e.hasher.Hash,
			UpdatePasswordHash: e.userProvider.UpdatePasswordHash,
			Issue:              issue,
			Warn:               e.warn,
		},
		Refresh: flows.RefreshDeps{
			ParseRefresh: e.jwtManager.ParseRefresh,
			CheckRate:    checkRate(e.refreshLimiter),
			RateLimited:  rate.ErrRateLimited,
			GetUser: func(ctx context.Context, userID string) (flows.UserRecord, error) {
				u, err := e.userProvider.GetUserByID(ctx, userID)
				if err != nil {
					return flows.UserRecord{}, err
				}
				return flowUser(u), nil
			},
			UserNotFound: ErrUserNotFound,
			Issue:        issue,
		},
		Validate: flows.ValidateDeps{
			ParseAccess: e.jwtManager.ParseAccess,
			KnownRole:   e.knownRole,
		},
	}
}
