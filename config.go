package tgauth

import (
	"errors"
	"fmt"
	"time"

	"github.com/medmarket/tgauth/password"
	"github.com/medmarket/tgauth/telegram"
)

// Config configures an Engine. Build it from DefaultConfig and override
// fields; the Engine copies it and never mutates it afterwards.
type Config struct {
	JWT       JWTConfig
	Telegram  TelegramConfig
	Password  password.Config
	RateLimit RateLimitConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds token lifetimes and the per-role HS256 secrets.
// Every role that can sign in needs its own secret.
type JWTConfig struct {
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	Secrets    map[Role][]byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
}

/*
====================================
TELEGRAM CONFIG
====================================
*/

type TelegramConfig struct {
	BotToken string
	Scheme   telegram.Scheme
	MaxAge   time.Duration
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig bounds login and refresh attempts per client IP. Password
// logins are additionally bounded per identifier.
type RateLimitConfig struct {
	Enabled          bool
	Prefix           string
	Window           time.Duration
	TelegramLoginMax int
	PasswordLoginMax int
	RefreshMax       int
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig sizes the audit buffer. With DropIfFull, successful events are
// dropped on a full buffer; failed logins and refreshes still wait for space
// for as long as the request context allows.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. Secrets and the bot token are left empty.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 30 * 24 * time.Hour,
			Secrets:    map[Role][]byte{},
			Issuer:     "tgauth",
			Leeway:     30 * time.Second,
		},
		Telegram: TelegramConfig{
			Scheme: telegram.SchemeWebApp,
			MaxAge: telegram.DefaultMaxAge,
		},
		Password: password.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Enabled:          true,
			Prefix:           "tgauth:rl:",
			Window:           15 * time.Minute,
			TelegramLoginMax: 30,
			PasswordLoginMax: 5,
			RefreshMax:       60,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: true,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.Secrets = make(map[Role][]byte, len(cfg.JWT.Secrets))
	for role, secret := range cfg.JWT.Secrets {
		out.JWT.Secrets[role] = cloneBytes(secret)
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks cross-field constraints. Key length and key uniqueness are
// enforced again by the jwt package when the Engine is built.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be > AccessTTL")
	}
	if len(c.JWT.Secrets) == 0 {
		return errors.New("JWT Secrets must contain at least one role")
	}
	for role := range c.JWT.Secrets {
		if _, ok := ParseRole(string(role)); !ok {
			return fmt.Errorf("JWT Secrets contains unknown role %q", role)
		}
	}
	if _, ok := c.JWT.Secrets[RoleCustomer]; !ok && c.Telegram.BotToken != "" {
		return errors.New("Telegram login requires a customer JWT secret")
	}

	// Telegram
	if _, ok := telegram.ParseScheme(string(c.Telegram.Scheme)); !ok {
		return fmt.Errorf("Telegram Scheme %q is not supported", c.Telegram.Scheme)
	}
	if c.Telegram.MaxAge < 0 {
		return errors.New("Telegram MaxAge must be >= 0")
	}

	// Rate limit
	if c.RateLimit.Enabled {
		if c.RateLimit.Window <= 0 {
			return errors.New("RateLimit Window must be > 0")
		}
		if c.RateLimit.TelegramLoginMax <= 0 || c.RateLimit.PasswordLoginMax <= 0 || c.RateLimit.RefreshMax <= 0 {
			return errors.New("RateLimit maxima must be > 0")
		}
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}
