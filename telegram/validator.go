package telegram

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultMaxAge is how old a signed payload may be before it is treated as a replay.
	DefaultMaxAge = 24 * time.Hour
	// DefaultMaxFutureSkew tolerates small clock differences between Telegram and this host.
	DefaultMaxFutureSkew = time.Minute
)

// Config configures a Validator.
type Config struct {
	BotToken      string
	Scheme        Scheme
	MaxAge        time.Duration
	MaxFutureSkew time.Duration
	Now           func() time.Time
}

// Validator checks signature and freshness and turns fields into an AuthPayload.
// A Validator is immutable and safe for concurrent use.
type Validator struct {
	cfg Config
}

// NewValidator returns a Validator, filling zero durations with the defaults.
func NewValidator(cfg Config) (*Validator, error) {
	if cfg.BotToken == "" {
		return nil, errors.New("telegram: bot token is required")
	}
	scheme, ok := ParseScheme(string(cfg.Scheme))
	if !ok {
		return nil, fmt.Errorf("telegram: unsupported scheme %q", cfg.Scheme)
	}
	cfg.Scheme = scheme
	if cfg.MaxAge == 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	if cfg.MaxAge < 0 {
		return nil, errors.New("telegram: negative max age")
	}
	if cfg.MaxFutureSkew == 0 {
		cfg.MaxFutureSkew = DefaultMaxFutureSkew
	}
	if cfg.MaxFutureSkew < 0 {
		return nil, errors.New("telegram: negative future skew")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Validator{cfg: cfg}, nil
}

// Scheme returns the configured signing scheme.
func (v *Validator) Scheme() Scheme {
	return v.cfg.Scheme
}

// Verify authenticates fields and returns the parsed payload.
// Every error wraps ErrInvalidPayload.
func (v *Validator) Verify(fields map[string]string) (*AuthPayload, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: hash", ErrMissingField)
	}
	for _, name := range []string{hashField, "auth_date"} {
		if fields[name] == "" {
			return nil, fmt.Errorf("%w: %s", ErrMissingField, name)
		}
	}
	if fields["id"] == "" && fields["user"] == "" {
		return nil, fmt.Errorf("%w: id", ErrMissingField)
	}

	if !validate(fields, v.cfg.BotToken, v.cfg.Scheme) {
		return nil, ErrHashMismatch
	}

	payload, err := parsePayload(fields)
	if err != nil {
		return nil, err
	}

	now := v.cfg.Now()
	if now.Sub(payload.AuthDate) > v.cfg.MaxAge {
		return nil, ErrExpired
	}
	if payload.AuthDate.Sub(now) > v.cfg.MaxFutureSkew {
		return nil, ErrExpired
	}

	return payload, nil
}
