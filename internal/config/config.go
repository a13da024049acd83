// Package config loads the tgauthd service configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/telegram"
)

// Config is the root service configuration.
//
// Sources, highest priority first:
//  1. the --config flag;
//  2. CONFIG_PATH;
//  3. ./local.yaml;
//  4. environment variables only.
//
// Environment variables always overlay values read from a file, and an
// optional .env file in the working directory is loaded into the
// environment first without overriding variables that are already set.
type Config struct {
	Env       string          `yaml:"env" env:"ENV" env-default:"local"`
	HTTP      HTTPConfig      `yaml:"http"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	JWT       JWTConfig       `yaml:"jwt"`
	DB        DBConfig        `yaml:"db"`
	Redis     RedisConfig     `yaml:"redis"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Audit     AuditConfig     `yaml:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type HTTPConfig struct {
	Host              string        `yaml:"host" env:"HTTP_HOST" env-default:"0.0.0.0"`
	Port              string        `yaml:"port" env:"HTTP_PORT" env-default:"5000"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"HTTP_READ_HEADER_TIMEOUT" env-default:"5s"`
	ReadTimeout       time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"10s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// Addr returns host:port.
func (h HTTPConfig) Addr() string {
	return net.JoinHostPort(h.Host, h.Port)
}

type TelegramConfig struct {
	BotToken string        `yaml:"bot_token" env:"TELEGRAM_BOT_TOKEN" env-required:"true"`
	Scheme   string        `yaml:"scheme" env:"TELEGRAM_SCHEME" env-default:"webapp"`
	MaxAge   time.Duration `yaml:"max_age" env:"TELEGRAM_MAX_AGE" env-default:"24h"`
}

// JWTConfig holds one secret per role. Staff secrets are optional; a role
// without a secret cannot sign in.
type JWTConfig struct {
	CustomerSecret string        `yaml:"secret" env:"JWT_SECRET" env-required:"true"`
	AdminSecret    string        `yaml:"admin_secret" env:"JWT_ADMIN_SECRET"`
	SupplierSecret string        `yaml:"supplier_secret" env:"JWT_SUPPLIER_SECRET"`
	DeliverySecret string        `yaml:"delivery_secret" env:"JWT_DELIVERY_SECRET"`
	AccessTTL      time.Duration `yaml:"access_ttl" env:"JWT_ACCESS_TTL" env-default:"15m"`
	RefreshTTL     time.Duration `yaml:"refresh_ttl" env:"JWT_REFRESH_TTL" env-default:"720h"`
	Issuer         string        `yaml:"issuer" env:"JWT_ISSUER" env-default:"tgauth"`
	Audience       string        `yaml:"audience" env:"JWT_AUDIENCE"`
	Leeway         time.Duration `yaml:"leeway" env:"JWT_LEEWAY" env-default:"30s"`
}

type DBConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL" env-required:"true"`
}

// RedisConfig is optional. Without a URL, rate limits are kept in process.
type RedisConfig struct {
	URL string `yaml:"url" env:"REDIS_URL"`
}

type RateLimitConfig struct {
	Enabled          bool          `yaml:"enabled" env:"RATE_LIMIT_ENABLED" env-default:"true"`
	Window           time.Duration `yaml:"window" env:"RATE_LIMIT_WINDOW" env-default:"15m"`
	MaxRequests      int           `yaml:"max_requests" env:"RATE_LIMIT_MAX_REQUESTS" env-default:"100"`
	TelegramLoginMax int           `yaml:"telegram_login_max" env:"RATE_LIMIT_TELEGRAM_LOGIN_MAX" env-default:"30"`
	PasswordLoginMax int           `yaml:"password_login_max" env:"RATE_LIMIT_PASSWORD_LOGIN_MAX" env-default:"5"`
	RefreshMax       int           `yaml:"refresh_max" env:"RATE_LIMIT_REFRESH_MAX" env-default:"60"`
}

type AuditConfig struct {
	Enabled    bool `yaml:"enabled" env:"AUDIT_ENABLED" env-default:"true"`
	BufferSize int  `yaml:"buffer_size" env:"AUDIT_BUFFER_SIZE" env-default:"1024"`
}

type MetricsConfig struct {
	Enabled           bool `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
	LatencyHistograms bool `yaml:"latency_histograms" env:"METRICS_LATENCY_HISTOGRAMS" env-default:"true"`
}

// MustLoad is Load that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads the configuration in the priority order documented on Config.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config

	readFile := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		// ReadConfig overlays env after the file.
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", p, err)
		}
		return &cfg, nil
	}

	switch {
	case path != "":
		return readFile(path)
	case os.Getenv("CONFIG_PATH") != "":
		return readFile(os.Getenv("CONFIG_PATH"))
	}

	if _, err := os.Stat("local.yaml"); err == nil {
		return readFile("local.yaml")
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config not found: provide --config, CONFIG_PATH, local.yaml or env vars: %w", err)
	}

	return &cfg, nil
}

// Engine converts the service configuration into an Engine configuration.
func (c *Config) Engine() (tgauth.Config, error) {
	scheme, ok := telegram.ParseScheme(c.Telegram.Scheme)
	if !ok {
		return tgauth.Config{}, fmt.Errorf("unknown telegram scheme %q", c.Telegram.Scheme)
	}

	out := tgauth.DefaultConfig()
	out.Telegram.BotToken = c.Telegram.BotToken
	out.Telegram.Scheme = scheme
	out.Telegram.MaxAge = c.Telegram.MaxAge

	out.JWT.AccessTTL = c.JWT.AccessTTL
	out.JWT.RefreshTTL = c.JWT.RefreshTTL
	out.JWT.Issuer = c.JWT.Issuer
	out.JWT.Audience = c.JWT.Audience
	out.JWT.Leeway = c.JWT.Leeway
	out.JWT.Secrets = map[tgauth.Role][]byte{}
	for role, secret := range map[tgauth.Role]string{
		tgauth.RoleCustomer:      c.JWT.CustomerSecret,
		tgauth.RoleAdmin:         c.JWT.AdminSecret,
		tgauth.RoleSupplier:      c.JWT.SupplierSecret,
		tgauth.RoleDeliveryAgent: c.JWT.DeliverySecret,
	} {
		if secret != "" {
			out.JWT.Secrets[role] = []byte(secret)
		}
	}

	out.RateLimit.Enabled = c.RateLimit.Enabled
	out.RateLimit.Window = c.RateLimit.Window
	out.RateLimit.TelegramLoginMax = c.RateLimit.TelegramLoginMax
	out.RateLimit.PasswordLoginMax = c.RateLimit.PasswordLoginMax
	out.RateLimit.RefreshMax = c.RateLimit.RefreshMax

	out.Audit.Enabled = c.Audit.Enabled
	out.Audit.BufferSize = c.Audit.BufferSize
	out.Metrics.Enabled = c.Metrics.Enabled
	out.Metrics.EnableLatencyHistograms = c.Metrics.LatencyHistograms

	if err := out.Validate(); err != nil {
		return tgauth.Config{}, err
	}
	return out, nil
}
