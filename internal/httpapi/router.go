package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/middleware"
	"github.com/medmarket/tgauth/telegram"
)

// Auth is the part of *tgauth.Engine the handlers call.
type Auth interface {
	LoginTelegramWithScheme(ctx context.Context, scheme telegram.Scheme, fields map[string]string) (*tgauth.LoginResult, error)
	LoginPassword(ctx context.Context, role tgauth.Role, identifier, password string) (*tgauth.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (tgauth.TokenPair, error)
	Validate(ctx context.Context, accessToken string) (*tgauth.AuthResult, error)
	Profile(ctx context.Context, userID string) (tgauth.UserProfile, error)
}

// Options configures the router. Only Auth is required.
type Options struct {
	Auth    Auth
	Logger  *slog.Logger
	Timeout time.Duration

	// Limiter, when set, applies a general per-IP budget to every /auth route
	// in front of the Engine's own login and refresh budgets.
	Limiter middleware.Limiter

	// Metrics is mounted on GET /metrics when set.
	Metrics http.Handler

	// Ping backs GET /healthz. A nil Ping always reports healthy.
	Ping func(ctx context.Context) error

	// InitData, when set, mounts GET /telegram/me behind the Mini App
	// initData header check.
	InitData *telegram.Validator
}

// NewRouter builds the chi router for the auth endpoints.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	h := &handlers{auth: opts.Auth, ping: opts.Ping}

	r := chi.NewRouter()
	r.Use(
		chimw.RequestID,
		chimw.RealIP,
		requestLogger(opts.Logger),
		chimw.Recoverer,
		clientIP,
	)
	if opts.Timeout > 0 {
		r.Use(chimw.Timeout(opts.Timeout))
	}

	r.Get("/healthz", h.health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(middleware.RateLimit(opts.Limiter, middleware.RateLimitOptions{Logger: opts.Logger}))
		}
		r.Post("/telegram-login-widget", h.telegramWidget)
		r.Post("/telegram-init-data", h.telegramInitData)
		r.Post("/refresh", h.refresh)
		r.Post("/admin/login", h.staffLogin(tgauth.RoleAdmin))
		r.Post("/supplier/login", h.staffLogin(tgauth.RoleSupplier))
		r.Post("/delivery/login", h.staffLogin(tgauth.RoleDeliveryAgent))
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Guard(opts.Auth))
		r.Get("/user/profile", h.profile)
	})

	if opts.InitData != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.InitData(opts.InitData))
			r.Get("/telegram/me", h.telegramMe)
		})
	}

	return r
}

// clientIP hands the resolved remote address to the Engine for its per-IP
// budgets and audit records. It runs after RealIP.
func clientIP(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := tgauth.WithClientIP(r.Context(), middleware.ClientIP(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
