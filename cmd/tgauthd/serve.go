package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/medmarket/tgauth"
	"github.com/medmarket/tgauth/internal/config"
	"github.com/medmarket/tgauth/internal/httpapi"
	"github.com/medmarket/tgauth/internal/pkg/log"
	promexport "github.com/medmarket/tgauth/metrics/export/prometheus"
	"github.com/medmarket/tgauth/middleware"
	"github.com/medmarket/tgauth/storage/memory"
	"github.com/medmarket/tgauth/storage/postgres"
	"github.com/medmarket/tgauth/telegram"
)

// memoryDSN selects the in-process user store. Users are lost on restart.
const memoryDSN = "memory"

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := log.New(cfg.Env, os.Stdout)
			slog.SetDefault(logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	engineCfg, err := cfg.Engine()
	if err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	logger.Info("starting tgauthd", slog.String("env", cfg.Env), slog.String("version", version))

	users, ping, closeUsers, err := openUsers(ctx, cfg.DB.URL, logger)
	if err != nil {
		return err
	}
	defer closeUsers()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		logger.Info("redis connected")
	} else {
		logger.Warn("REDIS_URL not set: rate limits are per process")
	}

	builder := tgauth.New().
		WithConfig(engineCfg).
		WithUserProvider(users).
		WithLogger(logger).
		WithAuditSink(tgauth.SlogSink{Logger: logger.With(slog.String("component", "audit"))})
	if rdb != nil {
		builder = builder.WithRedis(rdb)
	}
	engine, err := builder.Build()
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}
	defer engine.Close()

	opts := httpapi.Options{
		Auth:    engine,
		Logger:  logger,
		Timeout: cfg.HTTP.WriteTimeout,
		Ping:    ping,
	}
	if engineCfg.Telegram.BotToken != "" {
		opts.InitData, err = telegram.NewValidator(telegram.Config{
			BotToken: engineCfg.Telegram.BotToken,
			Scheme:   telegram.SchemeWebApp,
			MaxAge:   engineCfg.Telegram.MaxAge,
		})
		if err != nil {
			return fmt.Errorf("init data validator: %w", err)
		}
	}
	if cfg.Metrics.Enabled {
		exp := promexport.NewExporter(engine)
		exp.Registry().MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		opts.Metrics = exp.Handler()
	}
	if cfg.RateLimit.Enabled {
		if rdb != nil {
			opts.Limiter, err = middleware.NewRedisLimiter(rdb, "tgauth:http:", cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
		} else {
			opts.Limiter, err = middleware.NewMemoryLimiter(cfg.RateLimit.Window, cfg.RateLimit.MaxRequests)
		}
		if err != nil {
			return fmt.Errorf("http rate limiter: %w", err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr(),
		Handler:           httpapi.NewRouter(opts),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http serve: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("stopped", slog.Uint64("audit_dropped", engine.AuditDropped()))
	return nil
}

func openUsers(ctx context.Context, dsn string, logger *slog.Logger) (tgauth.UserProvider, func(context.Context) error, func(), error) {
	if dsn == memoryDSN {
		logger.Warn("using in-memory user store")
		return memory.New(), nil, func() {}, nil
	}

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	st, err := postgres.New(dbCtx, dsn)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("postgres connected")
	return st, st.Ping, st.Close, nil
}
