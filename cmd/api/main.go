package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	api "qc-review/internal/api"
	"qc-review/internal/audit"
	"qc-review/internal/config"
	"qc-review/internal/errs"
	"qc-review/internal/logging"
	"qc-review/internal/notify"
	"qc-review/internal/ratelimit"
	"qc-review/internal/review"
	"qc-review/internal/stats"
	"qc-review/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", slog.Any("err", errs.Loggable(err)))
		os.Exit(1)
	}
	logging.Setup(cfg.Env, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		logging.Error(ctx, "api exited", slog.Any("err", errs.Loggable(err)))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return errs.Wrap(err, "open store")
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		return errs.Wrap(err, "migrations")
	}

	var archiver audit.Archiver
	if cfg.AuditS3Bucket != "" {
		s3Archiver, err := audit.NewS3Archiver(ctx, cfg)
		if err != nil {
			return errs.Wrap(err, "audit archiver")
		}
		archiver = s3Archiver
	}

	var redisClient *redis.Client
	var limiter ratelimit.Limiter = ratelimit.Unlimited{}
	if cfg.RedisAddr != "" {
		redisClient = notify.NewRedisClient(cfg)
		defer redisClient.Close()
		limiter = ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	notifier, err := notify.Build(cfg, redisClient)
	if err != nil {
		return errs.Wrap(err, "notifier")
	}
	defer notifier.Close()

	engine := review.NewEngine(st, audit.NewLogger(st, archiver), notifier, review.PendingLimits{
		Default: cfg.PendingDefaultLimit,
		Max:     cfg.PendingMaxLimit,
	}).WithNotifyTimeout(cfg.NotifyTimeout)
	server := api.New(cfg, engine, stats.NewAggregator(st), st, limiter)
	httpServer := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.AuthJWTSecret == "" {
		logging.Warn(ctx, "AUTH_JWT_SECRET not set; reviewer identity comes from the unauthenticated X-User-ID header")
	}
	logging.Info(ctx, "api listening",
		slog.String("port", cfg.HTTPPort),
		slog.String("store", cfg.StoreDriver),
		slog.Any("notify_sinks", cfg.NotifySinks),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errs.Wrap(err, "listen")
	case <-ctx.Done():
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return httpServer.Shutdown(shutdownCtx)
}
