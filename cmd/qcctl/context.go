package main

import (
	"context"
	"os"

	"github.com/redis/go-redis/v9"

	"qc-review/internal/audit"
	"qc-review/internal/config"
	"qc-review/internal/errs"
	"qc-review/internal/logging"
	"qc-review/internal/notify"
	"qc-review/internal/review"
	"qc-review/internal/stats"
	"qc-review/internal/store"
)

type commandContext struct {
	configFlag *string
	jsonFlag   *bool
}

func newCommandContext(configFlag *string, jsonFlag *bool) *commandContext {
	return &commandContext{configFlag: configFlag, jsonFlag: jsonFlag}
}

func (c *commandContext) jsonMode() bool {
	return c.jsonFlag != nil && *c.jsonFlag
}

func (c *commandContext) loadConfig() (config.Config, error) {
	path := os.Getenv("CONFIG_FILE")
	if c.configFlag != nil && *c.configFlag != "" {
		path = *c.configFlag
	}
	cfg, err := config.LoadFrom(path)
	if err != nil {
		return config.Config{}, err
	}
	logging.Setup(cfg.Env, cfg.LogLevel)
	return cfg, nil
}

// session holds the services one command invocation works against.
type session struct {
	cfg      config.Config
	store    store.Store
	redis    *redis.Client
	notifier notify.Notifier
	engine   *review.Engine
	stats    *stats.Aggregator
}

// open loads config, connects the store and applies migrations so a fresh
// SQLite file is usable straight away.
func (c *commandContext) open(ctx context.Context) (*session, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, errs.Wrap(err, "open store")
	}
	if err := st.RunMigrations(ctx); err != nil {
		st.Close()
		return nil, errs.Wrap(err, "migrations")
	}

	s := &session{cfg: cfg, store: st}
	if cfg.RedisAddr != "" {
		s.redis = notify.NewRedisClient(cfg)
	}

	var archiver audit.Archiver
	if cfg.AuditS3Bucket != "" {
		s3Archiver, err := audit.NewS3Archiver(ctx, cfg)
		if err != nil {
			s.close()
			return nil, errs.Wrap(err, "audit archiver")
		}
		archiver = s3Archiver
	}

	notifier, err := notify.Build(cfg, s.redis)
	if err != nil {
		s.close()
		return nil, errs.Wrap(err, "notifier")
	}
	s.notifier = notifier
	s.engine = review.NewEngine(st, audit.NewLogger(st, archiver), notifier, review.PendingLimits{
		Default: cfg.PendingDefaultLimit,
		Max:     cfg.PendingMaxLimit,
	}).WithNotifyTimeout(cfg.NotifyTimeout)
	s.stats = stats.NewAggregator(st)
	return s, nil
}

func (s *session) close() {
	if s.notifier != nil {
		_ = s.notifier.Close()
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
	s.store.Close()
}
