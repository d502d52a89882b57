package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/viper"

	"github.com/Veraticus/spice-suggest/internal/config"
	"github.com/Veraticus/spice-suggest/internal/engine"
	"github.com/Veraticus/spice-suggest/internal/feedback"
	"github.com/Veraticus/spice-suggest/internal/learner"
	"github.com/Veraticus/spice-suggest/internal/metrics"
	"github.com/Veraticus/spice-suggest/internal/registry"
	"github.com/Veraticus/spice-suggest/internal/scoring"
	"github.com/Veraticus/spice-suggest/internal/storage"
)

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetViper())
}

// initStorage opens and migrates the database. Outbox rows are only written
// when the kafka relay is enabled.
func initStorage(ctx context.Context, cfg *config.Config) (*storage.SQLiteStorage, error) {
	var opts []storage.Option
	if cfg.Kafka.Enabled {
		opts = append(opts, storage.WithOutbox(storage.OutboxTopics{
			Events:   cfg.Kafka.Topic.Events,
			Feedback: cfg.Kafka.Topic.Feedback,
		}))
	}

	store, err := storage.NewSQLiteStorage(cfg.Database.Path, opts...)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// app holds the fully wired engine.
type app struct {
	cfg       *config.Config
	store     *storage.SQLiteStorage
	artifacts *scoring.ArtifactStore
	scorer    *scoring.Service
	registry  *registry.Registry
	metrics   *metrics.Metrics
	router    *engine.Router
	ledger    *feedback.Ledger
	learner   *learner.Learner
	redis     redis.UniversalClient
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, metrics: metrics.New()}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	var err error
	if a.store, err = initStorage(ctx, a.cfg); err != nil {
		return err
	}

	a.artifacts, err = scoring.OpenArtifactStore(scoring.ArtifactOptions{
		Dir:      a.cfg.Artifacts.Path,
		InMemory: a.cfg.Artifacts.InMemory,
	})
	if err != nil {
		return err
	}
	a.scorer = scoring.NewService(a.artifacts, a.cfg.Learner.Dimensions)

	if a.registry, err = registry.New(ctx, a.store, a.metrics); err != nil {
		return fmt.Errorf("failed to load model registry: %w", err)
	}

	a.router = engine.New(a.store, a.registry, a.scorer, routerConfig(a.cfg), engine.WithMetrics(a.metrics))

	a.learner = learner.New(a.store, a.scorer, a.registry, a.metrics, learner.Config{
		LearningRate:    a.cfg.Learner.LearningRate,
		Dimensions:      a.scorer.Dimensions(),
		BootstrapEpochs: a.cfg.Learner.BootstrapEpochs,
		MinSupport:      a.cfg.Learner.Promotion.MinSupport,
		MinShare:        a.cfg.Learner.Promotion.MinShare,
	})

	locks, err := a.locker(ctx)
	if err != nil {
		return err
	}
	a.ledger = feedback.NewLedger(a.store, locks,
		feedback.WithLearner(a.learner),
		feedback.WithMetrics(a.metrics))
	return nil
}

func routerConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		LowConfidence:       engine.LowConfidencePolicy(cfg.Router.LowConfidence),
		ConfidenceThreshold: cfg.Router.ConfidenceThreshold,
		TopK:                cfg.Router.TopK,
		DefaultCanaryPct:    cfg.Router.DefaultCanaryPct,
		ScoringTimeout:      cfg.Router.ScoringTimeout,
		Dimensions:          cfg.Learner.Dimensions,
		BatchWorkers:        cfg.Router.BatchWorkers,
		ShadowScoring:       cfg.Router.ShadowScoring,
	}
}

// locker picks the per-merchant lock backend. Redis is needed once more than
// one process records feedback against the same database.
func (a *app) locker(ctx context.Context) (feedback.Locker, error) {
	if a.cfg.Locks.Backend != "redis" {
		return feedback.NewKeyedMutex(), nil
	}

	a.redis = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{a.cfg.Redis.Addr},
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", a.cfg.Redis.Addr, err)
	}
	slog.Info("Using redis merchant locks", "addr", a.cfg.Redis.Addr, "ttl", a.cfg.Locks.TTL)
	return feedback.NewRedisLocker(a.redis, a.cfg.Locks.TTL), nil
}

// Close waits for background shadow scoring and releases every resource.
func (a *app) Close() {
	if a.router != nil {
		a.router.Wait()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.artifacts != nil {
		if err := a.artifacts.Close(); err != nil {
			slog.Warn("Failed to close artifact store", "error", err)
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}
