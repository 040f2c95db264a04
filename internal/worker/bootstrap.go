package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm/logger"

	"github.com/thebtf/venuescout/internal/config"
	"github.com/thebtf/venuescout/internal/db"
	gormdb "github.com/thebtf/venuescout/internal/db/gorm"
	"github.com/thebtf/venuescout/internal/engine"
	"github.com/thebtf/venuescout/internal/maintenance"
	"github.com/thebtf/venuescout/internal/preferences"
	"github.com/thebtf/venuescout/internal/scoring"
	"github.com/thebtf/venuescout/internal/vocabulary"
)

// HealthChecker reports storage health for the readiness endpoint.
type HealthChecker interface {
	HealthCheck(ctx context.Context) *gormdb.HealthInfo
}

// Components is everything the HTTP layer needs once initialization finished.
type Components struct {
	Engine      *engine.Service
	Store       db.Store
	Health      HealthChecker
	Subscriber  *vocabulary.Subscriber
	Maintenance *maintenance.Service
	redisPool   *redis.Pool
}

// Close releases storage and Redis connections.
func (c *Components) Close() error {
	var errs []error
	if c.Maintenance != nil {
		c.Maintenance.Stop()
	}
	if c.Subscriber != nil {
		c.Subscriber.Stop()
	}
	if c.redisPool != nil {
		errs = append(errs, c.redisPool.Close())
	}
	if c.Store != nil {
		errs = append(errs, c.Store.Close())
	}
	return errors.Join(errs...)
}

// Bootstrap opens the configured database, the optional Redis channel and
// builds the engine with events going to sink.
func Bootstrap(ctx context.Context, cfg *config.Config, sink engine.EventSink) (*Components, error) {
	mapping, err := preferences.LoadMapping(cfg.PreferenceMappingPath)
	if err != nil {
		return nil, fmt.Errorf("load preference mapping: %w", err)
	}

	store, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}
	repo := gormdb.NewRepository(store)
	components := &Components{Store: repo, Health: store}

	opts := vocabulary.Options{
		CacheMaxAge:    cfg.VocabularyCacheMaxAge,
		MaxAddAttempts: cfg.VocabularyMaxAttempts,
	}
	if cfg.RedisURL != "" {
		pool := vocabulary.NewRedisPool(cfg.RedisURL)
		conn, err := pool.GetContext(ctx)
		if err == nil {
			_, err = redis.DoContext(conn, ctx, "PING")
			_ = conn.Close()
		}
		if err != nil {
			// Single-process deployments work without it
			log.Warn().Err(err).Msg("Redis unavailable - vocabulary invalidation stays process-local")
			_ = pool.Close()
		} else {
			components.redisPool = pool
			opts.Notifier = vocabulary.NewRedisNotifier(pool)
		}
	}

	manager := vocabulary.NewManager(repo, opts, log.Logger)
	if components.redisPool != nil {
		components.Subscriber = vocabulary.NewSubscriber(components.redisPool, manager, log.Logger)
	}

	svc, err := engine.NewService(repo, manager, mapping, EngineConfig(cfg), engine.Options{Events: sink}, log.Logger)
	if err != nil {
		_ = components.Close()
		return nil, fmt.Errorf("init engine: %w", err)
	}
	components.Engine = svc
	components.Maintenance = maintenance.NewService(repo, store, MaintenanceConfig(cfg), log.Logger)
	return components, nil
}

// OpenStore opens the configured database and runs migrations.
func OpenStore(cfg *config.Config) (*gormdb.Store, error) {
	if cfg.DatabaseDriver == gormdb.DriverSQLite {
		if err := config.EnsureDataDir(); err != nil {
			return nil, fmt.Errorf("ensure data dir: %w", err)
		}
	}
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DatabaseDriver,
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	return store, nil
}

// MaintenanceConfig maps settings onto the housekeeping scheduler.
func MaintenanceConfig(cfg *config.Config) maintenance.Config {
	return maintenance.Config{
		Enabled:        cfg.MaintenanceEnabled,
		Interval:       time.Duration(cfg.MaintenanceIntervalHours) * time.Hour,
		ScoreRetention: time.Duration(cfg.ScoreRetentionDays) * 24 * time.Hour,
		InitialDelay:   maintenance.DefaultInitialDelay,
	}
}

// EngineConfig maps settings onto engine tuning.
func EngineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		Blend: scoring.Blend{
			Similarity: cfg.BlendSimilarity,
			Proximity:  cfg.BlendProximity,
			Rating:     cfg.BlendRating,
		},
		FeedbackRadius:   cfg.FeedbackRadius,
		GenerationRadius: cfg.GenerationRadius,
		Quorum:           cfg.PromotionQuorum,
		Concurrency:      cfg.ScoringConcurrency,
	}
}
