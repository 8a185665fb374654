package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"bankintake/internal/config"
	"bankintake/internal/db"
	"bankintake/internal/engine"
	"bankintake/internal/logger"
	"bankintake/internal/metrics"
	"bankintake/internal/migrate"
	"bankintake/internal/repo"
)

const metricsNamespace = "intake"

// App is the wired service: a store behind an optional cache and the engine
// that drives it.
type App struct {
	Config  *config.Config
	Engine  engine.Engine
	Store   repo.Store
	Metrics *metrics.Collector
	Log     logger.Logger
}

// Build opens the configured store, applies SQL migrations or Mongo indexes,
// and wraps the store with Redis when a cache address is set.
func Build(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	if cfg.Cache.Enabled() {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, lookups fall through to the store", map[string]interface{}{
				"addr":  cfg.Cache.RedisAddr,
				"error": err.Error(),
			})
		}
		store = repo.NewCached(store, client, cfg.Cache.TTL(), log.WithFields(map[string]interface{}{"component": "cache"}))
	}
	m := metrics.New(metricsNamespace)
	return &App{
		Config:  cfg,
		Engine:  engine.New(store, cfg, log.WithFields(map[string]interface{}{"component": "engine"}), m),
		Store:   store,
		Metrics: m,
		Log:     log,
	}, nil
}

// OpenStore connects the driver named in cfg and prepares its schema.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (repo.Store, error) {
	switch cfg.Driver {
	case db.DriverSQLite, db.DriverPostgres:
		conn, err := db.Open(db.Config{Driver: cfg.Driver, Path: cfg.SQLitePath, DSN: cfg.PostgresDSN})
		if err != nil {
			return nil, err
		}
		if err := migrate.Migrate(conn); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("migrate %s store: %w", cfg.Driver, err)
		}
		return repo.NewSQL(conn), nil
	case "mongo":
		m, err := repo.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		if err := m.EnsureIndexes(ctx); err != nil {
			_ = m.Close()
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// Close releases the store and flushes the logger.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	if a.Log != nil {
		// zap returns EINVAL syncing stderr on some platforms.
		_ = a.Log.Sync()
	}
	return errors.Join(errs...)
}
