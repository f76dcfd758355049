// knitctl is a thin CLI driving internal/knit.Store: insert/cat/annotate
// for one-off operations plus a serve mode exposing metrics and health for
// long-running replication daemons.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prn-tf/knitstore/internal/config"
	"github.com/prn-tf/knitstore/internal/contentcache/rediscache"
	"github.com/prn-tf/knitstore/internal/extlock/redislock"
	"github.com/prn-tf/knitstore/internal/knit"
	"github.com/prn-tf/knitstore/internal/metrics"
	pgtracker "github.com/prn-tf/knitstore/internal/missingparent/postgres"
)

// closers collects cleanup funcs for optional external collaborators so
// main can defer one Close() regardless of which backends were wired.
type closers []func()

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

// openStore builds a knit.Store from cfg, wiring Redis-backed cache/lock
// and a Postgres-backed missing-parent tracker when the config enables
// them; otherwise Store.Open's own in-memory/no-op defaults apply.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*knit.Store, closers, error) {
	var cleanup closers
	deps := knit.Deps{
		Metrics: metrics.New(),
		Logger:  logger,
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:        cfg.Redis.Addr(),
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, nil, fmt.Errorf("knitctl: connect redis: %w", err)
		}
		cleanup = append(cleanup, func() { _ = client.Close() })

		deps.Cache = rediscache.New(client, 5*time.Minute)
		deps.Locker = redislock.New(client)
		logger.Info().Str("addr", cfg.Redis.Addr()).Msg("knitctl: using redis-backed cache and lock")
	}

	if cfg.Postgres.Enabled {
		pool, err := pgxpool.New(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("knitctl: connect postgres: %w", err)
		}
		db := &pgtracker.DB{Pool: pool}
		if err := db.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("knitctl: postgres schema: %w", err)
		}
		cleanup = append(cleanup, func() { db.Close() })

		deps.Tracker = pgtracker.New(db)
		logger.Info().Msg("knitctl: using postgres-backed missing-parent tracker")
	}

	if len(cfg.Store.Fallbacks) > 0 {
		fbStores, fbCleanup, err := openFallbackStores(cfg.Store.Fallbacks, deps.Metrics, logger)
		if err != nil {
			cleanup.run()
			return nil, nil, err
		}
		cleanup = append(cleanup, fbCleanup...)
		deps.Fallbacks = fbStores
	}

	store, err := knit.Open(cfg.Store, deps)
	if err != nil {
		cleanup.run()
		return nil, nil, err
	}
	return store, cleanup, nil
}

// openFallbackStores opens each fallback store config in order, recursing
// so a fallback may itself declare further fallbacks. Fallback stores get the same metrics and logger as
// the primary but no Redis/Postgres wiring of their own — they are
// consulted read-only for keys the primary lacks.
func openFallbackStores(cfgs []config.StoreConfig, m *metrics.Metrics, logger zerolog.Logger) ([]*knit.Store, closers, error) {
	var cleanup closers
	stores := make([]*knit.Store, 0, len(cfgs))
	for _, c := range cfgs {
		fbDeps := knit.Deps{Metrics: m, Logger: logger}
		if len(c.Fallbacks) > 0 {
			nested, nestedCleanup, err := openFallbackStores(c.Fallbacks, m, logger)
			if err != nil {
				cleanup.run()
				return nil, nil, err
			}
			cleanup = append(cleanup, nestedCleanup...)
			fbDeps.Fallbacks = nested
		}
		st, err := knit.Open(c, fbDeps)
		if err != nil {
			cleanup.run()
			return nil, nil, err
		}
		cleanup = append(cleanup, func() { _ = st.Close() })
		stores = append(stores, st)
	}
	return stores, cleanup, nil
}

func newLogger() zerolog.Logger {
	level := zerolog.InfoLevel
	if os.Getenv("KNITCTL_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}
