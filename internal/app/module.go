package app

import (
	"context"
	"fmt"

	"github.com/huddle-im/huddle/internal/api"
	"github.com/huddle-im/huddle/internal/bus"
	"github.com/huddle-im/huddle/internal/cache"
	"github.com/huddle-im/huddle/internal/config"
	"github.com/huddle-im/huddle/internal/lock"
	"github.com/huddle-im/huddle/internal/logging"
	"github.com/huddle-im/huddle/internal/outbox"
	"github.com/huddle-im/huddle/internal/persist"
	"github.com/huddle-im/huddle/internal/realtime"
	"github.com/huddle-im/huddle/internal/session"
	"github.com/huddle-im/huddle/internal/status"
	intsync "github.com/huddle-im/huddle/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the sync engine, composing all providers
// and lifecycle hooks. The cache store is created at session start and
// dropped when the app stops; nothing here is a package-level singleton.
func Module(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideMachine,
			provideLock,
			provideStore,
			provideDB,
			provideClient,
			provideLoader,
			provideReducer,
			provideCoordinator,
			provideFeed,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.ServerURL == "" || cfg.HubURL == "" || cfg.UserID == "" {
		return nil, fmt.Errorf("config: server_url, hub_url and user_id are required")
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *cache.Store {
	return cache.NewStore(cfg.UserID, b, logger)
}

func provideDB(p Params, logger *zap.Logger) (*persist.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := persist.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("snapshot db ready", zap.String("path", dbPath))
	return db, nil
}

func provideClient(cfg *config.Config) *api.Client {
	return api.NewClient(cfg.ServerURL, cfg.Token)
}

func provideLoader(store *cache.Store, client *api.Client, cfg *config.Config, logger *zap.Logger) *api.Loader {
	return api.NewLoader(store, client, client, logger, cfg.PageSize)
}

func provideReducer(store *cache.Store, logger *zap.Logger) *intsync.Reducer {
	return intsync.NewReducer(store, logger)
}

func provideCoordinator(store *cache.Store, client *api.Client, cfg *config.Config, logger *zap.Logger) *outbox.Coordinator {
	return outbox.NewCoordinator(store, client, logger, cfg.SendRetryLimit)
}

func provideFeed(cfg *config.Config, reducer *intsync.Reducer, machine *status.Machine, logger *zap.Logger) *realtime.Feed {
	return realtime.NewFeed(cfg.HubURL, reducer, machine, logger)
}

func registerLifecycle(lc fx.Lifecycle, db *persist.DB, store *cache.Store, loader *api.Loader, feed *realtime.Feed, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Warm-start from the last snapshot; a missing or stale snapshot
			// only means a cold sidebar, never a startup failure.
			if err := db.LoadSnapshot(store); err != nil {
				logger.Warn("snapshot load failed, starting cold", zap.Error(err))
			}

			feed.Start(context.Background())

			go func() {
				ctx := context.Background()
				for _, kind := range []cache.ConversationKind{cache.KindGroup, cache.KindDirect} {
					if err := loader.RefreshConversations(ctx, kind); err != nil {
						logger.Error("initial conversation fetch failed",
							zap.String("kind", string(kind)), zap.Error(err))
					}
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			feed.Stop()
			if err := db.SaveSnapshot(store); err != nil {
				logger.Warn("snapshot save failed", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing snapshot db", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("engine stopped")
			return nil
		},
	})
}
