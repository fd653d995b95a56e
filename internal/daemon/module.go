package daemon

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/lucasreze/dmsync/internal/ai"
	"github.com/lucasreze/dmsync/internal/bus"
	"github.com/lucasreze/dmsync/internal/config"
	"github.com/lucasreze/dmsync/internal/enrich"
	"github.com/lucasreze/dmsync/internal/lock"
	"github.com/lucasreze/dmsync/internal/logging"
	"github.com/lucasreze/dmsync/internal/outbound"
	"github.com/lucasreze/dmsync/internal/remote"
	"github.com/lucasreze/dmsync/internal/session"
	"github.com/lucasreze/dmsync/internal/status"
	"github.com/lucasreze/dmsync/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	// Remote overrides the backing remote store. Nil means in-memory, which
	// is what tests and offline development use.
	Remote remote.Store
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideRemote,
			provideListener,
			providePipeline,
			provideGateway,
			provideCoordinator,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		return &config.Config{}, nil
	}
	return cfg, err
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.ProfileName), p.ProfileName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(session.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.ProfileName)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRemote(p Params, logger *zap.Logger) remote.Store {
	if p.Remote != nil {
		return p.Remote
	}
	logger.Info("no remote backend configured, using in-memory store")
	return remote.NewMemory()
}

func provideListener(r remote.Store, db *store.DB, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *remote.Listener {
	return remote.NewListener(r, db, b, cfg.CurrentUser, logger)
}

func providePipeline(db *store.DB, r remote.Store, b *bus.Bus, logger *zap.Logger) *outbound.Pipeline {
	return outbound.NewPipeline(db, r, b, logger)
}

func provideGateway(cfg *config.Config, logger *zap.Logger) *ai.Client {
	hc := ai.HTTPConfig{
		BaseURL:           cfg.AI.BaseURL,
		APIKey:            cfg.AI.APIKey(),
		RequestsPerMinute: cfg.AI.RequestsPerMinute,
		MaxConcurrent:     cfg.AI.MaxConcurrent,
		MaxAttempts:       cfg.AI.MaxAttempts,
	}
	if cfg.AI.TimeoutSeconds > 0 {
		hc.Timeout = time.Duration(cfg.AI.TimeoutSeconds) * time.Second
	}
	if hc.APIKey == "" {
		logger.Warn("no gateway API key configured, enrichment calls will fail")
	}
	return ai.NewClient(ai.NewHTTPBackend(hc))
}

func provideCoordinator(db *store.DB, r remote.Store, gw *ai.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *enrich.Coordinator {
	return enrich.NewCoordinator(db, r, gw, b, cfg.CurrentUser, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, listener *remote.Listener, pipeline *outbound.Pipeline, coordinator *enrich.Coordinator, machine *status.Machine, b *bus.Bus, cfg *config.Config, logger *zap.Logger) {
	_ = pipeline // fx constructs only what a hook consumes; sends need the pipeline live
	var cancel context.CancelFunc
	var unsub func()

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if cfg.CurrentUser == "" {
				logger.Warn("current_user not set in config, remote listeners disabled")
				return machine.Transition(status.Error)
			}

			ctx, cancelFn := context.WithCancel(context.Background())
			cancel = cancelFn

			if err := listener.ListenConversations(ctx); err != nil {
				cancel()
				_ = machine.Transition(status.Error)
				return err
			}
			if err := listener.ListenUsers(ctx); err != nil {
				cancel()
				_ = machine.Transition(status.Error)
				return err
			}

			// Attach a per-conversation message listener the first time a
			// conversation shows up in the conversation stream. Message
			// batches themselves publish conversation.updated, so wiring
			// must be once per id or the snapshot-event cycle never
			// quiesces.
			events, unsubFn := b.Subscribe(bus.ConversationUpdated, 256)
			unsub = unsubFn
			go func() {
				wired := make(map[string]bool)
				for ev := range events {
					ids, ok := ev.Payload.([]string)
					if !ok {
						continue
					}
					for _, id := range ids {
						if wired[id] {
							continue
						}
						if err := listener.ListenMessages(ctx, id); err != nil {
							logger.Warn("message listener failed",
								zap.String("conversation", id),
								zap.Error(err))
							continue
						}
						wired[id] = true
					}
				}
			}()

			if err := machine.Transition(status.Listening); err != nil {
				return err
			}

			coordinator.Start(ctx)

			return machine.Transition(status.Ready)
		},
		OnStop: func(_ context.Context) error {
			coordinator.Stop()
			listener.Stop()
			if unsub != nil {
				unsub()
			}
			if cancel != nil {
				cancel()
			}
			if machine.Current() != status.Error {
				_ = machine.Transition(status.Stopped)
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
