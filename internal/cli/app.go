package cli

import (
	"context"
	"fmt"

	"github.com/dropDatabas3/rebano/internal/audit"
	"github.com/dropDatabas3/rebano/internal/cache"
	"github.com/dropDatabas3/rebano/internal/config"
	"github.com/dropDatabas3/rebano/internal/notify"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	"github.com/dropDatabas3/rebano/internal/reconcile"
	store "github.com/dropDatabas3/rebano/internal/store"
	"github.com/dropDatabas3/rebano/internal/store/cached"
	"github.com/dropDatabas3/rebano/internal/verify"

	// adapters registrados vía init()
	_ "github.com/dropDatabas3/rebano/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/rebano/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/rebano/internal/store/adapters/rest"
)

// App agrupa los componentes construidos a partir de la config. Todos
// comparten la misma conexión y los mismos stores.
type App struct {
	Cfg      *config.Config
	Conn     store.AdapterConnection
	Stores   store.Stores
	Cache    cache.Client
	Auditor  *audit.Auditor
	Engine   *reconcile.Engine
	Harness  *verify.Harness
	Notifier *notify.Notifier
}

// OpenApp abre el store y arma auditor, engine, harness y notifier.
func OpenApp(ctx context.Context, cfg *config.Config) (*App, error) {
	log := logger.From(ctx).With(logger.Component("cli"))

	conn, err := store.OpenAdapter(ctx, cfg.StoreConfig())
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.Storage.Driver, err)
	}
	c, err := cache.New(cfg.CacheConfig())
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open cache %s: %w", cfg.Cache.Kind, err)
	}

	stores := store.FromConnection(conn)
	if cfg.Cache.IdentityTTL > 0 {
		stores.Identities = cached.NewIdentities(stores.Identities, c, cfg.Cache.IdentityTTL)
	}

	auditor := audit.New(stores, cfg.AuditOptions())
	eo := cfg.EngineOptions()
	eo.Locks = c
	engine := reconcile.New(stores, auditor, eo)

	var sender notify.Sender
	if cfg.Notify.SMTP.Host != "" {
		sender = notify.NewSMTPSender(cfg.Notify.SMTP)
	}

	log.Debug("app ready",
		logger.String("storage", conn.Name()),
		logger.String("cache", cfg.Cache.Kind),
		logger.Bool("identity_cache", cfg.Cache.IdentityTTL > 0),
	)
	return &App{
		Cfg:      cfg,
		Conn:     conn,
		Stores:   stores,
		Cache:    c,
		Auditor:  auditor,
		Engine:   engine,
		Harness:  verify.New(auditor, engine, cfg.VerifyOptions()),
		Notifier: notify.New(sender, cfg.NotifyOptions()),
	}, nil
}

// Close cierra cache y conexión. El adapter memory persiste su snapshot acá.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	cerr := a.Cache.Close()
	if err := a.Conn.Close(); err != nil {
		return fmt.Errorf("close store: %w", err)
	}
	return cerr
}
