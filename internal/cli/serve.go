package cli

import (
	"context"

	"github.com/spf13/cobra"

	httpx "github.com/dropDatabas3/rebano/internal/http"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	store "github.com/dropDatabas3/rebano/internal/store"
	"github.com/dropDatabas3/rebano/internal/verify"
)

// ServeOptions flags del comando serve.
type ServeOptions struct {
	*RootOptions
	Addr string
}

// NewServeCommand crea el comando serve: superficie HTTP operativa y, si
// server.schedule_interval > 0, verificaciones periódicas.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, metrics, audit and reconcile over HTTP",
		Long: `Start the ops HTTP server. With server.schedule_interval set, run the
configured policy periodically and notify according to notify.mode.

Example:
  rebano serve --config rebano.yaml --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				return serve(ctx, opts, app)
			})
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (default server.addr)")
	return cmd
}

func serve(ctx context.Context, opts *ServeOptions, app *App) error {
	cfg := opts.cfg
	log := logger.From(ctx).With(logger.Component("serve"))

	mc := httpx.MetricsConfig{}
	if pr, ok := app.Conn.(store.PoolReporter); ok {
		mc.Pool = pr
	}
	metricsHandler, err := httpx.RegisterMetrics(mc)
	if err != nil {
		return WrapExitError(ExitCommandError, "register metrics", err)
	}
	if cfg.Server.AdminToken == "" {
		log.Warn("admin token not set, /v1 is unauthenticated")
	}

	router := httpx.NewRouter(httpx.Deps{
		Auditor:    app.Auditor,
		Engine:     app.Engine,
		Harness:    app.Harness,
		Notifier:   app.Notifier,
		Cache:      app.Cache,
		AuditTTL:   cfg.Server.AuditTTL,
		Ping:       app.Conn.Ping,
		AdminToken: cfg.Server.AdminToken,
		Metrics:    metricsHandler,
	})

	if every := cfg.Server.ScheduleInterval; every > 0 {
		p := cfg.Reconcile.Policy
		if p.Empty() {
			log.Warn("schedule enabled with an empty policy, passes only audit")
		}
		go app.Harness.Every(ctx, every, p, func(ctx context.Context, rep *verify.Report) {
			if err := app.Notifier.Report(context.WithoutCancel(ctx), rep); err != nil {
				log.Warn("report notification failed", logger.Err(err))
			}
		})
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	if err := httpx.NewServer(addr, router).Run(ctx); err != nil {
		return WrapExitError(ExitCommandError, "http server", err)
	}
	return nil
}
