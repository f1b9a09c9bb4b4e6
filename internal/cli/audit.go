package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/rebano/internal/audit"
)

// AuditOptions flags del comando audit.
type AuditOptions struct {
	*RootOptions
	FailOnFindings bool
}

// NewAuditCommand crea el comando audit.
func NewAuditCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &AuditOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Report divergences between identities, profiles and members",
		Long: `Read the three stores and report every finding category without writing.

Example:
  rebano audit --config rebano.yaml
  rebano audit --format json --fail-on-findings`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				rep, err := app.Auditor.Run(ctx)
				if err != nil {
					return WrapExitError(ExitCommandError, "audit failed", err)
				}
				if err := opts.printAudit(cmd, rep); err != nil {
					return err
				}
				if opts.FailOnFindings && !rep.Empty() {
					return NewExitError(ExitFailure, "audit has findings")
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&opts.FailOnFindings, "fail-on-findings", false, "exit 1 when any category has findings")
	return cmd
}

func (o *AuditOptions) printAudit(cmd *cobra.Command, rep *audit.Report) error {
	if o.Format == "json" {
		return writeJSON(cmd.OutOrStdout(), rep)
	}
	printAudit(cmd.OutOrStdout(), rep, o.cfg.Reconcile.SampleSize)
	return nil
}

// withApp abre la app con la config ya cargada y la cierra al terminar.
func withApp(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, app *App) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	app, err := OpenApp(ctx, opts.cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "startup failed", err)
	}
	runErr := fn(ctx, app)
	if err := app.Close(); err != nil && runErr == nil {
		return WrapExitError(ExitCommandError, "shutdown failed", err)
	}
	return runErr
}
