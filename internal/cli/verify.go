package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// VerifyOptions flags del comando verify.
type VerifyOptions struct {
	*RootOptions
	DryRun bool
}

// NewVerifyCommand crea el comando verify: la pasada configurada en
// reconcile.policy, con las reducciones esperadas y la notificación de config.
func NewVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VerifyOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Run the configured policy and check the expected invariants",
		Long: `Run a verification pass with the policy from reconcile.policy in the
config, compare before/after counts against verify.expected_reductions and
e-mail the report according to notify.mode.

Example:
  rebano verify --config rebano.yaml
  rebano verify --dry-run`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				p := opts.cfg.Reconcile.Policy
				if opts.DryRun {
					p.DryRun = true
				}
				return runPass(cmd, opts.RootOptions, app.Harness, app.Notifier, p)
			})
		},
	}

	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "plan the configured policy without writing")
	return cmd
}
