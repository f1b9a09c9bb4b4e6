package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// InspectOptions flags del comando inspect.
type InspectOptions struct {
	*RootOptions
	Email string
}

// NewInspectCommand crea el comando inspect.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InspectOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the identity, profile and members of one person",
		Long: `Look up one e-mail in the three stores.

Example:
  rebano inspect --email ana@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				p, err := app.Auditor.Inspect(ctx, opts.Email)
				if err != nil {
					return WrapExitError(ExitCommandError, "inspect failed", err)
				}
				if opts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), p)
				}
				printPerson(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&opts.Email, "email", "", "e-mail to look up (required)")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}
