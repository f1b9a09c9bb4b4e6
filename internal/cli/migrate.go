package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/rebano/internal/observability/logger"
	store "github.com/dropDatabas3/rebano/internal/store"
	migrations "github.com/dropDatabas3/rebano/migrations/postgres"
)

// NewMigrateCommand crea el comando migrate. Sólo aplica a conexiones SQL.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the profiles and members tables on a plain Postgres",
		Long: `Apply the embedded SQL migrations. Requires storage.driver=postgres.

Example:
  STORAGE_DRIVER=postgres STORAGE_DSN=postgres://... rebano migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *App) error {
				mc, ok := app.Conn.(store.MigratableConnection)
				if !ok {
					return NewExitError(ExitCommandError, fmt.Sprintf("storage driver %q does not support migrations", app.Conn.Name()))
				}
				res, err := store.NewMigrator(migrations.FS, migrations.Dir).Run(ctx, mc.GetMigrationExecutor())
				if err != nil {
					return WrapExitError(ExitCommandError, "migrate failed", err)
				}
				logger.From(ctx).Info("migrations done",
					logger.Count(len(res.Applied)),
					logger.Duration(res.Duration),
				)
				if rootOpts.Format == "json" {
					return writeJSON(cmd.OutOrStdout(), res)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %v, skipped %v\n", res.Applied, res.Skipped)
				return nil
			})
		},
	}
}
