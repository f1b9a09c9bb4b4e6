// Package cli implementa el binario rebano: auditar, reconciliar y verificar
// los stores de identidades, profiles y members, más el server operativo.
package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dropDatabas3/rebano/internal/config"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
)

// RootOptions son los flags globales.
type RootOptions struct {
	ConfigPath string
	EnvFile    string
	Format     string // "text" | "json"
	Quiet      bool
	Version    string

	cfg *config.Config
}

// ValidFormats formatos de salida aceptados.
var ValidFormats = []string{"text", "json"}

// Config retorna la config cargada en PersistentPreRunE.
func (o *RootOptions) Config() *config.Config { return o.cfg }

// NewRootCommand crea el comando raíz.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:           "rebano",
		Short:         "Audita y reconcilia identidades, profiles y members",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setup()
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", os.Getenv("REBANO_CONFIG"), "path to YAML config (env REBANO_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file loaded before the config (missing default is ignored)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json)")
	cmd.PersistentFlags().BoolVarP(&opts.Quiet, "quiet", "q", false, "disable logs")

	cmd.AddCommand(NewAuditCommand(opts))
	cmd.AddCommand(NewReconcileCommand(opts))
	cmd.AddCommand(NewVerifyCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	return cmd
}

func (o *RootOptions) setup() error {
	if !isValidFormat(o.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", o.Format, ValidFormats)
	}
	if o.EnvFile != "" {
		// godotenv.Load no pisa variables ya definidas
		if err := godotenv.Load(o.EnvFile); err != nil {
			if !errors.Is(err, fs.ErrNotExist) || o.EnvFile != ".env" {
				return WrapExitError(ExitCommandError, "load env file", err)
			}
		}
	}
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "load config", err)
	}
	o.cfg = cfg

	if o.Quiet {
		logger.Replace(zap.NewNop())
	} else {
		logger.Init(cfg.LoggerConfig(o.Version))
	}
	return nil
}

func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}
