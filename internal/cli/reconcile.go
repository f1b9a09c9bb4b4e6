package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/dropDatabas3/rebano/internal/domain/repository"
	"github.com/dropDatabas3/rebano/internal/lock"
	"github.com/dropDatabas3/rebano/internal/observability/logger"
	"github.com/dropDatabas3/rebano/internal/reconcile"
	"github.com/dropDatabas3/rebano/internal/verify"
)

// ReconcileOptions flags del comando reconcile.
type ReconcileOptions struct {
	*RootOptions
	Policy reconcile.Policy
	Expect map[string]int
}

// NewReconcileCommand crea el comando reconcile. La policy sale sólo de los
// flags; sin categorías no hay nada que hacer.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Audit, repair the selected categories and re-audit",
		Long: `Run one reconciliation pass: audit, apply the policy given by flags,
audit again and compare. Exits 0 when every requested category ended
reconciled, 1 otherwise.

Example:
  rebano reconcile --create-missing-profiles --create-missing-members
  rebano reconcile --dedupe-members --dry-run --format json
  rebano reconcile --update-mismatches --expect membersUnlinked=2`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Policy.Empty() {
				return NewExitError(ExitCommandError, "no categories selected: pass at least one policy flag")
			}
			exp, err := verify.ParseExpectations(opts.Expect)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --expect", err)
			}
			return withApp(cmd, opts.RootOptions, func(ctx context.Context, app *App) error {
				vo := opts.cfg.VerifyOptions()
				for c, n := range exp {
					vo.ExpectedReductions[c] = n
				}
				h := verify.New(app.Auditor, app.Engine, vo)
				return runPass(cmd, opts.RootOptions, h, nil, opts.Policy)
			})
		},
	}

	bindPolicyFlags(cmd, &opts.Policy)
	cmd.Flags().StringToIntVar(&opts.Expect, "expect", nil, "expected minimum reduction for categories the policy does not act on (category=N)")
	return cmd
}

func bindPolicyFlags(cmd *cobra.Command, p *reconcile.Policy) {
	f := cmd.Flags()
	f.BoolVar(&p.CreateMissingProfile, "create-missing-profiles", false, "create profiles for identities without one")
	f.BoolVar(&p.CreateMissingMember, "create-missing-members", false, "create members for identities without one")
	f.BoolVar(&p.LinkMembersByEmail, "link-members", false, "link unlinked members to the identity with the same email")
	f.BoolVar(&p.UpdateMismatchedFields, "update-mismatches", false, "copy identity email/name onto profile and member")
	f.BoolVar(&p.DeduplicateMembers, "dedupe-members", false, "merge duplicate members into the oldest and delete the rest")
	f.BoolVar(&p.DeleteOrphanedProfiles, "delete-orphans", false, "delete profiles whose identity no longer exists")
	f.BoolVar(&p.DryRun, "dry-run", false, "plan every action without writing")
}

// runPass corre el harness, imprime el reporte, notifica si n no es nil y
// traduce el resultado a exit code.
func runPass(cmd *cobra.Command, opts *RootOptions, h *verify.Harness, n notifier, p reconcile.Policy) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	rep, err := h.Run(ctx, p)
	if rep == nil {
		switch {
		case errors.Is(err, lock.ErrHeld):
			return WrapExitError(ExitCommandError, "another pass is running", err)
		case errors.Is(err, repository.ErrInconsistentInput):
			return WrapExitError(ExitCommandError, "report rejected", err)
		}
		return WrapExitError(ExitCommandError, "verification failed", err)
	}

	if opts.Format == "json" {
		if werr := writeJSON(cmd.OutOrStdout(), rep); werr != nil {
			return werr
		}
	} else {
		printVerify(cmd.OutOrStdout(), rep)
	}

	if n != nil {
		if nerr := n.Report(context.WithoutCancel(ctx), rep); nerr != nil {
			logger.From(ctx).Warn("report notification failed", logger.Err(nerr))
		}
	}

	if err != nil {
		return WrapExitError(ExitFailure, "pass interrupted", err)
	}
	if !rep.FullyReconciled {
		return NewExitError(ExitFailure, "not fully reconciled")
	}
	return nil
}

type notifier interface {
	Report(ctx context.Context, rep *verify.Report) error
}
