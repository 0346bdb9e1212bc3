// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"slices"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/internal/lifecycle"

	"github.com/spf13/cobra"
)

var errFromNeedsOneName = errors.New("--from takes exactly one artifact name")

func newInstallCommand(app *App) *cobra.Command {
	var (
		force    bool
		from     string
		skipTest bool
		scope    string
	)
	cmd := &cobra.Command{
		Use:   "install NAME...",
		Short: "Install artifacts",
		Long: `Install artifacts by catalog name.

Each artifact runs through fetch, extract, classify, verify, build, test and
install. Stages whose results are already cached are skipped; --force runs
every stage again. Bundles install each listed member first.`,
		Example: `  kiln install zlib xz
  kiln install --force zlib
  kiln install --from ./zlib-1.3.tar.gz zlib`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if from != "" && len(args) != 1 {
				return app.fail(&ExitError{Code: ExitUsage, Err: errFromNeedsOneName})
			}
			rt, err := app.runtime(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			opts := lifecycle.Options{
				Force:    force,
				From:     from,
				SkipTest: skipTest || rt.cfg.SkipTest,
				Scope:    config.Scope(scope),
			}
			if opts.Scope == "" {
				opts.Scope = rt.cfg.Scope
			}
			if !opts.Scope.IsValid() {
				return app.fail(fmt.Errorf("%w: %q", config.ErrInvalidScope, scope))
			}

			var errs []error
			for _, name := range args {
				a, err := rt.lookup(name)
				if err == nil {
					err = rt.orch.Install(cmd.Context(), a, opts)
				}
				if err != nil {
					renderError(app.stderr, err, app.verbose)
					errs = append(errs, err)
					continue
				}
				fmt.Fprintf(app.stdout, "%s %s\n", SuccessStyle.Render("installed"), NameStyle.Render(a.String()))
				printWarnings(app, a)
			}
			return installExit(len(args), errs)
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-run every stage")
	cmd.Flags().StringVar(&from, "from", "", "install from this archive, directory or URL instead of the catalog source")
	cmd.Flags().BoolVar(&skipTest, "skip-test", false, "do not run the artifact's tests")
	cmd.Flags().StringVar(&scope, "scope", "", "install scope (user or site)")
	return cmd
}

// installExit turns per-artifact failures into the command's exit status.
func installExit(total int, errs []error) error {
	switch {
	case len(errs) == 0:
		return nil
	case len(errs) == 1 && total == 1:
		return &ExitError{Code: exitCodeFor(errs[0]), Err: errs[0]}
	case len(errs) < total:
		return &ExitError{Code: ExitPartial, Err: errors.Join(errs...)}
	default:
		code := ExitFailure
		if slices.ContainsFunc(errs, lifecycle.IsSecurityRelevant) {
			code = ExitSecurity
		}
		return &ExitError{Code: code, Err: errors.Join(errs...)}
	}
}

func printWarnings(app *App, a *lifecycle.Artifact) {
	for _, w := range a.Status().Warnings {
		fmt.Fprintln(app.stderr, WarningStyle.Render("warning: ")+w.Error())
	}
}

func newUninstallCommand(app *App) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "uninstall NAME",
		Short: "Remove an installed artifact",
		Long: `Remove every file the installed index records for NAME in the given
scope, then the directories that were created for it and are now empty.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.runtime(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			s := config.Scope(scope)
			if s == "" {
				s = rt.cfg.Scope
			}
			if !s.IsValid() {
				return app.fail(fmt.Errorf("%w: %q", config.ErrInvalidScope, scope))
			}
			a, err := rt.lookup(args[0])
			if err != nil {
				return app.fail(err)
			}
			if err := rt.orch.Uninstall(cmd.Context(), a, s); err != nil {
				return app.fail(err)
			}
			fmt.Fprintf(app.stdout, "%s %s (%s)\n", SuccessStyle.Render("removed"), NameStyle.Render(a.Name), s)
			return nil
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "scope to remove from (user or site)")
	return cmd
}
