// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kiln-pm/kiln/internal/selfupdate"

	"github.com/spf13/cobra"
)

var errSelfUpdateIncomplete = errors.New("self-update incomplete")

func newSelfUpdateCommand(app *App) *cobra.Command {
	var (
		latest bool
		force  bool
		list   bool
	)
	cmd := &cobra.Command{
		Use:   "selfupdate [SCOPE]",
		Short: "Install what kiln itself requires",
		Long: `Install the artifacts kiln itself requires.

SCOPE is one of core, dependencies, features or all (the default), or the
name of a single feature; see 'kiln features'. Artifacts whose installed
version already meets the requirement are skipped unless --latest is given,
which raises every requirement to the catalog's version.`,
		Example: `  kiln selfupdate
  kiln selfupdate core --force
  kiln selfupdate signatures --list`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := selfupdate.ScopeAll
			if len(args) == 1 {
				scope = args[0]
			}
			rt, err := app.runtime(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			driver := selfupdate.NewDriver(rt.resolver, rt.orch, rt.index, rt.logger)

			if list {
				todo, skipped, res, err := driver.Plan(scope, latest)
				if err != nil {
					return app.fail(err)
				}
				for _, r := range todo {
					fmt.Fprintf(app.stdout, "%s %s >= %s\n", SuccessStyle.Render("install"), NameStyle.Render(r.Name), r.Required)
				}
				for _, name := range skipped {
					fmt.Fprintf(app.stdout, "%s %s\n", SubtitleStyle.Render("ok     "), name)
				}
				for _, name := range res.Missing {
					fmt.Fprintf(app.stdout, "%s %s\n", WarningStyle.Render("missing"), name)
				}
				return nil
			}

			sum, err := driver.Update(cmd.Context(), scope, latest, force)
			if err != nil {
				return app.fail(err)
			}
			for _, f := range sum.Failed {
				renderError(app.stderr, f.Err, app.verbose)
			}
			fmt.Fprintln(app.stdout, sum.String())
			if !sum.OK() {
				names := make([]string, 0, len(sum.Failed))
				for _, f := range sum.Failed {
					names = append(names, f.Name)
				}
				return &ExitError{
					Code: ExitPartial,
					Err:  fmt.Errorf("%w: %s", errSelfUpdateIncomplete, strings.Join(names, ", ")),
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&latest, "latest", false, "update every requirement to the catalog version")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "re-run every stage for each artifact")
	cmd.Flags().BoolVar(&list, "list", false, "show the plan without installing")
	return cmd
}

func newFeaturesCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "features",
		Short: "List optional kiln features and whether they are enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.runtime(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			for _, f := range rt.resolver.Features() {
				mark := SubtitleStyle.Render("off")
				if f.Enabled {
					mark = SuccessStyle.Render("on ")
				}
				fmt.Fprintf(app.stdout, "%s %-16s %s\n", mark, NameStyle.Render(f.Name), f.Description)
			}
			return nil
		},
	}
}
