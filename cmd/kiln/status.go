// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"io"

	"github.com/kiln-pm/kiln/internal/config"
	"github.com/kiln-pm/kiln/internal/lifecycle"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
)

var scopes = []config.Scope{config.ScopeUser, config.ScopeSite}

func newStatusCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status [NAME]",
		Short: "Show catalog and install state",
		Long: `Show what the catalog knows about NAME and where it is installed.
Without NAME, list every installed artifact.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.runtime(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			if len(args) == 0 {
				if err := listInstalled(app.stdout, rt); err != nil {
					return app.fail(err)
				}
				return nil
			}
			a, err := rt.lookup(args[0])
			if err != nil {
				return app.fail(err)
			}
			if err := showStatus(app.stdout, rt, a); err != nil {
				return app.fail(err)
			}
			return nil
		},
	}
}

func listInstalled(w io.Writer, rt *runtime) error {
	n := 0
	for _, scope := range scopes {
		recs, err := rt.index.List(scope)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			fmt.Fprintf(w, "%-24s %-12s %s\n", NameStyle.Render(rec.Name), rec.Version, SubtitleStyle.Render(string(scope)))
			n++
		}
	}
	if n == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("nothing installed"))
	}
	return nil
}

func showStatus(w io.Writer, rt *runtime, a *lifecycle.Artifact) error {
	line := func(k, v string) {
		if v != "" {
			fmt.Fprintf(w, "%s%s\n", keyStyle.Render(k), v)
		}
	}

	fmt.Fprintln(w, TitleStyle.Render(a.Name))
	line("version", a.Version.String())
	line("package id", a.PackageID)
	line("origin", a.Origin)
	line("description", a.Description)
	if a.Author != nil {
		line("author", a.Author.Name)
	}
	if a.Core {
		line("core", "yes")
	}
	if a.Bundle {
		line("bundle", "yes")
	}

	installed := false
	for _, scope := range scopes {
		rec, ok, err := rt.index.Get(a.Name, scope)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		installed = true
		line("installed ("+string(scope)+")",
			fmt.Sprintf("%s on %s, %d files", rec.Version, rec.InstalledAt.Format("2006-01-02"), len(rec.Files)))
	}
	if !installed {
		line("installed", WarningStyle.Render("no"))
	}
	return nil
}

func newReadmeCommand(app *App) *cobra.Command {
	var (
		from string
		raw  bool
	)
	cmd := &cobra.Command{
		Use:   "readme NAME",
		Short: "Fetch an artifact and show its README",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := app.runtime(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			a, err := rt.lookup(args[0])
			if err != nil {
				return app.fail(err)
			}
			text, err := rt.orch.Readme(cmd.Context(), a, lifecycle.Options{From: from})
			if err != nil {
				return app.fail(err)
			}
			if raw {
				fmt.Fprint(app.stdout, text)
				return nil
			}
			out, err := glamour.Render(text, issueStyle)
			if err != nil {
				fmt.Fprint(app.stdout, text)
				return nil
			}
			fmt.Fprint(app.stdout, out)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "read from this archive or directory instead of the catalog source")
	cmd.Flags().BoolVar(&raw, "raw", false, "print the README without rendering")
	return cmd
}
