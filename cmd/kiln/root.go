// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// NewRootCommand builds the command tree around app.
func NewRootCommand(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "kiln",
		Short: "Fetch, verify, build and install source artifacts",
		Long: TitleStyle.Render("kiln") + SubtitleStyle.Render(" - fetch, verify, build and install source artifacts") + `

kiln resolves artifact names through a catalog, downloads archives from
mirrors, GitHub releases or git tags, verifies checksums and signed
manifests, then builds with make or a build.cue script and records every
installed file so it can be removed again.

` + SubtitleStyle.Render("Examples:") + `
  kiln install zlib           Install zlib and its prerequisites
  kiln install --from . app   Build the tree in the current directory
  kiln selfupdate             Bring kiln's own requirements up to date
  kiln serve                  Expose status and metrics over HTTP`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	root.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "enable verbose output")
	root.PersistentFlags().StringVar(&app.configPath, "config", "", "config file (default is $XDG_CONFIG_HOME/kiln/config.cue)")

	root.SetOut(app.stdout)
	root.SetErr(app.stderr)

	root.AddCommand(
		newInstallCommand(app),
		newUninstallCommand(app),
		newStatusCommand(app),
		newReadmeCommand(app),
		newSelfUpdateCommand(app),
		newFeaturesCommand(app),
		newServeCommand(app),
		newConfigCommand(app),
		newVersionCommand(),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the kiln version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), "kiln "+getVersionString())
			return nil
		},
	}
}

// Execute runs the CLI. It is called by main.main().
func Execute() {
	app := NewApp(Dependencies{})
	if err := fang.Execute(
		context.Background(),
		NewRootCommand(app),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
	); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(ExitFailure)
	}
}
