// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"github.com/kiln-pm/kiln/internal/config"

	"github.com/spf13/cobra"
)

// newConfigCommand creates the `kiln config` command tree.
func newConfigCommand(app *App) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect kiln configuration",
		Long: `Inspect kiln configuration.

Configuration is read from --config, else $XDG_CONFIG_HOME/kiln/config.cue,
else ./config.cue. KILN_* environment variables override file values, e.g.
KILN_PREFER_MAKE=true or KILN_REPORT_URL=https://reports.example.com.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration as CUE",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := app.loadConfig(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			fmt.Fprintln(app.stdout, TitleStyle.Render("Current Configuration"))
			fmt.Fprintln(app.stdout)
			fmt.Fprint(app.stdout, config.GenerateCUE(cfg))
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show the default configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			dir, err := config.ConfigDir()
			if err != nil {
				return app.fail(err)
			}
			fmt.Fprintf(app.stdout, "%s/%s.%s\n", dir, config.ConfigFileName, config.ConfigFileExt)
			return nil
		},
	})

	return cfgCmd
}
