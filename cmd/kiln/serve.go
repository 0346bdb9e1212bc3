// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"github.com/kiln-pm/kiln/internal/statusapi"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

const defaultServeAddr = "127.0.0.1:7171"

func newServeCommand(app *App) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve catalog, install state and metrics over HTTP",
		Long: `Serve a read-only HTTP API until interrupted:

  /healthz            liveness
  /metrics            Prometheus stage metrics
  /artifacts          catalog entries with installed versions
  /artifacts/NAME     one entry with its pipeline status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := app.runtime(cmd.Context())
			if err != nil {
				return app.fail(err)
			}
			if !rt.cfg.Verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := statusapi.New(rt.catalog, rt.orch, rt.index,
				statusapi.WithGatherer(rt.metrics.Registry()),
				statusapi.WithLogger(rt.logger.WithPrefix("http")),
			)
			if err := srv.Run(cmd.Context(), addr); err != nil {
				return app.fail(err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", defaultServeAddr, "listen address")
	return cmd
}
