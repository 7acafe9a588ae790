package main

import (
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/reviewd/pkg/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP daemon",
	Long: `Start the reviewd HTTP daemon.

The daemon exposes GET /health and POST /v1/reviews, which accepts a
review input (repository, refs, changed files, diff) and returns the
final report. Shut down with SIGINT or SIGTERM.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	srv, err := server.NewServer(a.cfg.Server, a.runner, a.scrubber, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting http daemon", zap.Int("port", a.cfg.Server.Port))

	if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	a.logger.Info(ctx, "http daemon stopped")
	return nil
}
