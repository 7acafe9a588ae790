package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewd/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Run the MCP server over stdio",
	Long: `Start the MCP server on stdin/stdout for agent host integration.

The server exposes two tools:

  review_run     Run a review over a local commit range or GitHub PR
  review_trace   Inspect the reasoning trace of the last run

Logs go to stderr; stdout carries only the MCP protocol.`,
	RunE: runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	// Stdout carries the MCP protocol; logs go to stderr.
	a, err := newApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	srv, err := mcp.NewServer(a.runner, a.scrubber, a.cfg.GitHub.Token, a.logger)
	if err != nil {
		return err
	}

	a.logger.Info(ctx, "starting mcp server on stdio")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
