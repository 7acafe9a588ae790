// Reviewd runs unattended, evidence-gathering code reviews.
//
// The binary has three entry points over the same orchestrator:
//
//	reviewd run     One-shot review of a local commit range or GitHub PR
//	reviewd serve   HTTP daemon (POST /v1/reviews)
//	reviewd mcp     MCP server over stdio for agent hosts
//
// Configuration is loaded from an optional YAML file and REVIEWD_
// environment variables. See internal/config for details.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "reviewd",
	Short:         "Unattended code review orchestrator",
	Long:          "reviewd drives a phase-based review loop (intake, plan, act, synthesize, check) over a code change and produces an evidence-backed final report.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("reviewd\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "reviewd: %v\n", err)
		os.Exit(1)
	}
}
