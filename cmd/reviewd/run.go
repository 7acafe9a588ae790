package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/reviewd/internal/changeset"
	"github.com/fyrsmithlabs/reviewd/internal/review"
)

var runFlags struct {
	path    string
	baseRef string
	headRef string
	owner   string
	repo    string
	pr      int
	trace   bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one review and print the final report as JSON",
	Long: `Run one review to completion and print the final report to stdout.

Review a local commit range:

  reviewd run --path . --base main --head HEAD

Review a GitHub pull request:

  reviewd run --owner acme --repo widgets --pr 42

The command exits 0 when the review approves the change, 3 when it
blocks it, and 4 when it ends without a verdict (failed, stopped, or
needs more evidence).`,
	RunE: runReview,
}

func init() {
	runCmd.Flags().StringVar(&runFlags.path, "path", "", "local repository path")
	runCmd.Flags().StringVar(&runFlags.baseRef, "base", "", "base revision (default HEAD~1)")
	runCmd.Flags().StringVar(&runFlags.headRef, "head", "", "head revision (default HEAD)")
	runCmd.Flags().StringVar(&runFlags.owner, "owner", "", "GitHub repository owner")
	runCmd.Flags().StringVar(&runFlags.repo, "repo", "", "GitHub repository name")
	runCmd.Flags().IntVar(&runFlags.pr, "pr", 0, "GitHub pull request number")
	runCmd.Flags().BoolVar(&runFlags.trace, "trace", false, "print the reasoning trace to stderr after the report")
}

func runReview(cmd *cobra.Command, args []string) error {
	code, err := executeRun(cmd)
	if err != nil {
		return err
	}
	if code != 0 {
		os.Exit(code)
	}
	return nil
}

// executeRun does the work behind runReview and returns the process
// exit code. Split out so deferred cleanup runs before os.Exit.
func executeRun(cmd *cobra.Command) (int, error) {
	ctx := cmd.Context()

	// The report goes to stdout; keep logs on stderr.
	a, err := newApp(ctx, true)
	if err != nil {
		return 0, err
	}
	defer a.Close(ctx)

	var input *review.ReviewInput
	switch {
	case runFlags.path != "" && runFlags.owner != "":
		return 0, fmt.Errorf("set either --path or --owner/--repo/--pr, not both")
	case runFlags.path != "":
		input, err = changeset.FromRepository(ctx, changeset.RepoOptions{
			Path:    runFlags.path,
			BaseRef: runFlags.baseRef,
			HeadRef: runFlags.headRef,
		})
	case runFlags.owner != "" || runFlags.repo != "" || runFlags.pr != 0:
		input, err = changeset.FromPullRequest(ctx, changeset.PROptions{
			Owner:  runFlags.owner,
			Repo:   runFlags.repo,
			Number: runFlags.pr,
			Token:  a.cfg.GitHub.Token,
		})
	default:
		return 0, fmt.Errorf("set --path for a local repository or --owner/--repo/--pr for a pull request")
	}
	if err != nil {
		return 0, err
	}

	report, err := a.runner.Run(ctx, input)
	if err != nil {
		return 0, err
	}
	report = a.scrubber.ScrubReport(report)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return 0, fmt.Errorf("encode report: %w", err)
	}

	if runFlags.trace {
		traceEnc := json.NewEncoder(os.Stderr)
		traceEnc.SetIndent("", "  ")
		if err := traceEnc.Encode(a.runner.Trace()); err != nil {
			return 0, fmt.Errorf("encode trace: %w", err)
		}
	}

	switch report.Decision {
	case review.DecisionApprove:
		return 0, nil
	case review.DecisionBlock:
		return 3, nil
	default:
		return 4, nil
	}
}
