package changeset

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/reviewd/internal/config"
	"github.com/fyrsmithlabs/reviewd/internal/review"
)

// PROptions identifies the pull request to review.
type PROptions struct {
	Owner  string
	Repo   string
	Number int
	// Token authenticates against the GitHub API. Optional for public
	// repositories, subject to unauthenticated rate limits.
	Token config.Secret
	// MaxDiffBytes caps the diff text. Zero means DefaultMaxDiffBytes.
	MaxDiffBytes int
}

// FromPullRequest builds a ReviewInput from a GitHub pull request.
func FromPullRequest(ctx context.Context, opts PROptions) (*review.ReviewInput, error) {
	return FetchPullRequest(ctx, newGitHubClient(ctx, opts.Token), opts)
}

// FetchPullRequest is FromPullRequest with an injected client. The
// pull request metadata and its file list are fetched concurrently.
func FetchPullRequest(ctx context.Context, client *github.Client, opts PROptions) (*review.ReviewInput, error) {
	if opts.Owner == "" || opts.Repo == "" || opts.Number <= 0 {
		return nil, fmt.Errorf("changeset: owner, repo and pull request number are required")
	}

	var (
		pr    *github.PullRequest
		files []*github.CommitFile
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		pr, _, err = client.PullRequests.Get(gctx, opts.Owner, opts.Repo, opts.Number)
		if err != nil {
			return fmt.Errorf("get pull request: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		files, err = listPRFiles(gctx, client, opts)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("changeset: %s/%s#%d: %w", opts.Owner, opts.Repo, opts.Number, err)
	}

	changed := make([]review.ChangedFile, 0, len(files))
	var diff strings.Builder
	for _, f := range files {
		changed = append(changed, review.ChangedFile{
			Path:      f.GetFilename(),
			Status:    f.GetStatus(),
			Additions: f.GetAdditions(),
			Deletions: f.GetDeletions(),
		})
		if f.GetPatch() == "" {
			continue
		}
		fmt.Fprintf(&diff, "--- a/%s\n+++ b/%s\n%s\n", f.GetFilename(), f.GetFilename(), f.GetPatch())
	}

	return &review.ReviewInput{
		Repository: fmt.Sprintf("%s/%s", opts.Owner, opts.Repo),
		BaseRef:    pr.GetBase().GetRef(),
		HeadRef:    pr.GetHead().GetRef(),
		Files:      changed,
		Diff:       capDiff(diff.String(), opts.MaxDiffBytes),
	}, nil
}

func listPRFiles(ctx context.Context, client *github.Client, opts PROptions) ([]*github.CommitFile, error) {
	var all []*github.CommitFile
	listOpts := &github.ListOptions{PerPage: 100}
	for {
		files, resp, err := client.PullRequests.ListFiles(ctx, opts.Owner, opts.Repo, opts.Number, listOpts)
		if err != nil {
			return nil, fmt.Errorf("list pull request files: %w", err)
		}
		all = append(all, files...)
		if resp.NextPage == 0 {
			return all, nil
		}
		listOpts.Page = resp.NextPage
	}
}

func newGitHubClient(ctx context.Context, token config.Secret) *github.Client {
	if !token.IsSet() {
		return github.NewClient(nil)
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return github.NewClient(oauth2.NewClient(ctx, ts))
}
