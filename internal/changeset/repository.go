package changeset

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/diff"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/fyrsmithlabs/reviewd/internal/review"
)

// DefaultMaxDiffBytes caps the unified diff carried in a ReviewInput.
// Anything beyond the cap is truncated with a marker so downstream
// phases know the diff is partial.
const DefaultMaxDiffBytes = 1 << 20

// RepoOptions selects the commit range to review in a local repository.
type RepoOptions struct {
	// Path is the repository root on disk.
	Path string
	// BaseRef is the revision the change is compared against.
	// Defaults to HEAD~1.
	BaseRef string
	// HeadRef is the revision under review. Defaults to HEAD.
	HeadRef string
	// MaxDiffBytes caps the diff text. Zero means DefaultMaxDiffBytes.
	MaxDiffBytes int
}

// FromRepository builds a ReviewInput from a local git repository by
// diffing base..head. Both revisions accept anything git rev-parse
// accepts (branch names, tags, HEAD~n, hashes).
func FromRepository(ctx context.Context, opts RepoOptions) (*review.ReviewInput, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("changeset: repository path is required")
	}
	base := opts.BaseRef
	if base == "" {
		base = "HEAD~1"
	}
	head := opts.HeadRef
	if head == "" {
		head = "HEAD"
	}

	repo, err := git.PlainOpen(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("changeset: open repository %s: %w", opts.Path, err)
	}

	baseCommit, err := resolveCommit(repo, base)
	if err != nil {
		return nil, fmt.Errorf("changeset: resolve base %q: %w", base, err)
	}
	headCommit, err := resolveCommit(repo, head)
	if err != nil {
		return nil, fmt.Errorf("changeset: resolve head %q: %w", head, err)
	}

	patch, err := baseCommit.PatchContext(ctx, headCommit)
	if err != nil {
		return nil, fmt.Errorf("changeset: diff %s..%s: %w", base, head, err)
	}

	files := make([]review.ChangedFile, 0, len(patch.FilePatches()))
	for _, fp := range patch.FilePatches() {
		files = append(files, fileFromPatch(fp))
	}

	return &review.ReviewInput{
		Repository: opts.Path,
		BaseRef:    base,
		HeadRef:    head,
		Files:      files,
		Diff:       capDiff(patch.String(), opts.MaxDiffBytes),
	}, nil
}

func resolveCommit(repo *git.Repository, rev string) (*object.Commit, error) {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return nil, err
	}
	return repo.CommitObject(*hash)
}

func fileFromPatch(fp diff.FilePatch) review.ChangedFile {
	from, to := fp.Files()

	cf := review.ChangedFile{Status: "modified"}
	switch {
	case from == nil && to != nil:
		cf.Status = "added"
		cf.Path = to.Path()
	case from != nil && to == nil:
		cf.Status = "deleted"
		cf.Path = from.Path()
	default:
		cf.Path = to.Path()
		if from.Path() != to.Path() {
			cf.Status = "renamed"
		}
	}

	for _, chunk := range fp.Chunks() {
		lines := strings.Count(chunk.Content(), "\n")
		if !strings.HasSuffix(chunk.Content(), "\n") && chunk.Content() != "" {
			lines++
		}
		switch chunk.Type() {
		case diff.Add:
			cf.Additions += lines
		case diff.Delete:
			cf.Deletions += lines
		}
	}
	return cf
}

func capDiff(text string, max int) string {
	if max <= 0 {
		max = DefaultMaxDiffBytes
	}
	if len(text) <= max {
		return text
	}
	return text[:max] + "\n... diff truncated ...\n"
}
