package changeset

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

func commitFiles(t *testing.T, repo *git.Repository, dir, msg string, files map[string]string) {
	t.Helper()

	wt, err := repo.Worktree()
	require.NoError(t, err)

	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		_, err = wt.Add(name)
		require.NoError(t, err)
	}

	_, err = wt.Commit(msg, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func removeFile(t *testing.T, repo *git.Repository, dir, name string) {
	t.Helper()

	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Remove(name)
	require.NoError(t, err)
	_, err = wt.Commit("remove "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestFromRepository_DiffsBaseToHead(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	commitFiles(t, repo, dir, "initial", map[string]string{
		"main.go": "package main\n\nfunc main() {}\n",
	})
	commitFiles(t, repo, dir, "add handler", map[string]string{
		"main.go":    "package main\n\nfunc main() { run() }\n",
		"handler.go": "package main\n\nfunc run() {}\n",
	})

	input, err := FromRepository(context.Background(), RepoOptions{Path: dir})
	require.NoError(t, err)

	require.Equal(t, dir, input.Repository)
	require.Equal(t, "HEAD~1", input.BaseRef)
	require.Equal(t, "HEAD", input.HeadRef)
	require.Len(t, input.Files, 2)

	byPath := map[string]string{}
	for _, f := range input.Files {
		byPath[f.Path] = f.Status
	}
	require.Equal(t, "added", byPath["handler.go"])
	require.Equal(t, "modified", byPath["main.go"])

	require.Contains(t, input.Diff, "func run() {}")
	require.Contains(t, input.Diff, "+func main() { run() }")
}

func TestFromRepository_DeletedFile(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	commitFiles(t, repo, dir, "initial", map[string]string{
		"keep.go": "package main\n",
		"drop.go": "package main\n\nvar unused = 1\n",
	})
	removeFile(t, repo, dir, "drop.go")

	input, err := FromRepository(context.Background(), RepoOptions{Path: dir})
	require.NoError(t, err)
	require.Len(t, input.Files, 1)
	require.Equal(t, "drop.go", input.Files[0].Path)
	require.Equal(t, "deleted", input.Files[0].Status)
	require.Equal(t, 0, input.Files[0].Additions)
	require.NotZero(t, input.Files[0].Deletions)
}

func TestFromRepository_TruncatesDiff(t *testing.T) {
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	commitFiles(t, repo, dir, "initial", map[string]string{"a.txt": "one\n"})
	commitFiles(t, repo, dir, "grow", map[string]string{"a.txt": strings.Repeat("line\n", 200)})

	input, err := FromRepository(context.Background(), RepoOptions{Path: dir, MaxDiffBytes: 64})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(input.Diff, "... diff truncated ...\n"))
	require.LessOrEqual(t, len(input.Diff), 64+len("\n... diff truncated ...\n"))
}

func TestFromRepository_Errors(t *testing.T) {
	_, err := FromRepository(context.Background(), RepoOptions{})
	require.ErrorContains(t, err, "path is required")

	_, err = FromRepository(context.Background(), RepoOptions{Path: t.TempDir()})
	require.ErrorContains(t, err, "open repository")

	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFiles(t, repo, dir, "initial", map[string]string{"a.txt": "one\n"})

	_, err = FromRepository(context.Background(), RepoOptions{Path: dir, BaseRef: "no-such-branch"})
	require.ErrorContains(t, err, `resolve base "no-such-branch"`)
}
