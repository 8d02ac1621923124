package gitsource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newOrigin creates a repository with one committed deck file.
func newOrigin(t *testing.T) (string, *git.Repository) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	commitFile(t, repo, dir, "colors.csv", "text,english\naka,red\n")
	return dir, repo
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add(name)
	require.NoError(t, err)
	_, err = wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
}

func TestSyncClonesThenPulls(t *testing.T) {
	origin, repo := newOrigin(t)
	local := filepath.Join(t.TempDir(), "clone")
	ctx := context.Background()

	require.NoError(t, Sync(ctx, nil, origin, local))
	_, err := os.Stat(filepath.Join(local, "colors.csv"))
	require.NoError(t, err)

	commitFile(t, repo, origin, "numbers.csv", "text,english\nichi,one\n")
	require.NoError(t, Sync(ctx, nil, origin, local))
	_, err = os.Stat(filepath.Join(local, "numbers.csv"))
	assert.NoError(t, err)

	// Nothing new upstream is not an error.
	assert.NoError(t, Sync(ctx, nil, origin, local))
}

func TestSyncBadURL(t *testing.T) {
	local := filepath.Join(t.TempDir(), "clone")
	err := Sync(context.Background(), nil, filepath.Join(t.TempDir(), "missing"), local)
	assert.Error(t, err)
}
