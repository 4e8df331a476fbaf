package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

// initRepo creates a git repository with one commit and returns its hash.
func initRepo(t *testing.T, dir string) string {
	t.Helper()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte("package main\n"), 0644))
	wt, err := repo.Worktree()
	require.NoError(t, err)
	_, err = wt.Add("main.go")
	require.NoError(t, err)
	hash, err := wt.Commit("initial", &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Unix(1700000000, 0)},
	})
	require.NoError(t, err)

	_, err = repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{"https://github.com/acme/app.git"}})
	require.NoError(t, err)
	return hash.String()
}

func TestOpen_GitRepository(t *testing.T) {
	dir := t.TempDir()
	hash := initRepo(t, dir)

	co, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, hash, co.Revision)
	assert.NotEmpty(t, co.Branch)
	assert.Equal(t, "https://github.com/acme/app.git", co.Remote)
	assert.True(t, filepath.IsAbs(co.Root))
}

func TestOpen_WithoutHistory(t *testing.T) {
	plain := t.TempDir()
	co, err := Open(plain)
	require.NoError(t, err)
	assert.Empty(t, co.Revision)
	assert.Empty(t, co.Branch)

	empty := t.TempDir()
	_, err = git.PlainInit(empty, false)
	require.NoError(t, err)
	co, err = Open(empty)
	require.NoError(t, err)
	assert.Empty(t, co.Revision)
}

func TestOpen_InvalidPaths(t *testing.T) {
	_, err := Open("")
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = Open(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrInvalidSource)

	file := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
	_, err = Open(file)
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, IsRemote("https://github.com/a/b"))
	assert.True(t, IsRemote("git@github.com:a/b.git"))
	assert.True(t, IsRemote("file:///srv/git/b"))
	assert.False(t, IsRemote("/home/me/src/b"))
	assert.False(t, IsRemote("./b"))
}

func TestDeriveRepoID(t *testing.T) {
	tests := []struct {
		source string
		want   string
	}{
		{"https://github.com/alakhanpal23/CodeBase-QA-Agent.git", "alakhanpal23-CodeBase-QA-Agent"},
		{"https://github.com/acme/app/", "acme-app"},
		{"git@github.com:acme/app.git", "acme-app"},
		{"/home/me/src/my project", "my-project"},
		{"./service", "service"},
		{"/tmp/uploads/api-main.zip", "api-main"},
		{"release.TAR.GZ", "release"},
	}
	for _, tt := range tests {
		t.Run(tt.source, func(t *testing.T) {
			got := DeriveRepoID(tt.source)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, vectorstore.ValidateRepoID(got))
		})
	}
}

func TestAcquire_LocalDirectory(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()
	hash := initRepo(t, src)
	reposDir := t.TempDir()

	co, err := Acquire(ctx, src, reposDir, "app", "")
	require.NoError(t, err)
	assert.Equal(t, "app", co.RepoID)
	assert.Equal(t, filepath.Join(reposDir, "app"), co.Root)
	assert.Equal(t, hash, co.Revision)

	data, err := os.ReadFile(filepath.Join(co.Root, "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(data))

	again, err := Acquire(ctx, src, reposDir, "app", "")
	require.NoError(t, err)
	assert.Equal(t, co, again)

	_, err = Acquire(ctx, t.TempDir(), reposDir, "app", "")
	assert.ErrorIs(t, err, ErrDestinationExists)
}

func TestAcquire_InPlace(t *testing.T) {
	reposDir := t.TempDir()
	dest := filepath.Join(reposDir, "inplace")
	require.NoError(t, os.MkdirAll(dest, 0755))

	co, err := Acquire(context.Background(), dest, reposDir, "inplace", "")
	require.NoError(t, err)
	assert.Equal(t, dest, co.Root)
	assert.Empty(t, co.Revision)
}

func TestAcquire_Errors(t *testing.T) {
	ctx := context.Background()
	_, err := Acquire(ctx, "", t.TempDir(), "x", "")
	assert.ErrorIs(t, err, ErrInvalidSource)

	_, err = Acquire(ctx, t.TempDir(), t.TempDir(), "../x", "")
	assert.ErrorIs(t, err, vectorstore.ErrInvalidRepoID)
}

func TestClone_DestinationExists(t *testing.T) {
	dest := t.TempDir()
	_, err := Clone(context.Background(), "https://github.com/acme/app.git", dest, "")
	assert.ErrorIs(t, err, ErrDestinationExists)

	_, err = Clone(context.Background(), "", filepath.Join(dest, "x"), "")
	assert.ErrorIs(t, err, ErrInvalidSource)
}

func TestClone_Remote(t *testing.T) {
	url := os.Getenv("CODEQA_TEST_CLONE_URL")
	if testing.Short() || url == "" {
		t.Skip("set CODEQA_TEST_CLONE_URL to run clone tests")
	}
	dest := filepath.Join(t.TempDir(), "clone")
	co, err := Clone(context.Background(), url, dest, "")
	require.NoError(t, err)
	assert.Len(t, co.Revision, 40)
	assert.Equal(t, url, co.Remote)
}
