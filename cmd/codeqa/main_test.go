package main

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCLI(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("STORAGE_INDEX_DIR", filepath.Join(home, "indexes"))
	t.Setenv("STORAGE_REPOS_DIR", filepath.Join(home, "repos"))
	t.Setenv("EMBEDDINGS_MODE", "deterministic")
	t.Setenv("EMBEDDINGS_DETERMINISTIC_DIMENSION", "32")
	t.Setenv("ANSWER_MODE", "mock")
	t.Setenv("CHUNKING_TOKENIZER", "chars")
	t.Setenv("LOGGING_LEVEL", "error")
	return home
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeSource(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "server"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "server", "routes.go"), []byte(`package server

// registerRoutes wires every endpoint.
func registerRoutes(mux *Mux) {
	mux.Handle("/login", loginHandler)
	mux.Handle("/users", usersHandler)
}
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("# demo\n"), 0644))
	return dir
}

func TestVersionCmd(t *testing.T) {
	out, err := run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Version:")
	assert.Contains(t, out, version)
}

func TestInitCmd(t *testing.T) {
	home := setupCLI(t)
	path := filepath.Join(home, ".config", "codeqa", "config.yaml")

	out, err := run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	out, err = run(t, "init")
	require.NoError(t, err)
	assert.Contains(t, out, "already exists")

	// The written template must load cleanly.
	_, err = run(t, "repos")
	require.NoError(t, err)
}

func TestIngestQueryDeleteFlow(t *testing.T) {
	setupCLI(t)
	src := writeSource(t)

	out, err := run(t, "ingest", src, "--repo-id", "demo", "--json")
	require.NoError(t, err)
	var ingested map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &ingested))
	assert.Equal(t, "demo", ingested["repo_id"])
	assert.EqualValues(t, 1, ingested["files_processed"])
	assert.Greater(t, ingested["chunks_stored"].(float64), float64(0))

	out, err = run(t, "repos")
	require.NoError(t, err)
	assert.Equal(t, "demo\n", out)

	out, err = run(t, "query", "Which", "route", "serves", "users?", "--repo", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "Routing")
	assert.Contains(t, out, "demo/server/routes.go:")
	assert.Contains(t, out, "mock mode")

	out, err = run(t, "query", "where are routes registered", "-r", "demo", "--json")
	require.NoError(t, err)
	var resp map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.NotEmpty(t, resp["request_id"])
	assert.NotEmpty(t, resp["citations"])

	out, err = run(t, "search", "registerRoutes", "-r", "demo", "-k", "1")
	require.NoError(t, err)
	assert.Contains(t, out, " 1. demo/server/routes.go:")

	out, err = run(t, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "Repositories: 1")
	assert.Contains(t, out, "deterministic")
	assert.Contains(t, out, "go:")

	out, err = run(t, "delete", "demo")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted demo")
	assert.FileExists(t, filepath.Join(src, "server", "routes.go"))

	out, err = run(t, "repos")
	require.NoError(t, err)
	assert.Contains(t, out, "No repositories indexed.")
}

func TestIngestArchive(t *testing.T) {
	home := setupCLI(t)

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	content := []byte("package billing\n\nfunc Charge(amount int) error { return nil }\n")
	require.NoError(t, tw.WriteHeader(&tar.Header{Name: "billing-1.0/charge.go", Typeflag: tar.TypeReg, Mode: 0o644, Size: int64(len(content))}))
	_, err := tw.Write(content)
	require.NoError(t, err)
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	archive := filepath.Join(t.TempDir(), "billing-1.0.tar.gz")
	require.NoError(t, os.WriteFile(archive, buf.Bytes(), 0o644))

	out, err := run(t, "ingest", archive)
	require.NoError(t, err)
	assert.Contains(t, out, "Ingested billing-1.0")
	assert.Contains(t, out, "files processed: 1")
	extracted := filepath.Join(home, "repos", "billing-1.0", "charge.go")
	assert.FileExists(t, extracted)

	out, err = run(t, "search", "Charge", "-r", "billing-1.0", "-k", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "billing-1.0/charge.go:")

	_, err = run(t, "delete", "billing-1.0")
	require.NoError(t, err)
	assert.NoFileExists(t, extracted)
	assert.FileExists(t, archive)
}

func TestQueryCmd_NotIndexed(t *testing.T) {
	setupCLI(t)
	out, err := run(t, "query", "anything", "--repo", "missing")
	require.NoError(t, err)
	assert.Contains(t, out, "missing")
}

func TestQueryCmd_Validation(t *testing.T) {
	setupCLI(t)

	_, err := run(t, "query", "question")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "repo")

	_, err = run(t, "query", "question", "-r", "demo", "-k", "21")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "between 1 and 20")

	_, err = run(t, "search", "text", "-r", "demo", "-k", "-1")
	require.Error(t, err)
}

func TestDeleteCmd_Unknown(t *testing.T) {
	setupCLI(t)
	_, err := run(t, "delete", "nope")
	require.Error(t, err)
}

func TestIngestCmd_MissingSource(t *testing.T) {
	setupCLI(t)
	_, err := run(t, "ingest", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "2.0 MiB", humanBytes(2<<20))

	assert.Equal(t, "-", languageSummary(nil))
	assert.Equal(t, "go:3, python:3, md:1", languageSummary(map[string]int{"md": 1, "python": 3, "go": 3}))
	assert.Equal(t, "a:4, b:3, c:2, +1", languageSummary(map[string]int{"a": 4, "b": 3, "c": 2, "d": 1}))
}
