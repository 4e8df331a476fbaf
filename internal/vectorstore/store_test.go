package vectorstore

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_AddEmptyTouchesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "repo")
	s := openTestStore(t, dir, nil)

	n, err := s.Add(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "no files should be created")
}

func TestStore_SizeMismatch(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo"), nil)
	chunks, vectors := testChunks(3, "a.go")

	_, err := s.Add(context.Background(), chunks, vectors[:2])
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestStore_DimensionMismatch(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo"), nil)
	chunks, vectors := testChunks(2, "a.go")
	vectors[1] = vectors[1][:8]

	_, err := s.Add(ctx, chunks, vectors)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), `"repo"`)
	assert.Contains(t, err.Error(), "16")

	_, err = s.Search(ctx, make([]float32, 4), 3)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestStore_EmptySearch(t *testing.T) {
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo"), nil)

	res, err := s.Search(context.Background(), make([]float32, testDim), 5)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestStore_SelfRetrieval(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo"), nil)
	chunks, vectors := testChunks(6, "svc/handler.go")

	n, err := s.AddAtCommit(ctx, "abc123", chunks, vectors)
	require.NoError(t, err)
	require.Equal(t, 6, n)

	for i, v := range vectors {
		res, err := s.Search(ctx, v, 3)
		require.NoError(t, err)
		require.Len(t, res, 3)
		top := res[0]
		assert.Equal(t, i, top.FaissRow)
		assert.InDelta(t, 1.0, top.Score, 1e-4)
		assert.Equal(t, chunks[i].Content, top.Content)
		assert.Equal(t, chunks[i].StartLine, top.StartLine)
		assert.Equal(t, "abc123", top.CommitSHA)
		assert.Equal(t, ChunkTypeCode, top.ChunkType)
		assert.Equal(t, chunks[i].ContentHash+"_"+strconv.Itoa(i), top.EmbeddingID)
		for j := 1; j < len(res); j++ {
			assert.GreaterOrEqual(t, res[j-1].Score, res[j].Score)
		}
	}

	res, err := s.Search(ctx, vectors[0], 100)
	require.NoError(t, err)
	assert.Len(t, res, 6, "k is capped at the store size")
}

func TestStore_ChunkByEmbeddingID(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo"), nil)

	_, err := s.Chunk(ctx, "missing")
	require.ErrorIs(t, err, ErrChunkNotFound)

	chunks, vectors := testChunks(3, "pkg/a.go")
	_, err = s.AddAtCommit(ctx, "abc123", chunks, vectors)
	require.NoError(t, err)

	id := chunks[2].ContentHash + "_2"
	e, err := s.Chunk(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, e.EmbeddingID)
	assert.Equal(t, "pkg/a.go", e.Path)
	assert.Equal(t, chunks[2].Content, e.Content)
	assert.Equal(t, 7, e.StartLine)
	assert.Equal(t, 9, e.EndLine)
	assert.Equal(t, 2, e.FaissRow)
	assert.Equal(t, "abc123", e.CommitSHA)

	_, err = s.Chunk(ctx, chunks[2].ContentHash+"_0")
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestStore_TiesResolveByRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo"), nil)
	chunks, vectors := testChunks(4, "a.go")
	for i := range vectors {
		vectors[i] = vectors[0]
	}

	_, err := s.Add(ctx, chunks, vectors)
	require.NoError(t, err)

	res, err := s.Search(ctx, vectors[0], 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, 0, res[0].FaissRow)
	assert.Equal(t, 1, res[1].FaissRow)
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	s := openTestStore(t, dir, nil)
	chunks, vectors := testChunks(3, "a.go")
	_, err := s.Add(ctx, chunks, vectors)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	sc, err := readSidecar(dir)
	require.NoError(t, err)
	require.NotNil(t, sc)
	assert.Equal(t, testDim, sc.EmbeddingDimension)
	assert.Equal(t, "repo", sc.RepoID)
	assert.Equal(t, BackendChromem, sc.IndexBackend)

	reopened := openTestStore(t, dir, nil)
	n, err := reopened.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	more, moreVecs := testChunks(5, "b.go")
	_, err = reopened.Add(ctx, more[3:], moreVecs[3:])
	require.NoError(t, err)

	res, err := reopened.Search(ctx, moreVecs[4], 1)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 4, res[0].FaissRow)
	assert.Equal(t, "b.go", res[0].Path)
}

func TestStore_ReopenWithDifferentDimension(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	s := openTestStore(t, dir, nil)
	chunks, vectors := testChunks(1, "a.go")
	_, err := s.Add(ctx, chunks, vectors)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenStore(ctx, StoreConfig{RepoID: "repo", Dir: dir, Dimension: 32, NewIndex: chromemFactory()}, nil)
	require.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "re-ingest with a matching embedding mode")
}

func TestStore_AbortedAppendLeavesNoRows(t *testing.T) {
	ctx := context.Background()
	idx := newMemIndex()
	s := openTestStore(t, filepath.Join(t.TempDir(), "repo"), idx.factory())

	chunks, vectors := testChunks(2, "a.go")
	_, err := s.Add(ctx, chunks, vectors)
	require.NoError(t, err)

	idx.failAfter = 2
	more, moreVecs := testChunks(5, "b.go")
	_, err = s.Add(ctx, more, moreVecs)
	require.ErrorIs(t, err, errInjected)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rows, _ := idx.Count(ctx)
	assert.Equal(t, 2, rows)

	idx.failAfter = -1
	_, err = s.Add(ctx, more, moreVecs)
	require.NoError(t, err)
	res, err := s.Search(ctx, moreVecs[0], 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res[0].FaissRow)
}

func TestStore_ReopenTruncatesOrphans(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	s := openTestStore(t, dir, nil)
	chunks, vectors := testChunks(3, "a.go")
	_, err := s.Add(ctx, chunks, vectors)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	// Simulate a crash between index append and catalog commit.
	idx, err := NewChromemIndex(filepath.Join(dir, "index"), false, zap.NewNop())
	require.NoError(t, err)
	_, orphanVecs := testChunks(5, "orphan.go")
	require.NoError(t, idx.Append(ctx, 3, normalizeAll(orphanVecs[3:])))
	count, _ := idx.Count(ctx)
	require.Equal(t, 5, count)

	reopened := openTestStore(t, dir, nil)
	idx2, err := NewChromemIndex(filepath.Join(dir, "index"), false, zap.NewNop())
	require.NoError(t, err)
	count, _ = idx2.Count(ctx)
	assert.Equal(t, 3, count)

	res, err := reopened.Search(ctx, orphanVecs[4], 5)
	require.NoError(t, err)
	assert.Len(t, res, 3)
	for _, r := range res {
		assert.Equal(t, "a.go", r.Path)
	}
}

func TestStore_MissingIndexRowsIsCorrupt(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")

	s := openTestStore(t, dir, nil)
	chunks, vectors := testChunks(3, "a.go")
	_, err := s.Add(ctx, chunks, vectors)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "index")))

	_, err = OpenStore(ctx, StoreConfig{RepoID: "repo", Dir: dir, Dimension: testDim, NewIndex: chromemFactory()}, nil)
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestStore_Stats(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orig := timeNow
	timeNow = func() time.Time { return created }
	t.Cleanup(func() { timeNow = orig })

	s := openTestStore(t, filepath.Join(t.TempDir(), "repo"), nil)
	goChunks, goVecs := testChunks(3, "main.go")
	pyChunks, pyVecs := testChunks(2, "app.py")
	_, err := s.Add(ctx, append(goChunks, pyChunks...), append(goVecs, pyVecs...))
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, "repo", st.RepoID)
	assert.Equal(t, 5, st.TotalChunks)
	assert.Equal(t, 2, st.UniqueFiles)
	assert.Equal(t, map[string]int{"go": 3, "python": 2}, st.Languages)
	assert.Equal(t, testDim, st.Dimension)
	assert.Equal(t, created, st.CreatedAt)
	assert.Positive(t, st.OnDiskSize)
}

func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "repo")
	s := openTestStore(t, dir, nil)

	chunks, vectors := testChunks(2, "a.go")
	_, err := s.Add(ctx, chunks, vectors)
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestValidateRepoID(t *testing.T) {
	valid := []string{"repo", "my-repo", "org.repo_v2", "A1"}
	invalid := []string{"", ".", "..", "../etc", "a/b", "-lead", ".hidden", "white space"}
	for _, id := range valid {
		assert.NoError(t, ValidateRepoID(id), id)
	}
	for _, id := range invalid {
		assert.ErrorIs(t, ValidateRepoID(id), ErrInvalidRepoID, id)
	}
}

func TestNormalize(t *testing.T) {
	v := normalize([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.Equal(t, []float32{0, 0}, normalize([]float32{0, 0}))
}

func normalizeAll(vs [][]float32) [][]float32 {
	out := make([][]float32, len(vs))
	for i, v := range vs {
		out[i] = normalize(v)
	}
	return out
}
