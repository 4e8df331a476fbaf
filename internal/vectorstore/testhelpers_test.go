package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/fyrsmithlabs/codeqa/internal/chunker"
	"github.com/fyrsmithlabs/codeqa/internal/embeddings"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testDim = 16

func testChunks(n int, path string) ([]chunker.Chunk, [][]float32) {
	chunks := make([]chunker.Chunk, n)
	vectors := make([][]float32, n)
	for i := range chunks {
		content := fmt.Sprintf("// %s\nfunc f%d() int { return %d }", path, i, i)
		chunks[i] = chunker.Chunk{
			Path:        path,
			Content:     content,
			StartLine:   i*3 + 1,
			EndLine:     i*3 + 3,
			Language:    chunker.Language(path),
			ContentHash: chunker.ContentHash(content),
		}
		vectors[i] = embeddings.HashVector(content, testDim)
	}
	return chunks, vectors
}

func chromemFactory() IndexFactory {
	return NewIndexFactory(IndexConfig{Backend: BackendChromem}, zap.NewNop())
}

func openTestStore(t *testing.T, dir string, factory IndexFactory) *Store {
	t.Helper()
	if factory == nil {
		factory = chromemFactory()
	}
	s, err := OpenStore(context.Background(), StoreConfig{
		RepoID:    "repo",
		Dir:       dir,
		Dimension: testDim,
		NewIndex:  factory,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// memIndex is an in-memory Index with failure injection.
type memIndex struct {
	mu   sync.Mutex
	rows map[int][]float32

	// failAfter makes Append fail after writing this many rows (-1 disables).
	failAfter int
}

var errInjected = errors.New("injected failure")

func newMemIndex() *memIndex {
	return &memIndex{rows: map[int][]float32{}, failAfter: -1}
}

func (m *memIndex) factory() IndexFactory {
	return func(context.Context, string, string, string, int) (Index, error) { return m, nil }
}

func (m *memIndex) Append(_ context.Context, first int, vectors [][]float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range vectors {
		if m.failAfter >= 0 && i >= m.failAfter {
			return errInjected
		}
		m.rows[first+i] = v
	}
	return nil
}

func (m *memIndex) Search(_ context.Context, query []float32, k int) ([]Hit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hits := make([]Hit, 0, len(m.rows))
	for row, v := range m.rows {
		var dot float32
		for i := range v {
			dot += v[i] * query[i]
		}
		hits = append(hits, Hit{Row: row, Score: dot})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

func (m *memIndex) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows), nil
}

func (m *memIndex) DeleteRows(_ context.Context, rows []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		delete(m.rows, r)
	}
	return nil
}

func (m *memIndex) Drop(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows = map[int][]float32{}
	return nil
}

func (m *memIndex) Close() error { return nil }
