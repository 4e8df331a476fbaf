package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/fyrsmithlabs/codeqa/internal/chunker"
	"go.uber.org/zap"
)

// timeNow is a variable for testing purposes (allows mocking time).
var timeNow = time.Now

const catalogName = "catalog.db"

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateRepoID reports whether id is safe to use as a directory name.
func ValidateRepoID(id string) error {
	if !repoIDPattern.MatchString(id) || id == "." || id == ".." {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidRepoID, id, repoIDPattern.String())
	}
	return nil
}

// StoreConfig configures a single repository Store.
type StoreConfig struct {
	RepoID string

	// Dir is the repository directory, usually <index_dir>/<repo_id>.
	Dir string

	// Dimension is the active embedder's dimension.
	Dimension int

	// Backend names the index backend recorded for new repositories.
	Backend string

	// NewIndex opens the index for this repository.
	NewIndex IndexFactory
}

// Store is the vector index and catalog of one repository.
//
// Thread-safe. Adds are serialized; searches run concurrently.
type Store struct {
	mu sync.RWMutex

	repoID    string
	dir       string
	dimension int
	backend   string
	newIndex  IndexFactory

	sidecar *Sidecar
	catalog *Catalog
	index   Index
	closed  bool

	logger *zap.Logger
}

// OpenStore opens a repository store, reconciling the index against the
// catalog when persisted data exists. A repository with no sidecar opens
// empty and creates nothing on disk until the first non-empty Add.
func OpenStore(ctx context.Context, cfg StoreConfig, logger *zap.Logger) (*Store, error) {
	if err := ValidateRepoID(cfg.RepoID); err != nil {
		return nil, err
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if cfg.NewIndex == nil {
		return nil, fmt.Errorf("%w: index factory is required", ErrInvalidConfig)
	}
	if cfg.Backend == "" {
		cfg.Backend = BackendChromem
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		repoID:    cfg.RepoID,
		dir:       cfg.Dir,
		dimension: cfg.Dimension,
		backend:   cfg.Backend,
		newIndex:  cfg.NewIndex,
		logger:    logger.With(zap.String("repo_id", cfg.RepoID)),
	}

	sc, err := readSidecar(cfg.Dir)
	if err != nil {
		return nil, err
	}
	if sc == nil {
		return s, nil
	}
	if sc.EmbeddingDimension != cfg.Dimension {
		return nil, fmt.Errorf("%w: repository %q was indexed with dimension %d but the active embedder produces %d; re-ingest with a matching embedding mode",
			ErrDimensionMismatch, cfg.RepoID, sc.EmbeddingDimension, cfg.Dimension)
	}
	if sc.IndexBackend != "" && sc.IndexBackend != cfg.Backend {
		s.logger.Info("using index backend recorded for repository",
			zap.String("recorded", sc.IndexBackend),
			zap.String("configured", cfg.Backend))
		s.backend = sc.IndexBackend
	}
	s.sidecar = sc

	if err := s.openArtifacts(ctx); err != nil {
		return nil, err
	}
	if err := s.reconcile(ctx); err != nil {
		s.closeArtifacts()
		return nil, err
	}
	return s, nil
}

// RepoID returns the repository id.
func (s *Store) RepoID() string { return s.repoID }

// Dimension returns the established dimension, or the active embedder's
// dimension when nothing has been persisted.
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.establishedDimension()
}

func (s *Store) establishedDimension() int {
	if s.sidecar != nil {
		return s.sidecar.EmbeddingDimension
	}
	return s.dimension
}

func (s *Store) openArtifacts(ctx context.Context) error {
	catalog, err := OpenCatalog(filepath.Join(s.dir, catalogName))
	if err != nil {
		return err
	}
	index, err := s.newIndex(ctx, s.backend, s.repoID, s.dir, s.establishedDimension())
	if err != nil {
		_ = catalog.Close()
		return fmt.Errorf("opening %s index: %w", s.backend, err)
	}
	s.catalog, s.index = catalog, index
	return nil
}

func (s *Store) closeArtifacts() {
	if s.index != nil {
		_ = s.index.Close()
		s.index = nil
	}
	if s.catalog != nil {
		_ = s.catalog.Close()
		s.catalog = nil
	}
}

// reconcile removes index rows with no committed catalog entry.
func (s *Store) reconcile(ctx context.Context) error {
	committed, err := s.catalog.Count(ctx)
	if err != nil {
		return err
	}
	indexed, err := s.index.Count(ctx)
	if err != nil {
		return err
	}
	if indexed < committed {
		return fmt.Errorf("%w: repository %q has %d catalog entries but %d index rows; re-ingest the repository",
			ErrCorruptIndex, s.repoID, committed, indexed)
	}

	// Orphans sit at rows >= committed but may not be contiguous after a
	// partial append, so widen the window until the counts agree.
	lo, width := committed, indexed-committed
	for attempt := 0; indexed > committed && attempt < 8; attempt++ {
		if err := s.index.DeleteRows(ctx, rowRange(lo, width)); err != nil {
			return fmt.Errorf("truncating orphan rows: %w", err)
		}
		s.logger.Warn("truncated uncommitted index rows",
			zap.Int("from_row", lo),
			zap.Int("count", width))
		OrphansTruncated.Add(float64(width))
		lo += width
		width *= 2
		if indexed, err = s.index.Count(ctx); err != nil {
			return err
		}
	}
	if indexed != committed {
		return fmt.Errorf("%w: repository %q has %d index rows after reconciliation, expected %d",
			ErrCorruptIndex, s.repoID, indexed, committed)
	}

	ChunksTotal.WithLabelValues(s.repoID).Set(float64(committed))
	return nil
}

// ensureCreated establishes the sidecar and opens artifacts on first write.
func (s *Store) ensureCreated(ctx context.Context) error {
	if s.catalog != nil {
		return nil
	}
	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating repository directory: %w", err)
	}
	if s.sidecar == nil {
		sc := Sidecar{
			EmbeddingDimension: s.dimension,
			RepoID:             s.repoID,
			CreatedAt:          timeNow().UTC(),
			IndexBackend:       s.backend,
		}
		if err := writeSidecar(s.dir, sc); err != nil {
			return err
		}
		s.sidecar = &sc
	}
	if err := s.openArtifacts(ctx); err != nil {
		return err
	}
	return s.reconcile(ctx)
}

// Add appends chunks and their vectors. See AddAtCommit.
func (s *Store) Add(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) (int, error) {
	return s.AddAtCommit(ctx, "", chunks, vectors)
}

// AddAtCommit appends chunks and their vectors, recording commitSHA in the
// catalog. The add is all-or-nothing: the catalog commit is the commit point
// and index rows written before a failure are removed.
func (s *Store) AddAtCommit(ctx context.Context, commitSHA string, chunks []chunker.Chunk, vectors [][]float32) (int, error) {
	if len(chunks) != len(vectors) {
		return 0, fmt.Errorf("%w: %d chunks, %d vectors", ErrSizeMismatch, len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	want := s.establishedDimension()
	for _, v := range vectors {
		if len(v) != want {
			return 0, fmt.Errorf("%w: repository %q expects dimension %d, got %d",
				ErrDimensionMismatch, s.repoID, want, len(v))
		}
	}

	n, err := s.add(ctx, commitSHA, chunks, vectors)
	RecordAddResult(err == nil)
	return n, err
}

func (s *Store) add(ctx context.Context, commitSHA string, chunks []chunker.Chunk, vectors [][]float32) (int, error) {
	if err := s.ensureCreated(ctx); err != nil {
		return 0, err
	}

	before, err := s.catalog.Count(ctx)
	if err != nil {
		return 0, err
	}

	now := timeNow().UTC()
	entries := make([]CatalogEntry, len(chunks))
	normalized := make([][]float32, len(vectors))
	for i, c := range chunks {
		row := before + i
		entries[i] = CatalogEntry{
			EmbeddingID: c.ContentHash + "_" + strconv.Itoa(row),
			RepoID:      s.repoID,
			CommitSHA:   commitSHA,
			Path:        c.Path,
			Language:    c.Language,
			StartLine:   c.StartLine,
			EndLine:     c.EndLine,
			ContentHash: c.ContentHash,
			ChunkType:   ChunkTypeCode,
			FaissRow:    row,
			Content:     c.Content,
			CreatedAt:   now,
		}
		normalized[i] = normalize(vectors[i])
	}

	tx, err := s.catalog.Begin(ctx)
	if err != nil {
		return 0, err
	}
	if err := tx.Insert(ctx, entries); err != nil {
		tx.Rollback()
		return 0, err
	}

	rows := rowRange(before, len(vectors))
	if err := s.index.Append(ctx, before, normalized); err != nil {
		tx.Rollback()
		s.discardRows(rows)
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		s.discardRows(rows)
		return 0, err
	}

	ChunksTotal.WithLabelValues(s.repoID).Set(float64(before + len(chunks)))
	s.logger.Debug("added chunks",
		zap.Int("count", len(chunks)),
		zap.Int("first_row", before))
	return len(chunks), nil
}

// discardRows removes rows written by a failed add. A failure here leaves
// orphans that the next Open truncates.
func (s *Store) discardRows(rows []int) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.index.DeleteRows(ctx, rows); err != nil {
		s.logger.Error("failed to remove index rows after aborted add", zap.Int("rows", len(rows)), zap.Error(err))
	}
}

// Count returns the number of committed chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.catalog == nil {
		return 0, nil
	}
	return s.catalog.Count(ctx)
}

// Search returns the top min(k, size) entries by cosine similarity, ordered
// by score descending then row ascending. An empty store returns no results.
func (s *Store) Search(ctx context.Context, query []float32, k int) ([]SearchResult, error) {
	start := time.Now()
	defer func() { SearchDuration.Observe(time.Since(start).Seconds()) }()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if want := s.establishedDimension(); len(query) != want {
		return nil, fmt.Errorf("%w: repository %q expects dimension %d, got query of %d",
			ErrDimensionMismatch, s.repoID, want, len(query))
	}
	if s.index == nil || k <= 0 {
		return []SearchResult{}, nil
	}

	hits, err := s.index.Search(ctx, normalize(query), k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	rows := make([]int, len(hits))
	for i, h := range hits {
		rows[i] = h.Row
	}
	entries, err := s.catalog.ByRows(ctx, rows)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		e, ok := entries[h.Row]
		if !ok {
			continue
		}
		results = append(results, SearchResult{CatalogEntry: e, Score: h.Score})
	}
	return results, nil
}

// Chunk returns the committed chunk with the given embedding id.
func (s *Store) Chunk(ctx context.Context, embeddingID string) (CatalogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return CatalogEntry{}, ErrClosed
	}
	if s.catalog == nil {
		return CatalogEntry{}, fmt.Errorf("%w: %s", ErrChunkNotFound, embeddingID)
	}
	return s.catalog.ByEmbeddingID(ctx, embeddingID)
}

// Stats summarizes the store.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		RepoID:    s.repoID,
		Languages: map[string]int{},
		Dimension: s.establishedDimension(),
		Backend:   s.backend,
	}
	if s.sidecar != nil {
		st.CreatedAt = s.sidecar.CreatedAt
	}
	if s.catalog != nil {
		total, files, langs, err := s.catalog.Summary(ctx)
		if err != nil {
			return Stats{}, err
		}
		st.TotalChunks, st.UniqueFiles, st.Languages = total, files, langs
	}
	st.OnDiskSize = dirSize(s.dir)
	return st, nil
}

// Delete removes the repository: catalog first (the commit point), then the
// index, the sidecar and the directory. The store is empty afterwards.
func (s *Store) Delete(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.catalog != nil {
		_ = s.catalog.Close()
		s.catalog = nil
	}
	for _, suffix := range []string{"", "-wal", "-shm"} {
		if err := os.Remove(filepath.Join(s.dir, catalogName+suffix)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("removing catalog: %w", err)
		}
	}

	if s.index == nil && s.sidecar != nil {
		// Opened empty after a crash mid-delete; the index may still exist.
		if index, err := s.newIndex(ctx, s.backend, s.repoID, s.dir, s.sidecar.EmbeddingDimension); err == nil {
			s.index = index
		}
	}
	if s.index != nil {
		if err := s.index.Drop(ctx); err != nil {
			return err
		}
		_ = s.index.Close()
		s.index = nil
	}

	if err := os.Remove(filepath.Join(s.dir, sidecarName)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing sidecar: %w", err)
	}
	s.sidecar = nil

	if err := os.RemoveAll(s.dir); err != nil {
		return fmt.Errorf("removing repository directory: %w", err)
	}

	ChunksTotal.DeleteLabelValues(s.repoID)
	s.logger.Info("deleted repository index")
	return nil
}

// Close releases the catalog and index.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeArtifacts()
	s.closed = true
	return nil
}

// normalize returns an L2-normalized copy of v. A zero vector is returned as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func rowRange(first, n int) []int {
	rows := make([]int, n)
	for i := range rows {
		rows[i] = first + i
	}
	return rows
}

func dirSize(dir string) int64 {
	var size int64
	_ = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
