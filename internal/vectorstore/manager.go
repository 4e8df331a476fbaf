package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// IndexDir holds one directory per repository.
	IndexDir string

	// Dimension is the active embedder's dimension.
	Dimension int

	Index IndexConfig

	// NewIndex overrides the index factory built from Index.
	NewIndex IndexFactory
}

// Manager is the registry of repository stores. Stores are opened lazily
// and kept until Delete or Close.
type Manager struct {
	cfg      ManagerConfig
	newIndex IndexFactory
	logger   *zap.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

// NewManager creates the index directory and returns a Manager.
func NewManager(cfg ManagerConfig, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.IndexDir == "" {
		return nil, fmt.Errorf("%w: index dir is required", ErrInvalidConfig)
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if err := cfg.Index.Validate(); err != nil {
		return nil, err
	}
	if cfg.Index.Backend == "" {
		cfg.Index.Backend = BackendChromem
	}
	if err := os.MkdirAll(cfg.IndexDir, 0755); err != nil {
		return nil, fmt.Errorf("creating index dir %s: %w", cfg.IndexDir, err)
	}

	newIndex := cfg.NewIndex
	if newIndex == nil {
		newIndex = NewIndexFactory(cfg.Index, logger)
	}

	logger.Info("vector store manager initialized",
		zap.String("index_dir", cfg.IndexDir),
		zap.String("backend", cfg.Index.Backend),
		zap.Int("dimension", cfg.Dimension))

	return &Manager{
		cfg:      cfg,
		newIndex: newIndex,
		logger:   logger,
		stores:   make(map[string]*Store),
	}, nil
}

// Dimension returns the dimension new repositories are created with.
func (m *Manager) Dimension() int { return m.cfg.Dimension }

// Store returns the store for repoID, opening it on first use.
func (m *Manager) Store(ctx context.Context, repoID string) (*Store, error) {
	if err := ValidateRepoID(repoID); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.stores[repoID]; ok {
		return s, nil
	}
	s, err := OpenStore(ctx, StoreConfig{
		RepoID:    repoID,
		Dir:       filepath.Join(m.cfg.IndexDir, repoID),
		Dimension: m.cfg.Dimension,
		Backend:   m.cfg.Index.Backend,
		NewIndex:  m.newIndex,
	}, m.logger)
	if err != nil {
		return nil, err
	}
	m.stores[repoID] = s
	return s, nil
}

type rankedResult struct {
	SearchResult
	repoOrder int
}

// SearchMultiple searches every repository concurrently and merges the
// results by score descending, then row ascending, then repository order.
func (m *Manager) SearchMultiple(ctx context.Context, query []float32, repoIDs []string, k int) ([]SearchResult, error) {
	if k <= 0 || len(repoIDs) == 0 {
		return []SearchResult{}, nil
	}

	perRepo := make([][]SearchResult, len(repoIDs))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range repoIDs {
		g.Go(func() error {
			s, err := m.Store(gctx, id)
			if err != nil {
				return err
			}
			res, err := s.Search(gctx, query, k)
			if err != nil {
				return fmt.Errorf("searching %s: %w", id, err)
			}
			perRepo[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []rankedResult
	for i, res := range perRepo {
		for _, r := range res {
			merged = append(merged, rankedResult{SearchResult: r, repoOrder: i})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		a, b := merged[i], merged[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.FaissRow != b.FaissRow {
			return a.FaissRow < b.FaissRow
		}
		return a.repoOrder < b.repoOrder
	})
	if len(merged) > k {
		merged = merged[:k]
	}

	out := make([]SearchResult, len(merged))
	for i, r := range merged {
		out[i] = r.SearchResult
	}
	return out, nil
}

// ListRepositories returns repository ids with persisted data, sorted.
func (m *Manager) ListRepositories() ([]string, error) {
	entries, err := os.ReadDir(m.cfg.IndexDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("reading index dir: %w", err)
	}

	repos := []string{}
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || ValidateRepoID(e.Name()) != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(m.cfg.IndexDir, e.Name(), sidecarName)); err != nil {
			continue
		}
		repos = append(repos, e.Name())
	}
	sort.Strings(repos)
	return repos, nil
}

// AllStats aggregates statistics across every persisted repository.
// Repositories that fail to open are logged and skipped.
func (m *Manager) AllStats(ctx context.Context) (AggregateStats, error) {
	repos, err := m.ListRepositories()
	if err != nil {
		return AggregateStats{}, err
	}

	agg := AggregateStats{
		Languages:    map[string]int{},
		Repositories: []Stats{},
	}
	for _, id := range repos {
		s, err := m.Store(ctx, id)
		if err != nil {
			m.logger.Warn("skipping repository in stats", zap.String("repo_id", id), zap.Error(err))
			continue
		}
		st, err := s.Stats(ctx)
		if err != nil {
			m.logger.Warn("skipping repository in stats", zap.String("repo_id", id), zap.Error(err))
			continue
		}
		agg.TotalRepositories++
		agg.TotalChunks += st.TotalChunks
		agg.TotalFiles += st.UniqueFiles
		agg.TotalDiskSize += st.OnDiskSize
		for lang, n := range st.Languages {
			agg.Languages[lang] += n
		}
		agg.Repositories = append(agg.Repositories, st)
	}
	return agg, nil
}

// Chunk returns one chunk of a persisted repository by embedding id.
func (m *Manager) Chunk(ctx context.Context, repoID, embeddingID string) (CatalogEntry, error) {
	if err := ValidateRepoID(repoID); err != nil {
		return CatalogEntry{}, err
	}
	if _, err := os.Stat(filepath.Join(m.cfg.IndexDir, repoID)); errors.Is(err, os.ErrNotExist) {
		return CatalogEntry{}, fmt.Errorf("%w: %s", ErrRepositoryNotFound, repoID)
	}
	s, err := m.Store(ctx, repoID)
	if err != nil {
		return CatalogEntry{}, err
	}
	return s.Chunk(ctx, embeddingID)
}

// Delete removes a repository's persisted data.
func (m *Manager) Delete(ctx context.Context, repoID string) error {
	if err := ValidateRepoID(repoID); err != nil {
		return err
	}
	if _, err := os.Stat(filepath.Join(m.cfg.IndexDir, repoID)); errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrRepositoryNotFound, repoID)
	}

	s, err := m.Store(ctx, repoID)
	if err != nil && !errors.Is(err, ErrDimensionMismatch) && !errors.Is(err, ErrCorruptIndex) {
		return err
	}

	m.mu.Lock()
	delete(m.stores, repoID)
	m.mu.Unlock()

	if s == nil {
		// Unopenable repositories are removed from disk directly.
		return os.RemoveAll(filepath.Join(m.cfg.IndexDir, repoID))
	}
	if err := s.Delete(ctx); err != nil {
		return err
	}
	return s.Close()
}

// Close closes every open store.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for id, s := range m.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", id, err))
		}
	}
	m.stores = make(map[string]*Store)
	return errors.Join(errs...)
}
