package embeddings

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// Backend constructors, swapped in tests.
var (
	newRemoteBackend = func(ctx context.Context, cfg RemoteConfig) (Backend, error) {
		return NewRemoteEmbedder(ctx, cfg)
	}
	newLocalBackend = func(cfg LocalConfig) (Backend, error) {
		return NewLocalEmbedder(cfg)
	}
)

// Stats describes the Service's selected backend and fallback history.
type Stats struct {
	RequestedMode   Mode   `json:"requested_mode"`
	ActiveMode      Mode   `json:"active_mode"`
	Dimension       int    `json:"dimension"`
	Degraded        bool   `json:"degraded"`
	DowngradeReason string `json:"downgrade_reason,omitempty"`
	FallbackBatches int64  `json:"fallback_batches"`
	Warning         string `json:"warning,omitempty"`
}

// Service is the Embedder used by ingestion and queries. It owns one
// selected backend plus a deterministic fallback of the same dimension.
//
// Thread-safe.
type Service struct {
	requested Mode
	primary   Backend
	fallback  *DeterministicEmbedder
	dimension int

	timeout time.Duration
	sem     chan struct{}
	cache   *lru.Cache[string, []float32]

	downgraded      atomic.Bool
	fallbackBatches atomic.Int64

	mu      sync.RWMutex
	reason  string
	warning string

	metrics *Metrics
	logger  *zap.Logger
}

// New selects a backend for cfg.Mode and returns a ready Service.
//
// Backend unavailability never fails construction: auto walks remote, local,
// deterministic in order, and an explicit remote or local mode that cannot be
// opened falls back to deterministic with a warning. Only an invalid
// configuration returns an error.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Service, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	requested, _ := ParseMode(string(cfg.Mode))

	open := func(m Mode) (Backend, error) {
		switch m {
		case ModeRemote:
			return newRemoteBackend(ctx, cfg.Remote)
		case ModeLocal:
			return newLocalBackend(cfg.Local)
		}
		return nil, fmt.Errorf("%w: cannot open mode %q", ErrInvalidConfig, m)
	}

	var (
		primary Backend
		warning string
	)
	switch requested {
	case ModeAuto:
		for _, m := range []Mode{ModeRemote, ModeLocal} {
			b, err := open(m)
			if err == nil {
				primary = b
				break
			}
			logger.Info("embedding backend unavailable, trying next",
				zap.String("mode", string(m)),
				zap.Error(err))
		}
	case ModeRemote, ModeLocal:
		b, err := open(requested)
		if err != nil {
			warning = fmt.Sprintf("%s embedding backend unavailable, using deterministic vectors: %v", requested, err)
			logger.Warn("embedding backend unavailable, using deterministic vectors",
				zap.String("requested_mode", string(requested)),
				zap.Error(err))
		} else {
			primary = b
		}
	}

	s, err := newService(requested, primary, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.warning = warning

	logger.Info("embedding service ready",
		zap.String("requested_mode", string(requested)),
		zap.String("active_mode", string(s.Mode())),
		zap.Int("dimension", s.dimension))
	return s, nil
}

func newService(requested Mode, primary Backend, cfg Config, logger *zap.Logger) (*Service, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	dimension := cfg.DeterministicDimension
	if primary != nil {
		dimension = primary.Dimension()
	}

	s := &Service{
		requested: requested,
		primary:   primary,
		fallback:  NewDeterministicEmbedder(dimension),
		dimension: dimension,
		timeout:   cfg.Timeout,
		sem:       make(chan struct{}, cfg.MaxConcurrency),
		metrics:   NewMetrics(logger),
		logger:    logger,
	}
	if cfg.CacheSize > 0 {
		cache, err := lru.New[string, []float32](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("%w: creating query cache: %v", ErrInvalidConfig, err)
		}
		s.cache = cache
	}
	return s, nil
}

// Dimension implements Embedder. It is fixed for the Service's lifetime,
// including after a downgrade.
func (s *Service) Dimension() int { return s.dimension }

// Mode returns the backend currently producing vectors.
func (s *Service) Mode() Mode {
	if b := s.active(); b != nil {
		return b.Mode()
	}
	return ModeDeterministic
}

// Stats returns a snapshot of the Service's state.
func (s *Service) Stats() Stats {
	s.mu.RLock()
	reason, warning := s.reason, s.warning
	s.mu.RUnlock()

	active := s.Mode()
	return Stats{
		RequestedMode:   s.requested,
		ActiveMode:      active,
		Dimension:       s.dimension,
		Degraded:        active == ModeDeterministic && s.requested != ModeDeterministic,
		DowngradeReason: reason,
		FallbackBatches: s.fallbackBatches.Load(),
		Warning:         warning,
	}
}

// EmbedDocuments implements Embedder. A failed backend call is answered with
// deterministic vectors for the same batch.
func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	b := s.active()
	if b == nil {
		return s.fallback.EmbedDocuments(ctx, texts)
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	vecs, err := b.EmbedDocuments(callCtx, texts)
	cancel()
	s.release()

	if err == nil {
		err = checkVectors(vecs, len(texts), s.dimension)
	}
	s.metrics.RecordGeneration(ctx, b.Mode(), "embed_documents", time.Since(start), len(texts), err)
	if err == nil {
		return vecs, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.recordFailure(ctx, b.Mode(), "embed_documents", len(texts), err)
	return s.fallback.EmbedDocuments(ctx, texts)
}

// EmbedQuery implements Embedder. Results from the active backend are cached
// when a cache size is configured.
func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	key := string(s.Mode()) + "\x00" + text
	if s.cache != nil {
		if vec, ok := s.cache.Get(key); ok {
			return vec, nil
		}
	}

	b := s.active()
	if b == nil {
		vec, _ := s.fallback.EmbedQuery(ctx, text)
		s.remember(key, vec)
		return vec, nil
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	vec, err := b.EmbedQuery(callCtx, text)
	cancel()
	s.release()

	if err == nil && len(vec) != s.dimension {
		err = fmt.Errorf("%w: got dimension %d, expected %d", ErrEmbeddingFailed, len(vec), s.dimension)
	}
	s.metrics.RecordGeneration(ctx, b.Mode(), "embed_query", time.Since(start), 1, err)
	if err == nil {
		s.remember(key, vec)
		return vec, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	s.recordFailure(ctx, b.Mode(), "embed_query", 1, err)
	return s.fallback.EmbedQuery(ctx, text)
}

// Close releases the selected backend.
func (s *Service) Close() error {
	if s.primary == nil {
		return nil
	}
	return s.primary.Close()
}

func (s *Service) active() Backend {
	if s.primary == nil || s.downgraded.Load() {
		return nil
	}
	return s.primary
}

func (s *Service) acquire(ctx context.Context) error {
	select {
	case s.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Service) release() { <-s.sem }

func (s *Service) remember(key string, vec []float32) {
	if s.cache != nil {
		s.cache.Add(key, vec)
	}
}

func (s *Service) recordFailure(ctx context.Context, mode Mode, op string, batch int, err error) {
	s.fallbackBatches.Add(1)
	permanent := IsQuotaOrAuthError(err)
	s.metrics.RecordFallback(ctx, mode, permanent)

	if permanent && s.downgraded.CompareAndSwap(false, true) {
		s.mu.Lock()
		s.reason = err.Error()
		s.mu.Unlock()
		s.logger.Warn("embedding backend rejected the request, downgrading to deterministic vectors",
			zap.String("mode", string(mode)),
			zap.String("operation", op),
			zap.Error(err))
		return
	}
	s.logger.Warn("embedding call failed, serving deterministic vectors for this batch",
		zap.String("mode", string(mode)),
		zap.String("operation", op),
		zap.Int("batch_size", batch),
		zap.Error(err))
}

func checkVectors(vecs [][]float32, want, dimension int) error {
	if len(vecs) != want {
		return fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), want)
	}
	for _, v := range vecs {
		if len(v) != dimension {
			return fmt.Errorf("%w: got dimension %d, expected %d", ErrEmbeddingFailed, len(v), dimension)
		}
	}
	return nil
}
