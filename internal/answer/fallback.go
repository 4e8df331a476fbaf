package answer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeqa/internal/embeddings"
	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

// Config selects and configures the answer backend.
type Config struct {
	// Mode is auto, llm or mock. Auto uses the LLM when a key is configured.
	Mode Mode

	LLM LLMConfig

	// Timeout bounds one LLM call. Default: 30s.
	Timeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeAuto
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	c.LLM.ApplyDefaults()
}

// Validate validates the configuration.
func (c Config) Validate() error {
	switch c.Mode {
	case ModeAuto, ModeLLM, ModeMock:
		return nil
	}
	return fmt.Errorf("invalid answer mode %q: must be auto, llm, or mock", c.Mode)
}

// Fallback answers with a primary backend and falls back to the mock.
//
// Thread-safe.
type Fallback struct {
	primary Answerer
	mock    *MockAnswerer
	cfg     Config
	logger  *zap.Logger

	downgraded atomic.Bool
	mu         sync.RWMutex
	reason     string
}

// NewFallback selects the primary backend for cfg. An llm mode without a
// usable client degrades to the mock with a warning rather than failing.
func NewFallback(cfg Config, logger *zap.Logger) (*Fallback, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var primary Answerer
	if cfg.Mode != ModeMock {
		llm, err := NewLLMAnswerer(cfg.LLM)
		switch {
		case err == nil:
			primary = llm
		case cfg.Mode == ModeLLM:
			logger.Warn("llm answerer unavailable, using mock answers", zap.Error(err))
		default:
			logger.Info("llm answerer not configured, using mock answers", zap.Error(err))
		}
	}
	return NewFallbackWith(primary, cfg, logger), nil
}

// NewFallbackWith wraps an explicit primary. A nil primary always answers
// with the mock.
func NewFallbackWith(primary Answerer, cfg Config, logger *zap.Logger) *Fallback {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{
		primary: primary,
		mock:    NewMockAnswerer(),
		cfg:     cfg,
		logger:  logger,
	}
}

// Mode implements Answerer. It reports the backend the next call would use.
func (f *Fallback) Mode() Mode {
	if f.active() == nil {
		return ModeMock
	}
	return f.primary.Mode()
}

// Info describes the active backend.
func (f *Fallback) Info() Info {
	f.mu.RLock()
	reason := f.reason
	f.mu.RUnlock()
	return Info{
		Mode:        f.Mode(),
		Model:       f.cfg.LLM.Model,
		Temperature: f.cfg.LLM.Temperature,
		MaxTokens:   f.cfg.LLM.MaxTokens,
		Degraded:    f.downgraded.Load(),
		Reason:      reason,
	}
}

// Generate implements Answerer. It never returns an error unless ctx is done.
func (f *Fallback) Generate(ctx context.Context, question string, chunks []vectorstore.SearchResult) (Result, error) {
	p := f.active()
	if p == nil {
		return f.mock.Generate(ctx, question, chunks)
	}

	callCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	res, err := p.Generate(callCtx, question, chunks)
	cancel()
	if err == nil {
		return res, nil
	}
	if ctx.Err() != nil {
		return Result{}, ctx.Err()
	}

	if embeddings.IsQuotaOrAuthError(err) && f.downgraded.CompareAndSwap(false, true) {
		f.mu.Lock()
		f.reason = err.Error()
		f.mu.Unlock()
		f.logger.Warn("answer backend rejected the request, switching to mock answers", zap.Error(err))
	} else {
		f.logger.Error("failed to generate answer, using mock answer", zap.Error(err))
	}
	return f.mock.Generate(ctx, question, chunks)
}

func (f *Fallback) active() Answerer {
	if f.primary == nil || f.downgraded.Load() {
		return nil
	}
	return f.primary
}
