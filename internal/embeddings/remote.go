package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// RemoteConfig configures the OpenAI-compatible embedding backend.
type RemoteConfig struct {
	// APIKey is the credential. Remote mode is unavailable without one.
	APIKey string

	// Model defaults to text-embedding-ada-002.
	Model string

	// BaseURL overrides the API endpoint (OpenAI-compatible servers).
	BaseURL string

	// Dimension is the expected vector length. Defaults to RemoteDimension.
	Dimension int

	// BatchSize caps texts per API request. Defaults to 64.
	BatchSize int

	// ProbeTimeout bounds the availability probe at construction.
	ProbeTimeout time.Duration
}

// ApplyDefaults fills unset fields.
func (c *RemoteConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-ada-002"
	}
	if c.Dimension <= 0 {
		c.Dimension = RemoteDimension
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 64
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
}

// RemoteEmbedder embeds text through an OpenAI-compatible API via langchaingo.
type RemoteEmbedder struct {
	embedder  embeddings.Embedder
	model     string
	dimension int
}

// NewRemoteEmbedder builds the client and probes it with a single short
// embedding, so an invalid credential is detected before any real work.
func NewRemoteEmbedder(ctx context.Context, cfg RemoteConfig) (*RemoteEmbedder, error) {
	cfg.ApplyDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: no API key configured", ErrRemoteUnavailable)
	}

	opts := []openai.Option{
		openai.WithToken(cfg.APIKey),
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: creating client: %v", ErrRemoteUnavailable, err)
	}

	embedder, err := embeddings.NewEmbedder(llm, embeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("%w: creating embedder: %v", ErrRemoteUnavailable, err)
	}

	r := &RemoteEmbedder{
		embedder:  embedder,
		model:     cfg.Model,
		dimension: cfg.Dimension,
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout)
	defer cancel()
	if _, err := r.EmbedQuery(probeCtx, "ping"); err != nil {
		return nil, fmt.Errorf("%w: probe failed: %w", ErrRemoteUnavailable, err)
	}
	return r, nil
}

// EmbedDocuments implements Embedder.
func (r *RemoteEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	vecs, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vecs), len(texts))
	}
	for _, v := range vecs {
		if len(v) != r.dimension {
			return nil, fmt.Errorf("%w: model %s returned dimension %d, expected %d", ErrEmbeddingFailed, r.model, len(v), r.dimension)
		}
	}
	return vecs, nil
}

// EmbedQuery implements Embedder.
func (r *RemoteEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingFailed, err)
	}
	if len(vec) != r.dimension {
		return nil, fmt.Errorf("%w: model %s returned dimension %d, expected %d", ErrEmbeddingFailed, r.model, len(vec), r.dimension)
	}
	return vec, nil
}

// Dimension implements Embedder.
func (r *RemoteEmbedder) Dimension() int { return r.dimension }

// Mode implements Backend.
func (r *RemoteEmbedder) Mode() Mode { return ModeRemote }

// Close implements Backend.
func (r *RemoteEmbedder) Close() error { return nil }

// Model returns the configured model name.
func (r *RemoteEmbedder) Model() string { return r.model }
