package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeqa/internal/answer"
	"github.com/fyrsmithlabs/codeqa/internal/chunker"
	"github.com/fyrsmithlabs/codeqa/internal/config"
	"github.com/fyrsmithlabs/codeqa/internal/embeddings"
	"github.com/fyrsmithlabs/codeqa/internal/ingestion"
	"github.com/fyrsmithlabs/codeqa/internal/query"
	"github.com/fyrsmithlabs/codeqa/internal/secrets"
	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

var newTokenCounter = chunker.NewTokenCounter

// Build constructs every component from cfg. The vector store dimension
// follows the embedding backend that was actually selected.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	emb, err := embeddings.New(ctx, EmbeddingsConfig(cfg), logger.Named("embeddings"))
	if err != nil {
		return nil, fmt.Errorf("creating embedding service: %w", err)
	}

	stores, err := vectorstore.NewManager(vectorstore.ManagerConfig{
		IndexDir:  cfg.Storage.IndexDir,
		Dimension: emb.Dimension(),
		Index:     IndexConfig(cfg),
	}, logger.Named("vectorstore"))
	if err != nil {
		return nil, errors.Join(fmt.Errorf("creating vector store manager: %w", err), emb.Close())
	}

	closeAll := func(err error) error {
		return errors.Join(err, stores.Close(), emb.Close())
	}

	ans, err := answer.NewFallback(AnswerConfig(cfg), logger.Named("answer"))
	if err != nil {
		return nil, closeAll(fmt.Errorf("creating answerer: %w", err))
	}

	counter, err := newTokenCounter(cfg.Chunking.Tokenizer)
	switch {
	case errors.Is(err, chunker.ErrTokenizerUnavailable):
		logger.Warn("tokenizer unavailable, counting by characters",
			zap.String("tokenizer", cfg.Chunking.Tokenizer), zap.Error(err))
	case err != nil:
		return nil, closeAll(fmt.Errorf("creating token counter: %w", err))
	}
	pipeline, err := ingestion.New(IngestionConfig(cfg), chunker.New(counter), emb, stores, logger.Named("ingestion"))
	if err != nil {
		return nil, closeAll(fmt.Errorf("creating ingestion pipeline: %w", err))
	}
	scrubber, err := secrets.New(SecretsConfig(cfg))
	if err != nil {
		return nil, closeAll(fmt.Errorf("creating secret scrubber: %w", err))
	}
	if scrubber != nil {
		pipeline.WithRedactor(scrubber)
	}

	orch, err := query.New(QueryConfig(cfg), emb, stores, ans, logger.Named("query"))
	if err != nil {
		return nil, closeAll(fmt.Errorf("creating query orchestrator: %w", err))
	}

	return NewRegistry(Options{
		Embedder:     emb,
		Stores:       stores,
		Answerer:     ans,
		Pipeline:     pipeline,
		Orchestrator: orch,
		ReposDir:     cfg.Storage.ReposDir,
		Include:      cfg.Ingestion.Include,
		Exclude:      cfg.Ingestion.Exclude,
		Logger:       logger,
	}), nil
}

// EmbeddingsConfig maps the embeddings section. The remote key and base
// URL fall back to the shared openai section.
func EmbeddingsConfig(cfg *config.Config) embeddings.Config {
	e := cfg.Embeddings
	baseURL := e.BaseURL
	if baseURL == "" {
		baseURL = cfg.OpenAI.BaseURL
	}
	return embeddings.Config{
		Mode: embeddings.Mode(e.Mode),
		Remote: embeddings.RemoteConfig{
			APIKey:    cfg.OpenAI.APIKey.Value(),
			Model:     e.Model,
			BaseURL:   baseURL,
			Dimension: e.Dimension,
			BatchSize: e.BatchSize,
		},
		Local: embeddings.LocalConfig{
			Model:     e.LocalModel,
			CacheDir:  e.CacheDir,
			BatchSize: e.BatchSize,
		},
		DeterministicDimension: e.DeterministicDimension,
		Timeout:                e.Timeout.Duration(),
		MaxConcurrency:         e.MaxConcurrency,
		CacheSize:              e.CacheSize,
	}
}

// IndexConfig maps the storage and qdrant sections.
func IndexConfig(cfg *config.Config) vectorstore.IndexConfig {
	return vectorstore.IndexConfig{
		Backend:  cfg.Storage.Backend,
		Compress: cfg.Storage.Compress,
		Qdrant: vectorstore.QdrantConfig{
			Host:             cfg.Qdrant.Host,
			Port:             cfg.Qdrant.Port,
			APIKey:           cfg.Qdrant.APIKey.Value(),
			UseTLS:           cfg.Qdrant.UseTLS,
			CollectionPrefix: cfg.Qdrant.CollectionPrefix,
		},
	}
}

// IngestionConfig maps the ingestion and chunking sections.
func IngestionConfig(cfg *config.Config) ingestion.Config {
	return ingestion.Config{
		MaxFileSize:   cfg.Ingestion.MaxFileSize,
		BatchSize:     cfg.Ingestion.BatchSize,
		Workers:       cfg.Ingestion.Workers,
		BatchPause:    cfg.Ingestion.BatchPause.Duration(),
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
	}
}

// SecretsConfig maps the secret redaction settings of the ingestion section.
func SecretsConfig(cfg *config.Config) secrets.Config {
	return secrets.Config{
		Enabled:   cfg.Ingestion.RedactSecrets,
		Allowlist: cfg.Ingestion.SecretAllowlist,
	}
}

// AnswerConfig maps the answer section.
func AnswerConfig(cfg *config.Config) answer.Config {
	a := cfg.Answer
	return answer.Config{
		Mode: answer.Mode(a.Mode),
		LLM: answer.LLMConfig{
			APIKey:      cfg.OpenAI.APIKey.Value(),
			Model:       a.Model,
			BaseURL:     cfg.OpenAI.BaseURL,
			Temperature: a.Temperature,
			MaxTokens:   a.MaxTokens,
			RateLimit:   a.RateLimit,
			Burst:       a.Burst,
		},
		Timeout: a.Timeout.Duration(),
	}
}

// QueryConfig maps the query section.
func QueryConfig(cfg *config.Config) query.Config {
	q := cfg.Query
	return query.Config{
		DefaultK:            q.DefaultK,
		Timeout:             q.Timeout.Duration(),
		ReposDir:            cfg.Storage.ReposDir,
		SnippetContextLines: q.SnippetContextLines,
		SnippetMaxChars:     q.SnippetMaxChars,
		PreviewLines:        q.PreviewLines,
	}
}
