//go:build cgo

package embeddings

import (
	"context"
	"errors"
	"fmt"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// localModels maps accepted model names to fastembed models.
var localModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
	"fast-bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"fast-all-MiniLM-L6-v2":                  fastembed.AllMiniLML6V2,
}

var localDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.AllMiniLML6V2: 384,
}

// LocalEmbedder runs an ONNX sentence-embedding model in process.
type LocalEmbedder struct {
	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
	batchSize int
}

// NewLocalEmbedder loads the configured model. Loading fails when the ONNX
// runtime library cannot be found or the model cannot be fetched.
func NewLocalEmbedder(cfg LocalConfig) (*LocalEmbedder, error) {
	cfg.ApplyDefaults()

	model, ok := localModels[cfg.Model]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported local model %q", ErrLocalUnavailable, cfg.Model)
	}

	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cfg.CacheDir,
		MaxLength:            cfg.MaxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLocalUnavailable, err)
	}

	return &LocalEmbedder{
		model:     flag,
		modelName: cfg.Model,
		dimension: localDimensions[model],
		batchSize: cfg.BatchSize,
	}, nil
}

// EmbedDocuments implements Embedder using passage embeddings. ONNX inference
// cannot be interrupted, so a cancelled ctx returns at once and the batch
// finishes in the background.
func (l *LocalEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vecs, err := awaitCall(ctx, func() ([][]float32, error) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		if l.model == nil {
			return nil, errors.New("model closed")
		}
		return l.model.PassageEmbed(texts, l.batchSize)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vecs, nil
}

// EmbedQuery implements Embedder using query embeddings.
func (l *LocalEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	vec, err := awaitCall(ctx, func() ([]float32, error) {
		l.mu.RLock()
		defer l.mu.RUnlock()
		if l.model == nil {
			return nil, errors.New("model closed")
		}
		return l.model.QueryEmbed(text)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return vec, nil
}

// Dimension implements Embedder.
func (l *LocalEmbedder) Dimension() int { return l.dimension }

// Mode implements Backend.
func (l *LocalEmbedder) Mode() Mode { return ModeLocal }

// Close releases the ONNX session.
func (l *LocalEmbedder) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.model == nil {
		return nil
	}
	err := l.model.Destroy()
	l.model = nil
	return err
}
