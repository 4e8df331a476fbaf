//go:build !cgo

package embeddings

import (
	"context"
	"fmt"
)

// LocalEmbedder is unavailable without cgo; the ONNX runtime needs it.
type LocalEmbedder struct {
	dimension int
}

// NewLocalEmbedder always fails in builds without cgo.
func NewLocalEmbedder(cfg LocalConfig) (*LocalEmbedder, error) {
	return nil, fmt.Errorf("%w: binary built without cgo", ErrLocalUnavailable)
}

// EmbedDocuments implements Embedder.
func (l *LocalEmbedder) EmbedDocuments(context.Context, []string) ([][]float32, error) {
	return nil, ErrLocalUnavailable
}

// EmbedQuery implements Embedder.
func (l *LocalEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return nil, ErrLocalUnavailable
}

// Dimension implements Embedder.
func (l *LocalEmbedder) Dimension() int { return l.dimension }

// Mode implements Backend.
func (l *LocalEmbedder) Mode() Mode { return ModeLocal }

// Close implements Backend.
func (l *LocalEmbedder) Close() error { return nil }
