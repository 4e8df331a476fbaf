package vectorstore

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
)

// Index backends.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// IndexFactory opens the index of one repository.
type IndexFactory func(ctx context.Context, backend, repoID, dir string, dimension int) (Index, error)

// IndexConfig selects and configures the index backend.
type IndexConfig struct {
	// Backend is "chromem" (default, embedded) or "qdrant" (external server).
	Backend string

	// Compress enables gzip compression of chromem files.
	Compress bool

	Qdrant QdrantConfig
}

// Validate validates the configuration.
func (c IndexConfig) Validate() error {
	switch c.Backend {
	case "", BackendChromem, BackendQdrant:
		return nil
	default:
		return fmt.Errorf("%w: unsupported index backend %q (supported: chromem, qdrant)", ErrInvalidConfig, c.Backend)
	}
}

// NewIndexFactory returns a factory that opens indexes for the named backend.
//
// The chromem backend needs no setup and keeps its files under
// <dir>/index. The qdrant backend stores one collection per repository
// on an external server.
func NewIndexFactory(cfg IndexConfig, logger *zap.Logger) IndexFactory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(ctx context.Context, backend, repoID, dir string, dimension int) (Index, error) {
		switch backend {
		case BackendChromem, "":
			return NewChromemIndex(filepath.Join(dir, "index"), cfg.Compress, logger)
		case BackendQdrant:
			return NewQdrantIndex(ctx, cfg.Qdrant, repoID, dimension, logger)
		default:
			return nil, fmt.Errorf("%w: unsupported index backend %q", ErrInvalidConfig, backend)
		}
	}
}
