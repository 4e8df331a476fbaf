package vectorstore

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrSizeMismatch is returned when chunks and vectors differ in length.
	ErrSizeMismatch = errors.New("chunks and vectors length mismatch")

	// ErrDimensionMismatch is returned when a vector does not match the
	// repository's established dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrCorruptIndex is returned when the index holds fewer rows than the
	// catalog references.
	ErrCorruptIndex = errors.New("index is missing rows referenced by the catalog")

	// ErrInvalidRepoID is returned for repository ids that are not path safe.
	ErrInvalidRepoID = errors.New("invalid repository id")

	// ErrRepositoryNotFound is returned when a repository has no persisted data.
	ErrRepositoryNotFound = errors.New("repository not found")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to Qdrant")

	// ErrChunkNotFound is returned when no chunk has the embedding id.
	ErrChunkNotFound = errors.New("chunk not found")

	// ErrClosed is returned by operations on a closed Store.
	ErrClosed = errors.New("store is closed")
)

// Hit is a raw index match.
type Hit struct {
	Row   int
	Score float32
}

// Index stores vectors addressed by dense row numbers starting at 0.
//
// Implementations receive L2-normalized vectors and score by inner product.
type Index interface {
	// Append writes vectors as rows first, first+1, ...
	Append(ctx context.Context, first int, vectors [][]float32) error

	// Search returns up to k hits ordered by score descending, then row ascending.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)

	// Count returns the number of rows.
	Count(ctx context.Context) (int, error)

	// DeleteRows removes the given rows. Unknown rows are ignored.
	DeleteRows(ctx context.Context, rows []int) error

	// Drop removes the index and all of its rows.
	Drop(ctx context.Context) error

	// Close releases resources without removing data.
	Close() error
}

// SearchResult is a catalog entry matched by a similarity search.
type SearchResult struct {
	CatalogEntry
	Score float32 `json:"score"`
}

// Stats summarizes one repository's store.
type Stats struct {
	RepoID      string         `json:"repo_id"`
	TotalChunks int            `json:"total_chunks"`
	UniqueFiles int            `json:"unique_files"`
	Languages   map[string]int `json:"languages"`
	OnDiskSize  int64          `json:"on_disk_size"`
	Dimension   int            `json:"dimension"`
	Backend     string         `json:"index_backend"`
	CreatedAt   time.Time      `json:"created_at"`
}

// AggregateStats summarizes all repositories known to a Manager.
type AggregateStats struct {
	TotalRepositories int            `json:"total_repositories"`
	TotalChunks       int            `json:"total_chunks"`
	TotalFiles        int            `json:"total_files"`
	Languages         map[string]int `json:"languages"`
	TotalDiskSize     int64          `json:"total_disk_size"`
	Repositories      []Stats        `json:"repositories"`
}
