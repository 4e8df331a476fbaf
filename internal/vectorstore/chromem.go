package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("codeqa.vectorstore.chromem")

const chromemCollection = "chunks"

var collectionHashPattern = regexp.MustCompile(`^[a-f0-9]{8}$`)

// errNoEmbeddingFunc is returned if chromem is ever asked to embed text.
// Every document and query arrives with its vector already computed.
var errNoEmbeddingFunc = errors.New("chromem index does not embed text")

// ChromemIndex is an Index backed by an embedded chromem-go persistent DB.
type ChromemIndex struct {
	db     *chromem.DB
	coll   *chromem.Collection
	path   string
	logger *zap.Logger
}

// NewChromemIndex opens or creates a persistent index under path.
func NewChromemIndex(path string, compress bool, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := openChromemDB(path, compress, logger)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	embed := func(context.Context, string) ([]float32, error) { return nil, errNoEmbeddingFunc }
	coll, err := db.GetOrCreateCollection(chromemCollection, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("getting/creating collection %s: %w", chromemCollection, err)
	}

	return &ChromemIndex{db: db, coll: coll, path: path, logger: logger}, nil
}

// Append implements Index.
func (c *ChromemIndex) Append(ctx context.Context, first int, vectors [][]float32) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Append")
	defer span.End()
	span.SetAttributes(attribute.Int("first_row", first), attribute.Int("count", len(vectors)))

	if len(vectors) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(vectors))
	for i, v := range vectors {
		id := strconv.Itoa(first + i)
		docs[i] = chromem.Document{
			ID:        id,
			Metadata:  map[string]string{"row": id},
			Embedding: v,
		}
	}

	if err := c.coll.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents to chromem: %w", err)
	}
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search implements Index. All rows are scored so that ties at the k
// boundary resolve by row.
func (c *ChromemIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemIndex.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	n := c.coll.Count()
	if n == 0 || k <= 0 {
		return []Hit{}, nil
	}

	results, err := c.coll.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying chromem: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		row, err := strconv.Atoi(r.ID)
		if err != nil {
			c.logger.Warn("skipping chromem document with non-row id", zap.String("id", r.ID))
			continue
		}
		hits = append(hits, Hit{Row: row, Score: r.Similarity})
	}
	sortHits(hits)
	if len(hits) > k {
		hits = hits[:k]
	}

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// Count implements Index.
func (c *ChromemIndex) Count(context.Context) (int, error) {
	return c.coll.Count(), nil
}

// DeleteRows implements Index.
func (c *ChromemIndex) DeleteRows(ctx context.Context, rows []int) error {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		id := strconv.Itoa(r)
		if _, err := c.coll.GetByID(ctx, id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil
	}
	if err := c.coll.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting chromem rows: %w", err)
	}
	return nil
}

// Drop implements Index.
func (c *ChromemIndex) Drop(context.Context) error {
	if err := c.db.DeleteCollection(chromemCollection); err != nil {
		return fmt.Errorf("deleting chromem collection: %w", err)
	}
	if err := os.RemoveAll(c.path); err != nil {
		return fmt.Errorf("removing %s: %w", c.path, err)
	}
	return nil
}

// Close implements Index. chromem persists on every write.
func (c *ChromemIndex) Close() error { return nil }

// sortHits orders by score descending, then row ascending.
func sortHits(hits []Hit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Row < hits[j].Row
	})
}

// openChromemDB loads a persistent DB, quarantining collections whose
// metadata file is missing so the rest of the DB still loads.
func openChromemDB(path string, compress bool, logger *zap.Logger) (*chromem.DB, error) {
	db, err := chromem.NewPersistentDB(path, compress)
	if err == nil {
		return db, nil
	}
	if !strings.Contains(err.Error(), "collection metadata file not found") {
		return nil, err
	}

	corrupt, findErr := findCorruptCollections(path, logger)
	if findErr != nil || len(corrupt) == 0 {
		return nil, err
	}

	quarantinePath := filepath.Join(path, ".quarantine")
	if mkErr := os.MkdirAll(quarantinePath, 0755); mkErr != nil {
		return nil, err
	}
	for _, hash := range corrupt {
		if !collectionHashPattern.MatchString(hash) {
			continue
		}
		logger.Warn("quarantining corrupt chromem collection",
			zap.String("collection_hash", hash),
			zap.String("path", path))
		if rnErr := os.Rename(filepath.Join(path, hash), filepath.Join(quarantinePath, hash)); rnErr != nil {
			logger.Error("failed to quarantine collection", zap.String("collection_hash", hash), zap.Error(rnErr))
		}
	}

	return chromem.NewPersistentDB(path, compress)
}

// findCorruptCollections lists collection directories that hold documents
// but no metadata file.
func findCorruptCollections(path string, logger *zap.Logger) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory: %w", err)
	}

	var corrupt []string
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if _, err := os.Stat(filepath.Join(dir, "00000000.gob")); !os.IsNotExist(err) {
			continue
		}
		files, err := os.ReadDir(dir)
		if err != nil {
			logger.Warn("failed to read collection directory", zap.String("path", dir), zap.Error(err))
			continue
		}
		for _, f := range files {
			if !f.IsDir() && strings.HasSuffix(f.Name(), ".gob") {
				corrupt = append(corrupt, entry.Name())
				break
			}
		}
	}
	return corrupt, nil
}

var _ Index = (*ChromemIndex)(nil)
