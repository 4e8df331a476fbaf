package ingestion

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/fyrsmithlabs/codeqa/internal/chunker"
	"github.com/fyrsmithlabs/codeqa/internal/embeddings"
	"github.com/fyrsmithlabs/codeqa/internal/ignore"
	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("codeqa.ingestion")

// skipDirs are never descended into. Hidden directories are skipped too.
var skipDirs = map[string]bool{
	".git":          true,
	".svn":          true,
	".hg":           true,
	"__pycache__":   true,
	".pytest_cache": true,
	"node_modules":  true,
	".venv":         true,
	"venv":          true,
	"dist":          true,
	"build":         true,
	".next":         true,
	".nuxt":         true,
	"coverage":      true,
	"target":        true,
	"bin":           true,
	"obj":           true,
}

const binarySniffLen = 8192

// Request describes one ingestion run.
type Request struct {
	Root            string
	RepoID          string
	CommitSHA       string
	IncludePatterns []string
	ExcludePatterns []string
}

// Result counts what an ingestion run did.
type Result struct {
	FilesProcessed int `json:"files_processed"`
	ChunksStored   int `json:"chunks_stored"`
	FilesSkipped   int `json:"files_skipped"`
	FilesFailed    int `json:"files_failed"`
	BatchesFailed  int `json:"batches_failed"`
	// SecretsRedacted counts credentials replaced before embedding.
	SecretsRedacted int `json:"secrets_redacted"`
}

// Stores resolves repository stores.
type Stores interface {
	Store(ctx context.Context, repoID string) (*vectorstore.Store, error)
}

// Redactor removes secrets from file content. The returned content must
// have the same number of lines as the input.
type Redactor interface {
	Redact(path, content string) (string, int)
}

// Pipeline ingests repositories.
type Pipeline struct {
	cfg      Config
	chunker  *chunker.Chunker
	embedder embeddings.Embedder
	stores   Stores
	redactor Redactor
	logger   *zap.Logger
}

// New creates a Pipeline.
func New(cfg Config, c *chunker.Chunker, embedder embeddings.Embedder, stores Stores, logger *zap.Logger) (*Pipeline, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if embedder == nil || stores == nil {
		return nil, errors.New("ingestion: embedder and stores are required")
	}
	if c == nil {
		c = chunker.New(nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{cfg: cfg, chunker: c, embedder: embedder, stores: stores, logger: logger}, nil
}

// WithRedactor makes the pipeline pass every file through r before chunking.
func (p *Pipeline) WithRedactor(r Redactor) *Pipeline {
	p.redactor = r
	return p
}

type sourceFile struct {
	rel  string
	path string
}

// tally accumulates counters across workers.
type tally struct {
	mu sync.Mutex
	Result
}

func (t *tally) add(fn func(r *Result)) {
	t.mu.Lock()
	fn(&t.Result)
	t.mu.Unlock()
}

// Ingest enumerates, chunks, embeds and stores the files under req.Root.
//
// Per-file read failures and per-batch embed or store failures are counted
// and logged. Errors are returned only for conditions that make the whole
// run meaningless: an invalid repository id, an unreadable root, a
// dimension mismatch with the persisted index, or cancellation.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.Ingest")
	defer span.End()
	span.SetAttributes(attribute.String("repo_id", req.RepoID))

	fail := func(err error) (Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	if err := vectorstore.ValidateRepoID(req.RepoID); err != nil {
		return fail(err)
	}
	root, err := validateRoot(req.Root)
	if err != nil {
		return fail(err)
	}

	rules, err := p.rules(root, req)
	if err != nil {
		return fail(err)
	}
	store, err := p.stores.Store(ctx, req.RepoID)
	if err != nil {
		return fail(fmt.Errorf("opening store: %w", err))
	}

	files, skipped, err := p.enumerate(ctx, root, rules)
	if err != nil {
		return fail(err)
	}

	log := p.logger.With(zap.String("repo_id", req.RepoID))
	log.Info("ingestion started",
		zap.String("root", root),
		zap.Int("candidate_files", len(files)),
		zap.Int("batch_size", p.cfg.BatchSize),
		zap.Int("workers", p.cfg.Workers))

	t := &tally{}
	t.FilesSkipped = skipped

	var limiter *rate.Limiter
	if p.cfg.BatchPause > 0 {
		limiter = rate.NewLimiter(rate.Every(p.cfg.BatchPause), 1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for start := 0; start < len(files); start += p.cfg.BatchSize {
		batch := files[start:min(start+p.cfg.BatchSize, len(files))]
		batchNo := start / p.cfg.BatchSize

		if limiter != nil {
			if err := limiter.Wait(gctx); err != nil {
				break
			}
		}
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return p.processBatch(gctx, log, store, req.CommitSHA, batchNo, batch, t)
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	res := t.Result
	span.SetAttributes(
		attribute.Int("files_processed", res.FilesProcessed),
		attribute.Int("chunks_stored", res.ChunksStored),
		attribute.Int("batches_failed", res.BatchesFailed),
	)
	log.Info("ingestion finished",
		zap.Int("files_processed", res.FilesProcessed),
		zap.Int("chunks_stored", res.ChunksStored),
		zap.Int("files_skipped", res.FilesSkipped),
		zap.Int("files_failed", res.FilesFailed),
		zap.Int("batches_failed", res.BatchesFailed))
	return res, nil
}

func (p *Pipeline) rules(root string, req Request) (*ignore.Rules, error) {
	overrides, err := LoadOverrides(root)
	if err != nil {
		return nil, err
	}

	include := req.IncludePatterns
	if len(include) == 0 {
		include = ignore.DefaultIncludePatterns
	}
	exclude := req.ExcludePatterns
	if len(exclude) == 0 {
		exclude = ignore.DefaultExcludePatterns
	}

	rules, err := ignore.NewRules(
		ignore.Merge(include, overrides.Include),
		ignore.Merge(exclude, overrides.Exclude),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %w", err)
	}
	if err := rules.LoadGitignore(root); err != nil {
		return nil, fmt.Errorf("reading .gitignore: %w", err)
	}
	return rules, nil
}

// enumerate walks root and returns eligible files in lexical order plus the
// number of files skipped by patterns or size.
func (p *Pipeline) enumerate(ctx context.Context, root string, rules *ignore.Rules) ([]sourceFile, int, error) {
	var (
		files   []sourceFile
		skipped int
	)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			p.logger.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return fmt.Errorf("computing relative path: %w", relErr)
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path == root {
				return nil
			}
			name := d.Name()
			if skipDirs[name] || strings.HasPrefix(name, ".") || rules.Excluded(rel, true) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		if !rules.Allowed(rel) {
			skipped++
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > p.cfg.MaxFileSize {
			skipped++
			return nil
		}
		files = append(files, sourceFile{rel: rel, path: path})
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("walking %s: %w", root, err)
	}
	return files, skipped, nil
}

func (p *Pipeline) processBatch(ctx context.Context, log *zap.Logger, store *vectorstore.Store, commitSHA string, batchNo int, batch []sourceFile, t *tally) error {
	var (
		chunks    []chunker.Chunk
		processed int
	)
	for _, f := range batch {
		content, ok, err := readSource(f.path)
		if err != nil {
			log.Warn("failed to read file", zap.String("path", f.rel), zap.Error(err))
			t.add(func(r *Result) { r.FilesFailed++ })
			continue
		}
		if !ok {
			t.add(func(r *Result) { r.FilesSkipped++ })
			continue
		}
		if p.redactor != nil {
			var n int
			if content, n = p.redactor.Redact(f.rel, content); n > 0 {
				log.Info("redacted secrets", zap.String("path", f.rel), zap.Int("count", n))
				t.add(func(r *Result) { r.SecretsRedacted += n })
			}
		}
		chunks = append(chunks, p.chunker.Chunk(f.rel, content, p.cfg.MaxTokens, p.cfg.OverlapTokens)...)
		processed++
	}
	if len(chunks) == 0 {
		t.add(func(r *Result) { r.FilesProcessed += processed })
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	start := time.Now()
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("failed to embed batch", zap.Int("batch", batchNo), zap.Int("chunks", len(chunks)), zap.Error(err))
		t.add(func(r *Result) { r.BatchesFailed++ })
		return nil
	}

	n, err := store.AddAtCommit(ctx, commitSHA, chunks, vectors)
	if err != nil {
		if isFatal(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Error("failed to store batch", zap.Int("batch", batchNo), zap.Int("chunks", len(chunks)), zap.Error(err))
		t.add(func(r *Result) { r.BatchesFailed++ })
		return nil
	}

	log.Debug("stored batch",
		zap.Int("batch", batchNo),
		zap.Int("files", processed),
		zap.Int("chunks", n),
		zap.Duration("duration", time.Since(start)))
	t.add(func(r *Result) {
		r.FilesProcessed += processed
		r.ChunksStored += n
	})
	return nil
}

func isFatal(err error) bool {
	return errors.Is(err, vectorstore.ErrDimensionMismatch) ||
		errors.Is(err, vectorstore.ErrInvalidRepoID) ||
		errors.Is(err, vectorstore.ErrCorruptIndex)
}

// readSource reads a text file. ok is false for binary files.
func readSource(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	if IsBinary(path, data) {
		return "", false, nil
	}
	return strings.ToValidUTF8(string(data), "�"), true, nil
}

// IsBinary reports whether data looks binary: a NUL byte in the first 8 KiB,
// or invalid UTF-8 in a file without a known text extension.
func IsBinary(path string, data []byte) bool {
	if bytes.IndexByte(data[:min(len(data), binarySniffLen)], 0) >= 0 {
		return true
	}
	return !utf8.Valid(data) && !chunker.IsTextExtension(path)
}

func validateRoot(root string) (string, error) {
	if root == "" {
		return "", errors.New("root cannot be empty")
	}
	clean, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return "", fmt.Errorf("resolving root: %w", err)
	}
	// WalkDir does not descend into a symlinked root, and checkouts of local
	// sources are links.
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		clean = resolved
	}
	info, err := os.Stat(clean)
	if err != nil {
		return "", fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("root must be a directory: %s", clean)
	}
	return clean, nil
}
