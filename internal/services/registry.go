package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeqa/internal/answer"
	"github.com/fyrsmithlabs/codeqa/internal/embeddings"
	"github.com/fyrsmithlabs/codeqa/internal/ingestion"
	"github.com/fyrsmithlabs/codeqa/internal/query"
	"github.com/fyrsmithlabs/codeqa/internal/repository"
	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

// ErrMissingSource is returned by Ingest when no source is given.
var ErrMissingSource = errors.New("source is required")

// Registry provides access to the codeqa components.
type Registry interface {
	Embedder() *embeddings.Service
	Stores() *vectorstore.Manager
	Answerer() *answer.Fallback
	Pipeline() *ingestion.Pipeline
	Orchestrator() *query.Orchestrator

	// Ingest acquires a repository and indexes it.
	Ingest(ctx context.Context, req IngestRequest) (IngestResult, error)
	// Delete removes a repository's index and its checkout.
	Delete(ctx context.Context, repoID string) error
	Close() error
}

// IngestRequest names a repository source. Source is a local path or a
// git URL. RepoID defaults to one derived from Source.
type IngestRequest struct {
	Source  string   `json:"source"`
	RepoID  string   `json:"repo_id,omitempty"`
	Ref     string   `json:"ref,omitempty"`
	Include []string `json:"include,omitempty"`
	Exclude []string `json:"exclude,omitempty"`
}

// IngestResult reports an ingestion run.
type IngestResult struct {
	RepoID   string `json:"repo_id"`
	Revision string `json:"revision,omitempty"`
	ingestion.Result
}

// Options configures the registry with component instances.
type Options struct {
	Embedder     *embeddings.Service
	Stores       *vectorstore.Manager
	Answerer     *answer.Fallback
	Pipeline     *ingestion.Pipeline
	Orchestrator *query.Orchestrator

	// ReposDir receives clones and links to local sources.
	ReposDir string
	// Include and Exclude apply when a request has no patterns.
	Include []string
	Exclude []string

	Logger *zap.Logger
}

type registry struct {
	opts   Options
	logger *zap.Logger
}

// NewRegistry creates a registry from opts.
func NewRegistry(opts Options) Registry {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &registry{opts: opts, logger: logger}
}

func (r *registry) Embedder() *embeddings.Service     { return r.opts.Embedder }
func (r *registry) Stores() *vectorstore.Manager      { return r.opts.Stores }
func (r *registry) Answerer() *answer.Fallback        { return r.opts.Answerer }
func (r *registry) Pipeline() *ingestion.Pipeline     { return r.opts.Pipeline }
func (r *registry) Orchestrator() *query.Orchestrator { return r.opts.Orchestrator }

func (r *registry) Ingest(ctx context.Context, req IngestRequest) (IngestResult, error) {
	source := strings.TrimSpace(req.Source)
	if source == "" {
		return IngestResult{}, ErrMissingSource
	}
	repoID := req.RepoID
	if repoID == "" {
		repoID = repository.DeriveRepoID(source)
	}
	if err := vectorstore.ValidateRepoID(repoID); err != nil {
		return IngestResult{}, err
	}

	checkout, err := repository.Acquire(ctx, source, r.opts.ReposDir, repoID, req.Ref)
	if err != nil {
		return IngestResult{}, fmt.Errorf("acquiring %s: %w", source, err)
	}

	include, exclude := req.Include, req.Exclude
	if len(include) == 0 {
		include = r.opts.Include
	}
	if len(exclude) == 0 {
		exclude = r.opts.Exclude
	}

	r.logger.Info("ingesting repository",
		zap.String("repo_id", repoID),
		zap.String("root", checkout.Root),
		zap.String("revision", checkout.Revision))

	res, err := r.opts.Pipeline.Ingest(ctx, ingestion.Request{
		Root:            checkout.Root,
		RepoID:          repoID,
		CommitSHA:       checkout.Revision,
		IncludePatterns: include,
		ExcludePatterns: exclude,
	})
	if err != nil {
		return IngestResult{}, err
	}
	return IngestResult{RepoID: repoID, Revision: checkout.Revision, Result: res}, nil
}

func (r *registry) Delete(ctx context.Context, repoID string) error {
	if err := r.opts.Stores.Delete(ctx, repoID); err != nil {
		return err
	}
	if r.opts.ReposDir == "" {
		return nil
	}

	// Local sources are linked into ReposDir; remove the link, not the source.
	path := filepath.Join(r.opts.ReposDir, repoID)
	info, err := os.Lstat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return nil
	case err != nil:
		return fmt.Errorf("inspecting checkout %s: %w", path, err)
	case info.Mode()&os.ModeSymlink != 0:
		return os.Remove(path)
	default:
		return os.RemoveAll(path)
	}
}

func (r *registry) Close() error {
	var errs []error
	if r.opts.Stores != nil {
		if err := r.opts.Stores.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing stores: %w", err))
		}
	}
	if r.opts.Embedder != nil {
		if err := r.opts.Embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing embedder: %w", err))
		}
	}
	return errors.Join(errs...)
}
