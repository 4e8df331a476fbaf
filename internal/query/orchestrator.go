package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeqa/internal/answer"
	"github.com/fyrsmithlabs/codeqa/internal/embeddings"
	"github.com/fyrsmithlabs/codeqa/internal/logging"
	"github.com/fyrsmithlabs/codeqa/internal/snippet"
	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

var tracer = otel.Tracer("codeqa.query")

// Canned answers.
const (
	msgEmptyQuestion = "Please provide a question."
	msgNoRepos       = "Please specify at least one repository to search."
	msgNotIndexed    = "No indexed data found for repository '%s'. Please ingest the repository first."
	msgEmbedFailed   = "Failed to process the question. Please try again."
	msgInternal      = "An error occurred while processing your query: %v"
)

// Config holds orchestrator settings.
type Config struct {
	// DefaultK replaces non-positive request K. Default: 6.
	DefaultK int

	// Timeout bounds one Query. Zero disables it.
	Timeout time.Duration

	// ReposDir holds one checkout per repository id, used for snippets.
	ReposDir string

	SnippetContextLines int
	SnippetMaxChars     int
	PreviewLines        int
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.DefaultK <= 0 {
		c.DefaultK = 6
	}
	if c.SnippetContextLines <= 0 {
		c.SnippetContextLines = snippet.DefaultContextLines
	}
	if c.SnippetMaxChars <= 0 {
		c.SnippetMaxChars = snippet.DefaultMaxChars
	}
	if c.PreviewLines <= 0 {
		c.PreviewLines = 6
	}
}

// Request is a question over one or more repositories.
type Request struct {
	Question string   `json:"question"`
	RepoIDs  []string `json:"repo_ids"`
	K        int      `json:"k"`
}

// Response is the outcome of a Query.
type Response struct {
	Answer    string            `json:"answer"`
	Citations []answer.Citation `json:"citations"`
	Snippets  []snippet.Snippet `json:"snippets"`
	LatencyMS int64             `json:"latency_ms"`
	Mode      answer.Mode       `json:"mode,omitempty"`
	RequestID string            `json:"request_id"`
}

// Stores is the retrieval surface the Orchestrator needs.
type Stores interface {
	Store(ctx context.Context, repoID string) (*vectorstore.Store, error)
	SearchMultiple(ctx context.Context, query []float32, repoIDs []string, k int) ([]vectorstore.SearchResult, error)
}

// Stats combines the embedding and answer backends' state.
type Stats struct {
	Embeddings *embeddings.Stats `json:"embeddings,omitempty"`
	Answer     *answer.Info      `json:"answer,omitempty"`
}

// Orchestrator runs the retrieval-augmented answer pipeline.
//
// Thread-safe as long as its collaborators are.
type Orchestrator struct {
	embedder embeddings.Embedder
	stores   Stores
	answerer answer.Answerer
	cfg      Config
	metrics  *Metrics
	logger   *zap.Logger
}

// New creates an Orchestrator.
func New(cfg Config, embedder embeddings.Embedder, stores Stores, answerer answer.Answerer, logger *zap.Logger) (*Orchestrator, error) {
	if embedder == nil || stores == nil || answerer == nil {
		return nil, errors.New("query: embedder, stores and answerer are required")
	}
	cfg.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		embedder: embedder,
		stores:   stores,
		answerer: answerer,
		cfg:      cfg,
		metrics:  NewMetrics(logger),
		logger:   logger,
	}, nil
}

// Query answers req. Every failure is reported in the Response's Answer.
func (o *Orchestrator) Query(ctx context.Context, req Request) Response {
	start := time.Now()
	requestID := logging.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if o.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "query.Query", trace.WithAttributes(
		attribute.String("request_id", requestID),
		attribute.StringSlice("repo_ids", req.RepoIDs),
	))
	defer span.End()

	log := o.logger.With(zap.String("request_id", requestID))
	outcome := "answered"
	resp := o.run(ctx, span, log, req, &outcome)

	resp.RequestID = requestID
	resp.LatencyMS = time.Since(start).Milliseconds()
	if resp.Citations == nil {
		resp.Citations = []answer.Citation{}
	}
	if resp.Snippets == nil {
		resp.Snippets = []snippet.Snippet{}
	}

	o.metrics.RecordQuery(ctx, outcome, string(resp.Mode), time.Since(start))
	span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("citations", len(resp.Citations)),
		attribute.Int("snippets", len(resp.Snippets)),
	)
	log.Info("query finished",
		zap.String("outcome", outcome),
		zap.String("mode", string(resp.Mode)),
		zap.Int("citations", len(resp.Citations)),
		zap.Int64("latency_ms", resp.LatencyMS))
	return resp
}

func (o *Orchestrator) run(ctx context.Context, span trace.Span, log *zap.Logger, req Request, outcome *string) Response {
	fail := func(kind string, err error) Response {
		*outcome = kind
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error("query failed", zap.String("outcome", kind), zap.Error(err))
		return Response{Answer: fmt.Sprintf(msgInternal, err)}
	}

	if strings.TrimSpace(req.Question) == "" {
		*outcome = "invalid"
		return Response{Answer: msgEmptyQuestion}
	}
	if len(req.RepoIDs) == 0 {
		*outcome = "invalid"
		return Response{Answer: msgNoRepos}
	}
	k := req.K
	if k <= 0 {
		k = o.cfg.DefaultK
	}

	empty, err := o.firstEmpty(ctx, req.RepoIDs)
	if err != nil {
		return fail("error", err)
	}
	if empty != "" {
		*outcome = "not_indexed"
		return Response{Answer: fmt.Sprintf(msgNotIndexed, empty)}
	}

	vec, err := o.embedder.EmbedQuery(ctx, req.Question)
	if err != nil || len(vec) == 0 {
		*outcome = "embed_failed"
		log.Error("failed to embed question", zap.Error(err))
		return Response{Answer: msgEmbedFailed}
	}

	retrieved, err := o.stores.SearchMultiple(ctx, vec, req.RepoIDs, k)
	if err != nil {
		return fail("error", err)
	}
	if len(retrieved) == 0 {
		*outcome = "no_results"
		return Response{Answer: answer.NoResultsAnswer}
	}

	res, err := o.answerer.Generate(ctx, req.Question, retrieved)
	if err != nil {
		return fail("error", err)
	}

	if !answer.Validate(res.Answer, res.Citations) && len(retrieved) < k+2 {
		log.Warn("answer is not grounded, retrying with more chunks",
			zap.Int("retrieved", len(retrieved)),
			zap.Int("k", k+2))
		o.metrics.RecordRetry(ctx)
		span.AddEvent("retry", trace.WithAttributes(attribute.Int("k", k+2)))

		more, err := o.stores.SearchMultiple(ctx, vec, req.RepoIDs, k+2)
		if err != nil {
			return fail("error", err)
		}
		if len(more) > 0 {
			res, err = o.answerer.Generate(ctx, req.Question, more)
			if err != nil {
				return fail("error", err)
			}
		}
	}

	citations, snippets := o.attachSnippets(log, res.Citations)
	return Response{
		Answer:    res.Answer,
		Citations: citations,
		Snippets:  snippets,
		Mode:      res.Mode,
	}
}

// firstEmpty returns the first repository id whose index has no rows.
func (o *Orchestrator) firstEmpty(ctx context.Context, repoIDs []string) (string, error) {
	for _, id := range repoIDs {
		store, err := o.stores.Store(ctx, id)
		if err != nil {
			return "", fmt.Errorf("opening repository %q: %w", id, err)
		}
		n, err := store.Count(ctx)
		if err != nil {
			return "", fmt.Errorf("counting repository %q: %w", id, err)
		}
		if n == 0 {
			return id, nil
		}
	}
	return "", nil
}

func (o *Orchestrator) attachSnippets(log *zap.Logger, citations []answer.Citation) ([]answer.Citation, []snippet.Snippet) {
	out := make([]answer.Citation, len(citations))
	copy(out, citations)
	if o.cfg.ReposDir == "" {
		return out, nil
	}

	var snippets []snippet.Snippet
	for i, c := range out {
		root := filepath.Join(o.cfg.ReposDir, c.RepoID)
		s, ok, err := snippet.Extract(root, c.Path, c.Start, c.End, o.cfg.SnippetContextLines, o.cfg.SnippetMaxChars)
		if err != nil {
			if errors.Is(err, snippet.ErrPathTraversal) {
				log.Error("rejected citation path", zap.String("repo_id", c.RepoID), zap.String("path", c.Path), zap.Error(err))
			} else {
				log.Warn("failed to extract snippet", zap.String("path", c.Path), zap.Error(err))
			}
			continue
		}
		if !ok {
			log.Debug("no snippet for citation", zap.String("repo_id", c.RepoID), zap.String("path", c.Path))
			continue
		}
		s.RepoID = c.RepoID
		out[i].Preview = snippet.Preview(s.Code, o.cfg.PreviewLines)
		snippets = append(snippets, s)
	}
	return out, snippets
}

// SearchOnly returns the retrieved chunks for req without generating an
// answer. It returns an empty result when any target repository is empty.
func (o *Orchestrator) SearchOnly(ctx context.Context, req Request) ([]answer.Citation, error) {
	ctx, span := tracer.Start(ctx, "query.SearchOnly")
	defer span.End()

	if strings.TrimSpace(req.Question) == "" {
		return nil, fmt.Errorf("%w: question cannot be empty", embeddings.ErrEmptyInput)
	}
	empty, err := o.firstEmpty(ctx, req.RepoIDs)
	if err != nil {
		return nil, err
	}
	if empty != "" || len(req.RepoIDs) == 0 {
		return []answer.Citation{}, nil
	}
	return o.similar(ctx, req.Question, req.RepoIDs, req.K)
}

// SimilarChunks returns the chunks most similar to text.
func (o *Orchestrator) SimilarChunks(ctx context.Context, text string, repoIDs []string, k int) ([]answer.Citation, error) {
	ctx, span := tracer.Start(ctx, "query.SimilarChunks")
	defer span.End()

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", embeddings.ErrEmptyInput)
	}
	return o.similar(ctx, text, repoIDs, k)
}

func (o *Orchestrator) similar(ctx context.Context, text string, repoIDs []string, k int) ([]answer.Citation, error) {
	if k <= 0 {
		k = o.cfg.DefaultK
	}
	vec, err := o.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	results, err := o.stores.SearchMultiple(ctx, vec, repoIDs, k)
	if err != nil {
		return nil, err
	}
	citations := make([]answer.Citation, 0, len(results))
	for _, r := range results {
		citations = append(citations, answer.ChunkCitation(r))
	}
	return citations, nil
}

// Stats reports the embedding and answer backends' state when they expose it.
func (o *Orchestrator) Stats() Stats {
	var s Stats
	if e, ok := o.embedder.(interface{ Stats() embeddings.Stats }); ok {
		st := e.Stats()
		s.Embeddings = &st
	}
	if a, ok := o.answerer.(interface{ Info() answer.Info }); ok {
		info := a.Info()
		s.Answer = &info
	}
	return s
}
