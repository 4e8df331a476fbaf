package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeqa/internal/logging"
	"github.com/fyrsmithlabs/codeqa/internal/query"
	"github.com/fyrsmithlabs/codeqa/internal/repository"
	"github.com/fyrsmithlabs/codeqa/internal/services"
	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

// Request body bounds. Archive uploads get their own larger limit.
const (
	maxBodySize   = "1M"
	maxUploadSize = "256M"
	uploadPath    = "/api/v1/ingest/archive"
)

// Server provides the codeqa HTTP endpoints.
type Server struct {
	echo     *echo.Echo
	registry services.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a server backed by reg.
func NewServer(reg services.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if reg == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "localhost", Port: 9191}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = errorHandler(logger)

	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimitWithConfig(middleware.BodyLimitConfig{
		Limit:   maxBodySize,
		Skipper: func(c echo.Context) bool { return c.Path() == uploadPath },
	}))
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:     e,
		registry: reg,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ingest", s.handleIngest)
	s.echo.POST(uploadPath, s.handleIngestArchive, middleware.BodyLimit(maxUploadSize))
	v1.POST("/query", s.handleQuery)
	v1.POST("/search", s.handleSearch)
	v1.GET("/repos", s.handleListRepos)
	v1.DELETE("/repos/:id", s.handleDeleteRepo)
	v1.GET("/repos/:id/chunks/:chunk", s.handleGetChunk)
	v1.GET("/stats", s.handleStats)
}

// requestLogger puts the request id into the request context and logs
// each request once it completes.
func requestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			requestID := c.Response().Header().Get(echo.HeaderXRequestID)
			ctx := logging.WithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", requestID),
			)
			return nil
		}
	}
}

// errorHandler renders errors as ErrorResponse JSON.
func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		msg := "internal server error"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(err))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(code)
			return
		}
		_ = c.JSON(code, ErrorResponse{Error: msg})
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIngest(c echo.Context) error {
	var req services.IngestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Source) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source field is required")
	}

	return s.ingest(c, req)
}

// handleIngestArchive ingests an uploaded .zip, .tar.gz or .tgz file sent
// as the multipart field "file". Optional fields: repo_id, include, exclude.
func (s *Server) handleIngestArchive(c echo.Context) error {
	header, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file field is required")
	}
	suffix := repository.ArchiveSuffix(header.Filename)
	if suffix == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file must be a .zip, .tar.gz or .tgz archive")
	}

	req := services.IngestRequest{RepoID: c.FormValue("repo_id")}
	if req.RepoID == "" {
		req.RepoID = repository.DeriveRepoID(header.Filename)
	}
	if form, err := c.MultipartForm(); err == nil {
		req.Include = form.Value["include"]
		req.Exclude = form.Value["exclude"]
	}

	src, err := header.Open()
	if err != nil {
		return fmt.Errorf("opening upload: %w", err)
	}
	defer src.Close()
	tmp, err := os.CreateTemp("", "codeqa-upload-*"+suffix)
	if err != nil {
		return fmt.Errorf("buffering upload: %w", err)
	}
	defer os.Remove(tmp.Name())
	_, err = io.Copy(tmp, src)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("buffering upload: %w", err)
	}

	req.Source = tmp.Name()
	return s.ingest(c, req)
}

func (s *Server) ingest(c echo.Context, req services.IngestRequest) error {
	res, err := s.registry.Ingest(c.Request().Context(), req)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, res)
	case errors.Is(err, vectorstore.ErrInvalidRepoID),
		errors.Is(err, repository.ErrInvalidSource),
		errors.Is(err, repository.ErrUnsafeArchive),
		errors.Is(err, repository.ErrDestinationExists):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, vectorstore.ErrDimensionMismatch):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return err
	}
}

func (s *Server) bindQuery(c echo.Context) (query.Request, error) {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Question) == "" {
		return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, "question field is required")
	}
	if len(req.RepoIDs) == 0 {
		return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, "repo_ids must name at least one repository")
	}
	for _, id := range req.RepoIDs {
		if err := vectorstore.ValidateRepoID(id); err != nil {
			return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	if req.K != 0 && (req.K < MinK || req.K > MaxK) {
		return query.Request{}, echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("k must be between %d and %d", MinK, MaxK))
	}
	return query.Request{Question: req.Question, RepoIDs: req.RepoIDs, K: req.K}, nil
}

func (s *Server) handleQuery(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	ctx := logging.WithRepoIDs(c.Request().Context(), req.RepoIDs)
	return c.JSON(http.StatusOK, s.registry.Orchestrator().Query(ctx, req))
}

func (s *Server) handleSearch(c echo.Context) error {
	req, err := s.bindQuery(c)
	if err != nil {
		return err
	}
	ctx := logging.WithRepoIDs(c.Request().Context(), req.RepoIDs)
	results, err := s.registry.Orchestrator().SearchOnly(ctx, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, SearchResponse{Results: results})
}

func (s *Server) handleListRepos(c echo.Context) error {
	repos, err := s.registry.Stores().ListRepositories()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReposResponse{Repositories: repos})
}

func (s *Server) handleDeleteRepo(c echo.Context) error {
	err := s.registry.Delete(c.Request().Context(), c.Param("id"))
	switch {
	case err == nil:
		return c.NoContent(http.StatusNoContent)
	case errors.Is(err, vectorstore.ErrInvalidRepoID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, vectorstore.ErrRepositoryNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}

func (s *Server) handleGetChunk(c echo.Context) error {
	entry, err := s.registry.Stores().Chunk(c.Request().Context(), c.Param("id"), c.Param("chunk"))
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, entry)
	case errors.Is(err, vectorstore.ErrInvalidRepoID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, vectorstore.ErrRepositoryNotFound), errors.Is(err, vectorstore.ErrChunkNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	default:
		return err
	}
}

func (s *Server) handleStats(c echo.Context) error {
	agg, err := s.registry.Stores().AllStats(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, StatsResponse{
		Storage:  agg,
		Backends: s.registry.Orchestrator().Stats(),
	})
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start serves until Shutdown. It returns nil after a graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.Addr()))
	if err := s.echo.Start(s.Addr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
