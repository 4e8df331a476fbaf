package http

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/codeqa/internal/config"
	"github.com/fyrsmithlabs/codeqa/internal/query"
	"github.com/fyrsmithlabs/codeqa/internal/services"
	"github.com/fyrsmithlabs/codeqa/internal/telemetry"
	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := config.Default()
	cfg.Storage.IndexDir = filepath.Join(t.TempDir(), "indexes")
	cfg.Storage.ReposDir = filepath.Join(t.TempDir(), "repos")
	cfg.Embeddings.Mode = "deterministic"
	cfg.Embeddings.DeterministicDimension = 32
	cfg.Answer.Mode = "mock"
	cfg.Chunking.Tokenizer = "chars"

	reg, err := services.Build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	server, err := NewServer(reg, zap.NewNop(), nil)
	require.NoError(t, err)
	return server
}

func do(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func ingestFixture(t *testing.T, s *Server, repoID string) {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "routes.py"),
		[]byte("@app.route('/users')\ndef list_users():\n    return db.all()\n"), 0o644))

	rec := do(t, s, http.MethodPost, "/api/v1/ingest", services.IngestRequest{Source: root, RepoID: repoID})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[services.IngestResult](t, rec)
	require.Equal(t, 1, res.FilesProcessed)
}

func TestNewServer(t *testing.T) {
	t.Run("returns error when registry is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		assert.ErrorContains(t, err, "registry cannot be nil")
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		s := setupTestServer(t)
		assert.Equal(t, "localhost:9191", s.Addr())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		reg := services.NewRegistry(services.Options{})
		_, err := NewServer(reg, nil, &Config{Host: "127.0.0.1", Port: 8080})
		assert.ErrorContains(t, err, "logger is required")
	})
}

func TestHandleHealthAndMetrics(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)

	rec = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestHandleIngest_Validation(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/ingest", services.IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "source field is required", decode[ErrorResponse](t, rec).Error)

	rec = do(t, s, http.MethodPost, "/api/v1/ingest", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, s, http.MethodPost, "/api/v1/ingest", services.IngestRequest{Source: t.TempDir(), RepoID: "bad id"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func upload(t *testing.T, s *Server, filename string, content []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest/archive", &buf)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestHandleIngestArchive(t *testing.T) {
	s := setupTestServer(t)

	archive := zipBytes(t, map[string]string{
		"shop-main/cart.py":   "def add_item(cart, item):\n    cart.append(item)\n",
		"shop-main/README.md": "# shop\n",
	})
	rec := upload(t, s, "shop-main.zip", archive, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[services.IngestResult](t, rec)
	assert.Equal(t, "shop-main", res.RepoID)
	assert.Equal(t, 1, res.FilesProcessed)

	rec = upload(t, s, "shop.zip", archive, map[string]string{"repo_id": "store"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "store", decode[services.IngestResult](t, rec).RepoID)

	rec = do(t, s, http.MethodGet, "/api/v1/repos", nil)
	assert.Equal(t, []string{"shop-main", "store"}, decode[ReposResponse](t, rec).Repositories)
}

func TestHandleIngestArchive_Rejects(t *testing.T) {
	s := setupTestServer(t)

	rec := upload(t, s, "", nil, map[string]string{"repo_id": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file field is required", decode[ErrorResponse](t, rec).Error)

	rec = upload(t, s, "notes.txt", []byte("hi"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = upload(t, s, "evil.zip", zipBytes(t, map[string]string{"../../evil.py": "x = 1\n"}), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "unsafe archive")

	rec = upload(t, s, "broken.tgz", []byte("not gzip"), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleQuery_Validation(t *testing.T) {
	s := setupTestServer(t)

	tests := []struct {
		name string
		body any
		want string
	}{
		{"invalid json", "{", "invalid request body"},
		{"empty question", QueryRequest{Question: " ", RepoIDs: []string{"a"}}, "question field is required"},
		{"no repos", QueryRequest{Question: "q"}, "repo_ids must name at least one repository"},
		{"k too large", QueryRequest{Question: "q", RepoIDs: []string{"a"}, K: 21}, "k must be between 1 and 20"},
		{"negative k", QueryRequest{Question: "q", RepoIDs: []string{"a"}, K: -1}, "k must be between 1 and 20"},
		{"bad repo id", QueryRequest{Question: "q", RepoIDs: []string{"../etc"}}, "invalid repository id"},
	}
	for _, tt := range tests {
		for _, path := range []string{"/api/v1/query", "/api/v1/search"} {
			t.Run(tt.name+" "+path, func(t *testing.T) {
				rec := do(t, s, http.MethodPost, path, tt.body)
				assert.Equal(t, http.StatusBadRequest, rec.Code)
				assert.Contains(t, decode[ErrorResponse](t, rec).Error, tt.want)
			})
		}
	}
}

func TestQueryFlow(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodPost, "/api/v1/query", QueryRequest{Question: "Which routes exist?", RepoIDs: []string{"api"}})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode[query.Response](t, rec).Answer, "No indexed data found for repository 'api'")

	ingestFixture(t, s, "api")

	rec = do(t, s, http.MethodPost, "/api/v1/query", QueryRequest{Question: "Which routes exist?", RepoIDs: []string{"api"}, K: 3})
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[query.Response](t, rec)
	assert.Contains(t, resp.Answer, "Routing")
	require.Len(t, resp.Citations, 1)
	assert.Equal(t, "routes.py", resp.Citations[0].Path)
	require.Len(t, resp.Snippets, 1)
	assert.Equal(t, rec.Header().Get(echo.HeaderXRequestID), resp.RequestID)

	rec = do(t, s, http.MethodPost, "/api/v1/search", QueryRequest{Question: "list users", RepoIDs: []string{"api"}})
	require.Equal(t, http.StatusOK, rec.Code)
	search := decode[SearchResponse](t, rec)
	require.Len(t, search.Results, 1)
	assert.Equal(t, "api", search.Results[0].RepoID)
}

func TestGetChunk(t *testing.T) {
	s := setupTestServer(t)
	ingestFixture(t, s, "api")

	rec := do(t, s, http.MethodPost, "/api/v1/search", QueryRequest{Question: "list users", RepoIDs: []string{"api"}})
	require.Equal(t, http.StatusOK, rec.Code)
	search := decode[SearchResponse](t, rec)
	require.Len(t, search.Results, 1)
	id := search.Results[0].EmbeddingID
	require.NotEmpty(t, id)

	rec = do(t, s, http.MethodGet, "/api/v1/repos/api/chunks/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	entry := decode[vectorstore.CatalogEntry](t, rec)
	assert.Equal(t, id, entry.EmbeddingID)
	assert.Equal(t, "routes.py", entry.Path)
	assert.Contains(t, entry.Content, "def list_users")

	rec = do(t, s, http.MethodGet, "/api/v1/repos/api/chunks/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/v1/repos/ghost/chunks/"+id, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(t, s, http.MethodGet, "/api/v1/repos/bad$id/chunks/"+id, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReposStatsAndDelete(t *testing.T) {
	s := setupTestServer(t)

	rec := do(t, s, http.MethodGet, "/api/v1/repos", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[ReposResponse](t, rec).Repositories)

	ingestFixture(t, s, "api")

	rec = do(t, s, http.MethodGet, "/api/v1/repos", nil)
	assert.Equal(t, []string{"api"}, decode[ReposResponse](t, rec).Repositories)

	rec = do(t, s, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsResponse](t, rec)
	assert.Equal(t, 1, stats.Storage.TotalRepositories)
	assert.Equal(t, 1, stats.Storage.Languages["python"])
	require.NotNil(t, stats.Backends.Embeddings)
	assert.EqualValues(t, "deterministic", stats.Backends.Embeddings.ActiveMode)
	require.NotNil(t, stats.Backends.Answer)
	assert.EqualValues(t, "mock", stats.Backends.Answer.Mode)

	rec = do(t, s, http.MethodDelete, "/api/v1/repos/api", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/v1/repos/api", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, s, http.MethodDelete, "/api/v1/repos/bad$id", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsMiddleware(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	m := newHTTPMetrics(tt.MeterProvider().Meter("test"), nil)

	e := echo.New()
	e.Use(m.MetricsMiddleware())
	e.GET("/api/v1/repos/:id", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	for _, id := range []string{"a", "b", "c"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/repos/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	got := tt.Metric(context.Background(), "codeqa.http.requests_total")
	require.NotNil(t, got)
	sum, ok := got.Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, sum.DataPoints, 1, "route templates keep one series")
	assert.EqualValues(t, 3, sum.DataPoints[0].Value)
	route, _ := sum.DataPoints[0].Attributes.Value("route")
	assert.Equal(t, "/api/v1/repos/:id", route.AsString())
}
