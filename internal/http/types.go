// Package http exposes the codeqa ingestion and query API over HTTP.
package http

import (
	"github.com/fyrsmithlabs/codeqa/internal/answer"
	"github.com/fyrsmithlabs/codeqa/internal/query"
	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

// Bounds for the k request field.
const (
	MinK = 1
	MaxK = 20
)

// QueryRequest is the request body for POST /api/v1/query and
// POST /api/v1/search. A zero K uses the configured default.
type QueryRequest struct {
	Question string   `json:"question"`
	RepoIDs  []string `json:"repo_ids"`
	K        int      `json:"k,omitempty"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Results []answer.Citation `json:"results"`
}

// ReposResponse is the response body for GET /api/v1/repos.
type ReposResponse struct {
	Repositories []string `json:"repositories"`
}

// StatsResponse is the response body for GET /api/v1/stats.
type StatsResponse struct {
	Storage  vectorstore.AggregateStats `json:"storage"`
	Backends query.Stats                `json:"backends"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}
