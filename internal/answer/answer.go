package answer

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

// ErrAnswerFailed is returned when a backend produced no usable answer.
var ErrAnswerFailed = errors.New("answer generation failed")

// NoResultsAnswer is returned when there is nothing to ground an answer in.
const NoResultsAnswer = "I couldn't find any relevant code to answer your question. Please try rephrasing or check if the repositories have been properly indexed."

// Mode names the backend that produced an answer.
type Mode string

const (
	ModeAuto Mode = "auto"
	ModeLLM  Mode = "llm"
	ModeMock Mode = "mock"
)

// Citation ties an answer to a line range of a repository file.
type Citation struct {
	RepoID      string  `json:"repo_id"`
	Path        string  `json:"path"`
	Start       int     `json:"start"`
	End         int     `json:"end"`
	Score       float32 `json:"score"`
	EmbeddingID string  `json:"embedding_id,omitempty"`
	Content     string  `json:"content,omitempty"`
	Preview     string  `json:"preview,omitempty"`
}

// Ref returns the path:start-end form used inside answers.
func (c Citation) Ref() string {
	return citationRef(c.Path, c.Start, c.End)
}

// Result is a generated answer with its citations.
type Result struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Mode      Mode       `json:"mode"`
}

// Answerer generates an answer for question from retrieved chunks.
type Answerer interface {
	Generate(ctx context.Context, question string, chunks []vectorstore.SearchResult) (Result, error)
	Mode() Mode
}

// Info describes the answer backend.
type Info struct {
	Mode        Mode    `json:"mode"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Degraded    bool    `json:"degraded"`
	Reason      string  `json:"downgrade_reason,omitempty"`
}

// ChunkCitation converts a retrieved chunk into a citation of its full range.
func ChunkCitation(r vectorstore.SearchResult) Citation {
	return Citation{
		RepoID:      r.RepoID,
		Path:        r.Path,
		Start:       r.StartLine,
		End:         r.EndLine,
		Score:       r.Score,
		EmbeddingID: r.EmbeddingID,
		Content:     r.Content,
	}
}
