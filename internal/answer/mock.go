package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

const mockContentLimit = 100

// MockAnswerer returns canned answers keyed on words in the question. It
// never fails and cites every retrieved chunk.
type MockAnswerer struct{}

// NewMockAnswerer returns a MockAnswerer.
func NewMockAnswerer() *MockAnswerer { return &MockAnswerer{} }

// Mode implements Answerer.
func (*MockAnswerer) Mode() Mode { return ModeMock }

// Generate implements Answerer.
func (*MockAnswerer) Generate(_ context.Context, question string, chunks []vectorstore.SearchResult) (Result, error) {
	if len(chunks) == 0 {
		return Result{Answer: NoResultsAnswer, Citations: []Citation{}, Mode: ModeMock}, nil
	}

	n := len(chunks)
	q := strings.ToLower(question)
	var text string
	switch {
	case strings.Contains(q, "auth") || strings.Contains(q, "login"):
		text = fmt.Sprintf("Authentication is implemented in the codebase. Based on the retrieved code snippets, I found relevant authentication code in %d files.", n)
	case strings.Contains(q, "route") || strings.Contains(q, "endpoint"):
		text = fmt.Sprintf("Routing is handled in the codebase. The retrieved snippets show routing implementation across %d files.", n)
	case strings.Contains(q, "database") || strings.Contains(q, "model"):
		text = fmt.Sprintf("Database models are defined in the codebase. I found %d relevant files containing model definitions.", n)
	default:
		text = fmt.Sprintf("I found relevant code for your question. The retrieved snippets contain information from %d files that may help answer your query.", n)
	}

	citations := make([]Citation, 0, n)
	for _, c := range chunks {
		cit := ChunkCitation(c)
		cit.Content = shorten(c.Content, mockContentLimit)
		citations = append(citations, cit)
	}
	return Result{Answer: text, Citations: citations, Mode: ModeMock}, nil
}

// shorten cuts s to at most n runes, marking the cut with "...".
func shorten(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
