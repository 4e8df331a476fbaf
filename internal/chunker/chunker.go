package chunker

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// Default budgets used when callers pass non-positive values.
const (
	DefaultMaxTokens     = 300
	DefaultOverlapTokens = 50
)

// Chunk is a contiguous, 1-indexed inclusive line range of one file.
type Chunk struct {
	Path        string `json:"path"`
	Content     string `json:"content"`
	StartLine   int    `json:"start_line"`
	EndLine     int    `json:"end_line"`
	Language    string `json:"language"`
	ContentHash string `json:"content_hash"`
}

// Chunker splits file content into chunks using a TokenCounter estimate.
type Chunker struct {
	counter TokenCounter
}

// New creates a Chunker. A nil counter falls back to the character proxy.
func New(counter TokenCounter) *Chunker {
	if counter == nil {
		counter = CharCounter{}
	}
	return &Chunker{counter: counter}
}

// Chunk splits content into chunks of at most maxTokens estimated tokens.
//
// Lines larger than the budget on their own become single-line chunks.
// Chunks that are blank after trimming are dropped.
func (c *Chunker) Chunk(path, content string, maxTokens, overlapTokens int) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if overlapTokens < 0 {
		overlapTokens = 0
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens - 1
	}

	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	costs := make([]int, len(lines))
	for i, line := range lines {
		// +1 accounts for the newline separating lines.
		costs[i] = c.counter.Count(line) + 1
	}

	language := Language(path)
	var chunks []Chunk

	// [start, i) is the open chunk, 0-based.
	start, size := 0, 0
	for i := range lines {
		if i > start && size+costs[i] > maxTokens {
			chunks = appendChunk(chunks, path, language, lines, start, i)

			carry := i
			carried := 0
			for carry-1 > start && carried+costs[carry-1] <= overlapTokens && carried+costs[carry-1]+costs[i] <= maxTokens {
				carry--
				carried += costs[carry]
			}
			start, size = carry, carried
		}
		size += costs[i]
	}
	return appendChunk(chunks, path, language, lines, start, len(lines))
}

func appendChunk(chunks []Chunk, path, language string, lines []string, start, end int) []Chunk {
	if start >= end {
		return chunks
	}
	text := strings.Join(lines[start:end], "\n")
	if strings.TrimSpace(text) == "" {
		return chunks
	}
	return append(chunks, Chunk{
		Path:        path,
		Content:     text,
		StartLine:   start + 1,
		EndLine:     end,
		Language:    language,
		ContentHash: ContentHash(text),
	})
}

// ContentHash returns the hex MD5 digest used as a chunk's stable identity.
func ContentHash(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}
