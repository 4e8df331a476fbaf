package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedLines(n int) []string {
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("line %02d: value = compute(%d)", i+1, i)
	}
	return lines
}

func TestChunk_EmptyContent(t *testing.T) {
	c := New(CharCounter{})

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"spaces", "   "},
		{"newlines and tabs", "\n\n\t\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, c.Chunk("main.go", tt.content, 50, 0))
		})
	}
}

func TestChunk_SingleChunk(t *testing.T) {
	c := New(CharCounter{})

	chunks := c.Chunk("app/main.py", "import os\n\nprint(os.getcwd())\n", 300, 50)
	require.Len(t, chunks, 1)

	ch := chunks[0]
	assert.Equal(t, "app/main.py", ch.Path)
	assert.Equal(t, 1, ch.StartLine)
	assert.Equal(t, 3, ch.EndLine)
	assert.Equal(t, "python", ch.Language)
	assert.Equal(t, "import os\n\nprint(os.getcwd())", ch.Content)
	assert.Equal(t, ContentHash(ch.Content), ch.ContentHash)
	assert.Len(t, ch.ContentHash, 32)
}

func TestChunk_DisjointCoverage(t *testing.T) {
	c := New(CharCounter{})
	lines := numberedLines(50)
	content := strings.Join(lines, "\n")

	chunks := c.Chunk("pkg/calc.go", content, 40, 0)
	require.Greater(t, len(chunks), 1)

	assert.Equal(t, 1, chunks[0].StartLine)
	assert.Equal(t, 50, chunks[len(chunks)-1].EndLine)

	var rebuilt []string
	for i, ch := range chunks {
		assert.LessOrEqual(t, ch.StartLine, ch.EndLine)
		if i > 0 {
			assert.Equal(t, chunks[i-1].EndLine+1, ch.StartLine, "chunk %d leaves a gap", i)
		}
		assert.Equal(t, strings.Join(lines[ch.StartLine-1:ch.EndLine], "\n"), ch.Content)
		rebuilt = append(rebuilt, strings.Split(ch.Content, "\n")...)
	}
	assert.Equal(t, lines, rebuilt)
}

func TestChunk_RespectsBudget(t *testing.T) {
	counter := CharCounter{}
	c := New(counter)
	lines := numberedLines(40)

	const budget = 45
	for _, ch := range c.Chunk("x.go", strings.Join(lines, "\n"), budget, 0) {
		if ch.StartLine == ch.EndLine {
			continue
		}
		total := 0
		for _, line := range strings.Split(ch.Content, "\n") {
			total += counter.Count(line) + 1
		}
		assert.LessOrEqual(t, total, budget)
	}
}

func TestChunk_Overlap(t *testing.T) {
	c := New(CharCounter{})
	content := strings.Join(numberedLines(60), "\n")

	chunks := c.Chunk("svc.ts", content, 60, 20)
	require.Greater(t, len(chunks), 2)

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1], chunks[i]
		assert.Greater(t, cur.StartLine, prev.StartLine, "chunk %d does not advance", i)
		assert.LessOrEqual(t, cur.StartLine, prev.EndLine, "chunk %d carries no overlap", i)
		assert.Greater(t, cur.EndLine, prev.EndLine)
	}
	assert.Equal(t, 60, chunks[len(chunks)-1].EndLine)
}

func TestChunk_LongLineStandsAlone(t *testing.T) {
	c := New(CharCounter{})
	long := strings.Repeat("x", 400)
	content := "short\n" + long + "\nshort again"

	chunks := c.Chunk("data.txt", content, 10, 0)
	require.Len(t, chunks, 3)
	assert.Equal(t, 2, chunks[1].StartLine)
	assert.Equal(t, 2, chunks[1].EndLine)
	assert.Equal(t, long, chunks[1].Content)
}

func TestChunk_Deterministic(t *testing.T) {
	c := New(CharCounter{})
	content := strings.Join(numberedLines(30), "\n")

	first := c.Chunk("a.rs", content, 35, 10)
	second := c.Chunk("a.rs", content, 35, 10)
	assert.Equal(t, first, second)
}

func TestChunk_DropsBlankWindows(t *testing.T) {
	c := New(CharCounter{})
	content := "func a() {}\n" + strings.Repeat("\n", 30) + "func b() {}"

	chunks := c.Chunk("blank.go", content, 8, 0)
	for _, ch := range chunks {
		assert.NotEmpty(t, strings.TrimSpace(ch.Content))
	}
	assert.Equal(t, "func a() {}", strings.TrimSpace(chunks[0].Content))
	assert.Equal(t, "func b() {}", strings.TrimSpace(chunks[len(chunks)-1].Content))
}

func TestChunk_CRLF(t *testing.T) {
	c := New(CharCounter{})
	chunks := c.Chunk("win.cs", "a\r\nb\r\n", 100, 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, "a\nb", chunks[0].Content)
	assert.Equal(t, 2, chunks[0].EndLine)
}

func TestLanguage(t *testing.T) {
	tests := map[string]string{
		"main.go":       "go",
		"App.TSX":       "typescript",
		"lib/util.py":   "python",
		"config/.env":   "bash",
		"Makefile":      UnknownLanguage,
		"photo.png":     UnknownLanguage,
		"schema.sql":    "sql",
		"ui/button.jsx": "javascript",
	}
	for path, want := range tests {
		assert.Equal(t, want, Language(path), path)
	}
	assert.True(t, IsTextExtension("README.md"))
	assert.False(t, IsTextExtension("archive.zip"))
}

func TestCharCounter(t *testing.T) {
	var c CharCounter
	assert.Equal(t, 0, c.Count(""))
	assert.Equal(t, 1, c.Count("abc"))
	assert.Equal(t, 1, c.Count("abcd"))
	assert.Equal(t, 2, c.Count("abcde"))
	assert.Equal(t, 1, c.Count("héé"))
}

func TestNewTokenCounter_Chars(t *testing.T) {
	counter, err := NewTokenCounter("chars")
	require.NoError(t, err)
	assert.IsType(t, CharCounter{}, counter)

	counter, err = NewTokenCounter("")
	require.NoError(t, err)
	assert.IsType(t, CharCounter{}, counter)
}

func TestNewTokenCounter_UnknownName(t *testing.T) {
	counter, err := NewTokenCounter("bpe")
	require.ErrorIs(t, err, ErrUnknownTokenizer)
	assert.Nil(t, counter)
}

func TestNewTokenCounter_TiktokenFallsBackToChars(t *testing.T) {
	counter, err := NewTokenCounter(TokenizerTiktoken)
	require.NotNil(t, counter)
	if err != nil {
		// Offline without cached ranks.
		assert.ErrorIs(t, err, ErrTokenizerUnavailable)
		assert.IsType(t, CharCounter{}, counter)
		return
	}
	assert.IsType(t, &TiktokenCounter{}, counter)
	assert.Positive(t, counter.Count("func main() {}"))
}
