// Package snippet extracts bounded code windows around cited line ranges.
package snippet

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/fyrsmithlabs/codeqa/internal/chunker"
)

// Defaults for Extract.
const (
	DefaultContextLines = 6
	DefaultMaxChars     = 1200
)

// ErrPathTraversal is returned when a path resolves outside the repository root.
var ErrPathTraversal = errors.New("path escapes repository root")

const (
	binarySniffLen = 8192
	ellipsis       = "\n...\n"
)

// Snippet is a window of source lines around a cited range.
type Snippet struct {
	RepoID      string `json:"repo_id,omitempty"`
	Path        string `json:"path"`
	Language    string `json:"language"`
	Start       int    `json:"start"`
	End         int    `json:"end"`
	WindowStart int    `json:"window_start"`
	WindowEnd   int    `json:"window_end"`
	Code        string `json:"code"`
}

// Extract reads relPath under repoRoot and returns lines [start, end] widened
// by contextLines on each side, truncated to maxChars.
//
// ok is false with a nil error when the file is missing, not a regular file,
// unreadable, empty or binary. A path that escapes repoRoot returns
// ErrPathTraversal.
func Extract(repoRoot, relPath string, start, end, contextLines, maxChars int) (Snippet, bool, error) {
	path, err := resolve(repoRoot, relPath)
	if err != nil {
		return Snippet{}, false, err
	}
	if path == "" {
		return Snippet{}, false, nil
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return Snippet{}, false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return Snippet{}, false, nil
	}
	if bytes.IndexByte(data[:min(len(data), binarySniffLen)], 0) >= 0 {
		return Snippet{}, false, nil
	}

	text := strings.ToValidUTF8(string(data), "�")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	total := len(lines)

	if contextLines < 0 {
		contextLines = 0
	}
	start = max(1, start)
	end = max(end, start)

	var windowStart, windowEnd int
	if start > total {
		windowStart = max(1, total-contextLines)
		windowEnd = total
	} else {
		windowStart = max(1, start-contextLines)
		windowEnd = min(total, end+contextLines)
	}

	code := strings.Join(lines[windowStart-1:windowEnd], "\n")
	if maxChars > 0 {
		code = Truncate(code, maxChars)
	}

	return Snippet{
		Path:        filepath.ToSlash(relPath),
		Language:    chunker.Language(relPath),
		Start:       start,
		End:         end,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Code:        code,
	}, true, nil
}

// Truncate keeps the first and last maxChars/2 bytes of code joined by an
// ellipsis line. Cuts fall on rune boundaries.
func Truncate(code string, maxChars int) string {
	if len(code) <= maxChars {
		return code
	}
	half := maxChars / 2

	head := half
	for head > 0 && !utf8.RuneStart(code[head]) {
		head--
	}
	tail := len(code) - half
	for tail < len(code) && !utf8.RuneStart(code[tail]) {
		tail++
	}
	return code[:head] + ellipsis + code[tail:]
}

// Preview returns the first n lines of code.
func Preview(code string, n int) string {
	lines := strings.SplitN(code, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// resolve returns the absolute file path for relPath, or "" when the file
// does not exist. Symlinks are followed before the containment check.
func resolve(repoRoot, relPath string) (string, error) {
	if relPath == "" || filepath.IsAbs(relPath) || strings.HasPrefix(relPath, "/") {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, relPath)
	}

	root, err := filepath.Abs(repoRoot)
	if err != nil {
		return "", nil
	}
	joined := filepath.Join(root, filepath.FromSlash(relPath))
	if !within(root, joined) {
		return "", fmt.Errorf("%w: %q", ErrPathTraversal, relPath)
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", nil
	}
	real, err := filepath.EvalSymlinks(joined)
	if err != nil {
		return "", nil
	}
	if !within(realRoot, real) {
		return "", fmt.Errorf("%w: %q resolves outside the repository", ErrPathTraversal, relPath)
	}
	return real, nil
}

func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
