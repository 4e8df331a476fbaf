// Package ignore decides which repository files are eligible for ingestion.
//
// Include and exclude patterns are gitignore-style globs matched against
// slash-separated paths relative to the repository root. "**" spans any
// number of segments, and a pattern without a slash also matches the file's
// base name. Exclusion always wins over inclusion. A root .gitignore adds
// its rules (negation included) to the exclusions.
package ignore

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/gobwas/glob"
)

// Default patterns applied when a request names none.
var (
	DefaultIncludePatterns = []string{"**/*.py", "**/*.ts", "**/*.js", "**/*.go"}
	DefaultExcludePatterns = []string{".git/**", "node_modules/**", "dist/**", "build/**", ".venv/**"}
)

// Pattern is one compiled glob.
type Pattern struct {
	source   string
	globs    []glob.Glob
	basename bool
}

// Compile compiles a gitignore-style glob.
func Compile(pattern string) (Pattern, error) {
	p := strings.TrimPrefix(filepath.ToSlash(strings.TrimSpace(pattern)), "/")
	if p == "" {
		return Pattern{}, fmt.Errorf("empty pattern")
	}
	if strings.HasSuffix(p, "/") {
		p += "**"
	}

	sources := []string{p}
	// "**/x" also matches "x" at the root.
	for rest := p; strings.HasPrefix(rest, "**/"); {
		rest = strings.TrimPrefix(rest, "**/")
		sources = append(sources, rest)
	}

	compiled := Pattern{source: pattern, basename: !strings.Contains(p, "/")}
	for _, s := range sources {
		g, err := glob.Compile(s, '/')
		if err != nil {
			return Pattern{}, fmt.Errorf("invalid pattern %q: %w", pattern, err)
		}
		compiled.globs = append(compiled.globs, g)
	}
	return compiled, nil
}

// Match reports whether the slash-separated relative path matches.
func (p Pattern) Match(rel string) bool {
	for _, g := range p.globs {
		if g.Match(rel) {
			return true
		}
	}
	if p.basename {
		base := path.Base(rel)
		for _, g := range p.globs {
			if g.Match(base) {
				return true
			}
		}
	}
	return false
}

// String returns the source pattern.
func (p Pattern) String() string { return p.source }

// Rules is a compiled include/exclude set.
type Rules struct {
	include   []Pattern
	exclude   []Pattern
	gitignore gitignore.Matcher
}

// NewRules compiles include and exclude patterns. An empty include list
// includes every file.
func NewRules(include, exclude []string) (*Rules, error) {
	r := &Rules{}
	for _, s := range include {
		p, err := Compile(s)
		if err != nil {
			return nil, fmt.Errorf("include: %w", err)
		}
		r.include = append(r.include, p)
	}
	for _, s := range exclude {
		p, err := Compile(s)
		if err != nil {
			return nil, fmt.Errorf("exclude: %w", err)
		}
		r.exclude = append(r.exclude, p)
	}
	return r, nil
}

// LoadGitignore adds the rules of root/.gitignore, if present.
func (r *Rules) LoadGitignore(root string) error {
	patterns, err := ParseGitignore(filepath.Join(root, ".gitignore"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(patterns) > 0 {
		r.gitignore = gitignore.NewMatcher(patterns)
	}
	return nil
}

// Excluded reports whether rel matches an exclude pattern or the gitignore.
func (r *Rules) Excluded(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	for _, p := range r.exclude {
		if p.Match(rel) {
			return true
		}
	}
	if r.gitignore != nil && r.gitignore.Match(strings.Split(rel, "/"), isDir) {
		return true
	}
	return false
}

// Included reports whether rel matches an include pattern.
func (r *Rules) Included(rel string) bool {
	if len(r.include) == 0 {
		return true
	}
	rel = filepath.ToSlash(rel)
	for _, p := range r.include {
		if p.Match(rel) {
			return true
		}
	}
	return false
}

// Allowed reports whether a file is included and not excluded.
func (r *Rules) Allowed(rel string) bool {
	return !r.Excluded(rel, false) && r.Included(rel)
}

// ParseGitignore reads a gitignore file into go-git patterns.
func ParseGitignore(file string) ([]gitignore.Pattern, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var patterns []gitignore.Pattern
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), " \t\r")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, gitignore.ParsePattern(line, nil))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// Merge concatenates pattern lists, dropping blanks and duplicates while
// preserving order.
func Merge(lists ...[]string) []string {
	seen := make(map[string]bool)
	var result []string
	for _, list := range lists {
		for _, p := range list {
			p = strings.TrimSpace(p)
			if p == "" || seen[p] {
				continue
			}
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
