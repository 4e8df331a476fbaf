package answer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/codeqa/internal/vectorstore"
)

var (
	citationPattern = regexp.MustCompile(`([^:\s]+):(\d+)-(\d+)`)
	markerPattern   = regexp.MustCompile(`\[\d+\]`)
)

// UncertaintyPhrases mark an answer that admits it lacks support. Such an
// answer is valid without citing anything.
var UncertaintyPhrases = []string{
	"not sure",
	"uncertain",
	"not confident",
	"don't know",
	"not found",
	"couldn't find",
	"no relevant",
}

func citationRef(path string, start, end int) string {
	return path + ":" + strconv.Itoa(start) + "-" + strconv.Itoa(end)
}

// ExtractCitations pairs each path:start-end reference in answer with the
// first retrieved chunk of that exact path whose range contains start, with
// end clamped to the chunk's last line. When nothing in the answer matches,
// every chunk is cited.
func ExtractCitations(answer string, chunks []vectorstore.SearchResult) []Citation {
	var citations []Citation
	for _, m := range citationPattern.FindAllStringSubmatch(answer, -1) {
		path := m[1]
		start, err1 := strconv.Atoi(m[2])
		end, err2 := strconv.Atoi(m[3])
		if err1 != nil || err2 != nil {
			continue
		}
		for _, c := range chunks {
			if c.Path == path && c.StartLine <= start && start <= c.EndLine {
				cit := ChunkCitation(c)
				cit.Start, cit.End = start, min(end, c.EndLine)
				citations = append(citations, cit)
				break
			}
		}
	}
	if len(citations) > 0 {
		return citations
	}

	citations = make([]Citation, 0, len(chunks))
	for _, c := range chunks {
		citations = append(citations, ChunkCitation(c))
	}
	return citations
}

// CleanAnswer strips numeric [n] markers and surrounding whitespace.
func CleanAnswer(answer string) string {
	return strings.TrimSpace(markerPattern.ReplaceAllString(answer, ""))
}

// Validate reports whether answer is non-empty and either references one of
// citations verbatim or admits uncertainty.
func Validate(answer string, citations []Citation) bool {
	if strings.TrimSpace(answer) == "" {
		return false
	}
	if IsUncertain(answer) {
		return true
	}
	for _, c := range citations {
		if strings.Contains(answer, c.Ref()) {
			return true
		}
	}
	return false
}

// IsUncertain reports whether answer contains an uncertainty phrase.
func IsUncertain(answer string) bool {
	lower := strings.ToLower(answer)
	for _, phrase := range UncertaintyPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}
