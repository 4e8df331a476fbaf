package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding is one detected secret.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line"`
}

// Result is the outcome of scrubbing one file.
type Result struct {
	Content  string
	Findings []Finding
	ByRule   map[string]int
}

// Scrubber detects and redacts secrets. A nil *Scrubber is valid and
// returns content unchanged.
//
// Thread-safe.
type Scrubber struct {
	detector *detect.Detector
}

// New builds a Scrubber. It returns nil, nil when cfg is disabled.
func New(cfg Config) (*Scrubber, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading secret detection rules: %w", err)
	}
	if len(cfg.Allowlist) > 0 {
		allow := &gitleaksconfig.Allowlist{Description: "codeqa allowlist"}
		for _, p := range cfg.Allowlist {
			re := regexp.MustCompile(p)
			allow.Regexes = append(allow.Regexes, (*gitleaksregexp.Regexp)(re))
			allow.StopWords = append(allow.StopWords, p)
		}
		d.Config.Allowlists = append(d.Config.Allowlists, allow)
	}
	return &Scrubber{detector: d}, nil
}

// Scrub returns content with every detected secret replaced by a marker.
func (s *Scrubber) Scrub(content string) Result {
	res := Result{Content: content}
	if s == nil || content == "" {
		return res
	}

	found := s.detector.DetectString(content)
	if len(found) == 0 {
		return res
	}

	res.ByRule = make(map[string]int)
	var spans []span
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		res.Findings = append(res.Findings, Finding{RuleID: f.RuleID, Description: f.Description, Line: f.StartLine})
		res.ByRule[f.RuleID]++
		spans = append(spans, locate(content, f.Secret, f.RuleID)...)
	}
	res.Content = apply(content, merge(spans))
	return res
}

// Redact implements the ingestion redactor: it returns the scrubbed content
// and the number of secrets found.
func (s *Scrubber) Redact(_ string, content string) (string, int) {
	res := s.Scrub(content)
	return res.Content, len(res.Findings)
}

type span struct {
	start, end int
	ruleID     string
}

// locate finds every occurrence of secret in content.
func locate(content, secret, ruleID string) []span {
	var out []span
	for off := 0; ; {
		i := strings.Index(content[off:], secret)
		if i < 0 {
			return out
		}
		start := off + i
		out = append(out, span{start: start, end: start + len(secret), ruleID: ruleID})
		off = start + len(secret)
	}
}

// merge sorts spans and joins overlapping ones. The first rule wins.
func merge(spans []span) []span {
	if len(spans) == 0 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := []span{spans[0]}
	for _, cur := range spans[1:] {
		last := &merged[len(merged)-1]
		if cur.start <= last.end {
			last.end = max(last.end, cur.end)
			continue
		}
		merged = append(merged, cur)
	}
	return merged
}

// apply replaces each span with a marker followed by the newlines the
// secret covered, keeping line numbers stable.
func apply(content string, spans []span) string {
	var b strings.Builder
	b.Grow(len(content))
	prev := 0
	for _, sp := range spans {
		b.WriteString(content[prev:sp.start])
		b.WriteString("[REDACTED:" + sp.ruleID + "]")
		b.WriteString(strings.Repeat("\n", strings.Count(content[sp.start:sp.end], "\n")))
		prev = sp.end
	}
	b.WriteString(content[prev:])
	return b.String()
}
