// Package secrets redacts credentials from source files before they are
// chunked, embedded and stored.
//
// Detection uses the gitleaks default rule set. Each secret is replaced by
// a [REDACTED:rule-id] marker that keeps the line structure of the file, so
// chunk line ranges and citations still point at the right lines.
package secrets
