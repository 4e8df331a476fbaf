package chunker

import (
	"path/filepath"
	"strings"
)

// UnknownLanguage is reported for extensions outside the language map.
const UnknownLanguage = "unknown"

var languageByExt = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".jsx":   "javascript",
	".ts":    "typescript",
	".tsx":   "typescript",
	".java":  "java",
	".kt":    "kotlin",
	".go":    "go",
	".rb":    "ruby",
	".rs":    "rust",
	".php":   "php",
	".cs":    "csharp",
	".c":     "c",
	".h":     "c",
	".hpp":   "cpp",
	".cc":    "cpp",
	".cpp":   "cpp",
	".m":     "objective-c",
	".mm":    "objective-c",
	".swift": "swift",
	".sh":    "bash",
	".bash":  "bash",
	".env":   "bash",
	".zsh":   "zsh",
	".json":  "json",
	".yml":   "yaml",
	".yaml":  "yaml",
	".toml":  "toml",
	".ini":   "ini",
	".cfg":   "ini",
	".md":    "markdown",
	".rst":   "rst",
	".txt":   "text",
	".html":  "html",
	".css":   "css",
	".scss":  "scss",
	".sql":   "sql",
}

// Language derives a language name from the file extension.
func Language(path string) string {
	if lang, ok := languageByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return lang
	}
	return UnknownLanguage
}

// IsTextExtension reports whether path has an extension known to hold text.
func IsTextExtension(path string) bool {
	_, ok := languageByExt[strings.ToLower(filepath.Ext(path))]
	return ok
}
