package scanner

import (
	"path/filepath"
	"strings"

	"github.com/ctxgraph/ctxgraph/pkg/types"
)

// extensionLanguages maps file extensions (without dot) to detected languages.
var extensionLanguages = map[string]types.Language{
	"go": types.LangGo,

	"ts":  types.LangTypeScript,
	"tsx": types.LangTypeScript,
	"mts": types.LangTypeScript,
	"cts": types.LangTypeScript,

	"js":  types.LangJavaScript,
	"jsx": types.LangJavaScript,
	"mjs": types.LangJavaScript,
	"cjs": types.LangJavaScript,

	"py":  types.LangPython,
	"pyi": types.LangPython,
}

// DetectLanguage maps a file path to its language; unknown extensions fall
// back to plain text.
func DetectLanguage(path string) types.Language {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if lang, ok := extensionLanguages[ext]; ok {
		return lang
	}
	return types.LangText
}

// IsIndexable reports whether the extension belongs to a language the
// pipeline extracts symbols from.
func IsIndexable(path string) bool {
	_, ok := extensionLanguages[strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))]
	return ok
}

// IsBinaryContent checks the first 512 bytes for null bytes, which indicate
// binary data.
func IsBinaryContent(data []byte) bool {
	n := len(data)
	if n > 512 {
		n = 512
	}
	for i := 0; i < n; i++ {
		if data[i] == 0 {
			return true
		}
	}
	return false
}
