// Package extract turns raw file bytes into best-effort plain text. Formats
// are registered per extension; unknown extensions fall back to safe text
// decoding so binary-ish input never aborts indexing.
package extract

import (
	"path/filepath"
	"strings"
)

// Extractor produces best-effort text from raw bytes.
type Extractor interface {
	Extract(content []byte) (string, error)
}

// Func adapts a function to the Extractor interface.
type Func func(content []byte) (string, error)

// Extract calls f.
func (f Func) Extract(content []byte) (string, error) { return f(content) }

// Registry maps filename extensions to extractors. New formats plug in via
// Register without touching the dispatch.
type Registry struct {
	byExt    map[string]Extractor
	fallback Extractor
}

// NewRegistry returns a registry with the built-in formats registered and
// plain-text decoding as the fallback.
func NewRegistry() *Registry {
	r := &Registry{
		byExt:    make(map[string]Extractor),
		fallback: Func(extractPlain),
	}
	r.Register(".pdf", Func(extractPDF))
	r.Register(".docx", Func(extractDOCX))
	r.Register(".pptx", Func(extractPPTX))
	r.Register(".xlsx", Func(extractExcel))
	r.Register(".odp", Func(extractODP))
	r.Register(".ods", Func(extractODS))
	r.Register(".html", Func(extractHTML))
	r.Register(".htm", Func(extractHTML))
	for _, ext := range []string{".txt", ".md", ".rst", ".csv", ".log", ".json", ".yaml", ".yml"} {
		r.Register(ext, Func(extractPlain))
	}
	return r
}

// Register maps an extension (with leading dot, case-insensitive) to e.
func (r *Registry) Register(ext string, e Extractor) {
	r.byExt[strings.ToLower(ext)] = e
}

// Extract picks the extractor for name's extension and runs it; unrecognized
// extensions use the fallback. Callers treat extractor errors as empty text.
func (r *Registry) Extract(name string, content []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if e, ok := r.byExt[ext]; ok {
		return e.Extract(content)
	}
	return r.fallback.Extract(content)
}
