// Package extract turns uploaded document bytes into plain-text units for
// chunking. PDFs yield one unit per page; other formats yield one unit for
// the whole document.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
)

type Extractor interface {
	Extract(data []byte) ([]string, error)
}

type Registry struct {
	extractors map[string]Extractor
}

func NewRegistry() *Registry {
	return &Registry{
		extractors: map[string]Extractor{
			"txt":  PlainText{},
			"md":   PlainText{},
			"html": HTML{},
			"pdf":  PDF{},
		},
	}
}

func (r *Registry) ForType(fileType string) (Extractor, bool) {
	e, ok := r.extractors[fileType]
	return e, ok
}

func (r *Registry) Extract(fileType string, data []byte) ([]string, error) {
	e, ok := r.ForType(fileType)
	if !ok {
		return nil, fmt.Errorf("no extractor for file type %q", fileType)
	}
	return e.Extract(data)
}

// FileType maps a MIME content type (with filename extension fallback) to
// the short type names used in the allowed-types configuration.
func FileType(contentType, filename string) string {
	mime := contentType
	if i := strings.Index(mime, ";"); i >= 0 {
		mime = mime[:i]
	}
	mime = strings.ToLower(strings.TrimSpace(mime))

	switch mime {
	case "application/pdf":
		return "pdf"
	case "text/plain":
		return "txt"
	case "text/markdown", "text/x-markdown":
		return "md"
	case "text/html":
		return "html"
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "pdf"
	case ".txt":
		return "txt"
	case ".md", ".markdown":
		return "md"
	case ".html", ".htm":
		return "html"
	}

	return mime
}
