// Package docsource turns source documents into plain text carrying
// "--- PAGE n ---" position markers. Formats are selected by extension.
package docsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dshills/movreport/internal/textseg"
)

// ErrUnsupported is returned for file types no Source handles.
var ErrUnsupported = errors.New("docsource: unsupported document type")

// Metadata describes a document without extracting its text.
type Metadata struct {
	// Units is the page count for page-oriented formats and the paragraph
	// count for paragraph-oriented ones.
	Units     int    `json:"units"`
	UnitKind  string `json:"unit_kind"`
	Tables    int    `json:"tables,omitempty"`
	SizeBytes int64  `json:"size_bytes"`
}

// Source extracts text and metadata from one document format.
type Source interface {
	ExtractText(ctx context.Context, path string) (string, error)
	Metadata(path string) (Metadata, error)
}

var sources = map[string]Source{
	".pdf":  PDF{},
	".docx": DOCX{},
	".html": HTML{},
	".htm":  HTML{},
	".txt":  Text{},
}

// ForPath returns the Source for path's extension.
func ForPath(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))
	s, ok := sources[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
	return s, nil
}

// Supported reports whether some Source handles path.
func Supported(path string) bool {
	_, ok := sources[strings.ToLower(filepath.Ext(path))]
	return ok
}

// Extensions lists the handled extensions, sorted.
func Extensions() []string {
	out := make([]string, 0, len(sources))
	for ext := range sources {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// ExtractText is ForPath followed by Source.ExtractText.
func ExtractText(ctx context.Context, path string) (string, error) {
	s, err := ForPath(path)
	if err != nil {
		return "", err
	}
	return s.ExtractText(ctx, path)
}

// Text reads plain text verbatim.
type Text struct{}

func (Text) ExtractText(ctx context.Context, path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("docsource: read %s: %w", path, err)
	}
	return string(b), nil
}

func (Text) Metadata(path string) (Metadata, error) {
	size, err := fileSize(path)
	if err != nil {
		return Metadata{}, err
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("docsource: read %s: %w", path, err)
	}
	pages, err := textseg.Pages(string(b))
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Units: len(pages), UnitKind: "pages", SizeBytes: size}, nil
}

func fileSize(path string) (int64, error) {
	st, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("docsource: stat %s: %w", path, err)
	}
	return st.Size(), nil
}
