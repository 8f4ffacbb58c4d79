package docsource

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	readability "github.com/go-shiori/go-readability"

	"github.com/dshills/movreport/internal/textseg"
)

// HTML extracts the readable article text of a saved page as a single
// page.
type HTML struct{}

func (HTML) ExtractText(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("docsource: open %s: %w", path, err)
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("docsource: %s: %w", path, err)
	}
	pageURL := &url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	article, err := readability.FromReader(f, pageURL)
	if err != nil {
		return "", fmt.Errorf("docsource: readability %s: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text := strings.TrimSpace(article.TextContent)
	if article.Title != "" && !strings.HasPrefix(text, article.Title) {
		text = article.Title + "\n\n" + text
	}
	return textseg.PageMarker(1) + "\n" + text + "\n", nil
}

func (HTML) Metadata(path string) (Metadata, error) {
	size, err := fileSize(path)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{Units: 1, UnitKind: "pages", SizeBytes: size}, nil
}
