package docsource

import (
	"context"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/dshills/movreport/internal/textseg"
)

// PDF extracts text page by page, writing a marker before each page that
// yields text. Pages without a text layer are skipped.
type PDF struct{}

func (PDF) ExtractText(ctx context.Context, path string) (string, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("docsource: open pdf %s: %w", path, err)
	}
	defer f.Close()

	var parts []string
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		text, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("docsource: pdf %s page %d: %w", path, i, err)
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		parts = append(parts, textseg.PageMarker(i)+"\n"+text+"\n")
	}
	return strings.Join(parts, "\n"), nil
}

func (PDF) Metadata(path string) (Metadata, error) {
	size, err := fileSize(path)
	if err != nil {
		return Metadata{}, err
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("docsource: open pdf %s: %w", path, err)
	}
	defer f.Close()
	return Metadata{Units: r.NumPage(), UnitKind: "pages", SizeBytes: size}, nil
}
