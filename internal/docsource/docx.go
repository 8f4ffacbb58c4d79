package docsource

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dshills/movreport/internal/textseg"
)

// ParagraphsPerPage is how many body paragraphs share one synthetic page.
const ParagraphsPerPage = 50

const (
	documentPart = "word/document.xml"
	tableMarker  = "--- TABLE ---"
)

// DOCX extracts body paragraphs with a synthetic page marker every
// ParagraphsPerPage paragraphs, then appends each table as a TABLE block
// with one line per row and non-empty cells joined by " | ".
type DOCX struct{}

func (DOCX) ExtractText(ctx context.Context, path string) (string, error) {
	body, err := readDocx(path)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return body.text(), nil
}

func (DOCX) Metadata(path string) (Metadata, error) {
	size, err := fileSize(path)
	if err != nil {
		return Metadata{}, err
	}
	body, err := readDocx(path)
	if err != nil {
		return Metadata{}, err
	}
	return Metadata{
		Units:     len(body.paragraphs),
		UnitKind:  "paragraphs",
		Tables:    len(body.tables),
		SizeBytes: size,
	}, nil
}

type docxBody struct {
	// paragraphs holds every top-level paragraph, empty ones included, so
	// page numbering follows paragraph position.
	paragraphs []string
	tables     [][][]string
}

func (b docxBody) text() string {
	var parts []string
	page := 0
	for i, p := range b.paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if n := i/ParagraphsPerPage + 1; n != page {
			page = n
			parts = append(parts, textseg.PageMarker(page))
		}
		parts = append(parts, p)
	}
	for _, t := range b.tables {
		var rows []string
		for _, row := range t {
			var cells []string
			for _, c := range row {
				if c = strings.TrimSpace(c); c != "" {
					cells = append(cells, c)
				}
			}
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		}
		if len(rows) > 0 {
			parts = append(parts, "\n"+tableMarker, strings.Join(rows, "\n"))
		}
	}
	return strings.Join(parts, "\n")
}

func readDocx(path string) (docxBody, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return docxBody{}, fmt.Errorf("docsource: open docx %s: %w", path, err)
	}
	defer zr.Close()
	for _, f := range zr.File {
		if f.Name != documentPart {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return docxBody{}, fmt.Errorf("docsource: docx %s: %w", path, err)
		}
		defer rc.Close()
		body, err := parseDocumentXML(rc)
		if err != nil {
			return docxBody{}, fmt.Errorf("docsource: docx %s: %w", path, err)
		}
		return body, nil
	}
	return docxBody{}, fmt.Errorf("docsource: docx %s: missing %s", path, documentPart)
}

// parseDocumentXML walks the WordprocessingML body. Text inside tables goes
// to the enclosing top-level cell, nested tables included.
func parseDocumentXML(r io.Reader) (docxBody, error) {
	var (
		body     docxBody
		dec      = xml.NewDecoder(r)
		depth    int // table nesting
		inText   bool
		para     strings.Builder
		cell     strings.Builder
		row      []string
		table    [][]string
		cellPara bool
	)
	write := func(s string) {
		if depth > 0 {
			cell.WriteString(s)
			return
		}
		para.WriteString(s)
	}
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return docxBody{}, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				depth++
				if depth == 1 {
					table = nil
				}
			case "tr":
				if depth == 1 {
					row = nil
				}
			case "tc":
				if depth == 1 {
					cell.Reset()
					cellPara = false
				}
			case "p":
				if depth == 0 {
					para.Reset()
				} else if cellPara {
					cell.WriteString("\n")
				}
			case "t":
				inText = true
			case "tab":
				write("\t")
			case "br", "cr":
				write("\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				depth--
				if depth == 0 {
					body.tables = append(body.tables, table)
				}
			case "tr":
				if depth == 1 {
					table = append(table, row)
				}
			case "tc":
				if depth == 1 {
					row = append(row, cell.String())
				}
			case "p":
				if depth == 0 {
					body.paragraphs = append(body.paragraphs, para.String())
				} else {
					cellPara = true
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				write(string(t))
			}
		}
	}
	return body, nil
}
