package docsource

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

func para(text string) string {
	return `<w:p><w:r><w:t xml:space="preserve">` + text + `</w:t></w:r></w:p>`
}

// writeDocx builds a minimal .docx with the given body XML.
func writeDocx(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Wang_812409_20250402.docx")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := zip.NewWriter(f)
	w, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatal(err)
	}
	doc := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`
	if _, err := w.Write([]byte(doc)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestForPath(t *testing.T) {
	cases := map[string]Source{
		"a.pdf":  PDF{},
		"a.DOCX": DOCX{},
		"a.htm":  HTML{},
		"a.html": HTML{},
		"a.txt":  Text{},
	}
	for path, want := range cases {
		got, err := ForPath(path)
		if err != nil {
			t.Errorf("ForPath(%q): %v", path, err)
			continue
		}
		if got != want {
			t.Errorf("ForPath(%q) = %T, want %T", path, got, want)
		}
	}
	if _, err := ForPath("report.xlsx"); !errors.Is(err, ErrUnsupported) {
		t.Errorf("ForPath(xlsx) error = %v, want ErrUnsupported", err)
	}
	if Supported("notes.md") || !Supported("x.PDF") {
		t.Error("Supported disagrees with ForPath")
	}
	if got := strings.Join(Extensions(), ","); got != ".docx,.htm,.html,.pdf,.txt" {
		t.Errorf("Extensions = %s", got)
	}
}

func TestDOCX_ParagraphsAndTables(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 60; i++ {
		if i == 50 {
			b.WriteString(`<w:p/>`)
			continue
		}
		b.WriteString(para(fmt.Sprintf("paragraph %d", i)))
	}
	b.WriteString(`<w:tbl>` +
		`<w:tr><w:tc>` + para("Item") + `</w:tc><w:tc>` + para("Description") + `</w:tc></w:tr>` +
		`<w:tr><w:tc>` + para("1") + `</w:tc><w:tc><w:p/></w:tc><w:tc>` + para("ICF v3") + para("missing") + `</w:tc></w:tr>` +
		`</w:tbl>`)
	b.WriteString(para("after the table"))
	path := writeDocx(t, b.String())

	text, err := DOCX{}.ExtractText(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	lines := strings.Split(text, "\n")
	if lines[0] != "--- PAGE 1 ---" || lines[1] != "paragraph 0" {
		t.Errorf("unexpected start %q", lines[:2])
	}
	if !strings.Contains(text, "paragraph 49\n--- PAGE 2 ---\nparagraph 51") {
		t.Error("expected a page 2 marker at paragraph 50")
	}
	if strings.Count(text, "--- PAGE") != 2 {
		t.Errorf("expected 2 page markers:\n%s", text)
	}
	// Tables follow all paragraphs.
	if !strings.HasSuffix(text, "after the table\n\n--- TABLE ---\nItem | Description\n1 | ICF v3\nmissing") {
		t.Errorf("unexpected table rendering:\n%s", text)
	}

	md, err := DOCX{}.Metadata(path)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.Units != 61 || md.Tables != 1 || md.UnitKind != "paragraphs" || md.SizeBytes == 0 {
		t.Errorf("Metadata = %+v", md)
	}
}

func TestDOCX_TabsAndBreaks(t *testing.T) {
	path := writeDocx(t, `<w:p><w:r><w:t>Site</w:t><w:tab/><w:t>812409</w:t><w:br/><w:t>China</w:t></w:r></w:p>`)
	text, err := DOCX{}.ExtractText(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if text != "--- PAGE 1 ---\nSite\t812409\nChina" {
		t.Errorf("text = %q", text)
	}
}

func TestDOCX_NotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.docx")
	if err := os.WriteFile(path, []byte("not a zip"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (DOCX{}).ExtractText(context.Background(), path); err == nil {
		t.Error("expected an error for a non-zip docx")
	}
}

func TestText(t *testing.T) {
	path := filepath.Join("..", "..", "testdata", "docs", "Wang_812409_20250402.txt")
	text, err := ExtractText(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if !strings.HasPrefix(text, "--- PAGE 1 ---\nMONITORING VISIT REPORT") {
		t.Errorf("text not verbatim: %q", text[:40])
	}
	md, err := Text{}.Metadata(path)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if md.Units < 3 || md.UnitKind != "pages" {
		t.Errorf("Metadata = %+v", md)
	}
}

func TestHTML(t *testing.T) {
	path := filepath.Join("..", "..", "testdata", "docs", "notes.html")
	text, err := ExtractText(context.Background(), path)
	if err != nil {
		t.Fatalf("ExtractText: %v", err)
	}
	if !strings.HasPrefix(text, "--- PAGE 1 ---\n") {
		t.Errorf("missing page marker: %q", text)
	}
	if !strings.Contains(text, "protocol deviations") {
		t.Errorf("article text missing:\n%s", text)
	}
	if strings.Contains(text, "<p>") {
		t.Errorf("markup leaked into text:\n%s", text)
	}
}

func TestMissingFile(t *testing.T) {
	for _, path := range []string{"nope.txt", "nope.docx", "nope.pdf", "nope.html"} {
		if _, err := ExtractText(context.Background(), filepath.Join(t.TempDir(), path)); err == nil {
			t.Errorf("ExtractText(%s): expected an error", path)
		}
	}
}
