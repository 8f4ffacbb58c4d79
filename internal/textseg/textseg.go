// Package textseg segments extracted document text into pages and cuts the
// bounded excerpts each sub-extractor sends to the model.
package textseg

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// SignatureSeparator joins the leading and trailing parts of a header excerpt.
const SignatureSeparator = "\n\n--- END OF DOCUMENT SIGNATURE SECTION ---\n\n"

// Excerpt fractions used by the sub-extractors.
const (
	HeaderHeadFraction     = 0.20
	HeaderTailFraction     = 0.05
	AssessmentTailFraction = 0.40
)

// pageMarkerRe matches the page markers written by document text sources.
var pageMarkerRe = regexp.MustCompile(`^--- PAGE (\d+) ---$`)

// PageMarker formats the marker line inserted before page n.
func PageMarker(n int) string { return fmt.Sprintf("--- PAGE %d ---", n) }

// Page is one marked page of document text.
type Page struct {
	Number    int
	LineStart int
	LineEnd   int
	Text      string
}

// Pages splits text on "--- PAGE n ---" markers. Text before the first marker
// is returned as page 0 when it is not blank. Text with no markers is a
// single page 1.
func Pages(text string) ([]Page, error) {
	return PagesFrom(strings.NewReader(text))
}

// PagesFrom reads from r and splits it into pages.
func PagesFrom(r io.Reader) ([]Page, error) {
	scanner := bufio.NewScanner(r)
	// Table rows in converted documents can be very long.
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	var (
		pages   []Page
		cur     = Page{Number: 0, LineStart: 1}
		body    []string
		lineNo  int
		sawMark bool
	)
	flush := func(end int) {
		joined := strings.TrimSpace(strings.Join(body, "\n"))
		if cur.Number > 0 || joined != "" {
			cur.LineEnd = end
			cur.Text = joined
			pages = append(pages, cur)
		}
		body = body[:0]
	}
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if m := pageMarkerRe.FindStringSubmatch(strings.TrimSpace(line)); m != nil {
			flush(lineNo - 1)
			n, _ := strconv.Atoi(m[1])
			cur = Page{Number: n, LineStart: lineNo + 1}
			sawMark = true
			continue
		}
		body = append(body, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("textseg: scan: %w", err)
	}
	if !sawMark && len(pages) == 0 {
		cur.Number = 1
	}
	flush(lineNo)
	return pages, nil
}

// Head returns the leading frac of text, measured in runes.
func Head(text string, frac float64) string {
	r := []rune(text)
	return string(r[:runeCount(len(r), frac)])
}

// Tail returns the trailing frac of text, measured in runes.
func Tail(text string, frac float64) string {
	r := []rune(text)
	return string(r[len(r)-runeCount(len(r), frac):])
}

// Cap truncates text to at most n runes.
func Cap(text string, n int) string {
	if n <= 0 {
		return text
	}
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n])
}

// HeaderExcerpt is the leading 20% of text followed by the trailing 5%, where
// signature blocks usually carry the visit dates.
func HeaderExcerpt(text string) string {
	return Head(text, HeaderHeadFraction) + SignatureSeparator + Tail(text, HeaderTailFraction)
}

// AssessmentExcerpt is the trailing 40% of text, where the visit summary and
// risk assessment sections live.
func AssessmentExcerpt(text string) string {
	return Tail(text, AssessmentTailFraction)
}

func runeCount(total int, frac float64) int {
	switch {
	case frac <= 0:
		return 0
	case frac >= 1:
		return total
	}
	return int(float64(total) * frac)
}
