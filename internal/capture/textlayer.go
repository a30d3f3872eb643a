package capture

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dslipak/pdf"
)

// ErrNoText is returned when a page carries no vector text.
var ErrNoText = errors.New("page has no text layer")

// PageText reads the vector text of page (1-based) from the PDF at path,
// one line per text row. Scans exported from capture tools often carry
// such a layer next to the page image.
func PageText(path string, page int) (string, error) {
	if page < 1 {
		page = 1
	}
	r, err := pdf.Open(path)
	if err != nil {
		return "", &SourceError{Kind: KindPDF, Operation: "text", Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	if page > r.NumPage() {
		return "", &SourceError{Kind: KindPDF, Operation: "text",
			Err: fmt.Errorf("%w: page %d out of range (document has %d)", ErrUnavailable, page, r.NumPage())}
	}
	p := r.Page(page)
	if p.V.IsNull() {
		return "", &SourceError{Kind: KindPDF, Operation: "text", Err: fmt.Errorf("page %d is null", page)}
	}

	text := pageRows(p)
	if strings.TrimSpace(text) == "" {
		return "", ErrNoText
	}
	return text, nil
}

func pageRows(p pdf.Page) string {
	var b strings.Builder
	rows, err := p.GetTextByRow()
	if err == nil && len(rows) > 0 {
		for _, row := range rows {
			words := make([]string, 0, len(row.Content))
			for _, t := range row.Content {
				words = append(words, t.S)
			}
			b.WriteString(strings.Join(words, ""))
			b.WriteByte('\n')
		}
		return b.String()
	}
	// Some producers emit text the row grouping cannot place.
	plain, err := p.GetPlainText(make(map[string]*pdf.Font))
	if err != nil {
		return ""
	}
	return plain
}
