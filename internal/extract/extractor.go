package extract

import (
	"fmt"
	"strings"

	"github.com/docquery/backend/internal/errs"
)

// PageSpan records which character range of the extracted text a source page
// produced. Spans are contiguous and in page order.
type PageSpan struct {
	Number    int
	StartChar int
	EndChar   int
}

// Extractor turns raw document bytes into plain text plus page spans.
// Implementations are interchangeable; the content type picks one.
type Extractor interface {
	Extract(data []byte) (string, []PageSpan, error)
}

// SelectorFunc resolves an Extractor for a content type and filename.
type SelectorFunc func(contentType, filename string) (Extractor, error)

// ForContentType is the default selector: PDF for application/pdf or a .pdf
// filename, HTML for text/html.
func ForContentType(contentType, filename string) (Extractor, error) {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "pdf") || strings.HasSuffix(strings.ToLower(filename), ".pdf"):
		return &PDFExtractor{}, nil
	case strings.Contains(ct, "text/html"):
		return &HTMLExtractor{}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", errs.ErrInvalidInput, contentType)
	}
}

// PageForPosition returns the page a character position falls on. Positions
// past the last span map to the last page.
func PageForPosition(pos int, pages []PageSpan) int {
	for _, p := range pages {
		if p.StartChar <= pos && pos < p.EndChar {
			return p.Number
		}
	}
	if len(pages) > 0 {
		return pages[len(pages)-1].Number
	}
	return 1
}
