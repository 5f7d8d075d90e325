package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/errs"
	"github.com/docquery/backend/pkg/logger"
)

// PDFExtractor extracts text page by page so that page spans line up exactly
// with character offsets in the returned text.
type PDFExtractor struct{}

func (e *PDFExtractor) Extract(data []byte) (string, []PageSpan, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", nil, fmt.Errorf("%w: not a valid PDF document: %v", errs.ErrInvalidInput, err)
	}

	var sb strings.Builder
	var pages []PageSpan

	numPages := reader.NumPage()
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		start := sb.Len()

		page := reader.Page(pageNum)
		if !page.V.IsNull() {
			pageText, err := page.GetPlainText(nil)
			if err != nil {
				logger.Warn("Failed to extract page text",
					zap.Int("page", pageNum),
					zap.Error(err),
				)
			} else {
				sb.WriteString(pageText)
			}
		}
		sb.WriteString("\n")

		pages = append(pages, PageSpan{
			Number:    pageNum,
			StartChar: start,
			EndChar:   sb.Len(),
		})
	}

	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", nil, fmt.Errorf("%w: no text content extracted from PDF", errs.ErrInvalidInput)
	}

	logger.Debug("PDF text extracted",
		zap.Int("pages", numPages),
		zap.Int("chars", len(text)),
	)

	return text, pages, nil
}
