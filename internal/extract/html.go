package extract

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/docquery/backend/internal/errs"
)

var whitespaceRE = regexp.MustCompile(`\s+`)

// HTMLExtractor strips boilerplate elements and returns the body text. HTML
// has no page structure, so the whole text is a single synthetic page.
type HTMLExtractor struct{}

func (e *HTMLExtractor) Extract(data []byte) (string, []PageSpan, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", nil, fmt.Errorf("%w: not a valid HTML document: %v", errs.ErrInvalidInput, err)
	}

	doc.Find("script, style, nav, footer, header, aside").Each(func(i int, s *goquery.Selection) {
		s.Remove()
	})

	text := doc.Find("body").Text()
	text = whitespaceRE.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if text == "" {
		return "", nil, fmt.Errorf("%w: no text content extracted from HTML", errs.ErrInvalidInput)
	}

	pages := []PageSpan{{Number: 1, StartChar: 0, EndChar: len(text)}}
	return text, pages, nil
}
