package retrieval

import (
	"strings"
	"unicode"

	prose "github.com/jdkato/prose/v2"
)

// tokenize lowercases the query and splits it into word tokens, dropping
// punctuation. Falls back to whitespace splitting if tokenization fails.
func tokenize(query string) []string {
	doc, err := prose.NewDocument(
		strings.ToLower(query),
		prose.WithTagging(false),
		prose.WithExtraction(false),
		prose.WithSegmentation(false),
	)
	if err != nil {
		return strings.Fields(strings.ToLower(query))
	}

	var words []string
	for _, tok := range doc.Tokens() {
		if !hasLetterOrDigit(tok.Text) {
			continue
		}
		words = append(words, tok.Text)
	}
	return words
}

func hasLetterOrDigit(s string) bool {
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
