package ingestion

import (
	"unicode"

	"github.com/docquery/backend/internal/extract"
)

// Chunk is one bounded span of document text. StartChar/EndChar index into
// the extracted text, so Content == text[StartChar:EndChar].
type Chunk struct {
	Index      int
	Content    string
	PageNumber int
	StartChar  int
	EndChar    int
}

// Chunker splits extracted text into chunks of MinChunkSize..MaxChunkSize
// characters, breaking at word boundaries, with OverlapSize characters of
// overlap between consecutive chunks.
type Chunker struct {
	MinChunkSize int
	MaxChunkSize int
	OverlapSize  int
}

func NewChunker(minSize, maxSize, overlap int) *Chunker {
	if minSize <= 0 {
		minSize = 500
	}
	if maxSize <= minSize {
		maxSize = minSize * 3
	}
	if overlap < 0 || overlap >= maxSize {
		overlap = 0
	}
	return &Chunker{MinChunkSize: minSize, MaxChunkSize: maxSize, OverlapSize: overlap}
}

type wordSpan struct {
	start int
	end   int
}

// fieldsWithOffsets is strings.Fields with byte offsets preserved.
func fieldsWithOffsets(s string) []wordSpan {
	var words []wordSpan
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, wordSpan{start: start, end: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, wordSpan{start: start, end: len(s)})
	}
	return words
}

// Split chunks the text. Chunk contents are raw slices of the input, so
// concatenating each chunk's suffix past the previous chunk's end
// reconstructs the text between the first and last word. A document shorter
// than MinChunkSize yields exactly one chunk; a trailing fragment below the
// minimum folds into the last chunk so coverage holds. Page numbers come
// from the extractor's page spans and are non-decreasing.
func (c *Chunker) Split(text string, pages []extract.PageSpan) []Chunk {
	words := fieldsWithOffsets(text)
	if len(words) == 0 {
		return nil
	}

	var chunks []Chunk
	first := 0

	for first < len(words) {
		chunkStart := words[first].start
		last := first
		for last+1 < len(words) && words[last+1].end-chunkStart <= c.MaxChunkSize {
			last++
		}
		chunkEnd := words[last].end

		if len(chunks) > 0 && last == len(words)-1 && chunkEnd-chunkStart < c.MinChunkSize {
			// Trailing fragment too small to stand alone.
			prev := &chunks[len(chunks)-1]
			prev.Content = text[prev.StartChar:chunkEnd]
			prev.EndChar = chunkEnd
			break
		}

		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Content:    text[chunkStart:chunkEnd],
			PageNumber: extract.PageForPosition(chunkStart, pages),
			StartChar:  chunkStart,
			EndChar:    chunkEnd,
		})

		if last == len(words)-1 {
			break
		}

		// Next chunk starts at the first word inside the overlap window.
		overlapStart := chunkEnd - c.OverlapSize
		next := last + 1
		for w := last; w > first; w-- {
			if words[w].start < overlapStart {
				break
			}
			next = w
		}
		first = next
	}

	return chunks
}
