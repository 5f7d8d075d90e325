package retrieval

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/docquery/backend/internal/storage/models"
	"github.com/docquery/backend/internal/vector"
	"github.com/docquery/backend/pkg/logger"
	"github.com/docquery/backend/pkg/utils"
)

// ScoredChunk pairs a stored chunk with its relevance score for a query.
type ScoredChunk struct {
	Chunk models.DocumentChunk
	Score float64
}

// ChunkSource provides a document's chunks in chunk-index order. The sqlite
// client satisfies this.
type ChunkSource interface {
	GetChunks(docID string) ([]models.DocumentChunk, error)
}

// Embedder computes query embeddings. The llm client satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Configured() bool
}

// EmbeddingCache is an optional cache for query embeddings, keyed by text
// hash. The redis client satisfies this; a nil cache disables it.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

// Retriever ranks a document's chunks against a query. The embedding path
// searches the vector index; when the index or embedder is unavailable it
// falls back to lexical scoring over the document's chunks, so search
// degrades instead of failing.
type Retriever struct {
	chunks   ChunkSource
	index    vector.Index
	embedder Embedder
	cache    EmbeddingCache
}

func New(chunks ChunkSource, index vector.Index, embedder Embedder, cache EmbeddingCache) *Retriever {
	return &Retriever{
		chunks:   chunks,
		index:    index,
		embedder: embedder,
		cache:    cache,
	}
}

// Search returns at most topK chunks of the given document ranked by
// relevance, ties broken by chunk order. A document with no chunks yields an
// empty result.
func (r *Retriever) Search(ctx context.Context, query, docID string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = 5
	}

	chunks, err := r.chunks.GetChunks(docID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	if r.embedder != nil && r.embedder.Configured() && r.index != nil {
		results, err := r.searchSemantic(ctx, query, docID, chunks, topK)
		if err != nil {
			logger.Warn("Semantic search failed, falling back to lexical",
				zap.String("doc_id", docID),
				zap.Error(err),
			)
		} else if len(results) > 0 {
			return results, nil
		}
	}

	return r.searchLexical(query, chunks, topK), nil
}

func (r *Retriever) searchSemanticEmbedding(ctx context.Context, query string) ([]float32, error) {
	queryHash := utils.HashString(query)

	if r.cache != nil {
		if embedding, ok, err := r.cache.GetEmbedding(ctx, queryHash); err == nil && ok {
			logger.Debug("Query embedding cache hit", zap.String("hash", queryHash))
			return embedding, nil
		}
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.SetEmbedding(ctx, queryHash, embedding, time.Hour); err != nil {
			logger.Warn("Failed to cache query embedding", zap.Error(err))
		}
	}

	return embedding, nil
}

func (r *Retriever) searchSemantic(ctx context.Context, query, docID string, chunks []models.DocumentChunk, topK int) ([]ScoredChunk, error) {
	embedding, err := r.searchSemanticEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.index.Search(ctx, embedding, docID, topK)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.DocumentChunk, len(chunks))
	for _, ch := range chunks {
		byID[ch.ID] = ch
	}

	results := make([]ScoredChunk, 0, len(hits))
	for _, hit := range hits {
		ch, ok := byID[hit.ChunkID]
		if !ok {
			// Stale index entry for a chunk this document no longer has.
			continue
		}
		results = append(results, ScoredChunk{Chunk: ch, Score: float64(hit.Score)})
	}

	sortScored(results)

	if topK < len(results) {
		results = results[:topK]
	}

	logger.Debug("Semantic search results",
		zap.String("doc_id", docID),
		zap.Int("results", len(results)),
	)

	return results, nil
}

func (r *Retriever) searchLexical(query string, chunks []models.DocumentChunk, topK int) []ScoredChunk {
	words := tokenize(query)
	if len(words) == 0 {
		return nil
	}

	var results []ScoredChunk
	for _, ch := range chunks {
		contentLower := strings.ToLower(ch.Content)

		var score float64
		for _, word := range words {
			if len(word) <= 2 {
				continue
			}
			score += float64(strings.Count(contentLower, word))
		}
		for _, word := range words {
			if len(word) <= 3 {
				continue
			}
			for _, contentWord := range strings.Fields(contentLower) {
				if strings.Contains(contentWord, word) {
					score += 0.5
				}
			}
		}

		if score > 0 {
			results = append(results, ScoredChunk{Chunk: ch, Score: score})
		}
	}

	sortScored(results)

	if topK < len(results) {
		results = results[:topK]
	}

	logger.Debug("Lexical search results", zap.Int("results", len(results)))

	return results
}

// sortScored orders by score descending; ties keep original chunk order.
func sortScored(results []ScoredChunk) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ChunkIndex < results[j].Chunk.ChunkIndex
	})
}
