package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery/backend/internal/storage/models"
	"github.com/docquery/backend/internal/vector"
)

type fakeChunkSource struct {
	chunks map[string][]models.DocumentChunk
	err    error
}

func (f *fakeChunkSource) GetChunks(docID string) ([]models.DocumentChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.chunks[docID], nil
}

type fakeEmbedder struct {
	configured bool
	embedding  []float32
	err        error
	calls      int
}

func (f *fakeEmbedder) Configured() bool { return f.configured }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.embedding, nil
}

type fakeIndex struct {
	results []vector.Result
	err     error
}

func (f *fakeIndex) Add(ctx context.Context, entries []vector.Entry) error { return nil }

func (f *fakeIndex) Search(ctx context.Context, embedding []float32, docID string, topK int) ([]vector.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func (f *fakeIndex) RemoveDocument(ctx context.Context, docID string) error { return nil }
func (f *fakeIndex) Count(ctx context.Context) (int, error)                 { return len(f.results), nil }
func (f *fakeIndex) Close() error                                           { return nil }

type fakeEmbeddingCache struct {
	store map[string][]float32
}

func (f *fakeEmbeddingCache) GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	emb, ok := f.store[textHash]
	return emb, ok, nil
}

func (f *fakeEmbeddingCache) SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error {
	f.store[textHash] = embedding
	return nil
}

func testChunks(docID string, contents ...string) []models.DocumentChunk {
	chunks := make([]models.DocumentChunk, len(contents))
	for i, content := range contents {
		chunks[i] = models.DocumentChunk{
			ID:         docID + "_chunk_" + string(rune('0'+i)),
			DocID:      docID,
			ChunkIndex: i,
			Content:    content,
			PageNumber: i + 1,
		}
	}
	return chunks
}

func TestSearchNoChunksReturnsEmpty(t *testing.T) {
	r := New(&fakeChunkSource{chunks: map[string][]models.DocumentChunk{}}, nil, nil, nil)

	results, err := r.Search(context.Background(), "knee surgery", "doc-1", 5)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchChunkSourceError(t *testing.T) {
	wantErr := errors.New("db closed")
	r := New(&fakeChunkSource{err: wantErr}, nil, nil, nil)

	_, err := r.Search(context.Background(), "knee surgery", "doc-1", 5)

	assert.ErrorIs(t, err, wantErr)
}

func TestSearchLexicalRanksByTermFrequency(t *testing.T) {
	chunks := testChunks("doc-1",
		"The premium is payable monthly.",
		"Knee surgery is covered. Knee replacement requires prior approval.",
		"Dental procedures are excluded unless caused by accident.",
	)
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	r := New(source, nil, nil, nil)

	results, err := r.Search(context.Background(), "knee surgery", "doc-1", 5)

	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 1, results[0].Chunk.ChunkIndex)
	assert.Greater(t, results[0].Score, 0.0)
}

func TestSearchLexicalCapsAtTopK(t *testing.T) {
	chunks := testChunks("doc-1",
		"coverage terms",
		"coverage limits",
		"coverage period",
		"coverage area",
	)
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	r := New(source, nil, nil, nil)

	results, err := r.Search(context.Background(), "coverage", "doc-1", 2)

	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestSearchLexicalTiesKeepChunkOrder(t *testing.T) {
	chunks := testChunks("doc-1",
		"waiting period applies",
		"waiting period applies",
		"waiting period applies",
	)
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	r := New(source, nil, nil, nil)

	results, err := r.Search(context.Background(), "waiting period", "doc-1", 5)

	require.NoError(t, err)
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, i, res.Chunk.ChunkIndex)
	}
}

func TestSearchLexicalSkipsShortWords(t *testing.T) {
	chunks := testChunks("doc-1", "it is an od to go")
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	r := New(source, nil, nil, nil)

	results, err := r.Search(context.Background(), "is it to", "doc-1", 5)

	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchLexicalExactWordsEarnPartialBonus(t *testing.T) {
	chunks := testChunks("doc-1", "grace grace period")
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	r := New(source, nil, nil, nil)

	results, err := r.Search(context.Background(), "grace", "doc-1", 5)

	require.NoError(t, err)
	require.Len(t, results, 1)
	// Two occurrences plus a half-point bonus each, exact matches included.
	assert.InDelta(t, 3.0, results[0].Score, 1e-9)
}

func TestSearchSemanticUsesIndexOrder(t *testing.T) {
	chunks := testChunks("doc-1", "first chunk", "second chunk", "third chunk")
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	embedder := &fakeEmbedder{configured: true, embedding: []float32{0.1, 0.2}}
	index := &fakeIndex{results: []vector.Result{
		{ChunkID: chunks[2].ID, Score: 0.9},
		{ChunkID: chunks[0].ID, Score: 0.4},
	}}
	r := New(source, index, embedder, nil)

	results, err := r.Search(context.Background(), "anything", "doc-1", 5)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Chunk.ChunkIndex)
	assert.Equal(t, 0, results[1].Chunk.ChunkIndex)
	assert.InDelta(t, 0.9, results[0].Score, 1e-6)
}

func TestSearchSemanticSkipsStaleIndexEntries(t *testing.T) {
	chunks := testChunks("doc-1", "only chunk")
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	embedder := &fakeEmbedder{configured: true, embedding: []float32{0.1}}
	index := &fakeIndex{results: []vector.Result{
		{ChunkID: "doc-1_chunk_99", Score: 0.8},
		{ChunkID: chunks[0].ID, Score: 0.5},
	}}
	r := New(source, index, embedder, nil)

	results, err := r.Search(context.Background(), "anything", "doc-1", 5)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunks[0].ID, results[0].Chunk.ID)
}

func TestSearchFallsBackToLexicalOnEmbedError(t *testing.T) {
	chunks := testChunks("doc-1", "knee surgery is covered")
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	embedder := &fakeEmbedder{configured: true, err: errors.New("embedding service down")}
	r := New(source, &fakeIndex{}, embedder, nil)

	results, err := r.Search(context.Background(), "knee surgery", "doc-1", 5)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunks[0].ID, results[0].Chunk.ID)
}

func TestSearchUsesCachedEmbedding(t *testing.T) {
	chunks := testChunks("doc-1", "first chunk")
	source := &fakeChunkSource{chunks: map[string][]models.DocumentChunk{"doc-1": chunks}}
	embedder := &fakeEmbedder{configured: true, embedding: []float32{0.3}}
	index := &fakeIndex{results: []vector.Result{{ChunkID: chunks[0].ID, Score: 0.7}}}
	cache := &fakeEmbeddingCache{store: map[string][]float32{}}
	r := New(source, index, embedder, cache)

	_, err := r.Search(context.Background(), "repeated question", "doc-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls)

	_, err = r.Search(context.Background(), "repeated question", "doc-1", 5)
	require.NoError(t, err)
	assert.Equal(t, 1, embedder.calls, "second identical query should hit the cache")
}

func TestTokenize(t *testing.T) {
	words := tokenize("Does this policy cover KNEE surgery?")

	assert.Contains(t, words, "policy")
	assert.Contains(t, words, "cover")
	assert.Contains(t, words, "knee")
	assert.Contains(t, words, "surgery")
	assert.NotContains(t, words, "?")
}
