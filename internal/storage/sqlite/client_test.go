package sqlite

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery/backend/internal/errs"
	"github.com/docquery/backend/internal/storage/models"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()

	client, err := NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	require.NoError(t, client.InitSchema())
	return client
}

func insertTestDocument(t *testing.T, client *Client, id, hash string) *models.Document {
	t.Helper()

	doc := &models.Document{
		ID:          id,
		Filename:    "policy.pdf",
		SourceURL:   "https://example.com/policy.pdf",
		Content:     "full document text",
		ContentHash: hash,
		ChunksCount: 2,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, client.InsertDocument(doc))
	return doc
}

func insertTestChunks(t *testing.T, client *Client, docID string, n int) {
	t.Helper()

	chunks := make([]models.DocumentChunk, n)
	for i := range chunks {
		chunks[i] = models.DocumentChunk{
			ID:         fmt.Sprintf("%s_chunk_%d", docID, i),
			DocID:      docID,
			ChunkIndex: i,
			Content:    fmt.Sprintf("chunk %d content", i),
			PageNumber: i + 1,
			StartChar:  i * 100,
			EndChar:    (i + 1) * 100,
			CreatedAt:  time.Now(),
		}
	}
	require.NoError(t, client.InsertChunks(chunks))
}

func TestInsertAndGetDocument(t *testing.T) {
	client := newTestClient(t)
	want := insertTestDocument(t, client, "doc-1", "hash-1")

	got, err := client.GetDocument("doc-1")

	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Filename, got.Filename)
	assert.Equal(t, want.SourceURL, got.SourceURL)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.ContentHash, got.ContentHash)
	assert.Equal(t, want.ChunksCount, got.ChunksCount)
}

func TestGetDocumentNotFound(t *testing.T) {
	client := newTestClient(t)

	_, err := client.GetDocument("missing")

	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestGetDocumentByHash(t *testing.T) {
	client := newTestClient(t)
	insertTestDocument(t, client, "doc-1", "hash-1")

	got, err := client.GetDocumentByHash("hash-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)

	_, err = client.GetDocumentByHash("hash-other")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestInsertDocumentDuplicateHashFails(t *testing.T) {
	client := newTestClient(t)
	insertTestDocument(t, client, "doc-1", "hash-1")

	doc := &models.Document{
		ID:          "doc-2",
		Filename:    "copy.pdf",
		Content:     "full document text",
		ContentHash: "hash-1",
		CreatedAt:   time.Now(),
	}

	assert.Error(t, client.InsertDocument(doc))
}

func TestListDocumentsNewestFirst(t *testing.T) {
	client := newTestClient(t)

	older := &models.Document{
		ID: "doc-old", Filename: "old.pdf", Content: "a", ContentHash: "h-old",
		CreatedAt: time.Now().Add(-time.Hour),
	}
	newer := &models.Document{
		ID: "doc-new", Filename: "new.pdf", Content: "b", ContentHash: "h-new",
		CreatedAt: time.Now(),
	}
	require.NoError(t, client.InsertDocument(older))
	require.NoError(t, client.InsertDocument(newer))

	docs, err := client.ListDocuments()

	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-new", docs[0].ID)
	assert.Equal(t, "doc-old", docs[1].ID)
}

func TestGetChunksOrderedByIndex(t *testing.T) {
	client := newTestClient(t)
	insertTestDocument(t, client, "doc-1", "hash-1")
	insertTestChunks(t, client, "doc-1", 3)

	chunks, err := client.GetChunks("doc-1")

	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkIndex)
		assert.Equal(t, "doc-1", ch.DocID)
	}
}

func TestInsertChunksRequiresDocument(t *testing.T) {
	client := newTestClient(t)

	chunks := []models.DocumentChunk{{
		ID: "orphan_chunk_0", DocID: "missing", Content: "x", CreatedAt: time.Now(),
	}}

	assert.Error(t, client.InsertChunks(chunks), "foreign key should reject orphan chunks")
}

func TestInsertDocumentWithChunks(t *testing.T) {
	client := newTestClient(t)

	doc := &models.Document{
		ID: "doc-1", Filename: "policy.pdf", Content: "full text",
		ContentHash: "hash-1", ChunksCount: 2, CreatedAt: time.Now(),
	}
	chunks := []models.DocumentChunk{
		{ID: "doc-1_chunk_0", DocID: "doc-1", ChunkIndex: 0, Content: "a", CreatedAt: time.Now()},
		{ID: "doc-1_chunk_1", DocID: "doc-1", ChunkIndex: 1, Content: "b", CreatedAt: time.Now()},
	}

	require.NoError(t, client.InsertDocumentWithChunks(doc, chunks))

	got, err := client.GetDocument("doc-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.ChunksCount)

	stored, err := client.GetChunks("doc-1")
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestInsertDocumentWithChunksRollsBackOnFailure(t *testing.T) {
	client := newTestClient(t)

	doc := &models.Document{
		ID: "doc-1", Filename: "policy.pdf", Content: "full text",
		ContentHash: "hash-1", ChunksCount: 2, CreatedAt: time.Now(),
	}
	// Duplicate chunk primary keys make the second insert fail mid-transaction.
	badChunks := []models.DocumentChunk{
		{ID: "doc-1_chunk_0", DocID: "doc-1", ChunkIndex: 0, Content: "a", CreatedAt: time.Now()},
		{ID: "doc-1_chunk_0", DocID: "doc-1", ChunkIndex: 1, Content: "b", CreatedAt: time.Now()},
	}

	require.Error(t, client.InsertDocumentWithChunks(doc, badChunks))

	// The document must not survive the failed chunk insert, or the
	// content-hash dedup would report it as an already-ingested duplicate.
	_, err := client.GetDocument("doc-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	_, err = client.GetDocumentByHash("hash-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	// A retry with valid chunks goes through cleanly.
	goodChunks := []models.DocumentChunk{
		{ID: "doc-1_chunk_0", DocID: "doc-1", ChunkIndex: 0, Content: "a", CreatedAt: time.Now()},
		{ID: "doc-1_chunk_1", DocID: "doc-1", ChunkIndex: 1, Content: "b", CreatedAt: time.Now()},
	}
	require.NoError(t, client.InsertDocumentWithChunks(doc, goodChunks))

	got, err := client.GetDocumentByHash("hash-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)
}

func TestDeleteDocumentCascades(t *testing.T) {
	client := newTestClient(t)
	insertTestDocument(t, client, "doc-1", "hash-1")
	insertTestChunks(t, client, "doc-1", 2)
	require.NoError(t, client.InsertQueryRecord(&models.QueryRecord{
		ID: "q-1", DocID: "doc-1", QueryText: "covered?", ResponseJSON: "{}", CreatedAt: time.Now(),
	}))

	require.NoError(t, client.DeleteDocument("doc-1"))

	_, err := client.GetDocument("doc-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	chunks, err := client.GetChunks("doc-1")
	require.NoError(t, err)
	assert.Empty(t, chunks)

	history, err := client.GetQueryHistory("doc-1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestDeleteDocumentNotFound(t *testing.T) {
	client := newTestClient(t)

	assert.ErrorIs(t, client.DeleteDocument("missing"), errs.ErrNotFound)
}

func TestQueryHistoryNewestFirstWithLimit(t *testing.T) {
	client := newTestClient(t)
	insertTestDocument(t, client, "doc-1", "hash-1")

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		require.NoError(t, client.InsertQueryRecord(&models.QueryRecord{
			ID:           fmt.Sprintf("q-%d", i),
			DocID:        "doc-1",
			QueryText:    fmt.Sprintf("question %d", i),
			ResponseJSON: "{}",
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	records, err := client.GetQueryHistory("doc-1", 3)

	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "q-4", records[0].ID)
	assert.Equal(t, "q-2", records[2].ID)
}

func TestCounts(t *testing.T) {
	client := newTestClient(t)

	docs, err := client.CountDocuments()
	require.NoError(t, err)
	assert.Zero(t, docs)

	insertTestDocument(t, client, "doc-1", "hash-1")
	insertTestChunks(t, client, "doc-1", 4)

	docs, err = client.CountDocuments()
	require.NoError(t, err)
	assert.Equal(t, 1, docs)

	chunks, err := client.CountChunks()
	require.NoError(t, err)
	assert.Equal(t, 4, chunks)
}
