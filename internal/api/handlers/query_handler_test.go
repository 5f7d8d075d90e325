package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery/backend/internal/answer"
	"github.com/docquery/backend/internal/ingestion"
	"github.com/docquery/backend/internal/query"
	"github.com/docquery/backend/internal/retrieval"
	"github.com/docquery/backend/internal/storage/models"
	"github.com/docquery/backend/internal/storage/sqlite"
)

type fixedRetriever struct{}

func (fixedRetriever) Search(ctx context.Context, q, docID string, topK int) ([]retrieval.ScoredChunk, error) {
	return nil, nil
}

type fixedFormatter struct {
	response *answer.Response
}

func (f fixedFormatter) Format(ctx context.Context, q, filename string, chunks []retrieval.ScoredChunk) (*answer.Response, error) {
	return f.response, nil
}

func newQueryTestApp(t *testing.T, resp *answer.Response) *fiber.App {
	t.Helper()

	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())

	require.NoError(t, db.InsertDocument(&models.Document{
		ID:          "doc-1",
		Filename:    "policy.pdf",
		Content:     "text",
		ContentHash: "hash-1",
		CreatedAt:   time.Now(),
	}))

	engine := query.NewEngine(db, fixedRetriever{}, fixedFormatter{response: resp}, nil, 5)
	processor := ingestion.NewProcessor(db, nil, nil, ingestion.NewChunker(0, 0, 0), 0, 1<<20)
	handler := NewQueryHandler(engine, processor)

	app := fiber.New()
	app.Post("/query", handler.HandleQuery)
	return app
}

func TestHandleQueryKeepsSourceReferencesFieldName(t *testing.T) {
	resp := &answer.Response{
		Query:  "Is knee surgery covered?",
		Answer: answer.Answer{Decision: answer.DecisionYes, Conditions: []string{}},
		SourceReferences: []answer.SourceReference{
			{Document: "policy.pdf", Page: 2, SimilarityScore: 0.91},
		},
		Explanation: "Covered per section 3.",
		Status:      answer.StatusOK,
	}
	app := newQueryTestApp(t, resp)

	req := httptest.NewRequest("POST", "/query",
		strings.NewReader(`{"query":"Is knee surgery covered?","document_id":"doc-1"}`))
	req.Header.Set("Content-Type", "application/json")

	res, err := app.Test(req)
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, fiber.StatusOK, res.StatusCode)

	raw, err := io.ReadAll(res.Body)
	require.NoError(t, err)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(raw, &body))

	require.Contains(t, body, "source_references")
	assert.NotContains(t, body, "sources")
	assert.Contains(t, body, "document_id")
	assert.Contains(t, body, "explanation")

	var refs []answer.SourceReference
	require.NoError(t, json.Unmarshal(body["source_references"], &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, "policy.pdf", refs[0].Document)
	assert.Equal(t, 2, refs[0].Page)
}

func TestHandleQueryRequiresQueryText(t *testing.T) {
	app := newQueryTestApp(t, &answer.Response{Status: answer.StatusOK})

	req := httptest.NewRequest("POST", "/query",
		strings.NewReader(`{"document_id":"doc-1"}`))
	req.Header.Set("Content-Type", "application/json")

	res, err := app.Test(req)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, fiber.StatusBadRequest, res.StatusCode)
}
