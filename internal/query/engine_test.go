package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docquery/backend/internal/answer"
	"github.com/docquery/backend/internal/errs"
	"github.com/docquery/backend/internal/retrieval"
	"github.com/docquery/backend/internal/storage/models"
	"github.com/docquery/backend/internal/storage/sqlite"
)

type stubRetriever struct {
	chunks []retrieval.ScoredChunk
	err    error
}

func (s *stubRetriever) Search(ctx context.Context, query, docID string, topK int) ([]retrieval.ScoredChunk, error) {
	return s.chunks, s.err
}

type stubFormatter struct {
	response *answer.Response
	err      error
	calls    int
}

func (s *stubFormatter) Format(ctx context.Context, query, filename string, chunks []retrieval.ScoredChunk) (*answer.Response, error) {
	s.calls++
	return s.response, s.err
}

// memoryResponseCache is an in-process stand-in for the redis query cache.
type memoryResponseCache struct {
	stored map[string][]byte
}

func (m *memoryResponseCache) GetQuery(ctx context.Context, docID, queryHash string, response interface{}) (bool, error) {
	data, ok := m.stored[docID+":"+queryHash]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, response); err != nil {
		return false, err
	}
	return true, nil
}

func (m *memoryResponseCache) SetQuery(ctx context.Context, docID, queryHash string, response interface{}, ttl time.Duration) error {
	data, err := json.Marshal(response)
	if err != nil {
		return err
	}
	m.stored[docID+":"+queryHash] = data
	return nil
}

func newTestDB(t *testing.T) *sqlite.Client {
	t.Helper()

	db, err := sqlite.NewClient(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.InitSchema())
	return db
}

func seedDocument(t *testing.T, db *sqlite.Client) {
	t.Helper()

	require.NoError(t, db.InsertDocument(&models.Document{
		ID:          "doc-1",
		Filename:    "policy.pdf",
		Content:     "text",
		ContentHash: "hash-1",
		CreatedAt:   time.Now(),
	}))
}

func okResponse() *answer.Response {
	return &answer.Response{
		Query:            "Is knee surgery covered?",
		Answer:           answer.Answer{Decision: answer.DecisionYes, Conditions: []string{}},
		SourceReferences: []answer.SourceReference{},
		Explanation:      "Covered per section 3.",
		Status:           answer.StatusOK,
	}
}

func TestAskRecordsHistory(t *testing.T) {
	db := newTestDB(t)
	seedDocument(t, db)

	engine := NewEngine(db, &stubRetriever{}, &stubFormatter{response: okResponse()}, nil, 5)

	resp, err := engine.Ask(context.Background(), "Is knee surgery covered?", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, answer.DecisionYes, resp.Answer.Decision)

	history, err := engine.History("doc-1", 10)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "Is knee surgery covered?", history[0].Query)
	assert.JSONEq(t, `{
		"query": "Is knee surgery covered?",
		"answer": {"decision": "Yes", "conditions": []},
		"source_references": [],
		"explanation": "Covered per section 3.",
		"status": "ok"
	}`, string(history[0].Response))
}

func TestAskCacheHitRecordsHistory(t *testing.T) {
	db := newTestDB(t)
	seedDocument(t, db)

	cache := &memoryResponseCache{stored: map[string][]byte{}}
	formatter := &stubFormatter{response: okResponse()}
	engine := NewEngine(db, &stubRetriever{}, formatter, cache, 5)

	_, err := engine.Ask(context.Background(), "Is knee surgery covered?", "doc-1")
	require.NoError(t, err)

	resp, err := engine.Ask(context.Background(), "Is knee surgery covered?", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, answer.DecisionYes, resp.Answer.Decision)
	assert.Equal(t, 1, formatter.calls, "repeat query should be served from cache")

	// Both asks land in history, cached or not.
	history, err := engine.History("doc-1", 10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestAskEmptyQuery(t *testing.T) {
	db := newTestDB(t)
	seedDocument(t, db)

	engine := NewEngine(db, &stubRetriever{}, &stubFormatter{response: okResponse()}, nil, 5)

	_, err := engine.Ask(context.Background(), "", "doc-1")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestAskUnknownDocument(t *testing.T) {
	db := newTestDB(t)

	engine := NewEngine(db, &stubRetriever{}, &stubFormatter{response: okResponse()}, nil, 5)

	_, err := engine.Ask(context.Background(), "anything", "missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
}

func TestAskFormatterErrorPropagates(t *testing.T) {
	db := newTestDB(t)
	seedDocument(t, db)

	engine := NewEngine(db, &stubRetriever{}, &stubFormatter{err: errs.ErrUpstreamUnavailable}, nil, 5)

	_, err := engine.Ask(context.Background(), "anything", "doc-1")
	assert.ErrorIs(t, err, errs.ErrUpstreamUnavailable)

	history, err := engine.History("doc-1", 10)
	require.NoError(t, err)
	assert.Empty(t, history, "failed queries must not be recorded")
}

func TestHistoryEmptyDocument(t *testing.T) {
	db := newTestDB(t)
	seedDocument(t, db)

	engine := NewEngine(db, &stubRetriever{}, &stubFormatter{response: okResponse()}, nil, 5)

	history, err := engine.History("doc-1", 10)
	require.NoError(t, err)
	assert.Empty(t, history)
}
