package query

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/answer"
	"github.com/docquery/backend/internal/errs"
	"github.com/docquery/backend/internal/metrics"
	"github.com/docquery/backend/internal/retrieval"
	"github.com/docquery/backend/internal/storage/models"
	"github.com/docquery/backend/internal/storage/sqlite"
	"github.com/docquery/backend/pkg/logger"
	"github.com/docquery/backend/pkg/utils"
)

// Retriever ranks a document's chunks for a query.
type Retriever interface {
	Search(ctx context.Context, query, docID string, topK int) ([]retrieval.ScoredChunk, error)
}

// Formatter turns retrieved chunks into the structured response.
type Formatter interface {
	Format(ctx context.Context, query, filename string, chunks []retrieval.ScoredChunk) (*answer.Response, error)
}

// ResponseCache caches answered queries per document. The redis client
// satisfies it; a nil cache disables caching.
type ResponseCache interface {
	GetQuery(ctx context.Context, docID, queryHash string, response interface{}) (bool, error)
	SetQuery(ctx context.Context, docID, queryHash string, response interface{}, ttl time.Duration) error
}

// Engine orchestrates a query: resolve document, retrieve chunks, format the
// answer, append history.
type Engine struct {
	db        *sqlite.Client
	retriever Retriever
	formatter Formatter
	cache     ResponseCache
	topK      int
}

func NewEngine(db *sqlite.Client, retriever Retriever, formatter Formatter, cache ResponseCache, topK int) *Engine {
	if topK <= 0 {
		topK = 5
	}
	return &Engine{
		db:        db,
		retriever: retriever,
		formatter: formatter,
		cache:     cache,
		topK:      topK,
	}
}

// Ask answers a query against a document.
func (e *Engine) Ask(ctx context.Context, queryText, docID string) (*answer.Response, error) {
	if queryText == "" {
		return nil, fmt.Errorf("%w: query text is required", errs.ErrInvalidInput)
	}

	startTime := time.Now()

	doc, err := e.db.GetDocument(docID)
	if err != nil {
		return nil, err
	}

	queryHash := utils.HashString(queryText)
	if e.cache != nil {
		var cached answer.Response
		if hit, err := e.cache.GetQuery(ctx, docID, queryHash, &cached); err == nil && hit {
			metrics.CacheHits.WithLabelValues("query").Inc()
			e.saveHistory(queryText, docID, &cached)
			return &cached, nil
		}
		metrics.CacheMisses.WithLabelValues("query").Inc()
	}

	chunks, err := e.retriever.Search(ctx, queryText, docID, e.topK)
	if err != nil {
		return nil, err
	}
	metrics.RetrievalResultsCount.Observe(float64(len(chunks)))

	resp, err := e.formatter.Format(ctx, queryText, doc.Filename, chunks)
	if err != nil {
		metrics.QueryTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	e.saveHistory(queryText, docID, resp)

	if e.cache != nil && resp.Status == answer.StatusOK {
		if err := e.cache.SetQuery(ctx, docID, queryHash, resp, time.Hour); err != nil {
			logger.Warn("Failed to cache query response", zap.Error(err))
		}
	}

	latency := time.Since(startTime)
	metrics.QueryDuration.WithLabelValues("query").Observe(latency.Seconds())
	metrics.QueryTotal.WithLabelValues(resp.Status).Inc()

	logger.Info("Query processed",
		zap.String("doc_id", docID),
		zap.String("decision", string(resp.Answer.Decision)),
		zap.String("status", resp.Status),
		zap.Duration("latency", latency),
	)

	return resp, nil
}

func (e *Engine) saveHistory(queryText, docID string, resp *answer.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		logger.Error("Failed to marshal response for history", zap.Error(err))
		return
	}

	record := &models.QueryRecord{
		ID:           uuid.New().String(),
		DocID:        docID,
		QueryText:    queryText,
		ResponseJSON: string(data),
		CreatedAt:    time.Now(),
	}

	if err := e.db.InsertQueryRecord(record); err != nil {
		logger.Error("Failed to save query history", zap.Error(err))
	}
}

// HistoryEntry is one past query with its stored response.
type HistoryEntry struct {
	Query     string          `json:"query"`
	Response  json.RawMessage `json:"response"`
	Timestamp time.Time       `json:"timestamp"`
}

// History returns the most recent answered queries for a document.
func (e *Engine) History(docID string, limit int) ([]HistoryEntry, error) {
	records, err := e.db.GetQueryHistory(docID, limit)
	if err != nil {
		return nil, err
	}

	entries := make([]HistoryEntry, 0, len(records))
	for _, r := range records {
		if !json.Valid([]byte(r.ResponseJSON)) {
			continue
		}
		entries = append(entries, HistoryEntry{
			Query:     r.QueryText,
			Response:  json.RawMessage(r.ResponseJSON),
			Timestamp: r.CreatedAt,
		})
	}

	return entries, nil
}
