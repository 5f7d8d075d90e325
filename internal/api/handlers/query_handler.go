package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/ingestion"
	"github.com/docquery/backend/internal/query"
	"github.com/docquery/backend/pkg/logger"
)

type QueryHandler struct {
	queryEngine *query.Engine
	processor   *ingestion.Processor
}

func NewQueryHandler(queryEngine *query.Engine, processor *ingestion.Processor) *QueryHandler {
	return &QueryHandler{
		queryEngine: queryEngine,
		processor:   processor,
	}
}

// HandleQuery answers a natural-language question against a document. The
// document is identified either by a prior upload's document_id or by a
// document_url, which is fetched and ingested first.
func (h *QueryHandler) HandleQuery(c *fiber.Ctx) error {
	var req struct {
		Query       string `json:"query"`
		DocumentID  string `json:"document_id"`
		DocumentURL string `json:"document_url"`
	}

	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if req.Query == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Query is required",
		})
	}

	docID := req.DocumentID
	if docID == "" {
		if req.DocumentURL == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Either document_id or document_url is required",
			})
		}

		result, err := h.processor.IngestURL(c.Context(), req.DocumentURL)
		if err != nil {
			logger.Error("Failed to ingest document from URL",
				zap.String("url", req.DocumentURL), zap.Error(err))
			return writeError(c, err)
		}
		docID = result.Document.ID
	}

	response, err := h.queryEngine.Ask(c.Context(), req.Query, docID)
	if err != nil {
		logger.Error("Failed to process query", zap.String("doc_id", docID), zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"document_id":       docID,
		"query":             response.Query,
		"answer":            response.Answer,
		"source_references": response.SourceReferences,
		"explanation":       response.Explanation,
		"status":            response.Status,
	})
}

// GetQueryHistory returns the most recent queries for a document.
func (h *QueryHandler) GetQueryHistory(c *fiber.Ctx) error {
	docID := c.Query("document_id")
	if docID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document_id is required",
		})
	}

	limit := c.QueryInt("limit", 20)
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	history, err := h.queryEngine.History(docID, limit)
	if err != nil {
		logger.Error("Failed to get query history", zap.String("doc_id", docID), zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"document_id": docID,
		"history":     history,
	})
}
