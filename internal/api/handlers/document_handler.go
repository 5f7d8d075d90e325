package handlers

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/cache/redis"
	"github.com/docquery/backend/internal/ingestion"
	"github.com/docquery/backend/internal/query"
	"github.com/docquery/backend/internal/storage/sqlite"
	"github.com/docquery/backend/internal/vector"
	"github.com/docquery/backend/pkg/logger"
)

type DocumentHandler struct {
	processor *ingestion.Processor
	db        *sqlite.Client
	engine    *query.Engine
	index     vector.Index
	cache     *redis.Client
}

func NewDocumentHandler(processor *ingestion.Processor, db *sqlite.Client, engine *query.Engine, index vector.Index, cache *redis.Client) *DocumentHandler {
	return &DocumentHandler{
		processor: processor,
		db:        db,
		engine:    engine,
		index:     index,
		cache:     cache,
	}
}

// UploadDocument accepts a PDF as multipart form data under the "file" field.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file is required under the 'file' form field",
		})
	}

	if !strings.EqualFold(filepath.Ext(fileHeader.Filename), ".pdf") {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Only PDF uploads are supported",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		logger.Error("Failed to open uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		logger.Error("Failed to read uploaded file", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to read uploaded file",
		})
	}

	result, err := h.processor.IngestUpload(c.Context(), data, fileHeader.Filename)
	if err != nil {
		logger.Error("Failed to ingest upload", zap.String("filename", fileHeader.Filename), zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"document_id":  result.Document.ID,
		"filename":     result.Document.Filename,
		"chunks_count": result.Document.ChunksCount,
		"duplicate":    result.Duplicate,
	})
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	docs, err := h.db.ListDocuments()
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return writeError(c, err)
	}

	items := make([]fiber.Map, 0, len(docs))
	for _, d := range docs {
		items = append(items, fiber.Map{
			"document_id":  d.ID,
			"filename":     d.Filename,
			"source_url":   d.SourceURL,
			"chunks_count": d.ChunksCount,
			"created_at":   d.CreatedAt,
		})
	}

	return c.JSON(fiber.Map{
		"documents": items,
		"count":     len(items),
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	id := c.Params("id")

	doc, err := h.db.GetDocument(id)
	if err != nil {
		return writeError(c, err)
	}

	history, err := h.engine.History(id, 5)
	if err != nil {
		logger.Warn("Failed to load query history", zap.String("doc_id", id), zap.Error(err))
		history = nil
	}

	return c.JSON(fiber.Map{
		"document_id":    doc.ID,
		"filename":       doc.Filename,
		"source_url":     doc.SourceURL,
		"chunks_count":   doc.ChunksCount,
		"created_at":     doc.CreatedAt,
		"recent_queries": history,
	})
}

// DeleteDocument removes the document, its chunks, its index entries and any
// cached responses.
func (h *DocumentHandler) DeleteDocument(c *fiber.Ctx) error {
	id := c.Params("id")

	if err := h.db.DeleteDocument(id); err != nil {
		return writeError(c, err)
	}

	if h.index != nil {
		if err := h.index.RemoveDocument(c.Context(), id); err != nil {
			logger.Warn("Failed to remove document from vector index",
				zap.String("doc_id", id), zap.Error(err))
		}
	}

	if h.cache != nil {
		if err := h.cache.InvalidateDocument(c.Context(), id); err != nil {
			logger.Warn("Failed to invalidate document cache",
				zap.String("doc_id", id), zap.Error(err))
		}
	}

	logger.Info("Document deleted", zap.String("doc_id", id))

	return c.JSON(fiber.Map{
		"message":     "Document deleted",
		"document_id": id,
	})
}
