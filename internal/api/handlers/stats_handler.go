package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/llm"
	"github.com/docquery/backend/internal/storage/sqlite"
	"github.com/docquery/backend/internal/vector"
	"github.com/docquery/backend/pkg/logger"
)

type StatsHandler struct {
	db    *sqlite.Client
	index vector.Index
	llm   *llm.Client
}

func NewStatsHandler(db *sqlite.Client, index vector.Index, llmClient *llm.Client) *StatsHandler {
	return &StatsHandler{
		db:    db,
		index: index,
		llm:   llmClient,
	}
}

// GetStats reports corpus size and backend health for the frontend status bar.
func (h *StatsHandler) GetStats(c *fiber.Ctx) error {
	docs, err := h.db.CountDocuments()
	if err != nil {
		logger.Error("Failed to count documents", zap.Error(err))
		return writeError(c, err)
	}

	chunks, err := h.db.CountChunks()
	if err != nil {
		logger.Error("Failed to count chunks", zap.Error(err))
		return writeError(c, err)
	}

	indexed := 0
	if h.index != nil {
		n, err := h.index.Count(c.Context())
		if err != nil {
			logger.Warn("Failed to count indexed vectors", zap.Error(err))
		} else {
			indexed = n
		}
	}

	return c.JSON(fiber.Map{
		"documents_count": docs,
		"chunks_count":    chunks,
		"indexed_vectors": indexed,
		"llm_status":      h.llm.Status(),
	})
}
