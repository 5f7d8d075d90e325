package handlers

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/docquery/backend/internal/answer"
	"github.com/docquery/backend/internal/query"
	"github.com/docquery/backend/pkg/logger"
)

type WebSocketHandler struct {
	queryEngine *query.Engine
}

func NewWebSocketHandler(queryEngine *query.Engine) *WebSocketHandler {
	return &WebSocketHandler{
		queryEngine: queryEngine,
	}
}

// HandleConnection serves a long-lived query session. Explanations stream
// word by word before the structured result arrives in a "complete" frame.
func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type       string `json:"type"`
			Query      string `json:"query"`
			DocumentID string `json:"document_id"`
		}

		err := c.ReadJSON(&msg)
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Error("Failed to read WebSocket message", zap.Error(err))
			}
			break
		}

		if msg.Type != "query" {
			continue
		}

		if msg.Query == "" || msg.DocumentID == "" {
			h.sendError(c, "query and document_id are required")
			continue
		}

		logger.Info("Processing WebSocket query",
			zap.String("doc_id", msg.DocumentID),
			zap.String("query", msg.Query),
		)

		err = h.streamResponse(c, msg.Query, msg.DocumentID)
		if err != nil {
			logger.Error("Failed to stream response", zap.Error(err))
			h.sendError(c, "Failed to process query")
		}
	}
}

func (h *WebSocketHandler) streamResponse(c *websocket.Conn, queryText, docID string) error {
	ctx := context.Background()

	h.sendChunk(c, "status", "Analyzing document...")

	response, err := h.queryEngine.Ask(ctx, queryText, docID)
	if err != nil {
		return err
	}

	words := splitIntoWords(response.Explanation)
	for i, word := range words {
		chunk := word
		if i < len(words)-1 {
			chunk += " "
		}

		err := h.sendChunk(c, "chunk", chunk)
		if err != nil {
			return err
		}
	}

	return h.sendComplete(c, response)
}

func (h *WebSocketHandler) sendChunk(c *websocket.Conn, msgType, content string) error {
	msg := map[string]interface{}{
		"type":    msgType,
		"content": content,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, response *answer.Response) error {
	msg := map[string]interface{}{
		"type":              "complete",
		"answer":            response.Answer,
		"source_references": response.SourceReferences,
		"status":            response.Status,
	}

	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}

func splitIntoWords(text string) []string {
	words := []string{}
	currentWord := ""

	for _, char := range text {
		if char == ' ' || char == '\n' {
			if currentWord != "" {
				words = append(words, currentWord)
				currentWord = ""
			}
			if char == '\n' {
				words = append(words, "\n")
			}
		} else {
			currentWord += string(char)
		}
	}

	if currentWord != "" {
		words = append(words, currentWord)
	}

	return words
}
