package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/query"
	"github.com/enterprise-kb/backend/pkg/logger"
)

// WebSocketHandler streams answers over a websocket. The client sends
// {"type":"query", ...} frames; the server replies with a sequence of
// "fragment" frames followed by one "complete" frame carrying the resolved
// query metadata.
type WebSocketHandler struct {
	composer *query.Composer
}

func NewWebSocketHandler(composer *query.Composer) *WebSocketHandler {
	return &WebSocketHandler{composer: composer}
}

// userIDLocal is the Locals key under which the upgrade middleware stores
// the authenticated user id for the lifetime of the connection.
const userIDLocal = "userID"

// WebSocketUpgrade gates the websocket route. It captures the X-User-ID
// header from the upgrade request so frames cannot impersonate another
// user, and rejects upgrades without one.
func WebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		userID := c.Get("X-User-ID")
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "X-User-ID header is required",
			})
		}
		c.Locals(userIDLocal, userID)
		return c.Next()
	}
}

type wsQueryMessage struct {
	Type      string `json:"type"`
	Question  string `json:"question"`
	Category  string `json:"category"`
	SessionID string `json:"sessionId"`
	UseRAG    *bool  `json:"useRag"`
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	userID, _ := c.Locals(userIDLocal).(string)

	logger.Info("WebSocket connection established", zap.String("user_id", userID))
	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	if userID == "" {
		h.sendError(c, "X-User-ID header is required")
		return
	}

	for {
		var msg wsQueryMessage
		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			return
		}

		if msg.Type != "query" {
			continue
		}

		useRAG := true
		if msg.UseRAG != nil {
			useRAG = *msg.UseRAG
		}

		req := query.Request{
			Question:  msg.Question,
			UserID:    userID,
			Category:  msg.Category,
			SessionID: msg.SessionID,
			UseRAG:    useRAG,
		}

		result, err := h.composer.AnswerStream(context.Background(), req, func(fragment string) error {
			return c.WriteJSON(map[string]any{
				"type":    "fragment",
				"content": fragment,
			})
		})
		if err != nil {
			h.sendError(c, err.Error())
			continue
		}

		if err := c.WriteJSON(map[string]any{
			"type":            "complete",
			"queryId":         result.QueryID,
			"status":          result.Status,
			"sources":         result.Sources,
			"sourceDocuments": result.SourceDocuments,
			"similarityScore": result.SimilarityScore,
			"responseTimeMs":  result.ResponseTimeMS,
		}); err != nil {
			logger.Debug("WebSocket write ended", zap.Error(err))
			return
		}
	}
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	if err := c.WriteJSON(map[string]any{"type": "error", "error": errorMsg}); err != nil {
		logger.Debug("WebSocket write ended", zap.Error(err))
	}
}
