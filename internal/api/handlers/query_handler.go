package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/enterprise-kb/backend/internal/query"
	"github.com/enterprise-kb/backend/internal/storage/models"
	"github.com/enterprise-kb/backend/pkg/logger"
)

type QueryHandler struct {
	composer *query.Composer
}

func NewQueryHandler(composer *query.Composer) *QueryHandler {
	return &QueryHandler{composer: composer}
}

type queryRequest struct {
	Question  string `json:"question"`
	Category  string `json:"category"`
	SessionID string `json:"sessionId"`
	// UseRAG defaults to true; set false explicitly to skip retrieval.
	UseRAG *bool `json:"useRag"`
}

// Ask answers a question. The HTTP status is 200 even when the query
// resolved as ERROR or TIMEOUT; the resolution is in the response body.
func (h *QueryHandler) Ask(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	var req queryRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	useRAG := true
	if req.UseRAG != nil {
		useRAG = *req.UseRAG
	}

	result, err := h.composer.Answer(c.Context(), query.Request{
		Question:  req.Question,
		UserID:    userID,
		Category:  req.Category,
		SessionID: req.SessionID,
		UseRAG:    useRAG,
	})
	if err != nil {
		logger.Warn("Query rejected", zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(result)
}

func (h *QueryHandler) History(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	records, err := h.composer.History(userID, c.QueryInt("limit"))
	if err != nil {
		logger.Error("Failed to load query history", zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"queries": records, "count": len(records)})
}

// SearchHistory filters the caller's past queries by a keyword passed
// as ?q=.
func (h *QueryHandler) SearchHistory(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	records, err := h.composer.SearchHistory(userID, c.Query("q"), c.QueryInt("limit"))
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"queries": records, "count": len(records)})
}

func (h *QueryHandler) Statistics(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	stats, err := h.composer.Statistics(userID)
	if err != nil {
		logger.Error("Failed to compute query statistics", zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(stats)
}

func (h *QueryHandler) Popular(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	popular, err := h.composer.PopularQuestions(userID, c.QueryInt("limit"))
	if err != nil {
		logger.Error("Failed to load popular questions", zap.Error(err))
		return writeError(c, err)
	}

	if popular == nil {
		popular = []models.PopularQuestion{}
	}
	return c.JSON(fiber.Map{"questions": popular})
}

// ClearHistory deletes the caller's query records older than ?days=
// (default 30).
func (h *QueryHandler) ClearHistory(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	days := c.QueryInt("days", 30)
	if days < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "days must not be negative",
		})
	}

	deleted, err := h.composer.PurgeHistory(userID, time.Duration(days)*24*time.Hour)
	if err != nil {
		logger.Error("Failed to purge query history", zap.Error(err))
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{"deleted": deleted})
}

func (h *QueryHandler) SessionHistory(c *fiber.Ctx) error {
	userID, ok := requireUser(c)
	if !ok {
		return writeMissingUser(c)
	}

	records, err := h.composer.SessionHistory(c.Params("sessionId"))
	if err != nil {
		logger.Error("Failed to load session history", zap.Error(err))
		return writeError(c, err)
	}

	// Session ids are client-chosen; still never show another user's rows.
	own := records[:0]
	for _, r := range records {
		if r.UserID == userID {
			own = append(own, r)
		}
	}

	return c.JSON(fiber.Map{"queries": own, "count": len(own)})
}
