package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/enterprise-kb/backend/internal/storage/models"
)

// writeError maps domain errors onto HTTP statuses. Unrecognized errors
// become an opaque 500; the detail stays in the logs.
func writeError(c *fiber.Ctx, err error) error {
	var ve *models.ValidationError

	switch {
	case errors.As(err, &ve):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": ve.Reason})
	case errors.Is(err, models.ErrPermissionDenied):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "You do not have access to this resource"})
	case errors.Is(err, models.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Resource not found"})
	case errors.Is(err, models.ErrAlreadyProcessing):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Document is already being processed"})
	case errors.Is(err, models.ErrIngestQueueFull):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Service is busy, please retry later"})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal server error"})
	}
}

// requireUser reads the caller identity from the X-User-ID header.
func requireUser(c *fiber.Ctx) (string, bool) {
	userID := c.Get("X-User-ID")
	return userID, userID != ""
}

func writeMissingUser(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "X-User-ID header is required",
	})
}
