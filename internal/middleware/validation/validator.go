// Package validation screens query request bodies before they reach the
// handlers: well-formed JSON, a present and bounded question, and a basic
// injection screen. Upload validation lives in the documents service since
// it depends on the decoded multipart form.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	sqlInjectionPattern = regexp.MustCompile(`(?i)(;\s*(drop|delete|truncate|alter)\s|union\s+select|exec\s*\()`)
	xssPattern          = regexp.MustCompile(`(?i)(<script|<iframe|javascript:|onerror=|onload=)`)
)

type Config struct {
	MaxQuestionLength int
	Logger            *zap.Logger
}

func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQuestionLength == 0 {
		cfg.MaxQuestionLength = 1000
	}

	return func(c *fiber.Ctx) error {
		if c.Method() != fiber.MethodPost || !strings.HasSuffix(c.Path(), "/query") {
			return c.Next()
		}

		var req map[string]any
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid JSON format",
			})
		}

		question, ok := req["question"].(string)
		if !ok || strings.TrimSpace(question) == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question is required and must be a string",
			})
		}

		if utf8.RuneCountInString(question) > cfg.MaxQuestionLength {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Question exceeds maximum length",
			})
		}

		if sqlInjectionPattern.MatchString(question) || xssPattern.MatchString(question) {
			cfg.Logger.Warn("Suspicious question content rejected",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Invalid question content",
			})
		}

		return c.Next()
	}
}
