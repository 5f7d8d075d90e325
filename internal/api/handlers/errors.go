package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/docquery/backend/internal/errs"
)

// writeError maps internal error categories to HTTP status codes. Message
// text comes from the sentinel category, not the wrapped error, so internal
// details never leak to the client.
func writeError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request",
		})
	case errors.Is(err, errs.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	case errors.Is(err, errs.ErrQuotaExceeded):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Analysis quota exceeded. Please try again later.",
		})
	case errors.Is(err, errs.ErrUpstreamUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Analysis service temporarily unavailable",
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Internal server error",
		})
	}
}
