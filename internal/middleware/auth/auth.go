package auth

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/docquery/backend/pkg/logger"
)

// Middleware enforces the static bearer token every API endpoint requires.
// Comparison is constant-time so the token cannot be probed byte by byte.
func Middleware(token string) fiber.Handler {
	expected := []byte(token)

	return func(c *fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return unauthorized(c)
		}

		presented := []byte(strings.TrimPrefix(header, "Bearer "))
		if subtle.ConstantTimeCompare(expected, presented) != 1 {
			logger.Warn("Rejected request with invalid token",
				zap.String("ip", c.IP()),
				zap.String("path", c.Path()),
			)
			return unauthorized(c)
		}

		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error": "Unauthorized",
	})
}
