package validation

import (
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
)

type Config struct {
	MaxQueryLength      int
	AllowedContentTypes []string
}

// Middleware rejects malformed requests before they reach the handlers:
// unexpected content types, oversized queries, and document URLs that are
// not plain http(s).
func Middleware(cfg Config) fiber.Handler {
	if cfg.MaxQueryLength == 0 {
		cfg.MaxQueryLength = 5000
	}
	if len(cfg.AllowedContentTypes) == 0 {
		cfg.AllowedContentTypes = []string{"application/json", "multipart/form-data"}
	}

	return func(c *fiber.Ctx) error {
		if c.Method() == fiber.MethodPost || c.Method() == fiber.MethodPut {
			contentType := c.Get("Content-Type")
			if contentType != "" && !contentTypeAllowed(contentType, cfg.AllowedContentTypes) {
				return c.Status(fiber.StatusUnsupportedMediaType).JSON(fiber.Map{
					"error": "Unsupported content type",
				})
			}
		}

		if c.Method() == fiber.MethodPost && strings.Contains(c.Get("Content-Type"), "application/json") {
			var req struct {
				Query       string `json:"query"`
				DocumentURL string `json:"document_url"`
			}
			if err := c.BodyParser(&req); err != nil {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid JSON format",
				})
			}

			if len(req.Query) > cfg.MaxQueryLength {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Query exceeds maximum length",
				})
			}

			if req.DocumentURL != "" && !isValidURL(req.DocumentURL) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
					"error": "Invalid document URL",
				})
			}
		}

		return c.Next()
	}
}

func contentTypeAllowed(contentType string, allowed []string) bool {
	for _, t := range allowed {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

func isValidURL(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}

	return u.Host != ""
}
