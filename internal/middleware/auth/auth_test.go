package auth

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(token string) *fiber.App {
	app := fiber.New()
	app.Use(Middleware(token))
	app.Get("/protected", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"ok": true})
	})
	return app
}

func TestMiddlewareAcceptsValidToken(t *testing.T) {
	app := newTestApp("secret-token")

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer secret-token")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestMiddlewareRejectsWrongToken(t *testing.T) {
	app := newTestApp("secret-token")

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestMiddlewareRejectsMissingHeader(t *testing.T) {
	app := newTestApp("secret-token")

	resp, err := app.Test(httptest.NewRequest("GET", "/protected", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestMiddlewareRejectsNonBearerScheme(t *testing.T) {
	app := newTestApp("secret-token")

	req := httptest.NewRequest("GET", "/protected", nil)
	req.Header.Set("Authorization", "Basic c2VjcmV0")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}
