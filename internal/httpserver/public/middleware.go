package public

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/stratumops/quotawarden/internal/app"
	"github.com/stratumops/quotawarden/internal/auth"
	"github.com/stratumops/quotawarden/internal/httpserver/httputil"
)

const authHeaderPrefix = "bearer "

// keyAuth gates ingest routes behind the same hashed keys as the admin API.
// Reporting proxies get their own key rows so they can be revoked separately.
func keyAuth(container *app.Container) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if container.Config.Auth.Disabled {
			return c.Next()
		}

		raw := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
		token := ""
		if raw != "" && strings.HasPrefix(strings.ToLower(raw), authHeaderPrefix) {
			token = strings.TrimSpace(raw[len(authHeaderPrefix):])
		}
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized", "API key required")
		}

		key, err := container.Keys.Verify(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidKey) || errors.Is(err, auth.ErrKeyDisabled) {
				return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized", "invalid API key")
			}
			return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "could not verify API key")
		}

		c.Locals("apiKeyName", key.Name)
		return c.Next()
	}
}
