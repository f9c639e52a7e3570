package admin

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/stratumops/quotawarden/internal/app"
	"github.com/stratumops/quotawarden/internal/auth"
	"github.com/stratumops/quotawarden/internal/httpserver/httputil"
)

const authHeaderPrefix = "bearer "

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
			return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized", "admin key required")
		}

		key, err := container.Keys.Verify(c.UserContext(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidKey) || errors.Is(err, auth.ErrKeyDisabled) {
				return httputil.WriteError(c, fiber.StatusUnauthorized, "unauthorized", "invalid admin key")
			}
			return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "could not verify admin key")
		}

		c.Locals("adminKeyName", key.Name)
		return c.Next()
	}
}

// performedBy resolves the acting identity: an explicit request value wins,
// then the authenticated key name.
func performedBy(c *fiber.Ctx, requested string) string {
	if v := strings.TrimSpace(requested); v != "" {
		return v
	}
	if name, ok := c.Locals("adminKeyName").(string); ok && name != "" {
		return name
	}
	return "admin"
}
