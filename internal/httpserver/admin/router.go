package admin

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stratumops/quotawarden/internal/app"
)

// Register wires up all /admin routes behind admin key auth.
func Register(fiberApp *fiber.App, container *app.Container) {
	protected := fiberApp.Group("/admin", keyAuth(container))
	registerBlockingRoutes(protected, container)
	registerLimitRoutes(protected, container)
	registerDirectoryRoutes(protected, container)
}
