// Package public serves the ingest-facing API consumed by upstream proxies:
// usage event submission and per-user usage lookups.
package public

import (
	"github.com/gofiber/fiber/v2"

	"github.com/stratumops/quotawarden/internal/app"
)

// Register wires up the /v1 routes.
func Register(fiberApp *fiber.App, container *app.Container) {
	group := fiberApp.Group("/v1", keyAuth(container))
	handler := &usageHandler{container: container}
	group.Post("/usage/events", handler.ingestEvent)
	group.Get("/users/:userID/usage", handler.userUsage)
}
