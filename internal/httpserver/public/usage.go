package public

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stratumops/quotawarden/internal/app"
	"github.com/stratumops/quotawarden/internal/httpserver/httputil"
	usagesvc "github.com/stratumops/quotawarden/internal/services/usage"
)

type usageHandler struct {
	container *app.Container
}

type ingestEventRequest struct {
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Requests   int32     `json:"requests"`
	Model      *string   `json:"model"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (h *usageHandler) ingestEvent(c *fiber.Ctx) error {
	var req ingestEventRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "invalid JSON body")
	}

	decision, err := h.container.Enforcement.Process(c.UserContext(), usagesvc.Event{
		EventID:    req.EventID,
		UserID:     req.UserID,
		Requests:   req.Requests,
		Model:      req.Model,
		OccurredAt: req.OccurredAt,
	})
	if err != nil {
		return writeUsageError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(decision)
}

func (h *usageHandler) userUsage(c *fiber.Ctx) error {
	userID := c.Params("userID")
	ctx := c.UserContext()

	daily, err := h.container.Usage.DailySummary(ctx, userID)
	if err != nil {
		return writeUsageError(c, err)
	}
	monthly, err := h.container.Usage.MonthlySummary(ctx, userID)
	if err != nil {
		return writeUsageError(c, err)
	}
	limits, err := h.container.Quota.Resolve(ctx, userID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "could not resolve limits")
	}
	status, err := h.container.Blocking.Status(ctx, userID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "could not load blocking status")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"daily":    daily,
		"monthly":  monthly,
		"limits":   limits,
		"blocking": status,
	})
}

func writeUsageError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, usagesvc.ErrEmptyUserID),
		errors.Is(err, usagesvc.ErrEmptyEventID),
		errors.Is(err, usagesvc.ErrInvalidCount),
		errors.Is(err, usagesvc.ErrEventTooOld),
		errors.Is(err, usagesvc.ErrEventInFuture):
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	default:
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "usage pipeline unavailable")
	}
}
