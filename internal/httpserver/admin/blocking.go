package admin

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stratumops/quotawarden/internal/app"
	"github.com/stratumops/quotawarden/internal/httpserver/httputil"
	auditsvc "github.com/stratumops/quotawarden/internal/services/audit"
	blockingsvc "github.com/stratumops/quotawarden/internal/services/blocking"
	"github.com/stratumops/quotawarden/internal/store"
)

func registerBlockingRoutes(router fiber.Router, container *app.Container) {
	handler := &blockingHandler{container: container}

	router.Post("/users/:userID/block", handler.block)
	router.Post("/users/:userID/unblock", handler.unblock)
	router.Get("/users/:userID/status", handler.status)
	router.Get("/blocking/history", handler.history)
	router.Post("/blocking/reset", handler.runReset)
}

type blockingHandler struct {
	container *app.Container
}

type blockRequest struct {
	Reason      string     `json:"reason"`
	Duration    string     `json:"duration"`
	Until       *time.Time `json:"until"`
	PerformedBy string     `json:"performed_by"`
}

type unblockRequest struct {
	Reason      string `json:"reason"`
	PerformedBy string `json:"performed_by"`
}

type auditEntryResponse struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id"`
	Operation      string    `json:"operation"`
	Reason         string    `json:"reason"`
	PerformedBy    string    `json:"performed_by"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	UsageCount     int32     `json:"usage_count"`
	UsageLimit     int32     `json:"usage_limit"`
	UsagePct       float64   `json:"usage_pct"`
	PolicyUpdated  bool      `json:"policy_updated"`
	Notified       bool      `json:"notified"`
	CreatedAt      time.Time `json:"created_at"`
}

func (h *blockingHandler) block(c *fiber.Ctx) error {
	userID := c.Params("userID")

	var req blockRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "invalid JSON body")
	}

	result, err := h.container.Blocking.AdminBlock(c.UserContext(), userID, blockingsvc.BlockRequest{
		Reason:      req.Reason,
		Duration:    req.Duration,
		Until:       req.Until,
		PerformedBy: performedBy(c, req.PerformedBy),
	})
	if err != nil {
		return writeBlockingError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *blockingHandler) unblock(c *fiber.Ctx) error {
	userID := c.Params("userID")

	var req unblockRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "invalid JSON body")
	}

	result, err := h.container.Blocking.AdminUnblock(c.UserContext(), userID, blockingsvc.UnblockRequest{
		Reason:      req.Reason,
		PerformedBy: performedBy(c, req.PerformedBy),
	})
	if err != nil {
		return writeBlockingError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func (h *blockingHandler) status(c *fiber.Ctx) error {
	userID := c.Params("userID")

	view, err := h.container.Blocking.Status(c.UserContext(), userID)
	if err != nil {
		return writeBlockingError(c, err)
	}
	decision, err := h.container.Enforcement.EvaluateUser(c.UserContext(), userID)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "could not evaluate usage")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"blocking": view,
		"quota":    decision,
	})
}

func (h *blockingHandler) history(c *fiber.Ctx) error {
	filter := auditsvc.Filter{
		UserID:   c.Query("user_id"),
		Page:     c.QueryInt("page", 1),
		PageSize: c.QueryInt("page_size", 0),
	}

	page, err := h.container.Audit.History(c.UserContext(), filter)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "could not load audit history")
	}

	entries := make([]auditEntryResponse, 0, len(page.Entries))
	for _, e := range page.Entries {
		entries = append(entries, toAuditEntryResponse(e))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"entries":   entries,
		"total":     page.Total,
		"page":      page.Page,
		"page_size": page.PageSize,
	})
}

func (h *blockingHandler) runReset(c *fiber.Ctx) error {
	result, err := h.container.Blocking.ScheduledReset(c.UserContext())
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "reset sweep failed")
	}
	return c.Status(fiber.StatusOK).JSON(result)
}

func toAuditEntryResponse(e store.AuditEntry) auditEntryResponse {
	pct, _ := e.UsagePct.Float64()
	return auditEntryResponse{
		ID:             e.ID.String(),
		UserID:         e.UserID,
		Operation:      e.Operation,
		Reason:         e.Reason,
		PerformedBy:    e.PerformedBy,
		PreviousStatus: e.PreviousStatus,
		NewStatus:      e.NewStatus,
		UsageCount:     e.UsageCount,
		UsageLimit:     e.UsageLimit,
		UsagePct:       pct,
		PolicyUpdated:  e.PolicyUpdated,
		Notified:       e.Notified,
		CreatedAt:      e.CreatedAt,
	}
}

func writeBlockingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, blockingsvc.ErrEmptyUserID),
		errors.Is(err, blockingsvc.ErrEmptyReason),
		errors.Is(err, blockingsvc.ErrInvalidDuration):
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, blockingsvc.ErrAdminProtected):
		return httputil.WriteError(c, fiber.StatusConflict, "admin_protected", err.Error())
	case errors.Is(err, blockingsvc.ErrConflict):
		return httputil.WriteError(c, fiber.StatusConflict, "conflict", err.Error())
	default:
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "blocking state unavailable")
	}
}
