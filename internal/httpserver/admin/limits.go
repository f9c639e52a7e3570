package admin

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stratumops/quotawarden/internal/app"
	"github.com/stratumops/quotawarden/internal/httpserver/httputil"
	adminlimitsvc "github.com/stratumops/quotawarden/internal/services/adminlimits"
	"github.com/stratumops/quotawarden/internal/store"
)

func registerLimitRoutes(router fiber.Router, container *app.Container) {
	handler := &limitsHandler{container: container, service: container.AdminLimits}

	group := router.Group("/limits")
	group.Get("/defaults", handler.getDefaults)
	group.Put("/defaults", handler.updateDefaults)
	group.Get("/users", handler.listUserOverrides)
	group.Get("/users/:userID", handler.getUserOverride)
	group.Put("/users/:userID", handler.upsertUserOverride)
	group.Delete("/users/:userID", handler.deleteUserOverride)
	group.Get("/teams", handler.listTeamOverrides)
	group.Get("/teams/:teamID", handler.getTeamOverride)
	group.Put("/teams/:teamID", handler.upsertTeamOverride)
	group.Delete("/teams/:teamID", handler.deleteTeamOverride)
}

type limitsHandler struct {
	container *app.Container
	service   *adminlimitsvc.Service
}

type defaultsRequest struct {
	DailyLimit        int32   `json:"daily_limit"`
	MonthlyLimit      int32   `json:"monthly_limit"`
	WarningThreshold  float64 `json:"warning_threshold"`
	CriticalThreshold float64 `json:"critical_threshold"`
	UpdatedBy         string  `json:"updated_by"`
}

type overrideRequest struct {
	DailyLimit        *int32   `json:"daily_limit"`
	MonthlyLimit      *int32   `json:"monthly_limit"`
	WarningThreshold  *float64 `json:"warning_threshold"`
	CriticalThreshold *float64 `json:"critical_threshold"`
	UpdatedBy         string   `json:"updated_by"`
}

type defaultsResponse struct {
	DailyLimit        int32     `json:"daily_limit"`
	MonthlyLimit      int32     `json:"monthly_limit"`
	WarningThreshold  float64   `json:"warning_threshold"`
	CriticalThreshold float64   `json:"critical_threshold"`
	UpdatedBy         *string   `json:"updated_by,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type overrideResponse struct {
	SubjectID         string    `json:"subject_id"`
	DailyLimit        *int32    `json:"daily_limit,omitempty"`
	MonthlyLimit      *int32    `json:"monthly_limit,omitempty"`
	WarningThreshold  *float64  `json:"warning_threshold,omitempty"`
	CriticalThreshold *float64  `json:"critical_threshold,omitempty"`
	UpdatedBy         *string   `json:"updated_by,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (h *limitsHandler) getDefaults(c *fiber.Ctx) error {
	defaults, err := h.service.GetDefaults(c.UserContext())
	if err != nil {
		return writeLimitsError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(toDefaultsResponse(defaults))
}

func (h *limitsHandler) updateDefaults(c *fiber.Ctx) error {
	var req defaultsRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "invalid JSON body")
	}

	defaults, err := h.service.UpdateDefaults(c.UserContext(), adminlimitsvc.DefaultsUpdate{
		DailyLimit:        req.DailyLimit,
		MonthlyLimit:      req.MonthlyLimit,
		WarningThreshold:  req.WarningThreshold,
		CriticalThreshold: req.CriticalThreshold,
		UpdatedBy:         performedBy(c, req.UpdatedBy),
	})
	if err != nil {
		return writeLimitsError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(toDefaultsResponse(defaults))
}

func (h *limitsHandler) listUserOverrides(c *fiber.Ctx) error {
	overrides, err := h.service.ListUserOverrides(c.UserContext())
	if err != nil {
		return writeLimitsError(c, err)
	}
	out := make([]overrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, toOverrideResponse(o.UserID, o.LimitSet))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"overrides": out})
}

func (h *limitsHandler) getUserOverride(c *fiber.Ctx) error {
	override, err := h.service.GetUserOverride(c.UserContext(), c.Params("userID"))
	if err != nil {
		return writeLimitsError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(toOverrideResponse(override.UserID, override.LimitSet))
}

func (h *limitsHandler) upsertUserOverride(c *fiber.Ctx) error {
	var req overrideRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "invalid JSON body")
	}

	override, err := h.service.UpsertUserOverride(c.UserContext(), c.Params("userID"), toServiceOverride(c, req))
	if err != nil {
		return writeLimitsError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(toOverrideResponse(override.UserID, override.LimitSet))
}

func (h *limitsHandler) deleteUserOverride(c *fiber.Ctx) error {
	if err := h.service.DeleteUserOverride(c.UserContext(), c.Params("userID")); err != nil {
		return writeLimitsError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *limitsHandler) listTeamOverrides(c *fiber.Ctx) error {
	overrides, err := h.service.ListTeamOverrides(c.UserContext())
	if err != nil {
		return writeLimitsError(c, err)
	}
	out := make([]overrideResponse, 0, len(overrides))
	for _, o := range overrides {
		out = append(out, toOverrideResponse(o.TeamID, o.LimitSet))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"overrides": out})
}

func (h *limitsHandler) getTeamOverride(c *fiber.Ctx) error {
	override, err := h.service.GetTeamOverride(c.UserContext(), c.Params("teamID"))
	if err != nil {
		return writeLimitsError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(toOverrideResponse(override.TeamID, override.LimitSet))
}

func (h *limitsHandler) upsertTeamOverride(c *fiber.Ctx) error {
	var req overrideRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "invalid JSON body")
	}

	override, err := h.service.UpsertTeamOverride(c.UserContext(), c.Params("teamID"), toServiceOverride(c, req))
	if err != nil {
		return writeLimitsError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(toOverrideResponse(override.TeamID, override.LimitSet))
}

func (h *limitsHandler) deleteTeamOverride(c *fiber.Ctx) error {
	if err := h.service.DeleteTeamOverride(c.UserContext(), c.Params("teamID")); err != nil {
		return writeLimitsError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func toServiceOverride(c *fiber.Ctx, req overrideRequest) adminlimitsvc.OverrideRequest {
	return adminlimitsvc.OverrideRequest{
		DailyLimit:        req.DailyLimit,
		MonthlyLimit:      req.MonthlyLimit,
		WarningThreshold:  req.WarningThreshold,
		CriticalThreshold: req.CriticalThreshold,
		UpdatedBy:         performedBy(c, req.UpdatedBy),
	}
}

func toDefaultsResponse(d store.LimitDefaults) defaultsResponse {
	return defaultsResponse{
		DailyLimit:        d.DailyLimit,
		MonthlyLimit:      d.MonthlyLimit,
		WarningThreshold:  d.WarningThreshold,
		CriticalThreshold: d.CriticalThreshold,
		UpdatedBy:         d.UpdatedBy,
		UpdatedAt:         d.UpdatedAt,
	}
}

func toOverrideResponse(subjectID string, set store.LimitSet) overrideResponse {
	return overrideResponse{
		SubjectID:         subjectID,
		DailyLimit:        set.DailyLimit,
		MonthlyLimit:      set.MonthlyLimit,
		WarningThreshold:  set.WarningThreshold,
		CriticalThreshold: set.CriticalThreshold,
		UpdatedBy:         set.UpdatedBy,
		UpdatedAt:         set.UpdatedAt,
	}
}

func writeLimitsError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, adminlimitsvc.ErrNotFound):
		return httputil.WriteError(c, fiber.StatusNotFound, "not_found", "no override for subject")
	case errors.Is(err, adminlimitsvc.ErrEmptySubject),
		errors.Is(err, adminlimitsvc.ErrInvalidLimit),
		errors.Is(err, adminlimitsvc.ErrInvalidThreshold),
		errors.Is(err, adminlimitsvc.ErrThresholdOrder):
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", err.Error())
	default:
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "limit store unavailable")
	}
}
