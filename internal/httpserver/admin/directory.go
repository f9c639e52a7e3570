package admin

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/stratumops/quotawarden/internal/app"
	"github.com/stratumops/quotawarden/internal/httpserver/httputil"
	"github.com/stratumops/quotawarden/internal/store"
)

func registerDirectoryRoutes(router fiber.Router, container *app.Container) {
	handler := &directoryHandler{container: container}

	router.Get("/teams", handler.listTeams)
	router.Put("/teams/:teamID", handler.upsertTeam)
	router.Get("/teams/:teamID/members", handler.listMembers)
	router.Get("/users/:userID", handler.getUser)
	router.Put("/users/:userID", handler.upsertUser)
}

type directoryHandler struct {
	container *app.Container
}

type upsertTeamRequest struct {
	Name string `json:"name"`
}

type upsertUserRequest struct {
	Team  *string `json:"team"`
	Email *string `json:"email"`
	Name  *string `json:"name"`
}

type teamResponse struct {
	TeamID    string    `json:"team_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type userResponse struct {
	UserID      string    `json:"user_id"`
	TeamID      *string   `json:"team_id,omitempty"`
	Email       *string   `json:"email,omitempty"`
	DisplayName *string   `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (h *directoryHandler) listTeams(c *fiber.Ctx) error {
	teams, err := h.container.Store.ListTeams(c.UserContext())
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "directory unavailable")
	}
	out := make([]teamResponse, 0, len(teams))
	for _, t := range teams {
		out = append(out, toTeamResponse(t))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"teams": out})
}

func (h *directoryHandler) upsertTeam(c *fiber.Ctx) error {
	teamID := strings.TrimSpace(c.Params("teamID"))
	if teamID == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "team id required")
	}

	var req upsertTeamRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "invalid JSON body")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = teamID
	}

	team, err := h.container.Store.UpsertTeam(c.UserContext(), teamID, name)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "directory unavailable")
	}
	return c.Status(fiber.StatusOK).JSON(toTeamResponse(team))
}

func (h *directoryHandler) listMembers(c *fiber.Ctx) error {
	members, err := h.container.Store.ListTeamMembers(c.UserContext(), c.Params("teamID"))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "directory unavailable")
	}
	out := make([]userResponse, 0, len(members))
	for _, u := range members {
		out = append(out, toUserResponse(u))
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"members": out})
}

func (h *directoryHandler) getUser(c *fiber.Ctx) error {
	user, err := h.container.Store.GetUser(c.UserContext(), c.Params("userID"))
	if errors.Is(err, store.ErrNotFound) {
		return httputil.WriteError(c, fiber.StatusNotFound, "not_found", "unknown user")
	}
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "directory unavailable")
	}
	return c.Status(fiber.StatusOK).JSON(toUserResponse(user))
}

func (h *directoryHandler) upsertUser(c *fiber.Ctx) error {
	userID := strings.TrimSpace(c.Params("userID"))
	if userID == "" {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "user id required")
	}

	var req upsertUserRequest
	if err := c.BodyParser(&req); err != nil {
		return httputil.WriteError(c, fiber.StatusBadRequest, "invalid_request", "invalid JSON body")
	}

	user, err := h.container.Store.UpsertUser(c.UserContext(), userID, req.Team, req.Email, req.Name)
	if err != nil {
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "unavailable", "directory unavailable")
	}
	return c.Status(fiber.StatusOK).JSON(toUserResponse(user))
}

func toTeamResponse(t store.Team) teamResponse {
	return teamResponse{TeamID: t.TeamID, Name: t.Name, CreatedAt: t.CreatedAt}
}

func toUserResponse(u store.User) userResponse {
	return userResponse{
		UserID:      u.UserID,
		TeamID:      u.TeamID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		CreatedAt:   u.CreatedAt,
	}
}
