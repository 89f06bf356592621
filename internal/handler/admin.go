package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/model"
	"github.com/iliyamo/unpacker/internal/service"
)

// AdminHandler groups the operator endpoints.  Routes are expected to sit
// behind RequireRole("ADMIN").
type AdminHandler struct {
	Users    *service.UserStore
	Registry *service.Registry
	Sweeper  *service.Sweeper
}

func NewAdminHandler(users *service.UserStore, registry *service.Registry, sweeper *service.Sweeper) *AdminHandler {
	return &AdminHandler{Users: users, Registry: registry, Sweeper: sweeper}
}

type flagBody struct {
	Value *bool `json:"value"`
}

// SetPremium handles PUT /v1/admin/users/:id/premium with {"value": bool}.
func (h *AdminHandler) SetPremium(c echo.Context) error {
	return h.setFlag(c, h.Users.SetPremium)
}

// SetBanned handles PUT /v1/admin/users/:id/ban with {"value": bool}.
func (h *AdminHandler) SetBanned(c echo.Context) error {
	return h.setFlag(c, h.Users.SetBanned)
}

func (h *AdminHandler) setFlag(c echo.Context, set func(context.Context, int64, bool) model.UserProfile) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return badRequest(c, "invalid user id")
	}
	var body flagBody
	if err := c.Bind(&body); err != nil || body.Value == nil {
		return badRequest(c, "value is required")
	}
	return c.JSON(http.StatusOK, set(c.Request().Context(), id, *body.Value))
}

// Stats handles GET /v1/admin/stats.
func (h *AdminHandler) Stats(c echo.Context) error {
	ctx := c.Request().Context()
	return c.JSON(http.StatusOK, echo.Map{
		"users":            h.Users.Count(ctx),
		"registered_paths": h.Registry.Len(),
		"durable":          h.Users.Durable(),
		"quota_day":        h.Users.Today(),
	})
}

// Cleanup handles POST /v1/admin/cleanup by running one sweep now.
func (h *AdminHandler) Cleanup(c echo.Context) error {
	res := h.Sweeper.RunOnce(c.Request().Context())
	return c.JSON(http.StatusOK, echo.Map{
		"reaped":      res.Reaped,
		"failed":      res.Failed,
		"duration_ms": res.Duration.Milliseconds(),
	})
}
