package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/logging"
	"github.com/iliyamo/unpacker/internal/model"
	"github.com/iliyamo/unpacker/internal/service"
)

// UserHandler serves profile reads and settings updates to the profile
// owner (or an admin).
type UserHandler struct {
	Users *service.UserStore
	Log   *logging.Logger
}

func NewUserHandler(users *service.UserStore, logger *logging.Logger) *UserHandler {
	if logger == nil {
		logger = logging.NewTestLogger()
	}
	return &UserHandler{Users: users, Log: logger}
}

// Get handles GET /v1/users/:id.  Unknown users are created with defaults.
func (h *UserHandler) Get(c echo.Context) error {
	id, ok, err := pathUserID(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, h.Users.Get(c.Request().Context(), id))
}

// UpdateSettings handles PATCH /v1/users/:id/settings.  Only the fields
// present in the body change.
func (h *UserHandler) UpdateSettings(c echo.Context) error {
	id, ok, err := pathUserID(c)
	if !ok {
		return err
	}
	var patch model.SettingsPatch
	if err := c.Bind(&patch); err != nil {
		return badRequest(c, "invalid request body")
	}
	p, err := h.Users.UpdateSettings(c.Request().Context(), id, patch)
	if err != nil {
		return respondError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, p)
}
