package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/middleware"
	"github.com/iliyamo/unpacker/internal/utils"
)

// actingFor resolves the user a request acts on.  Zero means the caller;
// any other id must be the caller's own unless the caller is an admin.
// On failure the response has already been written and ok is false.
func actingFor(c echo.Context, requested int64) (id int64, ok bool, err error) {
	caller, authed := middleware.UserID(c)
	if !authed {
		return 0, false, c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if requested == 0 || requested == caller {
		return caller, true, nil
	}
	if middleware.Role(c) != utils.RoleAdmin {
		return 0, false, c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	}
	return requested, true, nil
}

// pathUserID parses the :id path parameter and applies actingFor.
func pathUserID(c echo.Context) (int64, bool, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false, badRequest(c, "invalid user id")
	}
	return actingFor(c, id)
}
