package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/handler"
	"github.com/iliyamo/unpacker/internal/middleware"
	"github.com/iliyamo/unpacker/internal/utils"
)

// UserHandlers bundles the handlers served to ordinary users.
type UserHandlers struct {
	Tasks    *handler.TaskHandler
	Archives *handler.ArchiveHandler
	Quota    *handler.QuotaHandler
	Users    *handler.UserHandler
}

// RegisterUser registers user-scoped endpoints under /v1.  Every route
// needs a valid JWT; limiter runs after authentication so buckets can be
// keyed by user.
func RegisterUser(e *echo.Echo, h UserHandlers, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleUser, utils.RoleAdmin),
		limiter,
	)
	g.POST("/tasks", h.Tasks.Create)
	g.POST("/archives/inspect", h.Archives.Inspect)
	g.POST("/quota/check", h.Quota.Check)
	g.GET("/users/:id", h.Users.Get)
	g.PATCH("/users/:id/settings", h.Users.UpdateSettings)
}
