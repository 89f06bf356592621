package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/unpacker/internal/handler"
	"github.com/iliyamo/unpacker/internal/middleware"
	"github.com/iliyamo/unpacker/internal/utils"
)

// RegisterAdmin registers operator endpoints under /v1/admin.  All routes
// require a valid JWT and the ADMIN role; stats responses go through the
// Redis response cache.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string, cache echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/admin",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(utils.RoleAdmin),
	)
	g.PUT("/users/:id/premium", a.SetPremium)
	g.PUT("/users/:id/ban", a.SetBanned)
	g.GET("/stats", a.Stats, cache)
	g.POST("/cleanup", a.Cleanup)
}
