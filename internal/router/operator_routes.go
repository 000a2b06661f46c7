package router

import (
    "log/slog"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/parkqr/internal/handler"
    "github.com/iliyamo/parkqr/internal/middleware"
    "github.com/iliyamo/parkqr/internal/utils"
)

// RegisterOperator registers the lot-wide views.  With a jwtSecret every
// route requires an operator JWT; without one the routes are open, which
// is only meant for local development.  limiter runs after authentication
// so operator-keyed buckets see the operator id; it may be nil.
func RegisterOperator(e *echo.Echo, p *handler.ParkingHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
    var mws []echo.MiddlewareFunc
    if jwtSecret != "" {
        mws = append(mws, middleware.JWTAuth(jwtSecret), middleware.RequireRole(utils.OperatorRole))
    } else {
        slog.Warn("JWT_SECRET is empty; operator routes are not authenticated")
    }
    mws = withLimiter(mws, limiter)
    // Route-level middleware keeps unknown /api/parking paths a plain 404.
    g := e.Group(ParkingPrefix)
    g.GET("/status", p.GetStatus, mws...)
    g.GET("/tickets", p.ListTickets, mws...)
    g.GET("/tickets/:id", p.GetTicketByID, mws...)
}
