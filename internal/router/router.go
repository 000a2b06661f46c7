package router // package router defines how HTTP routes are registered for the API

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/parkqr/internal/handler"
)

// ParkingPrefix is the base path of the ticket API.
const ParkingPrefix = "/api/parking"

// RegisterRoutes registers the unauthenticated probes and the metrics
// endpoint.  metrics may be nil.
func RegisterRoutes(e *echo.Echo, h *handler.HealthHandler, metrics http.Handler) {
    e.GET("/healthz", handler.Healthz)
    e.GET("/health", h.Health)
    e.GET("/health/db", h.HealthDB)
    if metrics != nil {
        e.GET("/metrics", echo.WrapHandler(metrics))
    }
}

// RegisterParking registers the public ticket endpoints used by the entry
// kiosk, the exit gate and ticket holders.  Holders authenticate with the
// ticket token itself.  limiter may be nil.
func RegisterParking(e *echo.Echo, p *handler.ParkingHandler, limiter echo.MiddlewareFunc) {
    mws := withLimiter(nil, limiter)
    g := e.Group(ParkingPrefix)
    g.POST("/entry", p.CreateEntry, mws...)
    g.POST("/exit", p.ProcessExit, mws...)
    g.GET("/ticket/:token", p.GetTicket, mws...)
    g.GET("/ticket/:token/image", p.DownloadImage, mws...)
    g.GET("/ticket/:token/qr", p.QRCode, mws...)
    g.POST("/confirm-digital/:token", p.ConfirmDigital, mws...)
    g.POST("/mark-printed/:token", p.MarkPrinted, mws...)
}

func withLimiter(mws []echo.MiddlewareFunc, limiter echo.MiddlewareFunc) []echo.MiddlewareFunc {
    if limiter == nil {
        return mws
    }
    return append(mws, limiter)
}
