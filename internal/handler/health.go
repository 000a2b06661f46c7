package handler

import (
    "context"
    "net/http"
    "time"

    "github.com/labstack/echo/v4"
)

// Healthz is the liveness probe used by load balancers.  It returns a
// plain "ok" without touching the store.
func Healthz(c echo.Context) error {
    return c.String(http.StatusOK, "ok")
}

// HealthHandler reports service and store health.
type HealthHandler struct {
    Store   interface{ Ping(ctx context.Context) error }
    Env     string
    Started time.Time
}

// Health handles GET /health with basic service information.
func (h *HealthHandler) Health(c echo.Context) error {
    return c.JSON(http.StatusOK, echo.Map{
        "status":  "ok",
        "service": "parkqr",
        "env":     h.Env,
        "uptime":  time.Since(h.Started).Round(time.Second).String(),
        "time":    time.Now().UTC(),
    })
}

// HealthDB handles GET /health/db.  It answers 503 when the store does not
// respond.
func (h *HealthHandler) HealthDB(c echo.Context) error {
    if err := h.Store.Ping(c.Request().Context()); err != nil {
        return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "down", "error": "ticket store unavailable", "code": "unavailable"})
    }
    return c.JSON(http.StatusOK, echo.Map{"status": "up"})
}
