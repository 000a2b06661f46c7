package handler

import (
    "errors"
    "net/http"
    "strings"

    "github.com/labstack/echo/v4"

    "github.com/iliyamo/parkqr/internal/service"
)

// ParkingHandler exposes the ticket lifecycle under /api/parking.
type ParkingHandler struct {
    Svc *service.ParkingService
}

// NewParkingHandler panics when svc is nil.
func NewParkingHandler(svc *service.ParkingService) *ParkingHandler {
    if svc == nil {
        panic("nil parking service passed to NewParkingHandler")
    }
    return &ParkingHandler{Svc: svc}
}

type entryRequest struct {
    PlateNumber string `json:"plate_number"`
    VehicleType string `json:"vehicle_type"`
}

type exitRequest struct {
    QRToken string `json:"qr_token"`
}

// CreateEntry handles POST /api/parking/entry.  It returns 201 with the
// ticket, its verify URL and the QR code as a PNG data URL.  When the
// ticket was stored but the QR code could not be drawn the response is a
// 500 that still carries the ticket.
func (h *ParkingHandler) CreateEntry(c echo.Context) error {
    var body entryRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": string(service.KindValidation)})
    }
    res, err := h.Svc.CreateEntry(c.Request().Context(), body.PlateNumber, body.VehicleType)
    if err != nil {
        if res != nil && errors.Is(err, service.ErrRenderingFailed) {
            resp := errorBody(err)
            resp["ticket"] = toTicketJSON(res.Ticket)
            resp["verify_url"] = res.VerifyURL
            return c.JSON(http.StatusInternalServerError, resp)
        }
        return writeError(c, err)
    }
    return c.JSON(http.StatusCreated, echo.Map{
        "ticket":     toTicketJSON(res.Ticket),
        "qr_code":    res.QRCode,
        "verify_url": res.VerifyURL,
    })
}

// GetTicket handles GET /api/parking/ticket/:token.
func (h *ParkingHandler) GetTicket(c echo.Context) error {
    v, err := h.Svc.GetTicket(c.Request().Context(), c.Param("token"))
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, toViewJSON(v))
}

// GetTicketByID handles GET /api/parking/tickets/:id (operators).
func (h *ParkingHandler) GetTicketByID(c echo.Context) error {
    v, err := h.Svc.GetTicketByID(c.Request().Context(), c.Param("id"))
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, toViewJSON(v))
}

// ListTickets handles GET /api/parking/tickets (operators).
func (h *ParkingHandler) ListTickets(c echo.Context) error {
    views, err := h.Svc.ListTickets(c.Request().Context())
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{"tickets": toViewsJSON(views), "count": len(views)})
}

// ProcessExit handles POST /api/parking/exit.
func (h *ParkingHandler) ProcessExit(c echo.Context) error {
    var body exitRequest
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body", "code": string(service.KindValidation)})
    }
    res, err := h.Svc.ProcessExit(c.Request().Context(), strings.TrimSpace(body.QRToken))
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "ticket":        toTicketJSON(res.Ticket),
        "time_elapsed":  res.TotalMinutes,
        "total_minutes": res.TotalMinutes,
        "total_hours":   res.TotalHours,
    })
}

// GetStatus handles GET /api/parking/status (operators).
func (h *ParkingHandler) GetStatus(c echo.Context) error {
    st, err := h.Svc.GetParkingStatus(c.Request().Context())
    if err != nil {
        return writeError(c, err)
    }
    byType := make(map[string]int, len(st.ByClass))
    for class, n := range st.ByClass {
        byType[string(class)] = n
    }
    return c.JSON(http.StatusOK, echo.Map{
        "active_count":    st.ActiveCount,
        "by_vehicle_type": byType,
        "active_tickets":  toViewsJSON(st.Active),
        "today": echo.Map{
            "since":         st.Today.Since,
            "count":         st.Today.Count,
            "revenue_cents": st.Today.RevenueCents,
        },
    })
}

// ConfirmDigital handles POST /api/parking/confirm-digital/:token.
func (h *ParkingHandler) ConfirmDigital(c echo.Context) error {
    t, err := h.Svc.ConfirmDigitalDelivery(c.Request().Context(), c.Param("token"))
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "success":         true,
        "message":         "digital delivery confirmed",
        "delivery_method": string(t.DeliveryState),
    })
}

// MarkPrinted handles POST /api/parking/mark-printed/:token.
func (h *ParkingHandler) MarkPrinted(c echo.Context) error {
    t, err := h.Svc.MarkAsPrinted(c.Request().Context(), c.Param("token"))
    if err != nil {
        return writeError(c, err)
    }
    return c.JSON(http.StatusOK, echo.Map{
        "success":         true,
        "message":         "ticket marked as printed",
        "delivery_method": string(t.DeliveryState),
        "printed_at":      t.PrintedAt,
    })
}

// DownloadImage handles GET /api/parking/ticket/:token/image and serves
// the printable ticket as a PNG attachment.
func (h *ParkingHandler) DownloadImage(c echo.Context) error {
    img, t, err := h.Svc.DownloadTicketImage(c.Request().Context(), c.Param("token"))
    if err != nil {
        return writeError(c, err)
    }
    c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="ticket-`+t.Token+`.png"`)
    c.Response().Header().Set("Cache-Control", "no-store")
    return c.Blob(http.StatusOK, "image/png", img)
}

// QRCode handles GET /api/parking/ticket/:token/qr.
func (h *ParkingHandler) QRCode(c echo.Context) error {
    img, err := h.Svc.VerifyQRCode(c.Request().Context(), c.Param("token"))
    if err != nil {
        return writeError(c, err)
    }
    c.Response().Header().Set("Cache-Control", "no-store")
    return c.Blob(http.StatusOK, "image/png", img)
}
