package handler

import (
    "time"

    "github.com/iliyamo/parkqr/internal/model"
    "github.com/iliyamo/parkqr/internal/service"
)

// ticketJSON is the wire form of a ticket.  Times are RFC 3339 in UTC and
// money is in cents.
type ticketJSON struct {
    ID            string     `json:"id"`
    Token         string     `json:"qr_token"`
    PlateNumber   string     `json:"plate_number"`
    VehicleType   string     `json:"vehicle_type"`
    EntryTime     time.Time  `json:"entry_time"`
    ExitTime      *time.Time `json:"exit_time,omitempty"`
    FeeCents      *int64     `json:"total_fee,omitempty"`
    Status        string     `json:"status"`
    DeliveryState string     `json:"delivery_method"`
    PrintedAt     *time.Time `json:"printed_at,omitempty"`
    DownloadedAt  *time.Time `json:"downloaded_at,omitempty"`
    CreatedAt     time.Time  `json:"created_at"`
    UpdatedAt     time.Time  `json:"updated_at"`
}

func toTicketJSON(t *model.Ticket) ticketJSON {
    return ticketJSON{
        ID:            t.ID,
        Token:         t.Token,
        PlateNumber:   t.Plate,
        VehicleType:   string(t.VehicleClass),
        EntryTime:     t.EntryTime,
        ExitTime:      t.ExitTime,
        FeeCents:      t.FeeCents,
        Status:        string(t.Status),
        DeliveryState: string(t.DeliveryState),
        PrintedAt:     t.PrintedAt,
        DownloadedAt:  t.DownloadedAt,
        CreatedAt:     t.CreatedAt,
        UpdatedAt:     t.UpdatedAt,
    }
}

// ticketViewJSON pairs a ticket with its elapsed minutes and fee.  For an
// open ticket the fee is an estimate as of the request.
type ticketViewJSON struct {
    Ticket       ticketJSON `json:"ticket"`
    TimeElapsed  int64      `json:"time_elapsed"`
    EstimatedFee int64      `json:"estimated_fee"`
}

func toViewJSON(v *service.TicketView) ticketViewJSON {
    return ticketViewJSON{Ticket: toTicketJSON(v.Ticket), TimeElapsed: v.ElapsedMinutes, EstimatedFee: v.FeeCents}
}

func toViewsJSON(views []service.TicketView) []ticketViewJSON {
    out := make([]ticketViewJSON, 0, len(views))
    for i := range views {
        out = append(out, toViewJSON(&views[i]))
    }
    return out
}
