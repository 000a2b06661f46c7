// Package queue carries ticket lifecycle events over RabbitMQ: the event
// payload, a publisher used by the server and the consumer that appends
// events to logs/tickets.log.
package queue

import (
    "time"

    "github.com/iliyamo/parkqr/internal/model"
)

// TicketQueueName is the durable queue every ticket event is routed to.
const TicketQueueName = "parking.tickets"

// Event types.
const (
    EventTicketCreated   = "ticket.created"
    EventTicketCompleted = "ticket.completed"
    EventTicketDelivery  = "ticket.delivery"
)

// TicketEvent is published after a lifecycle change has been committed.  It
// carries enough for downstream consumers to log or aggregate without
// querying the store.  The ticket token is never included since it is the
// holder's credential.
type TicketEvent struct {
    Type          string `json:"type"`
    TicketID      string `json:"ticket_id"`
    Plate         string `json:"plate"`
    VehicleClass  string `json:"vehicle_class"`
    Status        string `json:"status"`
    DeliveryState string `json:"delivery_state"`
    EntryTime     string `json:"entry_time"`
    ExitTime      string `json:"exit_time,omitempty"`
    FeeCents      *int64 `json:"fee_cents,omitempty"`
    TotalMinutes  int64  `json:"total_minutes,omitempty"`
    OccurredAt    string `json:"occurred_at"`
}

// NewTicketEvent snapshots t into an event of the given type.
func NewTicketEvent(typ string, t *model.Ticket, at time.Time) TicketEvent {
    ev := TicketEvent{
        Type:          typ,
        TicketID:      t.ID,
        Plate:         t.Plate,
        VehicleClass:  string(t.VehicleClass),
        Status:        string(t.Status),
        DeliveryState: string(t.DeliveryState),
        EntryTime:     t.EntryTime.UTC().Format(time.RFC3339),
        FeeCents:      t.FeeCents,
        OccurredAt:    at.UTC().Format(time.RFC3339),
    }
    if t.ExitTime != nil {
        ev.ExitTime = t.ExitTime.UTC().Format(time.RFC3339)
    }
    return ev
}
