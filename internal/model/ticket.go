package model

import (
    "fmt"
    "regexp"
    "strings"
    "time"
)

// Ticket represents a parking ticket as stored in the `parking_tickets`
// table.  A ticket is opened when a vehicle enters and settled exactly
// once when it leaves.  Token is the external reference printed in the
// QR code; ID is the internal primary key.
//
// Fields:
//  ID            – primary key (UUID string).
//  Token         – unique, unguessable reference used by lookup/exit/delivery.
//  Plate         – normalized (uppercase) plate number.
//  VehicleClass  – CAR, MOTORCYCLE or BICYCLE.
//  EntryTime     – when the ticket was issued.
//  ExitTime      – when the ticket was settled (nil while ACTIVE).
//  FeeCents      – final fee in cents (nil while ACTIVE).
//  Status        – ACTIVE or COMPLETED.
//  DeliveryState – how the ticket artifact reached the holder.
//  PrintedAt     – last time the ticket was marked as printed.
//  DownloadedAt  – last time the ticket image was downloaded.
type Ticket struct {
    ID            string        // parking_tickets.id
    Token         string        // parking_tickets.token
    Plate         string        // parking_tickets.plate
    VehicleClass  VehicleClass  // parking_tickets.vehicle_class
    EntryTime     time.Time     // parking_tickets.entry_time
    ExitTime      *time.Time    // parking_tickets.exit_time (nullable)
    FeeCents      *int64        // parking_tickets.fee_cents (nullable)
    Status        Status        // parking_tickets.status
    DeliveryState DeliveryState // parking_tickets.delivery_state
    PrintedAt     *time.Time    // parking_tickets.printed_at (nullable)
    DownloadedAt  *time.Time    // parking_tickets.downloaded_at (nullable)
    CreatedAt     time.Time     // parking_tickets.created_at
    UpdatedAt     time.Time     // parking_tickets.updated_at
}

// IsActive reports whether the ticket is still open.
func (t Ticket) IsActive() bool { return t.Status == StatusActive }

// Fee returns the persisted fee, or zero when none is set.
func (t Ticket) Fee() int64 {
    if t.FeeCents == nil {
        return 0
    }
    return *t.FeeCents
}

// Status is the lifecycle state of a ticket.
type Status string

const (
    StatusActive    Status = "ACTIVE"
    StatusCompleted Status = "COMPLETED"
)

// VehicleClass is the closed set of vehicles the lot bills for.
type VehicleClass string

const (
    VehicleCar        VehicleClass = "CAR"
    VehicleMotorcycle VehicleClass = "MOTORCYCLE"
    VehicleBicycle    VehicleClass = "BICYCLE"
)

// VehicleClasses lists every known class in display order.
var VehicleClasses = []VehicleClass{VehicleCar, VehicleMotorcycle, VehicleBicycle}

// Valid reports whether c is one of the known vehicle classes.
func (c VehicleClass) Valid() bool {
    switch c {
    case VehicleCar, VehicleMotorcycle, VehicleBicycle:
        return true
    }
    return false
}

// ParseVehicleClass upper-cases s and checks it against the known classes.
func ParseVehicleClass(s string) (VehicleClass, error) {
    c := VehicleClass(strings.ToUpper(strings.TrimSpace(s)))
    if !c.Valid() {
        return "", fmt.Errorf("unknown vehicle type %q", s)
    }
    return c, nil
}

// DeliveryState records how the ticket artifact reached the holder.  It is
// independent of Status.
type DeliveryState string

const (
    DeliveryUnset           DeliveryState = "UNSET"
    DeliveryDigitalPhoto    DeliveryState = "DIGITAL_PHOTO"
    DeliveryPrinted         DeliveryState = "PRINTED"
    DeliveryDigitalDownload DeliveryState = "DIGITAL_DOWNLOAD"
)

var plateRe = regexp.MustCompile(`^[A-Z0-9-]{3,10}$`)

// NormalizePlate trims and upper-cases raw, then checks it against the
// accepted plate format (3-10 characters of A-Z, 0-9 and '-').
func NormalizePlate(raw string) (string, error) {
    p := strings.ToUpper(strings.TrimSpace(raw))
    if !plateRe.MatchString(p) {
        return "", fmt.Errorf("plate must be 3-10 characters of A-Z, 0-9 or '-'")
    }
    return p, nil
}

// Aggregate is the count and fee sum over tickets entered since a point in time.
type Aggregate struct {
    Count  int64
    FeeSum int64
}
