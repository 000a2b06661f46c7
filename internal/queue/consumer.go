package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "os"
    "path/filepath"
    "strings"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// TicketLogPath is where the consumer appends one line per event.
var TicketLogPath = filepath.Join("logs", "tickets.log")

// StartTicketConsumer connects to RabbitMQ, declares the parking.tickets
// queue and appends every event to logPath.  It reconnects with
// exponential backoff and returns only when ctx is cancelled.  A message
// that cannot be handled is rejected without requeue so it cannot stall
// the queue.
func StartTicketConsumer(ctx context.Context, url, logPath string) error {
    backoff := time.Second
    for {
        conn, err := amqp.Dial(url)
        if err != nil {
            slog.Warn("ticket-consumer: dial failed", "err", err, "retry_in", backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = consumeLoop(ctx, conn, logPath)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        slog.Warn("ticket-consumer: consume loop ended; reconnecting", "err", err)
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, logPath string) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if err := ch.Qos(50, 0, false); err != nil {
        slog.Warn("ticket-consumer: set QoS failed", "err", err)
    }
    if _, err := ch.QueueDeclare(TicketQueueName, true, false, false, false, nil); err != nil {
        return fmt.Errorf("queue declare: %w", err)
    }
    msgs, err := ch.Consume(TicketQueueName, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }

    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            if err := HandleMessage(d.Body, logPath); err != nil {
                slog.Error("ticket-consumer: handle message failed", "err", err)
                _ = d.Nack(false, false)
                continue
            }
            _ = d.Ack(false)
        }
    }
}

// HandleMessage decodes one event and appends it to logPath.
func HandleMessage(body []byte, logPath string) error {
    var ev TicketEvent
    if err := json.Unmarshal(body, &ev); err != nil {
        return fmt.Errorf("unmarshal: %w", err)
    }
    if ev.Type == "" || ev.TicketID == "" {
        return errors.New("event without type or ticket id")
    }
    if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
        return fmt.Errorf("mkdir logs: %w", err)
    }
    f, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
    if err != nil {
        return fmt.Errorf("open log file: %w", err)
    }
    defer f.Close()

    if _, err := f.WriteString(FormatLine(ev)); err != nil {
        return fmt.Errorf("write log: %w", err)
    }
    return nil
}

// FormatLine renders ev as a single human-readable log line.
func FormatLine(ev TicketEvent) string {
    var b strings.Builder
    fmt.Fprintf(&b, "[%s] %s | ticket_id=%s | plate=%s | vehicle=%s | status=%s | delivery=%s | entry=%s",
        ev.OccurredAt, ev.Type, ev.TicketID, ev.Plate, ev.VehicleClass, ev.Status, ev.DeliveryState, ev.EntryTime)
    if ev.ExitTime != "" {
        fmt.Fprintf(&b, " | exit=%s", ev.ExitTime)
    }
    if ev.FeeCents != nil {
        fmt.Fprintf(&b, " | fee=%d cents", *ev.FeeCents)
    }
    if ev.TotalMinutes > 0 {
        fmt.Fprintf(&b, " | minutes=%d", ev.TotalMinutes)
    }
    b.WriteByte('\n')
    return b.String()
}
