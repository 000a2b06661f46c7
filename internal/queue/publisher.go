package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "sync"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher publishes TicketEvents to the parking.tickets queue.  The
// broker connection is dialed on first use, shared by every publish and
// dropped after any failure so the next publish dials again.
type Publisher struct {
    url   string
    queue string

    mu   sync.Mutex
    conn *amqp.Connection
    ch   *amqp.Channel
}

// NewPublisher returns a Publisher for the broker at url.  No connection is
// made until the first Publish.
func NewPublisher(url string) *Publisher {
    return &Publisher{url: url, queue: TicketQueueName}
}

// Publish sends ev as a persistent JSON message.  Errors are returned so
// the caller can log them; the connection is reset before returning one.
func (p *Publisher) Publish(ctx context.Context, ev TicketEvent) error {
    body, err := json.Marshal(ev)
    if err != nil {
        return fmt.Errorf("rabbitmq: marshal event: %w", err)
    }

    p.mu.Lock()
    defer p.mu.Unlock()

    ch, err := p.channel()
    if err != nil {
        p.reset()
        return err
    }
    pub := amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        Timestamp:    time.Now().UTC(),
        Type:         ev.Type,
        Body:         body,
    }
    // default exchange, routing key = queue name
    if err := ch.PublishWithContext(ctx, "", p.queue, false, false, pub); err != nil {
        p.reset()
        return fmt.Errorf("rabbitmq: publish: %w", err)
    }
    return nil
}

// channel returns the open channel, dialing and declaring the queue when
// needed.  Callers hold p.mu.
func (p *Publisher) channel() (*amqp.Channel, error) {
    if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
        return p.ch, nil
    }
    p.reset()

    conn, err := amqp.Dial(p.url)
    if err != nil {
        return nil, fmt.Errorf("rabbitmq: dial: %w", err)
    }
    ch, err := conn.Channel()
    if err != nil {
        _ = conn.Close()
        return nil, fmt.Errorf("rabbitmq: channel open: %w", err)
    }
    // durable, not auto-deleted, not exclusive
    if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
        _ = ch.Close()
        _ = conn.Close()
        return nil, fmt.Errorf("rabbitmq: queue declare: %w", err)
    }
    p.conn, p.ch = conn, ch
    return ch, nil
}

func (p *Publisher) reset() {
    if p.ch != nil {
        _ = p.ch.Close()
        p.ch = nil
    }
    if p.conn != nil {
        _ = p.conn.Close()
        p.conn = nil
    }
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.reset()
    return nil
}
