package queue

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/unpacker/internal/logging"
)

// Publisher sends events to RabbitMQ.  Every publish dials its own
// connection; errors are logged and returned so callers can ignore them
// without interrupting the request.  A Publisher with an empty URL is
// disabled and publishes nothing.
type Publisher struct {
	url string
	log *logging.Logger
}

// NewPublisher returns a Publisher for the broker at url.
func NewPublisher(url string, logger *logging.Logger) *Publisher {
	return &Publisher{url: url, log: logger.With("component", "publisher")}
}

// Enabled reports whether a broker URL is configured.
func (p *Publisher) Enabled() bool { return p != nil && p.url != "" }

func (p *Publisher) PublishTaskCompleted(ctx context.Context, ev TaskCompletedEvent) error {
	return p.publish(ctx, TaskCompletedQueue, ev)
}

func (p *Publisher) PublishArtifactsReaped(ctx context.Context, ev ArtifactsReapedEvent) error {
	return p.publish(ctx, ArtifactsReapedQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queue string, event any) error {
	if !p.Enabled() {
		return nil
	}
	conn, err := amqp.Dial(p.url)
	if err != nil {
		p.log.Warn("rabbitmq dial failed", "queue", queue, "err", err)
		return err
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		p.log.Warn("rabbitmq channel open failed", "queue", queue, "err", err)
		return err
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		p.log.Warn("rabbitmq queue declare failed", "queue", queue, "err", err)
		return err
	}

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	// default exchange, routing key = queue name
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq publish failed", "queue", queue, "err", err)
		return err
	}
	return nil
}
