package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/unpacker/internal/logging"
)

// AuditConsumer drains both event queues and appends one line per event to
// an audit log file.
type AuditConsumer struct {
	url  string
	path string
	log  *logging.Logger
}

func NewAuditConsumer(url, path string, logger *logging.Logger) *AuditConsumer {
	return &AuditConsumer{url: url, path: path, log: logger.With("component", "audit-consumer")}
}

// Run connects to the broker and consumes until ctx is cancelled,
// reconnecting with exponential backoff capped at 30s.
func (a *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(a.url)
		if err != nil {
			a.log.Warn("failed to dial broker", "err", err, "retry_in", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = a.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.log.Warn("consume loop ended, reconnecting", "err", err)
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

func (a *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		a.log.Warn("set QoS failed", "err", err)
	}

	deliveries := make(chan amqp.Delivery)
	for _, q := range []string{TaskCompletedQueue, ArtifactsReapedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("queue declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("queue consume %s: %w", q, err)
		}
		go func() {
			for d := range msgs {
				select {
				case deliveries <- d:
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-closed:
			if err == nil {
				return errors.New("connection closed")
			}
			return err
		case d := <-deliveries:
			if err := a.handle(d.RoutingKey, d.Body); err != nil {
				a.log.Warn("handle message failed", "queue", d.RoutingKey, "err", err)
				_ = d.Nack(false, false) // do not requeue, avoids tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (a *AuditConsumer) handle(queue string, body []byte) error {
	line, err := FormatAuditLine(queue, body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("mkdir audit dir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write audit log: %w", err)
	}
	return nil
}

// FormatAuditLine renders one event as a single human-readable line.
func FormatAuditLine(queue string, body []byte) (string, error) {
	switch queue {
	case TaskCompletedQueue:
		var ev TaskCompletedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		member := ev.Member
		if member == "" {
			member = "-"
		}
		return fmt.Sprintf("[%s] Task completed | task_id=%s | user_id=%d | kind=%s | size_mb=%.2f | files=%d | member=%s | output=%q | expires_at=%s\n",
			ev.CompletedAt, ev.TaskID, ev.UserID, ev.ArchiveKind, ev.SizeMB, ev.Files, member, ev.OutputPath, ev.ExpiresAt), nil
	case ArtifactsReapedQueue:
		var ev ArtifactsReapedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		return fmt.Sprintf("[%s] Artifacts reaped | count=%d | failed=%d | paths=[%s]\n",
			ev.ReapedAt, len(ev.Paths), ev.Failed, strings.Join(ev.Paths, ",")), nil
	default:
		return "", fmt.Errorf("unknown queue %q", queue)
	}
}
