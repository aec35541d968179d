package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/drill/internal/grading"
)

// jsonPublisher is the part of Connection the producer needs
type jsonPublisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Producer publishes grading events to the event queue
type Producer struct {
	conn jsonPublisher
}

// NewProducer creates a new queue producer
func NewProducer(conn *Connection) *Producer {
	return &Producer{conn: conn}
}

// Publish sends one grading event. It satisfies grading.Publisher.
func (p *Producer) Publish(ctx context.Context, event grading.Event) error {
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}

	if err := p.conn.PublishJSON(ctx, EventQueueName, event); err != nil {
		return fmt.Errorf("failed to publish grading event: %w", err)
	}

	slog.Debug("published grading event",
		"type", event.Type,
		"instance_id", event.InstanceID,
		"topic", event.TopicSlug,
	)
	return nil
}

var _ grading.Publisher = (*Producer)(nil)
