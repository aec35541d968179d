package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

// EventQueueName carries grading events from drilld replicas to the stats consumer
const EventQueueName = "drill.grading.events"

// eventTTL drops events nobody consumed within a day
const eventTTL = 24 * time.Hour

// ErrNotConnected is returned while the broker connection is down
var ErrNotConnected = errors.New("queue not connected")

// Connection owns one AMQP connection and channel and re-dials them with
// exponential backoff when the broker drops the connection.
type Connection struct {
	url     string
	retrier retry.Retry[struct{}]

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel

	ctx    context.Context
	cancel context.CancelFunc
}

// NewConnection dials url and declares the event queue
func NewConnection(url string) (*Connection, error) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		url: url,
		retrier: retry.New[struct{}](retry.Config{
			MaxAttempts:   10,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
		}),
		ctx:    ctx,
		cancel: cancel,
	}

	if err := c.connect(); err != nil {
		cancel()
		return nil, err
	}
	return c, nil
}

func (c *Connection) connect() error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("open channel: %w", err)
	}

	if err := declareEventQueue(ch); err != nil {
		ch.Close()
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	go c.watch(conn)

	slog.Info("connected to RabbitMQ", "url", sanitizeURL(c.url), "queue", EventQueueName)
	return nil
}

func declareEventQueue(ch *amqp.Channel) error {
	_, err := ch.QueueDeclare(
		EventQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{"x-message-ttl": int32(eventTTL / time.Millisecond)},
	)
	if err != nil {
		return fmt.Errorf("declare %s: %w", EventQueueName, err)
	}
	return nil
}

// watch re-dials after an unexpected close of conn
func (c *Connection) watch(conn *amqp.Connection) {
	amqpErr, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || amqpErr == nil || c.ctx.Err() != nil {
		return
	}

	slog.Warn("RabbitMQ connection lost, reconnecting", "error", amqpErr)

	c.mu.Lock()
	c.channel = nil
	c.mu.Unlock()

	attempt := 0
	_, err := c.retrier.Do(c.ctx, func(ctx context.Context) (struct{}, error) {
		attempt++
		if err := c.connect(); err != nil {
			slog.Warn("reconnect failed", "attempt", attempt, "error", err)
			return struct{}{}, err
		}
		return struct{}{}, nil
	})
	if err != nil && c.ctx.Err() == nil {
		slog.Error("giving up on RabbitMQ", "attempts", attempt, "error", err)
	}
}

// Channel returns the current channel, nil while reconnecting
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close stops reconnecting and closes the connection
func (c *Connection) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.channel != nil {
		c.channel.Close()
		c.channel = nil
	}
	if c.conn != nil && !c.conn.IsClosed() {
		return c.conn.Close()
	}
	return nil
}

// IsConnected reports whether a usable channel is open
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel != nil && c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes data as a persistent JSON message to queue
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	ch := c.Channel()
	if ch == nil {
		return fmt.Errorf("publish to %s: %w", queue, ErrNotConnected)
	}

	return ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
}

// sanitizeURL masks the password of an AMQP URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		if len(raw) > 20 {
			return raw[:20] + "..."
		}
		return raw
	}
	return u.Redacted()
}
