package mq

import (
	"DriveVault/config"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeCleanup = "cleanup.exchange"
	ExchangeRetry   = "cleanup.retry.exchange"
	ExchangeDLQ     = "cleanup.dlq.exchange"

	QueueCleanup = "cleanup.queue"
	QueueRetry   = "cleanup.retry.queue"
	QueueDLQ     = "cleanup.dlq.queue"

	RoutingCleanup = "cleanup"
	RoutingRetry   = "cleanup.retry"
	RoutingDLQ     = "cleanup.dlq"
)

// binding is one exchange -> queue route of the cleanup topology.
type binding struct {
	exchange string
	queue    string
	key      string
	args     amqp.Table
}

// topology: work queue, a retry queue whose expired messages dead-letter
// back to the work queue, and a terminal DLQ.
var topology = []binding{
	{exchange: ExchangeCleanup, queue: QueueCleanup, key: RoutingCleanup},
	{exchange: ExchangeRetry, queue: QueueRetry, key: RoutingRetry, args: amqp.Table{
		"x-dead-letter-exchange":    ExchangeCleanup,
		"x-dead-letter-routing-key": RoutingCleanup,
	}},
	{exchange: ExchangeDLQ, queue: QueueDLQ, key: RoutingDLQ},
}

type Client struct {
	Conn      *amqp.Connection
	Channel   *amqp.Channel
	publishMu sync.Mutex
}

var publisherMu sync.Mutex
var publisher *Client

// Dial opens a connection and channel to RabbitMQ.
func Dial() (*Client, error) {
	conn, err := amqp.Dial(config.AppConfig.RabbitMQURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{Conn: conn, Channel: ch}, nil
}

// GetPublisher returns the shared publishing client, redialing if the
// previous connection was lost.
func GetPublisher() (*Client, error) {
	publisherMu.Lock()
	defer publisherMu.Unlock()
	if publisher != nil {
		if !publisher.Conn.IsClosed() && !publisher.Channel.IsClosed() {
			return publisher, nil
		}
		publisher.Close()
		publisher = nil
	}
	client, err := Dial()
	if err != nil {
		return nil, err
	}
	if err := client.DeclareTopology(); err != nil {
		client.Close()
		return nil, err
	}
	publisher = client
	return publisher, nil
}

// ClosePublisher closes the shared publisher, if any.
func ClosePublisher() error {
	publisherMu.Lock()
	defer publisherMu.Unlock()
	err := publisher.Close()
	publisher = nil
	return err
}

// Close closes the channel, then the connection. Either may already be
// gone; amqp.ErrClosed is not reported.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	var errs []error
	if c.Channel != nil {
		errs = append(errs, ignoreClosed(c.Channel.Close()))
	}
	if c.Conn != nil {
		errs = append(errs, ignoreClosed(c.Conn.Close()))
	}
	return errors.Join(errs...)
}

func ignoreClosed(err error) error {
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

// DeclareTopology declares every exchange, queue and binding. It is
// idempotent and run by both the publisher and the worker.
func (c *Client) DeclareTopology() error {
	for _, b := range topology {
		if err := c.Channel.ExchangeDeclare(b.exchange, "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", b.exchange, err)
		}
		if _, err := c.Channel.QueueDeclare(b.queue, true, false, false, false, b.args); err != nil {
			return fmt.Errorf("declare queue %s: %w", b.queue, err)
		}
		if err := c.Channel.QueueBind(b.queue, b.key, b.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", b.queue, err)
		}
	}
	return nil
}

func (c *Client) PublishTask(ctx context.Context, body []byte) error {
	return c.publish(ctx, ExchangeCleanup, RoutingCleanup, body, "")
}

// PublishRetry parks body in the retry queue for delay.
func (c *Client) PublishRetry(ctx context.Context, body []byte, delay time.Duration) error {
	return c.publish(ctx, ExchangeRetry, RoutingRetry, body, expiration(delay))
}

func (c *Client) PublishDLQ(ctx context.Context, body []byte) error {
	return c.publish(ctx, ExchangeDLQ, RoutingDLQ, body, "")
}

// expiration renders a per-message TTL in milliseconds.
func expiration(delay time.Duration) string {
	if delay < 0 {
		delay = 0
	}
	return fmt.Sprintf("%d", delay.Milliseconds())
}

func (c *Client) publish(ctx context.Context, exchange, key string, body []byte, expiration string) error {
	c.publishMu.Lock()
	defer c.publishMu.Unlock()
	msg := amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
	}
	if expiration != "" {
		msg.Expiration = expiration
	}
	return c.Channel.PublishWithContext(
		ctx,
		exchange,
		key,
		false,
		false,
		msg,
	)
}
