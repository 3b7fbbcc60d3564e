package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// BlockRoutingKey matches block and unblock events from the user service.
const BlockRoutingKey = "block.#"

// ErrDeliveriesClosed is returned by Run when the broker stops delivering.
var ErrDeliveriesClosed = errors.New("rabbitmq: delivery channel closed")

// BlockInvalidator drops cached block state for a user.
type BlockInvalidator interface {
	Invalidate(ctx context.Context, userID int) error
}

// BlockEvent is published whenever a block between two users is added or removed.
type BlockEvent struct {
	BlockerID int `json:"blocker_id"`
	BlockedID int `json:"blocked_id"`
}

// BlockEventConsumer invalidates cached block lists as block changes arrive.
type BlockEventConsumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	queue      string
	retryDelay time.Duration
}

// NewBlockEventConsumer declares a durable queue bound to the user events
// exchange. An empty url is an error: without the consumer, cached block
// lists cannot be kept fresh.
func NewBlockEventConsumer(amqpURL, exchange, queue string) (*BlockEventConsumer, error) {
	if amqpURL == "" {
		return nil, errors.New("empty amqp url")
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, BlockRoutingKey, exchange, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if err := ch.Qos(16, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}

	logrus.WithFields(logrus.Fields{"exchange": exchange, "queue": queue}).Info("block event consumer ready")
	return &BlockEventConsumer{conn: conn, ch: ch, queue: queue, retryDelay: time.Second}, nil
}

// Run consumes block events until ctx is done or the broker closes the
// delivery channel, in which case ErrDeliveriesClosed is returned.
func (c *BlockEventConsumer) Run(ctx context.Context, inv BlockInvalidator) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return ErrDeliveriesClosed
			}
			c.handle(ctx, d, inv)
		}
	}
}

func (c *BlockEventConsumer) handle(ctx context.Context, d amqp.Delivery, inv BlockInvalidator) {
	log := logrus.WithFields(logrus.Fields{"routing_key": d.RoutingKey, "message_id": d.MessageId})

	err := ApplyBlockEvent(ctx, d.Body, inv)
	var malformed *MalformedEventError
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.As(err, &malformed):
		log.WithError(err).Warn("dropping malformed block event")
		_ = d.Nack(false, false)
	default:
		log.WithError(err).Warn("block cache invalidation failed, requeueing")
		select {
		case <-ctx.Done():
		case <-time.After(c.retryDelay):
		}
		_ = d.Nack(false, true)
	}
}

// Close tears down the channel and connection.
func (c *BlockEventConsumer) Close() error {
	if c.ch != nil {
		_ = c.ch.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// MalformedEventError marks a payload that can never be applied.
type MalformedEventError struct {
	Err error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed block event: %v", e.Err)
}

func (e *MalformedEventError) Unwrap() error {
	return e.Err
}

// ApplyBlockEvent invalidates the cached block lists of both users: block
// visibility is symmetric, so each side's list changes.
func ApplyBlockEvent(ctx context.Context, body []byte, inv BlockInvalidator) error {
	var ev BlockEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return &MalformedEventError{Err: err}
	}
	if ev.BlockerID <= 0 || ev.BlockedID <= 0 {
		return &MalformedEventError{Err: errors.New("missing user ids")}
	}

	for _, userID := range []int{ev.BlockerID, ev.BlockedID} {
		if err := inv.Invalidate(ctx, userID); err != nil {
			return fmt.Errorf("invalidate user %d: %w", userID, err)
		}
	}
	return nil
}
