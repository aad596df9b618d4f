// Package amqp connects the service to RabbitMQ: expense change events go out
// on one queue, bank statement lines for the delivery worker arrive on
// another. Both hang off a single direct exchange with durable queues.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"moneta/internal/log"
)

const publishTimeout = 5 * time.Second

// ErrPermanent marks handler failures that redelivery cannot fix. Handlers
// wrap such errors so consume drops the message instead of requeueing it.
var ErrPermanent = errors.New("permanent handler failure")

type Client struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	exchange string
	logger   *log.Logger
}

// NewClient dials the broker and declares the exchange plus every named
// queue, bound with the queue name as routing key.
func NewClient(url, exchange string, queues []string, logger *log.Logger) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c := &Client{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger.WithComponent(log.ComponentAMQP),
	}

	if err := c.setup(queues); err != nil {
		c.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return c, nil
}

func (c *Client) setup(queues []string) error {
	err := c.channel.ExchangeDeclare(
		c.exchange,
		"direct",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range queues {
		_, err = c.channel.QueueDeclare(
			queue,
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		if err := c.channel.QueueBind(queue, queue, c.exchange, false, nil); err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

func (c *Client) publish(ctx context.Context, queue string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err := c.channel.PublishWithContext(
		ctx,
		c.exchange,
		queue, // routing key matches the queue name on a direct exchange
		false, // mandatory
		false, // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// PublishExpenseEvent announces an expense mutation on the event queue.
func (c *Client) PublishExpenseEvent(ctx context.Context, queue string, msg *ExpenseEventMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event message: %w", err)
	}
	if err := c.publish(ctx, queue, body); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "published expense event",
		log.FieldExpenseID, msg.ExpenseID,
		"type", msg.Type,
		log.FieldQueue, queue)
	return nil
}

// PublishStatement feeds a bank statement line to the delivery queue.
func (c *Client) PublishStatement(ctx context.Context, queue string, msg *StatementMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal statement message: %w", err)
	}
	if err := c.publish(ctx, queue, body); err != nil {
		return err
	}
	c.logger.InfoContext(ctx, "published statement",
		log.FieldAccountID, msg.AccountID,
		log.FieldQueue, queue)
	return nil
}

// ConsumeStatements delivers statement messages to the handler with manual
// acknowledgement. Unparsable messages are dropped; handler failures requeue.
// Blocks until the context is cancelled or the channel dies.
func (c *Client) ConsumeStatements(ctx context.Context, queue string, handler func(context.Context, *StatementMessage) error) error {
	return consume(ctx, c, queue, StatementMessageFromJSON, handler)
}

// ConsumeExpenseEvents is the event-queue counterpart of ConsumeStatements.
func (c *Client) ConsumeExpenseEvents(ctx context.Context, queue string, handler func(context.Context, *ExpenseEventMessage) error) error {
	return consume(ctx, c, queue, ExpenseEventMessageFromJSON, handler)
}

func consume[T any](ctx context.Context, c *Client, queue string, decode func([]byte) (*T, error), handler func(context.Context, *T) error) error {
	msgs, err := c.channel.Consume(
		queue,
		"",    // consumer tag
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("start consuming %s: %w", queue, err)
	}

	c.logger.InfoContext(ctx, "consuming", log.FieldQueue, queue)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "stopping consumption", log.FieldQueue, queue, "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			msg, err := decode(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "unmarshal message failed", log.FieldError, err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, msg); err != nil {
				if errors.Is(err, ErrPermanent) {
					c.logger.ErrorContext(ctx, "dropping message, permanent failure", log.FieldError, err, log.FieldQueue, queue)
					delivery.Nack(false, false)
					continue
				}
				c.logger.ErrorContext(ctx, "handle message failed", log.FieldError, err, log.FieldQueue, queue)
				delivery.Nack(false, true)
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// ExponentialBackoff returns the wait before reconnect attempt n, doubling
// from one second and capped at 30.
func ExponentialBackoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt >= 5 {
		return 30 * time.Second
	}
	return time.Second << attempt
}

// IsConnectionError reports whether an error looks like a broken broker
// connection worth a reconnect, rather than a protocol or usage error.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var amqpErr *amqp091.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code == amqp091.ChannelError || amqpErr.Code == amqp091.ConnectionForced
	}
	msg := err.Error()
	for _, needle := range []string{
		"connection refused",
		"connection closed",
		"channel closed",
		"EOF",
		"broken pipe",
		"use of closed network connection",
	} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}
