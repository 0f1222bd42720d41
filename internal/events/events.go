// Package events publishes security audit events (logins, revocations,
// registrations) to a durable RabbitMQ queue for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"expense_auth/internal/models"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher is the producer side of the audit queue, satisfied by Client.
type Publisher interface {
	Publish(ctx context.Context, ev models.SecurityEvent) error
}

const (
	UserRegistered  = "user.registered"
	UserLogin       = "user.login"
	TokenRevoked    = "token.revoked"
	SessionsRevoked = "user.sessions_revoked"
)

type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   amqp.Queue
}

func New(urlForConn string, queueName string) (*Client, error) {
	const op = "events.New"

	conn, err := amqp.Dial(urlForConn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	q, err := ch.QueueDeclare(
		queueName, true, false, false, false, nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Client{
		conn:    conn,
		channel: ch,
		queue:   q,
	}, nil
}

func (c *Client) Publish(ctx context.Context, ev models.SecurityEvent) error {
	const op = "events.Publish"

	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return c.channel.PublishWithContext(
		ctx,
		"",
		c.queue.Name,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
}

func (c *Client) Close() {
	_ = c.channel.Close()
	_ = c.conn.Close()
}
