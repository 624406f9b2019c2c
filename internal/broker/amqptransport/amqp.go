// Package amqptransport binds the broker.Client contract onto a RabbitMQ
// queue, adapted from gofire/internal/message_broaker's RabbitMQ publisher.
// AMQP's native delivery-tag ack/nack/requeue stands in for the broker's
// lease token and sweep: a consumer that never acks or nacks a delivery
// keeps it invisible to other consumers until the channel closes, at which
// point RabbitMQ redelivers it — playing the same role as lease expiry.
package amqptransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"runinator/internal/broker"
)

// Client is a broker.Client backed by a single RabbitMQ queue. Because AMQP
// delivery tags are only valid on the channel that received them, Client
// keeps in-flight deliveries keyed by a synthetic firing ID it mints on
// lease, so Ack/Nack can find the right amqp.Delivery to acknowledge.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string

	mu       sync.Mutex
	inFlight map[int64]pendingDelivery
	nextID   int64
}

type pendingDelivery struct {
	delivery   amqp.Delivery
	leaseToken string
}

// Config mirrors gofire's RabbitMQConfig.
type Config struct {
	URL        string
	Exchange   string
	Queue      string
	RoutingKey string
}

func Dial(cfg Config) (*Client, error) {
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if cfg.Exchange != "" {
		if err := ch.ExchangeDeclare(cfg.Exchange, "direct", true, false, false, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("amqp exchange declare: %w", err)
		}
	}

	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp queue declare: %w", err)
	}

	if cfg.Exchange != "" {
		if err := ch.QueueBind(cfg.Queue, cfg.RoutingKey, cfg.Exchange, false, nil); err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("amqp queue bind: %w", err)
		}
	}

	// Process at most one unacked message per consumer at a time, so a
	// Lease call corresponds to exactly one delivery.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("amqp qos: %w", err)
	}

	return &Client{
		conn:     conn,
		channel:  ch,
		queue:    cfg.Queue,
		inFlight: make(map[int64]pendingDelivery),
	}, nil
}

func (c *Client) Close() error {
	if err := c.channel.Close(); err != nil {
		_ = c.conn.Close()
		return err
	}
	return c.conn.Close()
}

type wireFiring struct {
	TaskID         int64  `json:"task_id"`
	ScheduledFor   int64  `json:"scheduled_for"`
	Attempt        int    `json:"attempt"`
	Configuration  string `json:"configuration"`
	ActionName     string `json:"action_name"`
	ActionFunction string `json:"action_function"`
	TimeoutMS      int64  `json:"timeout_ms"`
}

func (c *Client) Publish(ctx context.Context, f broker.Firing) (int64, error) {
	wire := wireFiring{
		TaskID:         f.TaskID,
		ScheduledFor:   f.ScheduledFor.Unix(),
		Attempt:        f.Attempt,
		Configuration:  base64.StdEncoding.EncodeToString(f.Configuration),
		ActionName:     f.ActionName,
		ActionFunction: f.ActionFunction,
		TimeoutMS:      f.TimeoutMS,
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return 0, err
	}

	if err := c.channel.PublishWithContext(ctx, "", c.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}); err != nil {
		return 0, fmt.Errorf("amqp publish: %w", err)
	}
	// AMQP has no idempotency-key dedup; the scheduler's publish-then-advance
	// protocol tolerates the resulting at-least-once semantics the same way
	// it tolerates a crash between them (spec §4.3).
	return 0, nil
}

// Lease consumes a single message from the queue, blocking up to maxWait.
func (c *Client) Lease(ctx context.Context, consumerID string, maxWait time.Duration) (*broker.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	deliveries, err := c.channel.ConsumeWithContext(ctx, c.queue, consumerID+"-"+strconv.FormatInt(time.Now().UnixNano(), 10),
		false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("amqp consume: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, nil
	case d, ok := <-deliveries:
		if !ok {
			return nil, nil
		}
		var wire wireFiring
		if err := json.Unmarshal(d.Body, &wire); err != nil {
			// Malformed payload: nack without requeue so it doesn't spin forever.
			_ = d.Nack(false, false)
			return nil, fmt.Errorf("amqp: malformed firing payload: %w", err)
		}
		cfg, err := base64.StdEncoding.DecodeString(wire.Configuration)
		if err != nil {
			_ = d.Nack(false, false)
			return nil, fmt.Errorf("amqp: invalid configuration encoding: %w", err)
		}

		c.mu.Lock()
		c.nextID++
		id := c.nextID
		token := consumerID + ":" + strconv.FormatUint(d.DeliveryTag, 10)
		c.inFlight[id] = pendingDelivery{delivery: d, leaseToken: token}
		c.mu.Unlock()

		return &broker.Snapshot{
			Firing: broker.Firing{
				ID:             id,
				TaskID:         wire.TaskID,
				ScheduledFor:   time.Unix(wire.ScheduledFor, 0).UTC(),
				Attempt:        wire.Attempt,
				Configuration:  cfg,
				ActionName:     wire.ActionName,
				ActionFunction: wire.ActionFunction,
				TimeoutMS:      wire.TimeoutMS,
			},
			LeaseToken: token,
		}, nil
	}
}

func (c *Client) takeDelivery(firingID int64, leaseToken string) (amqp.Delivery, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pd, ok := c.inFlight[firingID]
	if !ok || pd.leaseToken != leaseToken {
		return amqp.Delivery{}, false
	}
	delete(c.inFlight, firingID)
	return pd.delivery, true
}

func (c *Client) Ack(ctx context.Context, firingID int64, leaseToken string) error {
	d, ok := c.takeDelivery(firingID, leaseToken)
	if !ok {
		return broker.ErrStale
	}
	return d.Ack(false)
}

func (c *Client) Nack(ctx context.Context, firingID int64, leaseToken string, requeue bool, reason string) error {
	d, ok := c.takeDelivery(firingID, leaseToken)
	if !ok {
		return broker.ErrStale
	}
	return d.Nack(false, requeue)
}
