package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

const (
	publishTimeout = 5 * time.Second
	reconnectDelay = 2 * time.Second
)

// ErrPermanentFailure marks a message that must not be redelivered.
var ErrPermanentFailure = errors.New("permanent failure processing delivery")

// RabbitPublisher publishes batches to a durable queue with publisher
// confirms, reconnecting when the connection drops.
type RabbitPublisher struct {
	url    string
	queue  string
	logger zerolog.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

func NewRabbitPublisher(url, queue string, logger zerolog.Logger) (*RabbitPublisher, error) {
	p := &RabbitPublisher{url: url, queue: queue, logger: logger}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnection(); err != nil {
		return nil, err
	}
	return p, nil
}

// ensureConnection must be called with mu held.
func (p *RabbitPublisher) ensureConnection() error {
	if p.conn != nil && !p.conn.IsClosed() && p.channel != nil && !p.channel.IsClosed() {
		return nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return fmt.Errorf("dial rabbitmq: %w", err)
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(p.queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("declare queue %s: %w", p.queue, err)
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return fmt.Errorf("enable publisher confirms: %w", err)
	}
	p.channel = ch
	p.logger.Info().Str("queue", p.queue).Msg("delivery publisher connected")
	return nil
}

func (p *RabbitPublisher) Publish(ctx context.Context, batch Batch) error {
	msg, err := encodeBatch(batch)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureConnection(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	dc, err := p.channel.PublishWithDeferredConfirmWithContext(ctx, "", p.queue, false, false, msg)
	if err != nil {
		return fmt.Errorf("publish delivery: %w", err)
	}
	if dc == nil {
		return errors.New("delivery channel is not in confirm mode")
	}
	return awaitConfirm(ctx, dc)
}

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// awaitConfirm waits for the broker to settle the one message dc tracks.
func awaitConfirm(ctx context.Context, dc confirmation) error {
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("await publish confirm: %w", err)
	}
	if !acked {
		return errors.New("delivery publish not confirmed")
	}
	return nil
}

func (p *RabbitPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn != nil && !p.conn.IsClosed() {
		return p.conn.Close()
	}
	return nil
}

func encodeBatch(batch Batch) (amqp.Publishing, error) {
	body, err := json.Marshal(batch)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode delivery: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    batch.SaleID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}, nil
}

// Handler processes one delivered batch. Returning ErrPermanentFailure drops
// the message; any other error requeues it.
type Handler func(ctx context.Context, batch Batch) error

// Consumer reads batches from the delivery queue until its context ends.
type Consumer struct {
	url      string
	queue    string
	prefetch int
	logger   zerolog.Logger
}

func NewConsumer(url, queue string, logger zerolog.Logger) *Consumer {
	return &Consumer{url: url, queue: queue, prefetch: 4, logger: logger}
}

// Run consumes and reconnects after connection loss. It returns nil once ctx
// is done.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	for {
		err := c.consume(ctx, handle)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn().Err(err).Dur("retry_in", reconnectDelay).Msg("delivery consumer disconnected")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (c *Consumer) consume(ctx context.Context, handle Handler) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("dial rabbitmq: %w", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(c.queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", c.queue, err)
	}
	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("set qos: %w", err)
	}
	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}
	c.logger.Info().Str("queue", c.queue).Msg("delivery consumer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handleDelivery(ctx, d, handle)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery, handle Handler) {
	var batch Batch
	err := json.Unmarshal(d.Body, &batch)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrPermanentFailure, err)
	} else {
		err = handle(ctx, batch)
	}

	switch {
	case err == nil:
		if ackErr := d.Ack(false); ackErr != nil {
			c.logger.Error().Err(ackErr).Msg("ack delivery")
		}
	case errors.Is(err, ErrPermanentFailure):
		c.logger.Error().Err(err).Str("message_id", d.MessageId).Msg("dropping delivery")
		if nackErr := d.Nack(false, false); nackErr != nil {
			c.logger.Error().Err(nackErr).Msg("nack delivery")
		}
	default:
		c.logger.Warn().Err(err).Str("sale_id", batch.SaleID).Msg("delivery failed, requeueing")
		if nackErr := d.Nack(false, true); nackErr != nil {
			c.logger.Error().Err(nackErr).Msg("nack delivery")
		}
	}
}
