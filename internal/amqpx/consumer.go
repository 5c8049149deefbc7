package amqpx

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Handler returns nil only when the message is fully processed and may be acked.
// Errors are classified with apperr.Retryable: transient ones are retried
// through the retry queue, the rest are dead-lettered.
type Handler func(ctx context.Context, d amqp.Delivery) error

type Consumer struct {
	ch         Channel
	pub        Publisher
	queue      WorkQueue
	maxRetries int
	timeout    time.Duration
	log        *slog.Logger

	deadLettered metric.Int64Counter
	retried      metric.Int64Counter
}

func NewConsumer(ch Channel, pub Publisher, queue WorkQueue, maxRetries int, timeout time.Duration, log *slog.Logger) *Consumer {
	return &Consumer{
		ch:           ch,
		pub:          pub,
		queue:        queue,
		maxRetries:   maxRetries,
		timeout:      timeout,
		log:          log,
		deadLettered: telemetry.Counter("messages_dead_lettered_total", "Messages routed to a dead-letter queue"),
		retried:      telemetry.Counter("messages_retried_total", "Messages parked on a retry queue"),
	}
}

// Run consumes one message at a time (prefetch 1) until ctx ends or the
// delivery channel closes.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if err := c.ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	msgs, err := c.ch.Consume(c.queue.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue.Queue, err)
	}
	c.log.Info("consumer started", "queue", c.queue.Queue)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return apperr.New(apperr.ErrBroker, "delivery channel for %s closed", c.queue.Queue)
			}
			c.Dispatch(ctx, d, h)
		}
	}
}

// Dispatch runs h for d and settles the delivery.
func (c *Consumer) Dispatch(ctx context.Context, d amqp.Delivery, h Handler) {
	hctx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	err := h(hctx, d)
	if err == nil {
		if aerr := d.Ack(false); aerr != nil {
			c.log.Error("ack failed", "queue", c.queue.Queue, "message_id", d.MessageId, "err", aerr)
		}
		return
	}

	log := c.log.With("queue", c.queue.Queue, "message_id", d.MessageId, "err", err)
	if !apperr.Retryable(err) {
		log.Warn("message rejected, dead-lettering")
		c.deadLetter(ctx, d)
		return
	}

	attempt := RetryCount(d)
	if attempt >= c.maxRetries {
		log.Error("retries exhausted, dead-lettering", "attempts", attempt)
		c.deadLetter(ctx, d)
		return
	}

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[HeaderRetryCount] = int32(attempt + 1)
	retry := amqp.Publishing{
		Headers:       headers,
		ContentType:   d.ContentType,
		DeliveryMode:  amqp.Persistent,
		CorrelationId: d.CorrelationId,
		ReplyTo:       d.ReplyTo,
		MessageId:     d.MessageId,
		Timestamp:     d.Timestamp,
		Type:          d.Type,
		Body:          d.Body,
	}
	// default exchange routes by queue name
	if perr := c.pub.Publish(ctx, "", c.queue.RetryQueue(), retry); perr != nil {
		log.Error("retry publish failed, requeueing", "publish_err", perr)
		_ = d.Nack(false, true)
		return
	}
	c.retried.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", c.queue.Queue)))
	log.Warn("message scheduled for retry", "attempt", attempt+1)
	_ = d.Ack(false)
}

func (c *Consumer) deadLetter(ctx context.Context, d amqp.Delivery) {
	c.deadLettered.Add(ctx, 1, metric.WithAttributes(attribute.String("queue", c.queue.Queue)))
	if err := d.Nack(false, false); err != nil {
		c.log.Error("nack failed", "queue", c.queue.Queue, "message_id", d.MessageId, "err", err)
	}
}

// RetryCount reads the retry header; absent or malformed means zero.
func RetryCount(d amqp.Delivery) int {
	switch v := d.Headers[HeaderRetryCount].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	case int16:
		return int(v)
	case int8:
		return int(v)
	}
	return 0
}
