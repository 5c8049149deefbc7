package amqpx

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	ExchangeOrder   = "order_topic"
	ExchangePayment = "payment"
	ExchangeDead    = "dlx"

	KeyOrderCreate    = "order.create"
	KeyOrderResponse  = "order.response"
	KeyRefundRequest  = "refund.request"
	KeyRefundResponse = "refund.response"

	QueueOrder          = "Order"
	QueueRefundRequest  = "refund.request"
	QueueRefundResponse = "refund.response"

	HeaderRetryCount = "x-retry-count"
)

// Channel is the subset of *amqp.Channel used here.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// WorkQueue is a durable queue bound to Exchange/RoutingKey with a retry
// queue and a dead-letter queue next to it.
type WorkQueue struct {
	Exchange   string
	Queue      string
	RoutingKey string
	RetryDelay time.Duration
}

var (
	OrderCreate = WorkQueue{Exchange: ExchangeOrder, Queue: QueueOrder, RoutingKey: KeyOrderCreate, RetryDelay: 5 * time.Second}
	RefundQueue = WorkQueue{Exchange: ExchangePayment, Queue: QueueRefundRequest, RoutingKey: KeyRefundRequest, RetryDelay: 5 * time.Second}
)

func (w WorkQueue) RetryQueue() string { return w.Queue + ".retry" }
func (w WorkQueue) DeadQueue() string  { return w.Queue + ".dead" }
func (w WorkQueue) deadKey() string    { return w.RoutingKey + ".dead" }

// WithRetryDelay returns a copy using d as the retry queue TTL.
func (w WorkQueue) WithRetryDelay(d time.Duration) WorkQueue {
	if d > 0 {
		w.RetryDelay = d
	}
	return w
}

// DeclareExchanges declares every exchange the services publish to.
func DeclareExchanges(ch Channel) error {
	for _, name := range []string{ExchangeOrder, ExchangePayment, ExchangeDead} {
		if err := ch.ExchangeDeclare(name, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// DeclareWorkQueue declares w, its retry queue and its dead-letter queue.
// Rejected messages go to the dead queue. Messages parked on the retry queue
// return to w once their TTL expires.
func DeclareWorkQueue(ch Channel, w WorkQueue) error {
	if _, err := ch.QueueDeclare(w.Queue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ExchangeDead,
		"x-dead-letter-routing-key": w.deadKey(),
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", w.Queue, err)
	}
	if err := ch.QueueBind(w.Queue, w.RoutingKey, w.Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", w.Queue, err)
	}

	if _, err := ch.QueueDeclare(w.RetryQueue(), true, false, false, false, amqp.Table{
		"x-message-ttl":             w.RetryDelay.Milliseconds(),
		"x-dead-letter-exchange":    w.Exchange,
		"x-dead-letter-routing-key": w.RoutingKey,
	}); err != nil {
		return fmt.Errorf("declare queue %s: %w", w.RetryQueue(), err)
	}

	if _, err := ch.QueueDeclare(w.DeadQueue(), true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", w.DeadQueue(), err)
	}
	if err := ch.QueueBind(w.DeadQueue(), w.deadKey(), ExchangeDead, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", w.DeadQueue(), err)
	}
	return nil
}

// DeclareReplyQueue declares a plain durable queue bound to exchange/key.
func DeclareReplyQueue(ch Channel, exchange, queue, key string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, key, exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue %s: %w", queue, err)
	}
	return nil
}

// DeclareAll sets up the full broker topology.
func DeclareAll(ch Channel, retryDelay time.Duration) error {
	if err := DeclareExchanges(ch); err != nil {
		return err
	}
	for _, w := range []WorkQueue{OrderCreate, RefundQueue} {
		if err := DeclareWorkQueue(ch, w.WithRetryDelay(retryDelay)); err != nil {
			return err
		}
	}
	if err := DeclareReplyQueue(ch, ExchangeOrder, KeyOrderResponse, KeyOrderResponse); err != nil {
		return err
	}
	return DeclareReplyQueue(ch, ExchangePayment, QueueRefundResponse, KeyRefundResponse)
}
