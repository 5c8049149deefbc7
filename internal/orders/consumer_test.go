package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/ariefcatur/pcbuild-orders/internal/amqpx"
	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturePublisher struct {
	mu   sync.Mutex
	msgs []amqp.Publishing
	keys []string
	err  error
}

func (p *capturePublisher) Publish(_ context.Context, exchange, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, exchange+"/"+key)
	p.msgs = append(p.msgs, msg)
	return nil
}

func newConsumer(t *testing.T) (*orders.CreateConsumer, *capturePublisher, *orders.Service) {
	svc, _, _ := newService(t)
	pub := &capturePublisher{}
	return &orders.CreateConsumer{Service: svc, Publisher: pub, Log: slog.New(slog.NewTextHandler(io.Discard, nil))}, pub, svc
}

func body(t *testing.T, m orders.CreateMessage) []byte {
	b, err := json.Marshal(m)
	require.NoError(t, err)
	return b
}

func TestConsumerCreatesAndConfirms(t *testing.T) {
	c, pub, svc := newConsumer(t)
	d := amqp.Delivery{Body: body(t, orders.CreateMessage{CustomerID: customer, PartsList: []int64{101, 201, 301}, IdempotencyKey: "req-1"})}

	require.NoError(t, c.Handle(context.Background(), d))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "order_topic/order.response", pub.keys[0])

	var conf orders.Confirmation
	require.NoError(t, json.Unmarshal(pub.msgs[0].Body, &conf))
	assert.Equal(t, "Confirmed", conf.Status)
	assert.False(t, conf.Duplicate)

	o, err := svc.GetOrder(context.Background(), conf.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, o.Status)
}

func TestConsumerRedeliveryDoesNotDuplicate(t *testing.T) {
	c, pub, svc := newConsumer(t)
	d := amqp.Delivery{MessageId: "m-42", Body: body(t, orders.CreateMessage{CustomerID: customer, PartsList: []int64{1}})}

	require.NoError(t, c.Handle(context.Background(), d))
	d.Redelivered = true
	require.NoError(t, c.Handle(context.Background(), d))

	var first, second orders.Confirmation
	require.Len(t, pub.msgs, 2)
	require.NoError(t, json.Unmarshal(pub.msgs[0].Body, &first))
	require.NoError(t, json.Unmarshal(pub.msgs[1].Body, &second))
	assert.Equal(t, first.OrderID, second.OrderID)
	assert.True(t, second.Duplicate)

	list, err := svc.ListOrdersByCustomer(context.Background(), customer)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestConsumerRejectsBadMessages(t *testing.T) {
	c, pub, _ := newConsumer(t)
	ctx := context.Background()

	err := c.Handle(ctx, amqp.Delivery{MessageId: "m-1", Body: []byte("not json")})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.False(t, apperr.Retryable(err))

	err = c.Handle(ctx, amqp.Delivery{Body: body(t, orders.CreateMessage{CustomerID: customer, PartsList: []int64{1}})})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	err = c.Handle(ctx, amqp.Delivery{MessageId: "m-2", Body: body(t, orders.CreateMessage{CustomerID: customer})})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Empty(t, pub.msgs)
}

func TestConsumerPublishFailureIsRetryable(t *testing.T) {
	c, pub, _ := newConsumer(t)
	pub.err = apperr.Wrap(apperr.ErrBroker, errors.New("closed"), "publish")

	err := c.Handle(context.Background(), amqp.Delivery{MessageId: "m-1", Body: body(t, orders.CreateMessage{CustomerID: customer, PartsList: []int64{1}})})
	assert.True(t, apperr.Retryable(err))

	// retry after the broker recovers keeps the same order
	pub.err = nil
	require.NoError(t, c.Handle(context.Background(), amqp.Delivery{MessageId: "m-1", Body: body(t, orders.CreateMessage{CustomerID: customer, PartsList: []int64{1}})}))
	var conf orders.Confirmation
	require.NoError(t, json.Unmarshal(pub.msgs[0].Body, &conf))
	assert.True(t, conf.Duplicate)
}

var _ amqpx.Publisher = (*capturePublisher)(nil)
