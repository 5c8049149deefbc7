package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type asyncPublisher struct {
	accept bool
	values [][]byte
}

func (p *asyncPublisher) Publish(_ string, _, value []byte, _ ...kafkago.Header) bool {
	if p.accept {
		p.values = append(p.values, value)
	}
	return p.accept
}

type syncPublisher struct {
	asyncPublisher
	err    error
	synced int
}

func (p *syncPublisher) PublishSync(_ context.Context, _ string, _, value []byte, _ ...kafkago.Header) error {
	if p.err != nil {
		return p.err
	}
	p.synced++
	p.values = append(p.values, value)
	return nil
}

func TestEmitReportsRefusedEvent(t *testing.T) {
	p := &asyncPublisher{}
	err := orders.Emit(p, orders.TopicOrderCompleted, orders.EventOrderCompleted, "order-api", "o-1", "", orders.OrderCompletedPayload{OrderID: "o-1"})
	assert.ErrorIs(t, err, apperr.ErrBroker)

	p.accept = true
	require.NoError(t, orders.Emit(p, orders.TopicOrderCompleted, orders.EventOrderCompleted, "order-api", "o-1", "t-1", orders.OrderCompletedPayload{OrderID: "o-1"}))
	require.Len(t, p.values, 1)
	var env orders.Envelope
	require.NoError(t, json.Unmarshal(p.values[0], &env))
	assert.Equal(t, "o-1", env.CorrelationID)
	assert.Equal(t, "t-1", env.TraceID)
}

func TestEmitConfirmedWaitsForBroker(t *testing.T) {
	ctx := context.Background()
	p := &syncPublisher{}

	require.NoError(t, orders.EmitConfirmed(ctx, p, orders.TopicDeliveryRequested, orders.EventDeliveryRequested, "order-api", "o-1", "", orders.DeliveryRequestedPayload{OrderID: "o-1"}))
	assert.Equal(t, 1, p.synced)

	p.err = errors.New("leader not available")
	err := orders.EmitConfirmed(ctx, p, orders.TopicDeliveryRequested, orders.EventDeliveryRequested, "order-api", "o-1", "", orders.DeliveryRequestedPayload{OrderID: "o-1"})
	assert.ErrorIs(t, err, apperr.ErrBroker)
	assert.Equal(t, 1, p.synced)
}

func TestEmitConfirmedFallsBackToPublish(t *testing.T) {
	p := &asyncPublisher{}
	err := orders.EmitConfirmed(context.Background(), p, orders.TopicDeliveryRequested, orders.EventDeliveryRequested, "order-api", "o-1", "", orders.DeliveryRequestedPayload{OrderID: "o-1"})
	assert.ErrorIs(t, err, apperr.ErrBroker)
}
