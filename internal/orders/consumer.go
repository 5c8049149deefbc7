package orders

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/ariefcatur/pcbuild-orders/internal/amqpx"
	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	amqp "github.com/rabbitmq/amqp091-go"
)

// CreateMessage is the body published on order_topic/order.create.
type CreateMessage struct {
	CustomerID     string  `json:"customer_id"`
	PartsList      []int64 `json:"parts_list"`
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
}

// Confirmation is published on order_topic/order.response once the order is stored.
type Confirmation struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	IdempotencyKey string `json:"idempotency_key"`
	Duplicate      bool   `json:"duplicate"`
}

const StatusConfirmed = "Confirmed"

type CreateConsumer struct {
	Service   *Service
	Publisher amqpx.Publisher
	Log       *slog.Logger
}

// Handle persists the order described by d and publishes its confirmation.
// Redeliveries carrying the same idempotency key resolve to the first order
// and re-send the same confirmation.
func (c *CreateConsumer) Handle(ctx context.Context, d amqp.Delivery) error {
	var msg CreateMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		return apperr.Validation("decode order.create: %v", err)
	}
	key := msg.IdempotencyKey
	if key == "" {
		key = d.MessageId
	}
	if key == "" {
		return apperr.Validation("order.create without idempotency_key or message id")
	}

	o, created, err := c.Service.CreateOrder(ctx, msg.CustomerID, msg.PartsList, key)
	if err != nil {
		return err
	}

	conf := Confirmation{OrderID: o.OrderID, Status: StatusConfirmed, IdempotencyKey: key, Duplicate: !created}
	if err := amqpx.PublishJSON(ctx, c.Publisher, amqpx.ExchangeOrder, amqpx.KeyOrderResponse, "confirm:"+key, conf); err != nil {
		return err
	}
	c.Log.InfoContext(ctx, "order confirmed", "order_id", o.OrderID, "idempotency_key", key, "duplicate", !created)
	return nil
}
