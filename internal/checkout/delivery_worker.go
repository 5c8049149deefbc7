package checkout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	kafkax "github.com/ariefcatur/pcbuild-orders/internal/kafka"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/ariefcatur/pcbuild-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// DeliveryWorker creates delivery records the checkout flow handed off.
type DeliveryWorker struct {
	Orders     Orders
	Deliveries Deliveries
	Catalog    Catalog
	Redis      redis.Cmdable
	Log        *slog.Logger
}

// HandleDeliveryRequested: dipasang sebagai handler consumer delivery.requested.
func (w *DeliveryWorker) HandleDeliveryRequested(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return apperr.Validation("decode envelope: %v", err)
	}
	if env.EventType != orders.EventDeliveryRequested {
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "delivery", env.EventID)
	if w.Redis != nil {
		if seen, _ := redisx.Exists(ctx, w.Redis, dkey); seen {
			return nil
		}
	}

	p, err := kafkax.UnwrapPayload[orders.DeliveryRequestedPayload](env.Payload)
	if err != nil {
		return apperr.Validation("%v", err)
	}
	o, err := w.Orders.CurrentOrder(ctx, p.OrderID)
	if err != nil {
		return err
	}
	if o.Status != orders.StatusCompleted {
		w.Log.WarnContext(ctx, "delivery request for order not in completed", "order_id", o.OrderID, "status", o.Status)
		return nil
	}

	address, email := p.CustomerAddress, p.CustomerEmail
	if address == "" || email == "" {
		cust, err := w.Catalog.GetCustomer(ctx, o.CustomerID)
		if err != nil {
			return err
		}
		if address == "" {
			address = cust.Address
		}
		if email == "" {
			email = cust.Email
		}
	}
	d, created, err := w.Deliveries.EnsureForOrder(ctx, o.OrderID, address, email)
	if err != nil {
		return err
	}
	if w.Redis != nil {
		_ = w.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}
	w.Log.InfoContext(ctx, "delivery request settled", "order_id", o.OrderID, "delivery_id", d.DeliveryID, "created", created)
	return nil
}
