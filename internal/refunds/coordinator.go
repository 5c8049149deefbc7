// Package refunds runs refund requests through eligibility, the payment
// gateway and the order state machine, keeping a durable ledger per request.
package refunds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/amqpx"
	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/ariefcatur/pcbuild-orders/internal/payment"
	"github.com/ariefcatur/pcbuild-orders/internal/redisx"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// DefaultWindow is how long after purchase an order can be refunded.
const DefaultWindow = 30 * 24 * time.Hour

type Orders interface {
	Now() time.Time
	CurrentOrder(ctx context.Context, orderID string) (orders.Order, error)
	FindByPaymentReference(ctx context.Context, ref string) (orders.Order, error)
	MarkRefundPending(ctx context.Context, orderID string) (orders.Order, bool, error)
	MarkRefunded(ctx context.Context, orderID string) (orders.Order, bool, error)
	StaleRefunds(ctx context.Context, age time.Duration) ([]orders.Order, error)
}

type Config struct {
	ServiceName string
	Window      time.Duration
}

type Coordinator struct {
	orders  Orders
	ledger  Ledger
	gateway payment.Gateway
	events  orders.EventPublisher
	cfg     Config
	log     *slog.Logger

	// Redis serialises concurrent runs of one request. Optional.
	Redis redis.UniversalClient
	// Publisher carries async requests to the refund worker. Optional.
	Publisher amqpx.Publisher

	total metric.Int64Counter
}

func NewCoordinator(o Orders, l Ledger, g payment.Gateway, events orders.EventPublisher, cfg Config, log *slog.Logger) *Coordinator {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	return &Coordinator{
		orders:  o,
		ledger:  l,
		gateway: g,
		events:  events,
		cfg:     cfg,
		log:     log,
		total:   telemetry.Counter("refunds_total", "Refund requests processed, by outcome"),
	}
}

// Outcome is what a caller learns about a refund request.
type Outcome struct {
	RequestID   string `json:"request_id"`
	OrderID     string `json:"order_id,omitempty"`
	Status      Status `json:"status"`
	RefundID    string `json:"refund_id,omitempty"`
	AmountCents int64  `json:"amount,omitempty"`
	Replayed    bool   `json:"replayed"`
}

func (o Outcome) Settled() bool { return o.Status == StatusSucceeded }

func outcomeOf(rec Record, replayed bool) Outcome {
	out := Outcome{
		RequestID: rec.RequestID,
		OrderID:   rec.OrderID,
		Status:    rec.Status,
		RefundID:  rec.RefundID,
		Replayed:  replayed,
	}
	if rec.AmountCents != nil {
		out.AmountCents = *rec.AmountCents
	}
	return out
}

// Eligible reports whether o may enter refund: completed and within window of now.
func Eligible(o orders.Order, now time.Time, window time.Duration) error {
	if o.Status != orders.StatusCompleted {
		return apperr.New(apperr.ErrInvalidTransition, "order %s is %s, only completed orders can be refunded", o.OrderID, o.Status)
	}
	if now.Sub(o.Timestamp) >= window {
		return apperr.Validation("order %s is outside the %d day refund window", o.OrderID, int(window/(24*time.Hour)))
	}
	return nil
}

// InitiateRefund refunds req.PaymentReference exactly once per request id.
// A replay of a settled request returns the recorded outcome without calling
// the gateway again. A gateway failure leaves the order in refund_pending.
func (c *Coordinator) InitiateRefund(ctx context.Context, req Request) (out Outcome, err error) {
	ctx, span := telemetry.Start(ctx, "refund.initiate", "request_id", req.RequestID, "order_id", req.OrderID)
	defer func() { telemetry.End(span, err) }()

	if err := req.Validate(); err != nil {
		return Outcome{}, err
	}
	unlock, err := c.lock(ctx, req.RequestID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	now := c.orders.Now()
	rec, created, err := c.ledger.Create(ctx, Record{
		RequestID:        req.RequestID,
		PaymentReference: req.PaymentReference,
		OrderID:          req.OrderID,
		AmountCents:      req.AmountCents,
		Reason:           req.Reason,
		Status:           StatusPending,
		CreatedAt:        now,
	})
	if err != nil {
		return Outcome{}, err
	}
	if rec.PaymentReference != req.PaymentReference {
		return Outcome{}, apperr.New(apperr.ErrConflict, "request_id %s was used for another payment", req.RequestID)
	}

	if !created {
		switch rec.Status {
		case StatusSucceeded:
			if err := c.finish(ctx, rec); err != nil {
				return Outcome{}, err
			}
			return outcomeOf(rec, true), nil
		case StatusSubmitted:
			if rec.RefundID != "" {
				return c.settle(ctx, rec, true)
			}
		}
	}

	o, hasOrder, err := c.resolveOrder(ctx, req)
	if err != nil {
		return Outcome{}, err
	}
	if hasOrder {
		rec.OrderID = o.OrderID
		// only the request holding the order may resume it without a fresh check
		if !rec.HoldsOrder {
			if err := Eligible(o, now, c.cfg.Window); err != nil {
				c.fail(ctx, &rec, err)
				return outcomeOf(rec, false), err
			}
			if err := c.claim(ctx, &rec); err != nil {
				return outcomeOf(rec, false), err
			}
		} else if _, _, err := c.orders.MarkRefundPending(ctx, o.OrderID); err != nil {
			return Outcome{}, err
		}
	}
	rec.Status, rec.Error, rec.UpdatedAt = StatusPending, "", c.orders.Now()
	if err := c.ledger.Update(ctx, rec); err != nil {
		return Outcome{}, err
	}

	md := map[string]string{"request_id": rec.RequestID}
	if rec.OrderID != "" {
		md["order_id"] = rec.OrderID
	}
	reason := req.Reason
	if reason == "" {
		reason = payment.ReasonRequestedByCustomer
	}
	r, err := c.gateway.Refund(ctx, payment.RefundRequest{
		PaymentReference: req.PaymentReference,
		AmountCents:      req.AmountCents,
		Reason:           reason,
		IdempotencyKey:   req.RequestID,
		Metadata:         md,
	})
	if err != nil {
		c.fail(ctx, &rec, err)
		return outcomeOf(rec, false), err
	}
	rec.RefundID = r.RefundID
	return c.apply(ctx, rec, r, !created)
}

func (c *Coordinator) resolveOrder(ctx context.Context, req Request) (orders.Order, bool, error) {
	if req.OrderID != "" {
		o, err := c.orders.CurrentOrder(ctx, req.OrderID)
		if err != nil {
			return orders.Order{}, false, err
		}
		if o.PaymentReference != "" && o.PaymentReference != req.PaymentReference {
			return orders.Order{}, false, apperr.Validation("payment %s does not belong to order %s", req.PaymentReference, req.OrderID)
		}
		return o, true, nil
	}
	o, err := c.orders.FindByPaymentReference(ctx, req.PaymentReference)
	if errors.Is(err, apperr.ErrNotFound) {
		c.log.WarnContext(ctx, "no order for payment, refunding at the gateway only", "request_id", req.RequestID, "payment_reference", req.PaymentReference)
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, err
	}
	return o, true, nil
}

// claim marks rec as the request that moves its order into refund_pending.
// The claim is stored before the transition, so a crash in between leaves a
// holder the sweeper can re-drive. A second claimant gets ErrConflict.
func (c *Coordinator) claim(ctx context.Context, rec *Record) error {
	rec.HoldsOrder, rec.Status, rec.Error, rec.UpdatedAt = true, StatusPending, "", c.orders.Now()
	err := c.ledger.Update(ctx, *rec)
	if err == nil {
		_, changed, err := c.orders.MarkRefundPending(ctx, rec.OrderID)
		if err == nil && changed {
			return nil
		}
		if err == nil {
			err = apperr.New(apperr.ErrConflict, "order %s is already being refunded", rec.OrderID)
		}
	}
	rec.HoldsOrder = false
	if errors.Is(err, apperr.ErrConflict) || errors.Is(err, apperr.ErrInvalidTransition) {
		c.fail(ctx, rec, err)
	}
	return err
}

// apply records the gateway's view of a refund.
func (c *Coordinator) apply(ctx context.Context, rec Record, r payment.Refund, replayed bool) (Outcome, error) {
	rec.UpdatedAt = c.orders.Now()
	if r.AmountCents > 0 {
		amount := r.AmountCents
		rec.AmountCents = &amount
	}
	switch r.Status {
	case payment.RefundSucceeded:
		rec.Status, rec.Error = StatusSucceeded, ""
		if err := c.ledger.Update(ctx, rec); err != nil {
			return Outcome{}, err
		}
		if err := c.finish(ctx, rec); err != nil {
			return Outcome{}, err
		}
		c.total.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "succeeded")))
		c.emit(ctx, orders.TopicRefundSettled, orders.EventRefundSettled, rec.OrderID, orders.RefundSettledPayload{
			RequestID:        rec.RequestID,
			OrderID:          rec.OrderID,
			PaymentReference: rec.PaymentReference,
			RefundID:         r.RefundID,
			AmountCents:      r.AmountCents,
		})
		c.log.InfoContext(ctx, "refund settled", "request_id", rec.RequestID, "order_id", rec.OrderID, "refund_id", r.RefundID)
		return outcomeOf(rec, replayed), nil

	case payment.RefundPending:
		rec.Status = StatusSubmitted
		if err := c.ledger.Update(ctx, rec); err != nil {
			return Outcome{}, err
		}
		c.total.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "submitted")))
		c.log.InfoContext(ctx, "refund submitted, awaiting gateway", "request_id", rec.RequestID, "refund_id", r.RefundID)
		return outcomeOf(rec, replayed), nil

	default:
		err := apperr.New(apperr.ErrGatewayRejected, "refund %s ended %s", r.RefundID, r.Status)
		c.fail(ctx, &rec, err)
		return outcomeOf(rec, replayed), err
	}
}

// settle polls a submitted refund and applies whatever the gateway reports.
func (c *Coordinator) settle(ctx context.Context, rec Record, replayed bool) (Outcome, error) {
	r, err := c.gateway.GetRefund(ctx, rec.RefundID)
	if err != nil {
		return Outcome{}, err
	}
	return c.apply(ctx, rec, r, replayed)
}

// SettleRefund handles a gateway notice that refundID, filed under
// requestID, changed state. The state applied is the one the gateway reports
// when asked, never the notice body.
func (c *Coordinator) SettleRefund(ctx context.Context, requestID, refundID string) (out Outcome, err error) {
	ctx, span := telemetry.Start(ctx, "refund.settle", "request_id", requestID, "refund_id", refundID)
	defer func() { telemetry.End(span, err) }()

	if requestID == "" || refundID == "" {
		return Outcome{}, apperr.Validation("request_id and refund_id are required")
	}
	unlock, err := c.lock(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	defer unlock()

	rec, err := c.ledger.Get(ctx, requestID)
	if err != nil {
		return Outcome{}, err
	}
	if rec.RefundID != "" && rec.RefundID != refundID {
		return Outcome{}, apperr.New(apperr.ErrConflict, "request %s is refund %s, not %s", requestID, rec.RefundID, refundID)
	}
	switch rec.Status {
	case StatusSucceeded, StatusFailed:
		return outcomeOf(rec, true), nil
	case StatusQueued:
		return Outcome{}, apperr.New(apperr.ErrConflict, "request %s has not reached the gateway", requestID)
	}
	rec.RefundID = refundID
	return c.settle(ctx, rec, true)
}

func (c *Coordinator) finish(ctx context.Context, rec Record) error {
	if rec.OrderID == "" {
		return nil
	}
	_, _, err := c.orders.MarkRefunded(ctx, rec.OrderID)
	return err
}

// fail records err on the ledger. The order is left where it is.
func (c *Coordinator) fail(ctx context.Context, rec *Record, cause error) {
	rec.Status, rec.Error, rec.UpdatedAt = StatusFailed, cause.Error(), c.orders.Now()
	if err := c.ledger.Update(ctx, *rec); err != nil {
		c.log.ErrorContext(ctx, "record refund failure", "request_id", rec.RequestID, "err", err)
	}
	c.total.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "failed")))
	c.emit(ctx, orders.TopicRefundFailed, orders.EventRefundFailed, rec.OrderID, orders.RefundFailedPayload{
		RequestID:        rec.RequestID,
		OrderID:          rec.OrderID,
		PaymentReference: rec.PaymentReference,
		Reason:           cause.Error(),
	})
	c.log.WarnContext(ctx, "refund failed", "request_id", rec.RequestID, "order_id", rec.OrderID, "err", cause)
}

func (c *Coordinator) lock(ctx context.Context, requestID string) (func(), error) {
	if c.Redis == nil {
		return func() {}, nil
	}
	key := fmt.Sprintf(redisx.KeyRefundLock, requestID)
	token := uuid.NewString()
	ok, err := redisx.Lock(ctx, c.Redis, key, token, redisx.TTLRefundLock)
	if err != nil {
		// the gateway idempotency key still guards against double refunds
		c.log.WarnContext(ctx, "refund lock unavailable", "request_id", requestID, "err", err)
		return func() {}, nil
	}
	if !ok {
		return nil, apperr.New(apperr.ErrConflict, "refund request %s is already in progress", requestID)
	}
	return func() {
		if err := redisx.Unlock(context.WithoutCancel(ctx), c.Redis, key, token); err != nil {
			c.log.WarnContext(ctx, "refund unlock failed", "request_id", requestID, "err", err)
		}
	}, nil
}

func (c *Coordinator) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	if c.events == nil {
		return
	}
	var traceID string
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		traceID = sc.TraceID().String()
	}
	if err := orders.Emit(c.events, topic, eventType, c.cfg.ServiceName, orderID, traceID, payload); err != nil {
		c.log.ErrorContext(ctx, "emit event failed", "event_type", eventType, "order_id", orderID, "err", err)
	}
}

// Lookup returns the ledger record of a request, for async callers polling the outcome.
func (c *Coordinator) Lookup(ctx context.Context, requestID string) (Record, error) {
	if requestID == "" {
		return Record{}, apperr.Validation("request_id is required")
	}
	return c.ledger.Get(ctx, requestID)
}

// Enqueue records req as queued and hands it to the refund worker. Enqueuing
// a known request id returns its record; a still-queued one is published again.
func (c *Coordinator) Enqueue(ctx context.Context, req Request) (Record, error) {
	if err := req.Validate(); err != nil {
		return Record{}, err
	}
	if c.Publisher == nil {
		return Record{}, apperr.New(apperr.ErrBroker, "refund queue not configured")
	}
	rec, created, err := c.ledger.Create(ctx, Record{
		RequestID:        req.RequestID,
		PaymentReference: req.PaymentReference,
		OrderID:          req.OrderID,
		AmountCents:      req.AmountCents,
		Reason:           req.Reason,
		Status:           StatusQueued,
		CreatedAt:        c.orders.Now(),
	})
	if err != nil {
		return Record{}, err
	}
	if rec.PaymentReference != req.PaymentReference {
		return Record{}, apperr.New(apperr.ErrConflict, "request_id %s was used for another payment", req.RequestID)
	}
	if !created && rec.Status != StatusQueued {
		return rec, nil
	}
	if err := amqpx.PublishJSON(ctx, c.Publisher, amqpx.ExchangePayment, amqpx.KeyRefundRequest, req.RequestID, req); err != nil {
		return Record{}, err
	}
	c.log.InfoContext(ctx, "refund queued", "request_id", req.RequestID, "order_id", req.OrderID)
	return rec, nil
}
