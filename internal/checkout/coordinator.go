package checkout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/catalog"
	"github.com/ariefcatur/pcbuild-orders/internal/delivery"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/ariefcatur/pcbuild-orders/internal/payment"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
)

// MetadataOrderID is the session metadata key correlating a checkout session with its order.
const (
	MetadataOrderID    = "order_id"
	MetadataCustomerID = "customer_id"
)

type Orders interface {
	CreatePricedOrder(ctx context.Context, customerID string, parts []int64, price orders.Price, idemKey string) (orders.Order, bool, error)
	CurrentOrder(ctx context.Context, orderID string) (orders.Order, error)
	CompleteOrder(ctx context.Context, orderID, paymentRef string) (orders.Order, bool, error)
}

type Deliveries interface {
	EnsureForOrder(ctx context.Context, orderID, address, email string) (delivery.Delivery, bool, error)
}

type Catalog interface {
	GetBuild(ctx context.Context, recommendationID string) (catalog.Build, error)
	GetCustomer(ctx context.Context, customerID string) (catalog.Customer, error)
}

type Config struct {
	ServiceName string
	Currency    string
	SuccessURL  string
	CancelURL   string
	ProductName string
}

// Coordinator drives intent-to-purchase through payment to delivery.
type Coordinator struct {
	orders     Orders
	deliveries Deliveries
	gateway    payment.Gateway
	catalog    Catalog
	events     orders.EventPublisher
	cfg        Config
	log        *slog.Logger
}

func NewCoordinator(o Orders, d Deliveries, g payment.Gateway, c Catalog, events orders.EventPublisher, cfg Config, log *slog.Logger) *Coordinator {
	if cfg.ProductName == "" {
		cfg.ProductName = "Purchase from ByteMe"
	}
	return &Coordinator{orders: o, deliveries: d, gateway: g, catalog: c, events: events, cfg: cfg, log: log}
}

type SessionInput struct {
	OrderID        string
	AmountCents    int64
	Currency       string
	CustomerEmail  string
	Metadata       map[string]string
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CreateCheckoutSession opens a gateway session for an unpaid priced order,
// tagged with the order id. The session charges the order's price; an amount
// or currency that differs is rejected. Nothing is persisted on this side.
func (c *Coordinator) CreateCheckoutSession(ctx context.Context, in SessionInput) (sess payment.Session, err error) {
	ctx, span := telemetry.Start(ctx, "checkout.create_session", "order_id", in.OrderID)
	defer func() { telemetry.End(span, err) }()

	if in.OrderID == "" {
		in.OrderID = in.Metadata[MetadataOrderID]
	}
	if in.OrderID == "" {
		return payment.Session{}, apperr.Validation("order_id is required to correlate the session")
	}
	if in.AmountCents < 0 {
		return payment.Session{}, apperr.Validation("amount must be a positive number of cents")
	}
	o, err := c.orders.CurrentOrder(ctx, in.OrderID)
	if err != nil {
		return payment.Session{}, err
	}
	if o.Status.Paid() {
		return payment.Session{}, apperr.New(apperr.ErrConflict, "order %s is already paid", o.OrderID)
	}
	if !o.Priced() {
		return payment.Session{}, apperr.Validation("order %s has no price to charge", o.OrderID)
	}
	if in.AmountCents == 0 {
		in.AmountCents = o.AmountCents
	}
	if in.Currency == "" {
		in.Currency = o.Currency
	}
	if !o.Charges(in.AmountCents, in.Currency) {
		return payment.Session{}, apperr.Validation("order %s costs %d %s, not %d %s",
			o.OrderID, o.AmountCents, o.Currency, in.AmountCents, in.Currency)
	}
	in.Currency = o.Currency
	if in.SuccessURL == "" {
		in.SuccessURL = c.cfg.SuccessURL
	}
	if in.CancelURL == "" {
		in.CancelURL = c.cfg.CancelURL
	}
	md := map[string]string{}
	for k, v := range in.Metadata {
		md[k] = v
	}
	md[MetadataOrderID] = in.OrderID

	sess, err = c.gateway.CreateSession(ctx, payment.SessionRequest{
		AmountCents:    in.AmountCents,
		Currency:       in.Currency,
		ProductName:    c.cfg.ProductName,
		CustomerEmail:  in.CustomerEmail,
		SuccessURL:     in.SuccessURL,
		CancelURL:      in.CancelURL,
		Metadata:       md,
		IdempotencyKey: in.IdempotencyKey,
	})
	if err != nil {
		return payment.Session{}, err
	}
	c.log.InfoContext(ctx, "checkout session created", "order_id", in.OrderID, "session_id", sess.SessionID, "amount", in.AmountCents)
	return sess, nil
}

type PurchaseResult struct {
	OrderID     string `json:"order_id"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	AmountCents int64  `json:"amount"`
	Currency    string `json:"currency"`
}

// InitialPurchase prices a recommended build, records a pending order and
// opens a checkout session for it. Repeating the call with the same
// idemKey reuses the order.
func (c *Coordinator) InitialPurchase(ctx context.Context, recommendationID, customerID, idemKey string) (res PurchaseResult, err error) {
	ctx, span := telemetry.Start(ctx, "checkout.initial_purchase", "recommendation_id", recommendationID, "customer_id", customerID)
	defer func() { telemetry.End(span, err) }()

	if recommendationID == "" {
		return PurchaseResult{}, apperr.Validation("recommendation_id is required")
	}
	if err := orders.ValidateCustomerID(customerID); err != nil {
		return PurchaseResult{}, err
	}

	build, err := c.catalog.GetBuild(ctx, recommendationID)
	if err != nil {
		return PurchaseResult{}, err
	}
	cust, err := c.catalog.GetCustomer(ctx, customerID)
	if err != nil {
		return PurchaseResult{}, err
	}

	if idemKey == "" {
		idemKey = uuid.NewString()
	}
	price := orders.Price{AmountCents: build.TotalCents(), Currency: c.cfg.Currency}
	o, _, err := c.orders.CreatePricedOrder(ctx, customerID, build.PartIDs(), price, fmt.Sprintf("purchase:%s:%s:%s", customerID, recommendationID, idemKey))
	if err != nil {
		return PurchaseResult{}, err
	}
	if o.Status.Paid() {
		return PurchaseResult{}, apperr.New(apperr.ErrConflict, "order %s is already paid", o.OrderID)
	}

	// a repeat charges the price stored with the order, not today's catalog price
	sess, err := c.CreateCheckoutSession(ctx, SessionInput{
		OrderID:        o.OrderID,
		CustomerEmail:  cust.Email,
		Metadata:       map[string]string{MetadataCustomerID: customerID},
		IdempotencyKey: fmt.Sprintf("session:%s:%d", o.OrderID, o.AmountCents),
	})
	if err != nil {
		return PurchaseResult{}, err
	}
	return PurchaseResult{
		OrderID:     o.OrderID,
		SessionID:   sess.SessionID,
		CheckoutURL: sess.CheckoutURL,
		AmountCents: o.AmountCents,
		Currency:    o.Currency,
	}, nil
}

// GetSession returns the gateway's current view of a checkout session.
func (c *Coordinator) GetSession(ctx context.Context, sessionID string) (payment.Session, error) {
	if sessionID == "" {
		return payment.Session{}, apperr.Validation("session_id is required")
	}
	return c.gateway.GetSession(ctx, sessionID)
}

type FinalizeResult struct {
	Order            orders.Order       `json:"order"`
	Delivery         *delivery.Delivery `json:"delivery,omitempty"`
	DeliveryPending  bool               `json:"delivery_pending"`
	AlreadyFinalized bool               `json:"already_finalized"`
}

// FinalizeOrder completes the order behind a paid session, then makes sure
// its delivery record exists. The order commit comes first; a delivery
// failure is handed to the delivery worker and never undoes the payment.
// Safe to repeat for the same session.
func (c *Coordinator) FinalizeOrder(ctx context.Context, sessionID string) (res FinalizeResult, err error) {
	ctx, span := telemetry.Start(ctx, "checkout.finalize", "session_id", sessionID)
	defer func() { telemetry.End(span, err) }()

	if sessionID == "" {
		return FinalizeResult{}, apperr.Validation("session_id is required")
	}
	sess, err := c.gateway.GetSession(ctx, sessionID)
	if err != nil {
		return FinalizeResult{}, err
	}
	if !sess.Paid() {
		return FinalizeResult{}, apperr.New(apperr.ErrPaymentIncomplete, "session %s payment status is %q", sessionID, sess.PaymentStatus)
	}
	orderID := sess.Metadata[MetadataOrderID]
	if orderID == "" {
		return FinalizeResult{}, apperr.Validation("session %s carries no %s metadata", sessionID, MetadataOrderID)
	}
	ref := sess.PaymentReference
	if ref == "" {
		ref = sess.SessionID
	}
	cur, err := c.orders.CurrentOrder(ctx, orderID)
	if err != nil {
		return FinalizeResult{}, err
	}
	if !cur.Charges(sess.AmountCents, sess.Currency) {
		c.log.ErrorContext(ctx, "paid session does not cover the order", "order_id", orderID, "session_id", sessionID,
			"paid", sess.AmountCents, "paid_currency", sess.Currency, "price", cur.AmountCents, "currency", cur.Currency)
		return FinalizeResult{}, apperr.New(apperr.ErrPaymentIncomplete, "session %s paid %d %s, order %s costs %d %s",
			sessionID, sess.AmountCents, sess.Currency, orderID, cur.AmountCents, cur.Currency)
	}

	o, changed, err := c.orders.CompleteOrder(ctx, orderID, ref)
	if err != nil {
		return FinalizeResult{}, err
	}
	res = FinalizeResult{Order: o, AlreadyFinalized: !changed}
	if changed {
		c.emit(ctx, orders.TopicOrderCompleted, orders.EventOrderCompleted, o.OrderID, orders.OrderCompletedPayload{
			OrderID:          o.OrderID,
			CustomerID:       o.CustomerID,
			PaymentReference: ref,
			SessionID:        sess.SessionID,
			AmountCents:      sess.AmountCents,
			Currency:         sess.Currency,
			CustomerEmail:    sess.CustomerEmail,
		})
	}
	if o.Status != orders.StatusCompleted {
		// refund already under way, delivery was settled by an earlier finalize
		return res, nil
	}

	d, created, derr := c.ensureDelivery(ctx, o, sess.CustomerEmail)
	if derr != nil {
		c.log.WarnContext(ctx, "delivery creation failed, handing off", "order_id", o.OrderID, "err", derr)
		if err := c.handOff(ctx, o, sess.CustomerEmail, derr); err != nil {
			c.log.ErrorContext(ctx, "delivery hand-off lost, finalize must be retried", "order_id", o.OrderID, "err", err)
			return res, err
		}
		res.DeliveryPending = true
		return res, nil
	}
	if created {
		c.log.InfoContext(ctx, "order finalized", "order_id", o.OrderID, "session_id", sessionID, "delivery_id", d.DeliveryID)
	}
	res.Delivery = &d
	return res, nil
}

// ensureDelivery resolves the shipping address from the customer directory.
// The session email wins over the directory email when present.
func (c *Coordinator) ensureDelivery(ctx context.Context, o orders.Order, email string) (delivery.Delivery, bool, error) {
	cust, err := c.catalog.GetCustomer(ctx, o.CustomerID)
	if err != nil {
		return delivery.Delivery{}, false, err
	}
	if email == "" {
		email = cust.Email
	}
	return c.deliveries.EnsureForOrder(ctx, o.OrderID, cust.Address, email)
}

// handOff asks the delivery worker to create the record. The order is already
// completed, so the event must reach the broker or the caller has to retry.
func (c *Coordinator) handOff(ctx context.Context, o orders.Order, email string, cause error) error {
	if c.events == nil {
		return apperr.New(apperr.ErrBroker, "no event publisher for delivery hand-off")
	}
	return orders.EmitConfirmed(ctx, c.events, orders.TopicDeliveryRequested, orders.EventDeliveryRequested,
		c.cfg.ServiceName, o.OrderID, traceIDOf(ctx), orders.DeliveryRequestedPayload{
			OrderID:       o.OrderID,
			CustomerID:    o.CustomerID,
			CustomerEmail: email,
			Reason:        cause.Error(),
		})
}

func traceIDOf(ctx context.Context) string {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

func (c *Coordinator) emit(ctx context.Context, topic, eventType, orderID string, payload any) {
	if c.events == nil {
		return
	}
	if err := orders.Emit(c.events, topic, eventType, c.cfg.ServiceName, orderID, traceIDOf(ctx), payload); err != nil {
		c.log.ErrorContext(ctx, "emit event failed", "event_type", eventType, "order_id", orderID, "err", err)
	}
}
