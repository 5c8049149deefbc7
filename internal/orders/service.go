package orders

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Service owns Order records and the order state machine. Every status
// change goes through a compare-and-set on the stored status.
type Service struct {
	repo  Repository
	cache Cache
	log   *slog.Logger
	now   func() time.Time
	newID func() string

	created      metric.Int64Counter
	deduplicated metric.Int64Counter
	transitions  metric.Int64Counter
}

type Option func(*Service)

func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func WithIDGenerator(f func() string) Option { return func(s *Service) { s.newID = f } }

func NewService(repo Repository, log *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		cache:        noCache{},
		log:          log,
		now:          time.Now,
		newID:        uuid.NewString,
		created:      telemetry.Counter("orders_created_total", "Orders persisted"),
		deduplicated: telemetry.Counter("orders_deduplicated_total", "Create requests answered from an earlier idempotency key"),
		transitions:  telemetry.Counter("order_transitions_total", "Order status changes"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Now exposes the service clock so collaborators share one notion of time.
func (s *Service) Now() time.Time { return s.now().UTC() }

// CreateOrder persists a pending order. A non-empty idemKey makes the call
// idempotent: repeats return the first order with created=false.
func (s *Service) CreateOrder(ctx context.Context, customerID string, parts []int64, idemKey string) (Order, bool, error) {
	return s.create(ctx, customerID, parts, Price{}, idemKey)
}

// CreatePricedOrder is CreateOrder for an order whose price is fixed up
// front. A repeat returns the first order and its first price.
// CreatePricedOrder is CreateOrder for an order that will be checked out at price.
func (s *Service) CreatePricedOrder(ctx context.Context, customerID string, parts []int64, price Price, idemKey string) (Order, bool, error) {
	if price.AmountCents <= 0 {
		return Order{}, false, apperr.Validation("amount must be a positive number of cents")
	}
	if price.Currency == "" {
		return Order{}, false, apperr.Validation("currency is required")
	}
	price.Currency = strings.ToLower(price.Currency)
	return s.create(ctx, customerID, parts, price, idemKey)
}

func (s *Service) create(ctx context.Context, customerID string, parts []int64, price Price, idemKey string) (Order, bool, error) {
	if err := ValidateCustomerID(customerID); err != nil {
		return Order{}, false, err
	}
	if err := ValidateParts(parts); err != nil {
		return Order{}, false, err
	}

	if idemKey != "" {
		if id, ok := s.cache.IdempotentOrderID(ctx, idemKey); ok {
			if o, err := s.repo.Get(ctx, id); err == nil {
				s.deduplicated.Add(ctx, 1)
				return o, false, nil
			}
		}
	}

	o := Order{
		OrderID:        s.newID(),
		CustomerID:     customerID,
		PartsList:      append([]int64(nil), parts...),
		Status:         StatusPending,
		Timestamp:      s.Now(),
		IdempotencyKey: idemKey,
		AmountCents:    price.AmountCents,
		Currency:       price.Currency,
	}
	stored, created, err := s.repo.Insert(ctx, o)
	if err != nil {
		return Order{}, false, err
	}
	if idemKey != "" {
		s.cache.RememberIdempotent(ctx, idemKey, stored.OrderID)
	}
	if created {
		s.created.Add(ctx, 1)
		s.log.InfoContext(ctx, "order created", "order_id", stored.OrderID, "customer_id", customerID)
	} else {
		s.deduplicated.Add(ctx, 1)
		s.log.InfoContext(ctx, "duplicate create suppressed", "order_id", stored.OrderID, "idempotency_key", idemKey)
	}
	return stored, created, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID string) (Order, error) {
	if orderID == "" {
		return Order{}, apperr.Validation("order_id is required")
	}
	if o, ok := s.cache.Order(ctx, orderID); ok {
		return o, nil
	}
	o, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	s.cache.Put(ctx, o)
	return o, nil
}

// CurrentOrder reads the order from the store, skipping the cache. Callers
// that act on the status use it.
func (s *Service) CurrentOrder(ctx context.Context, orderID string) (Order, error) {
	if orderID == "" {
		return Order{}, apperr.Validation("order_id is required")
	}
	return s.repo.Get(ctx, orderID)
}

func (s *Service) FindByPaymentReference(ctx context.Context, ref string) (Order, error) {
	if ref == "" {
		return Order{}, apperr.Validation("payment reference is required")
	}
	return s.repo.GetByPaymentReference(ctx, ref)
}

// Update carries the complete replacement for an order's mutable fields.
type Update struct {
	CustomerID string
	PartsList  []int64
	Timestamp  time.Time // zero means now
}

// UpdateOrder replaces customer_id, parts_list and timestamp. Status is not touched here.
func (s *Service) UpdateOrder(ctx context.Context, orderID string, u Update) (Order, error) {
	if err := ValidateCustomerID(u.CustomerID); err != nil {
		return Order{}, err
	}
	if err := ValidateParts(u.PartsList); err != nil {
		return Order{}, err
	}
	cur, err := s.repo.Get(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if cur.Status.Paid() && !sameParts(cur.PartsList, u.PartsList) {
		return Order{}, apperr.New(apperr.ErrConflict, "parts_list of order %s is immutable once %s", orderID, cur.Status)
	}

	next := cur
	next.CustomerID = u.CustomerID
	next.PartsList = append([]int64(nil), u.PartsList...)
	next.Timestamp = u.Timestamp.UTC()
	if u.Timestamp.IsZero() {
		next.Timestamp = s.Now()
	}
	ok, err := s.repo.Replace(ctx, next, cur.Status)
	s.cache.Invalidate(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !ok {
		return Order{}, apperr.New(apperr.ErrConflict, "order %s changed while updating", orderID)
	}
	return next, nil
}

func (s *Service) DeleteOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return apperr.Validation("order_id is required")
	}
	if err := s.repo.Delete(ctx, orderID); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, orderID)
	s.log.InfoContext(ctx, "order deleted", "order_id", orderID)
	return nil
}

// ListOrdersByCustomer returns the customer's orders, newest first.
func (s *Service) ListOrdersByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	if err := ValidateCustomerID(customerID); err != nil {
		return nil, err
	}
	return s.repo.ListByCustomer(ctx, customerID)
}

func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	return s.repo.ListAll(ctx)
}

// StaleRefunds lists orders stuck in refund_pending for longer than age.
func (s *Service) StaleRefunds(ctx context.Context, age time.Duration) ([]Order, error) {
	return s.repo.ListByStatusBefore(ctx, StatusRefundPending, s.Now().Add(-age))
}

// Transition applies one legal state machine edge. Illegal edges fail with
// ErrInvalidTransition and leave the order untouched.
func (s *Service) Transition(ctx context.Context, orderID string, to Status) (Order, error) {
	if !to.Valid() {
		return Order{}, apperr.Validation("unknown status %q", to)
	}
	o, _, err := s.advance(ctx, orderID, to, "", func(Status) bool { return false })
	return o, err
}

// CompleteOrder records payment. Orders already past checkout are returned
// unchanged with changed=false.
func (s *Service) CompleteOrder(ctx context.Context, orderID, paymentRef string) (Order, bool, error) {
	return s.advance(ctx, orderID, StatusCompleted, paymentRef, Status.Paid)
}

func (s *Service) MarkRefundPending(ctx context.Context, orderID string) (Order, bool, error) {
	return s.advance(ctx, orderID, StatusRefundPending, "", func(st Status) bool {
		return st == StatusRefundPending || st == StatusRefunded
	})
}

func (s *Service) MarkRefunded(ctx context.Context, orderID string) (Order, bool, error) {
	return s.advance(ctx, orderID, StatusRefunded, "", func(st Status) bool { return st == StatusRefunded })
}

const casAttempts = 3

func (s *Service) advance(ctx context.Context, orderID string, to Status, paymentRef string, done func(Status) bool) (Order, bool, error) {
	if orderID == "" {
		return Order{}, false, apperr.Validation("order_id is required")
	}
	for i := 0; i < casAttempts; i++ {
		cur, err := s.repo.Get(ctx, orderID)
		if err != nil {
			return Order{}, false, err
		}
		if done(cur.Status) {
			return cur, false, nil
		}
		if !CanTransition(cur.Status, to) {
			return cur, false, apperr.New(apperr.ErrInvalidTransition, "order %s cannot move from %s to %s", orderID, cur.Status, to)
		}

		at := s.Now()
		ok, err := s.repo.UpdateStatus(ctx, orderID, cur.Status, to, at, paymentRef)
		if err != nil {
			return cur, false, err
		}
		s.cache.Invalidate(ctx, orderID)
		if !ok {
			// lost the race, decide again on fresh state
			continue
		}

		s.transitions.Add(ctx, 1, metric.WithAttributes(attribute.String("to", string(to))))
		s.log.InfoContext(ctx, "order status changed", "order_id", orderID, "from", cur.Status, "to", to)
		cur.Status = to
		cur.Timestamp = at
		if paymentRef != "" {
			cur.PaymentReference = paymentRef
		}
		return cur, true, nil
	}
	return Order{}, false, apperr.New(apperr.ErrConflict, "order %s is changing concurrently", orderID)
}
