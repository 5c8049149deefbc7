package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
)

type Service struct {
	store   Store
	log     *slog.Logger
	now     func() time.Time
	newID   func() string
	created metric.Int64Counter
}

func NewService(store Store, log *slog.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:   store,
		log:     log,
		now:     now,
		newID:   uuid.NewString,
		created: telemetry.Counter("deliveries_created_total", "Delivery records created"),
	}
}

func (s *Service) CreateDelivery(ctx context.Context, address, email string) (Delivery, error) {
	if err := validateContact(address, email); err != nil {
		return Delivery{}, err
	}
	d, _, err := s.insert(ctx, "", address, email)
	return d, err
}

// EnsureForOrder creates the single delivery record of orderID, or returns the
// existing one with created=false.
func (s *Service) EnsureForOrder(ctx context.Context, orderID, address, email string) (Delivery, bool, error) {
	if orderID == "" {
		return Delivery{}, false, apperr.Validation("order_id is required")
	}
	if d, err := s.store.GetByOrder(ctx, orderID); err == nil {
		return d, false, nil
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return Delivery{}, false, err
	}
	if err := validateContact(address, email); err != nil {
		return Delivery{}, false, err
	}
	return s.insert(ctx, orderID, address, email)
}

func (s *Service) insert(ctx context.Context, orderID, address, email string) (Delivery, bool, error) {
	d := Delivery{
		DeliveryID:      s.newID(),
		OrderID:         orderID,
		CustomerAddress: strings.TrimSpace(address),
		CustomerEmail:   strings.TrimSpace(email),
		Timestamp:       s.now().UTC(),
	}
	out, created, err := s.store.Insert(ctx, d)
	if err != nil {
		return Delivery{}, false, err
	}
	if created {
		s.created.Add(ctx, 1)
		s.log.InfoContext(ctx, "delivery created", "delivery_id", out.DeliveryID, "order_id", orderID)
	}
	return out, created, nil
}

func (s *Service) GetDelivery(ctx context.Context, deliveryID string) (Delivery, error) {
	if deliveryID == "" {
		return Delivery{}, apperr.Validation("delivery_id is required")
	}
	return s.store.Get(ctx, deliveryID)
}

func (s *Service) GetByOrder(ctx context.Context, orderID string) (Delivery, error) {
	if orderID == "" {
		return Delivery{}, apperr.Validation("order_id is required")
	}
	return s.store.GetByOrder(ctx, orderID)
}

func (s *Service) UpdateDelivery(ctx context.Context, deliveryID string, p Patch) (Delivery, error) {
	if err := p.validate(); err != nil {
		return Delivery{}, err
	}
	return s.store.Update(ctx, deliveryID, p)
}

func (s *Service) DeleteDelivery(ctx context.Context, deliveryID string) error {
	if err := s.store.Delete(ctx, deliveryID); err != nil {
		return err
	}
	s.log.InfoContext(ctx, "delivery deleted", "delivery_id", deliveryID)
	return nil
}
