// Package deliverytest provides an in-memory delivery.Store for tests.
package deliverytest

import (
	"context"
	"sync"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/delivery"
)

type Store struct {
	mu   sync.Mutex
	byID map[string]delivery.Delivery
	// Fail, when set, is returned by Insert.
	Fail error
}

func NewStore() *Store { return &Store{byID: map[string]delivery.Delivery{}} }

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

func (s *Store) Insert(_ context.Context, d delivery.Delivery) (delivery.Delivery, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return delivery.Delivery{}, false, s.Fail
	}
	if d.OrderID != "" {
		for _, e := range s.byID {
			if e.OrderID == d.OrderID {
				return e, false, nil
			}
		}
	}
	s.byID[d.DeliveryID] = d
	return d, true, nil
}

func (s *Store) Get(_ context.Context, id string) (delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return delivery.Delivery{}, apperr.NotFound("delivery %s", id)
	}
	return d, nil
}

func (s *Store) GetByOrder(_ context.Context, orderID string) (delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.byID {
		if d.OrderID == orderID {
			return d, nil
		}
	}
	return delivery.Delivery{}, apperr.NotFound("delivery for order %s", orderID)
}

func (s *Store) Update(_ context.Context, id string, p delivery.Patch) (delivery.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.byID[id]
	if !ok {
		return delivery.Delivery{}, apperr.NotFound("delivery %s", id)
	}
	if p.CustomerAddress != nil {
		d.CustomerAddress = *p.CustomerAddress
	}
	if p.CustomerEmail != nil {
		d.CustomerEmail = *p.CustomerEmail
	}
	s.byID[id] = d
	return d, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return apperr.NotFound("delivery %s", id)
	}
	delete(s.byID, id)
	return nil
}
