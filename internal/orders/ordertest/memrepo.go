// Package ordertest provides an in-memory orders.Repository for tests.
package ordertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
)

type Repo struct {
	mu      sync.Mutex
	byID    map[string]orders.Order
	Inserts int
	// Fail, when set, is returned by every call.
	Fail error
}

func NewRepo() *Repo { return &Repo{byID: map[string]orders.Order{}} }

func clone(o orders.Order) orders.Order {
	o.PartsList = append([]int64(nil), o.PartsList...)
	return o
}

// Seed stores o as-is.
func (r *Repo) Seed(o orders.Order) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[o.OrderID] = clone(o)
}

func (r *Repo) Insert(_ context.Context, o orders.Order) (orders.Order, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return orders.Order{}, false, r.Fail
	}
	if o.IdempotencyKey != "" {
		for _, e := range r.byID {
			if e.IdempotencyKey == o.IdempotencyKey {
				return clone(e), false, nil
			}
		}
	}
	o.CreatedAt = o.Timestamp
	r.byID[o.OrderID] = clone(o)
	r.Inserts++
	return clone(o), true, nil
}

func (r *Repo) find(match func(orders.Order) bool, what string) (orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return orders.Order{}, r.Fail
	}
	for _, o := range r.byID {
		if match(o) {
			return clone(o), nil
		}
	}
	return orders.Order{}, apperr.NotFound("order %s", what)
}

func (r *Repo) Get(_ context.Context, id string) (orders.Order, error) {
	return r.find(func(o orders.Order) bool { return o.OrderID == id }, id)
}

func (r *Repo) GetByIdempotencyKey(_ context.Context, key string) (orders.Order, error) {
	return r.find(func(o orders.Order) bool { return o.IdempotencyKey == key }, key)
}

func (r *Repo) GetByPaymentReference(_ context.Context, ref string) (orders.Order, error) {
	return r.find(func(o orders.Order) bool { return o.PaymentReference == ref }, ref)
}

func (r *Repo) Replace(_ context.Context, o orders.Order, expected orders.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return false, r.Fail
	}
	cur, ok := r.byID[o.OrderID]
	if !ok || cur.Status != expected {
		return false, nil
	}
	cur.CustomerID = o.CustomerID
	cur.PartsList = append([]int64(nil), o.PartsList...)
	cur.Timestamp = o.Timestamp
	r.byID[o.OrderID] = cur
	return true, nil
}

func (r *Repo) UpdateStatus(_ context.Context, id string, from, to orders.Status, at time.Time, ref string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return false, r.Fail
	}
	cur, ok := r.byID[id]
	if !ok || cur.Status != from {
		return false, nil
	}
	cur.Status = to
	cur.Timestamp = at
	if ref != "" {
		cur.PaymentReference = ref
	}
	r.byID[id] = cur
	return true, nil
}

func (r *Repo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return r.Fail
	}
	if _, ok := r.byID[id]; !ok {
		return apperr.NotFound("order %s", id)
	}
	delete(r.byID, id)
	return nil
}

func (r *Repo) filter(keep func(orders.Order) bool, asc bool) ([]orders.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail != nil {
		return nil, r.Fail
	}
	out := []orders.Order{}
	for _, o := range r.byID {
		if keep(o) {
			out = append(out, clone(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if asc {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

func (r *Repo) ListByCustomer(_ context.Context, customerID string) ([]orders.Order, error) {
	return r.filter(func(o orders.Order) bool { return o.CustomerID == customerID }, false)
}

func (r *Repo) ListAll(context.Context) ([]orders.Order, error) {
	return r.filter(func(orders.Order) bool { return true }, false)
}

func (r *Repo) ListByStatusBefore(_ context.Context, st orders.Status, before time.Time) ([]orders.Order, error) {
	return r.filter(func(o orders.Order) bool { return o.Status == st && o.Timestamp.Before(before) }, true)
}
