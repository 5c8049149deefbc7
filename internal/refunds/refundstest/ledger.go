// Package refundstest provides an in-memory refunds.Ledger.
package refundstest

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/refunds"
)

type Ledger struct {
	mu   sync.Mutex
	recs map[string]refunds.Record
	// Fail, when set, is returned by every call.
	Fail error
}

func NewLedger() *Ledger { return &Ledger{recs: map[string]refunds.Record{}} }

func (l *Ledger) Create(_ context.Context, rec refunds.Record) (refunds.Record, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Fail != nil {
		return refunds.Record{}, false, l.Fail
	}
	if e, ok := l.recs[rec.RequestID]; ok {
		return e, false, nil
	}
	rec.UpdatedAt = rec.CreatedAt
	l.recs[rec.RequestID] = rec
	return rec, true, nil
}

func (l *Ledger) Get(_ context.Context, id string) (refunds.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Fail != nil {
		return refunds.Record{}, l.Fail
	}
	r, ok := l.recs[id]
	if !ok {
		return refunds.Record{}, apperr.NotFound("refund request %s", id)
	}
	return r, nil
}

func (l *Ledger) Update(_ context.Context, rec refunds.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Fail != nil {
		return l.Fail
	}
	cur, ok := l.recs[rec.RequestID]
	if !ok {
		return apperr.NotFound("refund request %s", rec.RequestID)
	}
	if rec.HoldsOrder {
		for id, r := range l.recs {
			if id != rec.RequestID && r.HoldsOrder && r.OrderID == rec.OrderID {
				return apperr.New(apperr.ErrConflict, "order %s already has a refund in progress", rec.OrderID)
			}
		}
	}
	rec.CreatedAt = cur.CreatedAt
	rec.PaymentReference = cur.PaymentReference
	rec.Reason = cur.Reason
	l.recs[rec.RequestID] = rec
	return nil
}

func (l *Ledger) ListByStatus(_ context.Context, st refunds.Status) ([]refunds.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []refunds.Record{}
	for _, r := range l.recs {
		if r.Status == st {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (l *Ledger) HolderOf(_ context.Context, orderID string) (refunds.Record, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.recs {
		if r.OrderID == orderID && r.HoldsOrder {
			return r, nil
		}
	}
	return refunds.Record{}, apperr.NotFound("refund request holding order %s", orderID)
}
