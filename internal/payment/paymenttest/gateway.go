// Package paymenttest provides a scriptable in-memory payment.Gateway.
package paymenttest

import (
	"context"
	"fmt"
	"sync"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/payment"
)

type Gateway struct {
	mu       sync.Mutex
	sessions map[string]payment.Session
	refunds  map[string]payment.Refund
	byKey    map[string]string // idempotency key -> refund id

	// RefundCalls counts every Refund invocation, replays included.
	RefundCalls int
	issued      int
	// RefundStatus is the status new refunds get. Empty means succeeded.
	RefundStatus payment.RefundStatus
	// FailCreate, FailGet and FailRefund make the matching call fail.
	FailCreate error
	FailGet    error
	FailRefund error
}

func New() *Gateway {
	return &Gateway{
		sessions: map[string]payment.Session{},
		refunds:  map[string]payment.Refund{},
		byKey:    map[string]string{},
	}
}

func (g *Gateway) CreateSession(_ context.Context, req payment.SessionRequest) (payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailCreate != nil {
		return payment.Session{}, g.FailCreate
	}
	id := fmt.Sprintf("cs_%d", len(g.sessions)+1)
	md := map[string]string{}
	for k, v := range req.Metadata {
		md[k] = v
	}
	s := payment.Session{
		SessionID:     id,
		CheckoutURL:   "https://checkout.test/" + id,
		AmountCents:   req.AmountCents,
		Currency:      req.Currency,
		CustomerEmail: req.CustomerEmail,
		PaymentStatus: "unpaid",
		Metadata:      md,
	}
	g.sessions[id] = s
	return s, nil
}

// Pay marks a session paid under paymentRef.
func (g *Gateway) Pay(sessionID, paymentRef string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.sessions[sessionID]
	s.PaymentStatus = payment.PaymentStatusPaid
	s.PaymentReference = paymentRef
	g.sessions[sessionID] = s
}

// PutSession stores s as-is.
func (g *Gateway) PutSession(s payment.Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[s.SessionID] = s
}

func (g *Gateway) GetSession(_ context.Context, id string) (payment.Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.FailGet != nil {
		return payment.Session{}, g.FailGet
	}
	s, ok := g.sessions[id]
	if !ok {
		return payment.Session{}, apperr.NotFound("session %s", id)
	}
	return s, nil
}

func (g *Gateway) Refund(_ context.Context, req payment.RefundRequest) (payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.RefundCalls++
	if g.FailRefund != nil {
		return payment.Refund{}, g.FailRefund
	}
	if id, ok := g.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return g.refunds[id], nil
	}
	g.issued++
	st := g.RefundStatus
	if st == "" {
		st = payment.RefundSucceeded
	}
	var amount int64 = 10000
	if req.AmountCents != nil {
		amount = *req.AmountCents
	}
	r := payment.Refund{RefundID: fmt.Sprintf("re_%d", g.issued), Status: st, AmountCents: amount, Currency: "sgd"}
	g.refunds[r.RefundID] = r
	g.byKey[req.IdempotencyKey] = r.RefundID
	return r, nil
}

// Issued counts distinct refunds created.
func (g *Gateway) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.issued
}

// Sessions returns a copy of the stored sessions.
func (g *Gateway) Sessions() map[string]payment.Session {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]payment.Session, len(g.sessions))
	for k, v := range g.sessions {
		out[k] = v
	}
	return out
}

// SettleRefund changes the status of an existing refund.
func (g *Gateway) SettleRefund(id string, st payment.RefundStatus) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r := g.refunds[id]
	r.Status = st
	g.refunds[id] = r
}

func (g *Gateway) GetRefund(_ context.Context, id string) (payment.Refund, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.refunds[id]
	if !ok {
		return payment.Refund{}, apperr.NotFound("refund %s", id)
	}
	return r, nil
}
