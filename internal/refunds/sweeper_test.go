package refunds_test

import (
	"context"
	"testing"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/ariefcatur/pcbuild-orders/internal/payment"
	"github.com/ariefcatur/pcbuild-orders/internal/refunds"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeperSettlesSubmittedRefunds(t *testing.T) {
	h := newHarness(t)
	h.seed("o-1", orders.StatusCompleted, day, "pi_1")
	h.gateway.RefundStatus = payment.RefundPending
	ctx := context.Background()

	out, err := h.coord.InitiateRefund(ctx, refunds.Request{RequestID: "r", PaymentReference: "pi_1"})
	require.NoError(t, err)
	require.Equal(t, refunds.StatusSubmitted, out.Status)

	s := refunds.NewSweeper(h.coord, 15*time.Minute, time.Minute, h.log)
	s.Sweep(ctx)
	assert.Equal(t, orders.StatusRefundPending, h.status(t, "o-1"))

	h.gateway.SettleRefund(out.RefundID, payment.RefundSucceeded)
	s.Sweep(ctx)
	assert.Equal(t, orders.StatusRefunded, h.status(t, "o-1"))
	rec, _ := h.coord.Lookup(ctx, "r")
	assert.Equal(t, refunds.StatusSucceeded, rec.Status)
	assert.Equal(t, 1, h.gateway.RefundCalls)
}

func TestSweeperRedrivesStaleRefunds(t *testing.T) {
	h := newHarness(t)
	h.seed("o-1", orders.StatusCompleted, day, "pi_1")
	ctx := context.Background()

	h.gateway.FailRefund = gatewayDown()
	_, err := h.coord.InitiateRefund(ctx, refunds.Request{RequestID: "r", PaymentReference: "pi_1", OrderID: "o-1"})
	require.Error(t, err)
	require.Equal(t, orders.StatusRefundPending, h.status(t, "o-1"))

	s := refunds.NewSweeper(h.coord, 15*time.Minute, time.Minute, h.log)
	assert.Zero(t, s.Sweep(ctx), "not stale yet")

	h.now = h.now.Add(20 * time.Minute)
	h.gateway.FailRefund = nil
	assert.Equal(t, 1, s.Sweep(ctx))
	assert.Equal(t, orders.StatusRefunded, h.status(t, "o-1"))
	assert.Zero(t, s.Sweep(ctx))
}

func TestSweeperRedrivesHolderNotLatestRequest(t *testing.T) {
	h := newHarness(t)
	h.seed("o-1", orders.StatusCompleted, day, "pi_1")
	ctx := context.Background()

	h.gateway.FailRefund = gatewayDown()
	_, err := h.coord.InitiateRefund(ctx, refunds.Request{RequestID: "REQ-A", PaymentReference: "pi_1", OrderID: "o-1"})
	require.Error(t, err)
	h.now = h.now.Add(time.Minute)
	_, err = h.coord.InitiateRefund(ctx, refunds.Request{RequestID: "REQ-B", PaymentReference: "pi_1", OrderID: "o-1"})
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	h.now = h.now.Add(20 * time.Minute)
	h.gateway.FailRefund = nil
	s := refunds.NewSweeper(h.coord, 15*time.Minute, time.Minute, h.log)
	assert.Equal(t, 1, s.Sweep(ctx))

	assert.Equal(t, orders.StatusRefunded, h.status(t, "o-1"))
	assert.Equal(t, 1, h.gateway.Issued())
	a, _ := h.coord.Lookup(ctx, "REQ-A")
	assert.Equal(t, refunds.StatusSucceeded, a.Status)
	b, _ := h.coord.Lookup(ctx, "REQ-B")
	assert.Equal(t, refunds.StatusFailed, b.Status)
}

func TestSweeperFlagsOrphanedRefundPending(t *testing.T) {
	h := newHarness(t)
	h.seed("o-1", orders.StatusRefundPending, time.Hour, "pi_1")

	s := refunds.NewSweeper(h.coord, 15*time.Minute, time.Minute, h.log)
	assert.Equal(t, 1, s.Sweep(context.Background()))
	assert.Equal(t, orders.StatusRefundPending, h.status(t, "o-1"))
	assert.Zero(t, h.gateway.RefundCalls)
}

func TestSweeperRunStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	s := refunds.NewSweeper(h.coord, time.Minute, 5*time.Millisecond, h.log)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
