package orders_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/ariefcatur/pcbuild-orders/internal/orders/ordertest"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var customer = strings.Repeat("C", 36)

type clock struct{ t time.Time }

func (c *clock) Now() time.Time { return c.t }

func newService(t *testing.T) (*orders.Service, *ordertest.Repo, *clock) {
	t.Helper()
	repo := ordertest.NewRepo()
	clk := &clock{t: time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)}
	n := 0
	svc := orders.NewService(repo, slog.New(slog.NewTextHandler(io.Discard, nil)),
		orders.WithClock(clk.Now),
		orders.WithIDGenerator(func() string { n++; return fmt.Sprintf("o-%d", n) }),
	)
	return svc, repo, clk
}

func TestCreateOrderStartsPending(t *testing.T) {
	svc, _, clk := newService(t)

	o, created, err := svc.CreateOrder(context.Background(), customer, []int64{101, 201, 301}, "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, clk.t, o.Timestamp)
	assert.NotEmpty(t, o.OrderID)

	o2, _, err := svc.CreateOrder(context.Background(), customer, []int64{101}, "")
	require.NoError(t, err)
	assert.NotEqual(t, o.OrderID, o2.OrderID)
}

func TestCreateOrderValidation(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	_, _, err := svc.CreateOrder(ctx, "abc", []int64{1}, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, _, err = svc.CreateOrder(ctx, customer, nil, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, repo.Inserts)
}

func TestCreateOrderIdempotent(t *testing.T) {
	svc, repo, _ := newService(t)
	ctx := context.Background()

	first, created, err := svc.CreateOrder(ctx, customer, []int64{101}, "msg-1")
	require.NoError(t, err)
	require.True(t, created)

	again, created, err := svc.CreateOrder(ctx, customer, []int64{101}, "msg-1")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.OrderID, again.OrderID)
	assert.Equal(t, 1, repo.Inserts)
}

func TestIllegalTransitionLeavesStatus(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	o, _, err := svc.CreateOrder(ctx, customer, []int64{1}, "")
	require.NoError(t, err)

	_, err = svc.Transition(ctx, o.OrderID, orders.StatusRefunded)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	got, err := svc.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, got.Status)
}

func TestTransitionUpdatesTimestamp(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	o, _, _ := svc.CreateOrder(ctx, customer, []int64{1}, "")

	clk.t = clk.t.Add(time.Hour)
	got, err := svc.Transition(ctx, o.OrderID, orders.StatusProcessing)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusProcessing, got.Status)
	assert.Equal(t, clk.t, got.Timestamp)

	_, err = svc.Transition(ctx, o.OrderID, orders.Status("shipped"))
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCompleteOrderIsIdempotent(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	o, _, _ := svc.CreateOrder(ctx, customer, []int64{1}, "")

	done, changed, err := svc.CompleteOrder(ctx, o.OrderID, "pi_1")
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, orders.StatusCompleted, done.Status)
	assert.Equal(t, "pi_1", done.PaymentReference)

	again, changed, err := svc.CompleteOrder(ctx, o.OrderID, "pi_1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, orders.StatusCompleted, again.Status)

	byRef, err := svc.FindByPaymentReference(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, byRef.OrderID)
}

func TestRefundTransitions(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	o, _, _ := svc.CreateOrder(ctx, customer, []int64{1}, "")

	_, _, err := svc.MarkRefundPending(ctx, o.OrderID)
	assert.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, _, err = svc.CompleteOrder(ctx, o.OrderID, "pi_1")
	require.NoError(t, err)

	_, changed, err := svc.MarkRefundPending(ctx, o.OrderID)
	require.NoError(t, err)
	assert.True(t, changed)
	_, changed, err = svc.MarkRefundPending(ctx, o.OrderID)
	require.NoError(t, err)
	assert.False(t, changed)

	got, changed, err := svc.MarkRefunded(ctx, o.OrderID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, orders.StatusRefunded, got.Status)

	// finalize replays after refund must not rewind anything
	got, changed, err = svc.CompleteOrder(ctx, o.OrderID, "pi_1")
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, orders.StatusRefunded, got.Status)
}

func TestUpdateOrder(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	o, _, _ := svc.CreateOrder(ctx, customer, []int64{1, 2}, "")

	other := strings.Repeat("D", 36)
	clk.t = clk.t.Add(time.Minute)
	got, err := svc.UpdateOrder(ctx, o.OrderID, orders.Update{CustomerID: other, PartsList: []int64{3}})
	require.NoError(t, err)
	assert.Equal(t, other, got.CustomerID)
	assert.Equal(t, []int64{3}, got.PartsList)
	assert.Equal(t, clk.t, got.Timestamp)
	assert.Equal(t, orders.StatusPending, got.Status)

	_, _, err = svc.CompleteOrder(ctx, o.OrderID, "pi_1")
	require.NoError(t, err)
	_, err = svc.UpdateOrder(ctx, o.OrderID, orders.Update{CustomerID: other, PartsList: []int64{4}})
	assert.ErrorIs(t, err, apperr.ErrConflict)

	// same parts, corrected customer is still allowed
	_, err = svc.UpdateOrder(ctx, o.OrderID, orders.Update{CustomerID: customer, PartsList: []int64{3}})
	assert.NoError(t, err)

	_, err = svc.UpdateOrder(ctx, "missing", orders.Update{CustomerID: customer, PartsList: []int64{3}})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteAndList(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()
	a, _, _ := svc.CreateOrder(ctx, customer, []int64{1}, "")
	clk.t = clk.t.Add(time.Hour)
	b, _, _ := svc.CreateOrder(ctx, customer, []int64{2}, "")

	list, err := svc.ListOrdersByCustomer(ctx, customer)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, b.OrderID, list[0].OrderID)

	require.NoError(t, svc.DeleteOrder(ctx, a.OrderID))
	_, err = svc.GetOrder(ctx, a.OrderID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, svc.DeleteOrder(ctx, a.OrderID), apperr.ErrNotFound)
}

func TestStaleRefunds(t *testing.T) {
	svc, repo, clk := newService(t)
	ctx := context.Background()
	repo.Seed(orders.Order{OrderID: "old", CustomerID: customer, PartsList: []int64{1}, Status: orders.StatusRefundPending, Timestamp: clk.t.Add(-time.Hour)})
	repo.Seed(orders.Order{OrderID: "fresh", CustomerID: customer, PartsList: []int64{1}, Status: orders.StatusRefundPending, Timestamp: clk.t.Add(-time.Minute)})
	repo.Seed(orders.Order{OrderID: "done", CustomerID: customer, PartsList: []int64{1}, Status: orders.StatusRefunded, Timestamp: clk.t.Add(-time.Hour)})

	stale, err := svc.StaleRefunds(ctx, 15*time.Minute)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "old", stale[0].OrderID)
}

func TestCurrentOrderSkipsStaleCache(t *testing.T) {
	repo := ordertest.NewRepo()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := orders.NewService(repo, log, orders.WithCache(&orders.RedisCache{RDB: rdb}))
	ctx := context.Background()

	o, _, err := svc.CreateOrder(ctx, customer, []int64{1}, "")
	require.NoError(t, err)
	_, err = svc.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	o.Status = orders.StatusCompleted
	repo.Seed(o)

	cached, err := svc.GetOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPending, cached.Status)
	cur, err := svc.CurrentOrder(ctx, o.OrderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCompleted, cur.Status)

	_, err = svc.CurrentOrder(ctx, "")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}
