package delivery_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/delivery"
	"github.com/ariefcatur/pcbuild-orders/internal/delivery/deliverytest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newService() (*delivery.Service, *deliverytest.Store) {
	store := deliverytest.NewStore()
	now := func() time.Time { return time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC) }
	return delivery.NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)), now), store
}

func strp(s string) *string { return &s }

func TestCreateDelivery(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()

	d, err := svc.CreateDelivery(ctx, " 1 Main St ", "a@b.c")
	require.NoError(t, err)
	assert.NotEmpty(t, d.DeliveryID)
	assert.Equal(t, "1 Main St", d.CustomerAddress)
	assert.False(t, d.Timestamp.IsZero())

	_, err = svc.CreateDelivery(ctx, "", "a@b.c")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = svc.CreateDelivery(ctx, "1 Main St", "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestEnsureForOrderOnce(t *testing.T) {
	svc, store := newService()
	ctx := context.Background()

	first, created, err := svc.EnsureForOrder(ctx, "o-1", "1 Main St", "a@b.c")
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := svc.EnsureForOrder(ctx, "o-1", "1 Main St", "a@b.c")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.DeliveryID, again.DeliveryID)
	assert.Equal(t, 1, store.Len())

	_, _, err = svc.EnsureForOrder(ctx, "", "1 Main St", "a@b.c")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestUpdateDelivery(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	d, err := svc.CreateDelivery(ctx, "1 Main St", "a@b.c")
	require.NoError(t, err)

	_, err = svc.UpdateDelivery(ctx, d.DeliveryID, delivery.Patch{})
	assert.ErrorIs(t, err, apperr.ErrValidation)

	got, err := svc.UpdateDelivery(ctx, d.DeliveryID, delivery.Patch{CustomerEmail: strp("x@y.z")})
	require.NoError(t, err)
	assert.Equal(t, "x@y.z", got.CustomerEmail)
	assert.Equal(t, "1 Main St", got.CustomerAddress)

	_, err = svc.UpdateDelivery(ctx, "missing", delivery.Patch{CustomerEmail: strp("x@y.z")})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestDeleteDelivery(t *testing.T) {
	svc, _ := newService()
	ctx := context.Background()
	d, _ := svc.CreateDelivery(ctx, "1 Main St", "a@b.c")

	require.NoError(t, svc.DeleteDelivery(ctx, d.DeliveryID))
	_, err := svc.GetDelivery(ctx, d.DeliveryID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
