package orders

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var orderCols = []string{"order_id", "customer_id", "parts_list", "status", "ts", "created_at", "payment_reference", "idempotency_key", "amount_cents", "currency"}

func newMockRepo(t *testing.T) (*Repo, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &Repo{DB: mock}, mock
}

func TestRepoInsertCreates(t *testing.T) {
	repo, mock := newMockRepo(t)
	ts := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	cust := strings.Repeat("C", 36)
	o := Order{OrderID: "o-1", CustomerID: cust, PartsList: []int64{101, 201}, Status: StatusPending, Timestamp: ts, IdempotencyKey: "k-1",
		AmountCents: 129949, Currency: "sgd"}

	mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs("o-1", cust, []int64{101, 201}, "pending", ts, "", "k-1", int64(129949), "sgd").
		WillReturnRows(pgxmock.NewRows(orderCols).AddRow("o-1", cust, []int64{101, 201}, "pending", ts, ts, "", "k-1", int64(129949), "sgd"))

	got, created, err := repo.Insert(context.Background(), o)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, []int64{101, 201}, got.PartsList)
	assert.True(t, got.Charges(129949, "SGD"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoInsertConflictReturnsExisting(t *testing.T) {
	repo, mock := newMockRepo(t)
	ts := time.Date(2026, 10, 1, 10, 0, 0, 0, time.UTC)
	cust := strings.Repeat("C", 36)

	mock.ExpectQuery(`INSERT INTO orders`).
		WithArgs("o-2", cust, []int64{101}, "pending", ts, "", "k-1", int64(0), "").
		WillReturnRows(pgxmock.NewRows(orderCols))
	mock.ExpectQuery(`SELECT .* FROM orders WHERE idempotency_key=\$1`).
		WithArgs("k-1").
		WillReturnRows(pgxmock.NewRows(orderCols).AddRow("o-1", cust, []int64{101}, "pending", ts, ts, "", "k-1", int64(0), ""))

	got, created, err := repo.Insert(context.Background(), Order{
		OrderID: "o-2", CustomerID: cust, PartsList: []int64{101}, Status: StatusPending, Timestamp: ts, IdempotencyKey: "k-1",
	})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "o-1", got.OrderID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoGetNotFound(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .* FROM orders WHERE order_id=\$1`).
		WithArgs("missing").
		WillReturnRows(pgxmock.NewRows(orderCols))

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepoGetStoreError(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectQuery(`SELECT .* FROM orders WHERE order_id=\$1`).
		WithArgs("o-1").
		WillReturnError(errors.New("connection reset"))

	_, err := repo.Get(context.Background(), "o-1")
	assert.ErrorIs(t, err, apperr.ErrStore)
}

func TestRepoUpdateStatusCompareAndSet(t *testing.T) {
	repo, mock := newMockRepo(t)
	at := time.Date(2026, 10, 2, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE orders SET status=\$3`).
		WithArgs("o-1", "pending", "completed", at, "pi_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE orders SET status=\$3`).
		WithArgs("o-1", "pending", "completed", at, "pi_1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.UpdateStatus(context.Background(), "o-1", StatusPending, StatusCompleted, at, "pi_1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.UpdateStatus(context.Background(), "o-1", StatusPending, StatusCompleted, at, "pi_1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepoDeleteMissing(t *testing.T) {
	repo, mock := newMockRepo(t)
	mock.ExpectExec(`DELETE FROM orders`).WithArgs("o-9").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	err := repo.Delete(context.Background(), "o-9")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRepoListByCustomer(t *testing.T) {
	repo, mock := newMockRepo(t)
	cust := strings.Repeat("C", 36)
	newer := time.Date(2026, 10, 3, 0, 0, 0, 0, time.UTC)
	older := newer.Add(-48 * time.Hour)

	mock.ExpectQuery(`SELECT .* FROM orders WHERE customer_id=\$1 ORDER BY ts DESC`).
		WithArgs(cust).
		WillReturnRows(pgxmock.NewRows(orderCols).
			AddRow("o-2", cust, []int64{7}, "completed", newer, older, "pi_2", "", int64(700), "sgd").
			AddRow("o-1", cust, []int64{5}, "pending", older, older, "", "", int64(0), ""))

	got, err := repo.ListByCustomer(context.Background(), cust)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "o-2", got[0].OrderID)
	assert.Equal(t, "pi_2", got[0].PaymentReference)
	assert.NoError(t, mock.ExpectationsWereMet())
}
