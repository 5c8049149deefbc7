package orders

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the slice of pgxpool.Pool the repository needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository interface {
	Insert(ctx context.Context, o Order) (Order, bool, error)
	Get(ctx context.Context, orderID string) (Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (Order, error)
	GetByPaymentReference(ctx context.Context, ref string) (Order, error)
	Replace(ctx context.Context, o Order, expected Status) (bool, error)
	UpdateStatus(ctx context.Context, orderID string, from, to Status, at time.Time, paymentRef string) (bool, error)
	Delete(ctx context.Context, orderID string) error
	ListByCustomer(ctx context.Context, customerID string) ([]Order, error)
	ListAll(ctx context.Context) ([]Order, error)
	ListByStatusBefore(ctx context.Context, status Status, before time.Time) ([]Order, error)
}

type Repo struct{ DB DBTX }

const orderColumns = `order_id, customer_id, parts_list, status, ts, created_at,
	COALESCE(payment_reference, ''), COALESCE(idempotency_key, ''), COALESCE(amount_cents, 0), COALESCE(currency, '')`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	err := row.Scan(&o.OrderID, &o.CustomerID, &o.PartsList, &status, &o.Timestamp, &o.CreatedAt,
		&o.PaymentReference, &o.IdempotencyKey, &o.AmountCents, &o.Currency)
	o.Status = Status(status)
	return o, err
}

// Insert is idempotent via idempotency_key: a second insert with the same key
// returns the stored order and created=false.
func (r *Repo) Insert(ctx context.Context, o Order) (Order, bool, error) {
	row := r.DB.QueryRow(ctx, `
		INSERT INTO orders(order_id, customer_id, parts_list, status, ts, created_at, payment_reference, idempotency_key, amount_cents, currency)
		VALUES ($1, $2, $3, $4, $5, $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8::bigint, 0), NULLIF($9, ''))
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING `+orderColumns,
		o.OrderID, o.CustomerID, o.PartsList, string(o.Status), o.Timestamp, o.PaymentReference, o.IdempotencyKey,
		o.AmountCents, o.Currency)
	out, err := scanOrder(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || o.IdempotencyKey == "" {
		return Order{}, false, apperr.Store(err, "insert order")
	}
	// conflict: the key was already used
	existing, err := r.GetByIdempotencyKey(ctx, o.IdempotencyKey)
	if err != nil {
		return Order{}, false, err
	}
	return existing, false, nil
}

func (r *Repo) getOne(ctx context.Context, where string, arg any) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, apperr.NotFound("order %v", arg)
	}
	if err != nil {
		return Order{}, apperr.Store(err, "get order")
	}
	return o, nil
}

func (r *Repo) Get(ctx context.Context, orderID string) (Order, error) {
	return r.getOne(ctx, `order_id=$1`, orderID)
}

func (r *Repo) GetByIdempotencyKey(ctx context.Context, key string) (Order, error) {
	return r.getOne(ctx, `idempotency_key=$1`, key)
}

func (r *Repo) GetByPaymentReference(ctx context.Context, ref string) (Order, error) {
	return r.getOne(ctx, `payment_reference=$1`, ref)
}

// Replace overwrites customer_id, parts_list and ts as long as the stored status is still expected.
func (r *Repo) Replace(ctx context.Context, o Order, expected Status) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET customer_id=$2, parts_list=$3, ts=$4
		WHERE order_id=$1 AND status=$5`,
		o.OrderID, o.CustomerID, o.PartsList, o.Timestamp, string(expected))
	if err != nil {
		return false, apperr.Store(err, "replace order")
	}
	return tag.RowsAffected() == 1, nil
}

// UpdateStatus is a compare-and-set on status. It reports false when the
// stored status no longer equals from.
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, from, to Status, at time.Time, paymentRef string) (bool, error) {
	tag, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$3, ts=$4, payment_reference=COALESCE(NULLIF($5, ''), payment_reference)
		WHERE order_id=$1 AND status=$2`,
		orderID, string(from), string(to), at, paymentRef)
	if err != nil {
		return false, apperr.Store(err, "update order status")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repo) Delete(ctx context.Context, orderID string) error {
	tag, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE order_id=$1`, orderID)
	if err != nil {
		return apperr.Store(err, "delete order")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order %s", orderID)
	}
	return nil
}

func (r *Repo) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.DB.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Store(err, "list orders")
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, apperr.Store(err, "scan order")
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err, "list orders")
	}
	return out, nil
}

func (r *Repo) ListByCustomer(ctx context.Context, customerID string) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE customer_id=$1 ORDER BY ts DESC`, customerID)
}

func (r *Repo) ListAll(ctx context.Context) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY ts DESC`)
}

func (r *Repo) ListByStatusBefore(ctx context.Context, status Status, before time.Time) ([]Order, error) {
	return r.list(ctx, `SELECT `+orderColumns+` FROM orders WHERE status=$1 AND ts < $2 ORDER BY ts`, string(status), before)
}
