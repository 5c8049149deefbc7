package delivery

import (
	"context"
	"database/sql"
	"errors"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/lib/pq"
)

type Store interface {
	Insert(ctx context.Context, d Delivery) (Delivery, bool, error)
	Get(ctx context.Context, deliveryID string) (Delivery, error)
	GetByOrder(ctx context.Context, orderID string) (Delivery, error)
	Update(ctx context.Context, deliveryID string, p Patch) (Delivery, error)
	Delete(ctx context.Context, deliveryID string) error
}

// Open connects to Postgres through lib/pq.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(8)
	return db, nil
}

type SQLStore struct{ DB *sql.DB }

const deliveryColumns = `delivery_id, COALESCE(order_id, ''), customer_address, customer_email, ts`

type scanner interface{ Scan(dest ...any) error }

func scanDelivery(row scanner) (Delivery, error) {
	var d Delivery
	err := row.Scan(&d.DeliveryID, &d.OrderID, &d.CustomerAddress, &d.CustomerEmail, &d.Timestamp)
	return d, err
}

func storeErr(err error, op string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return apperr.Wrap(apperr.ErrConflict, err, "%s", op)
	}
	return apperr.Store(err, op)
}

// Insert is idempotent per order_id: a second delivery for the same order
// returns the first one with created=false.
func (s *SQLStore) Insert(ctx context.Context, d Delivery) (Delivery, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO deliveries(delivery_id, order_id, customer_address, customer_email, ts)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING `+deliveryColumns,
		d.DeliveryID, d.OrderID, d.CustomerAddress, d.CustomerEmail, d.Timestamp)
	out, err := scanDelivery(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) || d.OrderID == "" {
		return Delivery{}, false, storeErr(err, "insert delivery")
	}
	existing, err := s.GetByOrder(ctx, d.OrderID)
	if err != nil {
		return Delivery{}, false, err
	}
	return existing, false, nil
}

func (s *SQLStore) getOne(ctx context.Context, where string, arg string) (Delivery, error) {
	d, err := scanDelivery(s.DB.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM deliveries WHERE `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return Delivery{}, apperr.NotFound("delivery %s", arg)
	}
	if err != nil {
		return Delivery{}, storeErr(err, "get delivery")
	}
	return d, nil
}

func (s *SQLStore) Get(ctx context.Context, deliveryID string) (Delivery, error) {
	return s.getOne(ctx, `delivery_id=$1`, deliveryID)
}

func (s *SQLStore) GetByOrder(ctx context.Context, orderID string) (Delivery, error) {
	return s.getOne(ctx, `order_id=$1`, orderID)
}

func nullable(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func (s *SQLStore) Update(ctx context.Context, deliveryID string, p Patch) (Delivery, error) {
	d, err := scanDelivery(s.DB.QueryRowContext(ctx, `
		UPDATE deliveries
		SET customer_address=COALESCE($2, customer_address), customer_email=COALESCE($3, customer_email)
		WHERE delivery_id=$1
		RETURNING `+deliveryColumns,
		deliveryID, nullable(p.CustomerAddress), nullable(p.CustomerEmail)))
	if errors.Is(err, sql.ErrNoRows) {
		return Delivery{}, apperr.NotFound("delivery %s", deliveryID)
	}
	if err != nil {
		return Delivery{}, storeErr(err, "update delivery")
	}
	return d, nil
}

func (s *SQLStore) Delete(ctx context.Context, deliveryID string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM deliveries WHERE delivery_id=$1`, deliveryID)
	if err != nil {
		return storeErr(err, "delete delivery")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("delivery %s", deliveryID)
	}
	return nil
}
