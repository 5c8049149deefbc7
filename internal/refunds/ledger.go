package refunds

import (
	"context"
	"errors"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Status string

const (
	StatusQueued    Status = "queued"
	StatusPending   Status = "pending"
	StatusSubmitted Status = "submitted"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Request is one refund ask. RequestID is the client's correlation token and
// doubles as the gateway idempotency key.
type Request struct {
	RequestID        string `json:"request_id"`
	PaymentReference string `json:"payment_intent_id"`
	OrderID          string `json:"order_id,omitempty"`
	AmountCents      *int64 `json:"amount,omitempty"`
	Reason           string `json:"reason,omitempty"`
}

func (r Request) Validate() error {
	if r.RequestID == "" {
		return apperr.Validation("request_id is required")
	}
	if r.PaymentReference == "" {
		return apperr.Validation("payment_intent_id is required")
	}
	if r.AmountCents != nil && *r.AmountCents <= 0 {
		return apperr.Validation("amount must be positive")
	}
	return nil
}

// Record is the durable outcome of a refund request.
type Record struct {
	RequestID        string `json:"request_id"`
	PaymentReference string `json:"payment_intent_id"`
	OrderID          string `json:"order_id,omitempty"`
	AmountCents      *int64 `json:"amount,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Status           Status `json:"status"`
	RefundID         string `json:"refund_id,omitempty"`
	Error            string `json:"error,omitempty"`
	// HoldsOrder marks the one request that moved OrderID into refund_pending.
	HoldsOrder bool      `json:"holds_order,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (r Record) Request() Request {
	return Request{
		RequestID:        r.RequestID,
		PaymentReference: r.PaymentReference,
		OrderID:          r.OrderID,
		AmountCents:      r.AmountCents,
		Reason:           r.Reason,
	}
}

const uniqueViolation = "23505"

type Ledger interface {
	// Create stores rec unless request_id is known; then it returns the
	// stored record and created=false.
	Create(ctx context.Context, rec Record) (Record, bool, error)
	Get(ctx context.Context, requestID string) (Record, error)
	Update(ctx context.Context, rec Record) error
	ListByStatus(ctx context.Context, st Status) ([]Record, error)
	// HolderOf returns the request holding orderID in refund_pending.
	HolderOf(ctx context.Context, orderID string) (Record, error)
}

// PGLedger keeps records in the refund_requests table.
type PGLedger struct{ DB orders.DBTX }

const recordColumns = `request_id, payment_reference, COALESCE(order_id, ''), amount_cents, COALESCE(reason, ''),
	status, COALESCE(refund_id, ''), COALESCE(error, ''), holds_order, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var r Record
	var st string
	err := row.Scan(&r.RequestID, &r.PaymentReference, &r.OrderID, &r.AmountCents, &r.Reason,
		&st, &r.RefundID, &r.Error, &r.HoldsOrder, &r.CreatedAt, &r.UpdatedAt)
	r.Status = Status(st)
	return r, err
}

func (l *PGLedger) Create(ctx context.Context, rec Record) (Record, bool, error) {
	row := l.DB.QueryRow(ctx, `
		INSERT INTO refund_requests(request_id, payment_reference, order_id, amount_cents, reason, status, created_at, updated_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, NULLIF($5, ''), $6, $7, $7)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING `+recordColumns,
		rec.RequestID, rec.PaymentReference, rec.OrderID, rec.AmountCents, rec.Reason, string(rec.Status), rec.CreatedAt)
	out, err := scanRecord(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, apperr.Store(err, "insert refund request")
	}
	existing, err := l.Get(ctx, rec.RequestID)
	if err != nil {
		return Record{}, false, err
	}
	return existing, false, nil
}

func (l *PGLedger) Get(ctx context.Context, requestID string) (Record, error) {
	r, err := scanRecord(l.DB.QueryRow(ctx, `SELECT `+recordColumns+` FROM refund_requests WHERE request_id=$1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, apperr.NotFound("refund request %s", requestID)
	}
	if err != nil {
		return Record{}, apperr.Store(err, "get refund request")
	}
	return r, nil
}

func (l *PGLedger) Update(ctx context.Context, rec Record) error {
	tag, err := l.DB.Exec(ctx, `
		UPDATE refund_requests
		SET order_id=NULLIF($2, ''), amount_cents=$3, status=$4, refund_id=NULLIF($5, ''), error=NULLIF($6, ''),
			holds_order=$7, updated_at=$8
		WHERE request_id=$1`,
		rec.RequestID, rec.OrderID, rec.AmountCents, string(rec.Status), rec.RefundID, rec.Error, rec.HoldsOrder, rec.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return apperr.New(apperr.ErrConflict, "order %s already has a refund in progress", rec.OrderID)
	}
	if err != nil {
		return apperr.Store(err, "update refund request")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("refund request %s", rec.RequestID)
	}
	return nil
}

func (l *PGLedger) ListByStatus(ctx context.Context, st Status) ([]Record, error) {
	rows, err := l.DB.Query(ctx, `SELECT `+recordColumns+` FROM refund_requests WHERE status=$1 ORDER BY updated_at`, string(st))
	if err != nil {
		return nil, apperr.Store(err, "list refund requests")
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.Store(err, "scan refund request")
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(err, "list refund requests")
	}
	return out, nil
}

func (l *PGLedger) HolderOf(ctx context.Context, orderID string) (Record, error) {
	r, err := scanRecord(l.DB.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM refund_requests WHERE order_id=$1 AND holds_order`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, apperr.NotFound("refund request holding order %s", orderID)
	}
	if err != nil {
		return Record{}, apperr.Store(err, "get refund request")
	}
	return r, nil
}
