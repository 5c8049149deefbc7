package payment

import "context"

// Gateway is the payment provider capability the saga depends on.
type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (Session, error)
	GetSession(ctx context.Context, sessionID string) (Session, error)
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
	GetRefund(ctx context.Context, refundID string) (Refund, error)
}

type SessionRequest struct {
	AmountCents   int64
	Currency      string
	ProductName   string
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
	// IdempotencyKey is forwarded to the provider when set.
	IdempotencyKey string
}

type Session struct {
	SessionID        string            `json:"session_id"`
	CheckoutURL      string            `json:"checkout_url,omitempty"`
	PaymentReference string            `json:"payment_intent,omitempty"`
	AmountCents      int64             `json:"amount_total"`
	Currency         string            `json:"currency"`
	CustomerEmail    string            `json:"customer_email,omitempty"`
	PaymentStatus    string            `json:"payment_status"`
	Metadata         map[string]string `json:"metadata,omitempty"`
}

const PaymentStatusPaid = "paid"

func (s Session) Paid() bool { return s.PaymentStatus == PaymentStatusPaid }

type RefundRequest struct {
	PaymentReference string
	// AmountCents nil means a full refund of the original charge.
	AmountCents    *int64
	Reason         string
	IdempotencyKey string
	Metadata       map[string]string
}

type RefundStatus string

const (
	RefundSucceeded RefundStatus = "succeeded"
	RefundPending   RefundStatus = "pending"
	RefundFailed    RefundStatus = "failed"
	RefundCanceled  RefundStatus = "canceled"
)

type Refund struct {
	RefundID    string       `json:"refund_id"`
	Status      RefundStatus `json:"status"`
	AmountCents int64        `json:"amount"`
	Currency    string       `json:"currency"`
}

const ReasonRequestedByCustomer = "requested_by_customer"
