package payment

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripeGateway("sk_test_123", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
}

func TestCreateSession(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "o-1", r.PostForm.Get("metadata[order_id]"))
		assert.Equal(t, "129900", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "sgd", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "purchase:o-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","object":"checkout.session","url":"https://checkout.test/cs_1","payment_status":"unpaid","amount_total":129900,"currency":"sgd","metadata":{"order_id":"o-1"}}`))
	})

	s, err := g.CreateSession(context.Background(), SessionRequest{
		AmountCents: 129900, Currency: "sgd", SuccessURL: "http://x/ok", CancelURL: "http://x/cancel",
		Metadata: map[string]string{"order_id": "o-1"}, IdempotencyKey: "purchase:o-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", s.SessionID)
	assert.Equal(t, "https://checkout.test/cs_1", s.CheckoutURL)
	assert.False(t, s.Paid())
}

func TestGetSessionPaid(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/checkout/sessions/cs_1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","object":"checkout.session","payment_status":"paid","payment_intent":"pi_123","amount_total":5000,"currency":"sgd","customer_details":{"email":"a@b.c"},"metadata":{"order_id":"o-1"}}`))
	})

	s, err := g.GetSession(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.True(t, s.Paid())
	assert.Equal(t, "pi_123", s.PaymentReference)
	assert.Equal(t, "a@b.c", s.CustomerEmail)
	assert.Equal(t, "o-1", s.Metadata["order_id"])
}

func TestGetSessionNotFound(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"No such checkout.session: cs_x"}}`))
	})

	_, err := g.GetSession(context.Background(), "cs_x")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestRefund(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/refunds", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "pi_123", r.PostForm.Get("payment_intent"))
		assert.Equal(t, "2500", r.PostForm.Get("amount"))
		assert.Equal(t, "requested_by_customer", r.PostForm.Get("reason"))
		assert.Equal(t, "REQ-1", r.Header.Get("Idempotency-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"re_1","object":"refund","status":"succeeded","amount":2500,"currency":"sgd"}`))
	})

	amount := int64(2500)
	r, err := g.Refund(context.Background(), RefundRequest{PaymentReference: "pi_123", AmountCents: &amount, IdempotencyKey: "REQ-1"})
	require.NoError(t, err)
	assert.Equal(t, RefundSucceeded, r.Status)
	assert.Equal(t, "re_1", r.RefundID)
}

func TestRefundErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		rejected  bool
		retryable bool
	}{
		{"already refunded", http.StatusBadRequest,
			`{"error":{"type":"invalid_request_error","code":"charge_already_refunded","message":"already refunded"}}`, true, false},
		{"rate limited", http.StatusTooManyRequests,
			`{"error":{"type":"invalid_request_error","code":"rate_limit","message":"slow down"}}`, false, true},
		{"concurrent idempotent request", http.StatusConflict,
			`{"error":{"type":"idempotency_error","message":"request in progress"}}`, false, true},
		{"provider down", http.StatusInternalServerError,
			`{"error":{"type":"api_error","message":"try again"}}`, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			_, err := g.Refund(context.Background(), RefundRequest{PaymentReference: "pi_123", IdempotencyKey: "REQ-2"})
			require.Error(t, err)
			assert.ErrorIs(t, err, apperr.ErrGateway)
			assert.Equal(t, tt.rejected, errors.Is(err, apperr.ErrGatewayRejected))
			assert.Equal(t, tt.retryable, apperr.Retryable(err))
		})
	}
}
