package httpx

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/checkout"
	"github.com/ariefcatur/pcbuild-orders/internal/refunds"
	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

// Stripe caps event payloads well below this.
const maxWebhookBody = 1 << 16

// WebhookHandler receives signed Stripe events and drives the same
// operations the redirect endpoints do, so a buyer who never comes back
// still gets their order finalized.
type WebhookHandler struct {
	Secret   string
	Checkout *checkout.Coordinator
	Refunds  *refunds.Coordinator
	Log      *slog.Logger
	Timeout  time.Duration
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhook", h.receive)
}

func (h *WebhookHandler) receive(w http.ResponseWriter, r *http.Request) {
	if h.Secret == "" {
		writeError(w, apperr.New(apperr.ErrBroker, "webhook secret not configured"))
		return
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, apperr.Validation("read webhook body: %v", err))
		return
	}
	// only ids and metadata are read from the event, any api version carries them
	ev, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), h.Secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		h.Log.WarnContext(r.Context(), "webhook rejected", "err", err)
		writeError(w, apperr.Validation("webhook signature: %v", err))
		return
	}

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	err = h.dispatch(ctx, ev)
	switch {
	case err == nil:
	case apperr.Retryable(err):
		// non-2xx makes Stripe deliver the event again
		h.Log.WarnContext(ctx, "webhook event failed, awaiting redelivery", "event_id", ev.ID, "type", ev.Type, "err", err)
		writeError(w, err)
		return
	default:
		h.Log.WarnContext(ctx, "webhook event not applied", "event_id", ev.ID, "type", ev.Type, "err", err)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *WebhookHandler) dispatch(ctx context.Context, ev stripe.Event) error {
	if ev.Data == nil {
		return apperr.Validation("event %s has no data", ev.ID)
	}
	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return apperr.Validation("decode checkout session: %v", err)
		}
		res, err := h.Checkout.FinalizeOrder(ctx, s.ID)
		if err != nil {
			return err
		}
		h.Log.InfoContext(ctx, "order finalized from webhook", "event_id", ev.ID, "session_id", s.ID,
			"order_id", res.Order.OrderID, "already_finalized", res.AlreadyFinalized)
		return nil

	case stripe.EventTypeChargeRefundUpdated, stripe.EventTypeRefundUpdated:
		var rf stripe.Refund
		if err := json.Unmarshal(ev.Data.Raw, &rf); err != nil {
			return apperr.Validation("decode refund: %v", err)
		}
		requestID := rf.Metadata["request_id"]
		if requestID == "" {
			// issued outside this service
			return apperr.Validation("refund %s carries no request_id", rf.ID)
		}
		out, err := h.Refunds.SettleRefund(ctx, requestID, rf.ID)
		if err != nil {
			return err
		}
		h.Log.InfoContext(ctx, "refund updated from webhook", "event_id", ev.ID, "request_id", requestID, "status", out.Status)
		return nil
	}
	return nil
}
