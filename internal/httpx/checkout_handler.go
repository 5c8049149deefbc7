package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/checkout"
	"github.com/go-chi/chi/v5"
)

type CheckoutHandler struct {
	Coordinator *checkout.Coordinator
	Timeout     time.Duration
}

type createSessionReq struct {
	OrderID       string            `json:"order_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
	SuccessURL    string            `json:"success_url"`
	CancelURL     string            `json:"cancel_url"`
}

type createSessionResp struct {
	Code        int    `json:"code"`
	SessionID   string `json:"session_id"`
	CheckoutURL string `json:"checkout_url"`
	URL         string `json:"url"`
}

type initialPurchaseReq struct {
	RecommendationID string `json:"recommendation_id"`
	CustomerID       string `json:"customer_id"`
}

type finalPurchaseReq struct {
	SessionID string `json:"session_id"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/create-checkout-session", h.createSession)
	r.Get("/checkout-session", h.getSession)
	r.Post("/initial_purchase", h.initialPurchase)
	r.Post("/final_purchase", h.finalPurchase)
}

func (h *CheckoutHandler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	s, err := h.Coordinator.CreateCheckoutSession(ctx, checkout.SessionInput{
		OrderID:        req.OrderID,
		AmountCents:    req.Amount,
		Currency:       req.Currency,
		CustomerEmail:  req.CustomerEmail,
		Metadata:       req.Metadata,
		SuccessURL:     req.SuccessURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, createSessionResp{Code: http.StatusOK, SessionID: s.SessionID, CheckoutURL: s.CheckoutURL, URL: s.CheckoutURL})
}

func (h *CheckoutHandler) getSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	s, err := h.Coordinator.GetSession(ctx, r.URL.Query().Get("session_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, s)
}

func (h *CheckoutHandler) initialPurchase(w http.ResponseWriter, r *http.Request) {
	var req initialPurchaseReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	res, err := h.Coordinator.InitialPurchase(ctx, req.RecommendationID, req.CustomerID, r.Header.Get("Idempotency-Key"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}

func (h *CheckoutHandler) finalPurchase(w http.ResponseWriter, r *http.Request) {
	var req finalPurchaseReq
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	res, err := h.Coordinator.FinalizeOrder(ctx, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, res)
}
