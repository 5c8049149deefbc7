package httpx

import (
	"net/http"
	"time"

	"github.com/ariefcatur/pcbuild-orders/internal/apperr"
	"github.com/ariefcatur/pcbuild-orders/internal/refunds"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type RefundHandler struct {
	Coordinator *refunds.Coordinator
	Timeout     time.Duration
}

type refundResp struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Data      any    `json:"data,omitempty"`
}

func (h *RefundHandler) Register(r chi.Router) {
	r.Post("/refund", h.refund)
	r.Post("/refund-async", h.refundAsync)
	r.Get("/refund-status/{request_id}", h.status)
}

// requestID picks the caller's token: Idempotency-Key header, then body, then a fresh one.
func requestID(r *http.Request, req *refunds.Request) {
	if k := r.Header.Get("Idempotency-Key"); k != "" && req.RequestID == "" {
		req.RequestID = k
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
}

func (h *RefundHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req refunds.Request
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	requestID(r, &req)

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	out, err := h.Coordinator.InitiateRefund(ctx, req)
	if err != nil {
		writeJSON(w, apperr.HTTPStatus(err), refundResp{Success: false, Message: err.Error(), RequestID: req.RequestID})
		return
	}
	msg := "refund succeeded"
	if !out.Settled() {
		msg = "refund submitted, awaiting confirmation"
	}
	writeJSON(w, http.StatusOK, refundResp{Success: true, Message: msg, RequestID: req.RequestID, Data: out})
}

func (h *RefundHandler) refundAsync(w http.ResponseWriter, r *http.Request) {
	var req refunds.Request
	if err := decode(r, &req, false); err != nil {
		writeError(w, err)
		return
	}
	requestID(r, &req)

	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	rec, err := h.Coordinator.Enqueue(ctx, req)
	if err != nil {
		writeJSON(w, apperr.HTTPStatus(err), refundResp{Success: false, Message: err.Error(), RequestID: req.RequestID})
		return
	}
	writeJSON(w, http.StatusAccepted, refundResp{Success: true, RequestID: rec.RequestID, Data: rec})
}

func (h *RefundHandler) status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := withTimeout(r, h.Timeout)
	defer cancel()

	rec, err := h.Coordinator.Lookup(ctx, chi.URLParam(r, "request_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeData(w, http.StatusOK, rec)
}
